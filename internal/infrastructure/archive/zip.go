// Package archive opens base64 zip archives and exposes their entries for
// text decoding.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"repo-source-web/pkg/config"
	"repo-source-web/pkg/logger"

	"go.uber.org/zap"
)

var (
	ErrInvalidArchive  = errors.New("invalid archive")
	ErrArchiveTooLarge = errors.New("archive exceeds upload limit")
	ErrFileTooLarge    = errors.New("file exceeds size limit")
	ErrNotText         = errors.New("content is not text")
	ErrIsDirectory     = errors.New("entry is a directory")
)

// DuplicateEntryError reports two archive members stored under the same name.
type DuplicateEntryError struct {
	Path string
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("duplicate archive entry %q", e.Path)
}

// Entry is one archive member.
type Entry interface {
	IsDirectory() bool
	// ReadText decodes the member as text. Directories return ErrIsDirectory.
	ReadText(ctx context.Context) (string, error)
}

// Decoder turns a base64 archive blob into its entries keyed by raw path.
type Decoder interface {
	Decode(ctx context.Context, zipData string) (map[string]Entry, error)
}

// ZipDecoder decodes zip archives.
type ZipDecoder struct {
	config *config.Config
}

// NewZipDecoder 创建 ZIP 解码器实例
func NewZipDecoder(cfg *config.Config) *ZipDecoder {
	return &ZipDecoder{config: cfg}
}

// Decode opens the archive. Entry contents are not read until ReadText.
func (d *ZipDecoder) Decode(ctx context.Context, zipData string) (map[string]Entry, error) {
	raw, err := decodeBase64(zipData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if int64(len(raw)) > d.config.GetMaxUploadSize() {
		return nil, ErrArchiveTooLarge
	}
	return d.DecodeBytes(ctx, raw)
}

// DecodeBytes opens an archive that is already in binary form.
func (d *ZipDecoder) DecodeBytes(ctx context.Context, raw []byte) (map[string]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	entries := make(map[string]Entry, len(reader.File))
	for _, zf := range reader.File {
		if _, ok := entries[zf.Name]; ok {
			return nil, &DuplicateEntryError{Path: zf.Name}
		}
		entries[zf.Name] = &zipEntry{zf: zf, config: d.config}
	}

	logger.Debug("archive opened",
		zap.Int("archive_bytes", len(raw)),
		zap.Int("entries", len(entries)))
	return entries, nil
}

// decodeBase64 accepts plain base64 as well as data URLs, ignoring line breaks.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(s)
}

type zipEntry struct {
	zf     *zip.File
	config *config.Config
}

func (e *zipEntry) IsDirectory() bool {
	return e.zf.FileInfo().IsDir() || strings.HasSuffix(e.zf.Name, "/")
}

func (e *zipEntry) ReadText(ctx context.Context) (string, error) {
	if e.IsDirectory() {
		return "", ErrIsDirectory
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	maxSize := e.config.GetMaxFileSize()
	if e.zf.UncompressedSize64 > uint64(maxSize) {
		return "", ErrFileTooLarge
	}

	rc, err := e.zf.Open()
	if err != nil {
		return "", fmt.Errorf("无法打开文件 %s: %w", e.zf.Name, err)
	}
	contentBytes, err := io.ReadAll(io.LimitReader(rc, maxSize+1))
	rc.Close()
	if err != nil {
		return "", fmt.Errorf("读取文件 %s 失败: %w", e.zf.Name, err)
	}
	if int64(len(contentBytes)) > maxSize {
		return "", ErrFileTooLarge
	}

	return e.decodeText(contentBytes)
}

// decodeText strips a UTF-8 BOM or converts UTF-16 with BOM, and rejects
// anything that does not sniff as text. Invalid UTF-8 sequences are replaced
// with U+FFFD.
func (e *zipEntry) decodeText(content []byte) (string, error) {
	contentType := http.DetectContentType(content)
	mediaType, _, _ := strings.Cut(contentType, ";")
	if !strings.HasPrefix(mediaType, "text/") && !e.config.IsTextContentTypeException(mediaType) {
		return "", fmt.Errorf("%w: detected %s", ErrNotText, contentType)
	}

	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotText, err)
	}
	return string(decoded), nil
}
