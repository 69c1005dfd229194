package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"repo-source-web/internal/domain/models"
	"repo-source-web/internal/infrastructure/archive"
	"repo-source-web/pkg/config"
	"repo-source-web/pkg/logger"
)

var errBadSegment = errors.New("empty or relative path segment")

// TreeBuilder reconstructs the directory hierarchy of an archive.
type TreeBuilder struct {
	decoder archive.Decoder
	config  *config.Config
}

// NewTreeBuilder 创建目录树构建服务实例
func NewTreeBuilder(decoder archive.Decoder, cfg *config.Config) *TreeBuilder {
	return &TreeBuilder{
		decoder: decoder,
		config:  cfg,
	}
}

// archivePath is one entry with its path split into NFC-normalized segments.
// depth is the number of segments preceding the entry's own name.
type archivePath struct {
	raw      string
	key      string
	segments []string
	depth    int
	content  string
}

func (p *archivePath) parent() []string {
	return p.segments[:p.depth]
}

func (p *archivePath) name() string {
	return p.segments[p.depth]
}

// Load decodes zipData with the configured decoder and builds its tree.
func (b *TreeBuilder) Load(ctx context.Context, zipData string) (*models.TreeNode, error) {
	entries, err := b.decoder.Decode(ctx, zipData)
	if err != nil {
		var dup *archive.DuplicateEntryError
		if errors.As(err, &dup) {
			return nil, &BuildError{Kind: Collision, Path: dup.Path, Err: err}
		}
		return nil, &BuildError{Kind: DecodeFault, Err: err}
	}
	return b.Build(ctx, entries)
}

// Build decodes every file entry and assembles the tree. Directories are
// created shallowest first so that each parent exists before its children;
// files are attached afterwards. Any fault fails the whole build.
func (b *TreeBuilder) Build(ctx context.Context, entries map[string]archive.Entry) (*models.TreeNode, error) {
	var dirs, files []*archivePath
	for raw, entry := range entries {
		p, err := splitArchivePath(raw, entry.IsDirectory())
		if err != nil {
			return nil, &BuildError{Kind: StructuralFault, Path: raw, Err: err}
		}
		if entry.IsDirectory() {
			dirs = append(dirs, p)
		} else {
			files = append(files, p)
		}
	}

	if err := b.decodeFiles(ctx, entries, files); err != nil {
		return nil, err
	}

	sort.Slice(dirs, func(i, j int) bool {
		if dirs[i].depth != dirs[j].depth {
			return dirs[i].depth < dirs[j].depth
		}
		return dirs[i].key < dirs[j].key
	})
	sort.Slice(files, func(i, j int) bool {
		return files[i].key < files[j].key
	})

	root := models.NewRoot()
	for _, d := range dirs {
		parent, err := root.Descend(d.parent())
		if err != nil {
			return nil, parentError(d, err)
		}
		if _, err := parent.AddDirectory(d.name()); err != nil {
			return nil, insertError(d, err)
		}
	}
	for _, f := range files {
		parent, err := root.Descend(f.parent())
		if err != nil {
			return nil, parentError(f, err)
		}
		if _, err := parent.InsertLeaf(f.name(), f.content); err != nil {
			return nil, insertError(f, err)
		}
	}

	logger.Debug("目录树构建完成",
		zap.Int("directories", len(dirs)),
		zap.Int("files", len(files)))
	return root, nil
}

// decodeFiles reads every file concurrently. The first failure cancels the
// remaining reads.
func (b *TreeBuilder) decodeFiles(ctx context.Context, entries map[string]archive.Entry, files []*archivePath) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.GetDecodeConcurrency())

	for _, f := range files {
		g.Go(func() error {
			text, err := entries[f.raw].ReadText(gctx)
			if err != nil {
				return &BuildError{Kind: DecodeFault, Path: f.raw, Err: err}
			}
			f.content = text
			return nil
		})
	}
	return g.Wait()
}

func splitArchivePath(raw string, isDir bool) (*archivePath, error) {
	key := norm.NFC.String(raw)
	trimmed := key
	if isDir {
		trimmed = strings.TrimSuffix(trimmed, "/")
	}

	segments := strings.Split(trimmed, "/")
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			return nil, errBadSegment
		}
	}
	return &archivePath{
		raw:      raw,
		key:      key,
		segments: segments,
		depth:    len(segments) - 1,
	}, nil
}

func parentError(p *archivePath, err error) error {
	parent := strings.Join(p.parent(), "/") + "/"
	return &BuildError{
		Kind: StructuralFault,
		Path: p.raw,
		Err:  fmt.Errorf("parent %q: %w", parent, err),
	}
}

func insertError(p *archivePath, err error) error {
	kind := StructuralFault
	if errors.Is(err, models.ErrNameTaken) || errors.Is(err, models.ErrKindMismatch) {
		kind = Collision
	}
	return &BuildError{Kind: kind, Path: p.raw, Err: err}
}
