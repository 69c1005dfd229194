// Package archivetest builds in-memory zip archives for tests.
package archivetest

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"testing"
)

// Member is one zip member. Names ending in "/" are stored as directories.
type Member struct {
	Name    string
	Content string
}

// Zip returns the raw bytes of an archive holding members in order.
func Zip(t testing.TB, members ...Member) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.Name)
		if err != nil {
			t.Fatalf("create %s: %v", m.Name, err)
		}
		if m.Content != "" {
			if _, err := w.Write([]byte(m.Content)); err != nil {
				t.Fatalf("write %s: %v", m.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// ZipBase64 returns the archive encoded the way clients upload it.
func ZipBase64(t testing.TB, members ...Member) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString(Zip(t, members...))
}

// Dir is shorthand for a directory member.
func Dir(name string) Member {
	return Member{Name: name}
}

// File is shorthand for a file member.
func File(name, content string) Member {
	return Member{Name: name, Content: content}
}
