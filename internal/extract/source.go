// Package extract streams a YML catalog document into batches of products.
//
// A run makes two forward passes over the same source: the first builds the
// category index from the category container, the second decodes product
// elements one at a time and resolves their category path against the index.
// Neither pass materializes the document.
package extract

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Source opens a fresh forward-only reader over the catalog document.
// Every call must start from the beginning of the document.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Name() string
}

// FileSource reads the catalog from a file on disk.
type FileSource struct {
	Path string
}

// NewFileSource creates a source backed by the file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Open opens the catalog file.
func (s *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", s.Path, err)
	}
	return f, nil
}

// Name returns the file path.
func (s *FileSource) Name() string {
	return s.Path
}
