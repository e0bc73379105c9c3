// Package storage provides the object store that holds input images and annotated outputs.
package storage

import (
	"context"
	"io"
	"mime"
	"path/filepath"
)

// ObjectStore is an S3-style key/object store.
// Put and Upload overwrite an existing object under the same key.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key, localPath string) error
	Upload(ctx context.Context, localPath, key string) error
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
