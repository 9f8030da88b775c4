// Package gcs stores dumps as objects in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Reruns overwrite the same object names, so cached copies go stale.
const cacheControl = "no-cache"

// Config names the destination bucket.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// BlobStore uploads dumps to one bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// New returns a BlobStore for cfg.Bucket.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	switch {
	case client == nil:
		return nil, errors.New("storage client is required")
	case strings.TrimSpace(cfg.Bucket) == "":
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName maps a dump path to its object key.
func (s *BlobStore) ObjectName(p string) string {
	return path.Join(s.prefix, strings.TrimLeft(p, "/"))
}

// PutObject uploads r and returns the object's gs:// URI. A failed copy
// aborts the upload so no partial object is committed.
func (s *BlobStore) PutObject(ctx context.Context, p string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path is required")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("object path %q must not contain '..'", p)
		}
	}
	name := s.ObjectName(p)

	uploadCtx, abort := context.WithCancel(ctx)
	defer abort()
	w := s.bucket.Object(name).NewWriter(uploadCtx)
	w.ContentType = contentType
	w.CacheControl = cacheControl

	if _, err := io.Copy(w, r); err != nil {
		abort()
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}
	return "gs://" + s.name + "/" + name, nil
}
