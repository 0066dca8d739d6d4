// Package blobstore abstracts durable binary storage for original and
// annotated images. The production backend is S3-compatible object storage;
// tests use the in-memory implementation.
package blobstore

import (
	"context"
	"fmt"
)

// Store is the minimal blob interface the daemon needs. Put is idempotent:
// writing the same key twice must succeed and leave the same content
// addressable.
type Store interface {
	// Put stores data under key and returns a stable URL for it.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get retrieves the blob stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the blob stored under key. Deleting a missing key is
	// not an error.
	Delete(ctx context.Context, key string) error
	// URL returns the stable URL for key without touching the backend.
	URL(key string) string
}

// ImageKey is the blob key of an original image.
func ImageKey(imageHash, ext string) string {
	return fmt.Sprintf("images/%s.%s", imageHash, ext)
}

// AnnotatedKey is the blob key of a rendered annotation.
func AnnotatedKey(renderID, ext string) string {
	return fmt.Sprintf("annotated/%s.%s", renderID, ext)
}
