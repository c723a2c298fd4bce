package storage

import (
	"errors"
	"io"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// BlobStore holds question images and attempt checkpoints.
type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
	// Delete treats a missing key as success.
	Delete(key string) error
	SignedURL(key string) (string, error) // fs returns "file://..." for dev
}
