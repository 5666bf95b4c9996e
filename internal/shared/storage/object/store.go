package object

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no object exists at a storage key.
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that escape the store namespace.
var ErrInvalidKey = errors.New("invalid storage key")

// ObjectStore defines the contract for saving and retrieving binary objects.
// Storage keys are opaque to callers; each implementation maps them onto its medium.
type ObjectStore interface {
	Put(ctx context.Context, storageKey string, contentType string, r io.Reader) (sizeBytes int64, err error)
	Get(ctx context.Context, storageKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, storageKey string) error
}
