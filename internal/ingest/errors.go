package ingest

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrSizeExceeded        = errors.New("file size exceeds limit")
	ErrExtensionNotAllowed = errors.New("file type not allowed")
	ErrSaturated           = errors.New("ingestion queue is full")
	ErrShuttingDown        = errors.New("ingestion scheduler is shutting down")
)
