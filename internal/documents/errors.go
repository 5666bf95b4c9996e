package documents

import "errors"

var (
	ErrNotFound         = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrForbidden        = errors.New("forbidden")
	ErrAlreadyExists    = errors.New("document already exists")
	ErrDuplicateContent = errors.New("completed document with this content hash already exists")
	ErrNotReusable      = errors.New("document is not reusable")
)
