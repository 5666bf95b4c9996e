package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("job not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrStillProcessing = errors.New("job still processing")
	ErrJobFailed       = errors.New("job failed")
	ErrAlreadyTerminal = errors.New("job already terminal")
)

// FailedError carries the failure message of a failed job.
type FailedError struct {
	JobID   string
	Message string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

func (e *FailedError) Unwrap() error { return ErrJobFailed }
