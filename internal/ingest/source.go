package ingest

import (
	"bytes"
	"context"
	"io"

	"docstore-backend/internal/dedup"
)

// Source yields upload bytes and may be opened more than once.
type Source = dedup.Source

// BytesSource serves an in-memory upload.
type BytesSource []byte

func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
