// Package fingerprint computes content fingerprints used as document identity keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
)

// DefaultChunkSize is the read size used when a Hasher is built with a non-positive size.
const DefaultChunkSize = 64 << 10

// ErrTooLarge is returned by SumLimited once the stream exceeds its limit.
var ErrTooLarge = errors.New("content exceeds size limit")

// Fingerprint is the lowercase hex SHA-256 of a byte stream.
type Fingerprint string

// Short returns the first n hex characters.
func (f Fingerprint) Short(n int) string {
	if n <= 0 || n >= len(f) {
		return string(f)
	}
	return string(f[:n])
}

func (f Fingerprint) String() string { return string(f) }

// Hasher streams bytes through SHA-256 one chunk at a time. A Hasher is safe for
// concurrent use; each Sum allocates its own chunk buffer.
type Hasher struct {
	chunkSize int
}

// New returns a Hasher reading chunkSize bytes per step.
func New(chunkSize int) *Hasher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Hasher{chunkSize: chunkSize}
}

// ChunkSize reports the per-read buffer size.
func (h *Hasher) ChunkSize() int { return h.chunkSize }

// Sum hashes r to EOF and returns the fingerprint and the number of bytes read.
func (h *Hasher) Sum(r io.Reader) (Fingerprint, int64, error) {
	return h.sum(r, -1, nil)
}

// SumLimited is Sum with an upper bound on the stream length. It fails with ErrTooLarge as
// soon as more than max bytes have been read.
func (h *Hasher) SumLimited(r io.Reader, max int64) (Fingerprint, int64, error) {
	return h.sum(r, max, nil)
}

// SumWithHead is SumLimited that also returns up to headLen leading bytes, used for media type
// sniffing without a second pass.
func (h *Hasher) SumWithHead(r io.Reader, max int64, headLen int) (Fingerprint, int64, []byte, error) {
	head := make([]byte, 0, headLen)
	fp, n, err := h.sum(r, max, func(chunk []byte) {
		if room := headLen - len(head); room > 0 {
			if room > len(chunk) {
				room = len(chunk)
			}
			head = append(head, chunk[:room]...)
		}
	})
	return fp, n, head, err
}

func (h *Hasher) sum(r io.Reader, max int64, observe func([]byte)) (Fingerprint, int64, error) {
	digest := sha256.New()
	buf := make([]byte, h.chunkSize)
	var total int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			total += int64(n)
			if max >= 0 && total > max {
				return "", total, ErrTooLarge
			}
			write(digest, buf[:n])
			if observe != nil {
				observe(buf[:n])
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", total, err
		}
	}
	return Fingerprint(hex.EncodeToString(digest.Sum(nil))), total, nil
}

// Of returns the fingerprint of an in-memory byte slice.
func Of(data []byte) Fingerprint {
	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// hash.Hash.Write never returns an error.
func write(h hash.Hash, p []byte) {
	_, _ = h.Write(p)
}
