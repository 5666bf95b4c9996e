package fingerprint

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestEmptyInputHashesToEmptyString(t *testing.T) {
	fp, n, err := New(8).Sum(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, Fingerprint(emptySHA256), fp)
	assert.Equal(t, Fingerprint(emptySHA256), Of(nil))
}

func TestSumIsDeterministic(t *testing.T) {
	data := randomBytes(t, 10_000)
	h := New(0)

	first, _, err := h.Sum(bytes.NewReader(data))
	require.NoError(t, err)
	second, _, err := h.Sum(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, Of(data), first)
}

func TestSumIsChunkInvariant(t *testing.T) {
	data := randomBytes(t, 100_003)
	want := Of(data)

	for _, chunk := range []int{1, 7, 512, 4096, 64 << 10, 1 << 20} {
		got, n, err := New(chunk).Sum(bytes.NewReader(data))
		require.NoError(t, err, "chunk=%d", chunk)
		assert.Equal(t, int64(len(data)), n, "chunk=%d", chunk)
		assert.Equal(t, want, got, "chunk=%d", chunk)
	}

	// Readers returning short reads must not change the digest either.
	got, _, err := New(1024).Sum(iotest.OneByteReader(bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSumLimited(t *testing.T) {
	data := []byte("0123456789")

	_, _, err := New(4).SumLimited(bytes.NewReader(data), 9)
	assert.True(t, errors.Is(err, ErrTooLarge))

	fp, n, err := New(4).SumLimited(bytes.NewReader(data), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, Of(data), fp)
}

func TestSumWithHeadCapturesLeadingBytes(t *testing.T) {
	data := []byte("%PDF-1.7 rest of the document")
	fp, _, head, err := New(3).SumWithHead(bytes.NewReader(data), -1, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), head)
	assert.Equal(t, Of(data), fp)
}

func TestSumPropagatesReaderError(t *testing.T) {
	boom := errors.New("boom")
	_, _, err := New(4).Sum(io.MultiReader(bytes.NewReader([]byte("abc")), iotest.ErrReader(boom)))
	assert.ErrorIs(t, err, boom)
}

func TestShort(t *testing.T) {
	fp := Fingerprint(emptySHA256)
	assert.Equal(t, "e3b0c44298fc", fp.Short(12))
	assert.Equal(t, emptySHA256, fp.Short(0))
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}
