package chunkio

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/msgvault/msgvault/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// patternSource serves a deterministic byte pattern and counts opens and
// reads so tests can observe cache behavior.
type patternSource struct {
	size    int
	opens   int
	reads   int
	openErr error
}

func (s *patternSource) Open() (io.ReadCloser, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opens++
	return &patternReader{src: s, data: patternBytes(s.size)}, nil
}

type patternReader struct {
	src  *patternSource
	data []byte
	pos  int
}

func (r *patternReader) Read(p []byte) (int, error) {
	r.src.reads++
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *patternReader) Close() error { return nil }

func patternBytes(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*7 + i>>8) % 251)
	}
	return data
}

func TestWriteChunk_ExactByteReproduction(t *testing.T) {
	const (
		offset = 1000
		length = 50000
	)
	want := patternBytes(60000)[offset : offset+length]

	for _, bufSize := range []int{4096, 65536} {
		src := &patternSource{size: 60000}
		codec := NewCodecWithBufferSize(bufSize)

		var sink bytes.Buffer
		written, err := codec.WriteChunk(src, offset, length, &sink)
		require.NoError(t, err)

		assert.Equal(t, int64(length), written, "buffer size %d", bufSize)
		assert.Equal(t, want, sink.Bytes(), "buffer size %d", bufSize)
	}
}

func TestWriteChunk_ShortSourceIsNotAnError(t *testing.T) {
	src := &patternSource{size: 1500}
	codec := NewCodec()

	var sink bytes.Buffer
	written, err := codec.WriteChunk(src, 1000, 5000, &sink)
	require.NoError(t, err)

	// Only 500 bytes exist past the offset. The caller detects the
	// short chunk by comparing written against the declared length.
	assert.Equal(t, int64(500), written)
	assert.Less(t, written, int64(5000))
}

func TestWriteChunk_OffsetPastEnd(t *testing.T) {
	src := &patternSource{size: 100}
	codec := NewCodec()

	var sink bytes.Buffer
	written, err := codec.WriteChunk(src, 1000, 50, &sink)
	require.NoError(t, err)
	assert.Zero(t, written)
}

func TestWriteChunk_OpenFailure(t *testing.T) {
	src := &patternSource{openErr: errors.New("gone")}
	codec := NewCodec()

	_, err := codec.WriteChunk(src, 0, 10, &bytes.Buffer{})
	require.ErrorIs(t, err, domain.ErrStreamUnavailable)
}

func TestWriteChunk_FlushesSink(t *testing.T) {
	src := &patternSource{size: 1000}
	codec := NewCodec()

	sink := &flushRecorder{}
	_, err := codec.WriteChunk(src, 0, 1000, sink)
	require.NoError(t, err)
	assert.True(t, sink.flushed)
}

type flushRecorder struct {
	bytes.Buffer
	flushed bool
}

func (f *flushRecorder) Flush() error {
	f.flushed = true
	return nil
}

func TestComputeDigest_Cached(t *testing.T) {
	src := &patternSource{size: 10000}
	codec := NewCodec()

	first, err := codec.ComputeDigest(src, 100, 5000)
	require.NoError(t, err)
	require.Len(t, first, 16)

	readsAfterFirst := src.reads

	second, err := codec.ComputeDigest(src, 100, 5000)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, readsAfterFirst, src.reads, "cached digest must not re-read the source")

	// A different range is a different cache entry.
	other, err := codec.ComputeDigest(src, 0, 5000)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	codec.ResetDigestCache()
	third, err := codec.ComputeDigest(src, 100, 5000)
	require.NoError(t, err)
	assert.Equal(t, first, third, "digest is deterministic across cache resets")
	assert.Greater(t, src.reads, readsAfterFirst, "reset must force a re-read")
}

func TestComputeDigest_MatchesChunkBytes(t *testing.T) {
	// The digest pass and the transfer pass are independent reads of the
	// same range; both must agree on where the range is.
	src := &patternSource{size: 4096}
	codec := NewCodec()

	d1, err := codec.ComputeDigest(src, 512, 1024)
	require.NoError(t, err)

	src2 := &patternSource{size: 4096}
	var sink bytes.Buffer
	_, err = codec.WriteChunk(src2, 512, 1024, &sink)
	require.NoError(t, err)

	codec2 := NewCodec()
	d2, err := codec2.ComputeDigest(&staticSource{data: sink.Bytes()}, 0, int64(sink.Len()))
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

type staticSource struct {
	data []byte
}

func (s *staticSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}
