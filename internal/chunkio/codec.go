package chunkio

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/msgvault/msgvault/internal/domain"
)

// DefaultBufferSize bounds memory per in-flight chunk copy regardless of
// chunk size or concurrency fan-out.
const DefaultBufferSize = 8 * 1024

// digestHexLen is the truncated length of the content digest, in hex
// characters, as stored in chunk manifests.
const digestHexLen = 16

// Source opens a fresh byte-stream positioned at the start of a named
// resource. It must tolerate being opened multiple times: once for
// digesting, once for transferring. No native seeking is assumed.
type Source interface {
	Open() (io.ReadCloser, error)
}

type flusher interface {
	Flush() error
}

// Codec streams byte ranges of one source blob. Digest results are
// cached per (offset, length) until ResetDigestCache, since a manifest
// pass may hash the same chunk several times.
type Codec struct {
	bufSize int

	mu      sync.Mutex
	digests map[digestKey]string
}

type digestKey struct {
	offset int64
	length int64
}

func NewCodec() *Codec {
	return NewCodecWithBufferSize(DefaultBufferSize)
}

// NewCodecWithBufferSize exists for tests that exercise buffer sizes
// around the chunk length; production code uses NewCodec.
func NewCodecWithBufferSize(size int) *Codec {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Codec{
		bufSize: size,
		digests: make(map[digestKey]string),
	}
}

// WriteChunk copies the range [offset, offset+length) of src into sink
// through a fixed-size buffer, flushing the sink at the end. The source
// may end early; the short count is returned without an error and the
// caller is responsible for comparing it against length (a short chunk
// means a corrupt or incomplete transfer at that layer, see
// domain.ErrShortChunk).
func (c *Codec) WriteChunk(src Source, offset, length int64, sink io.Writer) (int64, error) {
	stream, err := src.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStreamUnavailable, err)
	}
	defer stream.Close()

	if err := c.skip(stream, offset); err != nil {
		return 0, err
	}

	written, err := io.CopyBuffer(sink, io.LimitReader(stream, length), make([]byte, c.bufSize))
	if err != nil {
		return written, fmt.Errorf("chunk copy failed at byte %d: %w", written, err)
	}

	if f, ok := sink.(flusher); ok {
		if err := f.Flush(); err != nil {
			return written, fmt.Errorf("sink flush failed: %w", err)
		}
	}

	return written, nil
}

// ComputeDigest hashes the same range WriteChunk would copy and returns
// the first 16 hex characters of its SHA-256. The result is cached until
// ResetDigestCache, so repeated calls do not re-read the source.
func (c *Codec) ComputeDigest(src Source, offset, length int64) (string, error) {
	key := digestKey{offset: offset, length: length}

	c.mu.Lock()
	if d, ok := c.digests[key]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	stream, err := src.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStreamUnavailable, err)
	}
	defer stream.Close()

	if err := c.skip(stream, offset); err != nil {
		return "", err
	}

	h := sha256.New()
	if _, err := io.CopyBuffer(h, io.LimitReader(stream, length), make([]byte, c.bufSize)); err != nil {
		return "", fmt.Errorf("digest read failed: %w", err)
	}

	digest := hex.EncodeToString(h.Sum(nil))[:digestHexLen]

	c.mu.Lock()
	c.digests[key] = digest
	c.mu.Unlock()

	return digest, nil
}

// ResetDigestCache drops all cached digests, forcing the next
// ComputeDigest to re-read the source.
func (c *Codec) ResetDigestCache() {
	c.mu.Lock()
	c.digests = make(map[digestKey]string)
	c.mu.Unlock()
}

// skip advances past offset bytes with bounded reads. io.CopyN on
// io.Discard keeps the buffer small and works on sources that cannot
// seek.
func (c *Codec) skip(r io.Reader, offset int64) error {
	if offset <= 0 {
		return nil
	}
	n, err := io.CopyN(io.Discard, r, offset)
	if err == io.EOF {
		// Offset past the end of the source: nothing to copy, the
		// subsequent read will simply yield zero bytes.
		return nil
	}
	if err != nil {
		return fmt.Errorf("skip to offset %d failed at byte %d: %w", offset, n, err)
	}
	return nil
}
