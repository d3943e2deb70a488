package chunkio

import (
	"io"
	"os"
)

// FileSource adapts a local file path to the Source contract. Every Open
// returns a fresh handle positioned at the start, so the digest pass and
// the transfer pass don't disturb each other.
type FileSource struct {
	Path string
}

func (f FileSource) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}
