package domain

import "errors"

// ErrEmptyCredentialPool indicates an acquire was attempted with no
// credentials configured. Caller configuration error, not retryable.
var ErrEmptyCredentialPool = errors.New("credential pool is empty")

// ErrStreamUnavailable indicates the source blob could not be opened
// for a chunk operation.
var ErrStreamUnavailable = errors.New("source stream unavailable")

// ErrOperationCapacity indicates the balancer denied admission because
// too many operations are already registered.
var ErrOperationCapacity = errors.New("operation capacity exceeded")

// ErrShortChunk indicates the source yielded fewer bytes than the chunk
// declared. Raised by callers of the codec, never by the codec itself.
var ErrShortChunk = errors.New("premature end of stream")
