package app

import (
	"context"
	"io"

	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/infra/config"
	"github.com/msgvault/msgvault/internal/infra/logger"
	"github.com/msgvault/msgvault/internal/queue"
	"github.com/msgvault/msgvault/internal/tokenpool"
)

// Remote is the opaque transfer primitive of the chunk-store API. It is
// only ever invoked between a token Acquire and Release; the pool and
// the codec never call it themselves.
type Remote interface {
	// Send pushes one chunk under the given token. The payload body is
	// consumed during the call.
	Send(ctx context.Context, token string, p domain.ChunkPayload) error

	// Fetch opens the stored chunk index of fileID for reading and
	// reports its length.
	Fetch(ctx context.Context, token string, fileID string, index int) (io.ReadCloser, int64, error)

	// ChunkCount reports how many chunks fileID was stored as.
	ChunkCount(ctx context.Context, token string, fileID string) (int, error)
}

// QueueManager is the surface the API layer drives; queue.Manager
// implements it. Declared here so controllers don't import the queue
// package directly.
type QueueManager interface {
	AddUploadTasks(ctx context.Context, reqs []domain.UploadRequest) ([]*domain.Task, error)
	AddDownloadTasks(ctx context.Context, reqs []domain.DownloadRequest) ([]*domain.Task, error)
	PauseTask(id string)
	ResumeTask(id string)
	CancelTask(ctx context.Context, id string)
	AllTasks() []*domain.Task
	Progress() <-chan queue.ProgressEvent
	Completions() <-chan *domain.Task
}

// Context holds the shared environment wired at the composition root.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Manager QueueManager
	Pool    *tokenpool.Pool
}

func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config: cfg,
		Logger: log,
	}
}
