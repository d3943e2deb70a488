package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/msgvault/msgvault/internal/app"
	"github.com/msgvault/msgvault/internal/chunkio"
	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/infra/logger"
	"github.com/msgvault/msgvault/internal/queue"
	"github.com/msgvault/msgvault/internal/scheduler"
	"github.com/msgvault/msgvault/internal/tokenpool"
)

// SourceResolver maps an upload task's source URI to a readable blob.
type SourceResolver func(uri string) chunkio.Source

// Service executes scheduled transfer jobs: it admits the operation with
// the token pool, promotes the task in its queue, then moves the task's
// chunks through the remote primitive, acquiring a token around every
// call and releasing it on every exit path.
type Service struct {
	log     *logger.Logger
	pool    *tokenpool.Pool
	manager *queue.Manager
	remote  app.Remote

	tokens    []string
	chunkSize int64
	outDir    string
	sources   SourceResolver
}

func NewService(log *logger.Logger, pool *tokenpool.Pool, manager *queue.Manager, remote app.Remote, tokens []string, chunkSize int64, outDir string) *Service {
	if chunkSize <= 0 {
		chunkSize = 8 * 1024 * 1024
	}
	return &Service{
		log:       log,
		pool:      pool,
		manager:   manager,
		remote:    remote,
		tokens:    tokens,
		chunkSize: chunkSize,
		outDir:    outDir,
		sources:   func(uri string) chunkio.Source { return chunkio.FileSource{Path: uri} },
	}
}

// SetSourceResolver overrides how source URIs are opened. Used by tests.
func (s *Service) SetSourceResolver(r SourceResolver) { s.sources = r }

// errDeferred tells the scheduler runner to requeue the job instead of
// failing it: admission was denied or the task is not currently
// runnable (e.g. paused).
var errDeferred = fmt.Errorf("deferred: %w", domain.ErrOperationCapacity)

// ExecuteJob is the scheduler.Executor for transfer jobs.
func (s *Service) ExecuteJob(ctx context.Context, job scheduler.Job) error {
	t, ok := s.manager.GetTask(job.TaskID)
	if !ok {
		return fmt.Errorf("job %s has no in-memory task", job.Name)
	}
	if t.Status.Terminal() {
		// Cancelled or finished before the job got claimed.
		return nil
	}

	// Register the logical operation first: a denied admission must
	// leave the task QUEUED so a later poll can retry it.
	if !s.pool.RegisterOperation() {
		return errDeferred
	}
	defer s.pool.UnregisterOperation()

	if !s.manager.StartTask(t.ID) {
		// No free slot in the queue, or the task is paused.
		return errDeferred
	}

	taskCtx, cancel := context.WithCancel(ctx)
	s.manager.RegisterCancel(t.ID, cancel)
	defer func() {
		s.manager.DeregisterCancel(t.ID)
		cancel()
	}()

	var err error
	switch t.Category {
	case domain.CategoryUpload, domain.CategoryGallerySync:
		err = s.runUpload(taskCtx, t)
	case domain.CategoryDownload:
		err = s.runDownload(taskCtx, t)
	default:
		err = fmt.Errorf("unhandled task category %q", t.Category)
	}

	s.finishTask(t, err)
	return err
}

// finishTask records the terminal state on the owning queue. Cancelled
// tasks were already transitioned by the manager; marking them again is
// a silent no-op by the queue contract. Deferred work (admission denied,
// or the task went PAUSED mid-transfer) is not terminal either: the job
// gets requeued and the task must stay resumable.
func (s *Service) finishTask(t *domain.Task, err error) {
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrOperationCapacity)) {
		return
	}
	switch t.Category {
	case domain.CategoryUpload, domain.CategoryGallerySync:
		if err == nil {
			s.manager.MarkUploadTaskCompleted(t.ID)
		} else {
			s.manager.MarkUploadTaskFailed(t.ID, err.Error())
		}
	case domain.CategoryDownload:
		if err == nil {
			s.manager.MarkDownloadTaskCompleted(t.ID)
		} else {
			s.manager.MarkDownloadTaskFailed(t.ID, err.Error())
		}
	}
}

type chunkJob struct {
	index  int
	offset int64
	length int64
	digest string
}

type chunkResult struct {
	job chunkJob
	err error
}

// runUpload splits the source into chunks, digests each for the
// manifest, then pushes them through a worker pool sized by the pool's
// fair-share recommendation.
func (s *Service) runUpload(ctx context.Context, t *domain.Task) error {
	src := s.sources(t.Upload.SourceURI)

	chunkSize := t.Upload.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.chunkSize
	}
	chunks := splitChunks(t.Size, chunkSize)
	if len(chunks) == 0 {
		return fmt.Errorf("task %s has nothing to upload", t.ID)
	}

	// Manifest pass: digest every chunk before any byte moves. This is a
	// separate read pass from the transfer on purpose; see chunkio.
	codec := chunkio.NewCodec()
	for i := range chunks {
		d, err := codec.ComputeDigest(src, chunks[i].offset, chunks[i].length)
		if err != nil {
			return fmt.Errorf("digest of chunk %d failed: %w", i, err)
		}
		chunks[i].digest = d
	}

	workers := s.pool.RecommendedWorkers(len(s.tokens))

	// Buffers sized to the chunk count so workers can always deliver a
	// result and exit, even when the collector bails out on cancel.
	jobs := make(chan chunkJob, len(chunks))
	results := make(chan chunkResult, len(chunks))
	for _, c := range chunks {
		jobs <- c
	}
	close(jobs)

	for w := 0; w < workers; w++ {
		go func() {
			for job := range jobs {
				results <- chunkResult{job: job, err: s.sendChunk(ctx, t, codec, src, job)}
			}
		}()
	}

	completed := 0
	var finalErr error
	for completed < len(chunks) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-results:
			completed++
			if res.err != nil && finalErr == nil {
				finalErr = fmt.Errorf("chunk %d: %w", res.job.index, res.err)
			}
			s.manager.UpdateTaskProgress(t.ID, float64(completed)/float64(len(chunks)))
		}
	}

	return finalErr
}

// sendChunk acquires a token, streams the chunk body straight into the
// remote call through a pipe, and releases the token whichever way the
// call exits. A source that ends before the declared length poisons the
// pipe with ErrShortChunk so the send cannot silently truncate.
func (s *Service) sendChunk(ctx context.Context, t *domain.Task, codec *chunkio.Codec, src chunkio.Source, job chunkJob) error {
	return s.pool.WithToken(ctx, s.tokens, t.ID, func(token string) error {
		pr, pw := io.Pipe()

		go func() {
			n, err := codec.WriteChunk(src, job.offset, job.length, pw)
			if err == nil && n < job.length {
				err = fmt.Errorf("%w: wrote %d of %d bytes", domain.ErrShortChunk, n, job.length)
			}
			pw.CloseWithError(err)
		}()

		err := s.remote.Send(ctx, token, domain.ChunkPayload{
			TaskID:    t.ID,
			Index:     job.index,
			Offset:    job.offset,
			Length:    job.length,
			MediaType: t.Upload.MediaType,
			Digest:    job.digest,
			Body:      pr,
		})
		pr.CloseWithError(err)
		return err
	})
}

// runDownload reassembles the remote chunks into the target file. Chunks
// are fetched strictly in order; cross-task ordering is already enforced
// by the scheduler chain.
func (s *Service) runDownload(ctx context.Context, t *domain.Task) error {
	fileID := t.Download.RemoteFileID

	var count int
	err := s.pool.WithToken(ctx, s.tokens, t.ID, func(token string) error {
		var err error
		count, err = s.remote.ChunkCount(ctx, token, fileID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to resolve chunk count for %s: %w", fileID, err)
	}
	if count == 0 {
		return fmt.Errorf("remote file %s has no chunks", fileID)
	}

	target := t.Download.TargetPath
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.outDir, target)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, chunkio.DefaultBufferSize)
	var written int64

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if st, ok := s.manager.GetTask(t.ID); ok && st.Status == domain.StatusPaused {
			return errDeferred
		}

		err := s.pool.WithToken(ctx, s.tokens, t.ID, func(token string) error {
			rc, _, err := s.remote.Fetch(ctx, token, fileID, i)
			if err != nil {
				return err
			}
			defer rc.Close()

			n, err := io.CopyBuffer(w, rc, make([]byte, chunkio.DefaultBufferSize))
			written += n
			return err
		})
		if err != nil {
			return fmt.Errorf("chunk %d of %s: %w", i, fileID, err)
		}

		s.manager.UpdateTaskProgress(t.ID, float64(i+1)/float64(count))
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush of %s failed: %w", target, err)
	}
	if t.Size > 0 && written < t.Size {
		return fmt.Errorf("%w: assembled %d of %d bytes", domain.ErrShortChunk, written, t.Size)
	}

	return nil
}

// splitChunks cuts size into consecutive [offset, offset+length) ranges.
func splitChunks(size, chunkSize int64) []chunkJob {
	var chunks []chunkJob
	for off := int64(0); off < size; off += chunkSize {
		length := chunkSize
		if rem := size - off; rem < length {
			length = rem
		}
		chunks = append(chunks, chunkJob{index: len(chunks), offset: off, length: length})
	}
	return chunks
}
