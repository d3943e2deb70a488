package tokenpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/infra/logger"
)

const (
	// MaxOperations is the admission ceiling for concurrently registered
	// logical transfers.
	MaxOperations = 5

	// Cooldown is the minimum gap enforced between successive uses of the
	// same token, to stay under provider-side rate limits.
	Cooldown = 200 * time.Millisecond

	// dampingStep is the per-competitor delay applied before an acquire
	// scan when more than one operation is registered.
	dampingStep = 50 * time.Millisecond

	// retryBackoff is the pause between full scans when every token is
	// busy.
	retryBackoff = 50 * time.Millisecond
)

// tokenState is created lazily on first reference and lives for the
// pool's lifetime. The permit channel has capacity 1, so at most one
// in-flight request per token.
type tokenState struct {
	permit      chan struct{}
	lastRelease atomic.Int64 // unix nanos of the last Release
}

// Pool hands out rate-limited, mutually-exclusive token slots across
// competing transfer operations. One Pool is shared by every task in the
// process; construct it at the composition root and pass it down.
type Pool struct {
	log *logger.Logger

	mu     sync.Mutex // guards cursor and the lazy token map
	cursor int
	tokens map[string]*tokenState
	seen   map[string]bool

	activeOps     atomic.Int64
	totalRequests atomic.Int64
	waiting       atomic.Int64
}

func New(log *logger.Logger) *Pool {
	return &Pool{
		log:    log,
		tokens: make(map[string]*tokenState),
		seen:   make(map[string]bool),
	}
}

// RegisterOperation admits one more logical transfer. It returns false,
// leaving the counter unchanged, once MaxOperations are already running;
// the caller must not proceed with the operation's work.
func (p *Pool) RegisterOperation() bool {
	if n := p.activeOps.Add(1); n > MaxOperations {
		p.activeOps.Add(-1)
		return false
	}
	return true
}

// UnregisterOperation must be called exactly once per successful
// RegisterOperation, on every exit path.
func (p *Pool) UnregisterOperation() {
	p.activeOps.Add(-1)
}

// ActiveOperations returns the current number of registered operations.
func (p *Pool) ActiveOperations() int {
	return int(p.activeOps.Load())
}

// RecommendedWorkers suggests how many chunk workers one operation should
// run so that the token pool is split evenly between the operations
// currently registered. Advisory only.
func (p *Pool) RecommendedWorkers(totalTokens int) int {
	ops := int(p.activeOps.Load())
	if ops < 1 {
		ops = 1
	}
	workers := totalTokens / ops
	if workers < 1 {
		workers = 1
	}
	return workers
}

// Acquire returns one token from tokens that the caller may use
// exclusively until Release. Selection starts from a shared round-robin
// cursor; a token released less than Cooldown ago is held back for the
// remainder before being handed out. When every token is busy the scan
// backs off and repeats, so no FIFO order is guaranteed among waiters.
//
// The operationID is only a contention hint: when more than one operation
// is registered, callers that identify themselves are delayed a little to
// give the others a chance at the pool.
func (p *Pool) Acquire(ctx context.Context, tokens []string, operationID string) (string, error) {
	if len(tokens) == 0 {
		return "", domain.ErrEmptyCredentialPool
	}

	p.totalRequests.Add(1)
	p.waiting.Add(1)
	defer p.waiting.Add(-1)

	// Contention damping. Not a fairness guarantee: we do not track which
	// tokens each operation holds, we just slow down identified callers
	// proportionally to how crowded the pool is.
	if ops := p.activeOps.Load(); operationID != "" && ops > 1 {
		if err := sleepCtx(ctx, time.Duration(ops-1)*dampingStep); err != nil {
			return "", err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		start := p.advanceCursor(len(tokens))

		for i := 0; i < len(tokens); i++ {
			token := tokens[(start+i)%len(tokens)]
			st := p.state(token)

			select {
			case st.permit <- struct{}{}:
				// Permit held. Wait out the cooldown before handing the
				// token to the caller so back-to-back uses stay spaced.
				if remain := p.cooldownRemaining(st); remain > 0 {
					if err := sleepCtx(ctx, remain); err != nil {
						// Never used the token, so drain the permit
						// without stamping a release time.
						<-st.permit
						return "", err
					}
				}
				p.markSeen(token)
				return token, nil
			default:
				// Token busy, keep scanning.
			}
		}

		if err := sleepCtx(ctx, retryBackoff); err != nil {
			return "", err
		}
	}
}

// Release records the release time for cooldown tracking and frees the
// token's permit. Must be called exactly once per successful Acquire.
func (p *Pool) Release(token string) {
	st := p.state(token)
	st.lastRelease.Store(time.Now().UnixNano())
	select {
	case <-st.permit:
	default:
		p.log.Warn("release of token that was not held")
	}
}

// WithToken runs fn while holding an acquired token, releasing it on
// every exit path.
func (p *Pool) WithToken(ctx context.Context, tokens []string, operationID string, fn func(token string) error) error {
	token, err := p.Acquire(ctx, tokens, operationID)
	if err != nil {
		return err
	}
	defer p.Release(token)
	return fn(token)
}

// Stats is a snapshot of the pool's observability counters.
type Stats struct {
	TotalRequests         int64 `json:"total_requests"`
	WaitingRequests       int64 `json:"waiting_requests"`
	ActiveCredentialsSeen int   `json:"active_credentials_seen"`
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	seen := len(p.seen)
	p.mu.Unlock()

	return Stats{
		TotalRequests:         p.totalRequests.Load(),
		WaitingRequests:       p.waiting.Load(),
		ActiveCredentialsSeen: seen,
	}
}

// ResetStats zeroes the request counter. The distinct-tokens-seen set is
// kept, since it describes the pool rather than the traffic.
func (p *Pool) ResetStats() {
	p.totalRequests.Store(0)
}

func (p *Pool) advanceCursor(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = (p.cursor + 1) % n
	return p.cursor
}

func (p *Pool) state(token string) *tokenState {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.tokens[token]
	if !ok {
		st = &tokenState{permit: make(chan struct{}, 1)}
		p.tokens[token] = st
	}
	return st
}

func (p *Pool) markSeen(token string) {
	p.mu.Lock()
	p.seen[token] = true
	p.mu.Unlock()
}

func (p *Pool) cooldownRemaining(st *tokenState) time.Duration {
	last := st.lastRelease.Load()
	if last == 0 {
		return 0
	}
	elapsed := time.Since(time.Unix(0, last))
	if elapsed >= Cooldown {
		return 0
	}
	return Cooldown - elapsed
}

// sleepCtx sleeps for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
