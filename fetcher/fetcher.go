// Package fetcher turns an upstream oplog source into an ordered, integrity checked stream of operations
// that resumes from a checkpoint.
package fetcher

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/logger"
	"github.com/autom8ter/docrepl/oplog"
)

// ErrExhausted is returned by finite sources once every operation was read
var ErrExhausted = stderrors.New("oplog source exhausted")

// Source opens cursors over an upstream oplog
type Source interface {
	// Tail opens a cursor yielding operations from the checkpoint's position onwards. For a non-zero checkpoint
	// the first operation is expected to be the checkpoint's own. Transient failures are coded Unavailable.
	Tail(ctx context.Context, from oplog.Checkpoint) (Cursor, error)
}

// Cursor reads operations in log order
type Cursor interface {
	// Next returns the next operation, or nil if none arrived within wait
	Next(ctx context.Context, wait time.Duration) (*oplog.Operation, error)
	Close(ctx context.Context) error
}

// Opt configures a Fetcher
type Opt func(f *Fetcher)

// WithMaxReconnects sets how many consecutive transient cursor failures are retried
func WithMaxReconnects(n int) Opt {
	return func(f *Fetcher) {
		f.maxReconnects = n
	}
}

// WithLogger sets the fetcher's logger
func WithLogger(l logger.Logger) Opt {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// WithReconnectBackoff sets the pause before a cursor is re-opened
func WithReconnectBackoff(d time.Duration) Opt {
	return func(f *Fetcher) {
		f.backoff = d
	}
}

// Fetcher yields the operations following a checkpoint. Every operation must continue the hash chain of its
// predecessor, any gap or divergence is reported as a rollback. Next must not be called concurrently,
// Close may be called at any time.
type Fetcher struct {
	source        Source
	maxReconnects int
	backoff       time.Duration
	logger        logger.Logger

	mu         sync.Mutex
	last       oplog.Checkpoint
	cursor     Cursor
	anchored   bool
	reconnects int
	closed     bool

	done   context.Context
	cancel context.CancelFunc
}

// New creates a fetcher that resumes after the operation with the given hash and position
func New(source Source, lastAppliedHash int64, lastAppliedPosition oplog.Position, opts ...Opt) *Fetcher {
	done, cancel := context.WithCancel(context.Background())
	f := &Fetcher{
		source:        source,
		maxReconnects: 3,
		backoff:       100 * time.Millisecond,
		logger:        logger.NewNop(),
		last:          oplog.Checkpoint{Position: lastAppliedPosition, Hash: lastAppliedHash},
		done:          done,
		cancel:        cancel,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Checkpoint returns the checkpoint of the last yielded operation
func (f *Fetcher) Checkpoint() oplog.Checkpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func cancelled(err error) error {
	return errors.Wrap(err, errors.Cancelled, "fetch cancelled")
}

// Next returns the next operation, nil if none arrived within wait, ErrExhausted when a finite source ended,
// or an Integrity coded *oplog.RollbackError when the upstream log diverged from the checkpoint.
func (f *Fetcher) Next(ctx context.Context, wait time.Duration) (*oplog.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New(errors.Cancelled, "fetcher is closed")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(f.done, cancel)
	defer stop()

	deadline := time.Now().Add(wait)
	for {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		if f.cursor == nil {
			cursor, err := f.source.Tail(ctx, f.last)
			if err != nil {
				if retryErr := f.retry(ctx, err); retryErr != nil {
					return nil, retryErr
				}
				continue
			}
			f.cursor = cursor
			f.anchored = f.last.IsZero()
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		op, err := f.cursor.Next(ctx, remaining)
		if err != nil {
			if stderrors.Is(err, ErrExhausted) {
				return nil, ErrExhausted
			}
			if ctx.Err() != nil {
				return nil, cancelled(ctx.Err())
			}
			f.closeCursor(ctx)
			if retryErr := f.retry(ctx, err); retryErr != nil {
				return nil, retryErr
			}
			continue
		}
		if op == nil {
			return nil, nil
		}
		f.reconnects = 0
		if !f.anchored {
			f.anchored = true
			if op.Position != f.last.Position || op.Hash != f.last.Hash {
				return nil, oplog.NewRollbackError(f.last, op, "checkpoint operation is missing upstream")
			}
			continue
		}
		if !op.Position.After(f.last.Position) {
			return nil, oplog.NewRollbackError(f.last, op, "position did not advance")
		}
		if op.Hash != oplog.ChainHash(f.last.Hash, op) {
			return nil, oplog.NewRollbackError(f.last, op, "hash chain is broken")
		}
		f.last = op.Checkpoint()
		return op, nil
	}
}

// retry decides whether err is transient and waits before the cursor is re-opened
func (f *Fetcher) retry(ctx context.Context, err error) error {
	if !errors.HasCode(err, errors.Unavailable) || f.reconnects >= f.maxReconnects {
		return err
	}
	f.reconnects++
	f.logger.Warn(ctx, "reconnecting to oplog source", map[string]any{
		"attempt":    f.reconnects,
		"checkpoint": f.last.String(),
		"error":      err.Error(),
	})
	select {
	case <-ctx.Done():
		return cancelled(ctx.Err())
	case <-time.After(f.backoff):
		return nil
	}
}

func (f *Fetcher) closeCursor(ctx context.Context) {
	if f.cursor == nil {
		return
	}
	if err := f.cursor.Close(context.WithoutCancel(ctx)); err != nil {
		f.logger.Warn(ctx, "failed to close oplog cursor", map[string]any{"error": err.Error()})
	}
	f.cursor = nil
}

// Close interrupts a pending Next and releases the cursor. It is idempotent.
func (f *Fetcher) Close(ctx context.Context) error {
	f.cancel()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.closeCursor(ctx)
	return nil
}
