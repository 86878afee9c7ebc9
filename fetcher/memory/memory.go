// Package memory is an in-process oplog used by tests and single binary deployments
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/fetcher"
	"github.com/autom8ter/docrepl/oplog"
)

func init() {
	fetcher.RegisterSource("memory", func(ctx context.Context, params map[string]any) (fetcher.Source, error) {
		return New(), nil
	})
}

// Log is an append-only oplog held in memory
type Log struct {
	mu       sync.Mutex
	ops      []*oplog.Operation
	last     oplog.Checkpoint
	closed   bool
	failures int
	notify   chan struct{}
}

func New() *Log {
	return &Log{notify: make(chan struct{})}
}

func (l *Log) wake() {
	close(l.notify)
	l.notify = make(chan struct{})
}

// Append assigns the next positions to ops, chains their hashes and appends them. It returns the checkpoint of
// the last appended operation.
func (l *Log) Append(ops ...*oplog.Operation) oplog.Checkpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range ops {
		op.Position = oplog.Position{T: l.last.Position.T + 1, I: 1}
		l.last = oplog.Chain(l.last, op)
		l.ops = append(l.ops, op)
	}
	l.wake()
	return l.last
}

// AppendRaw appends ops without touching their positions or hashes
func (l *Log) AppendRaw(ops ...*oplog.Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range ops {
		l.ops = append(l.ops, op)
		l.last = op.Checkpoint()
	}
	l.wake()
}

// Truncate discards every operation after the given position, as an upstream rollback would
func (l *Log) Truncate(after oplog.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.ops[:0]
	l.last = oplog.Checkpoint{}
	for _, op := range l.ops {
		if op.Position.After(after) {
			break
		}
		kept = append(kept, op)
		l.last = op.Checkpoint()
	}
	l.ops = kept
}

// Close ends the log: cursors return fetcher.ErrExhausted once they read every operation
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.wake()
}

// FailNext makes the next n cursor reads fail with a transient error
func (l *Log) FailNext(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = n
}

// Len returns the number of operations in the log
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// Tail opens a cursor starting at the first operation at or after the checkpoint's position
func (l *Log) Tail(ctx context.Context, from oplog.Checkpoint) (fetcher.Cursor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := 0
	if !from.IsZero() {
		for idx < len(l.ops) && l.ops[idx].Position.Before(from.Position) {
			idx++
		}
	}
	return &cursor{log: l, idx: idx}, nil
}

type cursor struct {
	log *Log
	idx int
}

func (c *cursor) Next(ctx context.Context, wait time.Duration) (*oplog.Operation, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		c.log.mu.Lock()
		if c.log.failures > 0 {
			c.log.failures--
			c.log.mu.Unlock()
			return nil, errors.New(errors.Unavailable, "memory log: injected failure")
		}
		if c.idx < len(c.log.ops) {
			op := c.log.ops[c.idx]
			c.idx++
			c.log.mu.Unlock()
			return op, nil
		}
		if c.log.closed {
			c.log.mu.Unlock()
			return nil, fetcher.ErrExhausted
		}
		notify := c.log.notify
		c.log.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.Cancelled, "memory log: read cancelled")
		case <-timer.C:
			return nil, nil
		case <-notify:
		}
	}
}

func (c *cursor) Close(ctx context.Context) error {
	return nil
}
