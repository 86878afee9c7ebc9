package metadata

import (
	"context"
	"sync/atomic"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/logger"
)

// DefaultMaxAttempts bounds the optimistic update loop
const DefaultMaxAttempts = 8

// Store holds the current snapshot behind an atomically swapped reference. Readers never block, writers
// publish new snapshots with Update.
type Store struct {
	current     atomic.Pointer[Snapshot]
	maxAttempts int
	logger      logger.Logger
}

// StoreOpt configures a Store
type StoreOpt func(s *Store)

// WithMaxAttempts sets how many times Update merges against a newer snapshot before it gives up
func WithMaxAttempts(attempts int) StoreOpt {
	return func(s *Store) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// WithLogger sets the store's logger
func WithLogger(l logger.Logger) StoreOpt {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore returns a store whose current snapshot is initial (an empty snapshot if nil)
func NewStore(initial *Snapshot, opts ...StoreOpt) *Store {
	if initial == nil {
		initial = Empty()
	}
	s := &Store{
		maxAttempts: DefaultMaxAttempts,
		logger:      logger.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.current.Store(initial)
	return s
}

// Snapshot returns the current snapshot
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Update builds changes with fn on top of the current snapshot, merges them against the snapshot that is
// current at commit time and publishes the result. Conflicts and lost races are retried with a fresh builder.
// fn may run more than once and must only propose changes.
func (s *Store) Update(ctx context.Context, fn func(b *Builder) error) (*Snapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.Cancelled, "metadata update cancelled")
		}
		b := NewBuilder(s.current.Load())
		if err := fn(b); err != nil {
			return nil, err
		}
		latest := s.current.Load()
		next, _, err := Merge(latest, b.Changes())
		if err != nil {
			if !errors.HasCode(err, errors.Conflict) {
				return nil, err
			}
			lastErr = err
			s.logger.Debug(ctx, "metadata merge conflict", map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			})
			continue
		}
		if next == latest {
			return latest, nil
		}
		if s.current.CompareAndSwap(latest, next) {
			return next, nil
		}
		lastErr = errors.New(errors.Conflict, "metadata version %d was superseded", latest.Version)
	}
	return nil, errors.Wrap(lastErr, errors.Conflict, "metadata update failed after %d attempts", s.maxAttempts)
}

// Replace publishes a snapshot loaded from persistence, discarding the current one
func (s *Store) Replace(snapshot *Snapshot) {
	s.current.Store(snapshot)
}
