package metadata

import (
	"context"

	"github.com/autom8ter/docrepl/errors"
)

// Txn stages schema changes on top of the snapshot that was current when it began. Nothing is visible to
// readers of the store until Commit.
type Txn struct {
	store   *Store
	base    *Snapshot
	current *Snapshot
	steps   [][]Change
}

// Begin starts a metadata transaction
func (s *Store) Begin() *Txn {
	base := s.current.Load()
	return &Txn{store: s, base: base, current: base}
}

// Base returns the snapshot the transaction started from
func (t *Txn) Base() *Snapshot {
	return t.base
}

// Snapshot returns the staged snapshot
func (t *Txn) Snapshot() *Snapshot {
	return t.current
}

// Stale reports whether another writer published a snapshot since the transaction began
func (t *Txn) Stale() bool {
	return t.store.current.Load() != t.base
}

// Update merges the changes fn proposes into the staged snapshot and returns it
func (t *Txn) Update(ctx context.Context, fn func(b *Builder) error) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.Cancelled, "metadata update cancelled")
	}
	b := NewBuilder(t.current)
	if err := fn(b); err != nil {
		return nil, err
	}
	changes := b.Changes()
	next, _, err := Merge(t.current, changes)
	if err != nil {
		return nil, err
	}
	if next != t.current {
		t.current = next
		t.steps = append(t.steps, changes)
	}
	return next, nil
}

// Commit publishes the staged snapshot. If the store moved on since Begin the staged steps are merged, in
// order, against the latest snapshot until one publish wins or the store's attempts run out.
func (t *Txn) Commit(ctx context.Context) (*Snapshot, error) {
	if len(t.steps) == 0 {
		return t.store.current.Load(), nil
	}
	if t.store.current.CompareAndSwap(t.base, t.current) {
		return t.current, nil
	}
	var lastErr error
	for attempt := 1; attempt <= t.store.maxAttempts; attempt++ {
		latest := t.store.current.Load()
		next := latest
		for _, changes := range t.steps {
			merged, _, err := Merge(next, changes)
			if err != nil {
				return nil, err
			}
			next = merged
		}
		if next == latest || t.store.current.CompareAndSwap(latest, next) {
			return next, nil
		}
		lastErr = errors.New(errors.Conflict, "metadata version %d was superseded", latest.Version)
		t.store.logger.Debug(ctx, "metadata commit lost a race", map[string]any{
			"attempt": attempt,
		})
	}
	return nil, errors.Wrap(lastErr, errors.Conflict, "metadata commit failed after %d attempts", t.store.maxAttempts)
}
