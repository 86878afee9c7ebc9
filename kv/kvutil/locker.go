package kvutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/autom8ter/docrepl/kv"
	"github.com/segmentio/ksuid"
)

type lockMeta struct {
	ID         string    `json:"id"`
	Start      time.Time `json:"start"`
	LastUpdate time.Time `json:"lastUpdate"`
	Key        []byte    `json:"key"`
}

// Locker is a lease based lock stored in a key value database. The holder renews the lease every
// leaseInterval; a lease that has not been renewed for 4 intervals may be taken over. A holder that finds its
// lease taken over, or that could not renew it for 3 intervals, closes Lost.
type Locker struct {
	id            string
	key           []byte
	db            kv.DB
	leaseInterval time.Duration
	start         time.Time
	mu            sync.Mutex
	held          bool
	unlock        chan struct{}
	hasUnlocked   chan struct{}
	lost          chan struct{}
	lostOnce      sync.Once
}

// NewLocker returns a lease based lock on key
func NewLocker(db kv.DB, key []byte, leaseInterval time.Duration) *Locker {
	return &Locker{
		id:            ksuid.New().String(),
		key:           key,
		db:            db,
		leaseInterval: leaseInterval,
		unlock:        make(chan struct{}),
		hasUnlocked:   make(chan struct{}),
		lost:          make(chan struct{}),
	}
}

// Lost is closed when the held lease was lost
func (l *Locker) Lost() <-chan struct{} {
	return l.lost
}

func (l *Locker) markLost() {
	l.lostOnce.Do(func() {
		close(l.lost)
	})
}

func (l *Locker) expired(current lockMeta) bool {
	return time.Since(current.LastUpdate) > 4*l.leaseInterval
}

// IsLocked returns true if another holder owns an unexpired lease
func (l *Locker) IsLocked(ctx context.Context) (bool, error) {
	isLocked := false
	err := l.db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
		current, err := l.getLock(ctx, tx)
		if err != nil || current == nil {
			return err
		}
		isLocked = current.ID == l.id || !l.expired(*current)
		return nil
	})
	return isLocked, err
}

// TryLock tries to acquire the lease without blocking
func (l *Locker) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return true, nil
	}
	l.start = time.Now()
	gotLock := false
	err := l.db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
		current, err := l.getLock(ctx, tx)
		if err != nil {
			return err
		}
		if current == nil || current.ID == l.id || l.expired(*current) {
			gotLock = true
			return l.setLock(ctx, tx)
		}
		return nil
	})
	if err == nil && gotLock {
		l.held = true
		go l.keepalive()
	}
	return gotLock, err
}

// Unlock releases the lease. It is a no-op if the lease is not held.
func (l *Locker) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.unlock <- struct{}{}
	<-l.hasUnlocked
	l.held = false
}

func (l *Locker) setLock(ctx context.Context, tx kv.Tx) error {
	bits, _ := json.Marshal(&lockMeta{
		ID:         l.id,
		Start:      l.start,
		LastUpdate: time.Now(),
		Key:        l.key,
	})
	return tx.Set(ctx, l.key, bits)
}

func (l *Locker) getLock(ctx context.Context, tx kv.Tx) (*lockMeta, error) {
	val, err := tx.Get(ctx, l.key)
	if err != nil || val == nil {
		return nil, err
	}
	var m lockMeta
	if err := json.Unmarshal(val, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (l *Locker) keepalive() {
	ticker := time.NewTicker(l.leaseInterval)
	defer ticker.Stop()
	ctx := context.Background()
	renewed := time.Now()
	lost := false
	for {
		select {
		case <-ticker.C:
			if lost {
				continue
			}
			owned := true
			err := l.db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
				current, err := l.getLock(ctx, tx)
				if err != nil {
					return err
				}
				if current == nil || current.ID != l.id {
					owned = false
					return nil
				}
				return l.setLock(ctx, tx)
			})
			switch {
			case err == nil && owned:
				renewed = time.Now()
			case !owned || time.Since(renewed) >= 3*l.leaseInterval:
				lost = true
				l.markLost()
			}
		case <-l.unlock:
			_ = l.db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
				current, err := l.getLock(ctx, tx)
				if err != nil || current == nil {
					return err
				}
				if current.ID == l.id {
					return tx.Delete(ctx, l.key)
				}
				return nil
			})
			l.hasUnlocked <- struct{}{}
			return
		}
	}
}
