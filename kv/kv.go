package kv

import (
	"context"
	"time"
)

// DB is a transactional key value database
type DB interface {
	// Tx executes fn inside a transaction. The transaction is committed if fn returns nil (and it is not read only),
	// otherwise it is rolled back. The transaction is always released before Tx returns.
	Tx(ctx context.Context, opts TxOpts, fn func(ctx context.Context, tx Tx) error) error
	// NewTx opens a transaction that must be released by the caller with Close
	NewTx(ctx context.Context, opts TxOpts) (Tx, error)
	// NewLocker returns a lease based lock on the given key
	NewLocker(key []byte, leaseInterval time.Duration) (Locker, error)
	// DropPrefix drops every key with one of the given prefixes
	DropPrefix(ctx context.Context, prefix ...[]byte) error
	// Close closes the database
	Close(ctx context.Context) error
}

// TxOpts configures a transaction
type TxOpts struct {
	IsReadOnly bool `json:"isReadOnly"`
}

// IterOpts configures an iterator
type IterOpts struct {
	Prefix     []byte `json:"prefix"`
	Seek       []byte `json:"seek"`
	UpperBound []byte `json:"upperBound"`
	Reverse    bool   `json:"reverse"`
}

// Getter gets a value. A missing key returns a nil value and a nil error.
type Getter interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
}

// Setter sets a value
type Setter interface {
	Set(ctx context.Context, key, value []byte) error
}

// Deleter deletes a value
type Deleter interface {
	Delete(ctx context.Context, key []byte) error
}

// Tx is a database transaction
type Tx interface {
	Getter
	Setter
	Deleter
	NewIterator(opts IterOpts) (Iterator, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context)
}

// Iterator iterates over keys in lexicographic order
type Iterator interface {
	Seek(key []byte)
	Close()
	Valid() bool
	Key() []byte
	Value() ([]byte, error)
	Next() error
}

// Locker is a lease based distributed lock
type Locker interface {
	IsLocked(ctx context.Context) (bool, error)
	TryLock(ctx context.Context) (bool, error)
	Unlock()
	// Lost is closed when a held lease was taken over or could not be renewed
	Lost() <-chan struct{}
}
