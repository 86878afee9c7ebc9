package kvutil

import (
	"context"

	"github.com/autom8ter/docrepl/kv"
)

// NextPrefix returns a prefix that is lexicographically larger than the input prefix
func NextPrefix(prefix []byte) []byte {
	buf := make([]byte, len(prefix))
	copy(buf, prefix)
	var i int
	for i = len(prefix) - 1; i >= 0; i-- {
		buf[i]++
		if buf[i] != 0 {
			break
		}
	}
	if i == -1 {
		buf = make([]byte, 0)
	}
	return buf
}

// RunTx opens a transaction on db, runs fn and commits it. The transaction is rolled back if fn fails
// and released on every path.
func RunTx(ctx context.Context, db kv.DB, opts kv.TxOpts, fn func(ctx context.Context, tx kv.Tx) error) error {
	tx, err := db.NewTx(ctx, opts)
	if err != nil {
		return err
	}
	defer tx.Close(ctx)
	if err := fn(ctx, tx); err != nil {
		if rerr := tx.Rollback(ctx); rerr != nil {
			return rerr
		}
		return err
	}
	if opts.IsReadOnly {
		return nil
	}
	return tx.Commit(ctx)
}

// Keys collects every key matching the iterator options
func Keys(tx kv.Tx, opts kv.IterOpts) ([][]byte, error) {
	iter, err := tx.NewIterator(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var keys [][]byte
	for iter.Valid() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		keys = append(keys, key)
		if err := iter.Next(); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
