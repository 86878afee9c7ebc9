package badger

import (
	"context"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/kv"
	"github.com/dgraph-io/badger/v3"
)

type badgerTx struct {
	opts kv.TxOpts
	txn  *badger.Txn
	db   *badgerKV
}

func (b *badgerTx) NewIterator(kopts kv.IterOpts) (kv.Iterator, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.PrefetchSize = 10
	opts.Prefix = kopts.Prefix
	opts.Reverse = kopts.Reverse
	if kopts.Seek == nil && kopts.UpperBound != nil && kopts.Reverse {
		kopts.Seek = kopts.UpperBound
	}
	iter := b.txn.NewIterator(opts)
	if kopts.Seek == nil {
		iter.Rewind()
	} else {
		iter.Seek(kopts.Seek)
	}
	return &badgerIterator{iter: iter, opts: kopts}, nil
}

func (b *badgerTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	i, err := b.txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.Internal, "badger: get")
	}
	return i.ValueCopy(nil)
}

func (b *badgerTx) Set(ctx context.Context, key, value []byte) error {
	if b.opts.IsReadOnly {
		return errors.New(errors.Forbidden, "writes forbidden in read-only transaction")
	}
	return errors.Wrap(b.txn.SetEntry(&badger.Entry{
		Key:   key,
		Value: value,
	}), errors.Internal, "badger: set")
}

func (b *badgerTx) Delete(ctx context.Context, key []byte) error {
	if b.opts.IsReadOnly {
		return errors.New(errors.Forbidden, "writes forbidden in read-only transaction")
	}
	return errors.Wrap(b.txn.Delete(key), errors.Internal, "badger: delete")
}

func (b *badgerTx) Rollback(ctx context.Context) error {
	b.txn.Discard()
	return nil
}

func (b *badgerTx) Commit(ctx context.Context) error {
	return errors.Wrap(b.txn.Commit(), errors.Internal, "badger: commit")
}

func (b *badgerTx) Close(ctx context.Context) {
	b.txn.Discard()
}
