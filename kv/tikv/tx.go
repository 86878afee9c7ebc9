package tikv

import (
	"context"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/kv"
	"github.com/autom8ter/docrepl/kv/kvutil"
	tikvErr "github.com/tikv/client-go/v2/error"
	"github.com/tikv/client-go/v2/txnkv/transaction"
)

type tikvTx struct {
	txn      *transaction.KVTxn
	readOnly bool
	db       *tikvKV
	done     bool
}

func (t *tikvTx) NewIterator(kopts kv.IterOpts) (kv.Iterator, error) {
	upper := kopts.UpperBound
	if upper == nil && kopts.Prefix != nil {
		upper = kvutil.NextPrefix(kopts.Prefix)
	}
	if kopts.Reverse {
		start := upper
		if kopts.Seek != nil {
			start = kvutil.NextPrefix(kopts.Seek)
		}
		iter, err := t.txn.IterReverse(start)
		if err != nil {
			return nil, err
		}
		return &tikvIterator{iter: iter, opts: kopts}, nil
	}
	start := kopts.Prefix
	if kopts.Seek != nil {
		start = kopts.Seek
	}
	iter, err := t.txn.Iter(start, upper)
	if err != nil {
		return nil, err
	}
	return &tikvIterator{iter: iter, opts: kopts}, nil
}

func (t *tikvTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	val, err := t.txn.Get(ctx, key)
	if err != nil {
		if tikvErr.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.Internal, "tikv: get")
	}
	return val, nil
}

func (t *tikvTx) Set(ctx context.Context, key, value []byte) error {
	if t.readOnly {
		return errors.New(errors.Forbidden, "writes forbidden in read-only transaction")
	}
	return errors.Wrap(t.txn.Set(key, value), errors.Internal, "tikv: set")
}

func (t *tikvTx) Delete(ctx context.Context, key []byte) error {
	if t.readOnly {
		return errors.New(errors.Forbidden, "writes forbidden in read-only transaction")
	}
	return errors.Wrap(t.txn.Delete(key), errors.Internal, "tikv: delete")
}

func (t *tikvTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.txn.Rollback()
}

func (t *tikvTx) Commit(ctx context.Context) error {
	t.done = true
	return errors.Wrap(t.txn.Commit(ctx), errors.Internal, "tikv: commit")
}

func (t *tikvTx) Close(ctx context.Context) {
	if !t.done {
		_ = t.Rollback(ctx)
	}
}
