package tikv

import (
	"context"
	"time"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/kv"
	"github.com/autom8ter/docrepl/kv/kvutil"
	"github.com/autom8ter/docrepl/kv/registry"
	"github.com/spf13/cast"
	"github.com/tikv/client-go/v2/txnkv"
)

func init() {
	registry.Register("tikv", func(params map[string]interface{}) (kv.DB, error) {
		if params["pd_addr"] == nil {
			return nil, errors.New(errors.Validation, "'pd_addr' is a required paramater")
		}
		return open(cast.ToStringSlice(params["pd_addr"]))
	})
}

type tikvKV struct {
	db *txnkv.Client
}

func open(pdAddrs []string) (kv.DB, error) {
	if len(pdAddrs) == 0 {
		return nil, errors.New(errors.Validation, "empty pd address")
	}
	client, err := txnkv.NewClient(pdAddrs)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unavailable, "tikv: connect")
	}
	return &tikvKV{
		db: client,
	}, nil
}

func (b *tikvKV) Tx(ctx context.Context, opts kv.TxOpts, fn func(ctx context.Context, tx kv.Tx) error) error {
	return kvutil.RunTx(ctx, b, opts, fn)
}

func (b *tikvKV) NewTx(ctx context.Context, opts kv.TxOpts) (kv.Tx, error) {
	tx, err := b.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, errors.Unavailable, "tikv: begin")
	}
	return &tikvTx{txn: tx, db: b, readOnly: opts.IsReadOnly}, nil
}

func (b *tikvKV) Close(ctx context.Context) error {
	return b.db.Close()
}

func (b *tikvKV) DropPrefix(ctx context.Context, prefix ...[]byte) error {
	for _, p := range prefix {
		if _, err := b.db.DeleteRange(ctx, p, kvutil.NextPrefix(p), 1); err != nil {
			return err
		}
	}
	return nil
}

func (b *tikvKV) NewLocker(key []byte, leaseInterval time.Duration) (kv.Locker, error) {
	return kvutil.NewLocker(b, key, leaseInterval), nil
}
