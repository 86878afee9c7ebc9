package badger

import (
	"context"
	"time"

	"github.com/autom8ter/docrepl/kv"
	"github.com/autom8ter/docrepl/kv/kvutil"
	"github.com/autom8ter/docrepl/kv/registry"
	"github.com/dgraph-io/badger/v3"
	"github.com/spf13/cast"
)

func init() {
	registry.Register("badger", func(params map[string]interface{}) (kv.DB, error) {
		return open(cast.ToString(params["storage_path"]))
	})
}

type badgerKV struct {
	db *badger.DB
}

// Open opens a badger database at storagePath. An empty path opens an in-memory database.
func Open(storagePath string) (kv.DB, error) {
	return open(storagePath)
}

func open(storagePath string) (kv.DB, error) {
	opts := badger.DefaultOptions(storagePath)
	if storagePath == "" {
		opts.InMemory = true
		opts.Dir = ""
		opts.ValueDir = ""
	}
	opts = opts.WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerKV{
		db: db,
	}, nil
}

func (b *badgerKV) Tx(ctx context.Context, opts kv.TxOpts, fn func(ctx context.Context, tx kv.Tx) error) error {
	return kvutil.RunTx(ctx, b, opts, fn)
}

func (b *badgerKV) NewTx(ctx context.Context, opts kv.TxOpts) (kv.Tx, error) {
	return &badgerTx{opts: opts, txn: b.db.NewTransaction(!opts.IsReadOnly), db: b}, nil
}

func (b *badgerKV) NewLocker(key []byte, leaseInterval time.Duration) (kv.Locker, error) {
	return kvutil.NewLocker(b, key, leaseInterval), nil
}

func (b *badgerKV) Close(ctx context.Context) error {
	if !b.db.Opts().InMemory {
		if err := b.db.Sync(); err != nil {
			return err
		}
	}
	return b.db.Close()
}

func (b *badgerKV) DropPrefix(ctx context.Context, prefix ...[]byte) error {
	return b.db.DropPrefix(prefix...)
}
