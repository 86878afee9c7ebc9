// Package sqlite is a kv.DB backed by a single sqlite table. It is meant for small deployments and tests
// where running badger or tikv is not worth it.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/kv"
	"github.com/autom8ter/docrepl/kv/kvutil"
	"github.com/autom8ter/docrepl/kv/registry"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cast"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key BLOB PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID`

func init() {
	registry.Register("sqlite", func(params map[string]interface{}) (kv.DB, error) {
		return Open(cast.ToString(params["path"]))
	})
}

type sqliteKV struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. An empty path opens an in-memory database.
func Open(path string) (kv.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "sqlite: open")
	}
	// sqlite supports a single writer; an in-memory database also lives on exactly one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, errors.Internal, "sqlite: init")
		}
	}
	return &sqliteKV{db: db}, nil
}

func (s *sqliteKV) Tx(ctx context.Context, opts kv.TxOpts, fn func(ctx context.Context, tx kv.Tx) error) error {
	return kvutil.RunTx(ctx, s, opts, fn)
}

func (s *sqliteKV) NewTx(ctx context.Context, opts kv.TxOpts) (kv.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unavailable, "sqlite: begin")
	}
	return &sqliteTx{tx: tx, readOnly: opts.IsReadOnly}, nil
}

func (s *sqliteKV) NewLocker(key []byte, leaseInterval time.Duration) (kv.Locker, error) {
	return kvutil.NewLocker(s, key, leaseInterval), nil
}

func (s *sqliteKV) DropPrefix(ctx context.Context, prefix ...[]byte) error {
	return s.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
		stx := tx.(*sqliteTx)
		for _, p := range prefix {
			if _, err := stx.tx.ExecContext(ctx, `DELETE FROM kv WHERE key >= ? AND key < ?`, p, kvutil.NextPrefix(p)); err != nil {
				return errors.Wrap(err, errors.Internal, "sqlite: drop prefix")
			}
		}
		return nil
	})
}

func (s *sqliteKV) Close(ctx context.Context) error {
	return s.db.Close()
}
