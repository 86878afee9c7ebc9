package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"sort"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/kv"
	"github.com/autom8ter/docrepl/kv/kvutil"
)

type sqliteTx struct {
	tx       *sql.Tx
	readOnly bool
	done     bool
}

func (t *sqliteTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	var val []byte
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&val)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "sqlite: get")
	}
	return val, nil
}

func (t *sqliteTx) Set(ctx context.Context, key, value []byte) error {
	if t.readOnly {
		return errors.New(errors.Forbidden, "writes forbidden in read-only transaction")
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return errors.Wrap(err, errors.Internal, "sqlite: set")
}

func (t *sqliteTx) Delete(ctx context.Context, key []byte) error {
	if t.readOnly {
		return errors.New(errors.Forbidden, "writes forbidden in read-only transaction")
	}
	_, err := t.tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return errors.Wrap(err, errors.Internal, "sqlite: delete")
}

// NewIterator loads the matching range eagerly so writes within the same transaction never invalidate it
func (t *sqliteTx) NewIterator(opts kv.IterOpts) (kv.Iterator, error) {
	query := `SELECT key, value FROM kv WHERE key >= ?`
	lower := opts.Prefix
	if lower == nil {
		lower = []byte{}
	}
	args := []any{lower}
	upper := opts.UpperBound
	if upper == nil && len(opts.Prefix) > 0 {
		upper = kvutil.NextPrefix(opts.Prefix)
	}
	if upper != nil {
		query += ` AND key < ?`
		args = append(args, upper)
	}
	query += ` ORDER BY key`
	if opts.Reverse {
		query += ` DESC`
	}
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "sqlite: iterate")
	}
	defer rows.Close()
	it := &sqliteIterator{reverse: opts.Reverse}
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			return nil, errors.Wrap(err, errors.Internal, "sqlite: iterate")
		}
		it.entries = append(it.entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "sqlite: iterate")
	}
	if opts.Seek != nil {
		it.Seek(opts.Seek)
	}
	return it, nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	t.done = true
	return errors.Wrap(t.tx.Commit(), errors.Internal, "sqlite: commit")
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

func (t *sqliteTx) Close(ctx context.Context) {
	_ = t.Rollback(ctx)
}

type entry struct {
	key   []byte
	value []byte
}

type sqliteIterator struct {
	entries []entry
	pos     int
	reverse bool
}

func (i *sqliteIterator) Seek(key []byte) {
	i.pos = sort.Search(len(i.entries), func(n int) bool {
		if i.reverse {
			return bytes.Compare(i.entries[n].key, key) <= 0
		}
		return bytes.Compare(i.entries[n].key, key) >= 0
	})
}

func (i *sqliteIterator) Close() {}

func (i *sqliteIterator) Valid() bool {
	return i.pos < len(i.entries)
}

func (i *sqliteIterator) Key() []byte {
	return i.entries[i.pos].key
}

func (i *sqliteIterator) Value() ([]byte, error) {
	return i.entries[i.pos].value, nil
}

func (i *sqliteIterator) Next() error {
	i.pos++
	return nil
}
