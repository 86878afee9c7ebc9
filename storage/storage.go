// Package storage applies analyzed batches to the kv database. A batch, its schema changes and the checkpoint
// it reaches are committed in a single transaction.
package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"

	"github.com/autom8ter/docrepl/analyzed"
	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/internal/prefix"
	"github.com/autom8ter/docrepl/kv"
	"github.com/autom8ter/docrepl/kv/kvutil"
	"github.com/autom8ter/docrepl/logger"
	"github.com/autom8ter/docrepl/metadata"
	"github.com/autom8ter/docrepl/model"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/tidwall/gjson"
)

// Segment is either a single command or a run of analyzed data operations
type Segment struct {
	Command *oplog.Operation
	Ops     []*analyzed.Op
}

// Batch is the unit of atomic apply
type Batch struct {
	Segments   []Segment
	Checkpoint oplog.Checkpoint
}

// Store applies batches to a kv database and owns the persisted metadata and checkpoint
type Store struct {
	db     kv.DB
	meta   *metadata.Store
	logger logger.Logger
	// mu serializes write transactions so their metadata commits are ordered like their kv commits
	mu sync.Mutex
}

// Open loads the persisted metadata snapshot into meta and returns the store
func Open(ctx context.Context, db kv.DB, meta *metadata.Store, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if meta == nil {
		meta = metadata.NewStore(nil, metadata.WithLogger(log))
	}
	s := &Store{db: db, meta: meta, logger: log}
	if err := db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
		bits, err := tx.Get(ctx, prefix.MetadataKey)
		if err != nil {
			return err
		}
		snapshot, err := metadata.Decode(bits)
		if err != nil {
			return err
		}
		meta.Replace(snapshot)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, 0, "failed to load metadata")
	}
	return s, nil
}

// Metadata returns the metadata store
func (s *Store) Metadata() *metadata.Store {
	return s.meta
}

// DB returns the underlying kv database
func (s *Store) DB() kv.DB {
	return s.db
}

// LastApplied returns the checkpoint of the last committed batch. It is zero before the first batch.
func (s *Store) LastApplied(ctx context.Context) (oplog.Checkpoint, error) {
	var cp oplog.Checkpoint
	err := s.db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
		bits, err := tx.Get(ctx, prefix.CheckpointKey)
		if err != nil || bits == nil {
			return err
		}
		return json.Unmarshal(bits, &cp)
	})
	if err != nil {
		return oplog.Checkpoint{}, errors.Wrap(err, errors.Internal, "failed to read checkpoint")
	}
	return cp, nil
}

// Get returns the stored document or nil
func (s *Store) Get(ctx context.Context, db, collection string, id gjson.Result) (*model.Document, error) {
	var doc *model.Document
	err := s.db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
		var err error
		doc, err = getDocument(ctx, tx, prefix.DocumentKey(db, collection, id))
		return err
	})
	return doc, err
}

// Count returns the number of documents in the collection
func (s *Store) Count(ctx context.Context, db, collection string) (int, error) {
	var count int
	err := s.db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
		keys, err := kvutil.Keys(tx, kv.IterOpts{Prefix: prefix.CollectionPrefix(db, collection)})
		count = len(keys)
		return err
	})
	return count, err
}

// DropCollection removes the collection's documents, index entries and metadata in its own transaction
func (s *Store) DropCollection(ctx context.Context, db, collection string) error {
	return s.write(ctx, func(ctx context.Context, tx kv.Tx, meta *metadata.Txn) error {
		return s.dropCollection(ctx, tx, meta, db, collection)
	})
}

// ApplyBatch applies every segment in order, then persists the metadata snapshot and the batch checkpoint.
// Nothing is written unless everything succeeds. Schema changes reach the metadata store only after the commit.
func (s *Store) ApplyBatch(ctx context.Context, batch Batch, actx oplog.ApplierContext) error {
	return s.write(ctx, func(ctx context.Context, tx kv.Tx, meta *metadata.Txn) error {
		for _, seg := range batch.Segments {
			if seg.Command != nil {
				if err := s.applyCommand(ctx, tx, meta, seg.Command); err != nil {
					return errors.Wrap(err, 0, "failed to apply %s", seg.Command)
				}
				continue
			}
			if err := s.applyOps(ctx, tx, meta, seg.Ops, actx); err != nil {
				return err
			}
		}
		bits, err := json.Marshal(batch.Checkpoint)
		if err != nil {
			return errors.Wrap(err, errors.Internal, "failed to encode checkpoint")
		}
		return tx.Set(ctx, prefix.CheckpointKey, bits)
	})
}

const maxWriteAttempts = 3

// errStaleMetadata aborts a kv transaction whose metadata was staged on a superseded snapshot
var errStaleMetadata = stderrors.New("metadata snapshot superseded")

// write runs fn in a kv write transaction with a metadata transaction staged next to it. The staged snapshot
// is persisted in the same kv transaction and published only after the kv commit. If another writer published
// metadata in the meantime the kv transaction is rolled back and retried on the newer snapshot.
func (s *Store) write(ctx context.Context, fn func(ctx context.Context, tx kv.Tx, meta *metadata.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for attempt := 1; ; attempt++ {
		meta := s.meta.Begin()
		err := s.db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
			if err := fn(ctx, tx, meta); err != nil {
				return err
			}
			if meta.Snapshot() != meta.Base() {
				bits, err := meta.Snapshot().Encode()
				if err != nil {
					return err
				}
				if err := tx.Set(ctx, prefix.MetadataKey, bits); err != nil {
					return err
				}
			}
			if meta.Stale() {
				return errStaleMetadata
			}
			return nil
		})
		if stderrors.Is(err, errStaleMetadata) && attempt < maxWriteAttempts {
			s.logger.Debug(ctx, "retrying write on newer metadata", map[string]any{
				"attempt": attempt,
			})
			continue
		}
		if err != nil {
			if stderrors.Is(err, errStaleMetadata) {
				return errors.New(errors.Conflict, "metadata changed during %d write attempts", attempt)
			}
			return err
		}
		_, err = meta.Commit(ctx)
		return err
	}
}

func getDocument(ctx context.Context, tx kv.Tx, key []byte) (*model.Document, error) {
	bits, err := tx.Get(ctx, key)
	if err != nil || bits == nil {
		return nil, err
	}
	return model.NewDocumentFromBytes(bits)
}

type write struct {
	op       *analyzed.Op
	key      []byte
	existing *model.Document
	next     *model.Document
}

func (s *Store) applyOps(ctx context.Context, tx kv.Tx, meta *metadata.Txn, ops []*analyzed.Op, actx oplog.ApplierContext) error {
	var writes []write
	for _, op := range ops {
		w := write{op: op, key: prefix.DocumentKey(op.Namespace.Database, op.Namespace.Collection, op.ID)}
		existing, err := getDocument(ctx, tx, w.key)
		if err != nil {
			return err
		}
		w.existing = existing
		w.next, err = op.Apply(existing, actx)
		if err != nil {
			if actx.Reapplying && errors.HasCode(err, errors.NotFound) {
				s.logger.Warn(ctx, "skipping update of missing document during reapply", map[string]any{
					"op": op.String(),
				})
				continue
			}
			return errors.Wrap(err, 0, "failed to apply %s", op)
		}
		if w.existing == nil && w.next == nil {
			continue
		}
		writes = append(writes, w)
	}
	if len(writes) == 0 {
		return nil
	}
	snapshot, err := meta.Update(ctx, func(b *metadata.Builder) error {
		for _, w := range writes {
			if w.next != nil {
				b.AddDocument(w.op.Namespace.Database, w.op.Namespace.Collection, w.next)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, w := range writes {
		ns := w.op.Namespace
		var indexes []*metadata.Index
		if coll := snapshot.Collection(ns.Database, ns.Collection); coll != nil {
			indexes = coll.Indexes
		}
		if err := s.unindex(ctx, tx, ns, indexes, w.op.ID, w.existing); err != nil {
			return err
		}
		if w.next == nil {
			if err := tx.Delete(ctx, w.key); err != nil {
				return err
			}
			continue
		}
		if err := tx.Set(ctx, w.key, w.next.Bytes()); err != nil {
			return err
		}
		if err := s.index(ctx, tx, ns, indexes, w.op.ID, w.next); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) index(ctx context.Context, tx kv.Tx, ns oplog.Namespace, indexes []*metadata.Index, id gjson.Result, doc *model.Document) error {
	if doc == nil {
		return nil
	}
	for _, idx := range indexes {
		key := prefix.IndexKey(ns.Database, ns.Collection, idx.Name, prefix.IndexValues(doc.Value(), idx.Paths()), id)
		if err := tx.Set(ctx, key, []byte(id.Raw)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) unindex(ctx context.Context, tx kv.Tx, ns oplog.Namespace, indexes []*metadata.Index, id gjson.Result, doc *model.Document) error {
	if doc == nil {
		return nil
	}
	for _, idx := range indexes {
		key := prefix.IndexKey(ns.Database, ns.Collection, idx.Name, prefix.IndexValues(doc.Value(), idx.Paths()), id)
		if err := tx.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// deletePrefix collects the keys first: deleting while an iterator is open is not supported by every backend
func deletePrefix(ctx context.Context, tx kv.Tx, p []byte) (int, error) {
	keys, err := kvutil.Keys(tx, kv.IterOpts{Prefix: p})
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := tx.Delete(ctx, k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (s *Store) dropCollection(ctx context.Context, tx kv.Tx, meta *metadata.Txn, db, collection string) error {
	docs, err := deletePrefix(ctx, tx, prefix.CollectionPrefix(db, collection))
	if err != nil {
		return err
	}
	if _, err := deletePrefix(ctx, tx, prefix.IndexCollectionPrefix(db, collection)); err != nil {
		return err
	}
	if _, err := meta.Update(ctx, func(b *metadata.Builder) error {
		b.DropCollection(db, collection)
		return nil
	}); err != nil {
		return err
	}
	s.logger.Info(ctx, "dropped collection", map[string]any{
		"db":         db,
		"collection": collection,
		"documents":  docs,
	})
	return nil
}
