package storage

import (
	"context"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/internal/prefix"
	"github.com/autom8ter/docrepl/kv"
	"github.com/autom8ter/docrepl/metadata"
	"github.com/autom8ter/docrepl/model"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/tidwall/gjson"
)

// Command names understood by the store. Other commands are logged and skipped.
const (
	CmdCreate           = "create"
	CmdDrop             = "drop"
	CmdDropDatabase     = "dropDatabase"
	CmdCreateIndexes    = "createIndexes"
	CmdDropIndexes      = "dropIndexes"
	CmdDeleteIndexes    = "deleteIndexes"
	CmdRenameCollection = "renameCollection"
)

func (s *Store) applyCommand(ctx context.Context, tx kv.Tx, meta *metadata.Txn, op *oplog.Operation) error {
	if op.Document == nil {
		return errors.New(errors.Assertion, "command without body: %s", op)
	}
	body := gjson.Parse(op.Document.String())
	keys := op.Document.Keys()
	if len(keys) == 0 {
		return errors.New(errors.Assertion, "empty command: %s", op)
	}
	db := op.Namespace.Database
	name := keys[0]
	switch name {
	case CmdCreate:
		_, err := meta.Update(ctx, func(b *metadata.Builder) error {
			b.AddCollection(db, body.Get(CmdCreate).String())
			return nil
		})
		return err
	case CmdDrop:
		return s.dropCollection(ctx, tx, meta, db, body.Get(CmdDrop).String())
	case CmdDropDatabase:
		return s.dropDatabase(ctx, tx, meta, db)
	case CmdCreateIndexes:
		return s.createIndexes(ctx, tx, meta, db, body)
	case CmdDropIndexes, CmdDeleteIndexes:
		return s.dropIndexes(ctx, tx, meta, db, body.Get(name).String(), body.Get("index"))
	case CmdRenameCollection:
		return s.renameCollection(ctx, tx, meta, body)
	default:
		s.logger.Warn(ctx, "ignoring unsupported command", map[string]any{
			"command": name,
			"op":      op.String(),
		})
		return nil
	}
}

func (s *Store) dropDatabase(ctx context.Context, tx kv.Tx, meta *metadata.Txn, db string) error {
	if _, err := deletePrefix(ctx, tx, prefix.DatabasePrefix(db)); err != nil {
		return err
	}
	if _, err := deletePrefix(ctx, tx, prefix.IndexDatabasePrefix(db)); err != nil {
		return err
	}
	_, err := meta.Update(ctx, func(b *metadata.Builder) error {
		b.DropDatabase(db)
		return nil
	})
	return err
}

type indexSpec struct {
	name   string
	unique bool
	fields []metadata.IndexFieldSpec
}

// parseIndexSpecs accepts both the command form ({indexes: [...]}) and the single index form of the oplog
func parseIndexSpecs(body gjson.Result) ([]indexSpec, error) {
	var raw []gjson.Result
	if indexes := body.Get("indexes"); indexes.IsArray() {
		raw = indexes.Array()
	} else {
		raw = []gjson.Result{body}
	}
	var specs []indexSpec
	for _, r := range raw {
		spec := indexSpec{name: r.Get("name").String(), unique: r.Get("unique").Bool()}
		r.Get("key").ForEach(func(key, value gjson.Result) bool {
			spec.fields = append(spec.fields, metadata.IndexFieldSpec{
				Path:      key.String(),
				Ascending: value.Type != gjson.Number || value.Float() >= 0,
			})
			return true
		})
		if spec.name == "" || len(spec.fields) == 0 {
			return nil, errors.New(errors.Validation, "invalid index specification: %s", r.Raw)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (s *Store) createIndexes(ctx context.Context, tx kv.Tx, meta *metadata.Txn, db string, body gjson.Result) error {
	collection := body.Get(CmdCreateIndexes).String()
	specs, err := parseIndexSpecs(body)
	if err != nil {
		return err
	}
	snapshot, err := meta.Update(ctx, func(b *metadata.Builder) error {
		for _, spec := range specs {
			b.AddIndex(db, collection, spec.name, spec.unique, spec.fields)
		}
		return nil
	})
	if err != nil {
		return err
	}
	coll := snapshot.Collection(db, collection)
	if coll == nil {
		return errors.New(errors.Internal, "collection %s.%s missing after index creation", db, collection)
	}
	var indexes []*metadata.Index
	for _, spec := range specs {
		if idx := coll.Index(spec.name); idx != nil {
			indexes = append(indexes, idx)
		}
	}
	docs, err := scanCollection(tx, db, collection)
	if err != nil {
		return err
	}
	ns := oplog.Namespace{Database: db, Collection: collection}
	for _, doc := range docs {
		if err := s.index(ctx, tx, ns, indexes, doc.ID(), doc); err != nil {
			return err
		}
	}
	s.logger.Info(ctx, "built indexes", map[string]any{
		"db":         db,
		"collection": collection,
		"indexes":    len(indexes),
		"documents":  len(docs),
	})
	return nil
}

func (s *Store) dropIndexes(ctx context.Context, tx kv.Tx, meta *metadata.Txn, db, collection string, index gjson.Result) error {
	var names []string
	switch {
	case index.IsArray():
		for _, n := range index.Array() {
			names = append(names, n.String())
		}
	case index.String() == "*":
		if coll := meta.Snapshot().Collection(db, collection); coll != nil {
			for _, idx := range coll.Indexes {
				names = append(names, idx.Name)
			}
		}
	case index.Exists():
		names = append(names, index.String())
	}
	for _, name := range names {
		if _, err := deletePrefix(ctx, tx, prefix.IndexPrefix(db, collection, name)); err != nil {
			return err
		}
	}
	_, err := meta.Update(ctx, func(b *metadata.Builder) error {
		for _, name := range names {
			b.DropIndex(db, collection, name)
		}
		return nil
	})
	return err
}

// renameCollection moves the documents to the target collection. Indexes of the source collection are dropped,
// the target's own indexes are rebuilt for the moved documents.
func (s *Store) renameCollection(ctx context.Context, tx kv.Tx, meta *metadata.Txn, body gjson.Result) error {
	from := oplog.ParseNamespace(body.Get(CmdRenameCollection).String())
	to := oplog.ParseNamespace(body.Get("to").String())
	if from.Collection == "" || to.Collection == "" {
		return errors.New(errors.Validation, "invalid rename: %s", body.Raw)
	}
	docs, err := scanCollection(tx, from.Database, from.Collection)
	if err != nil {
		return err
	}
	if body.Get("dropTarget").Bool() {
		if err := s.dropCollection(ctx, tx, meta, to.Database, to.Collection); err != nil {
			return err
		}
	}
	if err := s.dropCollection(ctx, tx, meta, from.Database, from.Collection); err != nil {
		return err
	}
	snapshot, err := meta.Update(ctx, func(b *metadata.Builder) error {
		b.AddCollection(to.Database, to.Collection)
		for _, doc := range docs {
			b.AddDocument(to.Database, to.Collection, doc)
		}
		return nil
	})
	if err != nil {
		return err
	}
	var indexes []*metadata.Index
	if coll := snapshot.Collection(to.Database, to.Collection); coll != nil {
		indexes = coll.Indexes
	}
	for _, doc := range docs {
		if err := tx.Set(ctx, prefix.DocumentKey(to.Database, to.Collection, doc.ID()), doc.Bytes()); err != nil {
			return err
		}
		if err := s.index(ctx, tx, to, indexes, doc.ID(), doc); err != nil {
			return err
		}
	}
	return nil
}

func scanCollection(tx kv.Tx, db, collection string) ([]*model.Document, error) {
	iter, err := tx.NewIterator(kv.IterOpts{Prefix: prefix.CollectionPrefix(db, collection)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var docs []*model.Document
	for iter.Valid() {
		bits, err := iter.Value()
		if err != nil {
			return nil, err
		}
		doc, err := model.NewDocumentFromBytes(bits)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
		if err := iter.Next(); err != nil {
			return nil, err
		}
	}
	return docs, nil
}
