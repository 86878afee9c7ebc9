// Package mongo tails the oplog of a MongoDB replica set member
package mongo

import (
	"context"
	"time"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/fetcher"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func init() {
	fetcher.RegisterSource("mongo", func(ctx context.Context, params map[string]any) (fetcher.Source, error) {
		uri := cast.ToString(params["uri"])
		if uri == "" {
			return nil, errors.New(errors.Validation, "'uri' is a required paramater")
		}
		return Open(ctx, uri)
	})
}

const (
	oplogDatabase   = "local"
	oplogCollection = "oplog.rs"
	maxAwait        = 250 * time.Millisecond
)

// Source reads local.oplog.rs with a tailable await cursor. MongoDB no longer stores a per entry hash, so
// hashes are chained from the checkpoint the cursor resumes from: an operation missing at the checkpoint
// position is still detected as a rollback by the fetcher.
type Source struct {
	client *mongo.Client
	oplog  *mongo.Collection
}

// Open connects to the server at uri
func Open(ctx context.Context, uri string) (*Source, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, errors.Unavailable, "mongo: connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, errors.Wrap(err, errors.Unavailable, "mongo: ping")
	}
	return &Source{
		client: client,
		oplog:  client.Database(oplogDatabase).Collection(oplogCollection),
	}, nil
}

// Close disconnects the client
func (s *Source) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Source) Tail(ctx context.Context, from oplog.Checkpoint) (fetcher.Cursor, error) {
	filter := bson.D{}
	if !from.IsZero() {
		filter = bson.D{{Key: "ts", Value: bson.D{{Key: "$gte", Value: from.Position}}}}
	}
	opts := options.Find().
		SetCursorType(options.TailableAwait).
		SetMaxAwaitTime(maxAwait).
		SetNoCursorTimeout(true)
	cur, err := s.oplog.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unavailable, "mongo: open oplog cursor")
	}
	return &cursor{cur: cur, from: from, prev: from}, nil
}

type cursor struct {
	cur      *mongo.Cursor
	from     oplog.Checkpoint
	prev     oplog.Checkpoint
	anchored bool
}

type entry struct {
	TS bson.Timestamp `bson:"ts"`
	Op string         `bson:"op"`
	NS string         `bson:"ns"`
	O  bson.Raw       `bson:"o"`
	O2 bson.Raw       `bson:"o2,omitempty"`
}

func (c *cursor) Next(ctx context.Context, wait time.Duration) (*oplog.Operation, error) {
	deadline := time.Now().Add(wait)
	for {
		if c.cur.TryNext(ctx) {
			var e entry
			if err := c.cur.Decode(&e); err != nil {
				return nil, errors.Wrap(err, errors.Internal, "mongo: decode oplog entry")
			}
			op, err := toOperation(e)
			if err != nil {
				return nil, err
			}
			c.chain(op)
			return op, nil
		}
		if err := c.cur.Err(); err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), errors.Cancelled, "mongo: read cancelled")
			}
			return nil, errors.Wrap(err, errors.Unavailable, "mongo: oplog cursor")
		}
		if c.cur.ID() == 0 {
			return nil, errors.New(errors.Unavailable, "mongo: oplog cursor is dead")
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
	}
}

// chain derives the operation's hash. The operation found at the checkpoint position inherits the checkpoint hash.
func (c *cursor) chain(op *oplog.Operation) {
	if !c.anchored {
		c.anchored = true
		if !c.from.IsZero() && op.Position == c.from.Position {
			op.Hash = c.from.Hash
			c.prev = op.Checkpoint()
			return
		}
	}
	c.prev = oplog.Chain(c.prev, op)
}

func (c *cursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}
