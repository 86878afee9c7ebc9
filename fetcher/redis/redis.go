// Package redis relays an oplog over a Redis stream. Each stream entry holds one json encoded operation.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/fetcher"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/go-redis/redis/v9"
	"github.com/spf13/cast"
)

func init() {
	fetcher.RegisterSource("redis", func(ctx context.Context, params map[string]any) (fetcher.Source, error) {
		addr := cast.ToString(params["addr"])
		if addr == "" {
			return nil, errors.New(errors.Validation, "'addr' is a required paramater")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cast.ToString(params["password"]),
			DB:       cast.ToInt(params["db"]),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrap(err, errors.Unavailable, "redis: ping")
		}
		return New(client, cast.ToString(params["stream"])), nil
	})
}

// DefaultStream is the stream used when none is configured
const DefaultStream = "docrepl:oplog"

const (
	opField  = "op"
	endField = "end"
)

// Source reads and writes operations on a Redis stream
type Source struct {
	client *redis.Client
	stream string
}

func New(client *redis.Client, stream string) *Source {
	if stream == "" {
		stream = DefaultStream
	}
	return &Source{client: client, stream: stream}
}

// Close closes the redis client
func (s *Source) Close(ctx context.Context) error {
	return s.client.Close()
}

// Publish appends already chained operations to the stream
func (s *Source) Publish(ctx context.Context, ops ...*oplog.Operation) error {
	for _, op := range ops {
		bits, err := json.Marshal(op)
		if err != nil {
			return errors.Wrap(err, errors.Internal, "redis: encode operation")
		}
		if err := s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]any{opField: string(bits)},
		}).Err(); err != nil {
			return errors.Wrap(err, errors.Unavailable, "redis: publish")
		}
	}
	return nil
}

// Append chains ops after the last operation of the stream and publishes them
func (s *Source) Append(ctx context.Context, ops ...*oplog.Operation) (oplog.Checkpoint, error) {
	last, err := s.last(ctx)
	if err != nil {
		return oplog.Checkpoint{}, err
	}
	for _, op := range ops {
		op.Position = oplog.Position{T: last.Position.T + 1, I: 1}
		last = oplog.Chain(last, op)
	}
	return last, s.Publish(ctx, ops...)
}

// End marks the stream as finished: cursors return fetcher.ErrExhausted when they reach the marker
func (s *Source) End(ctx context.Context) error {
	return errors.Wrap(s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{endField: "1"},
	}).Err(), errors.Unavailable, "redis: end stream")
}

func (s *Source) last(ctx context.Context) (oplog.Checkpoint, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", 1).Result()
	if err != nil {
		return oplog.Checkpoint{}, errors.Wrap(err, errors.Unavailable, "redis: read last entry")
	}
	for _, msg := range msgs {
		op, err := decode(msg)
		if err != nil || op == nil {
			return oplog.Checkpoint{}, err
		}
		return op.Checkpoint(), nil
	}
	return oplog.Checkpoint{}, nil
}

func decode(msg redis.XMessage) (*oplog.Operation, error) {
	if _, ok := msg.Values[endField]; ok {
		return nil, fetcher.ErrExhausted
	}
	var op oplog.Operation
	if err := json.Unmarshal([]byte(cast.ToString(msg.Values[opField])), &op); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "redis: decode entry %s", msg.ID)
	}
	return &op, nil
}

func (s *Source) Tail(ctx context.Context, from oplog.Checkpoint) (fetcher.Cursor, error) {
	return &cursor{source: s, lastID: "0", from: from}, nil
}

type cursor struct {
	source *Source
	lastID string
	from   oplog.Checkpoint
}

func (c *cursor) Next(ctx context.Context, wait time.Duration) (*oplog.Operation, error) {
	deadline := time.Now().Add(wait)
	for {
		block := time.Until(deadline)
		if block < time.Millisecond {
			block = time.Millisecond
		}
		streams, err := c.source.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.source.stream, c.lastID},
			Count:   1,
			Block:   block,
		}).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), errors.Cancelled, "redis: read cancelled")
			}
			return nil, errors.Wrap(err, errors.Unavailable, "redis: read stream")
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.lastID = msg.ID
				op, err := decode(msg)
				if err != nil {
					return nil, err
				}
				if !c.from.IsZero() && op.Position.Before(c.from.Position) {
					continue
				}
				return op, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
	}
}

func (c *cursor) Close(ctx context.Context) error {
	return nil
}
