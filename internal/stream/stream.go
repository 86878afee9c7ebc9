// Package stream is a typed pub/sub on top of machine
package stream

import (
	"context"
	"sync/atomic"

	"github.com/autom8ter/docrepl/internal/safe"
	"github.com/autom8ter/machine/v4"
	"github.com/segmentio/ksuid"
)

// DefaultBuffer is the number of messages a subscriber may fall behind before messages are dropped for it
const DefaultBuffer = 64

// Stream broadcasts messages of one type to every subscriber of a channel
type Stream[T any] interface {
	// Broadcast offers msg to the current subscribers of channel. It never blocks: a subscriber whose buffer
	// is full misses the message.
	Broadcast(ctx context.Context, channel string, msg T)
	// Pull calls fn with every message broadcast on channel until fn returns false or ctx is done.
	// It returns once the subscription is registered.
	Pull(ctx context.Context, channel string, fn func(T) (bool, error)) error
	// Dropped returns the number of messages dropped for slow subscribers
	Dropped() int64
	// Wait waits for every subscription to end
	Wait() error
}

// Opt configures a stream
type Opt func(o *options)

type options struct {
	buffer int
}

// WithBuffer sets the per subscriber buffer
func WithBuffer(size int) Opt {
	return func(o *options) {
		if size > 0 {
			o.buffer = size
		}
	}
}

type subscriber[T any] struct {
	channel string
	ch      chan T
}

type defaultStream[T any] struct {
	machine     machine.Machine
	buffer      int
	subscribers *safe.Map[*subscriber[T]]
	dropped     *atomic.Int64
}

// New returns a stream whose subscriptions run on m
func New[T any](m machine.Machine, opts ...Opt) Stream[T] {
	o := &options{buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(o)
	}
	return defaultStream[T]{
		machine:     m,
		buffer:      o.buffer,
		subscribers: safe.NewMap[*subscriber[T]](nil),
		dropped:     &atomic.Int64{},
	}
}

// Broadcast sends while holding the registry's read lock, a subscriber is removed under the write lock before
// its channel is closed
func (d defaultStream[T]) Broadcast(ctx context.Context, channel string, msg T) {
	d.subscribers.Range(func(_ string, sub *subscriber[T]) bool {
		if sub.channel != channel {
			return true
		}
		select {
		case sub.ch <- msg:
		default:
			d.dropped.Add(1)
		}
		return true
	})
}

func (d defaultStream[T]) Pull(ctx context.Context, channel string, fn func(T) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := ksuid.New().String()
	sub := &subscriber[T]{channel: channel, ch: make(chan T, d.buffer)}
	d.subscribers.Set(id, sub)
	// the subscription's lifetime is bound to ctx, not to the machine's scheduling of it
	d.machine.Go(context.Background(), func(_ context.Context) error {
		defer func() {
			d.subscribers.Del(id)
			close(sub.ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg := <-sub.ch:
				next, err := fn(msg)
				if err != nil {
					return err
				}
				if !next {
					return nil
				}
			}
		}
	})
	return nil
}

func (d defaultStream[T]) Dropped() int64 {
	return d.dropped.Load()
}

func (d defaultStream[T]) Wait() error {
	return d.machine.Wait()
}
