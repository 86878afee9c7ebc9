package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/autom8ter/docrepl/fetcher"
	redissource "github.com/autom8ter/docrepl/fetcher/redis"
	"github.com/autom8ter/docrepl/internal/testutil"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/go-redis/redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	src := redissource.New(client, "")

	ops := []*oplog.Operation{
		testutil.Insert(testutil.Users, testutil.NewUserDoc()),
		testutil.Update(testutil.Users, "1", map[string]any{"$set": map[string]any{"x": 1}}, true),
		testutil.Delete(testutil.Users, "1"),
	}
	last, err := src.Append(ctx, ops[:2]...)
	require.NoError(t, err)
	assert.Equal(t, ops[1].Checkpoint(), last)
	last, err = src.Append(ctx, ops[2])
	require.NoError(t, err)
	assert.Equal(t, uint32(3), last.Position.T)

	t.Run("fetch from the beginning", func(t *testing.T) {
		f := fetcher.New(src, 0, oplog.Position{})
		defer f.Close(ctx)
		for _, want := range ops {
			op, err := f.Next(ctx, time.Second)
			require.NoError(t, err)
			require.NotNil(t, op)
			assert.Equal(t, want.Kind, op.Kind)
			assert.Equal(t, want.Hash, op.Hash)
			assert.True(t, want.Document.Equal(op.Document))
		}
		op, err := f.Next(ctx, 20*time.Millisecond)
		assert.NoError(t, err)
		assert.Nil(t, op)
	})
	t.Run("resume", func(t *testing.T) {
		cp := ops[0].Checkpoint()
		f := fetcher.New(src, cp.Hash, cp.Position)
		defer f.Close(ctx)
		op, err := f.Next(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, op)
		assert.Equal(t, ops[1].Position, op.Position)
	})
	t.Run("end of stream", func(t *testing.T) {
		require.NoError(t, src.End(ctx))
		f := fetcher.New(src, last.Hash, last.Position)
		defer f.Close(ctx)
		_, err := f.Next(ctx, time.Second)
		assert.ErrorIs(t, err, fetcher.ErrExhausted)
	})
}
