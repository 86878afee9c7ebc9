package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/autom8ter/machine/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream(t *testing.T) {
	t.Run("broadcast", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		s := New[int](machine.New())
		var (
			mu     sync.Mutex
			values []int
		)
		assert.NoError(t, s.Pull(ctx, "testing", func(i int) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			values = append(values, i)
			return true, nil
		}))

		for i := 0; i < 5; i++ {
			s.Broadcast(ctx, "testing", i)
		}
		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(values) == 5
		}, 2*time.Second, 10*time.Millisecond)
		cancel()
		s.Wait()
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int{0, 1, 2, 3, 4}, values)
	})
	t.Run("other channels are ignored", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s := New[string](machine.New())
		got := make(chan string, 2)
		require.NoError(t, s.Pull(ctx, "a", func(msg string) (bool, error) {
			got <- msg
			return true, nil
		}))
		s.Broadcast(ctx, "b", "skipped")
		s.Broadcast(ctx, "a", "delivered")
		assert.Equal(t, "delivered", <-got)
		cancel()
		s.Wait()
	})
	t.Run("handler ends subscription", func(t *testing.T) {
		ctx := context.Background()
		s := New[string](machine.New())
		got := make(chan string, 1)
		assert.NoError(t, s.Pull(ctx, "once", func(msg string) (bool, error) {
			got <- msg
			return false, nil
		}))
		s.Broadcast(ctx, "once", "hello")
		assert.Equal(t, "hello", <-got)
		s.Wait()
	})
	t.Run("slow subscriber does not block broadcast", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		s := New[int](machine.New(), WithBuffer(2))
		release := make(chan struct{})
		require.NoError(t, s.Pull(ctx, "slow", func(int) (bool, error) {
			<-release
			return true, nil
		}))
		start := time.Now()
		for i := 0; i < 100; i++ {
			s.Broadcast(ctx, "slow", i)
		}
		assert.Less(t, time.Since(start), 100*time.Millisecond)
		assert.GreaterOrEqual(t, s.Dropped(), int64(97))
		close(release)
		cancel()
		s.Wait()
	})
	t.Run("unsubscribe while broadcasting", func(t *testing.T) {
		s := New[int](machine.New(), WithBuffer(1))
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 20000; i++ {
				s.Broadcast(context.Background(), "churn", i)
			}
		}()
		for i := 0; i < 200; i++ {
			ctx, cancel := context.WithCancel(context.Background())
			require.NoError(t, s.Pull(ctx, "churn", func(int) (bool, error) {
				return true, nil
			}))
			cancel()
		}
		<-done
		s.Wait()
	})
	t.Run("done context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s := New[int](machine.New())
		assert.Error(t, s.Pull(ctx, "late", func(int) (bool, error) { return true, nil }))
		s.Broadcast(context.Background(), "late", 1)
		s.Wait()
	})
}
