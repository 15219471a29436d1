//go:build !integration

package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	t.Run("should run every submitted task", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p := NewPool(3, nil)
		p.Start(ctx)

		var (
			wg  sync.WaitGroup
			ran int32
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			require.NoError(t, p.Submit(ctx, func(ctx context.Context) error {
				defer wg.Done()
				atomic.AddInt32(&ran, 1)
				return nil
			}))
		}
		wg.Wait()
		p.Stop()
		assert.EqualValues(t, 20, atomic.LoadInt32(&ran))
	})

	t.Run("should survive task errors and panics", func(t *testing.T) {
		ctx := context.Background()
		p := NewPool(1, nil)
		p.Start(ctx)

		done := make(chan struct{})
		require.NoError(t, p.Submit(ctx, func(context.Context) error { return errors.New("boom") }))
		require.NoError(t, p.Submit(ctx, func(context.Context) error { panic("kaboom") }))
		require.NoError(t, p.Submit(ctx, func(context.Context) error { close(done); return nil }))

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not recover")
		}
		p.Stop()
	})

	t.Run("should still call queued tasks when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := NewPool(1, nil)
		p.Start(ctx)

		var ran int32
		started := make(chan struct{})
		require.NoError(t, p.Submit(ctx, func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			atomic.AddInt32(&ran, 1)
			return ctx.Err()
		}))
		for i := 0; i < 3; i++ {
			require.NoError(t, p.Submit(ctx, func(ctx context.Context) error {
				atomic.AddInt32(&ran, 1)
				return nil
			}))
		}
		<-started
		cancel()

		stopped := make(chan struct{})
		go func() {
			p.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Fatal("Stop did not return after cancellation")
		}
		assert.EqualValues(t, 4, atomic.LoadInt32(&ran))
		assert.ErrorIs(t, p.Submit(ctx, func(context.Context) error { return nil }), ErrPoolClosed)
	})

	t.Run("should reject submissions after stop", func(t *testing.T) {
		p := NewPool(1, nil)
		p.Start(context.Background())
		p.Stop()
		assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
	})
}
