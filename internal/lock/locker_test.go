package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_SingleHolderPerKey(t *testing.T) {
	l := NewLocker()

	var active, peak atomic.Int32

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			u, err := l.ContextLock(context.Background(), "a.mp4")
			if !assert.NoError(t, err) {
				return
			}
			defer u.Unlock()

			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}

			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 0, l.(*locker).size())
}

func TestLocker_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocker()

	a, err := l.ContextLock(context.Background(), "a")
	require.NoError(t, err)
	defer a.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	b, err := l.ContextLock(ctx, "b")
	require.NoError(t, err)
	b.Unlock()
}

func TestLocker_ContextLockCancelled(t *testing.T) {
	l := NewLocker()

	held, err := l.ContextLock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.ContextLock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	held.Unlock()
	held.Unlock()

	assert.Equal(t, 0, l.(*locker).size())
}
