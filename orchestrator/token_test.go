package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelToken(t *testing.T) {
	token := NewCancelToken()
	assert.False(t, token.Cancelled())
	assert.NoError(t, token.Err())

	assert.True(t, token.Cancel())
	assert.False(t, token.Cancel())
	assert.True(t, token.Cancelled())
	assert.ErrorIs(t, token.Err(), ErrCancelled)

	select {
	case <-token.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestCancelToken_ConcurrentCancel(t *testing.T) {
	token := NewCancelToken()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if token.Cancel() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.clock = func() time.Time { return now }

	ok, err := l.Acquire(ctx, "document:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "document:abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Acquire(ctx, "document:def", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "locks are independent by name")

	now = now.Add(2 * time.Minute)
	ok, err = l.Acquire(ctx, "document:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be taken")

	require.NoError(t, l.Release(ctx, "document:abc"))
	require.NoError(t, l.Release(ctx, "never-held"))
	ok, err = l.Acquire(ctx, "document:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
