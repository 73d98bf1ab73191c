package reembed

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/veridoc/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkIterator_VisitsAllInOrder(t *testing.T) {
	stores := setupTestStores(t)
	addDocument(t, stores, "a.pdf", core.DocumentIndexed, 3)
	addDocument(t, stores, "b.pdf", core.DocumentIndexed, 2)

	for _, size := range []int{1, 2, 5, 100} {
		iter := NewChunkIterator(stores.Documents, size)
		var ids []core.ID
		batches := 0
		err := iter.ForEach(context.Background(), 0, func(chunks []*core.Chunk) error {
			batches++
			assert.LessOrEqual(t, len(chunks), size)
			for _, c := range chunks {
				ids = append(ids, c.Id)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Len(t, ids, 5, "batch size %d", size)
		assert.IsIncreasing(t, ids, "batch size %d", size)
	}
}

func TestChunkIterator_After(t *testing.T) {
	stores := setupTestStores(t)
	addDocument(t, stores, "a.pdf", core.DocumentIndexed, 4)

	iter := NewChunkIterator(stores.Documents, 2)
	var all []core.ID
	require.NoError(t, iter.ForEach(context.Background(), 0, func(chunks []*core.Chunk) error {
		for _, c := range chunks {
			all = append(all, c.Id)
		}
		return nil
	}))
	require.Len(t, all, 4)

	count, err := iter.Count(context.Background(), all[1])
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var rest []core.ID
	require.NoError(t, iter.ForEach(context.Background(), all[1], func(chunks []*core.Chunk) error {
		for _, c := range chunks {
			rest = append(rest, c.Id)
		}
		return nil
	}))
	assert.Equal(t, all[2:], rest)
}

func TestChunkIterator_Empty(t *testing.T) {
	stores := setupTestStores(t)
	iter := NewChunkIterator(stores.Documents, 10)

	called := false
	err := iter.ForEach(context.Background(), 0, func([]*core.Chunk) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)

	count, err := iter.Count(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestChunkIterator_StopsOnError(t *testing.T) {
	stores := setupTestStores(t)
	addDocument(t, stores, "a.pdf", core.DocumentIndexed, 4)

	boom := errors.New("boom")
	calls := 0
	err := NewChunkIterator(stores.Documents, 1).ForEach(context.Background(), 0, func([]*core.Chunk) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestChunkIterator_ContextCancellation(t *testing.T) {
	stores := setupTestStores(t)
	addDocument(t, stores, "a.pdf", core.DocumentIndexed, 4)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := NewChunkIterator(stores.Documents, 1).ForEach(ctx, 0, func([]*core.Chunk) error {
		calls++
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestChunkIterator_InvalidBatchSize(t *testing.T) {
	stores := setupTestStores(t)
	assert.Equal(t, DefaultBatchSize, NewChunkIterator(stores.Documents, 0).batchSize)
	assert.Equal(t, DefaultBatchSize, NewChunkIterator(stores.Documents, -3).batchSize)
}
