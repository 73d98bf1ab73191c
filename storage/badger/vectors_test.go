package badger

import (
	"context"
	"testing"

	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func point(docID core.ID, seq int, vector ...float32) *core.VectorPoint {
	return &core.VectorPoint{
		ChunkID:    core.ChunkID(docID, 1, seq),
		DocumentID: docID,
		Vector:     vector,
		Payload: core.VectorPayload{
			Filename: "spec.pdf",
			Page:     1,
			Tier:     core.TierGreen,
			Kind:     core.KindText,
			Text:     "chunk",
		},
	}
}

func TestVectors_SearchOrdersAndFilters(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, stores.Vectors.Upsert(ctx,
		point(1, 0, 1, 0, 0),
		point(1, 1, 0.8, 0.6, 0),
		point(1, 2, 0, 0, 1),
		point(1, 3),
	))

	query := []float32{1, 0, 0}

	t.Run("threshold", func(t *testing.T) {
		results, err := stores.Vectors.Search(ctx, query, 0.5, 10)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, core.ChunkID(1, 1, 0), results[0].Point.ChunkID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.InDelta(t, 0.8, results[1].Score, 1e-6)
		assert.Equal(t, "spec.pdf", results[0].Point.Payload.Filename)
	})

	t.Run("limit", func(t *testing.T) {
		results, err := stores.Vectors.Search(ctx, query, 0, 1)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("points without vectors are skipped", func(t *testing.T) {
		results, err := stores.Vectors.Search(ctx, query, -1, 10)
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})
}

func TestVectors_UpsertReplaces(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, stores.Vectors.Upsert(ctx, point(1, 0, 0, 1)))
	require.NoError(t, stores.Vectors.Upsert(ctx, point(1, 0, 1, 0)))

	count, err := stores.Vectors.CountByDocument(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := stores.Vectors.Search(ctx, []float32{1, 0}, 0.9, 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestVectors_DeleteByDocument(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, stores.Vectors.Upsert(ctx, point(1, 0, 1, 0), point(1, 1, 0, 1), point(2, 0, 1, 0)))
	require.NoError(t, stores.Vectors.DeleteByDocument(ctx, 1))

	count, err := stores.Vectors.CountByDocument(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)

	results, err := stores.Vectors.Search(ctx, []float32{1, 0}, -1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ID(2), results[0].Point.DocumentID)
}

func TestVectors_SearchRejectsEmptyQuery(t *testing.T) {
	stores := newTestStores(t)
	_, err := stores.Vectors.Search(context.Background(), nil, 0, 5)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestVectors_SearchByKind(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	table := point(1, 1, 0.8, 0.6)
	table.Payload.Kind = core.KindTable
	image := point(1, 2, 0.6, 0.8)
	image.Payload.Kind = core.KindImage
	require.NoError(t, stores.Vectors.Upsert(ctx, point(1, 0, 1, 0), table, image))

	results, err := stores.Vectors.Search(ctx, []float32{1, 0}, 0, 10, core.KindTable)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, table.ChunkID, results[0].Point.ChunkID)

	results, err = stores.Vectors.Search(ctx, []float32{1, 0}, 0, 10, core.KindTable, core.KindImage)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, table.ChunkID, results[0].Point.ChunkID)
	assert.Equal(t, image.ChunkID, results[1].Point.ChunkID)

	results, err = stores.Vectors.Search(ctx, []float32{1, 0}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}
