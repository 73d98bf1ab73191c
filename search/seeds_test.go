package search

import (
	"context"
	"testing"

	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/storage"
	"github.com/poiesic/veridoc/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingGraph counts full entity name scans.
type countingGraph struct {
	storage.GraphStore
	scans int
}

func (g *countingGraph) AllEntityNames(ctx context.Context) ([]string, error) {
	g.scans++
	return g.GraphStore.AllEntityNames(ctx)
}

func newSeedExtractor(t *testing.T) (*SeedExtractor, *countingGraph) {
	t.Helper()
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	graph := &countingGraph{GraphStore: stores.Graph}
	s, err := NewSeedExtractor(graph, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, graph
}

func upsertEntity(t *testing.T, graph storage.GraphStore, name, entityType string) {
	t.Helper()
	ref := core.ChunkRef{ChunkID: core.ChunkID(1, 1, 1), DocumentID: 1}
	_, err := graph.UpsertEntities(context.Background(), &core.Entity{Name: name, Type: entityType, Sources: []core.ChunkRef{ref}})
	require.NoError(t, err)
}

func seedNames(seeds *Seeds) []string {
	names := make([]string, len(seeds.Entities))
	for i, e := range seeds.Entities {
		names[i] = e.Name
	}
	return names
}

func TestSeedExtractor_ReloadsNamesOnlyAfterGraphChanges(t *testing.T) {
	s, graph := newSeedExtractor(t)
	ctx := context.Background()
	upsertEntity(t, graph, "ldmos", "device")

	seeds, err := s.Extract(ctx, "Who makes the LDMOS?")
	require.NoError(t, err)
	assert.Equal(t, []string{"ldmos"}, seedNames(seeds))
	assert.Equal(t, 1, graph.scans)

	for range 3 {
		_, err = s.Extract(ctx, "Who makes the LDMOS?")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, graph.scans, "unchanged graph is not rescanned")

	upsertEntity(t, graph, "deep trench isolation", "structure")
	seeds, err = s.Extract(ctx, "Where is deep trench isolation used?")
	require.NoError(t, err)
	assert.Equal(t, 2, graph.scans)
	assert.Equal(t, []string{"deep trench isolation"}, seedNames(seeds))
}

func TestSeedExtractor_Closed(t *testing.T) {
	s, _ := newSeedExtractor(t)
	s.Close()
	s.Close()

	assert.ErrorIs(t, s.Refresh(context.Background()), ErrSeedExtractorClosed)
	_, err := s.Extract(context.Background(), "Who makes the LDMOS?")
	assert.ErrorIs(t, err, ErrSeedExtractorClosed)
}
