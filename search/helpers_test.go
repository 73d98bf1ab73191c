package search

import (
	"context"
	"iter"
	"testing"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/ai/mock"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/ingestion"
	"github.com/poiesic/veridoc/storage/badger"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	stores *badger.Stores
	mocks  mock.Services
	router *Router

	red, green, yellow, draft *core.Chunk
}

type chunkSpec struct {
	kind    core.ContentKind
	page    int
	tier    core.Tier
	text    string
	triples []ai.Triple
	params  []core.Parameter
	vector  []float32
}

// newFixture indexes a small process document plus a draft that is still
// being processed. Queries embed to queryVector unless overridden.
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{0, 1, 0}, nil
	}
	provider := mock.NewMockProviderWithServices(mock.Services{Embedder: embedder})
	writer, err := ingestion.NewWriter(stores.Documents, stores.Graph, stores.Vectors, embedder, nil)
	require.NoError(t, err)

	f := &fixture{stores: stores, mocks: provider.(*mock.MockProvider).Mocks()}

	doc := &core.Document{Id: 1, Hash: "a", Filename: "bcd_process.pdf", Status: core.DocumentIndexed}
	require.NoError(t, stores.Documents.SaveDocument(ctx, doc))
	f.red = indexChunk(t, writer, doc, 1, chunkSpec{
		page:    12,
		tier:    core.TierRed,
		text:    "The 40V LDMOS is produced by Fab 7. BVDSS is 45 V.",
		triples: []ai.Triple{{Source: "LDMOS", SourceType: "device", Relation: "produced by", Target: "Fab 7", TargetType: "foundry"}},
		params:  []core.Parameter{{Name: "BVDSS", Value: "45", Unit: "V"}},
		vector:  []float32{1, 0, 0},
	})
	f.green = indexChunk(t, writer, doc, 2, chunkSpec{
		page:   3,
		tier:   core.TierGreen,
		text:   "The isolation scheme uses deep trench isolation.",
		vector: []float32{0, 1, 0},
	})
	f.yellow = indexChunk(t, writer, doc, 3, chunkSpec{
		page:   4,
		tier:   core.TierYellow,
		text:   "Process flow overview.",
		vector: []float32{0, 0.8, 0.6},
	})

	draft := &core.Document{Id: 2, Hash: "b", Filename: "draft.pdf", Status: core.DocumentProcessing}
	require.NoError(t, stores.Documents.SaveDocument(ctx, draft))
	f.draft = indexChunk(t, writer, draft, 1, chunkSpec{
		page:   1,
		tier:   core.TierGreen,
		text:   "Draft isolation notes.",
		vector: []float32{0, 1, 0},
	})

	router, err := NewRouter(stores.Documents, stores.Graph, stores.Vectors, provider, WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(router.Close)
	f.router = router
	return f
}

func indexChunk(t *testing.T, writer *ingestion.Writer, doc *core.Document, seq int, spec chunkSpec) *core.Chunk {
	t.Helper()
	if spec.kind == 0 {
		spec.kind = core.KindText
	}
	chunk := &core.Chunk{
		Id:         core.ChunkID(doc.Id, spec.page, seq),
		DocumentID: doc.Id,
		Page:       spec.page,
		Seq:        seq,
		Kind:       spec.kind,
		Tier:       spec.tier,
		Status:     core.ChunkExtracted,
		Text:       spec.text,
	}
	entities, relations := ingestion.NewEntityNormalizer().Normalize(chunk, spec.triples, spec.params)
	err := writer.Write(context.Background(), &ingestion.Record{
		Document: doc,
		Chunk:    chunk,
		Extraction: &ingestion.Extraction{
			Result: &core.ExtractionResult{
				ChunkID:    chunk.Id,
				DocumentID: doc.Id,
				Route:      ingestion.RouteFor(spec.tier, spec.kind),
				Parameters: spec.params,
				Text:       spec.text,
				Status:     core.ChunkExtracted,
			},
		},
		Entities:  entities,
		Relations: relations,
		Vector:    spec.vector,
	})
	require.NoError(t, err)
	return chunk
}

func sourceIDs(sources []core.Source) []core.ID {
	ids := make([]core.ID, len(sources))
	for i, s := range sources {
		ids[i] = s.ChunkID
	}
	return ids
}

// recordingMonitor captures the routing callbacks.
type recordingMonitor struct {
	noopMonitor
	started   string
	intent    core.Intent
	seeds     []string
	graphHits int
	vectorHit int
	fallbacks []string
	finished  *Result
}

func (m *recordingMonitor) Start(query string)               { m.started = query }
func (m *recordingMonitor) AfterClassify(intent core.Intent) { m.intent = intent }

func (m *recordingMonitor) AfterSeedExtraction(seeds []*core.Entity) {
	for _, s := range seeds {
		m.seeds = append(m.seeds, s.Name)
	}
}

func (m *recordingMonitor) AfterGraphSearch(scores iter.Seq2[core.ID, float32]) {
	for range scores {
		m.graphHits++
	}
}

func (m *recordingMonitor) AfterVectorSearch(matches []*core.VectorMatch) {
	m.vectorHit += len(matches)
}

func (m *recordingMonitor) Fallback(from, to core.RetrievalMode, reason string) {
	m.fallbacks = append(m.fallbacks, string(from)+"->"+string(to)+": "+reason)
}

func (m *recordingMonitor) Finish(result *Result) { m.finished = result }
