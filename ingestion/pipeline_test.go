package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/ai/mock"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/storage"
	"github.com/poiesic/veridoc/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingVectors fails every upsert.
type failingVectors struct {
	storage.VectorStore
}

func (f *failingVectors) Upsert(ctx context.Context, points ...*core.VectorPoint) error {
	return errors.New("disk full")
}

func newTestPipeline(t *testing.T, stores *badger.Stores, provider ai.AIProvider, vectors storage.VectorStore) *Pipeline {
	t.Helper()
	classifier, err := NewClassifier(provider.Embedder(), ClassifierOptions{Prototypes: axisPrototypes()})
	require.NoError(t, err)
	dispatcher, err := NewDispatcher(provider, testDispatcherOptions(), nil)
	require.NoError(t, err)
	if vectors == nil {
		vectors = stores.Vectors
	}
	writer, err := NewWriter(stores.Documents, stores.Graph, vectors, provider.Embedder(), nil, WithWriterEmbedRetry(2, time.Millisecond))
	require.NoError(t, err)

	p, err := NewPipeline(classifier, dispatcher, writer, WithPoolSize(3), WithEmbedRetry(2, time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

// greenEmbedder embeds everything close to the GREEN prototype.
func greenEmbedder() *mock.MockEmbedder {
	e := mock.NewMockEmbedder()
	e.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{0, 0.1, 0.9}, nil
	}
	return e
}

func TestNewPipeline_Validation(t *testing.T) {
	_, err := NewPipeline(nil, nil, nil)
	assert.ErrorIs(t, err, ErrClassifierRequired)
}

func TestPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()
	stores := setupTestStores(t)

	relations := mock.NewMockRelationExtractor()
	relations.ExtractRelationsFunc = func(ctx context.Context, text string) ([]ai.Triple, error) {
		return []ai.Triple{{Source: "40V LDMOS", SourceType: "device", Relation: "produced_by", Target: "Fab 7", TargetType: "foundry"}}, nil
	}
	params := mock.NewMockParameterExtractor()
	params.ExtractParametersFunc = func(ctx context.Context, text string, strict bool) ([]core.Parameter, error) {
		return []core.Parameter{{Name: "BVDSS", Value: "45", Unit: "V"}}, nil
	}
	provider := mock.NewMockProviderWithServices(mock.Services{
		Embedder:   greenEmbedder(),
		Parameters: params,
		Relations:  relations,
	})
	p := newTestPipeline(t, stores, provider, nil)

	doc := &core.Document{Id: 77, Hash: "h", Filename: "bcd180.pdf"}
	require.NoError(t, stores.Documents.SaveDocument(ctx, doc))

	blocks := []core.Block{
		textBlock(1, 100, "The 40V LDMOS breakdown voltage BVDSS is 45 V."),
		textBlock(1, 130, "General introduction of the platform."),
		{Page: 2, Kind: core.KindImage, Text: "Figure 1", Image: []byte{0x89, 0x50}},
	}

	chunks := p.Normalize(doc.Id, blocks)
	require.Len(t, chunks, 3)

	classified, err := p.Classify(ctx, chunks)
	require.NoError(t, err)
	assert.Equal(t, core.TierRed, classified[0].Chunk.Tier)
	assert.Nil(t, classified[0].Vector)
	assert.Equal(t, core.TierGreen, classified[1].Chunk.Tier)
	assert.NotNil(t, classified[1].Vector)
	assert.Equal(t, core.TierYellow, classified[2].Chunk.Tier)

	var (
		mu     sync.Mutex
		stages []core.Stage
	)
	result, err := p.ProcessBatch(ctx, doc, classified, func(s core.Stage) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, s)
	})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Extracted: 3}, result)
	assert.Equal(t, []core.Stage{core.StageExtract, core.StageEntities, core.StageWrite}, stages)

	stored, err := stores.Documents.ListChunks(ctx, doc.Id)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for _, c := range stored {
		assert.Equal(t, core.ChunkExtracted, c.Status)
	}

	points, err := stores.Vectors.CountByDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, 3, points)

	param, err := stores.Graph.FindEntity(ctx, "bvdss", "parameter")
	require.NoError(t, err)
	assert.Equal(t, []core.ChunkRef{{ChunkID: chunks[0].Id, DocumentID: doc.Id}}, param.Sources)

	audits, err := stores.Documents.ListAuditRecords(ctx, doc.Id)
	require.NoError(t, err)
	assert.Len(t, audits, 1)
}

func TestPipeline_FlaggedChunksAreStillWritten(t *testing.T) {
	ctx := context.Background()
	stores := setupTestStores(t)

	params := mock.NewMockParameterExtractor()
	params.ExtractParametersFunc = func(ctx context.Context, text string, strict bool) ([]core.Parameter, error) {
		return nil, ai.ErrMalformedOutput
	}
	provider := mock.NewMockProviderWithServices(mock.Services{Embedder: greenEmbedder(), Parameters: params})
	p := newTestPipeline(t, stores, provider, nil)

	doc := &core.Document{Id: 5, Hash: "h", Filename: "rules.pdf"}
	classified, err := p.Classify(ctx, p.Normalize(doc.Id, []core.Block{textBlock(3, 100, "Design rule M1.S.1: spacing >= 0.23 um.")}))
	require.NoError(t, err)

	result, err := p.ProcessBatch(ctx, doc, classified, nil)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Flagged: 1}, result)

	stored, err := stores.Documents.ListChunks(ctx, doc.Id)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, core.ChunkFlagged, stored[0].Status)
	assert.Equal(t, float32(ConfidenceLow), stored[0].Confidence)

	entities, _, err := stores.Graph.CountByDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Zero(t, entities)
}

func TestPipeline_ClassifyFailureEscalatesToRed(t *testing.T) {
	stores := setupTestStores(t)
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, ai.ErrTransient
	}
	p := newTestPipeline(t, stores, mock.NewMockProviderWithServices(mock.Services{Embedder: embedder}), nil)

	classified, err := p.Classify(context.Background(), p.Normalize(1, []core.Block{textBlock(1, 100, "plain prose.")}))
	require.NoError(t, err)
	require.Len(t, classified, 1)
	assert.Equal(t, core.TierRed, classified[0].Chunk.Tier)
	assert.Equal(t, 2, embedder.CallCount())
}

func TestPipeline_StoreWriteFailure(t *testing.T) {
	ctx := context.Background()
	stores := setupTestStores(t)
	provider := mock.NewMockProviderWithServices(mock.Services{Embedder: greenEmbedder()})
	p := newTestPipeline(t, stores, provider, &failingVectors{VectorStore: stores.Vectors})

	doc := &core.Document{Id: 9, Hash: "h", Filename: "a.pdf"}
	classified, err := p.Classify(ctx, p.Normalize(doc.Id, []core.Block{
		textBlock(1, 100, "first paragraph."),
		textBlock(1, 130, "second paragraph."),
	}))
	require.NoError(t, err)

	_, err = p.ProcessBatch(ctx, doc, classified, nil)
	assert.ErrorIs(t, err, ErrStoreWrite)
}

func TestPipeline_FailedFigureDoesNotFailBatch(t *testing.T) {
	ctx := context.Background()
	stores := setupTestStores(t)

	vision := mock.NewMockVisionInterpreter()
	vision.DescribeImageFunc = func(ctx context.Context, image []byte, caption string) (string, error) {
		return "", ai.ErrTransient
	}
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		if text == "" {
			return nil, errors.New("status code: 400, input must not be empty")
		}
		return []float32{0, 0.1, 0.9}, nil
	}
	provider := mock.NewMockProviderWithServices(mock.Services{Embedder: embedder, Vision: vision})
	p := newTestPipeline(t, stores, provider, nil)

	doc := &core.Document{Id: 12, Hash: "h", Filename: "fig.pdf"}
	classified, err := p.Classify(ctx, p.Normalize(doc.Id, []core.Block{
		textBlock(1, 100, "General introduction of the platform."),
		{Page: 2, Kind: core.KindImage, Image: []byte{0x89, 0x50}},
	}))
	require.NoError(t, err)
	require.Len(t, classified, 2)

	result, err := p.ProcessBatch(ctx, doc, classified, nil)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Extracted: 1, Flagged: 1}, result)

	stored, err := stores.Documents.ListChunks(ctx, doc.Id)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, core.ChunkFlagged, stored[1].Status)

	points, err := stores.Vectors.CountByDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, 2, points)
}

func TestPipeline_TransientWriteEmbedRetried(t *testing.T) {
	ctx := context.Background()
	stores := setupTestStores(t)

	var (
		mu    sync.Mutex
		calls int
	)
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, ai.ErrTransient
		}
		return []float32{0, 0.1, 0.9}, nil
	}
	provider := mock.NewMockProviderWithServices(mock.Services{Embedder: embedder})
	p := newTestPipeline(t, stores, provider, nil)

	// Images skip the classification embedding, so the only embedding is the
	// write of the figure caption and description.
	doc := &core.Document{Id: 13, Hash: "h", Filename: "fig.pdf"}
	classified, err := p.Classify(ctx, p.Normalize(doc.Id, []core.Block{
		{Page: 2, Kind: core.KindImage, Text: "Figure 1", Image: []byte{0x89, 0x50}},
	}))
	require.NoError(t, err)

	result, err := p.ProcessBatch(ctx, doc, classified, nil)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Extracted: 1}, result)
	assert.Equal(t, 2, embedder.CallCount())

	points, err := stores.Vectors.CountByDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, points)
}

func TestPipeline_Workers(t *testing.T) {
	stores := setupTestStores(t)
	p := newTestPipeline(t, stores, mock.NewMockProvider(), nil)
	assert.Equal(t, 3, p.Workers())
	assert.NotNil(t, p.Writer())
}
