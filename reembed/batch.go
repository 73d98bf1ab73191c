package reembed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/ingestion"
	"github.com/poiesic/veridoc/retry"
	"github.com/poiesic/veridoc/storage"
)

// BatchProcessor re-embeds batches of chunks and replaces their vector points.
type BatchProcessor struct {
	docs           storage.DocumentRepository
	vectors        storage.VectorStore
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
	documents      map[core.ID]*core.Document
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts for embedding API calls
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(docs storage.DocumentRepository, vectors storage.VectorStore, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		docs:           docs,
		vectors:        vectors,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		documents:      make(map[core.ID]*core.Document),
	}
}

// Process embeds a batch of chunks and upserts their vector points.
// Chunks of documents that are not indexed are skipped; the number of
// re-embedded chunks is returned. Vectors are normalized after embedding to
// ensure compatibility with cosine similarity.
func (bp *BatchProcessor) Process(ctx context.Context, chunks []*core.Chunk) (int, error) {
	var selected []*core.Chunk
	var docs []*core.Document
	var texts []string
	for _, chunk := range chunks {
		doc, err := bp.document(ctx, chunk.DocumentID)
		if err != nil {
			return 0, err
		}
		if doc == nil || doc.Status != core.DocumentIndexed {
			continue
		}

		var result *core.ExtractionResult
		result, err = bp.docs.GetResult(ctx, chunk.Id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("failed to load result of chunk %d: %w", chunk.Id, err)
		}
		selected = append(selected, chunk)
		docs = append(docs, doc)
		texts = append(texts, ingestion.EmbeddingText(chunk, result))
	}
	if len(selected) == 0 {
		return 0, nil
	}

	// Generate embeddings with retry
	var embeddings [][]float32
	err := retry.WithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}

	if len(embeddings) != len(selected) {
		return 0, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(selected), len(embeddings))
	}

	points := make([]*core.VectorPoint, len(selected))
	for i, chunk := range selected {
		points[i] = &core.VectorPoint{
			ChunkID:    chunk.Id,
			DocumentID: chunk.DocumentID,
			Vector:     ingestion.NormalizeVector(embeddings[i]),
			Payload: core.VectorPayload{
				Filename: docs[i].Filename,
				Page:     chunk.Page,
				Tier:     chunk.Tier,
				Kind:     chunk.Kind,
				Text:     texts[i],
			},
		}
	}

	if err := bp.vectors.Upsert(ctx, points...); err != nil {
		return 0, fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return len(points), nil
}

// document returns a cached document, or nil if it no longer exists.
func (bp *BatchProcessor) document(ctx context.Context, id core.ID) (*core.Document, error) {
	if doc, ok := bp.documents[id]; ok {
		return doc, nil
	}
	doc, err := bp.docs.GetDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		doc, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %d: %w", id, err)
	}
	bp.documents[id] = doc
	return doc, nil
}
