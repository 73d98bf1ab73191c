// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/retry"
	"github.com/poiesic/veridoc/storage"
)

// Record is everything written for one processed chunk.
type Record struct {
	Document   *core.Document
	Chunk      *core.Chunk
	Extraction *Extraction
	Entities   []*core.Entity
	Relations  []*core.Relation

	// Vector is the normalized embedding of Chunk.Text computed during
	// classification. It is reused when the embedding text is the chunk text.
	Vector []float32
}

// Writer is the only component that mutates the document, graph and vector
// stores during ingestion. Every write is an upsert keyed by a stable ID.
type Writer struct {
	docs      storage.DocumentRepository
	graph     storage.GraphStore
	vectors   storage.VectorStore
	embedder  ai.Embedder
	attempts  int
	baseDelay time.Duration
	logger    *slog.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer) error

// WithWriterEmbedRetry sets the retry policy for transient embedding
// failures. Default is 3 attempts starting at 500ms.
func WithWriterEmbedRetry(attempts int, baseDelay time.Duration) WriterOption {
	return func(w *Writer) error {
		if attempts > 0 {
			w.attempts = attempts
		}
		if baseDelay > 0 {
			w.baseDelay = baseDelay
		}
		return nil
	}
}

// NewWriter creates a writer over the three stores.
func NewWriter(docs storage.DocumentRepository, graph storage.GraphStore, vectors storage.VectorStore, embedder ai.Embedder, logger *slog.Logger, opts ...WriterOption) (*Writer, error) {
	if docs == nil {
		return nil, ErrRepositoryRequired
	}
	if graph == nil {
		return nil, ErrGraphStoreRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		docs:      docs,
		graph:     graph,
		vectors:   vectors,
		embedder:  embedder,
		attempts:  3,
		baseDelay: 500 * time.Millisecond,
		logger:    logger.With("component", "writer"),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Write persists one chunk with its extraction, graph facts and embedding.
// A chunk whose embedding cannot be computed is stored FLAGGED, under its
// classification vector when there is one. Store failures are wrapped in
// ErrStoreWrite; only cancellation of ctx is returned unwrapped.
func (w *Writer) Write(ctx context.Context, rec *Record) error {
	chunk := rec.Chunk
	res := rec.Extraction.Result

	text := EmbeddingText(chunk, res)
	vector, err := w.embed(ctx, rec, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		w.logger.Warn("embedding failed, flagging chunk", "chunk", chunk.Id, "page", chunk.Page, "err", err)
		chunk.Status = core.ChunkFlagged
		res.Status = core.ChunkFlagged
		vector = rec.Vector
	}

	if err := w.docs.SaveChunks(ctx, chunk); err != nil {
		return fmt.Errorf("%w: saving chunk %d: %w", ErrStoreWrite, chunk.Id, err)
	}
	if err := w.docs.SaveResult(ctx, res); err != nil {
		return fmt.Errorf("%w: saving result %d: %w", ErrStoreWrite, chunk.Id, err)
	}
	if audit := rec.Extraction.Audit; audit != nil {
		audit.ChunkID = chunk.Id
		audit.DocumentID = chunk.DocumentID
		if audit.CreatedAt.IsZero() {
			audit.CreatedAt = time.Now().UTC()
		}
		if err := w.docs.SaveAuditRecord(ctx, audit); err != nil {
			return fmt.Errorf("%w: saving audit record %d: %w", ErrStoreWrite, chunk.Id, err)
		}
	}

	if len(rec.Entities) > 0 {
		if _, err := w.graph.UpsertEntities(ctx, rec.Entities...); err != nil {
			return fmt.Errorf("%w: upserting entities: %w", ErrStoreWrite, err)
		}
	}
	if len(rec.Relations) > 0 {
		if _, err := w.graph.UpsertRelations(ctx, rec.Relations...); err != nil {
			return fmt.Errorf("%w: upserting relations: %w", ErrStoreWrite, err)
		}
	}

	if len(vector) == 0 {
		return nil
	}
	var filename string
	if rec.Document != nil {
		filename = rec.Document.Filename
	}
	point := &core.VectorPoint{
		ChunkID:    chunk.Id,
		DocumentID: chunk.DocumentID,
		Vector:     vector,
		Payload: core.VectorPayload{
			Filename: filename,
			Page:     chunk.Page,
			Tier:     chunk.Tier,
			Kind:     chunk.Kind,
			Text:     text,
		},
	}
	if err := w.vectors.Upsert(ctx, point); err != nil {
		return fmt.Errorf("%w: upserting vector %d: %w", ErrStoreWrite, chunk.Id, err)
	}
	return nil
}

// embed returns the normalized embedding of text, reusing the classification
// vector when text is the chunk text. Transient failures are retried.
func (w *Writer) embed(ctx context.Context, rec *Record, text string) ([]float32, error) {
	if len(rec.Vector) > 0 && text == rec.Chunk.Text {
		return rec.Vector, nil
	}
	var v []float32
	err := retry.WithBackoffIf(ctx, func() error {
		var err error
		v, err = w.embedder.EmbedText(ctx, text)
		return err
	}, w.attempts, w.baseDelay, isTransient)
	if err != nil {
		return nil, fmt.Errorf("embedding chunk %d: %w", rec.Chunk.Id, err)
	}
	return NormalizeVector(v), nil
}

// Cleanup removes everything ingestion wrote for a document: vector points,
// graph provenance and chunk data. The document record itself is kept.
// Every step runs even if an earlier one fails.
func (w *Writer) Cleanup(ctx context.Context, docID core.ID) error {
	var errs []error
	if err := w.vectors.DeleteByDocument(ctx, docID); err != nil {
		errs = append(errs, fmt.Errorf("deleting vectors: %w", err))
	}
	if err := w.graph.DeleteByDocument(ctx, docID); err != nil {
		errs = append(errs, fmt.Errorf("deleting graph provenance: %w", err))
	}
	if err := w.docs.DeleteDocumentData(ctx, docID); err != nil {
		errs = append(errs, fmt.Errorf("deleting chunk data: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: cleanup of document %d: %w", ErrStoreWrite, docID, errors.Join(errs...))
	}
	w.logger.Debug("cleaned up document", "document", docID)
	return nil
}

// EmbeddingText returns the text a chunk is embedded under: the normalized
// text, the description of an image, or the rendered rows of a table.
// Content with no text at all, such as an undescribed figure, is embedded
// under its kind and page so that no model call is made for empty input.
func EmbeddingText(chunk *core.Chunk, res *core.ExtractionResult) string {
	text := embeddingText(chunk, res)
	if strings.TrimSpace(text) == "" {
		return fmt.Sprintf("%s, page %d", chunk.Kind, chunk.Page)
	}
	return text
}

func embeddingText(chunk *core.Chunk, res *core.ExtractionResult) string {
	if res == nil {
		return chunk.Text
	}
	switch {
	case chunk.Kind == core.KindImage && res.Description != "":
		if chunk.Text == "" {
			return res.Description
		}
		return chunk.Text + "\n" + res.Description
	case res.Table != nil:
		return RenderTable(res.Table)
	default:
		return chunk.Text
	}
}

// RenderTable renders a table as pipe separated lines, header rows first.
// A merged header cell is repeated across the columns it spans.
func RenderTable(t *core.Table) string {
	if t == nil {
		return ""
	}
	var sb strings.Builder
	for _, header := range t.Headers {
		cells := make([]string, 0, len(header))
		for _, cell := range header {
			for range max(cell.Span, 1) {
				cells = append(cells, cell.Text)
			}
		}
		writeRow(&sb, cells)
	}
	for _, row := range t.Rows {
		writeRow(&sb, row)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func writeRow(sb *strings.Builder, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			sb.WriteString(" | ")
		}
		sb.WriteString(strings.TrimSpace(cell))
	}
	sb.WriteByte('\n')
}
