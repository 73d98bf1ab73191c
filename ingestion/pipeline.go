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
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/retry"
)

// ClassifiedChunk is a normalized chunk with its tier assigned.
// Vector is the classification embedding of the chunk text, if one was computed.
type ClassifiedChunk struct {
	Chunk  *core.Chunk
	Vector []float32
}

// BatchResult summarizes one processed batch.
type BatchResult struct {
	Extracted int
	Flagged   int
}

// Pipeline runs the per-document ingestion stages over a bounded worker pool:
// normalize and classify, then extract, normalize entities and write in batches.
type Pipeline struct {
	classifier *Classifier
	dispatcher *Dispatcher
	entities   *EntityNormalizer
	writer     *Writer
	pool       *ants.Pool
	normalizer NormalizerOptions
	attempts   int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of concurrent extraction workers.
// Default is 5.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithNormalizerOptions sets the chunk normalizer options.
func WithNormalizerOptions(opts NormalizerOptions) Option {
	return func(p *Pipeline) error {
		p.normalizer = opts.withDefaults()
		return nil
	}
}

// WithEmbedRetry sets the retry policy for classification embeddings.
// Default is 3 attempts starting at 500ms.
func WithEmbedRetry(attempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if attempts > 0 {
			p.attempts = attempts
		}
		if baseDelay > 0 {
			p.baseDelay = baseDelay
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a pipeline from its stage components.
func NewPipeline(classifier *Classifier, dispatcher *Dispatcher, writer *Writer, opts ...Option) (*Pipeline, error) {
	if classifier == nil {
		return nil, ErrClassifierRequired
	}
	if dispatcher == nil {
		return nil, ErrAIProviderRequired
	}
	if writer == nil {
		return nil, ErrRepositoryRequired
	}

	pool, err := ants.NewPool(5)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		classifier: classifier,
		dispatcher: dispatcher,
		entities:   NewEntityNormalizer(),
		writer:     writer,
		pool:       pool,
		normalizer: DefaultNormalizerOptions(),
		attempts:   3,
		baseDelay:  500 * time.Millisecond,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "pipeline")

	return p, nil
}

// Workers returns the worker pool capacity.
func (p *Pipeline) Workers() int {
	return p.pool.Cap()
}

// Writer returns the writer used for commits and cleanup.
func (p *Pipeline) Writer() *Writer {
	return p.writer
}

// Normalize turns raw layout blocks into ordered chunks.
func (p *Pipeline) Normalize(docID core.ID, blocks []core.Block) []*core.Chunk {
	return NormalizeBlocks(docID, blocks, p.normalizer)
}

// Classify assigns a tier to every chunk concurrently. A chunk whose
// embedding keeps failing is classified RED so that it gets the strictest
// verification. Only cancellation of ctx returns an error.
func (p *Pipeline) Classify(ctx context.Context, chunks []*core.Chunk) ([]*ClassifiedChunk, error) {
	out := make([]*ClassifiedChunk, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			out[i] = p.classify(ctx, chunk)
		}
		if err := p.pool.Submit(task); err != nil {
			wg.Done()
			p.logger.Error("error submitting classification", "chunk", chunk.Id, "err", err)
			out[i] = p.classify(ctx, chunk)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) classify(ctx context.Context, chunk *core.Chunk) *ClassifiedChunk {
	var (
		class  Classification
		vector []float32
	)
	err := retry.WithBackoff(ctx, func() error {
		var err error
		class, vector, err = p.classifier.Classify(ctx, chunk)
		return err
	}, p.attempts, p.baseDelay)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("classification failed, escalating to RED", "chunk", chunk.Id, "page", chunk.Page, "err", err)
		}
		class = Classification{Tier: core.TierRed}
		vector = nil
	}

	chunk.Tier = class.Tier
	chunk.Confidence = class.Confidence
	chunk.Status = core.ChunkPending
	return &ClassifiedChunk{Chunk: chunk, Vector: vector}
}

// ProcessBatch extracts, normalizes and writes one batch of chunks. Every
// chunk of the batch is finished before it returns, even after a failure.
// stage, if not nil, is called as the batch enters each stage. A write
// failure wraps ErrStoreWrite and is fatal for the document.
func (p *Pipeline) ProcessBatch(ctx context.Context, doc *core.Document, batch []*ClassifiedChunk, stage func(core.Stage)) (BatchResult, error) {
	report := func(s core.Stage) {
		if stage != nil {
			stage(s)
		}
	}

	report(core.StageExtract)
	extractions := make([]*Extraction, len(batch))
	errs := p.run(batch, func(i int, cc *ClassifiedChunk) error {
		ext, err := p.dispatcher.Dispatch(ctx, cc.Chunk)
		if err != nil {
			return err
		}
		extractions[i] = ext
		return nil
	})
	if err := errors.Join(errs...); err != nil {
		return BatchResult{}, err
	}

	report(core.StageEntities)
	records := make([]*Record, len(batch))
	for i, cc := range batch {
		ext := extractions[i]
		var params []core.Parameter
		if ext.Result.Status == core.ChunkExtracted {
			params = ext.Result.Parameters
		}
		entities, relations := p.entities.Normalize(cc.Chunk, ext.Triples, params)
		records[i] = &Record{
			Document:   doc,
			Chunk:      cc.Chunk,
			Extraction: ext,
			Entities:   entities,
			Relations:  relations,
			Vector:     cc.Vector,
		}
	}

	report(core.StageWrite)
	errs = p.run(batch, func(i int, _ *ClassifiedChunk) error {
		return p.writer.Write(ctx, records[i])
	})

	// The writer may flag a chunk whose embedding failed.
	var result BatchResult
	for _, ext := range extractions {
		if ext.Result.Status == core.ChunkExtracted {
			result.Extracted++
		} else {
			result.Flagged++
		}
	}
	if err := errors.Join(errs...); err != nil {
		return result, err
	}
	return result, nil
}

// run applies fn to every chunk of the batch on the worker pool and waits
// for all of them. It returns the non-nil errors in batch order.
func (p *Pipeline) run(batch []*ClassifiedChunk, fn func(i int, cc *ClassifiedChunk) error) []error {
	results := make([]error, len(batch))
	var wg sync.WaitGroup
	for i, cc := range batch {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = fn(i, cc)
		}
		if err := p.pool.Submit(task); err != nil {
			wg.Done()
			results[i] = err
		}
	}
	wg.Wait()

	var errs []error
	for _, err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
