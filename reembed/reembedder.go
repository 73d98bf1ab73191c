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


package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/storage"
)

// CheckpointName is the checkpoint key used to resume an interrupted run.
const CheckpointName = "reembed"

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Restart ignores any saved checkpoint and re-embeds from the first chunk
	Restart bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Stats summarizes a completed run.
type Stats struct {
	Visited    int
	Reembedded int
	Skipped    int
	Resumed    bool
}

// Reembedder rebuilds the vector points of all indexed chunks.
type Reembedder struct {
	docs        storage.DocumentRepository
	checkpoints storage.CheckpointRepository
	config      *Config
	progress    io.Writer
	processor   *BatchProcessor
	iterator    *ChunkIterator
	logger      *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(docs storage.DocumentRepository, vectors storage.VectorStore, checkpoints storage.CheckpointRepository,
	embedder ai.Embedder, config *Config, progress io.Writer, logger *slog.Logger) (*Reembedder, error) {
	if docs == nil {
		return nil, ErrRepositoryRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if checkpoints == nil {
		return nil, ErrCheckpointRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reembedder{
		docs:        docs,
		checkpoints: checkpoints,
		config:      config,
		progress:    progress,
		processor:   NewBatchProcessor(docs, vectors, embedder, config.MaxRetries, config.RetryDelay),
		iterator:    NewChunkIterator(docs, config.BatchSize),
		logger:      logger.With("component", "reembedder"),
	}, nil
}

// Run re-embeds every chunk of every indexed document.
// A checkpoint is saved after each batch and cleared when the run completes,
// so a failed or cancelled run resumes after the last finished batch.
func (r *Reembedder) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	var after core.ID
	base := 0
	if r.config.Restart {
		if err := r.checkpoints.ClearCheckpoint(ctx, CheckpointName); err != nil {
			return nil, fmt.Errorf("failed to clear checkpoint: %w", err)
		}
	} else {
		cp, err := r.checkpoints.LoadCheckpoint(ctx, CheckpointName)
		if err != nil {
			return nil, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if cp != nil {
			after, base = cp.LastID, cp.Processed
			stats.Resumed = true
			r.logger.Info("resuming from checkpoint", "after", after, "processed", base)
		}
	}

	remaining, err := r.iterator.Count(ctx, after)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	if remaining == 0 {
		fmt.Fprintf(r.progress, "No chunks left to reembed (0 chunks)\n")
		return stats, r.checkpoints.ClearCheckpoint(ctx, CheckpointName)
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d chunks (batch size: %d)\n",
		remaining, r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, remaining, r.config.ReportInterval)
	tracker.Start(base)

	processed := base
	err = r.iterator.ForEach(ctx, after, func(chunks []*core.Chunk) error {
		n, err := r.processor.Process(ctx, chunks)
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}

		processed += len(chunks)
		stats.Visited += len(chunks)
		stats.Reembedded += n
		tracker.Add(len(chunks), len(chunks)-n)

		return r.checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{
			Name:      CheckpointName,
			LastID:    chunks[len(chunks)-1].Id,
			Processed: processed,
			UpdatedAt: time.Now(),
		})
	})
	if err != nil {
		r.logger.Error("reembedding stopped", "processed", processed, "err", err)
		return stats, err
	}

	tracker.Finish()
	stats.Skipped = tracker.Skipped()

	if err := r.checkpoints.ClearCheckpoint(ctx, CheckpointName); err != nil {
		return stats, fmt.Errorf("failed to clear checkpoint: %w", err)
	}

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d chunks in %v (%.1f chunks/sec)\n",
		stats.Visited, elapsed.Round(time.Second), float64(stats.Visited)/max(elapsed.Seconds(), 1e-9))
	r.logger.Info("reembedding complete", "visited", stats.Visited, "reembedded", stats.Reembedded, "skipped", stats.Skipped)

	return stats, nil
}
