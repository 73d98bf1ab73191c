package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/storage/badger"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStores(t *testing.T) *badger.Stores {
	t.Helper()
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return stores
}

// addDocument stores a document with n text chunks and returns the chunks.
func addDocument(t *testing.T, stores *badger.Stores, name string, status core.DocumentStatus, n int) []*core.Chunk {
	t.Helper()
	ctx := context.Background()
	doc := &core.Document{
		Id:         core.IDFromContent(name),
		Hash:       core.HashContent([]byte(name)),
		Filename:   name,
		Status:     status,
		UploadedAt: time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, stores.Documents.SaveDocument(ctx, doc))

	chunks := make([]*core.Chunk, n)
	for i := range n {
		chunks[i] = &core.Chunk{
			Id:         core.ChunkID(doc.Id, 1, i),
			DocumentID: doc.Id,
			Page:       1,
			Seq:        i,
			Text:       fmt.Sprintf("%s paragraph %d", name, i),
			Kind:       core.KindText,
			Tier:       core.TierGreen,
			Status:     core.ChunkExtracted,
		}
	}
	require.NoError(t, stores.Documents.SaveChunks(ctx, chunks...))
	return chunks
}

func fastConfig(batchSize int) *Config {
	return &Config{
		BatchSize:      batchSize,
		ReportInterval: 1,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
	}
}
