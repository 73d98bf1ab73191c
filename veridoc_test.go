package veridoc

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/veridoc/ai/mock"
	"github.com/poiesic/veridoc/config"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/layout"
	"github.com/poiesic/veridoc/reembed"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{Storage: config.StorageConfig{InMemory: true}}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

// constantProvider embeds every text to the same direction so that
// classification and retrieval are deterministic.
func constantProvider() *mock.MockEmbedder {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0, 0}
		}
		return out, nil
	}
	return embedder
}

func openTestSystem(t *testing.T, opts ...Option) *System {
	t.Helper()
	provider := mock.NewMockProviderWithServices(mock.Services{Embedder: constantProvider()})
	opts = append([]Option{
		WithProvider(provider),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)

	sys, err := Open(context.Background(), testConfig(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, sys.Close()) })
	return sys
}

func isolationDoc(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, layout.EncodeBlocks(&buf, []core.Block{{
		Page: 3,
		Box:  core.Box{X0: 72, Y0: 100, X1: 520, Y1: 112},
		Kind: core.KindText,
		Text: "Deep trench isolation surrounds each high voltage device in the process.",
	}}))
	return buf.Bytes()
}

func TestOpen_IngestAndAnswer(t *testing.T) {
	sys := openTestSystem(t)
	ctx := context.Background()

	task, err := sys.Orchestrator.Submit(ctx, "isolation.pdf", isolationDoc(t))
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	done, err := sys.Orchestrator.Wait(waitCtx, task.ID)
	require.NoError(t, err)
	require.Equal(t, core.TaskCompleted, done.Status, done.Message)
	assert.Equal(t, 100, done.Progress)

	docs, err := sys.Orchestrator.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, core.DocumentIndexed, docs[0].Status)

	answer, err := sys.Composer.Answer(ctx, "Describe the trench isolation used for the devices")
	require.NoError(t, err)
	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, "isolation.pdf", answer.Sources[0].Filename)
	assert.Equal(t, 3, answer.Sources[0].Page)
	assert.True(t, answer.Audited)
	assert.Contains(t, answer.Text, "References:")
	assert.Contains(t, answer.Text, "isolation.pdf, page 3")

	// A second upload of the same bytes is a duplicate
	dup, err := sys.Orchestrator.Submit(ctx, "copy.pdf", isolationDoc(t))
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
}

func TestOpen_Reembed(t *testing.T) {
	sys := openTestSystem(t)
	ctx := context.Background()

	task, err := sys.Orchestrator.Submit(ctx, "isolation.pdf", isolationDoc(t))
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = sys.Orchestrator.Wait(waitCtx, task.ID)
	require.NoError(t, err)

	cfg := reembed.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	r, err := sys.NewReembedder(cfg, io.Discard)
	require.NoError(t, err)

	stats, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reembedded)
}

func TestOpen_RedisAndHTTP(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sys := openTestSystem(t, WithRedisClient(client))

	srv, err := sys.NewHTTPServer()
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	mr.Close()
	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestOpen_InvalidStoragePath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.InMemory = false
	cfg.Storage.Path = "/dev/null/veridoc"

	_, err := Open(context.Background(), cfg, WithProvider(mock.NewMockProvider()))
	assert.Error(t, err)
}
