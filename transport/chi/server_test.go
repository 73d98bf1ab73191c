package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/orchestrator"
	"github.com/poiesic/veridoc/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	SubmitFunc         func(ctx context.Context, filename string, data []byte) (core.Task, error)
	StatusFunc         func(ctx context.Context, taskID string) (core.Task, error)
	CancelFunc         func(taskID string) bool
	ListFunc           func() []core.Task
	ListDocumentsFunc  func(ctx context.Context) ([]*core.Document, error)
	DeleteDocumentFunc func(ctx context.Context, docID core.ID) error
}

func (f *fakeIngester) Submit(ctx context.Context, filename string, data []byte) (core.Task, error) {
	if f.SubmitFunc != nil {
		return f.SubmitFunc(ctx, filename, data)
	}
	return core.Task{ID: "task-1", Status: core.TaskQueued}, nil
}

func (f *fakeIngester) Status(ctx context.Context, taskID string) (core.Task, error) {
	if f.StatusFunc != nil {
		return f.StatusFunc(ctx, taskID)
	}
	return core.Task{}, fmt.Errorf("%w: %s", orchestrator.ErrTaskNotFound, taskID)
}

func (f *fakeIngester) Cancel(taskID string) bool {
	if f.CancelFunc != nil {
		return f.CancelFunc(taskID)
	}
	return false
}

func (f *fakeIngester) List() []core.Task {
	if f.ListFunc != nil {
		return f.ListFunc()
	}
	return nil
}

func (f *fakeIngester) ListDocuments(ctx context.Context) ([]*core.Document, error) {
	if f.ListDocumentsFunc != nil {
		return f.ListDocumentsFunc(ctx)
	}
	return nil, nil
}

func (f *fakeIngester) DeleteDocument(ctx context.Context, docID core.ID) error {
	if f.DeleteDocumentFunc != nil {
		return f.DeleteDocumentFunc(ctx, docID)
	}
	return nil
}

type fakeAnswerer struct {
	AnswerFunc func(ctx context.Context, query string) (*core.Answer, error)
}

func (f *fakeAnswerer) Answer(ctx context.Context, query string) (*core.Answer, error) {
	if f.AnswerFunc != nil {
		return f.AnswerFunc(ctx, query)
	}
	return &core.Answer{Text: "no relevant content found", Intent: core.IntentSemantic, Mode: core.ModeVector}, nil
}

func newTestServer(t *testing.T, ing *fakeIngester, ans *fakeAnswerer, opts ...Option) *httptest.Server {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	s, err := NewServer(ing, ans, opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil, &fakeAnswerer{})
	assert.ErrorIs(t, err, ErrIngesterRequired)
	_, err = NewServer(&fakeIngester{}, nil)
	assert.ErrorIs(t, err, ErrAnswererRequired)
}

func TestSubmitDocument_Multipart(t *testing.T) {
	var gotName string
	var gotData []byte
	ing := &fakeIngester{SubmitFunc: func(ctx context.Context, filename string, data []byte) (core.Task, error) {
		gotName, gotData = filename, data
		return core.Task{ID: "t-1", DocumentID: 42, Status: core.TaskQueued}, nil
	}}
	ts := newTestServer(t, ing, &fakeAnswerer{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "../../bcd_process.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.7"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/api/documents", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	out := decode[submitResponse](t, resp)
	assert.Equal(t, "t-1", out.TaskID)
	assert.Equal(t, "42", out.DocumentID)
	assert.False(t, out.Duplicate)
	assert.Equal(t, "bcd_process.pdf", gotName)
	assert.Equal(t, []byte("%PDF-1.7"), gotData)
}

func TestSubmitDocument_RawBodyDuplicate(t *testing.T) {
	ing := &fakeIngester{SubmitFunc: func(ctx context.Context, filename string, data []byte) (core.Task, error) {
		assert.Equal(t, "spec.pdf", filename)
		return core.Task{ID: "t-2", Status: core.TaskCompleted, Duplicate: true}, nil
	}}
	ts := newTestServer(t, ing, &fakeAnswerer{})

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/documents", strings.NewReader("%PDF"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("X-Filename", "spec.pdf")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[submitResponse](t, resp)
	assert.True(t, out.Duplicate)
	assert.Equal(t, "COMPLETED", out.Status)
}

func TestSubmitDocument_Errors(t *testing.T) {
	ing := &fakeIngester{SubmitFunc: func(ctx context.Context, filename string, data []byte) (core.Task, error) {
		if len(data) == 0 {
			return core.Task{}, orchestrator.ErrEmptyDocument
		}
		return core.Task{}, orchestrator.ErrClosed
	}}
	ts := newTestServer(t, ing, &fakeAnswerer{}, WithMaxUploadBytes(8))

	tests := []struct {
		name     string
		filename string
		body     string
		status   int
		code     string
	}{
		{"missing filename", "", "%PDF", http.StatusBadRequest, codeBadRequest},
		{"empty document", "a.pdf", "", http.StatusBadRequest, codeBadRequest},
		{"too large", "a.pdf", "0123456789", http.StatusRequestEntityTooLarge, codeTooLarge},
		{"closed", "a.pdf", "%PDF", http.StatusServiceUnavailable, codeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/documents", strings.NewReader(tt.body))
			require.NoError(t, err)
			if tt.filename != "" {
				req.Header.Set("X-Filename", tt.filename)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode[errorResponse](t, resp).Code)
		})
	}
}

func TestGetTask(t *testing.T) {
	ing := &fakeIngester{StatusFunc: func(ctx context.Context, id string) (core.Task, error) {
		if id != "t-1" {
			return core.Task{}, fmt.Errorf("%w: %s", orchestrator.ErrTaskNotFound, id)
		}
		return core.Task{ID: "t-1", Stage: core.StageExtract, Progress: 55, Status: core.TaskRunning, Message: "extracting"}, nil
	}}
	ts := newTestServer(t, ing, &fakeAnswerer{})

	resp, err := http.Get(ts.URL + "/api/tasks/t-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	task := decode[core.Task](t, resp)
	assert.Equal(t, core.StageExtract, task.Stage)
	assert.Equal(t, 55, task.Progress)
	assert.Equal(t, core.TaskRunning, task.Status)

	resp, err = http.Get(ts.URL + "/api/tasks/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	out := decode[errorResponse](t, resp)
	assert.Equal(t, codeNotFound, out.Code)
	assert.Equal(t, orchestrator.ErrTaskNotFound.Error(), out.Message)
}

func TestListTasks_EmptyIsArray(t *testing.T) {
	ts := newTestServer(t, &fakeIngester{}, &fakeAnswerer{})

	resp, err := http.Get(ts.URL + "/api/tasks")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(raw))
}

func TestCancelTask(t *testing.T) {
	ing := &fakeIngester{
		CancelFunc: func(id string) bool { return id == "running" },
		StatusFunc: func(ctx context.Context, id string) (core.Task, error) {
			if id == "done" {
				return core.Task{ID: id, Status: core.TaskCompleted}, nil
			}
			return core.Task{}, orchestrator.ErrTaskNotFound
		},
	}
	ts := newTestServer(t, ing, &fakeAnswerer{})

	tests := []struct {
		id        string
		status    int
		cancelled bool
	}{
		{"running", http.StatusOK, true},
		{"done", http.StatusOK, false},
		{"missing", http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/tasks/"+tt.id+"/cancel", "application/json", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.cancelled, decode[cancelResponse](t, resp).Cancelled)
			} else {
				resp.Body.Close()
			}
		})
	}
}

func TestQuery(t *testing.T) {
	ans := &fakeAnswerer{AnswerFunc: func(ctx context.Context, query string) (*core.Answer, error) {
		assert.Equal(t, "Which foundry produces the 40V LDMOS?", query)
		return &core.Answer{
			Text:   "Fab 7.\n\nReferences:\n[1] bcd_process.pdf, page 12",
			Intent: core.IntentRelational,
			Mode:   core.ModeGraph,
			Sources: []core.Source{
				{ChunkID: 9, Filename: "bcd_process.pdf", Page: 12, Score: 1, Tier: core.TierRed, TierName: "RED"},
			},
			Audited: true,
		}, nil
	}}
	ts := newTestServer(t, &fakeIngester{}, ans)

	resp, err := http.Post(ts.URL+"/api/query", "application/json",
		strings.NewReader(`{"query":"Which foundry produces the 40V LDMOS?"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[map[string]any](t, resp)
	assert.Equal(t, "RELATIONAL", out["intent"])
	assert.Equal(t, "GRAPH", out["mode"])
	sources := out["sources"].([]any)
	require.Len(t, sources, 1)
	src := sources[0].(map[string]any)
	assert.Equal(t, "bcd_process.pdf", src["file"])
	assert.EqualValues(t, 12, src["page"])
	assert.Equal(t, "RED", src["tier"])
}

func TestQuery_Errors(t *testing.T) {
	ans := &fakeAnswerer{AnswerFunc: func(ctx context.Context, query string) (*core.Answer, error) {
		switch query {
		case "":
			return nil, search.ErrEmptyQuery
		case "model":
			return nil, fmt.Errorf("generating answer: %w", ai.ErrTransient)
		case "slow":
			return nil, context.DeadlineExceeded
		default:
			return nil, errors.New("disk on fire")
		}
	}}
	ts := newTestServer(t, &fakeIngester{}, ans)

	tests := []struct {
		body   string
		status int
		code   string
	}{
		{`{"query":""}`, http.StatusBadRequest, codeBadRequest},
		{`not json`, http.StatusBadRequest, codeBadRequest},
		{`{"query":"model"}`, http.StatusBadGateway, codeModelError},
		{`{"query":"slow"}`, http.StatusGatewayTimeout, codeTimeout},
		{`{"query":"other"}`, http.StatusInternalServerError, codeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/query", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			out := decode[errorResponse](t, resp)
			assert.Equal(t, tt.code, out.Code)
			assert.NotContains(t, out.Message, "disk on fire")
		})
	}
}

func TestDocuments(t *testing.T) {
	uploaded := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var deleted []core.ID
	ing := &fakeIngester{
		ListDocumentsFunc: func(ctx context.Context) ([]*core.Document, error) {
			return []*core.Document{{Id: 7, Filename: "a.pdf", Size: 10, Status: core.DocumentIndexed, UploadedAt: uploaded}}, nil
		},
		DeleteDocumentFunc: func(ctx context.Context, id core.ID) error {
			switch id {
			case 7:
				deleted = append(deleted, id)
				return nil
			case 8:
				return orchestrator.ErrDocumentBusy
			default:
				return orchestrator.ErrDocumentNotFound
			}
		},
	}
	ts := newTestServer(t, ing, &fakeAnswerer{})

	resp, err := http.Get(ts.URL + "/api/documents")
	require.NoError(t, err)
	docs := decode[[]documentResponse](t, resp)
	require.Len(t, docs, 1)
	assert.Equal(t, "7", docs[0].ID)
	assert.Equal(t, "indexed", docs[0].Status)
	assert.True(t, uploaded.Equal(docs[0].UploadedAt))

	tests := []struct {
		id     string
		status int
	}{
		{"7", http.StatusNoContent},
		{"8", http.StatusConflict},
		{"9", http.StatusNotFound},
		{"abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/documents/"+tt.id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tt.status, resp.StatusCode, "delete %s", tt.id)
	}
	assert.Equal(t, []core.ID{7}, deleted)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeIngester{}, &fakeAnswerer{})
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[healthResponse](t, resp).Status)

	ts = newTestServer(t, &fakeIngester{}, &fakeAnswerer{},
		WithHealthCheck("storage", func(context.Context) error { return nil }),
		WithHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
	)
	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	out := decode[healthResponse](t, resp)
	assert.Equal(t, "degraded", out.Status)
	assert.Equal(t, "ok", out.Checks["storage"])
	assert.Equal(t, "connection refused", out.Checks["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, &fakeIngester{}, &fakeAnswerer{})
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecoverer(t *testing.T) {
	ans := &fakeAnswerer{AnswerFunc: func(ctx context.Context, query string) (*core.Answer, error) {
		panic("boom")
	}}
	ts := newTestServer(t, &fakeIngester{}, ans)

	resp, err := http.Post(ts.URL+"/api/query", "application/json", strings.NewReader(`{"query":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, codeInternal, decode[errorResponse](t, resp).Code)
}
