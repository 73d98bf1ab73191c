package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/poiesic/veridoc/core"
)

type submitResponse struct {
	TaskID     string `json:"task_id"`
	DocumentID string `json:"document_id"`
	Duplicate  bool   `json:"duplicate"`
	Status     string `json:"status"`
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type documentResponse struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Status     string    `json:"status"`
	UploadedAt time.Time `json:"uploaded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// SubmitDocument handles POST /api/documents. The PDF is read from the
// multipart field "file", or from the raw body named by X-Filename.
func (s *Server) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	filename, data, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge,
				fmt.Sprintf("document exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	task, err := s.ingester.Submit(r.Context(), filename, data)
	if err != nil {
		s.handleError(w, err)
		return
	}

	status := http.StatusAccepted
	if task.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, submitResponse{
		TaskID:     task.ID,
		DocumentID: formatID(task.DocumentID),
		Duplicate:  task.Duplicate,
		Status:     string(task.Status),
	})
}

// ListDocuments handles GET /api/documents.
func (s *Server) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.ingester.ListDocuments(r.Context())
	if err != nil {
		s.handleError(w, err)
		return
	}

	items := make([]documentResponse, len(docs))
	for i, d := range docs {
		items[i] = documentResponse{
			ID:         formatID(d.Id),
			Filename:   d.Filename,
			Size:       d.Size,
			Status:     d.Status.String(),
			UploadedAt: d.UploadedAt,
			UpdatedAt:  d.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, items)
}

// DeleteDocument handles DELETE /api/documents/{id}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid document id")
		return
	}

	if err := s.ingester.DeleteDocument(r.Context(), core.ID(id)); err != nil {
		s.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTasks handles GET /api/tasks.
func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.ingester.List()
	if tasks == nil {
		tasks = []core.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /api/tasks/{id}.
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.ingester.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// CancelTask handles POST /api/tasks/{id}/cancel.
func (s *Server) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.ingester.Cancel(id) {
		writeJSON(w, http.StatusOK, cancelResponse{Cancelled: true})
		return
	}

	// Distinguish unknown tasks from finished ones
	if _, err := s.ingester.Status(r.Context(), id); err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{Cancelled: false})
}

// Query handles POST /api/query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	answer, err := s.answerer.Answer(r.Context(), req.Query)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if answer.Sources == nil {
		answer.Sources = []core.Source{}
	}
	writeJSON(w, http.StatusOK, answer)
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("health check failed", "check", name, "err", err)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

func readUpload(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, fmt.Errorf("missing multipart field \"file\": %w", err)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, err
		}
		return cleanFilename(header.Filename), data, nil
	}

	filename := cleanFilename(r.Header.Get("X-Filename"))
	if filename == "" {
		return "", nil, errors.New("X-Filename header is required for raw uploads")
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}
	return filename, data, nil
}

func cleanFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return filepath.Base(filepath.Clean(name))
}

func formatID(id core.ID) string {
	return strconv.FormatUint(uint64(id), 10)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
