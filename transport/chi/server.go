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

// Package chi exposes document ingestion and question answering over HTTP.
package chi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/metrics"
)

// DefaultMaxUploadBytes bounds the size of a submitted PDF.
const DefaultMaxUploadBytes = 100 << 20

var (
	// ErrIngesterRequired is returned when no ingestion service is provided.
	ErrIngesterRequired = errors.New("ingester required")

	// ErrAnswererRequired is returned when no answer service is provided.
	ErrAnswererRequired = errors.New("answerer required")
)

// Ingester is the document side of the API.
type Ingester interface {
	Submit(ctx context.Context, filename string, data []byte) (core.Task, error)
	Status(ctx context.Context, taskID string) (core.Task, error)
	Cancel(taskID string) bool
	List() []core.Task
	ListDocuments(ctx context.Context) ([]*core.Document, error)
	DeleteDocument(ctx context.Context, docID core.ID) error
}

// Answerer answers user questions.
type Answerer interface {
	Answer(ctx context.Context, query string) (*core.Answer, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server implements the HTTP API.
type Server struct {
	ingester       Ingester
	answerer       Answerer
	checks         map[string]HealthCheck
	maxUploadBytes int64
	logger         *slog.Logger
	errorHandlers  []errorHandler
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) error {
		if check != nil {
			s.checks[name] = check
		}
		return nil
	}
}

// WithMaxUploadBytes bounds submitted documents.
// Default is DefaultMaxUploadBytes.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) error {
		if n > 0 {
			s.maxUploadBytes = n
		}
		return nil
	}
}

// NewServer creates an HTTP API server.
func NewServer(ingester Ingester, answerer Answerer, opts ...Option) (*Server, error) {
	if ingester == nil {
		return nil, ErrIngesterRequired
	}
	if answerer == nil {
		return nil, ErrAnswererRequired
	}

	s := &Server{
		ingester:       ingester,
		answerer:       answerer,
		checks:         make(map[string]HealthCheck),
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "http")
	s.errorHandlers = defaultErrorHandlers()
	return s, nil
}

// Handler builds the chi router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.jsonRecoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/documents", s.SubmitDocument)
		r.Get("/documents", s.ListDocuments)
		r.Delete("/documents/{id}", s.DeleteDocument)

		r.Get("/tasks", s.ListTasks)
		r.Get("/tasks/{id}", s.GetTask)
		r.Post("/tasks/{id}/cancel", s.CancelTask)

		r.Post("/query", s.Query)
	})
	return r
}
