package ingestion

import "errors"

var (
	// ErrStoreWrite wraps any failure to commit a chunk to the stores.
	// It is fatal for the owning task.
	ErrStoreWrite = errors.New("store write failed")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrPrototypesRequired is returned when no tier prototypes are available.
	ErrPrototypesRequired = errors.New("tier prototypes required")

	// ErrDimensionMismatch indicates vectors of different lengths were combined.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrRepositoryRequired is returned when a document repository is not provided.
	ErrRepositoryRequired = errors.New("document repository required")

	// ErrGraphStoreRequired is returned when a graph store is not provided.
	ErrGraphStoreRequired = errors.New("graph store required")

	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrClassifierRequired is returned when a classifier is not provided.
	ErrClassifierRequired = errors.New("classifier required")

	// ErrInvalidTable indicates an extracted table failed validation.
	ErrInvalidTable = errors.New("invalid table")

	// ErrNoRoute indicates a chunk has no extraction route.
	ErrNoRoute = errors.New("no extraction route")
)
