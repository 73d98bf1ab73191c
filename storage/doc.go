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

// Package storage provides the storage abstraction layer for veridoc.
//
// This package defines repository interfaces that decouple storage implementation
// from the ingestion and retrieval pipelines. Three stores back the system:
//
//   - DocumentRepository: documents, chunks, extraction results and audit records
//   - GraphStore: canonical entities and relations with chunk provenance
//   - VectorStore: chunk embeddings with similarity search
//
// A CheckpointRepository supports resumable batch jobs such as re-embedding.
//
// # Constructor Return Type Pattern
//
// Public constructors return the interfaces defined here so alternative backends
// can be swapped in without touching callers:
//
//	docs, err := badger.NewDocumentRepository(backend)  // returns storage.DocumentRepository
//	graph, err := neo4j.NewGraphStore(driver)           // returns storage.GraphStore
//
// # Identity
//
// Every record is keyed by a deterministic content-derived ID. Writes are
// upserts, so replaying a write after a crash converges to the same state.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support.
package storage
