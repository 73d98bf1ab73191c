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

package badger

import "github.com/poiesic/veridoc/storage"

// Stores bundles the BadgerDB-backed stores sharing one backend.
type Stores struct {
	Documents   storage.DocumentRepository
	Graph       storage.GraphStore
	Vectors     storage.VectorStore
	Checkpoints storage.CheckpointRepository
	Backend     *Backend
}

// NewStores creates every store on top of an open backend.
func NewStores(backend *Backend) (*Stores, error) {
	docs, err := NewDocumentRepository(backend)
	if err != nil {
		return nil, err
	}
	graph, err := NewGraphStore(backend)
	if err != nil {
		return nil, err
	}
	vectors, err := NewVectorStore(backend)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Documents:   docs,
		Graph:       graph,
		Vectors:     vectors,
		Checkpoints: NewCheckpointRepository(backend),
		Backend:     backend,
	}, nil
}

// NewMemoryStores creates in-memory stores for testing.
// Caller must call Close when done.
func NewMemoryStores() (*Stores, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}
	stores, err := NewStores(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return stores, nil
}

// Close closes every store and then the backend.
func (s *Stores) Close() error {
	s.Documents.Close()
	s.Graph.Close()
	s.Vectors.Close()
	return s.Backend.Close()
}
