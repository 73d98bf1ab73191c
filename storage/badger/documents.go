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

import (
	"context"
	"errors"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (storage.DocumentRepository, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	return &DocumentRepository{backend: backend}, nil
}

// Close releases resources. The backend is owned by the caller.
func (r *DocumentRepository) Close() error {
	return nil
}

// SaveDocument inserts or replaces a document and its hash index entry.
func (r *DocumentRepository) SaveDocument(ctx context.Context, doc *core.Document) error {
	if err := core.ValidateDocument(doc); err != nil {
		return err
	}
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		if err := tx.Set(makeDocumentKey(doc.Id), storage.MarshalDocument(doc)); err != nil {
			return err
		}
		return tx.Set(makeDocumentHashKey(doc.Hash), storage.MarshalID(doc.Id))
	})
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readDocument(tx, makeDocumentKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// FindDocumentByHash retrieves a document through the hash index.
func (r *DocumentRepository) FindDocumentByHash(ctx context.Context, hash string) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		id, err := readID(tx, makeDocumentHashKey(hash))
		if err != nil {
			return err
		}
		result, err = readDocument(tx, makeDocumentKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// ListDocuments returns all documents ordered by upload time.
func (r *DocumentRepository) ListDocuments(ctx context.Context) ([]*core.Document, error) {
	var result []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(documentPrefix), false, func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				doc, err := storage.UnmarshalDocument(val)
				if err != nil {
					return err
				}
				result = append(result, doc)
				return nil
			})
		})
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(result, func(a, b *core.Document) int {
		return a.UploadedAt.Compare(b.UploadedAt)
	})
	return result, nil
}

// SaveChunks inserts or replaces chunks and their document index entries.
func (r *DocumentRepository) SaveChunks(ctx context.Context, chunks ...*core.Chunk) error {
	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return err
		}
	}
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			if err := tx.Set(makeChunkKey(chunk.Id), storage.MarshalChunk(chunk)); err != nil {
				return err
			}
			if err := tx.Set(makeChunkDocKey(chunk), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChunks retrieves chunks by ID, skipping missing ones.
func (r *DocumentRepository) GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error) {
	var result []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			chunk, err := readChunk(tx, makeChunkKey(id))
			if err != nil {
				return err
			}
			if chunk != nil {
				result = append(result, chunk)
			}
		}
		return nil
	}, false)
	return result, err
}

// ListChunks returns a document's chunks ordered by page and sequence.
func (r *DocumentRepository) ListChunks(ctx context.Context, documentID core.ID) ([]*core.Chunk, error) {
	var result []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialChunkDocKey(documentID), true, func(item *badger.Item) error {
			chunk, err := readChunk(tx, makeChunkKey(idFromKeyTail(item.Key())))
			if err != nil {
				return err
			}
			if chunk != nil {
				result = append(result, chunk)
			}
			return nil
		})
	}, false)
	return result, err
}

// AllChunks returns up to limit chunks with IDs greater than after.
func (r *DocumentRepository) AllChunks(ctx context.Context, after core.ID, limit int) ([]*core.Chunk, error) {
	var result []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		start := makeChunkKey(after)
		for iter.Seek(start); iter.Valid(); iter.Next() {
			item := iter.Item()
			if idFromKeyTail(item.Key()) <= after {
				continue
			}
			err := item.Value(func(val []byte) error {
				chunk, err := storage.UnmarshalChunk(val)
				if err != nil {
					return err
				}
				result = append(result, chunk)
				return nil
			})
			if err != nil {
				return err
			}
			if limit > 0 && len(result) >= limit {
				break
			}
		}
		return nil
	}, false)
	return result, err
}

// SaveResult inserts or replaces the extraction result of a chunk.
func (r *DocumentRepository) SaveResult(ctx context.Context, result *core.ExtractionResult) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeResultKey(result.ChunkID), storage.MarshalExtractionResult(result))
	})
}

// GetResult retrieves the extraction result of a chunk.
func (r *DocumentRepository) GetResult(ctx context.Context, chunkID core.ID) (*core.ExtractionResult, error) {
	var result *core.ExtractionResult
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeResultKey(chunkID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			result, err = storage.UnmarshalExtractionResult(val)
			return err
		})
	}, false)
	return result, err
}

// SaveAuditRecord inserts or replaces the audit record of a chunk.
func (r *DocumentRepository) SaveAuditRecord(ctx context.Context, record *core.AuditRecord) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeAuditKey(record.ChunkID), storage.MarshalAuditRecord(record))
	})
}

// ListAuditRecords returns the audit records of a document's chunks.
func (r *DocumentRepository) ListAuditRecords(ctx context.Context, documentID core.ID) ([]*core.AuditRecord, error) {
	var result []*core.AuditRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialChunkDocKey(documentID), true, func(item *badger.Item) error {
			auditItem, err := tx.Get(makeAuditKey(idFromKeyTail(item.Key())))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return nil
				}
				return err
			}
			return auditItem.Value(func(val []byte) error {
				record, err := storage.UnmarshalAuditRecord(val)
				if err != nil {
					return err
				}
				result = append(result, record)
				return nil
			})
		})
	}, false)
	return result, err
}

// DeleteDocumentData removes a document's chunks, results and audit records.
func (r *DocumentRepository) DeleteDocumentData(ctx context.Context, documentID core.ID) error {
	var keys [][]byte
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		indexKeys, err := collectKeys(tx, makePartialChunkDocKey(documentID))
		if err != nil {
			return err
		}
		for _, indexKey := range indexKeys {
			chunkID := idFromKeyTail(indexKey)
			keys = append(keys, indexKey, makeChunkKey(chunkID), makeResultKey(chunkID), makeAuditKey(chunkID))
		}
		return nil
	}, false)
	if err != nil {
		return err
	}
	return r.backend.deleteKeys(keys)
}

// readDocument reads and deserializes a document from a transaction.
// Returns nil if the key doesn't exist.
func readDocument(tx *badger.Txn, key []byte) (*core.Document, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var doc *core.Document
	err = item.Value(func(val []byte) error {
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}

// readChunk reads and deserializes a chunk from a transaction.
// Returns nil if the key doesn't exist.
func readChunk(tx *badger.Txn, key []byte) (*core.Chunk, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var chunk *core.Chunk
	err = item.Value(func(val []byte) error {
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
}

// readID reads an index entry holding an ID.
// Returns storage.ErrNotFound if the key doesn't exist.
func readID(tx *badger.Txn, key []byte) (core.ID, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, storage.ErrNotFound
		}
		return 0, err
	}
	var id core.ID
	err = item.Value(func(val []byte) error {
		id, err = storage.UnmarshalID(val)
		return err
	})
	return id, err
}
