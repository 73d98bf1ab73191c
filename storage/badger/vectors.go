package badger

import (
	"cmp"
	"context"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/storage"
)

// VectorStore implements storage.VectorStore for BadgerDB using a brute-force scan.
// Vectors are expected to be L2-normalized so the dot product is cosine similarity.
type VectorStore struct {
	backend *Backend
}

var _ storage.VectorStore = (*VectorStore)(nil)

// NewVectorStore creates a new VectorStore.
func NewVectorStore(backend *Backend) (storage.VectorStore, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	return &VectorStore{backend: backend}, nil
}

// Close releases resources. The backend is owned by the caller.
func (s *VectorStore) Close() error {
	return nil
}

// Upsert inserts or replaces points keyed by chunk ID.
func (s *VectorStore) Upsert(ctx context.Context, points ...*core.VectorPoint) error {
	return s.backend.Update(ctx, func(tx *badger.Txn) error {
		for _, point := range points {
			if err := tx.Set(makeVectorKey(point.ChunkID), storage.MarshalVectorPoint(point)); err != nil {
				return err
			}
			if err := tx.Set(makeVectorDocKey(point.DocumentID, point.ChunkID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// Search finds points similar to the given vector, optionally restricted
// to the given content kinds.
func (s *VectorStore) Search(ctx context.Context, vector []float32, minScore float32, limit int, kinds ...core.ContentKind) ([]*core.VectorMatch, error) {
	if len(vector) == 0 {
		return nil, storage.ErrInvalidQuery
	}

	var results []*core.VectorMatch

	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(vectorPrefix), false, func(item *badger.Item) error {
			var point *core.VectorPoint
			err := item.Value(func(val []byte) error {
				var err error
				point, err = storage.UnmarshalVectorPoint(val)
				return err
			})
			if err != nil {
				return err
			}
			if len(point.Vector) == 0 {
				return nil
			}
			if len(kinds) > 0 && !slices.Contains(kinds, point.Payload.Kind) {
				return nil
			}

			similarity := dotProduct(vector, point.Vector)
			if similarity >= minScore {
				results = append(results, &core.VectorMatch{
					Point: point,
					Score: similarity,
				})
			}
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}

	// Highest score first, chunk ID breaks ties
	slices.SortFunc(results, func(a, b *core.VectorMatch) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Point.ChunkID, b.Point.ChunkID)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// CountByDocument counts the points belonging to a document.
func (s *VectorStore) CountByDocument(ctx context.Context, documentID core.ID) (int, error) {
	count := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialVectorDocKey(documentID), true, func(item *badger.Item) error {
			count++
			return nil
		})
	}, false)
	return count, err
}

// DeleteByDocument removes every point belonging to a document.
func (s *VectorStore) DeleteByDocument(ctx context.Context, documentID core.ID) error {
	var keys [][]byte
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		indexKeys, err := collectKeys(tx, makePartialVectorDocKey(documentID))
		if err != nil {
			return err
		}
		for _, indexKey := range indexKeys {
			keys = append(keys, indexKey, makeVectorKey(idFromKeyTail(indexKey)))
		}
		return nil
	}, false)
	if err != nil {
		return err
	}
	return s.backend.deleteKeys(keys)
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
