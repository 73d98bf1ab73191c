package badger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/storage"
)

// deleteBatchSize bounds the provenance entries processed per transaction.
const deleteBatchSize = 256

// GraphStore implements storage.GraphStore for BadgerDB.
//
// Entities and relations are stored as records keyed by canonical ID.
// Adjacency keys link each entity to its incident relations in both directions,
// and provenance keys link each document to the records it contributes to.
type GraphStore struct {
	backend    *Backend
	generation atomic.Uint64
}

var _ storage.GraphStore = (*GraphStore)(nil)

// NewGraphStore creates a new GraphStore.
func NewGraphStore(backend *Backend) (storage.GraphStore, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	return &GraphStore{backend: backend}, nil
}

// Close releases resources. The backend is owned by the caller.
func (g *GraphStore) Close() error {
	return nil
}

// UpsertEntities creates entities or merges sources into existing ones.
func (g *GraphStore) UpsertEntities(ctx context.Context, entities ...*core.Entity) ([]*core.Entity, error) {
	for _, entity := range entities {
		if err := core.ValidateEntity(entity); err != nil {
			return nil, err
		}
	}

	var stored []*core.Entity
	err := g.backend.Update(ctx, func(tx *badger.Txn) error {
		stored = stored[:0]
		now := time.Now().UTC()
		for _, entity := range entities {
			id := core.EntityID(entity.Name, entity.Type)
			key := makeEntityKey(id)

			existing, err := readEntity(tx, key)
			if err != nil {
				return err
			}

			var added int
			if existing == nil {
				existing = &core.Entity{
					Id:      id,
					Type:    entity.Type,
					Name:    entity.Name,
					Display: entity.Display,
				}
				if existing.Display == "" {
					existing.Display = entity.Name
				}
				existing.Sources, _ = core.MergeSources(nil, entity.Sources...)
				added = len(existing.Sources)
				if err := tx.Set(makeEntityNameKey(entity.Name, entity.Type), storage.MarshalID(id)); err != nil {
					return err
				}
			} else {
				existing.Sources, added = core.MergeSources(existing.Sources, entity.Sources...)
			}

			if added > 0 {
				existing.UpdatedAt = now
				if err := tx.Set(key, storage.MarshalEntity(existing)); err != nil {
					return err
				}
				if err := setProvenance(tx, provenanceEntity, id, entity.Sources); err != nil {
					return err
				}
			}
			stored = append(stored, existing)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.generation.Add(1)
	return stored, nil
}

// Generation returns the number of entity writes and deletions so far.
func (g *GraphStore) Generation() uint64 {
	return g.generation.Load()
}

// UpsertRelations creates relations or merges sources into existing ones.
// Both endpoints must already exist.
func (g *GraphStore) UpsertRelations(ctx context.Context, relations ...*core.Relation) ([]*core.Relation, error) {
	for _, relation := range relations {
		if err := core.ValidateRelation(relation); err != nil {
			return nil, err
		}
	}

	var stored []*core.Relation
	err := g.backend.Update(ctx, func(tx *badger.Txn) error {
		stored = stored[:0]
		now := time.Now().UTC()
		for _, relation := range relations {
			for _, endpoint := range []core.ID{relation.SourceID, relation.TargetID} {
				entity, err := readEntity(tx, makeEntityKey(endpoint))
				if err != nil {
					return err
				}
				if entity == nil {
					return fmt.Errorf("relation endpoint %d: %w", endpoint, storage.ErrNotFound)
				}
			}

			id := core.RelationID(relation.SourceID, relation.Type, relation.TargetID)
			key := makeRelationKey(id)

			existing, err := readRelation(tx, key)
			if err != nil {
				return err
			}

			var added int
			if existing == nil {
				existing = &core.Relation{
					Id:       id,
					SourceID: relation.SourceID,
					TargetID: relation.TargetID,
					Type:     relation.Type,
				}
				existing.Sources, _ = core.MergeSources(nil, relation.Sources...)
				added = len(existing.Sources)
				if err := tx.Set(makeAdjacencyKey(relation.SourceID, id), nil); err != nil {
					return err
				}
				if err := tx.Set(makeAdjacencyKey(relation.TargetID, id), nil); err != nil {
					return err
				}
			} else {
				existing.Sources, added = core.MergeSources(existing.Sources, relation.Sources...)
			}

			if added > 0 {
				existing.Corroboration = len(existing.Sources)
				existing.UpdatedAt = now
				if err := tx.Set(key, storage.MarshalRelation(existing)); err != nil {
					return err
				}
				if err := setProvenance(tx, provenanceRelation, id, relation.Sources); err != nil {
					return err
				}
			}
			stored = append(stored, existing)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetEntity retrieves an entity by ID.
func (g *GraphStore) GetEntity(ctx context.Context, id core.ID) (*core.Entity, error) {
	var result *core.Entity
	err := g.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readEntity(tx, makeEntityKey(id))
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

// FindEntity finds an entity by its canonical name and type.
func (g *GraphStore) FindEntity(ctx context.Context, name, entityType string) (*core.Entity, error) {
	var result *core.Entity
	err := g.backend.WithTx(func(tx *badger.Txn) error {
		id, err := readID(tx, makeEntityNameKey(name, entityType))
		if err != nil {
			return err
		}
		result, err = readEntity(tx, makeEntityKey(id))
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

// FindEntitiesByName returns every entity with the canonical name.
func (g *GraphStore) FindEntitiesByName(ctx context.Context, name string) ([]*core.Entity, error) {
	var result []*core.Entity
	err := g.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialEntityNameKey(name), false, func(item *badger.Item) error {
			var id core.ID
			err := item.Value(func(val []byte) error {
				var err error
				id, err = storage.UnmarshalID(val)
				return err
			})
			if err != nil {
				return err
			}
			entity, err := readEntity(tx, makeEntityKey(id))
			if err != nil {
				return err
			}
			if entity != nil {
				result = append(result, entity)
			}
			return nil
		})
	}, false)
	return result, err
}

// AllEntityNames returns the distinct canonical names of all entities, sorted.
func (g *GraphStore) AllEntityNames(ctx context.Context) ([]string, error) {
	var names []string
	err := g.backend.WithTx(func(tx *badger.Txn) error {
		prefixLen := len(entityNamePrefix)
		return scanPrefix(tx, []byte(entityNamePrefix), true, func(item *badger.Item) error {
			key := item.Key()[prefixLen:]
			end := slices.Index(key, byte(entityNameSeparator))
			if end < 0 {
				return nil
			}
			name := string(key[:end])
			if len(names) == 0 || names[len(names)-1] != name {
				names = append(names, name)
			}
			return nil
		})
	}, false)
	return names, err
}

// Neighbors runs a breadth-first traversal over relations in both directions.
func (g *GraphStore) Neighbors(ctx context.Context, seeds []core.ID, depth int) (*core.Subgraph, error) {
	sub := &core.Subgraph{Hops: make(map[core.ID]int)}
	err := g.backend.WithTx(func(tx *badger.Txn) error {
		var frontier []core.ID
		for _, seed := range seeds {
			if _, seen := sub.Hops[seed]; seen {
				continue
			}
			entity, err := readEntity(tx, makeEntityKey(seed))
			if err != nil {
				return err
			}
			if entity == nil {
				continue
			}
			sub.Hops[seed] = 0
			sub.Entities = append(sub.Entities, entity)
			frontier = append(frontier, seed)
		}

		seenRelations := make(map[core.ID]bool)
		for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			var next []core.ID
			for _, entityID := range frontier {
				relationIDs, err := incidentRelations(tx, entityID)
				if err != nil {
					return err
				}
				for _, relationID := range relationIDs {
					if seenRelations[relationID] {
						continue
					}
					relation, err := readRelation(tx, makeRelationKey(relationID))
					if err != nil {
						return err
					}
					if relation == nil {
						continue
					}
					seenRelations[relationID] = true
					sub.Relations = append(sub.Relations, relation)

					other := relation.TargetID
					if other == entityID {
						other = relation.SourceID
					}
					if _, seen := sub.Hops[other]; seen {
						continue
					}
					entity, err := readEntity(tx, makeEntityKey(other))
					if err != nil {
						return err
					}
					if entity == nil {
						continue
					}
					sub.Hops[other] = hop
					sub.Entities = append(sub.Entities, entity)
					next = append(next, other)
				}
			}
			frontier = next
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	sortSubgraph(sub)
	return sub, nil
}

// sortSubgraph orders entities by hop distance then ID, and relations by ID.
func sortSubgraph(sub *core.Subgraph) {
	slices.SortFunc(sub.Entities, func(a, b *core.Entity) int {
		if c := cmp.Compare(sub.Hops[a.Id], sub.Hops[b.Id]); c != 0 {
			return c
		}
		return cmp.Compare(a.Id, b.Id)
	})
	slices.SortFunc(sub.Relations, func(a, b *core.Relation) int {
		return cmp.Compare(a.Id, b.Id)
	})
}

// CountByDocument counts the entities and relations citing a document.
func (g *GraphStore) CountByDocument(ctx context.Context, documentID core.ID) (int, int, error) {
	var entities, relations int
	err := g.backend.WithTx(func(tx *badger.Txn) error {
		prefix := makePartialProvenanceKey(documentID)
		return scanPrefix(tx, prefix, true, func(item *badger.Item) error {
			switch item.Key()[len(prefix)] {
			case provenanceEntity:
				entities++
			case provenanceRelation:
				relations++
			}
			return nil
		})
	}, false)
	return entities, relations, err
}

// DeleteByDocument strips a document from all provenance sets. Records left
// without provenance are deleted together with their index entries.
func (g *GraphStore) DeleteByDocument(ctx context.Context, documentID core.ID) error {
	prefix := makePartialProvenanceKey(documentID)
	for {
		var batch [][]byte
		err := g.backend.WithTx(func(tx *badger.Txn) error {
			return scanPrefix(tx, prefix, true, func(item *badger.Item) error {
				batch = append(batch, item.KeyCopy(nil))
				if len(batch) >= deleteBatchSize {
					return errStopScan
				}
				return nil
			})
		}, false)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		g.generation.Add(1)

		err = g.backend.Update(ctx, func(tx *badger.Txn) error {
			for _, key := range batch {
				id := idFromKeyTail(key)
				var err error
				switch key[len(prefix)] {
				case provenanceEntity:
					err = stripEntity(tx, id, documentID)
				case provenanceRelation:
					err = stripRelation(tx, id, documentID)
				}
				if err != nil {
					return err
				}
				if err := tx.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
}

// stripEntity removes a document's refs from an entity, deleting the entity
// and its incident relations when no refs remain.
func stripEntity(tx *badger.Txn, id, documentID core.ID) error {
	key := makeEntityKey(id)
	entity, err := readEntity(tx, key)
	if err != nil || entity == nil {
		return err
	}
	entity.Sources = core.StripDocument(entity.Sources, documentID)
	if len(entity.Sources) > 0 {
		entity.UpdatedAt = time.Now().UTC()
		return tx.Set(key, storage.MarshalEntity(entity))
	}

	relationIDs, err := incidentRelations(tx, id)
	if err != nil {
		return err
	}
	for _, relationID := range relationIDs {
		relation, err := readRelation(tx, makeRelationKey(relationID))
		if err != nil {
			return err
		}
		if relation != nil {
			if err := deleteRelation(tx, relation); err != nil {
				return err
			}
		}
	}
	if err := tx.Delete(makeEntityNameKey(entity.Name, entity.Type)); err != nil {
		return err
	}
	return tx.Delete(key)
}

// stripRelation removes a document's refs from a relation, deleting it when
// no refs remain.
func stripRelation(tx *badger.Txn, id, documentID core.ID) error {
	key := makeRelationKey(id)
	relation, err := readRelation(tx, key)
	if err != nil || relation == nil {
		return err
	}
	relation.Sources = core.StripDocument(relation.Sources, documentID)
	if len(relation.Sources) == 0 {
		return deleteRelation(tx, relation)
	}
	relation.Corroboration = len(relation.Sources)
	relation.UpdatedAt = time.Now().UTC()
	return tx.Set(key, storage.MarshalRelation(relation))
}

func deleteRelation(tx *badger.Txn, relation *core.Relation) error {
	if err := tx.Delete(makeAdjacencyKey(relation.SourceID, relation.Id)); err != nil {
		return err
	}
	if err := tx.Delete(makeAdjacencyKey(relation.TargetID, relation.Id)); err != nil {
		return err
	}
	return tx.Delete(makeRelationKey(relation.Id))
}

// incidentRelations lists the IDs of relations touching an entity.
func incidentRelations(tx *badger.Txn, entityID core.ID) ([]core.ID, error) {
	var ids []core.ID
	err := scanPrefix(tx, makePartialAdjacencyKey(entityID), true, func(item *badger.Item) error {
		ids = append(ids, idFromKeyTail(item.Key()))
		return nil
	})
	return ids, err
}

// setProvenance records that each source document contributes to a record.
func setProvenance(tx *badger.Txn, kind byte, id core.ID, refs []core.ChunkRef) error {
	for _, ref := range refs {
		if err := tx.Set(makeProvenanceKey(ref.DocumentID, kind, id), nil); err != nil {
			return err
		}
	}
	return nil
}

// readEntity reads and deserializes an entity from a transaction.
// Returns nil if the key doesn't exist.
func readEntity(tx *badger.Txn, key []byte) (*core.Entity, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var entity *core.Entity
	err = item.Value(func(val []byte) error {
		entity, err = storage.UnmarshalEntity(val)
		return err
	})
	return entity, err
}

// readRelation reads and deserializes a relation from a transaction.
// Returns nil if the key doesn't exist.
func readRelation(tx *badger.Txn, key []byte) (*core.Relation, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var relation *core.Relation
	err = item.Value(func(val []byte) error {
		relation, err = storage.UnmarshalRelation(val)
		return err
	})
	return relation, err
}
