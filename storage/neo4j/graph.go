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

// Package neo4j provides a storage.GraphStore backed by a Neo4j server.
//
// Entities are (:Entity) nodes keyed by canonical ID and relations are
// [:REL] edges keyed by canonical relation ID. Provenance is kept on both as
// a list of "chunkID:documentID" strings plus a list of document IDs used to
// find everything a document contributed.
package neo4j

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/storage"
)

var (
	// ErrDriverRequired is returned when no driver is supplied.
	ErrDriverRequired = errors.New("neo4j driver is required")
)

const (
	entityColumns = "e.id AS id, e.name AS name, e.type AS type, e.display AS display, e.sources AS sources, e.updated_at AS updated_at"

	relationColumns = "r.id AS id, startNode(r).id AS source, endNode(r).id AS target, r.type AS type, r.corroboration AS corroboration, r.sources AS sources, r.updated_at AS updated_at"

	schemaCypher = "CREATE CONSTRAINT entity_id IF NOT EXISTS ON (e:Entity) ASSERT e.id IS UNIQUE"

	upsertEntitiesCypher = `UNWIND $rows AS row
MERGE (e:Entity {id: row.id})
ON CREATE SET e.name = row.name, e.type = row.type, e.display = row.display, e.sources = [], e.docs = []
WITH e, row
SET e.sources = e.sources + [s IN row.sources WHERE NOT s IN e.sources],
    e.docs = e.docs + [d IN row.docs WHERE NOT d IN e.docs],
    e.updated_at = row.updated_at
RETURN ` + entityColumns

	upsertRelationsCypher = `UNWIND $rows AS row
MATCH (s:Entity {id: row.source}), (t:Entity {id: row.target})
MERGE (s)-[r:REL {id: row.id}]->(t)
ON CREATE SET r.type = row.type, r.sources = [], r.docs = []
WITH r, row
SET r.sources = r.sources + [x IN row.sources WHERE NOT x IN r.sources],
    r.docs = r.docs + [d IN row.docs WHERE NOT d IN r.docs],
    r.updated_at = row.updated_at
SET r.corroboration = size(r.sources)
RETURN ` + relationColumns

	getEntityCypher = "MATCH (e:Entity {id: $id}) RETURN " + entityColumns

	findEntityCypher = "MATCH (e:Entity {name: $name, type: $type}) RETURN " + entityColumns

	findEntitiesByNameCypher = "MATCH (e:Entity {name: $name}) RETURN " + entityColumns + " ORDER BY e.type"

	entityNamesCypher = "MATCH (e:Entity) RETURN DISTINCT e.name AS name ORDER BY name"

	seedsCypher = "MATCH (e:Entity) WHERE e.id IN $ids RETURN " + entityColumns

	expandCypher = `MATCH (e:Entity)-[r:REL]-(o:Entity) WHERE e.id IN $ids
RETURN ` + relationColumns + `, o.id AS other_id, o.name AS other_name, o.type AS other_type,
       o.display AS other_display, o.sources AS other_sources, o.updated_at AS other_updated_at`

	countEntitiesCypher = "MATCH (e:Entity) WHERE $doc IN e.docs RETURN count(e) AS n"

	countRelationsCypher = "MATCH ()-[r:REL]->() WHERE $doc IN r.docs RETURN count(r) AS n"

	stripRelationsCypher = `MATCH ()-[r:REL]->() WHERE $doc IN r.docs
SET r.sources = [s IN r.sources WHERE NOT s ENDS WITH $suffix],
    r.docs = [d IN r.docs WHERE d <> $doc],
    r.updated_at = $now
SET r.corroboration = size(r.sources)
WITH r WHERE size(r.sources) = 0
DELETE r`

	stripEntitiesCypher = `MATCH (e:Entity) WHERE $doc IN e.docs
SET e.sources = [s IN e.sources WHERE NOT s ENDS WITH $suffix],
    e.docs = [d IN e.docs WHERE d <> $doc],
    e.updated_at = $now
WITH e WHERE size(e.sources) = 0
DETACH DELETE e`
)

// GraphStore implements storage.GraphStore on Neo4j.
type GraphStore struct {
	runner     runner
	logger     *slog.Logger
	generation atomic.Uint64
}

var _ storage.GraphStore = (*GraphStore)(nil)

// Option configures a GraphStore.
type Option func(*GraphStore) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *GraphStore) error {
		g.logger = logger
		return nil
	}
}

// Connect opens a driver with basic auth and verifies connectivity.
func Connect(uri, username, password string) (neo4j.Driver, error) {
	driver, err := neo4j.NewDriver(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(); err != nil {
		driver.Close()
		return nil, fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	return driver, nil
}

// NewGraphStore creates a GraphStore on an open driver. The store takes
// ownership of the driver and closes it on Close. An empty database selects
// the server default.
func NewGraphStore(driver neo4j.Driver, database string, opts ...Option) (storage.GraphStore, error) {
	if driver == nil {
		return nil, ErrDriverRequired
	}
	return newGraphStore(&driverRunner{driver: driver, database: database}, opts...)
}

func newGraphStore(r runner, opts ...Option) (*GraphStore, error) {
	g := &GraphStore{
		runner: r,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	g.logger = g.logger.With("component", "neo4j-graph")
	return g, nil
}

// EnsureSchema creates the uniqueness constraint on entity IDs.
func (g *GraphStore) EnsureSchema(ctx context.Context) error {
	return g.runner.write(ctx, func(q querier) error {
		_, err := q.query(schemaCypher, nil)
		return err
	})
}

// Close closes the underlying driver.
func (g *GraphStore) Close() error {
	return g.runner.close()
}

// UpsertEntities merges entities by canonical ID.
func (g *GraphStore) UpsertEntities(ctx context.Context, entities ...*core.Entity) ([]*core.Entity, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	now := time.Now().UTC().UnixMicro()
	rows := make([]any, 0, len(entities))
	for _, entity := range entities {
		if err := core.ValidateEntity(entity); err != nil {
			return nil, err
		}
		display := entity.Display
		if display == "" {
			display = entity.Name
		}
		sources, _ := core.MergeSources(nil, entity.Sources...)
		rows = append(rows, map[string]any{
			"id":         toNeo(core.EntityID(entity.Name, entity.Type)),
			"name":       entity.Name,
			"type":       entity.Type,
			"display":    display,
			"sources":    encodeRefs(sources),
			"docs":       documentIDs(sources),
			"updated_at": now,
		})
	}

	var stored []*core.Entity
	err := g.runner.write(ctx, func(q querier) error {
		result, err := q.query(upsertEntitiesCypher, map[string]any{"rows": rows})
		if err != nil {
			return err
		}
		stored, err = entitiesFromRows(result)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert entities: %w", err)
	}
	g.generation.Add(1)
	return stored, nil
}

// Generation counts entity writes made through this store. Writes by other
// processes sharing the database are not observed.
func (g *GraphStore) Generation() uint64 {
	return g.generation.Load()
}

// UpsertRelations merges relations by canonical ID. Both endpoints must exist.
func (g *GraphStore) UpsertRelations(ctx context.Context, relations ...*core.Relation) ([]*core.Relation, error) {
	if len(relations) == 0 {
		return nil, nil
	}
	now := time.Now().UTC().UnixMicro()
	rows := make([]any, 0, len(relations))
	for _, relation := range relations {
		if err := core.ValidateRelation(relation); err != nil {
			return nil, err
		}
		sources, _ := core.MergeSources(nil, relation.Sources...)
		rows = append(rows, map[string]any{
			"id":         toNeo(core.RelationID(relation.SourceID, relation.Type, relation.TargetID)),
			"source":     toNeo(relation.SourceID),
			"target":     toNeo(relation.TargetID),
			"type":       relation.Type,
			"sources":    encodeRefs(sources),
			"docs":       documentIDs(sources),
			"updated_at": now,
		})
	}

	var stored []*core.Relation
	err := g.runner.write(ctx, func(q querier) error {
		result, err := q.query(upsertRelationsCypher, map[string]any{"rows": rows})
		if err != nil {
			return err
		}
		if len(result) < len(rows) {
			return fmt.Errorf("relation endpoint: %w", storage.ErrNotFound)
		}
		stored, err = relationsFromRows(result)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert relations: %w", err)
	}
	return stored, nil
}

// GetEntity retrieves an entity by ID.
func (g *GraphStore) GetEntity(ctx context.Context, id core.ID) (*core.Entity, error) {
	return g.singleEntity(ctx, getEntityCypher, map[string]any{"id": toNeo(id)})
}

// FindEntity retrieves an entity by canonical name and type.
func (g *GraphStore) FindEntity(ctx context.Context, name, entityType string) (*core.Entity, error) {
	return g.singleEntity(ctx, findEntityCypher, map[string]any{"name": name, "type": entityType})
}

func (g *GraphStore) singleEntity(ctx context.Context, cypher string, params map[string]any) (*core.Entity, error) {
	entities, err := g.readEntities(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, storage.ErrNotFound
	}
	return entities[0], nil
}

// FindEntitiesByName returns all entities with the canonical name.
func (g *GraphStore) FindEntitiesByName(ctx context.Context, name string) ([]*core.Entity, error) {
	return g.readEntities(ctx, findEntitiesByNameCypher, map[string]any{"name": name})
}

func (g *GraphStore) readEntities(ctx context.Context, cypher string, params map[string]any) ([]*core.Entity, error) {
	var entities []*core.Entity
	err := g.runner.read(ctx, func(q querier) error {
		result, err := q.query(cypher, params)
		if err != nil {
			return err
		}
		entities, err = entitiesFromRows(result)
		return err
	})
	return entities, err
}

// AllEntityNames returns the distinct canonical names of all entities, sorted.
func (g *GraphStore) AllEntityNames(ctx context.Context) ([]string, error) {
	var names []string
	err := g.runner.read(ctx, func(q querier) error {
		result, err := q.query(entityNamesCypher, nil)
		if err != nil {
			return err
		}
		for _, r := range result {
			names = append(names, stringValue(r["name"]))
		}
		return nil
	})
	return names, err
}

// Neighbors expands hop by hop from the seeds, recording each entity's
// distance from its nearest seed.
func (g *GraphStore) Neighbors(ctx context.Context, seeds []core.ID, depth int) (*core.Subgraph, error) {
	sub := &core.Subgraph{Hops: make(map[core.ID]int)}
	err := g.runner.read(ctx, func(q querier) error {
		ids := make([]int64, 0, len(seeds))
		for _, seed := range seeds {
			ids = append(ids, toNeo(seed))
		}
		result, err := q.query(seedsCypher, map[string]any{"ids": ids})
		if err != nil {
			return err
		}
		seedEntities, err := entitiesFromRows(result)
		if err != nil {
			return err
		}

		var frontier []int64
		for _, entity := range seedEntities {
			if _, seen := sub.Hops[entity.Id]; seen {
				continue
			}
			sub.Hops[entity.Id] = 0
			sub.Entities = append(sub.Entities, entity)
			frontier = append(frontier, toNeo(entity.Id))
		}

		seenRelations := make(map[core.ID]bool)
		for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := q.query(expandCypher, map[string]any{"ids": frontier})
			if err != nil {
				return err
			}
			var next []int64
			for _, r := range result {
				relation, err := relationFromRow(r)
				if err != nil {
					return err
				}
				if !seenRelations[relation.Id] {
					seenRelations[relation.Id] = true
					sub.Relations = append(sub.Relations, relation)
				}
				other, err := entityFromRow(row{
					"id":         r["other_id"],
					"name":       r["other_name"],
					"type":       r["other_type"],
					"display":    r["other_display"],
					"sources":    r["other_sources"],
					"updated_at": r["other_updated_at"],
				})
				if err != nil {
					return err
				}
				if _, seen := sub.Hops[other.Id]; seen {
					continue
				}
				sub.Hops[other.Id] = hop
				sub.Entities = append(sub.Entities, other)
				next = append(next, toNeo(other.Id))
			}
			frontier = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(sub.Entities, func(a, b *core.Entity) int {
		if c := cmp.Compare(sub.Hops[a.Id], sub.Hops[b.Id]); c != 0 {
			return c
		}
		return cmp.Compare(a.Id, b.Id)
	})
	slices.SortFunc(sub.Relations, func(a, b *core.Relation) int {
		return cmp.Compare(a.Id, b.Id)
	})
	return sub, nil
}

// CountByDocument counts entities and relations citing a document.
func (g *GraphStore) CountByDocument(ctx context.Context, documentID core.ID) (int, int, error) {
	var entities, relations int
	params := map[string]any{"doc": toNeo(documentID)}
	err := g.runner.read(ctx, func(q querier) error {
		result, err := q.query(countEntitiesCypher, params)
		if err != nil {
			return err
		}
		if len(result) > 0 {
			entities = intValue(result[0]["n"])
		}
		result, err = q.query(countRelationsCypher, params)
		if err != nil {
			return err
		}
		if len(result) > 0 {
			relations = intValue(result[0]["n"])
		}
		return nil
	})
	return entities, relations, err
}

// DeleteByDocument strips the document from relations first and then from
// entities, deleting whatever is left without provenance.
func (g *GraphStore) DeleteByDocument(ctx context.Context, documentID core.ID) error {
	params := map[string]any{
		"doc":    toNeo(documentID),
		"suffix": fmt.Sprintf(":%d", uint64(documentID)),
		"now":    time.Now().UTC().UnixMicro(),
	}
	err := g.runner.write(ctx, func(q querier) error {
		if _, err := q.query(stripRelationsCypher, params); err != nil {
			return err
		}
		_, err := q.query(stripEntitiesCypher, params)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete document %d from graph: %w", documentID, err)
	}
	g.generation.Add(1)
	g.logger.Debug("removed document provenance", "document", uint64(documentID))
	return nil
}

func entitiesFromRows(rows []row) ([]*core.Entity, error) {
	entities := make([]*core.Entity, 0, len(rows))
	for _, r := range rows {
		entity, err := entityFromRow(r)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func relationsFromRows(rows []row) ([]*core.Relation, error) {
	relations := make([]*core.Relation, 0, len(rows))
	for _, r := range rows {
		relation, err := relationFromRow(r)
		if err != nil {
			return nil, err
		}
		relations = append(relations, relation)
	}
	return relations, nil
}
