package ingestion

import (
	"strings"
	"time"
	"unicode"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
)

// Entity types and relation types the normalizer assigns itself.
const (
	DefaultEntityType   = "concept"
	ParameterEntityType = "parameter"
	DeviceEntityType    = "device"
	HasParameter        = "has_parameter"
)

// CanonicalName lower-cases a surface form and collapses whitespace.
func CanonicalName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// CanonicalType lower-cases a type and joins words with underscores.
func CanonicalType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_'
	}), "_")
}

// EntityNormalizer turns extracted triples and parameters into canonical
// graph records. Resolution is exact canonical equality only.
type EntityNormalizer struct {
	now func() time.Time
}

// NewEntityNormalizer creates an EntityNormalizer.
func NewEntityNormalizer() *EntityNormalizer {
	return &EntityNormalizer{now: func() time.Time { return time.Now().UTC() }}
}

// Normalize builds entities and relations for one chunk. Every record carries
// the chunk as its only source. Output order follows first appearance.
func (n *EntityNormalizer) Normalize(chunk *core.Chunk, triples []ai.Triple, params []core.Parameter) ([]*core.Entity, []*core.Relation) {
	b := &graphBuilder{
		ref:      core.ChunkRef{ChunkID: chunk.Id, DocumentID: chunk.DocumentID},
		now:      n.now(),
		entities: make(map[core.ID]*core.Entity),
		rels:     make(map[core.ID]*core.Relation),
	}

	var devices []core.ID
	for _, t := range triples {
		if !t.Valid() {
			continue
		}
		src, ok := b.entity(t.Source, t.SourceType)
		if !ok {
			continue
		}
		dst, ok := b.entity(t.Target, t.TargetType)
		if !ok {
			continue
		}
		b.relation(src, CanonicalType(t.Relation), dst)

		for _, id := range []core.ID{src, dst} {
			if b.entities[id].Type == DeviceEntityType && !containsID(devices, id) {
				devices = append(devices, id)
			}
		}
	}

	for _, p := range params {
		param, ok := b.entity(p.Name, ParameterEntityType)
		if !ok {
			continue
		}
		for _, device := range devices {
			b.relation(device, HasParameter, param)
		}
	}

	return b.entityList, b.relList
}

type graphBuilder struct {
	ref        core.ChunkRef
	now        time.Time
	entities   map[core.ID]*core.Entity
	rels       map[core.ID]*core.Relation
	entityList []*core.Entity
	relList    []*core.Relation
}

func (b *graphBuilder) entity(surface, entityType string) (core.ID, bool) {
	name := CanonicalName(surface)
	if name == "" {
		return 0, false
	}
	typ := CanonicalType(entityType)
	if typ == "" {
		typ = DefaultEntityType
	}

	id := core.EntityID(name, typ)
	if _, seen := b.entities[id]; !seen {
		e := &core.Entity{
			Id:        id,
			Type:      typ,
			Name:      name,
			Display:   strings.Join(strings.Fields(surface), " "),
			Sources:   []core.ChunkRef{b.ref},
			UpdatedAt: b.now,
		}
		b.entities[id] = e
		b.entityList = append(b.entityList, e)
	}
	return id, true
}

func (b *graphBuilder) relation(src core.ID, relType string, dst core.ID) {
	if src == dst || relType == "" {
		return
	}
	id := core.RelationID(src, relType, dst)
	if _, seen := b.rels[id]; seen {
		return
	}
	r := &core.Relation{
		Id:            id,
		SourceID:      src,
		TargetID:      dst,
		Type:          relType,
		Corroboration: 1,
		Sources:       []core.ChunkRef{b.ref},
		UpdatedAt:     b.now,
	}
	b.rels[id] = r
	b.relList = append(b.relList, r)
}

func containsID(ids []core.ID, id core.ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
