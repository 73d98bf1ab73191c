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

package storage

import (
	"github.com/poiesic/veridoc/core"
)

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	e := &encoder{}
	e.uint64(uint64(id))
	return e.buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	d := &decoder{bs: data}
	id := core.ID(d.uint64())
	return id, d.err
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	e := &encoder{}
	e.uint64(uint64(doc.Id))
	e.string(doc.Hash)
	e.string(doc.Filename)
	e.int64(doc.Size)
	e.int(int(doc.Status))
	e.time(doc.UploadedAt)
	e.time(doc.UpdatedAt)
	return e.buf
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	d := &decoder{bs: data}
	doc := &core.Document{
		Id:         core.ID(d.uint64()),
		Hash:       d.string(),
		Filename:   d.string(),
		Size:       d.int64(),
		Status:     core.DocumentStatus(d.int()),
		UploadedAt: d.time(),
		UpdatedAt:  d.time(),
	}
	if d.err != nil {
		return nil, d.err
	}
	return doc, nil
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	e := &encoder{}
	e.uint64(uint64(chunk.Id))
	e.uint64(uint64(chunk.DocumentID))
	e.int(chunk.Page)
	e.int(chunk.Seq)
	e.string(chunk.Text)
	e.int(int(chunk.Kind))
	e.int(int(chunk.Tier))
	e.float32(chunk.Confidence)
	e.int(int(chunk.Status))
	e.bool(chunk.TableCandidate)
	e.bytes(chunk.Image)
	return e.buf
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	d := &decoder{bs: data}
	chunk := &core.Chunk{
		Id:             core.ID(d.uint64()),
		DocumentID:     core.ID(d.uint64()),
		Page:           d.int(),
		Seq:            d.int(),
		Text:           d.string(),
		Kind:           core.ContentKind(d.int()),
		Tier:           core.Tier(d.int()),
		Confidence:     d.float32(),
		Status:         core.ChunkStatus(d.int()),
		TableCandidate: d.bool(),
		Image:          d.bytes(),
	}
	if d.err != nil {
		return nil, d.err
	}
	return chunk, nil
}

// MarshalExtractionResult serializes an ExtractionResult to bytes.
func MarshalExtractionResult(result *core.ExtractionResult) []byte {
	e := &encoder{}
	e.uint64(uint64(result.ChunkID))
	e.uint64(uint64(result.DocumentID))
	e.string(string(result.Route))
	e.int(len(result.Parameters))
	for _, p := range result.Parameters {
		e.string(p.Name)
		e.string(p.Value)
		e.string(p.Unit)
		e.string(p.Condition)
	}
	e.bool(result.Table != nil)
	if result.Table != nil {
		e.int(len(result.Table.Headers))
		for _, row := range result.Table.Headers {
			e.int(len(row))
			for _, cell := range row {
				e.string(cell.Text)
				e.int(cell.Span)
			}
		}
		e.int(len(result.Table.Rows))
		for _, row := range result.Table.Rows {
			e.strings(row)
		}
	}
	e.string(result.Description)
	e.string(result.Text)
	e.int(result.Passes)
	e.bool(result.Agreed)
	e.float32(result.Confidence)
	e.int(int(result.Status))
	return e.buf
}

// UnmarshalExtractionResult deserializes an ExtractionResult from bytes.
func UnmarshalExtractionResult(data []byte) (*core.ExtractionResult, error) {
	d := &decoder{bs: data}
	result := &core.ExtractionResult{
		ChunkID:    core.ID(d.uint64()),
		DocumentID: core.ID(d.uint64()),
		Route:      core.Route(d.string()),
	}
	if n := d.length(); n > 0 {
		result.Parameters = make([]core.Parameter, n)
		for i := range result.Parameters {
			result.Parameters[i] = core.Parameter{
				Name:      d.string(),
				Value:     d.string(),
				Unit:      d.string(),
				Condition: d.string(),
			}
		}
	}
	if d.bool() {
		table := &core.Table{}
		if n := d.length(); n > 0 {
			table.Headers = make([][]core.HeaderCell, n)
			for i := range table.Headers {
				cells := make([]core.HeaderCell, d.length())
				for j := range cells {
					cells[j] = core.HeaderCell{Text: d.string(), Span: d.int()}
				}
				table.Headers[i] = cells
			}
		}
		if n := d.length(); n > 0 {
			table.Rows = make([][]string, n)
			for i := range table.Rows {
				table.Rows[i] = d.strings()
			}
		}
		result.Table = table
	}
	result.Description = d.string()
	result.Text = d.string()
	result.Passes = d.int()
	result.Agreed = d.bool()
	result.Confidence = d.float32()
	result.Status = core.ChunkStatus(d.int())
	if d.err != nil {
		return nil, d.err
	}
	return result, nil
}

// MarshalAuditRecord serializes an AuditRecord to bytes.
func MarshalAuditRecord(record *core.AuditRecord) []byte {
	e := &encoder{}
	e.uint64(uint64(record.ChunkID))
	e.uint64(uint64(record.DocumentID))
	e.string(record.PassA)
	e.string(record.PassB)
	e.string(record.Arbitration)
	e.int(int(record.Decision))
	e.time(record.CreatedAt)
	return e.buf
}

// UnmarshalAuditRecord deserializes an AuditRecord from bytes.
func UnmarshalAuditRecord(data []byte) (*core.AuditRecord, error) {
	d := &decoder{bs: data}
	record := &core.AuditRecord{
		ChunkID:     core.ID(d.uint64()),
		DocumentID:  core.ID(d.uint64()),
		PassA:       d.string(),
		PassB:       d.string(),
		Arbitration: d.string(),
		Decision:    core.Decision(d.int()),
		CreatedAt:   d.time(),
	}
	if d.err != nil {
		return nil, d.err
	}
	return record, nil
}

func encodeRefs(e *encoder, refs []core.ChunkRef) {
	e.int(len(refs))
	for _, ref := range refs {
		e.uint64(uint64(ref.ChunkID))
		e.uint64(uint64(ref.DocumentID))
	}
}

func decodeRefs(d *decoder) []core.ChunkRef {
	n := d.length()
	if n == 0 {
		return nil
	}
	refs := make([]core.ChunkRef, n)
	for i := range refs {
		refs[i] = core.ChunkRef{ChunkID: core.ID(d.uint64()), DocumentID: core.ID(d.uint64())}
	}
	return refs
}

// MarshalEntity serializes an Entity to bytes.
func MarshalEntity(entity *core.Entity) []byte {
	e := &encoder{}
	e.uint64(uint64(entity.Id))
	e.string(entity.Type)
	e.string(entity.Name)
	e.string(entity.Display)
	encodeRefs(e, entity.Sources)
	e.time(entity.UpdatedAt)
	return e.buf
}

// UnmarshalEntity deserializes an Entity from bytes.
func UnmarshalEntity(data []byte) (*core.Entity, error) {
	d := &decoder{bs: data}
	entity := &core.Entity{
		Id:      core.ID(d.uint64()),
		Type:    d.string(),
		Name:    d.string(),
		Display: d.string(),
	}
	entity.Sources = decodeRefs(d)
	entity.UpdatedAt = d.time()
	if d.err != nil {
		return nil, d.err
	}
	return entity, nil
}

// MarshalRelation serializes a Relation to bytes.
func MarshalRelation(relation *core.Relation) []byte {
	e := &encoder{}
	e.uint64(uint64(relation.Id))
	e.uint64(uint64(relation.SourceID))
	e.uint64(uint64(relation.TargetID))
	e.string(relation.Type)
	e.int(relation.Corroboration)
	encodeRefs(e, relation.Sources)
	e.time(relation.UpdatedAt)
	return e.buf
}

// UnmarshalRelation deserializes a Relation from bytes.
func UnmarshalRelation(data []byte) (*core.Relation, error) {
	d := &decoder{bs: data}
	relation := &core.Relation{
		Id:            core.ID(d.uint64()),
		SourceID:      core.ID(d.uint64()),
		TargetID:      core.ID(d.uint64()),
		Type:          d.string(),
		Corroboration: d.int(),
	}
	relation.Sources = decodeRefs(d)
	relation.UpdatedAt = d.time()
	if d.err != nil {
		return nil, d.err
	}
	return relation, nil
}

// MarshalVectorPoint serializes a VectorPoint to bytes.
func MarshalVectorPoint(point *core.VectorPoint) []byte {
	e := &encoder{}
	e.uint64(uint64(point.ChunkID))
	e.uint64(uint64(point.DocumentID))
	e.vector(point.Vector)
	e.string(point.Payload.Filename)
	e.int(point.Payload.Page)
	e.int(int(point.Payload.Tier))
	e.int(int(point.Payload.Kind))
	e.string(point.Payload.Text)
	return e.buf
}

// UnmarshalVectorPoint deserializes a VectorPoint from bytes.
func UnmarshalVectorPoint(data []byte) (*core.VectorPoint, error) {
	d := &decoder{bs: data}
	point := &core.VectorPoint{
		ChunkID:    core.ID(d.uint64()),
		DocumentID: core.ID(d.uint64()),
		Vector:     d.vector(),
	}
	point.Payload = core.VectorPayload{
		Filename: d.string(),
		Page:     d.int(),
		Tier:     core.Tier(d.int()),
		Kind:     core.ContentKind(d.int()),
		Text:     d.string(),
	}
	if d.err != nil {
		return nil, d.err
	}
	return point, nil
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(checkpoint *core.Checkpoint) []byte {
	e := &encoder{}
	e.string(checkpoint.Name)
	e.uint64(uint64(checkpoint.LastID))
	e.int(checkpoint.Processed)
	e.time(checkpoint.UpdatedAt)
	return e.buf
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	d := &decoder{bs: data}
	checkpoint := &core.Checkpoint{
		Name:      d.string(),
		LastID:    core.ID(d.uint64()),
		Processed: d.int(),
		UpdatedAt: d.time(),
	}
	if d.err != nil {
		return nil, d.err
	}
	return checkpoint, nil
}
