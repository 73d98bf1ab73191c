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

package neo4j

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/veridoc/core"
)

// Neo4j integers are signed 64-bit. IDs are stored bit-for-bit as int64.
func toNeo(id core.ID) int64 {
	return int64(id)
}

func fromNeo(v any) core.ID {
	n, _ := v.(int64)
	return core.ID(uint64(n))
}

// encodeRefs flattens chunk refs into "chunkID:documentID" strings so they
// can live in a list property.
func encodeRefs(refs []core.ChunkRef) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, refString(ref))
	}
	return out
}

func refString(ref core.ChunkRef) string {
	return strconv.FormatUint(uint64(ref.ChunkID), 10) + ":" + strconv.FormatUint(uint64(ref.DocumentID), 10)
}

func decodeRefs(v any) ([]core.ChunkRef, error) {
	items, _ := v.([]any)
	refs := make([]core.ChunkRef, 0, len(items))
	for _, item := range items {
		s, _ := item.(string)
		chunk, doc, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf("malformed chunk ref %q", s)
		}
		chunkID, err := strconv.ParseUint(chunk, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed chunk ref %q: %w", s, err)
		}
		docID, err := strconv.ParseUint(doc, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed chunk ref %q: %w", s, err)
		}
		refs = append(refs, core.ChunkRef{ChunkID: core.ID(chunkID), DocumentID: core.ID(docID)})
	}
	return refs, nil
}

// documentIDs lists the distinct documents of a ref set.
func documentIDs(refs []core.ChunkRef) []int64 {
	var out []int64
	seen := make(map[core.ID]bool)
	for _, ref := range refs {
		if !seen[ref.DocumentID] {
			seen[ref.DocumentID] = true
			out = append(out, toNeo(ref.DocumentID))
		}
	}
	return out
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) int {
	n, _ := v.(int64)
	return int(n)
}

func timeValue(v any) time.Time {
	n, ok := v.(int64)
	if !ok || n == 0 {
		return time.Time{}
	}
	return time.UnixMicro(n).UTC()
}

// entityFromRow maps the columns returned by entityColumns.
func entityFromRow(r row) (*core.Entity, error) {
	sources, err := decodeRefs(r["sources"])
	if err != nil {
		return nil, err
	}
	return &core.Entity{
		Id:        fromNeo(r["id"]),
		Type:      stringValue(r["type"]),
		Name:      stringValue(r["name"]),
		Display:   stringValue(r["display"]),
		Sources:   sources,
		UpdatedAt: timeValue(r["updated_at"]),
	}, nil
}

// relationFromRow maps the columns returned by relationColumns.
func relationFromRow(r row) (*core.Relation, error) {
	sources, err := decodeRefs(r["sources"])
	if err != nil {
		return nil, err
	}
	return &core.Relation{
		Id:            fromNeo(r["id"]),
		SourceID:      fromNeo(r["source"]),
		TargetID:      fromNeo(r["target"]),
		Type:          stringValue(r["type"]),
		Corroboration: intValue(r["corroboration"]),
		Sources:       sources,
		UpdatedAt:     timeValue(r["updated_at"]),
	}, nil
}
