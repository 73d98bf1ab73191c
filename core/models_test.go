package core

import (
	"testing"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantSame bool
	}{
		{
			name:     "same content produces same ID",
			content:  "test content",
			wantSame: true,
		},
		{
			name:     "empty string",
			content:  "",
			wantSame: true,
		},
		{
			name:     "chinese content",
			content:  "击穿电压 60V",
			wantSame: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)

			if tt.wantSame && id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestIDFromContent_Different(t *testing.T) {
	id1 := IDFromContent("content1")
	id2 := IDFromContent("content2")

	if id1 == id2 {
		t.Errorf("IDFromContent() produced same ID for different content")
	}
}

func TestHashContent(t *testing.T) {
	h1 := HashContent([]byte("%PDF-1.7 a"))
	h2 := HashContent([]byte("%PDF-1.7 a"))
	h3 := HashContent([]byte("%PDF-1.7 b"))

	if h1 != h2 {
		t.Errorf("HashContent() not deterministic: %s vs %s", h1, h2)
	}
	if h1 == h3 {
		t.Errorf("HashContent() collided for different content")
	}
	if len(h1) != 64 {
		t.Errorf("HashContent() length = %d, want 64", len(h1))
	}
}

func TestChunkID(t *testing.T) {
	doc := IDFromContent("doc")
	if ChunkID(doc, 1, 0) != ChunkID(doc, 1, 0) {
		t.Errorf("ChunkID() not stable")
	}
	if ChunkID(doc, 1, 0) == ChunkID(doc, 1, 1) {
		t.Errorf("ChunkID() same for different seq")
	}
	if ChunkID(doc, 1, 0) == ChunkID(IDFromContent("other"), 1, 0) {
		t.Errorf("ChunkID() same for different documents")
	}
}

func TestEntity_Tuple(t *testing.T) {
	tests := []struct {
		name   string
		entity Entity
		want   string
	}{
		{
			name:   "basic entity",
			entity: Entity{Name: "ldmos", Type: "device"},
			want:   "(device,ldmos)",
		},
		{
			name:   "entity with spaces",
			entity: Entity{Name: "breakdown voltage", Type: "parameter"},
			want:   "(parameter,breakdown voltage)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entity.Tuple(); got != tt.want {
				t.Errorf("Entity.Tuple() = %v, want %v", got, tt.want)
			}
			if EntityID(tt.entity.Name, tt.entity.Type) != IDFromContent(tt.want) {
				t.Errorf("EntityID() does not hash the tuple")
			}
		})
	}
}

func TestMergeSources(t *testing.T) {
	refs := []ChunkRef{{ChunkID: 1, DocumentID: 10}}

	refs, added := MergeSources(refs, ChunkRef{ChunkID: 1, DocumentID: 10})
	if added != 0 || len(refs) != 1 {
		t.Errorf("MergeSources() duplicated an existing ref: added=%d len=%d", added, len(refs))
	}

	refs, added = MergeSources(refs, ChunkRef{ChunkID: 2, DocumentID: 11}, ChunkRef{ChunkID: 3, DocumentID: 11})
	if added != 2 || len(refs) != 3 {
		t.Errorf("MergeSources() added=%d len=%d, want 2 and 3", added, len(refs))
	}

	refs = StripDocument(refs, 11)
	if len(refs) != 1 || refs[0].ChunkID != 1 {
		t.Errorf("StripDocument() left %v", refs)
	}
}

func TestTable_Columns(t *testing.T) {
	tests := []struct {
		name  string
		table *Table
		want  int
	}{
		{name: "nil table", table: nil, want: 0},
		{
			name: "merged header spans",
			table: &Table{
				Headers: [][]HeaderCell{
					{{Text: "Parameter", Span: 1}, {Text: "Value", Span: 3}},
					{{Text: "", Span: 1}, {Text: "Min", Span: 1}, {Text: "Typ", Span: 1}, {Text: "Max", Span: 1}},
				},
			},
			want: 4,
		},
		{
			name:  "rows only",
			table: &Table{Rows: [][]string{{"a", "b"}, {"a", "b", "c"}}},
			want:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.table.Columns(); got != tt.want {
				t.Errorf("Table.Columns() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	for _, s := range []TaskStatus{TaskCompleted, TaskError, TaskCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TaskStatus{TaskQueued, TaskRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestParseTier(t *testing.T) {
	for _, tier := range Tiers {
		if ParseTier(tier.String()) != tier {
			t.Errorf("ParseTier(%q) round trip failed", tier.String())
		}
	}
	if ParseTier("purple") != TierUnknown {
		t.Errorf("ParseTier() accepted an unknown name")
	}
	if !(TierRed > TierYellow && TierYellow > TierGreen) {
		t.Errorf("tier severity ordering broken")
	}
}
