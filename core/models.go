package core

import (
	"encoding/binary"
	"encoding/hex"
	"slices"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is generated using content-based hashing so that re-processing the same
// content always yields the same key.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	return IDFromBytes([]byte(text))
}

// IDFromBytes generates a deterministic ID from raw bytes using BLAKE2b hashing.
func IDFromBytes(data []byte) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write(data)
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// HashContent returns the hex encoded BLAKE2b-256 digest of data.
func HashContent(data []byte) string {
	h, _ := blake2b.New(32, nil)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DocumentStatus is the lifecycle state of an uploaded document.
type DocumentStatus int

const (
	DocumentProcessing DocumentStatus = iota + 1
	DocumentIndexed
	DocumentDeleted
	DocumentFailed
)

func (s DocumentStatus) String() string {
	switch s {
	case DocumentProcessing:
		return "processing"
	case DocumentIndexed:
		return "indexed"
	case DocumentDeleted:
		return "deleted"
	case DocumentFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Document is an uploaded PDF. Its ID is derived from the content hash,
// so two uploads of identical bytes share one Document.
type Document struct {
	Id         ID
	Hash       string
	Filename   string
	Size       int64
	Status     DocumentStatus
	UploadedAt time.Time
	UpdatedAt  time.Time
}

// ContentKind is the structural kind of a block or chunk.
type ContentKind int

const (
	KindText ContentKind = iota + 1
	KindTable
	KindImage
)

func (k ContentKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindTable:
		return "table"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// ParseContentKind maps a layout parser kind hint to a ContentKind.
// Unknown hints are treated as text.
func ParseContentKind(s string) ContentKind {
	switch s {
	case "table", "TABLE":
		return KindTable
	case "image", "IMAGE", "figure", "picture":
		return KindImage
	default:
		return KindText
	}
}

// Tier is the criticality classification of a chunk.
// Higher values are more severe.
type Tier int

const (
	TierUnknown Tier = iota
	TierGreen
	TierYellow
	TierRed
)

// Tiers lists all classifiable tiers from most to least severe.
var Tiers = []Tier{TierRed, TierYellow, TierGreen}

func (t Tier) String() string {
	switch t {
	case TierRed:
		return "RED"
	case TierYellow:
		return "YELLOW"
	case TierGreen:
		return "GREEN"
	default:
		return "UNKNOWN"
	}
}

// ParseTier parses a tier name.
func ParseTier(s string) Tier {
	switch s {
	case "RED", "red":
		return TierRed
	case "YELLOW", "yellow":
		return TierYellow
	case "GREEN", "green":
		return TierGreen
	default:
		return TierUnknown
	}
}

// ChunkStatus is the extraction state of a chunk.
type ChunkStatus int

const (
	ChunkPending ChunkStatus = iota + 1
	ChunkExtracted
	ChunkFlagged
)

func (s ChunkStatus) String() string {
	switch s {
	case ChunkPending:
		return "PENDING"
	case ChunkExtracted:
		return "EXTRACTED"
	case ChunkFlagged:
		return "FLAGGED"
	default:
		return "UNKNOWN"
	}
}

// Box is a bounding region on a page, in PDF points.
type Box struct {
	X0, Y0, X1, Y1 float32
}

// Height returns the vertical extent of the box.
func (b Box) Height() float32 {
	return b.Y1 - b.Y0
}

// Block is a raw positioned unit produced by the layout parser.
type Block struct {
	Page  int
	Box   Box
	Kind  ContentKind
	Text  string
	Image []byte
}

// Chunk is a normalized unit of document content with page provenance.
type Chunk struct {
	Id             ID
	DocumentID     ID
	Page           int
	Seq            int
	Text           string
	Kind           ContentKind
	Tier           Tier
	Confidence     float32
	Status         ChunkStatus
	TableCandidate bool
	Image          []byte
}

// ChunkID returns the stable ID of the chunk at (page, seq) in a document.
func ChunkID(documentID ID, page, seq int) ID {
	return IDFromContent(uintString(uint64(documentID)) + ":" + uintString(uint64(page)) + ":" + uintString(uint64(seq)))
}

// Route selects the extraction handler for a chunk.
type Route string

const (
	RouteRed         Route = "RED"
	RouteYellowTable Route = "YELLOW_TABLE"
	RouteYellowImage Route = "YELLOW_IMAGE"
	RouteGreen       Route = "GREEN"
)

// Parameter is a structured engineering parameter extracted from RED content.
type Parameter struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Unit      string `json:"unit"`
	Condition string `json:"condition,omitempty"`
}

// HeaderCell is one cell of a table header row. Span is the number of
// columns the cell covers; merged headers have Span > 1.
type HeaderCell struct {
	Text string `json:"text"`
	Span int    `json:"span"`
}

// Table is a normalized table. Headers holds one or more header rows so that
// merged parent headers are explicit rather than inferred from indentation.
type Table struct {
	Headers [][]HeaderCell `json:"headers"`
	Rows    [][]string     `json:"rows"`
}

// Columns returns the column count implied by the last header row,
// falling back to the widest data row.
func (t *Table) Columns() int {
	if t == nil {
		return 0
	}
	if len(t.Headers) > 0 {
		cols := 0
		for _, cell := range t.Headers[len(t.Headers)-1] {
			span := cell.Span
			if span < 1 {
				span = 1
			}
			cols += span
		}
		if cols > 0 {
			return cols
		}
	}
	cols := 0
	for _, row := range t.Rows {
		cols = max(cols, len(row))
	}
	return cols
}

// ExtractionResult is the structured output attached to a chunk.
type ExtractionResult struct {
	ChunkID     ID
	DocumentID  ID
	Route       Route
	Parameters  []Parameter
	Table       *Table
	Description string
	Text        string
	Passes      int
	Agreed      bool
	Confidence  float32
	Status      ChunkStatus
}

// Decision is the final outcome of RED chunk verification.
type Decision int

const (
	DecisionAccepted Decision = iota + 1
	DecisionFlagged
)

func (d Decision) String() string {
	if d == DecisionAccepted {
		return "ACCEPTED"
	}
	return "FLAGGED"
}

// AuditRecord retains every pass output for a RED extraction.
// Outputs are stored as JSON text; an empty string means the pass produced nothing.
type AuditRecord struct {
	ChunkID     ID
	DocumentID  ID
	PassA       string
	PassB       string
	Arbitration string
	Decision    Decision
	CreatedAt   time.Time
}

// ChunkRef points at the chunk that justifies an entity or relation.
type ChunkRef struct {
	ChunkID    ID
	DocumentID ID
}

// Entity is a canonical knowledge graph node.
type Entity struct {
	Id        ID
	Type      string
	Name      string // canonical form
	Display   string // first seen surface form
	Sources   []ChunkRef
	UpdatedAt time.Time
}

// EntityID returns the canonical key for a (name, type) pair.
func EntityID(name, entityType string) ID {
	return IDFromContent("(" + entityType + "," + name + ")")
}

// Tuple returns a string representation of the entity as "(Type,Name)".
func (e *Entity) Tuple() string {
	return "(" + e.Type + "," + e.Name + ")"
}

// Relation is a directed edge between two entities.
type Relation struct {
	Id            ID
	SourceID      ID
	TargetID      ID
	Type          string
	Corroboration int
	Sources       []ChunkRef
	UpdatedAt     time.Time
}

// RelationID returns the canonical key for a (source, type, target) triple.
func RelationID(sourceID ID, relationType string, targetID ID) ID {
	return IDFromContent(uintString(uint64(sourceID)) + "|" + relationType + "|" + uintString(uint64(targetID)))
}

// MergeSources adds refs not already present, keyed by chunk ID.
// It reports how many refs were added.
func MergeSources(existing []ChunkRef, refs ...ChunkRef) ([]ChunkRef, int) {
	added := 0
	for _, ref := range refs {
		if slices.ContainsFunc(existing, func(r ChunkRef) bool { return r.ChunkID == ref.ChunkID }) {
			continue
		}
		existing = append(existing, ref)
		added++
	}
	return existing, added
}

// StripDocument removes all refs belonging to the document.
func StripDocument(refs []ChunkRef, documentID ID) []ChunkRef {
	return slices.DeleteFunc(refs, func(r ChunkRef) bool { return r.DocumentID == documentID })
}

// VectorPayload is the metadata stored alongside a chunk embedding.
type VectorPayload struct {
	Filename string
	Page     int
	Tier     Tier
	Kind     ContentKind
	Text     string
}

// VectorPoint is a chunk embedding keyed by chunk ID.
type VectorPoint struct {
	ChunkID    ID
	DocumentID ID
	Vector     []float32
	Payload    VectorPayload
}

// VectorMatch is a vector search hit.
type VectorMatch struct {
	Point *VectorPoint
	Score float32
}

// Subgraph is the result of a bounded graph traversal.
// Hops maps entity IDs to their distance from the nearest seed.
type Subgraph struct {
	Entities  []*Entity
	Relations []*Relation
	Hops      map[ID]int
}

func uintString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// Checkpoint records how far a resumable batch job has progressed.
type Checkpoint struct {
	Name      string
	LastID    ID
	Processed int
	UpdatedAt time.Time
}
