package ai

import (
	"strings"

	"github.com/poiesic/veridoc/core"
)

// RelationTypes defines the valid relation types for extracted triples.
var RelationTypes = []string{
	"defined_in",
	"restricted_by",
	"has_property",
	"connected_to",
	"used_in",
	"produced_by",
	"has_parameter",
}

// EntityTypes defines the categories offered to the model for entity typing.
var EntityTypes = []string{
	"device",
	"process",
	"foundry",
	"layer",
	"parameter",
	"material",
	"design_rule",
	"document",
	"concept",
}

// Triple is one extracted (source, relation, target) statement.
type Triple struct {
	Source     string `json:"source"`
	SourceType string `json:"source_type"`
	Relation   string `json:"relation"`
	Target     string `json:"target"`
	TargetType string `json:"target_type"`
}

// Valid reports whether every required field is present.
func (t Triple) Valid() bool {
	return strings.TrimSpace(t.Source) != "" &&
		strings.TrimSpace(t.Relation) != "" &&
		strings.TrimSpace(t.Target) != ""
}

// Arbitration is the outcome of resolving two disagreeing passes.
// Resolved is false when the arbiter could not settle on a single answer.
type Arbitration struct {
	Parameters []core.Parameter `json:"parameters"`
	Resolved   bool             `json:"resolved"`
	Reason     string           `json:"reason,omitempty"`
}

// Context is a retrieved passage handed to the answer generator.
type Context struct {
	Filename string
	Page     int
	Text     string
}

// AuditVerdict is the result of fact-checking an answer.
type AuditVerdict struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues"`
}
