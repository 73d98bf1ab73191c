package ai

import (
	"context"

	"github.com/poiesic/veridoc/core"
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ParameterExtractor pulls structured engineering parameters out of
// critical (RED) content.
type ParameterExtractor interface {
	// ExtractParameters runs one independent extraction pass over text.
	// When strict is set the model is reminded to emit schema-conformant JSON only.
	// Returns ErrMalformedOutput if the model output does not match the schema.
	ExtractParameters(ctx context.Context, text string, strict bool) ([]core.Parameter, error)

	// Arbitrate resolves two disagreeing extraction passes against the source text.
	Arbitrate(ctx context.Context, text string, a, b []core.Parameter, strict bool) (*Arbitration, error)
}

// TableExtractor converts table-like text into a normalized table with
// explicit header rows.
type TableExtractor interface {
	ExtractTable(ctx context.Context, text string, strict bool) (*core.Table, error)
}

// VisionInterpreter describes an image, such as a schematic or cross-section.
type VisionInterpreter interface {
	// DescribeImage returns a textual interpretation of image.
	// caption is optional surrounding text that helps ground the description.
	DescribeImage(ctx context.Context, image []byte, caption string) (string, error)
}

// RelationExtractor extracts (source, relation, target) triples from text.
type RelationExtractor interface {
	ExtractRelations(ctx context.Context, text string) ([]Triple, error)
}

// AnswerGenerator writes and fact-checks answers grounded in retrieved context.
type AnswerGenerator interface {
	// Generate answers query from contexts. feedback carries audit issues
	// from a previous attempt and is empty on the first call.
	Generate(ctx context.Context, query string, contexts []Context, feedback []string) (string, error)

	// Audit checks that every claim in answer is supported by contexts.
	Audit(ctx context.Context, contexts []Context, answer string) (*AuditVerdict, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	Embedder() Embedder
	ParameterExtractor() ParameterExtractor
	TableExtractor() TableExtractor
	VisionInterpreter() VisionInterpreter
	RelationExtractor() RelationExtractor
	AnswerGenerator() AnswerGenerator

	// Close releases resources held by the provider and its services.
	Close() error
}
