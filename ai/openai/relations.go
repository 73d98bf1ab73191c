package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/veridoc/ai"
)

// RelationExtractor implements ai.RelationExtractor using OpenAI-compatible chat APIs.
type RelationExtractor struct {
	chat   *chatClient
	logger *slog.Logger
}

type relationList struct {
	Relations []ai.Triple `json:"relations"`
}

func newRelationExtractor(chat *chatClient) *RelationExtractor {
	return &RelationExtractor{
		chat:   chat,
		logger: chat.logger.With("service", "relations"),
	}
}

// ExtractRelations extracts triples from text. Incomplete triples are dropped.
func (e *RelationExtractor) ExtractRelations(ctx context.Context, text string) ([]ai.Triple, error) {
	var result relationList
	if err := e.chat.completeJSON(ctx, "extract_relations", buildRelationPrompt(), prepareText(text), &result); err != nil {
		return nil, err
	}
	if result.Relations == nil {
		return nil, fmt.Errorf("%w: missing relations key", ai.ErrMalformedOutput)
	}

	triples := make([]ai.Triple, 0, len(result.Relations))
	for _, t := range result.Relations {
		if !t.Valid() {
			e.logger.Debug("dropping incomplete triple", "triple", t)
			continue
		}
		t.Relation = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(t.Relation)), " ", "_")
		triples = append(triples, t)
	}

	e.logger.Debug("extracted relations", "total", len(result.Relations), "kept", len(triples))
	return triples, nil
}
