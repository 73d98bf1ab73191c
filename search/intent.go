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

package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/ingestion"
)

// DefaultRelationalCues mark queries about connections between entities.
var DefaultRelationalCues = []string{
	"relation", "connected", "which foundry", "who produces", "produce",
	"supplier", "between", "related to", "关系", "哪家", "关联", "连接",
}

// DefaultFactualCues mark queries asking for a specific value.
var DefaultFactualCues = []string{
	"what is the value", "how many", "maximum", "minimum", "typical",
	"rating", "voltage of", "参数", "多少", "最大", "最小",
}

// DefaultParameterCues mark a query as asking for a parameter value even
// when it carries no digits.
var DefaultParameterCues = []string{"value", "parameter", "数值", "参数"}

// DefaultIntentExamples seed the intent prototypes.
var DefaultIntentExamples = map[core.Intent][]string{
	core.IntentFactual: {
		"What is the breakdown voltage of the device?",
		"Give the maximum drain current rating.",
		"What is the typical threshold voltage?",
	},
	core.IntentRelational: {
		"Which foundry manufactures this transistor?",
		"How are the isolation layer and the deep well connected?",
		"Which process nodes support this device?",
	},
	core.IntentSemantic: {
		"Explain how the device works.",
		"Describe the overall process flow.",
		"Summarize the design guidelines.",
	},
}

// intentOrder is the tie-break order, most specific first.
var intentOrder = []core.Intent{core.IntentRelational, core.IntentFactual, core.IntentSemantic}

// IntentOptions configures an IntentClassifier.
type IntentOptions struct {
	// RelationalCues default to DefaultRelationalCues.
	RelationalCues []string

	// FactualCues default to DefaultFactualCues.
	FactualCues []string

	// ParameterCues default to DefaultParameterCues.
	ParameterCues []string

	// Prototypes holds one unit vector per intent. Without prototypes,
	// queries with no rule cue are SEMANTIC.
	Prototypes map[core.Intent][]float32

	// Epsilon is the similarity margin under which the earlier intent in
	// RELATIONAL, FACTUAL, SEMANTIC order wins. Default: 0.02
	Epsilon float32
}

// IntentClassifier assigns an intent to queries with rule cues first and
// prototype similarity second.
type IntentClassifier struct {
	relational []string
	factual    []string
	parameter  []string
	prototypes map[core.Intent][]float32
	epsilon    float32
	embedder   ai.Embedder
	logger     *slog.Logger
}

// NewIntentClassifier creates an intent classifier.
func NewIntentClassifier(embedder ai.Embedder, opts IntentOptions, logger *slog.Logger) (*IntentClassifier, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &IntentClassifier{
		relational: foldCues(opts.RelationalCues, DefaultRelationalCues),
		factual:    foldCues(opts.FactualCues, DefaultFactualCues),
		parameter:  foldCues(opts.ParameterCues, DefaultParameterCues),
		prototypes: opts.Prototypes,
		epsilon:    opts.Epsilon,
		embedder:   embedder,
		logger:     logger.With("component", "intent-classifier"),
	}
	if c.epsilon <= 0 {
		c.epsilon = 0.02
	}
	return c, nil
}

// MatchRule applies the cue rules. It reports false when no cue matched.
func (c *IntentClassifier) MatchRule(query string) (core.Intent, bool) {
	lower := strings.ToLower(query)
	factual := containsAny(lower, c.factual)
	relational := containsAny(lower, c.relational)

	switch {
	case factual && relational:
		if hasDigit(lower) || containsAny(lower, c.parameter) {
			return core.IntentFactual, true
		}
		return core.IntentRelational, true
	case relational:
		return core.IntentRelational, true
	case factual:
		return core.IntentFactual, true
	}
	return "", false
}

// ClassifyVector picks the intent whose prototype is nearest to vec.
// Intents within epsilon of the best similarity resolve in
// RELATIONAL, FACTUAL, SEMANTIC order.
func (c *IntentClassifier) ClassifyVector(vec []float32) core.Intent {
	best := float32(-2)
	sims := make(map[core.Intent]float32, len(c.prototypes))
	for _, intent := range intentOrder {
		proto, ok := c.prototypes[intent]
		if !ok {
			continue
		}
		sims[intent] = ingestion.Cosine(vec, proto)
		best = max(best, sims[intent])
	}
	for _, intent := range intentOrder {
		if sim, ok := sims[intent]; ok && best-sim <= c.epsilon {
			return intent
		}
	}
	return core.IntentSemantic
}

// Classify returns the intent of a query. Embedding failures degrade to
// SEMANTIC; only context errors are returned.
func (c *IntentClassifier) Classify(ctx context.Context, query string) (core.Intent, error) {
	if intent, ok := c.MatchRule(query); ok {
		return intent, nil
	}
	if len(c.prototypes) == 0 {
		return core.IntentSemantic, nil
	}

	vec, err := c.embedder.EmbedText(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("error embedding query, defaulting to semantic", "err", err)
		return core.IntentSemantic, nil
	}
	return c.ClassifyVector(vec), nil
}

// BuildIntentPrototypes embeds the example queries of each intent and
// averages them into one unit vector per intent.
func BuildIntentPrototypes(ctx context.Context, embedder ai.Embedder, examples map[core.Intent][]string) (map[core.Intent][]float32, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if len(examples) == 0 {
		examples = DefaultIntentExamples
	}

	prototypes := make(map[core.Intent][]float32, len(examples))
	for _, intent := range intentOrder {
		texts := examples[intent]
		if len(texts) == 0 {
			continue
		}
		vectors, err := embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding %s prototypes: %w", intent, err)
		}
		centroid, err := ingestion.Centroid(vectors)
		if err != nil {
			return nil, fmt.Errorf("%s prototypes: %w", intent, err)
		}
		if centroid != nil {
			prototypes[intent] = centroid
		}
	}
	return prototypes, nil
}

func foldCues(cues, defaults []string) []string {
	if len(cues) == 0 {
		cues = defaults
	}
	folded := make([]string, 0, len(cues))
	for _, cue := range cues {
		if cue = strings.ToLower(strings.TrimSpace(cue)); cue != "" {
			folded = append(folded, cue)
		}
	}
	return folded
}
