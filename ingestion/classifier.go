package ingestion

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
)

// DefaultRedTerms are the rule-level markers of critical engineering content.
var DefaultRedTerms = []string{
	"breakdown voltage",
	"design rule",
	"bvdss",
	"drc",
	"ldmos",
	"mim",
	"cmos",
	"bcd",
	"leakage current",
	"threshold voltage",
	"击穿电压",
	"设计规则",
	"工艺参数",
	"漏电流",
}

// DefaultPrototypeExamples are example sentences averaged into one
// prototype vector per tier by BuildPrototypes.
var DefaultPrototypeExamples = map[core.Tier][]string{
	core.TierRed: {
		"The LDMOS breakdown voltage BVDSS is 72 V at VGS = 0 V.",
		"Minimum metal spacing design rule is 0.28 um.",
		"Leakage current shall not exceed 1 uA at 125 C.",
		"工艺参数：栅氧厚度 12 nm，阈值电压 0.7 V。",
	},
	core.TierYellow: {
		"Table 3 lists the device characteristics.",
		"Figure 5 shows the cross-section of the isolation structure.",
		"参数表和特性曲线如下图所示。",
		"The process flow diagram is illustrated below.",
	},
	core.TierGreen: {
		"This document introduces the background of the platform.",
		"Abstract and introduction.",
		"References and acknowledgements.",
		"摘要、引言与背景介绍。",
	},
}

// Classification is the outcome of tier classification for one chunk.
type Classification struct {
	Tier       core.Tier
	Confidence float32
	// Rule is true when the tier came from a term match.
	Rule bool
}

// ClassifierOptions configures a Classifier.
type ClassifierOptions struct {
	// Terms are matched case-insensitively as substrings. Default: DefaultRedTerms
	Terms []string

	// Prototypes holds one unit vector per tier.
	Prototypes map[core.Tier][]float32

	// Epsilon is the similarity margin under which the more severe tier wins.
	// Default: 0.02
	Epsilon float32
}

// Classifier assigns a criticality tier to chunks.
type Classifier struct {
	terms      []string
	prototypes map[core.Tier][]float32
	epsilon    float32
	embedder   ai.Embedder
}

// NewClassifier creates a classifier. The embedder is used only when the
// rule level does not match.
func NewClassifier(embedder ai.Embedder, opts ClassifierOptions) (*Classifier, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if len(opts.Prototypes) == 0 {
		return nil, ErrPrototypesRequired
	}

	terms := opts.Terms
	if len(terms) == 0 {
		terms = DefaultRedTerms
	}
	folded := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			folded = append(folded, t)
		}
	}

	epsilon := opts.Epsilon
	if epsilon <= 0 {
		epsilon = 0.02
	}

	return &Classifier{
		terms:      folded,
		prototypes: opts.Prototypes,
		epsilon:    epsilon,
		embedder:   embedder,
	}, nil
}

// MatchesRule reports whether text contains a critical term.
func (c *Classifier) MatchesRule(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range c.terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// ClassifyVector classifies text with a precomputed embedding.
// It is pure: identical inputs always produce the same tier.
func (c *Classifier) ClassifyVector(text string, vec []float32) Classification {
	if c.MatchesRule(text) {
		return Classification{Tier: core.TierRed, Confidence: 1, Rule: true}
	}

	type scored struct {
		tier core.Tier
		sim  float32
	}
	var best, second *scored
	// Iterate in severity order so equal scores resolve deterministically
	for _, tier := range core.Tiers {
		proto, ok := c.prototypes[tier]
		if !ok {
			continue
		}
		s := &scored{tier: tier, sim: Cosine(vec, proto)}
		switch {
		case best == nil || s.sim > best.sim:
			second, best = best, s
		case second == nil || s.sim > second.sim:
			second = s
		}
	}

	if best == nil {
		return Classification{Tier: core.TierGreen}
	}
	if second != nil && best.sim-second.sim < c.epsilon && second.tier > best.tier {
		best = second
	}
	return Classification{Tier: best.tier, Confidence: clamp01(best.sim)}
}

// Classify embeds the chunk text when the rule level misses and returns
// the classification together with the vector, which is nil on a rule hit.
func (c *Classifier) Classify(ctx context.Context, chunk *core.Chunk) (Classification, []float32, error) {
	if chunk.Kind == core.KindImage {
		if c.MatchesRule(chunk.Text) {
			return Classification{Tier: core.TierRed, Confidence: 1, Rule: true}, nil, nil
		}
		return Classification{Tier: core.TierYellow, Confidence: 1, Rule: true}, nil, nil
	}

	if c.MatchesRule(chunk.Text) {
		return Classification{Tier: core.TierRed, Confidence: 1, Rule: true}, nil, nil
	}

	vec, err := c.embedder.EmbedText(ctx, chunk.Text)
	if err != nil {
		return Classification{}, nil, fmt.Errorf("embedding chunk %d: %w", chunk.Id, err)
	}
	vec = NormalizeVector(vec)

	result := c.ClassifyVector(chunk.Text, vec)
	if chunk.Kind == core.KindTable && result.Tier < core.TierYellow {
		result.Tier = core.TierYellow
	}
	return result, vec, nil
}

// BuildPrototypes embeds the example sentences of each tier and averages
// them into one unit vector per tier.
func BuildPrototypes(ctx context.Context, embedder ai.Embedder, examples map[core.Tier][]string) (map[core.Tier][]float32, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if len(examples) == 0 {
		examples = DefaultPrototypeExamples
	}

	prototypes := make(map[core.Tier][]float32, len(examples))
	for _, tier := range core.Tiers {
		texts := examples[tier]
		if len(texts) == 0 {
			continue
		}
		vectors, err := embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding %s prototypes: %w", tier, err)
		}
		centroid, err := Centroid(vectors)
		if err != nil {
			return nil, fmt.Errorf("%s prototypes: %w", tier, err)
		}
		if centroid != nil {
			prototypes[tier] = centroid
		}
	}
	if len(prototypes) == 0 {
		return nil, ErrPrototypesRequired
	}
	return prototypes, nil
}

// Centroid averages the unit-length forms of vectors and returns the result
// scaled to unit length. It returns nil for no vectors.
func Centroid(vectors [][]float32) ([]float32, error) {
	var sum []float32
	for _, v := range vectors {
		v = NormalizeVector(v)
		if sum == nil {
			sum = make([]float32, len(v))
		}
		if len(v) != len(sum) {
			return nil, ErrDimensionMismatch
		}
		for i := range v {
			sum[i] += v[i]
		}
	}
	if sum == nil {
		return nil, nil
	}
	return NormalizeVector(sum), nil
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// NormalizeVector returns v scaled to unit length. Zero vectors are returned as is.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(1 / math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * norm
	}
	return out
}

func clamp01(v float32) float32 {
	return max(0, min(1, v))
}
