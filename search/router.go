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
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/ingestion"
	"github.com/poiesic/veridoc/metrics"
	"github.com/poiesic/veridoc/storage"
)

// DefaultDescriptiveCues mark a query as asking for explanation as well as
// for connections.
var DefaultDescriptiveCues = []string{
	"how", "why", "describe", "explain", "characteristics",
	"如何", "为什么", "描述", "特性",
}

// DefaultTableCues and DefaultFigureCues mark a query as asking for table or
// figure content, which is then searched by kind as well.
var (
	DefaultTableCues  = []string{"table", "tabular", "column", "表格", "列表"}
	DefaultFigureCues = []string{"figure", "fig.", "diagram", "chart", "curve", "plot", "image", "图", "曲线"}
)

// exactRelations are the edges that attach attributes to an entity.
var exactRelations = []string{ingestion.HasParameter, "has_property"}

// Config tunes retrieval.
type Config struct {
	// TopK bounds vector, graph and hybrid results. Default: 5
	TopK int

	// MinScore is the vector similarity floor. Default: 0
	MinScore float32

	// ExactLimit bounds exact lookup results. Default: 3
	ExactLimit int

	// Depth bounds graph traversal. Default: 2
	Depth int

	// GraphWeight and VectorWeight combine hybrid scores. Default: 0.5 each
	GraphWeight  float32
	VectorWeight float32

	// DescriptiveTokens is the number of non-seed content tokens above which
	// a relational query is treated as descriptive. Default: 8
	DescriptiveTokens int

	// DescriptiveCues default to DefaultDescriptiveCues.
	DescriptiveCues []string

	// TableLimit and ImageLimit bound the kind-filtered searches run for
	// queries with table or figure cues. Default: 3 and 2
	TableLimit int
	ImageLimit int

	// TableCues and FigureCues default to DefaultTableCues and DefaultFigureCues.
	TableCues  []string
	FigureCues []string
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MinScore < 0 {
		c.MinScore = 0
	}
	if c.ExactLimit <= 0 {
		c.ExactLimit = 3
	}
	if c.Depth <= 0 {
		c.Depth = 2
	}
	if c.GraphWeight <= 0 && c.VectorWeight <= 0 {
		c.GraphWeight, c.VectorWeight = 0.5, 0.5
	}
	if c.DescriptiveTokens <= 0 {
		c.DescriptiveTokens = 8
	}
	c.DescriptiveCues = foldCues(c.DescriptiveCues, DefaultDescriptiveCues)
	if c.TableLimit <= 0 {
		c.TableLimit = 3
	}
	if c.ImageLimit <= 0 {
		c.ImageLimit = 2
	}
	c.TableCues = foldCues(c.TableCues, DefaultTableCues)
	c.FigureCues = foldCues(c.FigureCues, DefaultFigureCues)
	return c
}

// Result is the evidence retrieved for one query.
type Result struct {
	Query  string
	Intent core.Intent
	Mode   core.RetrievalMode
	Seeds  []*core.Entity

	// Facts are graph relations rendered as "source relation target".
	Facts []string

	// Sources are ranked by score, then tier, then chunk ID.
	Sources []core.Source
}

// Router classifies queries and retrieves evidence with the matching mode.
type Router struct {
	docs      storage.DocumentRepository
	graph     storage.GraphStore
	vectors   storage.VectorStore
	embedder  ai.Embedder
	intents   *IntentClassifier
	seeds     *SeedExtractor
	ownsSeeds bool
	config    Config
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithConfig sets retrieval tuning. Zero fields take their defaults.
func WithConfig(cfg Config) Option {
	return func(r *Router) error {
		r.config = cfg.withDefaults()
		return nil
	}
}

// WithIntentClassifier replaces the rule-only default classifier.
func WithIntentClassifier(c *IntentClassifier) Option {
	return func(r *Router) error {
		if c == nil {
			return errors.New("intent classifier cannot be nil")
		}
		r.intents = c
		return nil
	}
}

// WithSeedExtractor sets a shared seed extractor. The router does not close it.
func WithSeedExtractor(s *SeedExtractor) Option {
	return func(r *Router) error {
		if s == nil {
			return errors.New("seed extractor cannot be nil")
		}
		r.seeds = s
		return nil
	}
}

// NewRouter creates a query router over the document, graph and vector stores.
func NewRouter(
	docs storage.DocumentRepository,
	graph storage.GraphStore,
	vectors storage.VectorStore,
	provider ai.AIProvider,
	opts ...Option,
) (*Router, error) {
	if docs == nil {
		return nil, ErrRepositoryRequired
	}
	if graph == nil {
		return nil, ErrGraphStoreRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	r := &Router{
		docs:     docs,
		graph:    graph,
		vectors:  vectors,
		embedder: provider.Embedder(),
		config:   Config{}.withDefaults(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "router")

	if r.intents == nil {
		intents, err := NewIntentClassifier(r.embedder, IntentOptions{}, r.logger)
		if err != nil {
			return nil, err
		}
		r.intents = intents
	}
	if r.seeds == nil {
		seeds, err := NewSeedExtractor(graph, r.logger)
		if err != nil {
			return nil, err
		}
		r.seeds = seeds
		r.ownsSeeds = true
	}
	return r, nil
}

// Close releases the seed extractor if the router created it.
func (r *Router) Close() {
	if r.ownsSeeds {
		r.seeds.Close()
	}
}

// Route retrieves evidence for a query.
func (r *Router) Route(ctx context.Context, query string) (*Result, error) {
	return r.RouteWithMonitor(ctx, query, nil)
}

// RouteWithMonitor retrieves evidence for a query with monitoring.
// The monitor receives callbacks at each stage of routing.
func (r *Router) RouteWithMonitor(ctx context.Context, query string, monitor RouteMonitor) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	start := time.Now()
	monitor.Start(query)

	intent, err := r.intents.Classify(ctx, query)
	if err != nil {
		return nil, err
	}
	monitor.AfterClassify(intent)

	res := &Result{Query: query, Intent: intent}
	var scores map[core.ID]float32
	limit := r.config.TopK

	switch intent {
	case core.IntentFactual:
		seeds, err := r.extractSeeds(ctx, query, res, monitor)
		if err != nil {
			return nil, err
		}
		scores, err = r.exact(ctx, seeds.Entities, res)
		if err != nil {
			return nil, err
		}
		res.Mode, limit = core.ModeExact, r.config.ExactLimit
		if len(scores) == 0 {
			monitor.Fallback(core.ModeExact, core.ModeVector, "no exact match")
			res.Mode, limit = core.ModeVector, r.config.TopK
		}

	case core.IntentRelational:
		seeds, err := r.extractSeeds(ctx, query, res, monitor)
		if err != nil {
			return nil, err
		}
		if len(seeds.Entities) == 0 {
			monitor.Fallback(core.ModeGraph, core.ModeVector, "no seed entities")
			res.Mode = core.ModeVector
			break
		}
		scores, err = r.traverse(ctx, seeds.Entities, res)
		if err != nil {
			return nil, err
		}
		monitor.AfterGraphSearch(maps.All(scores))
		res.Mode = core.ModeGraph
		if r.descriptive(query, seeds) {
			res.Mode = core.ModeHybrid
		} else if len(scores) == 0 {
			monitor.Fallback(core.ModeGraph, core.ModeVector, "no graph evidence")
			res.Mode = core.ModeVector
		}

	default:
		res.Mode = core.ModeVector
	}

	switch res.Mode {
	case core.ModeVector:
		var extra int
		scores, extra, err = r.vectorScores(ctx, query, monitor)
		if err != nil {
			return nil, err
		}
		limit = r.config.TopK + extra
	case core.ModeHybrid:
		vectorScores, extra, err := r.vectorScores(ctx, query, monitor)
		if err != nil {
			return nil, err
		}
		scores = r.merge(scores, vectorScores)
		limit = r.config.TopK + extra
	}

	res.Sources, err = r.resolve(ctx, scores, limit)
	if err != nil {
		return nil, err
	}
	if len(res.Sources) == 0 && (res.Mode == core.ModeExact || res.Mode == core.ModeGraph) {
		// Evidence that only cites unindexed documents is no evidence.
		monitor.Fallback(res.Mode, core.ModeVector, "no indexed evidence")
		res.Mode, res.Facts = core.ModeVector, nil
		var extra int
		scores, extra, err = r.vectorScores(ctx, query, monitor)
		if err != nil {
			return nil, err
		}
		res.Sources, err = r.resolve(ctx, scores, r.config.TopK+extra)
		if err != nil {
			return nil, err
		}
	}

	metrics.QueriesTotal.WithLabelValues(string(res.Intent), string(res.Mode)).Inc()
	metrics.QueryDuration.WithLabelValues(string(res.Mode)).Observe(time.Since(start).Seconds())
	r.logger.Debug("routed query", "intent", res.Intent, "mode", res.Mode, "sources", len(res.Sources))
	monitor.Finish(res)
	return res, nil
}

func (r *Router) extractSeeds(ctx context.Context, query string, res *Result, monitor RouteMonitor) (*Seeds, error) {
	seeds, err := r.seeds.Extract(ctx, query)
	if err != nil {
		return nil, err
	}
	res.Seeds = seeds.Entities
	monitor.AfterSeedExtraction(seeds.Entities)
	return seeds, nil
}

// exact scores the chunks that state attributes of the seeds: the sources
// of has_parameter and has_property edges touching a seed, and the sources
// of seeds that are themselves parameters.
func (r *Router) exact(ctx context.Context, seeds []*core.Entity, res *Result) (map[core.ID]float32, error) {
	scores := make(map[core.ID]float32)
	if len(seeds) == 0 {
		return scores, nil
	}

	ids := make([]core.ID, 0, len(seeds))
	for _, seed := range seeds {
		ids = append(ids, seed.Id)
		if seed.Type == ingestion.ParameterEntityType {
			for _, ref := range seed.Sources {
				scores[ref.ChunkID] = max(scores[ref.ChunkID], 0.9)
			}
		}
	}

	sub, err := r.graph.Neighbors(ctx, ids, 1)
	if err != nil {
		return nil, fmt.Errorf("looking up attributes: %w", err)
	}
	entities := entityIndex(sub)
	for _, rel := range sub.Relations {
		if !slices.Contains(exactRelations, rel.Type) {
			continue
		}
		for _, ref := range rel.Sources {
			scores[ref.ChunkID] = 1
		}
		res.Facts = append(res.Facts, renderFact(rel, entities))
	}
	return scores, nil
}

// traverse scores chunks cited by relations reachable from the seeds.
// A relation reached at hop h scores 1/(1+h); chunks keep their best score.
func (r *Router) traverse(ctx context.Context, seeds []*core.Entity, res *Result) (map[core.ID]float32, error) {
	ids := make([]core.ID, 0, len(seeds))
	for _, seed := range seeds {
		ids = append(ids, seed.Id)
	}
	sub, err := r.graph.Neighbors(ctx, ids, r.config.Depth)
	if err != nil {
		return nil, fmt.Errorf("traversing graph: %w", err)
	}

	scores := make(map[core.ID]float32)
	entities := entityIndex(sub)
	for _, rel := range sub.Relations {
		hops := min(hopsOf(sub, rel.SourceID), hopsOf(sub, rel.TargetID))
		score := 1 / float32(1+hops)
		for _, ref := range rel.Sources {
			scores[ref.ChunkID] = max(scores[ref.ChunkID], score)
		}
		res.Facts = append(res.Facts, renderFact(rel, entities))
	}
	return scores, nil
}

// vectorScores embeds the query and scores the nearest chunks. Queries
// with table or figure cues also search TABLE and IMAGE chunks on their own
// so that they are not crowded out by prose; extra counts the chunks found
// only that way, which are returned on top of TopK.
func (r *Router) vectorScores(ctx context.Context, query string, monitor RouteMonitor) (scores map[core.ID]float32, extra int, err error) {
	vec, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("embedding query: %w", err)
	}
	vec = ingestion.NormalizeVector(vec)

	// Over-fetch so chunks of unindexed documents do not crowd out results
	matches, err := r.vectors.Search(ctx, vec, r.config.MinScore, 2*r.config.TopK)
	if err != nil {
		return nil, 0, fmt.Errorf("searching vectors: %w", err)
	}
	scores = make(map[core.ID]float32, len(matches))
	for _, m := range matches {
		scores[m.Point.ChunkID] = m.Score
	}

	lower := strings.ToLower(query)
	for _, ks := range []struct {
		kind  core.ContentKind
		cues  []string
		limit int
	}{
		{core.KindTable, r.config.TableCues, r.config.TableLimit},
		{core.KindImage, r.config.FigureCues, r.config.ImageLimit},
	} {
		if !containsAny(lower, ks.cues) {
			continue
		}
		hits, err := r.vectors.Search(ctx, vec, r.config.MinScore, ks.limit, ks.kind)
		if err != nil {
			return nil, 0, fmt.Errorf("searching %s vectors: %w", ks.kind, err)
		}
		for _, m := range hits {
			if _, ok := scores[m.Point.ChunkID]; !ok {
				scores[m.Point.ChunkID] = m.Score
				matches = append(matches, m)
				extra++
			}
		}
	}
	monitor.AfterVectorSearch(matches)
	return scores, extra, nil
}

// merge combines graph and vector scores by chunk ID. A chunk missing from
// one side contributes zero for that side.
func (r *Router) merge(graph, vector map[core.ID]float32) map[core.ID]float32 {
	merged := make(map[core.ID]float32, len(graph)+len(vector))
	for id, g := range graph {
		merged[id] = r.config.GraphWeight * g
	}
	for id, v := range vector {
		merged[id] += r.config.VectorWeight * v
	}
	return merged
}

// descriptive reports whether a relational query also asks for description.
func (r *Router) descriptive(query string, seeds *Seeds) bool {
	if containsAny(strings.ToLower(query), r.config.DescriptiveCues) {
		return true
	}
	return len(seeds.Tokens) > r.config.DescriptiveTokens
}

// resolve turns chunk scores into ranked sources with file and page.
// Chunks of documents that are not indexed are skipped.
func (r *Router) resolve(ctx context.Context, scores map[core.ID]float32, limit int) ([]core.Source, error) {
	if len(scores) == 0 {
		return []core.Source{}, nil
	}
	ids := slices.Sorted(maps.Keys(scores))
	chunks, err := r.docs.GetChunks(ctx, ids...)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}

	docs := make(map[core.ID]*core.Document)
	sources := make([]core.Source, 0, len(chunks))
	for _, chunk := range chunks {
		doc, ok := docs[chunk.DocumentID]
		if !ok {
			doc, err = r.docs.GetDocument(ctx, chunk.DocumentID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("loading document: %w", err)
			}
			docs[chunk.DocumentID] = doc
		}
		if doc == nil || doc.Status != core.DocumentIndexed {
			continue
		}

		text := chunk.Text
		if result, err := r.docs.GetResult(ctx, chunk.Id); err == nil {
			text = ingestion.EmbeddingText(chunk, result)
		}
		sources = append(sources, core.Source{
			ChunkID:  chunk.Id,
			Filename: doc.Filename,
			Page:     chunk.Page,
			Score:    scores[chunk.Id],
			Tier:     chunk.Tier,
			TierName: chunk.Tier.String(),
			Text:     text,
		})
	}

	SortSources(sources)
	if len(sources) > limit {
		sources = sources[:limit]
	}
	return sources, nil
}

// SortSources orders sources by score, then by tier with RED first, then by
// chunk ID.
func SortSources(sources []core.Source) {
	slices.SortFunc(sources, func(a, b core.Source) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Tier, a.Tier); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
}

func entityIndex(sub *core.Subgraph) map[core.ID]*core.Entity {
	index := make(map[core.ID]*core.Entity, len(sub.Entities))
	for _, e := range sub.Entities {
		index[e.Id] = e
	}
	return index
}

// hopsOf returns the hop count of an entity, treating unvisited entities as
// one past the traversal frontier.
func hopsOf(sub *core.Subgraph, id core.ID) int {
	if h, ok := sub.Hops[id]; ok {
		return h
	}
	h := 0
	for _, v := range sub.Hops {
		h = max(h, v)
	}
	return h + 1
}

func renderFact(rel *core.Relation, entities map[core.ID]*core.Entity) string {
	name := func(id core.ID) string {
		if e, ok := entities[id]; ok {
			return e.Display
		}
		return fmt.Sprintf("#%d", id)
	}
	return name(rel.SourceID) + " " + rel.Type + " " + name(rel.TargetID)
}
