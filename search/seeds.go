package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/ingestion"
	"github.com/poiesic/veridoc/storage"
	"github.com/yanyiwu/gojieba"
)

const fallbackKeywords = 5

// Seeds is the result of seed extraction for one query.
type Seeds struct {
	// Entities are the graph entities named by the query, in order of
	// first mention.
	Entities []*core.Entity

	// Tokens are the query's content tokens that did not name an entity.
	Tokens []string
}

// SeedExtractor finds graph entities named in a query. Every known entity
// name is added to the tokenizer dictionary so multi-character names and
// technical terms survive segmentation.
type SeedExtractor struct {
	graph      storage.GraphStore
	mu         sync.RWMutex
	jieba      *gojieba.Jieba
	known      map[string]struct{}
	spaced     []string
	loaded     bool
	generation uint64
	logger     *slog.Logger
}

// NewSeedExtractor creates a seed extractor over the graph store.
func NewSeedExtractor(graph storage.GraphStore, logger *slog.Logger) (*SeedExtractor, error) {
	if graph == nil {
		return nil, ErrGraphStoreRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SeedExtractor{
		graph:  graph,
		jieba:  gojieba.NewJieba(),
		known:  make(map[string]struct{}),
		logger: logger.With("component", "seed-extractor"),
	}, nil
}

// Refresh adds entity names created since the last refresh to the
// dictionary. Names are reloaded only when the graph generation has moved.
func (s *SeedExtractor) Refresh(ctx context.Context) error {
	gen := s.graph.Generation()
	s.mu.RLock()
	closed, current := s.jieba == nil, s.loaded && s.generation == gen
	s.mu.RUnlock()
	if closed {
		return ErrSeedExtractorClosed
	}
	if current {
		return nil
	}

	names, err := s.graph.AllEntityNames(ctx)
	if err != nil {
		return fmt.Errorf("loading entity names: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jieba == nil {
		return ErrSeedExtractorClosed
	}
	// gen was read before the scan, so a write racing it triggers another
	s.loaded, s.generation = true, gen
	for _, name := range names {
		if _, ok := s.known[name]; ok {
			continue
		}
		s.known[name] = struct{}{}
		if strings.Contains(name, " ") {
			// The segmenter splits on spaces, so these are matched as substrings
			s.spaced = append(s.spaced, name)
			continue
		}
		s.jieba.AddWord(name)
	}
	return nil
}

// Extract returns the entities named by the query. When no token names a
// known entity, the longest content keywords are looked up instead.
func (s *SeedExtractor) Extract(ctx context.Context, query string) (*Seeds, error) {
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}

	lower := strings.ToLower(query)
	s.mu.RLock()
	if s.jieba == nil {
		s.mu.RUnlock()
		return nil, ErrSeedExtractorClosed
	}
	words := s.jieba.Tokenize(lower, gojieba.DefaultMode, true)
	var candidates []string
	var rest []string
	for _, name := range s.spaced {
		if strings.Contains(lower, name) {
			candidates = append(candidates, name)
		}
	}
	raw := make([]string, 0, len(words))
	for _, w := range words {
		raw = append(raw, w.Str)
	}
	for _, tok := range contentTokens(raw) {
		name := ingestion.CanonicalName(tok)
		if _, ok := s.known[name]; ok {
			candidates = append(candidates, name)
			continue
		}
		if !coveredBy(tok, candidates) {
			rest = append(rest, tok)
		}
	}
	s.mu.RUnlock()

	if len(candidates) == 0 {
		candidates = keywords(rest, fallbackKeywords)
	}

	seeds := &Seeds{Tokens: rest}
	seen := make(map[core.ID]bool)
	for _, name := range candidates {
		entities, err := s.graph.FindEntitiesByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("looking up entity %q: %w", name, err)
		}
		for _, e := range entities {
			if seen[e.Id] {
				continue
			}
			seen[e.Id] = true
			seeds.Entities = append(seeds.Entities, e)
		}
	}
	s.logger.Debug("extracted seeds", "query", query, "candidates", candidates, "entities", len(seeds.Entities))
	return seeds, nil
}

// Close frees the tokenizer. Later calls return ErrSeedExtractorClosed.
func (s *SeedExtractor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jieba != nil {
		s.jieba.Free()
		s.jieba = nil
	}
}

// coveredBy reports whether tok is a word of one of the multi-word names.
func coveredBy(tok string, names []string) bool {
	for _, name := range names {
		for _, part := range strings.Fields(name) {
			if part == tok {
				return true
			}
		}
	}
	return false
}
