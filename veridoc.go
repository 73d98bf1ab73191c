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


package veridoc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/ai/openai"
	"github.com/poiesic/veridoc/config"
	"github.com/poiesic/veridoc/ingestion"
	"github.com/poiesic/veridoc/layout"
	"github.com/poiesic/veridoc/orchestrator"
	"github.com/poiesic/veridoc/reembed"
	"github.com/poiesic/veridoc/search"
	"github.com/poiesic/veridoc/storage/badger"
	"github.com/poiesic/veridoc/storage/neo4j"
	redisstore "github.com/poiesic/veridoc/storage/redis"
	chitransport "github.com/poiesic/veridoc/transport/chi"
)

// System is a fully wired veridoc instance: storage, model services, the
// ingestion orchestrator and the question answering stack.
type System struct {
	Config       config.Config
	Stores       *badger.Stores
	Provider     ai.AIProvider
	Pipeline     *ingestion.Pipeline
	Orchestrator *orchestrator.Orchestrator
	Router       *search.Router
	Composer     *search.Composer

	redis        *redis.Client
	ownsRedis    bool
	ownsProvider bool
	parser       layout.Parser
	logger       *slog.Logger
}

// Option configures Open.
type Option func(*System) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *System) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithProvider uses an existing model provider instead of connecting to the
// configured services. The caller keeps ownership of the provider.
func WithProvider(provider ai.AIProvider) Option {
	return func(s *System) error {
		s.Provider = provider
		return nil
	}
}

// WithRedisClient uses an existing Redis client instead of the configured
// address. The caller keeps ownership of the client.
func WithRedisClient(client *redis.Client) Option {
	return func(s *System) error {
		s.redis = client
		return nil
	}
}

// WithParser overrides the layout parser selected by the configuration.
func WithParser(parser layout.Parser) Option {
	return func(s *System) error {
		s.parser = parser
		return nil
	}
}

// Open builds every component described by cfg. Tier and intent prototypes
// are embedded once at startup, so the embedding service must be reachable.
// Call Close when done.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*System, error) {
	s := &System{Config: cfg, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if err := s.open(ctx); err != nil {
		if closeErr := s.Close(); closeErr != nil {
			s.logger.Error("error releasing partially opened system", "err", closeErr)
		}
		return nil, err
	}
	return s, nil
}

func (s *System) open(ctx context.Context) error {
	cfg := s.Config

	backend, err := badger.OpenBackend(cfg.Storage.Path, cfg.Storage.InMemory)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	stores, err := badger.NewStores(backend)
	if err != nil {
		backend.Close()
		return fmt.Errorf("opening stores: %w", err)
	}
	s.Stores = stores

	if cfg.Graph.Backend == config.GraphNeo4j {
		if err := s.openNeo4j(ctx); err != nil {
			return err
		}
	}

	if s.redis == nil && cfg.Redis.Enabled() {
		client, err := redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		s.redis = client
		s.ownsRedis = true
	}

	if s.Provider == nil {
		provider, err := openai.NewProvider(cfg.AIConfig(), openai.WithLogger(s.logger))
		if err != nil {
			return fmt.Errorf("creating model provider: %w", err)
		}
		s.Provider = provider
		s.ownsProvider = true
	}

	if err := s.openIngestion(ctx); err != nil {
		return err
	}
	return s.openSearch(ctx)
}

func (s *System) openNeo4j(ctx context.Context) error {
	n := s.Config.Graph.Neo4j
	driver, err := neo4j.Connect(n.URI, n.Username, n.Password)
	if err != nil {
		return err
	}
	graph, err := neo4j.NewGraphStore(driver, n.Database, neo4j.WithLogger(s.logger))
	if err != nil {
		driver.Close()
		return err
	}
	if err := graph.(*neo4j.GraphStore).EnsureSchema(ctx); err != nil {
		graph.Close()
		return fmt.Errorf("creating neo4j schema: %w", err)
	}

	// The badger graph store stays unused; the backend is shared and closed separately
	s.Stores.Graph.Close()
	s.Stores.Graph = graph
	return nil
}

func (s *System) openIngestion(ctx context.Context) error {
	cfg := s.Config
	embedder := s.Provider.Embedder()

	classifierOpts := cfg.ClassifierOptions()
	prototypes, err := ingestion.BuildPrototypes(ctx, embedder, nil)
	if err != nil {
		return fmt.Errorf("building tier prototypes: %w", err)
	}
	classifierOpts.Prototypes = prototypes
	classifier, err := ingestion.NewClassifier(embedder, classifierOpts)
	if err != nil {
		return err
	}

	dispatcher, err := ingestion.NewDispatcher(s.Provider, cfg.DispatcherOptions(), s.logger)
	if err != nil {
		return err
	}
	writer, err := ingestion.NewWriter(s.Stores.Documents, s.Stores.Graph, s.Stores.Vectors, embedder, s.logger)
	if err != nil {
		return err
	}
	s.Pipeline, err = ingestion.NewPipeline(classifier, dispatcher, writer,
		ingestion.WithPoolSize(cfg.Pipeline.Workers),
		ingestion.WithNormalizerOptions(cfg.NormalizerOptions()),
		ingestion.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}

	if s.parser == nil {
		s.parser, err = s.newParser()
		if err != nil {
			return err
		}
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithMaxConcurrentTasks(cfg.Pipeline.MaxConcurrentTasks),
		orchestrator.WithBatchSize(cfg.Pipeline.BatchSize),
		orchestrator.WithLogger(s.logger),
	}
	if s.redis != nil {
		tasks, err := redisstore.NewTaskStore(s.redis, cfg.TaskTTL())
		if err != nil {
			return err
		}
		lock, err := redisstore.NewLock(s.redis)
		if err != nil {
			return err
		}
		orchOpts = append(orchOpts, orchestrator.WithTaskStore(tasks), orchestrator.WithLocker(lock))
	}
	s.Orchestrator, err = orchestrator.New(s.Stores.Documents, s.parser, s.Pipeline, orchOpts...)
	return err
}

func (s *System) newParser() (layout.Parser, error) {
	if s.Config.Layout.Endpoint == "" {
		s.logger.Info("no layout endpoint configured, expecting pre-extracted block JSON")
		return layout.NewJSONParser(s.logger), nil
	}
	return layout.NewHTTPParser(s.Config.Layout.Endpoint, s.Config.LayoutTimeout(), layout.WithLogger(s.logger))
}

func (s *System) openSearch(ctx context.Context) error {
	embedder := s.Provider.Embedder()

	prototypes, err := search.BuildIntentPrototypes(ctx, embedder, nil)
	if err != nil {
		return fmt.Errorf("building intent prototypes: %w", err)
	}
	intents, err := search.NewIntentClassifier(embedder, search.IntentOptions{Prototypes: prototypes}, s.logger)
	if err != nil {
		return err
	}

	s.Router, err = search.NewRouter(s.Stores.Documents, s.Stores.Graph, s.Stores.Vectors, s.Provider,
		search.WithConfig(s.Config.SearchConfig()),
		search.WithIntentClassifier(intents),
		search.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}

	s.Composer, err = search.NewComposer(s.Router, s.Provider,
		search.ComposerOptions{MaxRevisions: s.Config.Router.MaxRevisions}, s.logger)
	return err
}

// NewReembedder creates a re-embedder over this system's stores.
func (s *System) NewReembedder(cfg *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(s.Stores.Documents, s.Stores.Vectors, s.Stores.Checkpoints,
		s.Provider.Embedder(), cfg, progress, s.logger)
}

// NewHTTPServer creates the HTTP API with storage and Redis health checks.
func (s *System) NewHTTPServer(opts ...chitransport.Option) (*chitransport.Server, error) {
	base := []chitransport.Option{
		chitransport.WithLogger(s.logger),
		chitransport.WithHealthCheck("storage", func(context.Context) error {
			if s.Stores.Backend.IsClosed() {
				return errors.New("storage closed")
			}
			return nil
		}),
	}
	if s.redis != nil {
		base = append(base, chitransport.WithHealthCheck("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
	}
	return chitransport.NewServer(s.Orchestrator, s.Composer, append(base, opts...)...)
}

// Close stops the orchestrator, waiting for running tasks, and releases
// every owned resource.
func (s *System) Close() error {
	var errs []error
	if s.Orchestrator != nil {
		errs = append(errs, s.Orchestrator.Close())
	}
	if s.Pipeline != nil {
		s.Pipeline.Release()
	}
	if s.Router != nil {
		s.Router.Close()
	}
	if s.Provider != nil && s.ownsProvider {
		errs = append(errs, s.Provider.Close())
	}
	if s.redis != nil && s.ownsRedis {
		errs = append(errs, s.redis.Close())
	}
	if s.Stores != nil {
		errs = append(errs, s.Stores.Close())
	}
	return errors.Join(errs...)
}
