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

// Package config loads the service configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/ingestion"
	"github.com/poiesic/veridoc/search"
)

// Graph backends.
const (
	GraphBadger = "badger"
	GraphNeo4j  = "neo4j"
)

// Config holds the veridoc service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Graph    GraphConfig    `yaml:"graph"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Router   RouterConfig   `yaml:"router"`
	Layout   LayoutConfig   `yaml:"layout"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_sec"`
}

// StorageConfig holds the BadgerDB location.
type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// GraphConfig selects the knowledge graph backend.
type GraphConfig struct {
	Backend string      `yaml:"backend"` // badger (default) or neo4j
	Neo4j   Neo4jConfig `yaml:"neo4j"`
}

// Neo4jConfig holds Neo4j connection settings.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RedisConfig holds Redis settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TaskTTLSec int    `yaml:"task_ttl_sec"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// AIConfig holds model service settings.
type AIConfig struct {
	EmbeddingHost     string  `yaml:"embedding_host"`
	ChatHost          string  `yaml:"chat_host"`
	VisionHost        string  `yaml:"vision_host"`
	APIKey            string  `yaml:"api_key"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	ChatModel         string  `yaml:"chat_model"`
	VisionModel       string  `yaml:"vision_model"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	CallTimeoutSec    int     `yaml:"call_timeout_sec"`
	MaxAttempts       int     `yaml:"max_attempts"`
}

// PipelineConfig holds ingestion settings.
type PipelineConfig struct {
	Workers            int      `yaml:"workers"`
	MaxConcurrentTasks int      `yaml:"max_concurrent_tasks"`
	BatchSize          int      `yaml:"batch_size"`
	MaxChunkChars      int      `yaml:"max_chunk_chars"`
	Epsilon            float32  `yaml:"epsilon"`
	RedTerms           []string `yaml:"red_terms"`
}

// RouterConfig holds query routing settings.
type RouterConfig struct {
	TopK         int     `yaml:"top_k"`
	MinScore     float32 `yaml:"min_score"`
	ExactLimit   int     `yaml:"exact_limit"`
	Depth        int     `yaml:"depth"`
	GraphWeight  float32 `yaml:"graph_weight"`
	VectorWeight float32 `yaml:"vector_weight"`
	MaxRevisions int     `yaml:"max_revisions"`
	TableLimit   int     `yaml:"table_limit"`
	ImageLimit   int     `yaml:"image_limit"`
}

// LayoutConfig holds layout service settings. An empty Endpoint means
// documents must be submitted as pre-extracted block JSON.
type LayoutConfig struct {
	Endpoint   string `yaml:"endpoint"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Load reads configuration from a YAML file, expands ${VAR} and
// ${VAR:-default} references, applies defaults and validates the result.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}

		data = expandEnvVars(data)

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Storage.Path == "" && !c.Storage.InMemory {
		c.Storage.Path = "veridoc-data"
	}
	if c.Graph.Backend == "" {
		c.Graph.Backend = GraphBadger
	}
	if c.Graph.Neo4j.Database == "" {
		c.Graph.Neo4j.Database = "neo4j"
	}
	if c.Redis.TaskTTLSec <= 0 {
		c.Redis.TaskTTLSec = 86400
	}

	def := ai.DefaultConfig()
	if c.AI.EmbeddingHost == "" {
		c.AI.EmbeddingHost = def.EmbeddingHost
	}
	if c.AI.ChatHost == "" {
		c.AI.ChatHost = def.ChatHost
	}
	if c.AI.EmbeddingModel == "" {
		c.AI.EmbeddingModel = def.EmbeddingModel
	}
	if c.AI.ChatModel == "" {
		c.AI.ChatModel = def.ChatModel
	}
	if c.AI.VisionModel == "" {
		c.AI.VisionModel = def.VisionModel
	}
	if c.AI.RequestsPerSecond == 0 {
		c.AI.RequestsPerSecond = def.RequestsPerSecond
	}
	if c.AI.CallTimeoutSec <= 0 {
		c.AI.CallTimeoutSec = int(def.CallTimeout / time.Second)
	}
	if c.AI.MaxAttempts <= 0 {
		c.AI.MaxAttempts = def.MaxAttempts
	}

	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.MaxConcurrentTasks <= 0 {
		c.Pipeline.MaxConcurrentTasks = 2
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 16
	}
	if c.Pipeline.MaxChunkChars <= 0 {
		c.Pipeline.MaxChunkChars = ingestion.DefaultNormalizerOptions().MaxChars
	}
	if c.Pipeline.Epsilon <= 0 {
		c.Pipeline.Epsilon = 0.02
	}

	if c.Router.TopK <= 0 {
		c.Router.TopK = 5
	}
	if c.Router.ExactLimit <= 0 {
		c.Router.ExactLimit = 3
	}
	if c.Router.Depth <= 0 {
		c.Router.Depth = 2
	}
	if c.Router.GraphWeight == 0 && c.Router.VectorWeight == 0 {
		c.Router.GraphWeight, c.Router.VectorWeight = 0.5, 0.5
	}
	if c.Router.MaxRevisions <= 0 {
		c.Router.MaxRevisions = 3
	}
	if c.Router.TableLimit <= 0 {
		c.Router.TableLimit = 3
	}
	if c.Router.ImageLimit <= 0 {
		c.Router.ImageLimit = 2
	}

	if c.Layout.TimeoutSec <= 0 {
		c.Layout.TimeoutSec = 300
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required unless storage.in_memory is set")
	}
	switch c.Graph.Backend {
	case GraphBadger:
	case GraphNeo4j:
		if c.Graph.Neo4j.URI == "" {
			return fmt.Errorf("graph.neo4j.uri is required for the neo4j backend")
		}
	default:
		return fmt.Errorf("graph.backend must be %q or %q, got %q", GraphBadger, GraphNeo4j, c.Graph.Backend)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must not be negative, got %d", c.Redis.DB)
	}
	if err := c.AIConfig().Validate(); err != nil {
		return err
	}
	if c.Pipeline.Epsilon >= 1 {
		return fmt.Errorf("pipeline.epsilon must be below 1, got %g", c.Pipeline.Epsilon)
	}
	if c.Router.MinScore < 0 || c.Router.MinScore > 1 {
		return fmt.Errorf("router.min_score must be between 0 and 1, got %g", c.Router.MinScore)
	}
	if c.Router.GraphWeight < 0 || c.Router.VectorWeight < 0 {
		return fmt.Errorf("router weights must not be negative")
	}
	if c.Layout.Endpoint != "" && !strings.HasPrefix(c.Layout.Endpoint, "http://") && !strings.HasPrefix(c.Layout.Endpoint, "https://") {
		return fmt.Errorf("layout.endpoint must be an http(s) URL, got %q", c.Layout.Endpoint)
	}
	return nil
}

// AIConfig converts the ai section to the model adapter configuration.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithChatHost(c.AI.ChatHost),
		ai.WithVisionHost(c.AI.VisionHost),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithChatModel(c.AI.ChatModel),
		ai.WithVisionModel(c.AI.VisionModel),
		ai.WithRequestsPerSecond(c.AI.RequestsPerSecond),
		ai.WithCallTimeout(time.Duration(c.AI.CallTimeoutSec)*time.Second),
		ai.WithMaxAttempts(c.AI.MaxAttempts),
	)
}

// NormalizerOptions returns the chunk merge settings.
func (c *Config) NormalizerOptions() ingestion.NormalizerOptions {
	opts := ingestion.DefaultNormalizerOptions()
	opts.MaxChars = c.Pipeline.MaxChunkChars
	return opts
}

// ClassifierOptions returns the tier classifier settings without prototypes.
func (c *Config) ClassifierOptions() ingestion.ClassifierOptions {
	return ingestion.ClassifierOptions{
		Terms:   c.Pipeline.RedTerms,
		Epsilon: c.Pipeline.Epsilon,
	}
}

// DispatcherOptions returns the extraction dispatcher settings.
func (c *Config) DispatcherOptions() ingestion.DispatcherOptions {
	return ingestion.DispatcherOptions{
		MaxAttempts: c.AI.MaxAttempts,
		CallTimeout: time.Duration(c.AI.CallTimeoutSec) * time.Second,
	}
}

// SearchConfig returns the query router settings.
func (c *Config) SearchConfig() search.Config {
	return search.Config{
		TopK:         c.Router.TopK,
		MinScore:     c.Router.MinScore,
		ExactLimit:   c.Router.ExactLimit,
		Depth:        c.Router.Depth,
		GraphWeight:  c.Router.GraphWeight,
		VectorWeight: c.Router.VectorWeight,
		TableLimit:   c.Router.TableLimit,
		ImageLimit:   c.Router.ImageLimit,
	}
}

// TaskTTL returns how long task snapshots are kept in Redis.
func (c *Config) TaskTTL() time.Duration {
	return time.Duration(c.Redis.TaskTTLSec) * time.Second
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

// LayoutTimeout returns the layout service request timeout.
func (c *Config) LayoutTimeout() time.Duration {
	return time.Duration(c.Layout.TimeoutSec) * time.Second
}
