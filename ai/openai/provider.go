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

package openai

import (
	"log/slog"

	"github.com/poiesic/veridoc/ai"
)

// Provider implements ai.AIProvider using OpenAI-compatible services.
// All services share one rate limiter.
type Provider struct {
	config     *ai.Config
	embedder   *Embedder
	parameters *ParameterExtractor
	tables     *TableExtractor
	vision     *VisionInterpreter
	relations  *RelationExtractor
	answers    *AnswerGenerator
	logger     *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger used by the provider and its services.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// NewProvider creates a new AI provider with OpenAI-compatible services.
// The config is validated and normalized before use.
//
// Returns ai.AIProvider interface (not *Provider) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewProvider(config *ai.Config, opts ...Option) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "openai-provider")

	limiter := newLimiter(config.RequestsPerSecond)

	embedder, err := newEmbedder(config, limiter, p.logger)
	if err != nil {
		return nil, err
	}

	chat, err := newChatClient(config, limiter, p.logger)
	if err != nil {
		return nil, err
	}

	p.embedder = embedder
	p.parameters = newParameterExtractor(chat)
	p.tables = newTableExtractor(chat)
	p.relations = newRelationExtractor(chat)
	p.answers = newAnswerGenerator(chat)
	p.vision = newVisionInterpreter(config, limiter, p.logger)
	return p, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// ParameterExtractor returns the parameter extraction service.
func (p *Provider) ParameterExtractor() ai.ParameterExtractor {
	return p.parameters
}

// TableExtractor returns the table normalization service.
func (p *Provider) TableExtractor() ai.TableExtractor {
	return p.tables
}

// VisionInterpreter returns the image interpretation service.
func (p *Provider) VisionInterpreter() ai.VisionInterpreter {
	return p.vision
}

// RelationExtractor returns the relation extraction service.
func (p *Provider) RelationExtractor() ai.RelationExtractor {
	return p.relations
}

// AnswerGenerator returns the answer generation and audit service.
func (p *Provider) AnswerGenerator() ai.AnswerGenerator {
	return p.answers
}

// Close releases resources held by the provider.
// Currently a no-op as the underlying clients don't require explicit cleanup.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider")
	return nil
}
