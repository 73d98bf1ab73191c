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

package mock

import "github.com/poiesic/veridoc/ai"

// Services selects the mock services a MockProvider aggregates.
// Nil fields get a default mock.
type Services struct {
	Embedder   *MockEmbedder
	Parameters *MockParameterExtractor
	Tables     *MockTableExtractor
	Vision     *MockVisionInterpreter
	Relations  *MockRelationExtractor
	Answers    *MockAnswerGenerator
}

// MockProvider is a test double for ai.AIProvider.
type MockProvider struct {
	services Services
}

// NewMockProvider creates a new mock provider with default mock services.
//
// Returns ai.AIProvider interface for consistency with production constructors.
// Use Mocks() to access concrete types for test assertions.
func NewMockProvider() ai.AIProvider {
	return NewMockProviderWithServices(Services{})
}

// NewMockProviderWithServices creates a mock provider with custom mock services.
func NewMockProviderWithServices(s Services) ai.AIProvider {
	if s.Embedder == nil {
		s.Embedder = NewMockEmbedder()
	}
	if s.Parameters == nil {
		s.Parameters = NewMockParameterExtractor()
	}
	if s.Tables == nil {
		s.Tables = NewMockTableExtractor()
	}
	if s.Vision == nil {
		s.Vision = NewMockVisionInterpreter()
	}
	if s.Relations == nil {
		s.Relations = NewMockRelationExtractor()
	}
	if s.Answers == nil {
		s.Answers = NewMockAnswerGenerator()
	}
	return &MockProvider{services: s}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.services.Embedder
}

// ParameterExtractor returns the mock parameter extractor.
func (p *MockProvider) ParameterExtractor() ai.ParameterExtractor {
	return p.services.Parameters
}

// TableExtractor returns the mock table extractor.
func (p *MockProvider) TableExtractor() ai.TableExtractor {
	return p.services.Tables
}

// VisionInterpreter returns the mock vision interpreter.
func (p *MockProvider) VisionInterpreter() ai.VisionInterpreter {
	return p.services.Vision
}

// RelationExtractor returns the mock relation extractor.
func (p *MockProvider) RelationExtractor() ai.RelationExtractor {
	return p.services.Relations
}

// AnswerGenerator returns the mock answer generator.
func (p *MockProvider) AnswerGenerator() ai.AnswerGenerator {
	return p.services.Answers
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// Mocks returns the underlying mock services for test assertions.
func (p *MockProvider) Mocks() Services {
	return p.services
}
