package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
)

// MockParameterExtractor is a test double for ai.ParameterExtractor.
type MockParameterExtractor struct {
	ExtractParametersFunc func(ctx context.Context, text string, strict bool) ([]core.Parameter, error)
	ArbitrateFunc         func(ctx context.Context, text string, a, b []core.Parameter, strict bool) (*ai.Arbitration, error)

	mu             sync.Mutex
	extractCalls   int
	arbitrateCalls int
}

// NewMockParameterExtractor creates a mock parameter extractor with default behavior.
func NewMockParameterExtractor() *MockParameterExtractor {
	return &MockParameterExtractor{}
}

// ExtractParameters returns no parameters unless ExtractParametersFunc is set.
func (m *MockParameterExtractor) ExtractParameters(ctx context.Context, text string, strict bool) ([]core.Parameter, error) {
	m.mu.Lock()
	m.extractCalls++
	m.mu.Unlock()

	if m.ExtractParametersFunc != nil {
		return m.ExtractParametersFunc(ctx, text, strict)
	}
	return []core.Parameter{}, nil
}

// Arbitrate resolves to pass A unless ArbitrateFunc is set.
func (m *MockParameterExtractor) Arbitrate(ctx context.Context, text string, a, b []core.Parameter, strict bool) (*ai.Arbitration, error) {
	m.mu.Lock()
	m.arbitrateCalls++
	m.mu.Unlock()

	if m.ArbitrateFunc != nil {
		return m.ArbitrateFunc(ctx, text, a, b, strict)
	}
	return &ai.Arbitration{Parameters: a, Resolved: true}, nil
}

// ExtractCallCount returns the number of ExtractParameters calls.
func (m *MockParameterExtractor) ExtractCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extractCalls
}

// ArbitrateCallCount returns the number of Arbitrate calls.
func (m *MockParameterExtractor) ArbitrateCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arbitrateCalls
}

// MockTableExtractor is a test double for ai.TableExtractor.
type MockTableExtractor struct {
	ExtractTableFunc func(ctx context.Context, text string, strict bool) (*core.Table, error)

	mu        sync.Mutex
	callCount int
}

// NewMockTableExtractor creates a mock table extractor with default behavior.
func NewMockTableExtractor() *MockTableExtractor {
	return &MockTableExtractor{}
}

// ExtractTable treats the first line as the header and splits every line on whitespace.
func (m *MockTableExtractor) ExtractTable(ctx context.Context, text string, strict bool) (*core.Table, error) {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()

	if m.ExtractTableFunc != nil {
		return m.ExtractTableFunc(ctx, text, strict)
	}

	table := &core.Table{}
	for i, line := range strings.Split(strings.TrimSpace(text), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if i == 0 {
			header := make([]core.HeaderCell, len(fields))
			for j, f := range fields {
				header[j] = core.HeaderCell{Text: f, Span: 1}
			}
			table.Headers = append(table.Headers, header)
			continue
		}
		table.Rows = append(table.Rows, fields)
	}
	return table, nil
}

// CallCount returns the number of ExtractTable calls.
func (m *MockTableExtractor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// MockVisionInterpreter is a test double for ai.VisionInterpreter.
type MockVisionInterpreter struct {
	DescribeImageFunc func(ctx context.Context, image []byte, caption string) (string, error)

	mu        sync.Mutex
	callCount int
}

// NewMockVisionInterpreter creates a mock vision interpreter with default behavior.
func NewMockVisionInterpreter() *MockVisionInterpreter {
	return &MockVisionInterpreter{}
}

// DescribeImage returns a fixed description unless DescribeImageFunc is set.
func (m *MockVisionInterpreter) DescribeImage(ctx context.Context, image []byte, caption string) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()

	if m.DescribeImageFunc != nil {
		return m.DescribeImageFunc(ctx, image, caption)
	}
	if len(image) == 0 {
		return "", ai.ErrEmptyImage
	}
	return "figure description", nil
}

// CallCount returns the number of DescribeImage calls.
func (m *MockVisionInterpreter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// MockRelationExtractor is a test double for ai.RelationExtractor.
type MockRelationExtractor struct {
	ExtractRelationsFunc func(ctx context.Context, text string) ([]ai.Triple, error)

	mu        sync.Mutex
	callCount int
}

// NewMockRelationExtractor creates a mock relation extractor with default behavior.
func NewMockRelationExtractor() *MockRelationExtractor {
	return &MockRelationExtractor{}
}

// ExtractRelations returns no triples unless ExtractRelationsFunc is set.
func (m *MockRelationExtractor) ExtractRelations(ctx context.Context, text string) ([]ai.Triple, error) {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()

	if m.ExtractRelationsFunc != nil {
		return m.ExtractRelationsFunc(ctx, text)
	}
	return []ai.Triple{}, nil
}

// CallCount returns the number of ExtractRelations calls.
func (m *MockRelationExtractor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// MockAnswerGenerator is a test double for ai.AnswerGenerator.
type MockAnswerGenerator struct {
	GenerateFunc func(ctx context.Context, query string, contexts []ai.Context, feedback []string) (string, error)
	AuditFunc    func(ctx context.Context, contexts []ai.Context, answer string) (*ai.AuditVerdict, error)

	mu            sync.Mutex
	generateCalls int
	auditCalls    int
}

// NewMockAnswerGenerator creates a mock answer generator with default behavior.
func NewMockAnswerGenerator() *MockAnswerGenerator {
	return &MockAnswerGenerator{}
}

// Generate echoes the first context unless GenerateFunc is set.
func (m *MockAnswerGenerator) Generate(ctx context.Context, query string, contexts []ai.Context, feedback []string) (string, error) {
	m.mu.Lock()
	m.generateCalls++
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, query, contexts, feedback)
	}
	if len(contexts) == 0 {
		return "", nil
	}
	return contexts[0].Text, nil
}

// Audit passes unless AuditFunc is set.
func (m *MockAnswerGenerator) Audit(ctx context.Context, contexts []ai.Context, answer string) (*ai.AuditVerdict, error) {
	m.mu.Lock()
	m.auditCalls++
	m.mu.Unlock()

	if m.AuditFunc != nil {
		return m.AuditFunc(ctx, contexts, answer)
	}
	return &ai.AuditVerdict{Passed: true}, nil
}

// GenerateCallCount returns the number of Generate calls.
func (m *MockAnswerGenerator) GenerateCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls
}

// AuditCallCount returns the number of Audit calls.
func (m *MockAnswerGenerator) AuditCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auditCalls
}
