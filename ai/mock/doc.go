// Package mock provides test double implementations of AI service interfaces.
//
// Each mock exposes a ...Func field per method for behavior injection and
// counts its calls. Mocks are safe for concurrent use so they can back the
// ingestion worker pool in tests.
//
// # Usage in Tests
//
//	mockParams := mock.NewMockParameterExtractor()
//	mockParams.ExtractParametersFunc = func(ctx context.Context, text string, strict bool) ([]core.Parameter, error) {
//	    return []core.Parameter{{Name: "BVDSS", Value: "72", Unit: "V"}}, nil
//	}
//
//	provider := mock.NewMockProviderWithServices(mock.Services{Parameters: mockParams})
//	count := mockParams.ExtractCallCount()
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on a text hash
//   - MockParameterExtractor: Returns no parameters; Arbitrate resolves to pass A
//   - MockTableExtractor: Splits lines on runs of whitespace
//   - MockVisionInterpreter: Returns a fixed description
//   - MockRelationExtractor: Returns no triples
//   - MockAnswerGenerator: Echoes the first context; Audit passes
package mock
