package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/ai/mock"
	"github.com/poiesic/veridoc/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bvdssText = "Breakdown voltage (BVDSS) = 60V, typical"

func redChunk(text string) *core.Chunk {
	return &core.Chunk{Id: 11, DocumentID: 3, Page: 4, Tier: core.TierRed, Kind: core.KindText, Text: text}
}

func TestArbiter_AgreementSkipsArbitration(t *testing.T) {
	var calls atomic.Int32
	params := mock.NewMockParameterExtractor()
	params.ExtractParametersFunc = func(ctx context.Context, text string, strict bool) ([]core.Parameter, error) {
		// The passes differ only in surface form.
		if calls.Add(1)%2 == 0 {
			return []core.Parameter{{Name: "BVDSS", Value: "60", Unit: "V", Condition: "typical"}}, nil
		}
		return []core.Parameter{{Name: "bvdss", Value: "60.0 V", Condition: "Typical"}}, nil
	}
	d, mocks := newTestDispatcher(t, mock.Services{Parameters: params})

	ext, err := d.Dispatch(context.Background(), redChunk(bvdssText))
	require.NoError(t, err)

	assert.Equal(t, 2, mocks.Parameters.ExtractCallCount())
	assert.Zero(t, mocks.Parameters.ArbitrateCallCount())

	res := ext.Result
	assert.Equal(t, core.RouteRed, res.Route)
	assert.Equal(t, core.ChunkExtracted, res.Status)
	assert.True(t, res.Agreed)
	assert.Equal(t, 2, res.Passes)
	assert.Equal(t, ConfidenceHigh, res.Confidence)
	require.Len(t, res.Parameters, 1)

	require.NotNil(t, ext.Audit)
	assert.Equal(t, core.DecisionAccepted, ext.Audit.Decision)
	assert.NotEmpty(t, ext.Audit.PassA)
	assert.NotEmpty(t, ext.Audit.PassB)
	assert.Empty(t, ext.Audit.Arbitration)
}

// disagreeing returns an extractor whose two passes report different values.
func disagreeing() *mock.MockParameterExtractor {
	var calls atomic.Int32
	params := mock.NewMockParameterExtractor()
	params.ExtractParametersFunc = func(ctx context.Context, text string, strict bool) ([]core.Parameter, error) {
		value := "60"
		if calls.Add(1) == 2 {
			value = "65"
		}
		return []core.Parameter{{Name: "BVDSS", Value: value, Unit: "V"}}, nil
	}
	return params
}

func TestArbiter_DisagreementArbitratesOnce(t *testing.T) {
	params := disagreeing()
	params.ArbitrateFunc = func(ctx context.Context, text string, a, b []core.Parameter, strict bool) (*ai.Arbitration, error) {
		return &ai.Arbitration{
			Parameters: []core.Parameter{{Name: "BVDSS", Value: "60", Unit: "V", Condition: "typical"}},
			Resolved:   true,
			Reason:     "text states 60V",
		}, nil
	}
	d, mocks := newTestDispatcher(t, mock.Services{Parameters: params})

	ext, err := d.Dispatch(context.Background(), redChunk(bvdssText))
	require.NoError(t, err)

	assert.Equal(t, 2, mocks.Parameters.ExtractCallCount())
	assert.Equal(t, 1, mocks.Parameters.ArbitrateCallCount())

	res := ext.Result
	assert.Equal(t, core.ChunkExtracted, res.Status)
	assert.False(t, res.Agreed)
	assert.Equal(t, 3, res.Passes)
	assert.Equal(t, ConfidenceMedium, res.Confidence)
	assert.Equal(t, "60", res.Parameters[0].Value)

	var arb ai.Arbitration
	require.NoError(t, json.Unmarshal([]byte(ext.Audit.Arbitration), &arb))
	assert.True(t, arb.Resolved)
	assert.Equal(t, core.DecisionAccepted, ext.Audit.Decision)
}

func TestArbiter_Unresolved(t *testing.T) {
	params := disagreeing()
	params.ArbitrateFunc = func(ctx context.Context, text string, a, b []core.Parameter, strict bool) (*ai.Arbitration, error) {
		return &ai.Arbitration{Resolved: false, Reason: "ambiguous"}, nil
	}
	d, mocks := newTestDispatcher(t, mock.Services{Parameters: params})

	ext, err := d.Dispatch(context.Background(), redChunk(bvdssText))
	require.NoError(t, err)

	assert.Equal(t, 1, mocks.Parameters.ArbitrateCallCount())
	assert.Equal(t, core.ChunkFlagged, ext.Result.Status)
	assert.Equal(t, ConfidenceLow, ext.Result.Confidence)
	assert.NotEmpty(t, ext.Result.Parameters)
	assert.Equal(t, core.DecisionFlagged, ext.Audit.Decision)
}

func TestArbiter_MalformedArbitrationRetriedOnceStrict(t *testing.T) {
	var stricts []bool
	params := disagreeing()
	params.ArbitrateFunc = func(ctx context.Context, text string, a, b []core.Parameter, strict bool) (*ai.Arbitration, error) {
		stricts = append(stricts, strict)
		return nil, fmt.Errorf("%w: missing resolved", ai.ErrMalformedOutput)
	}
	d, mocks := newTestDispatcher(t, mock.Services{Parameters: params})

	ext, err := d.Dispatch(context.Background(), redChunk(bvdssText))
	require.NoError(t, err)

	assert.Equal(t, 2, mocks.Parameters.ArbitrateCallCount())
	assert.Equal(t, []bool{false, true}, stricts)
	assert.Equal(t, core.ChunkFlagged, ext.Result.Status)
	assert.Equal(t, ConfidenceLow, ext.Result.Confidence)
	assert.Empty(t, ext.Audit.Arbitration)
}

func TestArbiter_TransientArbitrationRetried(t *testing.T) {
	var calls atomic.Int32
	params := disagreeing()
	params.ArbitrateFunc = func(ctx context.Context, text string, a, b []core.Parameter, strict bool) (*ai.Arbitration, error) {
		if calls.Add(1) == 1 {
			return nil, fmt.Errorf("%w: 429 rate limit", ai.ErrTransient)
		}
		return &ai.Arbitration{Parameters: a, Resolved: true}, nil
	}
	d, mocks := newTestDispatcher(t, mock.Services{Parameters: params})

	ext, err := d.Dispatch(context.Background(), redChunk(bvdssText))
	require.NoError(t, err)
	assert.Equal(t, 2, mocks.Parameters.ArbitrateCallCount())
	assert.Equal(t, core.ChunkExtracted, ext.Result.Status)
	assert.Equal(t, ConfidenceMedium, ext.Result.Confidence)
	assert.NotEmpty(t, ext.Audit.Arbitration)
}

func TestArbiter_TransientArbitrationExhausted(t *testing.T) {
	params := disagreeing()
	params.ArbitrateFunc = func(ctx context.Context, text string, a, b []core.Parameter, strict bool) (*ai.Arbitration, error) {
		return nil, ai.ErrTransient
	}
	d, mocks := newTestDispatcher(t, mock.Services{Parameters: params})

	ext, err := d.Dispatch(context.Background(), redChunk(bvdssText))
	require.NoError(t, err)
	assert.Equal(t, testDispatcherOptions().MaxAttempts, mocks.Parameters.ArbitrateCallCount())
	assert.Equal(t, core.ChunkFlagged, ext.Result.Status)
	assert.Equal(t, ConfidenceLow, ext.Result.Confidence)
}

func TestArbiter_OnePassFailed(t *testing.T) {
	var calls atomic.Int32
	params := mock.NewMockParameterExtractor()
	params.ExtractParametersFunc = func(ctx context.Context, text string, strict bool) ([]core.Parameter, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("model refused")
		}
		return []core.Parameter{{Name: "BVDSS", Value: "60", Unit: "V"}}, nil
	}
	var seenA, seenB []core.Parameter
	params.ArbitrateFunc = func(ctx context.Context, text string, a, b []core.Parameter, strict bool) (*ai.Arbitration, error) {
		seenA, seenB = a, b
		return &ai.Arbitration{Parameters: append(a, b...), Resolved: true}, nil
	}
	d, mocks := newTestDispatcher(t, mock.Services{Parameters: params})

	ext, err := d.Dispatch(context.Background(), redChunk(bvdssText))
	require.NoError(t, err)

	assert.Equal(t, 1, mocks.Parameters.ArbitrateCallCount())
	assert.Len(t, append(seenA, seenB...), 1)
	assert.Equal(t, core.ChunkExtracted, ext.Result.Status)
	assert.Equal(t, ConfidenceMedium, ext.Result.Confidence)
	assert.True(t, ext.Audit.PassA == "" || ext.Audit.PassB == "")
}

func TestArbiter_BothPassesFailed(t *testing.T) {
	params := mock.NewMockParameterExtractor()
	params.ExtractParametersFunc = func(ctx context.Context, text string, strict bool) ([]core.Parameter, error) {
		return nil, ai.ErrMalformedOutput
	}
	d, mocks := newTestDispatcher(t, mock.Services{Parameters: params})

	ext, err := d.Dispatch(context.Background(), redChunk(bvdssText))
	require.NoError(t, err)

	// Each pass gets one strict retry
	assert.Equal(t, 4, mocks.Parameters.ExtractCallCount())
	assert.Zero(t, mocks.Parameters.ArbitrateCallCount())
	assert.Equal(t, core.ChunkFlagged, ext.Result.Status)
	assert.Equal(t, ConfidenceLow, ext.Result.Confidence)
	assert.Equal(t, bvdssText, ext.Result.Text)
	assert.Empty(t, ext.Audit.PassA)
	assert.Empty(t, ext.Audit.PassB)
	assert.Equal(t, core.DecisionFlagged, ext.Audit.Decision)
}
