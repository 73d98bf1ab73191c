package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/ai/mock"
	"github.com/poiesic/veridoc/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		CallTimeout: time.Second,
	}
}

func newTestDispatcher(t *testing.T, s mock.Services) (*Dispatcher, mock.Services) {
	t.Helper()
	provider := mock.NewMockProviderWithServices(s)
	d, err := NewDispatcher(provider, testDispatcherOptions(), nil)
	require.NoError(t, err)
	return d, provider.(*mock.MockProvider).Mocks()
}

func TestNewDispatcher_RequiresProvider(t *testing.T) {
	_, err := NewDispatcher(nil, DispatcherOptions{}, nil)
	assert.ErrorIs(t, err, ErrAIProviderRequired)
}

func TestRouteFor(t *testing.T) {
	tests := []struct {
		tier core.Tier
		kind core.ContentKind
		want core.Route
	}{
		{core.TierRed, core.KindText, core.RouteRed},
		{core.TierRed, core.KindTable, core.RouteRed},
		{core.TierRed, core.KindImage, core.RouteRed},
		{core.TierYellow, core.KindTable, core.RouteYellowTable},
		{core.TierYellow, core.KindImage, core.RouteYellowImage},
		{core.TierYellow, core.KindText, core.RouteGreen},
		{core.TierGreen, core.KindText, core.RouteGreen},
		{core.TierGreen, core.KindTable, core.RouteGreen},
		{core.TierGreen, core.KindImage, core.RouteYellowImage},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.tier, tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, RouteFor(tt.tier, tt.kind))
		})
	}
}

func TestDispatch_GreenPassthrough(t *testing.T) {
	d, mocks := newTestDispatcher(t, mock.Services{})
	chunk := &core.Chunk{Id: 1, DocumentID: 9, Tier: core.TierGreen, Kind: core.KindText, Text: "Introduction to the platform."}

	ext, err := d.Dispatch(context.Background(), chunk)
	require.NoError(t, err)

	res := ext.Result
	assert.Equal(t, core.RouteGreen, res.Route)
	assert.Equal(t, core.ChunkExtracted, res.Status)
	assert.Equal(t, float32(1.0), res.Confidence)
	assert.Equal(t, chunk.Text, res.Text)
	assert.Equal(t, core.ID(1), res.ChunkID)
	assert.Equal(t, core.ID(9), res.DocumentID)
	assert.Equal(t, core.ChunkExtracted, chunk.Status)
	assert.Zero(t, mocks.Parameters.ExtractCallCount())
	assert.Zero(t, mocks.Tables.CallCount())
	assert.Zero(t, mocks.Vision.CallCount())
	assert.Equal(t, 1, mocks.Relations.CallCount())
}

func TestDispatch_RelationsAttached(t *testing.T) {
	relations := mock.NewMockRelationExtractor()
	relations.ExtractRelationsFunc = func(ctx context.Context, text string) ([]ai.Triple, error) {
		return []ai.Triple{{Source: "LDMOS", SourceType: "device", Relation: "produced_by", Target: "Fab 7", TargetType: "foundry"}}, nil
	}
	d, _ := newTestDispatcher(t, mock.Services{Relations: relations})

	ext, err := d.Dispatch(context.Background(), &core.Chunk{Tier: core.TierGreen, Kind: core.KindText, Text: "made at Fab 7"})
	require.NoError(t, err)
	require.Len(t, ext.Triples, 1)
	assert.Equal(t, "produced_by", ext.Triples[0].Relation)
}

func TestDispatch_RelationFailureKeepsStatus(t *testing.T) {
	relations := mock.NewMockRelationExtractor()
	relations.ExtractRelationsFunc = func(ctx context.Context, text string) ([]ai.Triple, error) {
		return nil, ai.ErrMalformedOutput
	}
	d, _ := newTestDispatcher(t, mock.Services{Relations: relations})

	ext, err := d.Dispatch(context.Background(), &core.Chunk{Tier: core.TierGreen, Kind: core.KindText, Text: "text"})
	require.NoError(t, err)
	assert.Equal(t, core.ChunkExtracted, ext.Result.Status)
	assert.Empty(t, ext.Triples)
}

func TestDispatch_TableStrictRetry(t *testing.T) {
	var stricts []bool
	tables := mock.NewMockTableExtractor()
	tables.ExtractTableFunc = func(ctx context.Context, text string, strict bool) (*core.Table, error) {
		stricts = append(stricts, strict)
		if !strict {
			return nil, fmt.Errorf("%w: not json", ai.ErrMalformedOutput)
		}
		return &core.Table{
			Headers: [][]core.HeaderCell{{{Text: "Device", Span: 1}, {Text: "BV", Span: 1}}},
			Rows:    [][]string{{"LD40", "45"}},
		}, nil
	}
	d, mocks := newTestDispatcher(t, mock.Services{Tables: tables})

	ext, err := d.Dispatch(context.Background(), &core.Chunk{Tier: core.TierYellow, Kind: core.KindTable, Text: "Device  BV\nLD40  45"})
	require.NoError(t, err)

	assert.Equal(t, []bool{false, true}, stricts)
	assert.Equal(t, 2, mocks.Tables.CallCount())
	assert.Equal(t, core.RouteYellowTable, ext.Result.Route)
	assert.Equal(t, core.ChunkExtracted, ext.Result.Status)
	require.NotNil(t, ext.Result.Table)
	assert.Equal(t, 2, ext.Result.Table.Columns())
}

func TestDispatch_InvalidTableFlagged(t *testing.T) {
	tables := mock.NewMockTableExtractor()
	tables.ExtractTableFunc = func(ctx context.Context, text string, strict bool) (*core.Table, error) {
		return &core.Table{
			Headers: [][]core.HeaderCell{{{Text: "a", Span: 1}, {Text: "b", Span: 1}, {Text: "c", Span: 1}, {Text: "d", Span: 1}}},
			Rows:    [][]string{{"1"}},
		}, nil
	}
	d, mocks := newTestDispatcher(t, mock.Services{Tables: tables})

	chunk := &core.Chunk{Tier: core.TierYellow, Kind: core.KindTable, Text: "raw table text"}
	ext, err := d.Dispatch(context.Background(), chunk)
	require.NoError(t, err)

	assert.Equal(t, 2, mocks.Tables.CallCount())
	assert.Equal(t, core.ChunkFlagged, ext.Result.Status)
	assert.Equal(t, float32(0), ext.Result.Confidence)
	assert.Equal(t, "raw table text", ext.Result.Text)
	assert.Equal(t, core.ChunkFlagged, chunk.Status)
	assert.Zero(t, mocks.Relations.CallCount())
}

func TestDispatch_TransientBackoff(t *testing.T) {
	var calls atomic.Int32
	vision := mock.NewMockVisionInterpreter()
	vision.DescribeImageFunc = func(ctx context.Context, image []byte, caption string) (string, error) {
		if calls.Add(1) < 3 {
			return "", fmt.Errorf("%w: status code: 503", ai.ErrTransient)
		}
		return "cross-section of the deep trench isolation", nil
	}
	d, _ := newTestDispatcher(t, mock.Services{Vision: vision})

	ext, err := d.Dispatch(context.Background(), &core.Chunk{Tier: core.TierYellow, Kind: core.KindImage, Image: []byte{1}, Text: "Figure 3"})
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, core.ChunkExtracted, ext.Result.Status)
	assert.Equal(t, "cross-section of the deep trench isolation", ext.Result.Description)
	assert.Equal(t, float32(0.5), ext.Result.Confidence)
}

func TestDispatch_TransientExhaustedFlagged(t *testing.T) {
	vision := mock.NewMockVisionInterpreter()
	vision.DescribeImageFunc = func(ctx context.Context, image []byte, caption string) (string, error) {
		return "", ai.ErrTransient
	}
	d, mocks := newTestDispatcher(t, mock.Services{Vision: vision})

	ext, err := d.Dispatch(context.Background(), &core.Chunk{Tier: core.TierYellow, Kind: core.KindImage, Image: []byte{1}})
	require.NoError(t, err)

	assert.Equal(t, 3, mocks.Vision.CallCount())
	assert.Equal(t, core.ChunkFlagged, ext.Result.Status)
}

func TestDispatch_TimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	vision := mock.NewMockVisionInterpreter()
	vision.DescribeImageFunc = func(ctx context.Context, image []byte, caption string) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	}
	provider := mock.NewMockProviderWithServices(mock.Services{Vision: vision})
	opts := testDispatcherOptions()
	opts.CallTimeout = 20 * time.Millisecond
	d, err := NewDispatcher(provider, opts, nil)
	require.NoError(t, err)

	ext, err := d.Dispatch(context.Background(), &core.Chunk{Tier: core.TierYellow, Kind: core.KindImage, Image: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, core.ChunkExtracted, ext.Result.Status)
}

func TestDispatch_NonTransientErrorFlagsWithoutRetry(t *testing.T) {
	vision := mock.NewMockVisionInterpreter()
	vision.DescribeImageFunc = func(ctx context.Context, image []byte, caption string) (string, error) {
		return "", errors.New("unsupported image")
	}
	d, mocks := newTestDispatcher(t, mock.Services{Vision: vision})

	ext, err := d.Dispatch(context.Background(), &core.Chunk{Tier: core.TierGreen, Kind: core.KindImage, Image: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, 1, mocks.Vision.CallCount())
	assert.Equal(t, core.ChunkFlagged, ext.Result.Status)
}

func TestDispatch_CancelledContext(t *testing.T) {
	d, _ := newTestDispatcher(t, mock.Services{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dispatch(ctx, &core.Chunk{Tier: core.TierYellow, Kind: core.KindImage, Image: []byte{1}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateTable(t *testing.T) {
	header := [][]core.HeaderCell{{{Text: "Layer", Span: 1}, {Text: "Rule", Span: 2}}}

	assert.ErrorIs(t, validateTable(nil, 1), ErrInvalidTable)
	assert.ErrorIs(t, validateTable(&core.Table{Headers: header}, 1), ErrInvalidTable)
	assert.NoError(t, validateTable(&core.Table{Headers: header, Rows: [][]string{{"M1", "0.23", "0.23"}}}, 0))
	assert.NoError(t, validateTable(&core.Table{Headers: header, Rows: [][]string{{"M1", "0.23"}}}, 1))
	assert.ErrorIs(t, validateTable(&core.Table{Headers: header, Rows: [][]string{{"M1"}}}, 1), ErrInvalidTable)
}
