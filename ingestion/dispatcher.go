package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/metrics"
	"github.com/poiesic/veridoc/retry"
)

// Extraction confidences outside RED verification.
const (
	confidencePassthrough = 1.0
	confidenceTable       = 0.8
	confidenceImage       = 0.5
	confidenceFlagged     = 0.0
)

// DispatcherOptions configures model call policy.
type DispatcherOptions struct {
	// MaxAttempts bounds tries for transient model failures. Default: 3
	MaxAttempts int

	// BaseDelay is the first backoff delay; it doubles per retry. Default: 500ms
	BaseDelay time.Duration

	// CallTimeout bounds each model call. Default: 60s
	CallTimeout time.Duration

	// ColumnTolerance is how far a table row may deviate from the header
	// column count. Default: 1; negative requires an exact match
	ColumnTolerance int

	// SkipRelations disables relation extraction after a successful result.
	SkipRelations bool
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 60 * time.Second
	}
	if o.ColumnTolerance < 0 {
		o.ColumnTolerance = 0
	} else if o.ColumnTolerance == 0 {
		o.ColumnTolerance = 1
	}
	return o
}

// Extraction is everything the dispatcher produced for one chunk.
type Extraction struct {
	Result  *core.ExtractionResult
	Audit   *core.AuditRecord
	Triples []ai.Triple
}

type handler func(ctx context.Context, chunk *core.Chunk) (*Extraction, error)

// Dispatcher routes classified chunks to their extraction handler.
type Dispatcher struct {
	handlers map[core.Route]handler
	provider ai.AIProvider
	arbiter  *Arbiter
	opts     DispatcherOptions
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher backed by provider.
func NewDispatcher(provider ai.AIProvider, opts DispatcherOptions, logger *slog.Logger) (*Dispatcher, error) {
	if provider == nil {
		return nil, ErrAIProviderRequired
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		provider: provider,
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "dispatcher"),
	}
	d.arbiter = newArbiter(provider.ParameterExtractor(), d.call, d.logger)
	d.handlers = map[core.Route]handler{
		core.RouteRed:         d.extractRed,
		core.RouteYellowTable: d.extractTable,
		core.RouteYellowImage: d.describeImage,
		core.RouteGreen:       d.passthrough,
	}
	return d, nil
}

// RouteFor maps a tier and content kind to an extraction route.
// YELLOW text has no dedicated extractor and passes through as GREEN;
// images always need interpretation.
func RouteFor(tier core.Tier, kind core.ContentKind) core.Route {
	switch {
	case tier == core.TierRed:
		return core.RouteRed
	case kind == core.KindImage:
		return core.RouteYellowImage
	case tier == core.TierYellow && kind == core.KindTable:
		return core.RouteYellowTable
	default:
		return core.RouteGreen
	}
}

// Dispatch extracts a chunk through its route. Model failures never surface
// as errors: they yield a FLAGGED result. Only cancellation of ctx does.
func (d *Dispatcher) Dispatch(ctx context.Context, chunk *core.Chunk) (*Extraction, error) {
	route := RouteFor(chunk.Tier, chunk.Kind)
	h, ok := d.handlers[route]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, route)
	}

	ext, err := h(ctx, chunk)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := ext.Result
	res.ChunkID = chunk.Id
	res.DocumentID = chunk.DocumentID
	res.Route = route
	chunk.Status = res.Status
	chunk.Confidence = res.Confidence

	if res.Status == core.ChunkExtracted && !d.opts.SkipRelations && route != core.RouteYellowImage {
		ext.Triples = d.extractRelations(ctx, chunk, res)
	}

	metrics.ChunksTotal.WithLabelValues(chunk.Tier.String(), res.Status.String()).Inc()
	return ext, nil
}

func (d *Dispatcher) extractRed(ctx context.Context, chunk *core.Chunk) (*Extraction, error) {
	v, err := d.arbiter.Verify(ctx, chunk)
	if err != nil {
		return nil, err
	}

	status := core.ChunkExtracted
	if v.Decision == core.DecisionFlagged {
		status = core.ChunkFlagged
	}
	return &Extraction{
		Result: &core.ExtractionResult{
			Parameters: v.Parameters,
			Text:       chunk.Text,
			Passes:     v.Passes,
			Agreed:     v.Agreed,
			Confidence: v.Confidence,
			Status:     status,
		},
		Audit: v.Audit,
	}, nil
}

func (d *Dispatcher) extractTable(ctx context.Context, chunk *core.Chunk) (*Extraction, error) {
	extractor := d.provider.TableExtractor()

	var table *core.Table
	err := d.call(ctx, "extract_table", true, func(ctx context.Context, strict bool) error {
		t, err := extractor.ExtractTable(ctx, chunk.Text, strict)
		if err != nil {
			return err
		}
		if err := validateTable(t, d.opts.ColumnTolerance); err != nil {
			return fmt.Errorf("%w: %w", ai.ErrMalformedOutput, err)
		}
		table = t
		return nil
	})
	if err != nil {
		return d.flagged(ctx, chunk, err)
	}

	return &Extraction{
		Result: &core.ExtractionResult{
			Table:      table,
			Text:       chunk.Text,
			Passes:     1,
			Confidence: confidenceTable,
			Status:     core.ChunkExtracted,
		},
	}, nil
}

func (d *Dispatcher) describeImage(ctx context.Context, chunk *core.Chunk) (*Extraction, error) {
	vision := d.provider.VisionInterpreter()

	var description string
	err := d.call(ctx, "describe_image", true, func(ctx context.Context, _ bool) error {
		desc, err := vision.DescribeImage(ctx, chunk.Image, chunk.Text)
		if err != nil {
			return err
		}
		if strings.TrimSpace(desc) == "" {
			return fmt.Errorf("%w: empty description", ai.ErrMalformedOutput)
		}
		description = strings.TrimSpace(desc)
		return nil
	})
	if err != nil {
		return d.flagged(ctx, chunk, err)
	}

	return &Extraction{
		Result: &core.ExtractionResult{
			Description: description,
			Text:        chunk.Text,
			Passes:      1,
			Confidence:  confidenceImage,
			Status:      core.ChunkExtracted,
		},
	}, nil
}

func (d *Dispatcher) passthrough(_ context.Context, chunk *core.Chunk) (*Extraction, error) {
	return &Extraction{
		Result: &core.ExtractionResult{
			Text:       chunk.Text,
			Passes:     1,
			Confidence: confidencePassthrough,
			Status:     core.ChunkExtracted,
		},
	}, nil
}

// flagged records a failed extraction with the raw text and zero confidence.
func (d *Dispatcher) flagged(ctx context.Context, chunk *core.Chunk, cause error) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.logger.Warn("flagging chunk", "chunk", chunk.Id, "page", chunk.Page, "err", cause)
	return &Extraction{
		Result: &core.ExtractionResult{
			Text:       chunk.Text,
			Passes:     1,
			Confidence: confidenceFlagged,
			Status:     core.ChunkFlagged,
		},
	}, nil
}

func (d *Dispatcher) extractRelations(ctx context.Context, chunk *core.Chunk, res *core.ExtractionResult) []ai.Triple {
	text := chunk.Text
	if res.Table != nil {
		text = RenderTable(res.Table)
	}

	extractor := d.provider.RelationExtractor()
	var triples []ai.Triple
	err := d.call(ctx, "extract_relations", true, func(ctx context.Context, _ bool) error {
		t, err := extractor.ExtractRelations(ctx, text)
		if err != nil {
			return err
		}
		triples = t
		return nil
	})
	if err != nil {
		d.logger.Warn("relation extraction failed", "chunk", chunk.Id, "page", chunk.Page, "err", err)
		return nil
	}
	return triples
}

// callFunc runs one model call; strict is set on the retry after malformed output.
type callFunc func(ctx context.Context, strict bool) error

// call applies the model call policy: a per-call timeout, exponential backoff
// on transient failures when retryTransient is set, and one strict retry
// after malformed output.
func (d *Dispatcher) call(ctx context.Context, operation string, retryTransient bool, fn callFunc) error {
	attempts := 1
	if retryTransient {
		attempts = d.opts.MaxAttempts
	}

	strict := false
	for {
		err := retry.WithBackoffIf(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
			defer cancel()
			return fn(callCtx, strict)
		}, attempts, d.opts.BaseDelay, isTransient)
		if err == nil {
			return nil
		}
		if errors.Is(err, ai.ErrMalformedOutput) && !strict && ctx.Err() == nil {
			d.logger.Debug("retrying with strict output", "operation", operation, "err", err)
			strict = true
			continue
		}
		return err
	}
}

// isTransient reports whether err should be retried with backoff.
// A per-call timeout is transient; cancellation of the caller is not.
func isTransient(err error) bool {
	return errors.Is(err, ai.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// validateTable checks that a table has rows and a consistent column count.
func validateTable(t *core.Table, tolerance int) error {
	if t == nil || len(t.Rows) == 0 {
		return fmt.Errorf("%w: no rows", ErrInvalidTable)
	}
	cols := t.Columns()
	if cols == 0 {
		return fmt.Errorf("%w: no columns", ErrInvalidTable)
	}
	for i, row := range t.Rows {
		if diff := len(row) - cols; diff > tolerance || -diff > tolerance {
			return fmt.Errorf("%w: row %d has %d cells, want %d", ErrInvalidTable, i, len(row), cols)
		}
	}
	return nil
}
