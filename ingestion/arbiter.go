package ingestion

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/metrics"
)

// Verification confidences.
const (
	ConfidenceHigh   float32 = 0.95
	ConfidenceMedium float32 = 0.7
	ConfidenceLow    float32 = 0.2
)

// Verification is the outcome of dual-pass extraction for a RED chunk.
type Verification struct {
	Parameters []core.Parameter
	Decision   core.Decision
	Agreed     bool
	Passes     int
	Confidence float32
	Audit      *core.AuditRecord
}

// caller applies the dispatcher's model call policy.
type caller func(ctx context.Context, operation string, retryTransient bool, fn callFunc) error

// Arbiter verifies RED extractions with two independent passes and, on
// disagreement, one arbitration call.
type Arbiter struct {
	extractor ai.ParameterExtractor
	call      caller
	logger    *slog.Logger
}

func newArbiter(extractor ai.ParameterExtractor, call caller, logger *slog.Logger) *Arbiter {
	return &Arbiter{
		extractor: extractor,
		call:      call,
		logger:    logger.With("stage", "arbiter"),
	}
}

type passResult struct {
	params []core.Parameter
	err    error
}

// Verify runs PASS_A and PASS_B concurrently, compares them and arbitrates
// on disagreement. The returned audit record is always populated.
func (a *Arbiter) Verify(ctx context.Context, chunk *core.Chunk) (*Verification, error) {
	var (
		wg    sync.WaitGroup
		passA passResult
		passB passResult
	)
	run := func(out *passResult) {
		defer wg.Done()
		out.err = a.call(ctx, "extract_parameters", true, func(ctx context.Context, strict bool) error {
			params, err := a.extractor.ExtractParameters(ctx, chunk.Text, strict)
			if err != nil {
				return err
			}
			out.params = params
			return nil
		})
	}
	wg.Add(2)
	go run(&passA)
	go run(&passB)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audit := &core.AuditRecord{
		ChunkID:    chunk.Id,
		DocumentID: chunk.DocumentID,
		PassA:      passOutput(passA),
		PassB:      passOutput(passB),
		CreatedAt:  time.Now().UTC(),
	}
	v := &Verification{Passes: 2, Audit: audit}

	switch {
	case passA.err != nil && passB.err != nil:
		a.logger.Warn("both extraction passes failed", "chunk", chunk.Id, "err_a", passA.err, "err_b", passB.err)
		return a.finish(v, nil, core.DecisionFlagged, ConfidenceLow, "both_failed"), nil

	case passA.err == nil && passB.err == nil && ParametersEqual(passA.params, passB.params):
		v.Agreed = true
		return a.finish(v, passA.params, core.DecisionAccepted, ConfidenceHigh, "agreed"), nil
	}

	v.Passes = 3
	available := passA.params
	if passA.err != nil {
		available = passB.params
	}

	var arb *ai.Arbitration
	err := a.call(ctx, "arbitrate", true, func(ctx context.Context, strict bool) error {
		result, err := a.extractor.Arbitrate(ctx, chunk.Text, passA.params, passB.params, strict)
		if err != nil {
			return err
		}
		arb = result
		return nil
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		a.logger.Warn("arbitration failed", "chunk", chunk.Id, "err", err)
		return a.finish(v, available, core.DecisionFlagged, ConfidenceLow, "arbitration_failed"), nil
	}

	audit.Arbitration = marshalOutput(arb)
	if !arb.Resolved {
		a.logger.Info("arbitration unresolved", "chunk", chunk.Id, "reason", arb.Reason)
		params := arb.Parameters
		if len(params) == 0 {
			params = available
		}
		return a.finish(v, params, core.DecisionFlagged, ConfidenceLow, "unresolved"), nil
	}
	return a.finish(v, arb.Parameters, core.DecisionAccepted, ConfidenceMedium, "arbitrated"), nil
}

func (a *Arbiter) finish(v *Verification, params []core.Parameter, decision core.Decision, confidence float32, outcome string) *Verification {
	v.Parameters = params
	v.Decision = decision
	v.Confidence = confidence
	v.Audit.Decision = decision
	metrics.ArbitrationsTotal.WithLabelValues(outcome).Inc()
	return v
}

// passOutput serializes a pass for the audit record; failed passes are empty.
func passOutput(p passResult) string {
	if p.err != nil {
		return ""
	}
	if p.params == nil {
		p.params = []core.Parameter{}
	}
	return marshalOutput(p.params)
}

func marshalOutput(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
