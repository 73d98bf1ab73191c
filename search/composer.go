package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
)

// NoContentAnswer is returned when retrieval finds nothing.
const NoContentAnswer = "no relevant content found"

// ComposerOptions configures a Composer.
type ComposerOptions struct {
	// MaxRevisions bounds regenerations after a failed audit. Default: 3
	MaxRevisions int
}

// Composer writes audited answers with source references.
type Composer struct {
	router       *Router
	answers      ai.AnswerGenerator
	maxRevisions int
	logger       *slog.Logger
}

// NewComposer creates a composer that answers from the router's evidence.
func NewComposer(router *Router, provider ai.AIProvider, opts ComposerOptions, logger *slog.Logger) (*Composer, error) {
	if router == nil {
		return nil, ErrRouterRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRevisions <= 0 {
		opts.MaxRevisions = 3
	}
	return &Composer{
		router:       router,
		answers:      provider.AnswerGenerator(),
		maxRevisions: opts.MaxRevisions,
		logger:       logger.With("component", "composer"),
	}, nil
}

// Answer routes the query, generates an answer from the retrieved sources
// and revises it until the audit passes or revisions run out. The answer
// text ends with a numbered reference list.
func (c *Composer) Answer(ctx context.Context, query string) (*core.Answer, error) {
	return c.AnswerWithMonitor(ctx, query, nil)
}

// AnswerWithMonitor is Answer with routing callbacks.
func (c *Composer) AnswerWithMonitor(ctx context.Context, query string, monitor RouteMonitor) (*core.Answer, error) {
	res, err := c.router.RouteWithMonitor(ctx, query, monitor)
	if err != nil {
		return nil, err
	}

	answer := &core.Answer{
		Intent:  res.Intent,
		Mode:    res.Mode,
		Sources: res.Sources,
	}
	if len(res.Sources) == 0 {
		answer.Text = NoContentAnswer
		return answer, nil
	}

	contexts := Contexts(res)
	var feedback []string
	var text string
	for attempt := 0; ; attempt++ {
		text, err = c.answers.Generate(ctx, res.Query, contexts, feedback)
		if err != nil {
			return nil, fmt.Errorf("generating answer: %w", err)
		}

		verdict, err := c.answers.Audit(ctx, contexts, text)
		if err != nil {
			// An unavailable auditor does not block the answer
			c.logger.Warn("error auditing answer, accepting it", "err", err)
			answer.Audited = true
			break
		}
		if verdict.Passed {
			answer.Audited = true
			break
		}
		if attempt == c.maxRevisions {
			c.logger.Warn("answer failed audit after revisions", "revisions", attempt, "issues", verdict.Issues)
			break
		}
		answer.Revisions++
		feedback = verdict.Issues
	}

	answer.Text = text + "\n\n" + References(res.Sources)
	return answer, nil
}

// Contexts converts the sources of a result, plus its graph facts, into
// generator contexts.
func Contexts(res *Result) []ai.Context {
	contexts := make([]ai.Context, 0, len(res.Sources)+1)
	for _, s := range res.Sources {
		contexts = append(contexts, ai.Context{Filename: s.Filename, Page: s.Page, Text: s.Text})
	}
	if len(res.Facts) > 0 {
		contexts = append(contexts, ai.Context{Filename: "knowledge graph", Text: strings.Join(res.Facts, "\n")})
	}
	return contexts
}

// References renders "[i] file, page N" lines, one per source.
func References(sources []core.Source) string {
	var sb strings.Builder
	sb.WriteString("References:")
	for i, s := range sources {
		fmt.Fprintf(&sb, "\n[%d] %s, page %d", i+1, s.Filename, s.Page)
	}
	return sb.String()
}
