package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/veridoc/ai"
)

// AnswerGenerator implements ai.AnswerGenerator using OpenAI-compatible chat APIs.
type AnswerGenerator struct {
	chat   *chatClient
	logger *slog.Logger
}

type auditVerdict struct {
	Passed *bool    `json:"passed"`
	Issues []string `json:"issues"`
}

func newAnswerGenerator(chat *chatClient) *AnswerGenerator {
	return &AnswerGenerator{
		chat:   chat,
		logger: chat.logger.With("service", "answers"),
	}
}

// Generate writes an answer grounded in contexts.
func (g *AnswerGenerator) Generate(ctx context.Context, query string, contexts []ai.Context, feedback []string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nContext:\n%s", prepareText(query), formatContexts(contexts))
	if len(feedback) > 0 {
		sb.WriteString("\n\nA fact audit rejected your previous answer. Fix these issues:\n")
		for _, issue := range feedback {
			sb.WriteString("- ")
			sb.WriteString(issue)
			sb.WriteString("\n")
		}
	}

	answer, err := g.chat.complete(ctx, "generate_answer", answerSystemPrompt, sb.String(), false)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("%w: empty answer", ai.ErrMalformedOutput)
	}
	return answer, nil
}

// Audit checks the answer against contexts.
func (g *AnswerGenerator) Audit(ctx context.Context, contexts []ai.Context, answer string) (*ai.AuditVerdict, error) {
	user := fmt.Sprintf("Original context:\n%s\n\nGenerated answer:\n%s", formatContexts(contexts), answer)

	var result auditVerdict
	if err := g.chat.completeJSON(ctx, "audit_answer", buildAuditPrompt(), user, &result); err != nil {
		return nil, err
	}
	if result.Passed == nil {
		return nil, fmt.Errorf("%w: missing passed key", ai.ErrMalformedOutput)
	}

	verdict := &ai.AuditVerdict{Passed: *result.Passed}
	for _, issue := range result.Issues {
		if issue = strings.TrimSpace(issue); issue != "" {
			verdict.Issues = append(verdict.Issues, issue)
		}
	}
	g.logger.Debug("audited answer", "passed", verdict.Passed, "issues", len(verdict.Issues))
	return verdict, nil
}
