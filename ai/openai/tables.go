package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
)

// TableExtractor implements ai.TableExtractor using OpenAI-compatible chat APIs.
type TableExtractor struct {
	chat   *chatClient
	logger *slog.Logger
}

func newTableExtractor(chat *chatClient) *TableExtractor {
	return &TableExtractor{
		chat:   chat,
		logger: chat.logger.With("service", "tables"),
	}
}

// ExtractTable rebuilds table-like text as a core.Table with explicit header rows.
func (e *TableExtractor) ExtractTable(ctx context.Context, text string, strict bool) (*core.Table, error) {
	var table core.Table
	if err := e.chat.completeJSON(ctx, "extract_table", buildTablePrompt(strict), prepareText(text), &table); err != nil {
		return nil, err
	}
	if len(table.Rows) == 0 {
		return nil, fmt.Errorf("%w: table has no rows", ai.ErrMalformedOutput)
	}

	for i := range table.Headers {
		for j := range table.Headers[i] {
			cell := &table.Headers[i][j]
			cell.Text = strings.TrimSpace(cell.Text)
			if cell.Span < 1 {
				cell.Span = 1
			}
		}
	}

	e.logger.Debug("extracted table",
		"header_rows", len(table.Headers),
		"rows", len(table.Rows),
		"columns", table.Columns())
	return &table, nil
}
