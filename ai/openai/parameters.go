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

package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/core"
)

// ParameterExtractor implements ai.ParameterExtractor using OpenAI-compatible chat APIs.
type ParameterExtractor struct {
	chat   *chatClient
	logger *slog.Logger
}

// parameterList is the wrapper structure for the model's JSON response.
// A nil Parameters slice means the required key was missing.
type parameterList struct {
	Parameters []core.Parameter `json:"parameters"`
}

type arbitration struct {
	Resolved   *bool            `json:"resolved"`
	Reason     string           `json:"reason"`
	Parameters []core.Parameter `json:"parameters"`
}

func newParameterExtractor(chat *chatClient) *ParameterExtractor {
	return &ParameterExtractor{
		chat:   chat,
		logger: chat.logger.With("service", "parameters"),
	}
}

// ExtractParameters runs one extraction pass over text.
func (e *ParameterExtractor) ExtractParameters(ctx context.Context, text string, strict bool) ([]core.Parameter, error) {
	text = prepareText(text)

	var result parameterList
	if err := e.chat.completeJSON(ctx, "extract_parameters", buildParameterPrompt(strict), text, &result); err != nil {
		return nil, err
	}
	if result.Parameters == nil {
		return nil, fmt.Errorf("%w: missing parameters key", ai.ErrMalformedOutput)
	}

	params, err := cleanParameters(result.Parameters)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("extracted parameters", "count", len(params), "strict", strict)
	return params, nil
}

// Arbitrate asks the model to resolve two disagreeing passes against the source.
func (e *ParameterExtractor) Arbitrate(ctx context.Context, text string, a, b []core.Parameter, strict bool) (*ai.Arbitration, error) {
	passA, err := json.Marshal(nonNil(a))
	if err != nil {
		return nil, err
	}
	passB, err := json.Marshal(nonNil(b))
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("Source text:\n")
	sb.WriteString(prepareText(text))
	sb.WriteString("\n\nExtraction A:\n")
	sb.Write(passA)
	sb.WriteString("\n\nExtraction B:\n")
	sb.Write(passB)

	var result arbitration
	if err := e.chat.completeJSON(ctx, "arbitrate", buildArbitrationPrompt(strict), sb.String(), &result); err != nil {
		return nil, err
	}
	if result.Resolved == nil {
		return nil, fmt.Errorf("%w: missing resolved key", ai.ErrMalformedOutput)
	}

	params, err := cleanParameters(result.Parameters)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("arbitrated parameters", "resolved", *result.Resolved, "count", len(params))

	return &ai.Arbitration{
		Parameters: params,
		Resolved:   *result.Resolved,
		Reason:     result.Reason,
	}, nil
}

// cleanParameters trims fields and rejects entries with no name or value.
func cleanParameters(in []core.Parameter) ([]core.Parameter, error) {
	out := make([]core.Parameter, 0, len(in))
	for _, p := range in {
		p.Name = strings.TrimSpace(p.Name)
		p.Value = strings.TrimSpace(p.Value)
		p.Unit = strings.TrimSpace(p.Unit)
		p.Condition = strings.TrimSpace(p.Condition)
		if p.Name == "" || p.Value == "" {
			return nil, fmt.Errorf("%w: parameter without name or value", ai.ErrMalformedOutput)
		}
		out = append(out, p)
	}
	return out, nil
}

func nonNil(p []core.Parameter) []core.Parameter {
	if p == nil {
		return []core.Parameter{}
	}
	return p
}
