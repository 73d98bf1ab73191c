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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/metrics"
)

// chatClient is the shared text completion path for every chat-based service.
// It applies the provider rate limit, the per-call timeout and error classification.
type chatClient struct {
	llm     llms.Model
	model   string
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

func newChatClient(config *ai.Config, limiter *rate.Limiter, logger *slog.Logger) (*chatClient, error) {
	llm, err := openai.New(
		openai.WithBaseURL(config.ChatHost),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.ChatModel),
	)
	if err != nil {
		return nil, err
	}
	return &chatClient{
		llm:     llm,
		model:   config.ChatModel,
		limiter: limiter,
		timeout: config.CallTimeout,
		logger:  logger,
	}, nil
}

// newLimiter returns a shared limiter, or nil when throttling is disabled.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// complete sends one system+user exchange and returns the first choice.
func (c *chatClient) complete(ctx context.Context, operation, system, user string, jsonMode bool) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(system),
			},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(user),
			},
		},
	}

	opts := []llms.CallOption{llms.WithTemperature(0.0)}
	if jsonMode {
		opts = append(opts, llms.WithJSONMode())
	}

	start := time.Now()
	response, err := c.llm.GenerateContent(callCtx, content, opts...)
	metrics.ObserveModelCall(operation, c.model, start, err)
	if err != nil {
		c.logger.Warn("model call failed", "operation", operation, "err", err)
		return "", classifyError(ctx, err)
	}

	if len(response.Choices) < 1 {
		c.logger.Debug("no choices returned from model", "operation", operation)
		return "", fmt.Errorf("%w: %w", ai.ErrMalformedOutput, ai.ErrNoChoices)
	}

	return response.Choices[0].Content, nil
}

// completeJSON runs complete in JSON mode and decodes the response into v.
func (c *chatClient) completeJSON(ctx context.Context, operation, system, user string, v any) error {
	raw, err := c.complete(ctx, operation, system, user, true)
	if err != nil {
		return err
	}
	if err := decodeJSON(raw, v); err != nil {
		c.logger.Warn("error parsing model response",
			"operation", operation,
			"response", raw,
			"err", err)
		return err
	}
	return nil
}

// decodeJSON strips code fences, repairs common key quoting issues and unmarshals.
func decodeJSON(raw string, v any) error {
	text := repairJSON(stripCodeFences(raw))
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("%w: %w", ai.ErrMalformedOutput, err)
	}
	return nil
}

// classifyError marks timeouts, rate limits and server errors as transient.
// Cancellation of the caller's context is returned as is.
func classifyError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ai.ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ai.ErrTransient, err)
	}
	if isTransientMessage(err.Error()) {
		return fmt.Errorf("%w: %w", ai.ErrTransient, err)
	}
	return err
}

var transientMarkers = []string{
	"status code: 429",
	"status code: 5",
	"rate limit",
	"too many requests",
	"connection refused",
	"connection reset",
	"timeout",
}

func isTransientMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
