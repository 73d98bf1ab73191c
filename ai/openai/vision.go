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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/metrics"
)

// VisionInterpreter implements ai.VisionInterpreter with multi-part chat
// completion requests carrying the image as a data URI.
type VisionInterpreter struct {
	client  *goopenai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

func newVisionInterpreter(config *ai.Config, limiter *rate.Limiter, logger *slog.Logger) *VisionInterpreter {
	clientCfg := goopenai.DefaultConfig(config.APIKey)
	clientCfg.BaseURL = config.VisionHost

	return &VisionInterpreter{
		client:  goopenai.NewClientWithConfig(clientCfg),
		model:   config.VisionModel,
		limiter: limiter,
		timeout: config.CallTimeout,
		logger:  logger.With("service", "vision"),
	}
}

// DescribeImage returns the model's interpretation of image.
func (v *VisionInterpreter) DescribeImage(ctx context.Context, image []byte, caption string) (string, error) {
	if len(image) == 0 {
		return "", ai.ErrEmptyImage
	}

	if v.limiter != nil {
		if err := v.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	prompt := "Describe this figure."
	if caption = prepareText(caption); caption != "" {
		prompt = "Describe this figure. Surrounding text: " + caption
	}

	req := goopenai.ChatCompletionRequest{
		Model: v.model,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: visionSystemPrompt,
			},
			{
				Role: goopenai.ChatMessageRoleUser,
				MultiContent: []goopenai.ChatMessagePart{
					{
						Type: goopenai.ChatMessagePartTypeText,
						Text: prompt,
					},
					{
						Type: goopenai.ChatMessagePartTypeImageURL,
						ImageURL: &goopenai.ChatMessageImageURL{
							URL:    dataURI(image),
							Detail: goopenai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	}

	start := time.Now()
	resp, err := v.client.CreateChatCompletion(callCtx, req)
	metrics.ObserveModelCall("describe_image", v.model, start, err)
	if err != nil {
		v.logger.Warn("vision call failed", "err", err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", parseAPIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %w", ai.ErrMalformedOutput, ai.ErrNoChoices)
	}

	description := strings.TrimSpace(resp.Choices[0].Message.Content)
	if description == "" {
		return "", fmt.Errorf("%w: empty image description", ai.ErrMalformedOutput)
	}

	v.logger.Debug("described image", "bytes", len(image), "length", len(description))
	return description, nil
}

func dataURI(image []byte) string {
	return "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// parseAPIError extracts a readable error from the API response and marks
// rate limits and server errors as transient.
func parseAPIError(err error) error {
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		if isTransientStatus(reqErr.HTTPStatusCode) {
			return fmt.Errorf("vision API error %d: %s: %w", reqErr.HTTPStatusCode, detail, ai.ErrTransient)
		}
		return fmt.Errorf("vision API error %d: %s", reqErr.HTTPStatusCode, detail)
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if isTransientStatus(apiErr.HTTPStatusCode) {
			return fmt.Errorf("vision API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, ai.ErrTransient)
		}
		return fmt.Errorf("vision API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}

	return classifyError(context.Background(), err)
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
