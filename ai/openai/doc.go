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

// Package openai provides AI service implementations using OpenAI-compatible APIs.
//
// Text services use the langchaingo library. Image interpretation uses the
// go-openai client because it needs multi-part messages with inline image data.
// Both work with OpenAI and with OpenAI-compatible servers such as Ollama,
// LocalAI or vLLM.
//
// All services built by one Provider share a single rate limiter, and every
// call is bounded by the configured CallTimeout.
//
// # Usage
//
//	config := ai.NewConfig(ai.WithHost("http://localhost:11434")) // /v1 added automatically
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedText(ctx, "breakdown voltage")
//	table, err := provider.TableExtractor().ExtractTable(ctx, text, false)
package openai
