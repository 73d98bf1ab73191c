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

// Package ai provides abstractions for the model services used by veridoc.
//
// This package defines interfaces for embeddings, parameter extraction and
// arbitration, table normalization, image interpretation, relation extraction
// and grounded answer generation. The ingestion pipeline and the query router
// depend on these abstractions rather than on concrete clients.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Errors
//
// Adapters classify failures so callers can apply a retry policy:
//
//   - ErrMalformedOutput: the response did not match the expected JSON schema.
//     Callers retry once with strict set, then give up.
//   - ErrTransient: timeouts, rate limits and 5xx responses. Callers retry
//     with exponential backoff.
//   - ErrNoChoices: the model returned nothing.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithHost("http://localhost:11434"))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	params, err := provider.ParameterExtractor().ExtractParameters(ctx, text, false)
package ai
