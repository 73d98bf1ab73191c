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

package ai

import "errors"

var (
	// ErrMalformedOutput indicates the model response did not match the expected schema.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrTransient indicates a retryable model service failure such as a
	// timeout, rate limit or 5xx response.
	ErrTransient = errors.New("transient model failure")

	// ErrNoChoices indicates the model returned no completion choices.
	ErrNoChoices = errors.New("model returned no choices")

	// ErrEmptyImage indicates an image interpretation was requested without image data.
	ErrEmptyImage = errors.New("image data is empty")
)
