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

package orchestrator

import "errors"

var (
	// ErrParseFailed indicates the layout parser could not produce any usable
	// content for a document. It is fatal for the task.
	ErrParseFailed = errors.New("document parse failed")

	// ErrCancelled is used internally when a cancellation request is observed.
	ErrCancelled = errors.New("cancelled by user")

	// ErrTaskNotFound indicates an unknown task ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDocumentNotFound indicates an unknown document ID.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentBusy indicates a document cannot be deleted while a task for it is running.
	ErrDocumentBusy = errors.New("document has a running task")

	// ErrEmptyDocument indicates a submission without content.
	ErrEmptyDocument = errors.New("document is empty")

	// ErrClosed indicates the orchestrator no longer accepts work.
	ErrClosed = errors.New("orchestrator is closed")

	// ErrRepositoryRequired is returned when a document repository is not provided.
	ErrRepositoryRequired = errors.New("document repository required")

	// ErrParserRequired is returned when a layout parser is not provided.
	ErrParserRequired = errors.New("layout parser required")

	// ErrPipelineRequired is returned when an ingestion pipeline is not provided.
	ErrPipelineRequired = errors.New("ingestion pipeline required")
)
