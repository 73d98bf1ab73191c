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


package core

import (
	"fmt"
)

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - Filename must not be empty
//   - Hash must not be empty
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if doc.Filename == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyFilename)
	}

	if doc.Hash == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyContent)
	}

	return nil
}

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - Kind must be valid
//   - Page must not be negative
//   - Text must not be empty unless the chunk is an image
//
// NOT validated (populated by the pipeline):
//   - Tier (unknown until classified)
//   - Confidence and Status
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if err := ValidateKind(chunk.Kind); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, err)
	}

	if chunk.Page < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrInvalidPage)
	}

	if chunk.Text == "" && chunk.Kind != KindImage {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}

	return nil
}

// ValidateEntity validates an Entity according to domain rules.
func ValidateEntity(entity *Entity) error {
	if entity == nil {
		return fmt.Errorf("%w: entity is nil", ErrInvalidEntity)
	}

	if entity.Name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, ErrEmptyEntityName)
	}

	if entity.Type == "" {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, ErrEmptyEntityType)
	}

	if len(entity.Sources) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, ErrMissingProvenance)
	}

	return nil
}

// ValidateRelation validates a Relation according to domain rules.
func ValidateRelation(relation *Relation) error {
	if relation == nil {
		return fmt.Errorf("%w: relation is nil", ErrInvalidRelation)
	}

	if relation.Type == "" {
		return fmt.Errorf("%w: relation type cannot be empty", ErrInvalidRelation)
	}

	if relation.SourceID == 0 || relation.TargetID == 0 {
		return fmt.Errorf("%w: endpoints must be set", ErrInvalidRelation)
	}

	if len(relation.Sources) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRelation, ErrMissingProvenance)
	}

	return nil
}

// ValidateKind validates that a ContentKind has a valid value.
func ValidateKind(kind ContentKind) error {
	if kind != KindText && kind != KindTable && kind != KindImage {
		return fmt.Errorf("%w: value %d", ErrInvalidKind, kind)
	}
	return nil
}
