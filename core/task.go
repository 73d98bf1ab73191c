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

import "time"

// TaskStatus is the lifecycle state of an ingestion task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "QUEUED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskError     TaskStatus = "ERROR"
	TaskCancelled TaskStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskError || s == TaskCancelled
}

// Stage is the pipeline stage a running task is in.
type Stage string

const (
	StageQueued    Stage = "queued"
	StageParse     Stage = "parse"
	StageNormalize Stage = "normalize"
	StageClassify  Stage = "classify"
	StageExtract   Stage = "extract"
	StageEntities  Stage = "entities"
	StageWrite     Stage = "write"
	StageCleanup   Stage = "cleanup"
	StageDone      Stage = "done"
)

// Task tracks one pipeline run for one uploaded document.
type Task struct {
	ID              string     `json:"id"`
	DocumentID      ID         `json:"document_id"`
	Filename        string     `json:"filename"`
	Stage           Stage      `json:"stage"`
	Progress        int        `json:"progress"`
	Status          TaskStatus `json:"status"`
	Message         string     `json:"message"`
	CancelRequested bool       `json:"cancel_requested"`
	Duplicate       bool       `json:"duplicate"`
	TotalChunks     int        `json:"total_chunks"`
	DoneChunks      int        `json:"done_chunks"`
	FlaggedChunks   int        `json:"flagged_chunks"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Intent is the classified purpose of a user query.
type Intent string

const (
	IntentFactual    Intent = "FACTUAL"
	IntentRelational Intent = "RELATIONAL"
	IntentSemantic   Intent = "SEMANTIC"
)

// RetrievalMode is the strategy actually used to answer a query.
type RetrievalMode string

const (
	ModeExact  RetrievalMode = "EXACT"
	ModeGraph  RetrievalMode = "GRAPH"
	ModeVector RetrievalMode = "VECTOR"
	ModeHybrid RetrievalMode = "HYBRID"
)

// Source is a ranked piece of evidence with file/page provenance.
type Source struct {
	ChunkID  ID      `json:"chunk_id"`
	Filename string  `json:"file"`
	Page     int     `json:"page"`
	Score    float32 `json:"score"`
	Tier     Tier    `json:"-"`
	TierName string  `json:"tier"`
	Text     string  `json:"text,omitempty"`
}

// Answer is the response to a user query.
type Answer struct {
	Text      string        `json:"answer"`
	Intent    Intent        `json:"intent"`
	Mode      RetrievalMode `json:"mode"`
	Sources   []Source      `json:"sources"`
	Audited   bool          `json:"audited"`
	Revisions int           `json:"revisions"`
}
