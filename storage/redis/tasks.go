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

// Package redis provides Redis-backed task snapshots and locks.
package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/storage"
	"github.com/redis/go-redis/v9"
)

const (
	taskPrefix = "veridoc:task:"
	taskIndex  = "veridoc:tasks"
	defaultTTL = 24 * time.Hour
	fieldData  = "data"
)

var (
	// ErrClientRequired is returned when no redis client is supplied.
	ErrClientRequired = errors.New("redis client is required")
)

var _ storage.TaskStore = (*TaskStore)(nil)

// TaskStore implements storage.TaskStore with one hash per task holding the
// JSON snapshot and its progress, plus a set indexing all task IDs.
type TaskStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTaskStore creates a TaskStore. Snapshots expire ttl after their last
// update; a zero ttl selects 24 hours.
func NewTaskStore(client *redis.Client, ttl time.Duration) (*TaskStore, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &TaskStore{client: client, ttl: ttl}, nil
}

// saveScript writes the snapshot only if its progress does not go backwards
// and the stored snapshot is not terminal.
var saveScript = redis.NewScript(`
	if redis.call("hget", KEYS[1], "terminal") == "1" then
		return 0
	end
	local current = tonumber(redis.call("hget", KEYS[1], "progress") or "-1")
	if tonumber(ARGV[2]) < current then
		return 0
	end
	redis.call("hset", KEYS[1], "data", ARGV[1], "progress", ARGV[2], "terminal", ARGV[5])
	redis.call("pexpire", KEYS[1], ARGV[3])
	redis.call("sadd", KEYS[2], ARGV[4])
	return 1
`)

// SaveTask stores a snapshot unless it would lower the recorded progress or
// replace a terminal snapshot. Refused writes return storage.ErrStaleWrite.
func (s *TaskStore) SaveTask(ctx context.Context, task *core.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	terminal := "0"
	if task.Status.Terminal() {
		terminal = "1"
	}
	written, err := saveScript.Run(ctx, s.client,
		[]string{taskPrefix + task.ID, taskIndex},
		string(data), task.Progress, s.ttl.Milliseconds(), task.ID, terminal,
	).Int()
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	if written == 0 {
		return fmt.Errorf("task %s %s at %d: %w", task.ID, task.Status, task.Progress, storage.ErrStaleWrite)
	}
	return nil
}

// GetTask loads a snapshot by task ID.
func (s *TaskStore) GetTask(ctx context.Context, id string) (*core.Task, error) {
	data, err := s.client.HGet(ctx, taskPrefix+id, fieldData).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	var task core.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", id, err)
	}
	return &task, nil
}

// ListTasks returns all unexpired snapshots ordered by creation time.
// IDs whose snapshots have expired are pruned from the index.
func (s *TaskStore) ListTasks(ctx context.Context) ([]*core.Task, error) {
	ids, err := s.client.SMembers(ctx, taskIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	var tasks []*core.Task
	var expired []any
	for _, id := range ids {
		task, err := s.GetTask(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if len(expired) > 0 {
		s.client.SRem(ctx, taskIndex, expired...)
	}

	slices.SortFunc(tasks, func(a, b *core.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return tasks, nil
}

// Close releases resources. The client is owned by the caller.
func (s *TaskStore) Close() error {
	return nil
}
