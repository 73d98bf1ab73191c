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

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/storage"
)

// ProgressReporter receives task snapshots as a task advances.
type ProgressReporter interface {
	// Report publishes a snapshot. Implementations must not let the
	// observed progress of a task decrease.
	Report(ctx context.Context, task core.Task) error
}

// TaskStoreReporter mirrors snapshots into a storage.TaskStore so that task
// state survives restarts and is visible to other instances.
type TaskStoreReporter struct {
	store storage.TaskStore
}

// NewTaskStoreReporter wraps store as a ProgressReporter.
func NewTaskStoreReporter(store storage.TaskStore) *TaskStoreReporter {
	return &TaskStoreReporter{store: store}
}

// Report saves the snapshot. Snapshots older than the stored one are dropped.
func (r *TaskStoreReporter) Report(ctx context.Context, task core.Task) error {
	err := r.store.SaveTask(ctx, &task)
	if errors.Is(err, storage.ErrStaleWrite) {
		return nil
	}
	return err
}

type entry struct {
	task  core.Task
	token *CancelToken
	done  chan struct{}
	subs  []chan core.Task
}

// registry is the in-memory record of every task the orchestrator knows.
// It is the default ProgressReporter and forwards snapshots to mirrors.
type registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	mirrors []ProgressReporter
	now     func() time.Time
	logger  *slog.Logger
}

func newRegistry(logger *slog.Logger, mirrors ...ProgressReporter) *registry {
	return &registry{
		entries: make(map[string]*entry),
		mirrors: mirrors,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// add registers a new task. Terminal tasks are registered as already done.
func (r *registry) add(task core.Task, token *CancelToken) {
	now := r.now()
	task.CreatedAt, task.UpdatedAt = now, now
	e := &entry{task: task, token: token, done: make(chan struct{})}
	if task.Status.Terminal() {
		close(e.done)
	}

	r.mu.Lock()
	r.entries[task.ID] = e
	r.mu.Unlock()

	r.mirror(task)
}

// Report replaces the snapshot of a known task.
func (r *registry) Report(_ context.Context, task core.Task) error {
	if _, ok := r.update(task.ID, func(t *core.Task) { *t = task }); !ok {
		return ErrTaskNotFound
	}
	return nil
}

// update applies fn to the snapshot of a task. Progress never decreases and
// terminal snapshots are final. It returns the resulting snapshot and
// whether fn was applied.
func (r *registry) update(id string, fn func(*core.Task)) (core.Task, bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return core.Task{}, false
	}
	if e.task.Status.Terminal() {
		snapshot := e.task
		r.mu.Unlock()
		return snapshot, false
	}

	next := e.task
	fn(&next)
	next.ID = e.task.ID
	next.CreatedAt = e.task.CreatedAt
	next.Progress = max(next.Progress, e.task.Progress)
	next.UpdatedAt = r.now()
	e.task = next

	for _, ch := range e.subs {
		sendLatest(ch, next)
	}
	terminal := next.Status.Terminal()
	if terminal {
		for _, ch := range e.subs {
			close(ch)
		}
		e.subs = nil
	}
	r.mu.Unlock()

	r.mirror(next)
	// Waiters see the terminal snapshot only after every mirror has it
	if terminal {
		close(e.done)
	}
	return next, true
}

func (r *registry) mirror(task core.Task) {
	for _, m := range r.mirrors {
		if err := m.Report(context.Background(), task); err != nil {
			r.logger.Warn("error mirroring task snapshot", "task", task.ID, "err", err)
		}
	}
}

func (r *registry) get(id string) (*entry, core.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, core.Task{}, false
	}
	return e, e.task, true
}

// list returns every snapshot ordered by creation time.
func (r *registry) list() []core.Task {
	r.mu.RLock()
	tasks := make([]core.Task, 0, len(r.entries))
	for _, e := range r.entries {
		tasks = append(tasks, e.task)
	}
	r.mu.RUnlock()

	slices.SortFunc(tasks, func(a, b core.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return tasks
}

// active reports whether a non-terminal task exists for the document.
func (r *registry) active(docID core.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.task.DocumentID == docID && !e.task.Status.Terminal() {
			return true
		}
	}
	return false
}

// subscribe returns a channel that always holds the latest snapshot of the
// task. It is closed after the terminal snapshot is delivered.
func (r *registry) subscribe(id string) (<-chan core.Task, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, nil, false
	}

	ch := make(chan core.Task, 1)
	ch <- e.task
	if e.task.Status.Terminal() {
		close(ch)
		return ch, func() {}, true
	}
	e.subs = append(e.subs, ch)

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if i := slices.Index(e.subs, ch); i >= 0 {
			e.subs = slices.Delete(e.subs, i, i+1)
			close(ch)
		}
	}
	return ch, unsubscribe, true
}

// sendLatest delivers task, replacing an undelivered older snapshot.
// Callers hold the registry lock, so there is a single sender per channel.
func sendLatest(ch chan core.Task, task core.Task) {
	select {
	case ch <- task:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- task
}
