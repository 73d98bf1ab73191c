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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/ingestion"
	"github.com/poiesic/veridoc/layout"
	"github.com/poiesic/veridoc/metrics"
	"github.com/poiesic/veridoc/storage"
)

// Progress milestones, in percent.
const (
	progressParsed     = 5
	progressClassified = 10
	progressExtraction = 85
	progressDone       = 100
)

const cancelledMessage = "cancelled by user"

// Orchestrator drives one pipeline run per uploaded document. It owns the
// task registry; other components only see tasks through its methods.
type Orchestrator struct {
	docs      storage.DocumentRepository
	parser    layout.Parser
	pipeline  *ingestion.Pipeline
	registry  *registry
	taskStore storage.TaskStore
	locker    storage.Locker
	mirrors   []ProgressReporter
	pool      *ants.Pool
	maxTasks  int
	batchSize int
	lockTTL   time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithMaxConcurrentTasks bounds the number of RUNNING tasks.
// Default is 2.
func WithMaxConcurrentTasks(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			n = 1
		}
		o.maxTasks = n
		return nil
	}
}

// WithBatchSize sets the number of chunks between cancellation checks.
// Default is the pipeline worker count.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) error {
		if n > 0 {
			o.batchSize = n
		}
		return nil
	}
}

// WithTaskStore mirrors task snapshots into store and reads tasks missing
// from the registry back from it.
func WithTaskStore(store storage.TaskStore) Option {
	return func(o *Orchestrator) error {
		if store != nil {
			o.taskStore = store
			o.mirrors = append(o.mirrors, NewTaskStoreReporter(store))
		}
		return nil
	}
}

// WithProgressReporter adds a reporter that receives every task snapshot.
func WithProgressReporter(r ProgressReporter) Option {
	return func(o *Orchestrator) error {
		if r != nil {
			o.mirrors = append(o.mirrors, r)
		}
		return nil
	}
}

// WithLocker sets the lock used to serialize submissions of identical content.
// Default is an in-process LocalLocker.
func WithLocker(l storage.Locker) Option {
	return func(o *Orchestrator) error {
		if l != nil {
			o.locker = l
		}
		return nil
	}
}

// WithLockTTL sets the expiry of the submission lock.
// Default is 30s.
func WithLockTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) error {
		if ttl > 0 {
			o.lockTTL = ttl
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// New creates an orchestrator. The pipeline is owned by the caller and must
// outlive the orchestrator.
func New(docs storage.DocumentRepository, parser layout.Parser, pipeline *ingestion.Pipeline, opts ...Option) (*Orchestrator, error) {
	if docs == nil {
		return nil, ErrRepositoryRequired
	}
	if parser == nil {
		return nil, ErrParserRequired
	}
	if pipeline == nil {
		return nil, ErrPipelineRequired
	}

	o := &Orchestrator{
		docs:      docs,
		parser:    parser,
		pipeline:  pipeline,
		locker:    NewLocalLocker(),
		maxTasks:  2,
		batchSize: pipeline.Workers(),
		lockTTL:   30 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	o.logger = o.logger.With("component", "orchestrator")

	pool, err := ants.NewPool(o.maxTasks)
	if err != nil {
		return nil, err
	}
	o.pool = pool
	o.registry = newRegistry(o.logger, o.mirrors...)
	return o, nil
}

type job struct {
	taskID string
	doc    *core.Document
	data   []byte
	token  *CancelToken
}

// Submit registers a document upload and schedules its pipeline run.
// Re-uploading content that is already indexed or being processed returns a
// COMPLETED task with Duplicate set and schedules nothing.
func (o *Orchestrator) Submit(ctx context.Context, filename string, data []byte) (core.Task, error) {
	if len(data) == 0 {
		return core.Task{}, ErrEmptyDocument
	}
	if !o.begin() {
		return core.Task{}, ErrClosed
	}
	scheduled := false
	defer func() {
		if !scheduled {
			o.wg.Done()
		}
	}()

	hash := core.HashContent(data)
	lockName := "document:" + hash
	acquired, err := o.locker.Acquire(ctx, lockName, o.lockTTL)
	if err != nil {
		return core.Task{}, fmt.Errorf("acquiring submission lock: %w", err)
	}
	if !acquired {
		// Another submission of the same bytes holds the lock
		return o.duplicate(filename, core.IDFromContent(hash), "document is already being submitted"), nil
	}
	defer func() {
		if err := o.locker.Release(context.Background(), lockName); err != nil {
			o.logger.Warn("error releasing submission lock", "err", err)
		}
	}()

	now := time.Now().UTC()
	doc, err := o.docs.FindDocumentByHash(ctx, hash)
	switch {
	case err == nil && (doc.Status == core.DocumentIndexed || doc.Status == core.DocumentProcessing):
		o.logger.Info("duplicate upload", "document", doc.Id, "filename", filename, "status", doc.Status)
		return o.duplicate(filename, doc.Id, "document already "+doc.Status.String()), nil
	case err == nil:
		// Deleted or failed documents are processed again under the same ID
	case errors.Is(err, storage.ErrNotFound):
		doc = &core.Document{Id: core.IDFromContent(hash), Hash: hash, UploadedAt: now}
	default:
		return core.Task{}, fmt.Errorf("looking up document: %w", err)
	}

	doc.Filename = filename
	doc.Size = int64(len(data))
	doc.Status = core.DocumentProcessing
	doc.UpdatedAt = now
	if err := o.docs.SaveDocument(ctx, doc); err != nil {
		return core.Task{}, fmt.Errorf("saving document: %w", err)
	}

	token := NewCancelToken()
	task := core.Task{
		ID:         uuid.New().String(),
		DocumentID: doc.Id,
		Filename:   filename,
		Stage:      core.StageQueued,
		Status:     core.TaskQueued,
		Message:    "queued",
	}
	o.registry.add(task, token)
	o.schedule(&job{taskID: task.ID, doc: doc, data: data, token: token})
	scheduled = true

	_, snapshot, _ := o.registry.get(task.ID)
	return snapshot, nil
}

func (o *Orchestrator) duplicate(filename string, docID core.ID, message string) core.Task {
	task := core.Task{
		ID:         uuid.New().String(),
		DocumentID: docID,
		Filename:   filename,
		Stage:      core.StageDone,
		Progress:   progressDone,
		Status:     core.TaskCompleted,
		Message:    message,
		Duplicate:  true,
	}
	o.registry.add(task, NewCancelToken())
	_, snapshot, _ := o.registry.get(task.ID)
	return snapshot
}

// schedule hands the job to the task pool without blocking the caller.
// The caller has already counted the job in o.wg.
func (o *Orchestrator) schedule(j *job) {
	go func() {
		err := o.pool.Submit(func() {
			defer o.wg.Done()
			o.run(j)
		})
		if err != nil {
			defer o.wg.Done()
			o.fail(context.Background(), j, fmt.Errorf("scheduling task: %w", err))
		}
	}()
}

// run executes the pipeline for one document.
func (o *Orchestrator) run(j *job) {
	ctx := context.Background()
	logger := o.logger.With("task", j.taskID, "document", j.doc.Id)

	if j.token.Cancelled() {
		o.cancelled(ctx, j)
		return
	}

	metrics.TasksRunning.Inc()
	defer metrics.TasksRunning.Dec()

	o.registry.update(j.taskID, func(t *core.Task) {
		t.Status = core.TaskRunning
		t.Stage = core.StageParse
		t.Message = "parsing document"
	})

	blocks, err := o.parser.Parse(ctx, j.data)
	j.data = nil
	if err != nil {
		o.fail(ctx, j, fmt.Errorf("%w: %w", ErrParseFailed, err))
		return
	}
	o.registry.update(j.taskID, func(t *core.Task) {
		t.Stage = core.StageNormalize
		t.Progress = progressParsed
		t.Message = fmt.Sprintf("parsed %d blocks", len(blocks))
	})

	chunks := o.pipeline.Normalize(j.doc.Id, blocks)
	if len(chunks) == 0 {
		o.fail(ctx, j, fmt.Errorf("%w: no content", ErrParseFailed))
		return
	}

	o.registry.update(j.taskID, func(t *core.Task) {
		t.Stage = core.StageClassify
		t.TotalChunks = len(chunks)
		t.Message = fmt.Sprintf("classifying %d chunks", len(chunks))
	})
	classified, err := o.pipeline.Classify(ctx, chunks)
	if err != nil {
		o.fail(ctx, j, err)
		return
	}
	o.registry.update(j.taskID, func(t *core.Task) {
		t.Progress = progressClassified
	})

	total, done, flagged := len(classified), 0, 0
	for start := 0; start < total; start += o.batchSize {
		if j.token.Cancelled() {
			o.cancelled(ctx, j)
			return
		}

		batch := classified[start:min(start+o.batchSize, total)]
		result, err := o.pipeline.ProcessBatch(ctx, j.doc, batch, func(stage core.Stage) {
			o.registry.update(j.taskID, func(t *core.Task) { t.Stage = stage })
		})
		done += len(batch)
		flagged += result.Flagged
		if err != nil {
			o.fail(ctx, j, err)
			return
		}

		o.registry.update(j.taskID, func(t *core.Task) {
			t.DoneChunks = done
			t.FlaggedChunks = flagged
			t.Progress = progressClassified + progressExtraction*done/total
			t.Message = fmt.Sprintf("processed %d/%d chunks", done, total)
		})
	}

	j.doc.Status = core.DocumentIndexed
	j.doc.UpdatedAt = time.Now().UTC()
	if err := o.docs.SaveDocument(ctx, j.doc); err != nil {
		o.fail(ctx, j, fmt.Errorf("%w: marking document indexed: %w", ingestion.ErrStoreWrite, err))
		return
	}

	o.finish(j.taskID, func(t *core.Task) {
		t.Status = core.TaskCompleted
		t.Stage = core.StageDone
		t.Progress = progressDone
		t.Message = fmt.Sprintf("indexed %d chunks, %d flagged", total, flagged)
	})
	logger.Info("document indexed", "chunks", total, "flagged", flagged)
}

// cancelled removes everything written for the job and marks it CANCELLED.
func (o *Orchestrator) cancelled(ctx context.Context, j *job) {
	o.registry.update(j.taskID, func(t *core.Task) {
		t.Stage = core.StageCleanup
		t.Message = "cleaning up"
	})
	if err := o.cleanup(ctx, j.doc, core.DocumentDeleted); err != nil {
		o.logger.Error("error cleaning up cancelled task", "task", j.taskID, "err", err)
	}
	o.finish(j.taskID, func(t *core.Task) {
		t.Status = core.TaskCancelled
		t.Message = cancelledMessage
	})
	o.logger.Info("task cancelled", "task", j.taskID, "document", j.doc.Id)
}

// fail removes everything written for the job and marks it ERROR.
func (o *Orchestrator) fail(ctx context.Context, j *job, cause error) {
	o.logger.Error("task failed", "task", j.taskID, "document", j.doc.Id, "err", cause)
	o.registry.update(j.taskID, func(t *core.Task) {
		t.Stage = core.StageCleanup
		t.Message = "cleaning up"
	})
	message := cause.Error()
	if err := o.cleanup(ctx, j.doc, core.DocumentFailed); err != nil {
		o.logger.Error("error cleaning up failed task", "task", j.taskID, "err", err)
		message += "; cleanup failed: " + err.Error()
	}
	o.finish(j.taskID, func(t *core.Task) {
		t.Status = core.TaskError
		t.Message = message
	})
}

func (o *Orchestrator) finish(taskID string, fn func(*core.Task)) {
	if task, ok := o.registry.update(taskID, fn); ok {
		metrics.TasksTotal.WithLabelValues(string(task.Status)).Inc()
	}
}

// cleanup deletes the document's knowledge and records its final status.
func (o *Orchestrator) cleanup(ctx context.Context, doc *core.Document, status core.DocumentStatus) error {
	var errs []error
	if err := o.pipeline.Writer().Cleanup(ctx, doc.Id); err != nil {
		errs = append(errs, err)
	}
	doc.Status = status
	doc.UpdatedAt = time.Now().UTC()
	if err := o.docs.SaveDocument(ctx, doc); err != nil {
		errs = append(errs, fmt.Errorf("saving document status: %w", err))
	}
	return errors.Join(errs...)
}

// Cancel requests cooperative cancellation of a task. It returns false for
// unknown and terminal tasks. Repeated requests are acknowledged again.
func (o *Orchestrator) Cancel(taskID string) bool {
	e, task, ok := o.registry.get(taskID)
	if !ok || task.Status.Terminal() {
		return false
	}
	if e.token.Cancel() {
		o.logger.Info("cancellation requested", "task", taskID)
	}
	_, applied := o.registry.update(taskID, func(t *core.Task) {
		t.CancelRequested = true
	})
	return applied
}

// Status returns the latest snapshot of a task. Tasks unknown to this
// process are looked up in the task store, if one is configured.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (core.Task, error) {
	if _, task, ok := o.registry.get(taskID); ok {
		return task, nil
	}
	if o.taskStore != nil {
		task, err := o.taskStore.GetTask(ctx, taskID)
		if err == nil {
			return *task, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return core.Task{}, err
		}
	}
	return core.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

// List returns every task of this process ordered by creation time.
func (o *Orchestrator) List() []core.Task {
	return o.registry.list()
}

// Subscribe returns a channel holding the latest snapshot of a task. The
// channel is closed after the terminal snapshot. Call the returned function
// to stop receiving updates early.
func (o *Orchestrator) Subscribe(taskID string) (<-chan core.Task, func(), error) {
	ch, unsubscribe, ok := o.registry.subscribe(taskID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return ch, unsubscribe, nil
}

// Wait blocks until the task reaches a terminal state or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, taskID string) (core.Task, error) {
	e, _, ok := o.registry.get(taskID)
	if !ok {
		return core.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	select {
	case <-e.done:
		_, task, _ := o.registry.get(taskID)
		return task, nil
	case <-ctx.Done():
		return core.Task{}, ctx.Err()
	}
}

// DeleteDocument removes a document's knowledge and marks it DELETED.
// It is refused while a task for the document is queued or running.
func (o *Orchestrator) DeleteDocument(ctx context.Context, docID core.ID) error {
	if o.registry.active(docID) {
		return fmt.Errorf("%w: %d", ErrDocumentBusy, docID)
	}
	doc, err := o.docs.GetDocument(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrDocumentNotFound, docID)
	}
	if err != nil {
		return err
	}
	if err := o.cleanup(ctx, doc, core.DocumentDeleted); err != nil {
		return err
	}
	o.logger.Info("document deleted", "document", docID, "filename", doc.Filename)
	return nil
}

// ListDocuments returns all documents ordered by upload time.
func (o *Orchestrator) ListDocuments(ctx context.Context) ([]*core.Document, error) {
	return o.docs.ListDocuments(ctx)
}

// Close stops accepting submissions, waits for scheduled tasks to finish and
// releases the task pool.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.wg.Wait()
	o.pool.Release()
	return nil
}

// begin counts a new submission unless the orchestrator is closed.
func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.wg.Add(1)
	return true
}
