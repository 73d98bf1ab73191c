package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestNewTaskStore_RequiresClient(t *testing.T) {
	_, err := NewTaskStore(nil, 0)
	assert.ErrorIs(t, err, ErrClientRequired)

	_, err = NewLock(nil)
	assert.ErrorIs(t, err, ErrClientRequired)
}

func TestTaskStore_SaveAndGet(t *testing.T) {
	client, _ := setupTestRedis(t)
	store, err := NewTaskStore(client, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	task := &core.Task{
		ID:         "task-1",
		DocumentID: 42,
		Filename:   "datasheet.pdf",
		Stage:      core.StageExtract,
		Progress:   40,
		Status:     core.TaskRunning,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.SaveTask(ctx, task))

	got, err := store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, task.Filename, got.Filename)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, core.TaskRunning, got.Status)

	_, err = store.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTaskStore_RefusesProgressRegression(t *testing.T) {
	client, _ := setupTestRedis(t)
	store, err := NewTaskStore(client, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	task := &core.Task{ID: "task-2", Progress: 60, Status: core.TaskRunning}
	require.NoError(t, store.SaveTask(ctx, task))

	stale := &core.Task{ID: "task-2", Progress: 30, Status: core.TaskRunning}
	err = store.SaveTask(ctx, stale)
	assert.ErrorIs(t, err, storage.ErrStaleWrite)

	got, err := store.GetTask(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress)

	// Equal progress is accepted, e.g. a status change at the same point
	cancelled := &core.Task{ID: "task-2", Progress: 60, Status: core.TaskCancelled}
	require.NoError(t, store.SaveTask(ctx, cancelled))
	got, err = store.GetTask(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, got.Status)
}

func TestTaskStore_TerminalSnapshotIsFinal(t *testing.T) {
	client, _ := setupTestRedis(t)
	store, err := NewTaskStore(client, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.SaveTask(ctx, &core.Task{ID: "task-4", Progress: 40, Status: core.TaskCancelled}))

	// A RUNNING snapshot mirrored late at the same or higher progress
	for _, progress := range []int{40, 55} {
		late := &core.Task{ID: "task-4", Progress: progress, Status: core.TaskRunning}
		assert.ErrorIs(t, store.SaveTask(ctx, late), storage.ErrStaleWrite)
	}
	done := &core.Task{ID: "task-4", Progress: 100, Status: core.TaskCompleted}
	assert.ErrorIs(t, store.SaveTask(ctx, done), storage.ErrStaleWrite)

	got, err := store.GetTask(ctx, "task-4")
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, got.Status)
	assert.Equal(t, 40, got.Progress)
}

func TestTaskStore_ListPrunesExpired(t *testing.T) {
	client, mr := setupTestRedis(t)
	store, err := NewTaskStore(client, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, store.SaveTask(ctx, &core.Task{ID: "b", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, store.SaveTask(ctx, &core.Task{ID: "a", CreatedAt: base}))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].ID)
	assert.Equal(t, "b", tasks[1].ID)

	mr.FastForward(2 * time.Minute)

	tasks, err = store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	members, err := client.SMembers(ctx, taskIndex).Result()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestLock_AcquireRelease(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	lock1, err := NewLock(client)
	require.NoError(t, err)
	lock2, err := NewLock(client)
	require.NoError(t, err)
	assert.NotEqual(t, lock1.OwnerID(), lock2.OwnerID())

	acquired, err := lock1.Acquire(ctx, "doc-hash", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = lock2.Acquire(ctx, "doc-hash", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, acquired, "lock is held by another owner")

	// A non-owner release leaves the lock in place
	require.NoError(t, lock2.Release(ctx, "doc-hash"))
	acquired, err = lock2.Acquire(ctx, "doc-hash", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, lock1.Release(ctx, "doc-hash"))
	acquired, err = lock2.Acquire(ctx, "doc-hash", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestLock_Expires(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	lock1, _ := NewLock(client)
	lock2, _ := NewLock(client)

	acquired, err := lock1.Acquire(ctx, "doc-hash", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(2 * time.Second)

	acquired, err = lock2.Acquire(ctx, "doc-hash", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestConnect_Unavailable(t *testing.T) {
	_, err := Connect(context.Background(), "127.0.0.1:1", "", 0)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}
