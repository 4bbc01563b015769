package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"retryflow/internal/metrics"
	"retryflow/internal/model"
	"retryflow/internal/repository"
	"retryflow/pkg/constraints"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDeadLetters(st *memStore) *DeadLetterService {
	return NewDeadLetterService(st, metrics.Nop{}, repository.DefaultTotalPartition)
}

func seedTask(t *testing.T, st *memStore, group, idem, uniqueID string, status constraints.RetryStatus, retryCount int) model.RetryTask {
	t.Helper()
	task := &model.RetryTask{
		GroupName:     group,
		SceneName:     "pay",
		IdempotentID:  idem,
		UniqueID:      uniqueID,
		RetryCount:    retryCount,
		NextTriggerAt: time.Now(),
	}
	task.SetStatus(status)
	_, err := st.Tasks().Create(context.Background(), repository.PartitionOf(group, repository.DefaultTotalPartition), task)
	require.NoError(t, err)
	return *task
}

func TestSweep_MigratesMaxCountAndPurgesFinished(t *testing.T) {
	st := newMemStore()
	st.addGroup(model.GroupConfig{GroupName: "orders", TotalPartition: 32})
	exhausted := seedTask(t, st, "orders", "X", "u-1", constraints.RetryMaxCount, 26)
	seedTask(t, st, "orders", "Y", "u-2", constraints.RetryFinish, 3)
	seedTask(t, st, "orders", "Z", "u-3", constraints.RetryRunning, 1)

	res, err := newDeadLetters(st).Sweep(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Purged)
	assert.Equal(t, 1, res.Migrated)

	tasks := st.allTasks("orders")
	require.Len(t, tasks, 1)
	assert.Equal(t, "Z", tasks[0].IdempotentID)

	letters := st.deadLetters("orders")
	require.Len(t, letters, 1)
	assert.Equal(t, exhausted.UniqueID, letters[0].UniqueID)
	assert.Equal(t, 26, letters[0].RetryCount)
	assert.NotEqual(t, exhausted.ID, letters[0].ID)
}

func TestSweep_OnlyExhaustedTask(t *testing.T) {
	st := newMemStore()
	st.addGroup(model.GroupConfig{GroupName: "orders", TotalPartition: 32})
	exhausted := seedTask(t, st, "orders", "X", "u-1", constraints.RetryMaxCount, 26)

	_, err := newDeadLetters(st).Sweep(context.Background(), "orders")
	require.NoError(t, err)

	assert.Empty(t, st.allTasks("orders"))
	letters := st.deadLetters("orders")
	require.Len(t, letters, 1)
	assert.Equal(t, exhausted.UniqueID, letters[0].UniqueID)
}

func TestSweep_ReplayAfterCrashNeverDuplicates(t *testing.T) {
	st := newMemStore()
	st.addGroup(model.GroupConfig{GroupName: "orders", TotalPartition: 8})
	task := seedTask(t, st, "orders", "X", "u-1", constraints.RetryMaxCount, 21)

	// a previous run archived the task and died before deleting it
	p := repository.PartitionOf("orders", repository.DefaultTotalPartition)
	_, err := st.DeadLetters().InsertIgnore(context.Background(), p, []*model.RetryDeadLetter{model.NewDeadLetter(&task, time.Now())})
	require.NoError(t, err)

	svc := newDeadLetters(st)
	for i := 0; i < 2; i++ {
		_, err := svc.Sweep(context.Background(), "orders")
		require.NoError(t, err)
	}
	assert.Empty(t, st.allTasks("orders"))
	assert.Len(t, st.deadLetters("orders"), 1)
}

func TestSweep_DeleteFailureRollsBack(t *testing.T) {
	st := newMemStore()
	st.addGroup(model.GroupConfig{GroupName: "orders", TotalPartition: 32})
	seedTask(t, st, "orders", "X", "u-1", constraints.RetryMaxCount, 26)
	svc := newDeadLetters(st)

	st.st.failTaskDelete = errors.New("connection reset")
	_, err := svc.Sweep(context.Background(), "orders")
	require.Error(t, err)
	assert.Len(t, st.allTasks("orders"), 1)
	assert.Empty(t, st.deadLetters("orders"), "insert must roll back with the failed delete")

	st.st.failTaskDelete = nil
	res, err := svc.Sweep(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Migrated)
	assert.Empty(t, st.allTasks("orders"))
	assert.Len(t, st.deadLetters("orders"), 1)
}

func TestSweep_UnknownGroup(t *testing.T) {
	_, err := newDeadLetters(newMemStore()).Sweep(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestSweep_SharedUniqueIDsArchivedPerTask(t *testing.T) {
	st := newMemStore()
	st.addGroup(model.GroupConfig{GroupName: "orders"})
	a := seedTask(t, st, "orders", "X", "dup-1", constraints.RetryMaxCount, 26)
	b := seedTask(t, st, "orders", "Y", "dup-1", constraints.RetryMaxCount, 26)

	res, err := newDeadLetters(st).Sweep(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Migrated)
	assert.Empty(t, st.allTasks("orders"))

	letters := st.deadLetters("orders")
	require.Len(t, letters, 2)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, []int64{letters[0].TaskID, letters[1].TaskID})
}

func TestSweep_LaterTaskWithSameUniqueIDNotLost(t *testing.T) {
	st := newMemStore()
	st.addGroup(model.GroupConfig{GroupName: "orders"})
	svc := newDeadLetters(st)

	seedTask(t, st, "orders", "X", "dup-1", constraints.RetryMaxCount, 26)
	_, err := svc.Sweep(context.Background(), "orders")
	require.NoError(t, err)

	later := seedTask(t, st, "orders", "Y", "dup-1", constraints.RetryMaxCount, 26)
	res, err := svc.Sweep(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Migrated)

	letters := st.deadLetters("orders")
	require.Len(t, letters, 2)
	assert.Equal(t, later.ID, letters[1].TaskID)
	assert.Equal(t, "Y", letters[1].IdempotentID)
}

func TestSweep_TaskRearmedDuringSweepIsKept(t *testing.T) {
	st := newMemStore()
	st.addGroup(model.GroupConfig{GroupName: "orders"})
	task := seedTask(t, st, "orders", "X", "u-1", constraints.RetryMaxCount, 26)
	p := repository.PartitionOf("orders", repository.DefaultTotalPartition)

	// an operator moves the task back to RUNNING right after the sweep read it
	st.st.onLockByStatus = func(d *memData) {
		m := d.partition(p)
		rearmed := m[task.ID]
		rearmed.SetStatus(constraints.RetryRunning)
		m[task.ID] = rearmed
	}

	_, err := newDeadLetters(st).Sweep(context.Background(), "orders")
	assert.ErrorIs(t, err, ErrPersistenceInconsistency)

	tasks := st.allTasks("orders")
	require.Len(t, tasks, 1)
	assert.Equal(t, constraints.RetryRunning, tasks[0].RetryStatus)
	assert.Empty(t, st.deadLetters("orders"))

	st.st.onLockByStatus = nil
	res, err := newDeadLetters(st).Sweep(context.Background(), "orders")
	require.NoError(t, err)
	assert.Zero(t, res.Migrated)
	assert.Len(t, st.allTasks("orders"), 1)
}
