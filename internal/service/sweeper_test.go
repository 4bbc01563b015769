package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"retryflow/internal/model"
	"retryflow/pkg/constraints"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	locks, unlocks atomic.Int32
	held           atomic.Bool // another server holds the lock
}

func (l *fakeLocker) Lock(ctx context.Context) error {
	if l.held.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	l.locks.Add(1)
	return nil
}

func (l *fakeLocker) Unlock(context.Context) error {
	l.unlocks.Add(1)
	return nil
}

func TestSweeperRunOnce(t *testing.T) {
	st := newMemStore()
	st.addGroup(model.GroupConfig{GroupName: "orders", TotalPartition: 32})
	st.addGroup(model.GroupConfig{GroupName: "billing", TotalPartition: 4})
	seedTask(t, st, "orders", "X", "u-1", constraints.RetryMaxCount, 26)
	seedTask(t, st, "billing", "Y", "u-2", constraints.RetryFinish, 1)

	ctx := context.Background()
	require.NoError(t, st.Nodes().Upsert(ctx, &model.ServerNode{GroupName: "orders", HostID: "gone", HostIP: "10.0.0.1", ExpireAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, st.Nodes().Upsert(ctx, &model.ServerNode{GroupName: "orders", HostID: "live", HostIP: "10.0.0.2", ExpireAt: time.Now().Add(time.Minute)}))

	groups := NewConsumerGroups()
	s := NewSweeper(st, newDeadLetters(st), groups, &fakeLocker{}, SweeperConfig{NodeRetention: 24 * time.Hour})
	s.RunOnce(ctx)

	assert.Empty(t, st.allTasks("orders"))
	assert.Empty(t, st.allTasks("billing"))
	assert.Len(t, st.deadLetters("orders"), 1)
	assert.Len(t, st.nodeRows(), 1)
	assert.Equal(t, []string{"billing", "orders"}, groups.List())
}

func TestSweeperRunHoldsLock(t *testing.T) {
	st := newMemStore()
	st.addGroup(model.GroupConfig{GroupName: "orders"})
	seedTask(t, st, "orders", "X", "u-1", constraints.RetryMaxCount, 26)

	lock := &fakeLocker{}
	s := NewSweeper(st, newDeadLetters(st), NewConsumerGroups(), lock, SweeperConfig{
		Interval: 10 * time.Millisecond, LockWait: 10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return len(st.deadLetters("orders")) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return lock.unlocks.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestSweeperSkipsWhenLockHeld(t *testing.T) {
	st := newMemStore()
	st.addGroup(model.GroupConfig{GroupName: "orders"})
	seedTask(t, st, "orders", "X", "u-1", constraints.RetryMaxCount, 26)

	lock := &fakeLocker{}
	lock.held.Store(true)
	s := NewSweeper(st, newDeadLetters(st), NewConsumerGroups(), lock, SweeperConfig{
		Interval: 5 * time.Millisecond, LockWait: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Empty(t, st.deadLetters("orders"))
	assert.Zero(t, lock.unlocks.Load())
}

func TestSweeperSweepGroupTakesLock(t *testing.T) {
	st := newMemStore()
	st.addGroup(model.GroupConfig{GroupName: "orders"})
	seedTask(t, st, "orders", "X", "u-1", constraints.RetryMaxCount, 26)

	lock := &fakeLocker{}
	s := NewSweeper(st, newDeadLetters(st), NewConsumerGroups(), lock, SweeperConfig{LockWait: 10 * time.Millisecond})

	res, err := s.Sweep(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Migrated)
	assert.Equal(t, int32(1), lock.locks.Load())
	assert.Equal(t, int32(1), lock.unlocks.Load())

	_, err = s.Sweep(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestSweeperSweepGroupBusy(t *testing.T) {
	st := newMemStore()
	st.addGroup(model.GroupConfig{GroupName: "orders"})
	seedTask(t, st, "orders", "X", "u-1", constraints.RetryMaxCount, 26)

	lock := &fakeLocker{}
	lock.held.Store(true)
	s := NewSweeper(st, newDeadLetters(st), NewConsumerGroups(), lock, SweeperConfig{LockWait: 10 * time.Millisecond})

	_, err := s.Sweep(context.Background(), "orders")
	assert.ErrorIs(t, err, ErrSweepBusy)
	assert.Empty(t, st.deadLetters("orders"))

	// a local sweep in flight blocks the admin sweep before etcd is asked
	lock.held.Store(false)
	s.mu.Lock()
	_, err = s.Sweep(context.Background(), "orders")
	s.mu.Unlock()
	assert.ErrorIs(t, err, ErrSweepBusy)
	assert.Zero(t, lock.locks.Load())
}
