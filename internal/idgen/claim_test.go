package idgen

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memClaims is a shared id table, standing in for the etcd keys.
type memClaims struct {
	mu    sync.Mutex
	taken map[int64]bool
	err   error
}

func (m *memClaims) TryClaim(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.taken[id] {
		return false, nil
	}
	m.taken[id] = true
	return true, nil
}

func TestClaimNodeIDDistinctPerServer(t *testing.T) {
	claims := &memClaims{taken: map[int64]bool{}}
	ctx := context.Background()

	a, err := ClaimNodeID(ctx, claims)
	require.NoError(t, err)
	b, err := ClaimNodeID(ctx, claims)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	assert.LessOrEqual(t, a, MaxNodeID)
	assert.LessOrEqual(t, b, MaxNodeID)

	// two servers interleaving ids never collide
	ga, err := NewSnowflakeGenerator(a)
	require.NoError(t, err)
	gb, err := NewSnowflakeGenerator(b)
	require.NoError(t, err)
	seen := make(map[string]struct{})
	for i := 0; i < 2000; i++ {
		for _, g := range []*SnowflakeGenerator{ga, gb} {
			id, err := g.NextID(ctx, "orders")
			require.NoError(t, err)
			_, dup := seen[id]
			require.False(t, dup, "duplicate id %s", id)
			seen[id] = struct{}{}
		}
	}
}

func TestClaimNodeIDExhausted(t *testing.T) {
	claims := &memClaims{taken: map[int64]bool{}}
	for id := int64(0); id <= MaxNodeID; id++ {
		claims.taken[id] = true
	}
	_, err := ClaimNodeID(context.Background(), claims)
	assert.ErrorIs(t, err, ErrNoFreeNodeID)

	delete(claims.taken, 42)
	id, err := ClaimNodeID(context.Background(), claims)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestClaimNodeIDStoreError(t *testing.T) {
	claims := &memClaims{taken: map[int64]bool{}, err: errors.New("etcd unavailable")}
	_, err := ClaimNodeID(context.Background(), claims)
	assert.Error(t, err)
}
