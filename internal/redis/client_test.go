package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	sets    map[string]map[string]bool
	ttls    map[string]time.Duration
	failAdd bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{sets: make(map[string]map[string]bool), ttls: make(map[string]time.Duration)}
}

func (f *fakeStore) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]bool)
	}
	for _, m := range members {
		f.sets[key][m.(string)] = true
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeStore) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.sets[key], m.(string))
	}
	if len(f.sets[key]) == 0 {
		delete(f.sets, key)
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeStore) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestPeersKey(t *testing.T) {
	assert.Equal(t, "room:R1:peers", PeersKey("R1"))
}

func TestMirrorAppliesUpdates(t *testing.T) {
	store := newFakeStore()
	m := newMirror(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.RoomJoined("R1", "a")
	m.RoomJoined("R1", "b")
	m.RoomLeft("R1", "a")

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		set := store.sets["room:R1:peers"]
		return len(set) == 1 && set["b"]
	}, time.Second, 10*time.Millisecond)

	store.mu.Lock()
	assert.Equal(t, peersTTL, store.ttls["room:R1:peers"])
	store.mu.Unlock()

	require.NoError(t, m.Close())
}

func TestMirrorSurvivesStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.failAdd = true
	m := newMirror(store, nil)

	err := m.apply(context.Background(), op{kind: opJoin, roomID: "R1", connID: "a"})
	assert.Error(t, err)

	// still accepts work after a failure
	assert.NoError(t, m.apply(context.Background(), op{kind: opLeave, roomID: "R1", connID: "a"}))
}

func TestMirrorQueueNeverBlocks(t *testing.T) {
	m := newMirror(newFakeStore(), nil)
	for i := 0; i < queueSize+10; i++ {
		m.RoomJoined("R1", "a")
	}
	assert.Len(t, m.ops, queueSize)
}

func TestMirrorFlushesQueueOnStop(t *testing.T) {
	store := newFakeStore()
	m := newMirror(store, nil)

	m.RoomJoined("R1", "a")
	m.RoomJoined("R1", "b")
	m.RoomLeft("R1", "a")
	m.RoomLeft("R1", "b")
	m.RoomJoined("R2", "c")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(ctx)

	assert.Empty(t, m.ops)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.NotContains(t, store.sets, "room:R1:peers")
	assert.True(t, store.sets["room:R2:peers"]["c"])
}
