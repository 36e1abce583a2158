// Package redis mirrors room occupancy into Redis so that other processes
// can observe it. The in-memory registry stays authoritative; mirror writes
// are best effort.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mossy-p/watchparty-signaling/config"
	"github.com/mossy-p/watchparty-signaling/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	peersTTL  = 24 * time.Hour
	opTimeout = 2 * time.Second

	// drainTimeout bounds how long Run keeps flushing after ctx is done.
	drainTimeout = 5 * time.Second
	queueSize = 1024
)

var log = logger.NewNamed("redis")

// setStore is the subset of the Redis client used by the mirror.
type setStore interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

type opKind int

const (
	opJoin opKind = iota
	opLeave
)

type op struct {
	kind   opKind
	roomID string
	connID string
}

// Mirror writes membership changes to `room:<id>:peers` sets.
type Mirror struct {
	store  setStore
	closer func() error
	ops    chan op
}

// Connect initializes the Redis client and checks it with a ping.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newMirror(client, client.Close), nil
}

func newMirror(store setStore, closer func() error) *Mirror {
	return &Mirror{
		store:  store,
		closer: closer,
		ops:    make(chan op, queueSize),
	}
}

// PeersKey returns the set key holding a room's connection ids.
func PeersKey(roomID string) string {
	return "room:" + roomID + ":peers"
}

// RoomJoined queues a membership addition. It never blocks.
func (m *Mirror) RoomJoined(roomID, connID string) {
	m.enqueue(op{kind: opJoin, roomID: roomID, connID: connID})
}

// RoomLeft queues a membership removal. It never blocks.
func (m *Mirror) RoomLeft(roomID, connID string) {
	m.enqueue(op{kind: opLeave, roomID: roomID, connID: connID})
}

func (m *Mirror) enqueue(o op) {
	select {
	case m.ops <- o:
	default:
		log.Warn("presence queue full, dropping update", zap.String("roomId", o.roomID))
	}
}

// Run applies queued updates until ctx is cancelled, then flushes whatever
// is still queued before returning.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case o := <-m.ops:
			m.applyLogged(ctx, o)
		}
	}
}

func (m *Mirror) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case o := <-m.ops:
			m.applyLogged(ctx, o)
		default:
			return
		}
		if ctx.Err() != nil {
			log.Warn("presence drain timed out", zap.Int("dropped", len(m.ops)))
			return
		}
	}
}

func (m *Mirror) applyLogged(ctx context.Context, o op) {
	if err := m.apply(ctx, o); err != nil {
		log.Warn("presence update failed", zap.String("roomId", o.roomID), zap.Error(err))
	}
}

func (m *Mirror) apply(ctx context.Context, o op) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := PeersKey(o.roomID)
	switch o.kind {
	case opJoin:
		if err := m.store.SAdd(ctx, key, o.connID).Err(); err != nil {
			return fmt.Errorf("sadd %s: %w", key, err)
		}
		if err := m.store.Expire(ctx, key, peersTTL).Err(); err != nil {
			return fmt.Errorf("expire %s: %w", key, err)
		}
	case opLeave:
		if err := m.store.SRem(ctx, key, o.connID).Err(); err != nil {
			return fmt.Errorf("srem %s: %w", key, err)
		}
	}
	return nil
}

// Close closes the Redis connection. Updates still queued are lost.
func (m *Mirror) Close() error {
	if m.closer != nil {
		return m.closer()
	}
	return nil
}
