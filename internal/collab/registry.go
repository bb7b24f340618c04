// Package collab is the heart of the service: it tracks one live document
// instance per active room, serializes concurrent updates through a
// per-room run loop, relays awareness state between co-present clients,
// and drives debounced persistence and idle eviction.
package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gonotes/collabd/internal/crdt"
	"github.com/gonotes/collabd/internal/room"
	"github.com/gonotes/collabd/internal/storage"
)

const (
	defaultFlushQuietPeriod  = 2 * time.Second
	defaultFlushMaxInterval  = 10 * time.Second
	defaultIdleEvictionDelay = 30 * time.Second
)

var (
	// ErrRegistryClosed indicates the registry is shutting down and no
	// longer accepts connections.
	ErrRegistryClosed = errors.New("collab: registry closed")

	errMissingStore  = errors.New("snapshot store is required")
	errMissingEngine = errors.New("merge engine is required")
)

// RegistryConfig bundles the registry dependencies and tuning knobs.
type RegistryConfig struct {
	Store  *storage.Store
	Engine crdt.Engine
	// FlushQuietPeriod is how long a room waits after the last accepted
	// update before persisting.
	FlushQuietPeriod time.Duration
	// FlushMaxInterval bounds how long persistence can be deferred under
	// sustained editing.
	FlushMaxInterval time.Duration
	// IdleEvictionDelay is how long an empty room stays in memory waiting
	// for a reconnect before it is flushed and discarded.
	IdleEvictionDelay time.Duration
	Logger            *zap.Logger
}

// Registry owns the table of live rooms. Different rooms proceed fully in
// parallel; all mutation of one room funnels through that room's run loop.
type Registry struct {
	store  *storage.Store
	engine crdt.Engine
	logger *zap.Logger

	flushQuietPeriod  time.Duration
	flushMaxInterval  time.Duration
	idleEvictionDelay time.Duration

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

// NewRegistry constructs a Registry with validated configuration.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("collab: %w", errMissingStore)
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("collab: %w", errMissingEngine)
	}
	quietPeriod := cfg.FlushQuietPeriod
	if quietPeriod <= 0 {
		quietPeriod = defaultFlushQuietPeriod
	}
	maxInterval := cfg.FlushMaxInterval
	if maxInterval <= 0 {
		maxInterval = defaultFlushMaxInterval
	}
	idleDelay := cfg.IdleEvictionDelay
	if idleDelay <= 0 {
		idleDelay = defaultIdleEvictionDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:             cfg.Store,
		engine:            cfg.Engine,
		logger:            logger,
		flushQuietPeriod:  quietPeriod,
		flushMaxInterval:  maxInterval,
		idleEvictionDelay: idleDelay,
		rooms:             make(map[string]*Room),
	}, nil
}

// Attach connects an authorized session to the room, creating the live
// room on first access. The returned Room is the handle the transport uses
// to submit updates, awareness changes, and the eventual leave.
func (r *Registry) Attach(id room.ID, sess *Session) (*Room, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		key := id.String()
		rm, exists := r.rooms[key]
		if !exists {
			rm = newRoom(r, id)
			r.rooms[key] = rm
			go rm.run()
		}
		// The join must land while the room is still the registered
		// instance; eviction checks for pending joins under this lock.
		request := joinRequest{sess: sess, ready: make(chan struct{})}
		enqueued := false
		select {
		case rm.joinCh <- request:
			enqueued = true
		default:
		}
		r.mu.Unlock()
		if enqueued {
			// Wait until the run loop has attached the session so that
			// updates submitted immediately afterwards are never processed
			// ahead of the join.
			<-request.ready
			return rm, nil
		}
		// Join queue momentarily full; retry.
		time.Sleep(time.Millisecond)
	}
}

// Live reports whether a live room instance currently exists for the id.
// The bootstrapper uses this to refuse direct writes that would race an
// active session's flush.
func (r *Registry) Live(id room.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.rooms[id.String()]
	return exists
}

// retire removes the room from the table if it is still the registered
// instance and no join slipped in; joins are enqueued under the registry
// lock, so this check is race-free.
func (r *Registry) retire(rm *Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := rm.id.String()
	if r.rooms[key] != rm {
		return false
	}
	if len(rm.joinCh) > 0 {
		return false
	}
	delete(r.rooms, key)
	return true
}

// Shutdown flushes every dirty room and releases all sessions, bounded by
// the context deadline.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	active := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		active = append(active, rm)
	}
	r.mu.Unlock()

	for _, rm := range active {
		rm.requestClose()
	}
	for _, rm := range active {
		select {
		case <-rm.done:
		case <-ctx.Done():
			r.logger.Warn("shutdown grace period expired with rooms unflushed",
				zap.String("room_id", rm.id.String()))
			return ctx.Err()
		}
	}
	return nil
}
