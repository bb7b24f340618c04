package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gonotes/collabd/internal/crdt"
	"github.com/gonotes/collabd/internal/room"
	"github.com/gonotes/collabd/internal/storage"
)

const (
	roomJoinBuffer      = 16
	roomLeaveBuffer     = 16
	roomUpdateBuffer    = 256
	roomAwarenessBuffer = 64
	storeWriteTimeout   = 10 * time.Second
)

var (
	// ErrRoomClosed indicates the room has been evicted or shut down.
	ErrRoomClosed = errors.New("collab: room closed")
	// ErrRoomBusy indicates the room's inbound queue is full.
	ErrRoomBusy = errors.New("collab: room busy")
)

type joinRequest struct {
	sess *Session
	// ready closes once the run loop has attached the session.
	ready chan struct{}
}

type inboundUpdate struct {
	origin  *Session
	payload []byte
}

type inboundAwareness struct {
	origin *Session
	state  AwarenessState
}

// Room owns the single live document instance for one room id. Every
// merge, join, leave, and awareness change is serialized through its run
// loop, so the document is never mutated concurrently.
type Room struct {
	id       room.ID
	registry *Registry
	store    *storage.Store
	engine   crdt.Engine
	logger   *zap.Logger

	quietPeriod time.Duration
	maxInterval time.Duration
	idleDelay   time.Duration

	// Owned by the run loop.
	doc           crdt.Document
	clients       map[*Session]struct{}
	awareness     map[string]AwarenessState
	dirty         bool
	flushInFlight bool
	deadlineArmed bool

	joinCh      chan joinRequest
	leaveCh     chan *Session
	updateCh    chan inboundUpdate
	awarenessCh chan inboundAwareness
	flushDoneCh chan error
	closeOnce   sync.Once
	closeCh     chan struct{}
	done        chan struct{}
}

func newRoom(registry *Registry, id room.ID) *Room {
	return &Room{
		id:          id,
		registry:    registry,
		store:       registry.store,
		engine:      registry.engine,
		logger:      registry.logger.With(zap.String("room_id", id.String())),
		quietPeriod: registry.flushQuietPeriod,
		maxInterval: registry.flushMaxInterval,
		idleDelay:   registry.idleEvictionDelay,
		clients:     make(map[*Session]struct{}),
		awareness:   make(map[string]AwarenessState),
		joinCh:      make(chan joinRequest, roomJoinBuffer),
		leaveCh:     make(chan *Session, roomLeaveBuffer),
		updateCh:    make(chan inboundUpdate, roomUpdateBuffer),
		awarenessCh: make(chan inboundAwareness, roomAwarenessBuffer),
		flushDoneCh: make(chan error, 1),
		closeCh:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// ID returns the room identifier.
func (rm *Room) ID() room.ID {
	return rm.id
}

// SubmitUpdate queues a document update from the session. Updates from one
// session are applied in submission order.
func (rm *Room) SubmitUpdate(origin *Session, payload []byte) error {
	select {
	case <-rm.done:
		return ErrRoomClosed
	default:
	}
	select {
	case rm.updateCh <- inboundUpdate{origin: origin, payload: payload}:
		return nil
	default:
		return ErrRoomBusy
	}
}

// SubmitAwareness queues a presence update from the session.
func (rm *Room) SubmitAwareness(origin *Session, state AwarenessState) error {
	select {
	case <-rm.done:
		return ErrRoomClosed
	default:
	}
	select {
	case rm.awarenessCh <- inboundAwareness{origin: origin, state: state}:
		return nil
	default:
		return ErrRoomBusy
	}
}

// Leave detaches the session from the room. The run loop closes the
// session's frame stream once the leave is processed.
func (rm *Room) Leave(sess *Session) {
	select {
	case rm.leaveCh <- sess:
	case <-rm.done:
	}
}

// run is the room's single mutator goroutine.
func (rm *Room) run() {
	defer close(rm.done)

	rm.load()

	quiet := newStoppedTimer()
	deadline := newStoppedTimer()
	idle := newStoppedTimer()
	defer stopTimer(quiet)
	defer stopTimer(deadline)
	defer stopTimer(idle)

	for {
		select {
		case request := <-rm.joinCh:
			rm.handleJoin(request, idle)
		case sess := <-rm.leaveCh:
			rm.handleLeave(sess, idle)
		case update := <-rm.updateCh:
			rm.handleUpdate(update, quiet, deadline)
		case presence := <-rm.awarenessCh:
			rm.handleAwareness(presence)
		case <-quiet.C:
			rm.startFlush(quiet, deadline)
		case <-deadline.C:
			rm.deadlineArmed = false
			rm.startFlush(quiet, deadline)
		case err := <-rm.flushDoneCh:
			rm.finishFlush(err, quiet)
		case <-idle.C:
			if rm.evict() {
				return
			}
			resetTimer(idle, rm.idleDelay)
		case <-rm.closeCh:
			rm.shutdown()
			return
		}
	}
}

// load pulls the durable snapshot into a live document. A missing snapshot
// and a failed fetch both start an empty document; only the log output
// tells them apart.
func (rm *Room) load() {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()

	snapshot, err := rm.store.Fetch(ctx, rm.id.NoteID())
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		rm.logger.Info("no existing content, starting fresh")
		rm.doc = rm.engine.NewDocument()
		return
	}
	if err != nil {
		rm.logger.Error("snapshot fetch failed, starting fresh", zap.Error(err))
		rm.doc = rm.engine.NewDocument()
		return
	}

	document, err := rm.engine.LoadDocument(snapshot)
	if err != nil {
		rm.logger.Error("snapshot decode failed, starting fresh", zap.Error(err))
		rm.doc = rm.engine.NewDocument()
		return
	}
	rm.doc = document
	rm.logger.Info("document loaded", zap.Int("bytes", len(snapshot)))
}

func (rm *Room) handleJoin(request joinRequest, idle *time.Timer) {
	sess := request.sess
	stopTimer(idle)
	rm.clients[sess] = struct{}{}
	close(request.ready)

	sess.deliver(Frame{
		Type:    FrameSync,
		RoomID:  rm.id.String(),
		Payload: rm.doc.Encode(),
	})
	peers := make(map[string]AwarenessState, len(rm.awareness))
	for connectionID, state := range rm.awareness {
		peers[connectionID] = state
	}
	sess.deliver(Frame{
		Type:   FrameAwarenessState,
		RoomID: rm.id.String(),
		Peers:  peers,
	})

	rm.logger.Info("client joined",
		zap.String("connection_id", sess.ID()),
		zap.Int64("user_id", sess.UserID()),
		zap.Int("subscribers", len(rm.clients)))
}

func (rm *Room) handleLeave(sess *Session, idle *time.Timer) {
	if _, attached := rm.clients[sess]; !attached {
		return
	}
	delete(rm.clients, sess)
	sess.close()

	if _, present := rm.awareness[sess.ID()]; present {
		delete(rm.awareness, sess.ID())
		rm.broadcast(Frame{
			Type:         FrameLeave,
			RoomID:       rm.id.String(),
			ConnectionID: sess.ID(),
		}, nil)
	}

	rm.logger.Info("client left",
		zap.String("connection_id", sess.ID()),
		zap.Int("subscribers", len(rm.clients)))

	if len(rm.clients) == 0 {
		resetTimer(idle, rm.idleDelay)
	}
}

func (rm *Room) handleUpdate(update inboundUpdate, quiet *time.Timer, deadline *time.Timer) {
	if _, attached := rm.clients[update.origin]; !attached {
		return
	}

	diff, applied, err := rm.doc.ApplyUpdate(update.payload)
	if err != nil {
		rm.logger.Warn("update rejected",
			zap.String("connection_id", update.origin.ID()),
			zap.Error(err))
		return
	}
	if !applied {
		return
	}

	rm.broadcast(Frame{
		Type:         FrameUpdate,
		RoomID:       rm.id.String(),
		ConnectionID: update.origin.ID(),
		Payload:      diff,
	}, update.origin)

	rm.dirty = true
	resetTimer(quiet, rm.quietPeriod)
	if !rm.deadlineArmed && !rm.flushInFlight {
		resetTimer(deadline, rm.maxInterval)
		rm.deadlineArmed = true
	}
}

func (rm *Room) handleAwareness(presence inboundAwareness) {
	if _, attached := rm.clients[presence.origin]; !attached {
		return
	}
	rm.awareness[presence.origin.ID()] = presence.state
	state := presence.state
	rm.broadcast(Frame{
		Type:         FrameAwareness,
		RoomID:       rm.id.String(),
		ConnectionID: presence.origin.ID(),
		Awareness:    &state,
	}, presence.origin)
}

// broadcast delivers a frame to every subscriber except the originator.
func (rm *Room) broadcast(frame Frame, origin *Session) {
	for sess := range rm.clients {
		if sess == origin {
			continue
		}
		sess.deliver(frame)
	}
}

// startFlush kicks off an asynchronous store of the current state. Merges
// accepted while the write is in flight mark the room dirty again for the
// next cycle.
func (rm *Room) startFlush(quiet *time.Timer, deadline *time.Timer) {
	stopTimer(quiet)
	if rm.deadlineArmed {
		stopTimer(deadline)
		rm.deadlineArmed = false
	}
	if !rm.dirty || rm.flushInFlight {
		return
	}

	snapshot := rm.doc.Encode()
	rm.dirty = false
	rm.flushInFlight = true
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
		defer cancel()
		rm.flushDoneCh <- rm.store.Save(ctx, rm.id.NoteID(), snapshot)
	}()
}

func (rm *Room) finishFlush(err error, quiet *time.Timer) {
	rm.flushInFlight = false
	if err != nil {
		rm.dirty = true
		rm.logger.Error("flush failed, will retry", zap.Error(err))
	}
	if rm.dirty {
		resetTimer(quiet, rm.quietPeriod)
	}
}

// evict flushes and removes the room after the idle window. It reports
// false when the room must stay alive: a client is attached, a join is
// pending, or the final flush failed and needs another attempt.
func (rm *Room) evict() bool {
	if len(rm.clients) > 0 {
		return false
	}
	if rm.flushInFlight {
		rm.flushInFlight = false
		if err := <-rm.flushDoneCh; err != nil {
			rm.dirty = true
		}
	}
	if rm.dirty {
		if err := rm.finalFlush(); err != nil {
			rm.logger.Error("eviction flush failed, keeping room alive", zap.Error(err))
			return false
		}
	}
	if !rm.registry.retire(rm) {
		return false
	}
	rm.logger.Info("room evicted")
	return true
}

// shutdown performs the process-exit path: absorb queued work, flush once,
// and release every attached and pending session.
func (rm *Room) shutdown() {
	draining := true
	for draining {
		select {
		case update := <-rm.updateCh:
			if _, applied, err := rm.doc.ApplyUpdate(update.payload); err == nil && applied {
				rm.dirty = true
			}
		default:
			draining = false
		}
	}
	if rm.flushInFlight {
		rm.flushInFlight = false
		if err := <-rm.flushDoneCh; err != nil {
			rm.dirty = true
		}
	}
	if rm.dirty {
		if err := rm.finalFlush(); err != nil {
			rm.logger.Error("shutdown flush failed", zap.Error(err))
		}
	}

	for sess := range rm.clients {
		delete(rm.clients, sess)
		sess.close()
	}
	draining = true
	for draining {
		select {
		case request := <-rm.joinCh:
			request.sess.close()
			close(request.ready)
		default:
			draining = false
		}
	}
	rm.registry.retire(rm)
}

func (rm *Room) finalFlush() error {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := rm.store.Save(ctx, rm.id.NoteID(), rm.doc.Encode()); err != nil {
		return err
	}
	rm.dirty = false
	return nil
}

// requestClose asks the run loop to shut the room down. Idempotent.
func (rm *Room) requestClose() {
	rm.closeOnce.Do(func() {
		close(rm.closeCh)
	})
}

func newStoppedTimer() *time.Timer {
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	return timer
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func resetTimer(timer *time.Timer, duration time.Duration) {
	stopTimer(timer)
	timer.Reset(duration)
}
