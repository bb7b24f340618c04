// Package bootstrap seeds brand-new documents with deterministic default
// content, writing directly through the persistence bridge without going
// through a live room.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gonotes/collabd/internal/crdt"
	"github.com/gonotes/collabd/internal/room"
	"github.com/gonotes/collabd/internal/storage"
)

var (
	// ErrRoomActive indicates that the room has a live in-memory instance;
	// a direct write now could race that room's flush.
	ErrRoomActive = errors.New("bootstrap: room is active")

	errMissingStore        = errors.New("snapshot store is required")
	errMissingEngine       = errors.New("merge engine is required")
	errMissingLivenessFunc = errors.New("liveness check is required")
)

// LiveChecker reports whether a live room instance exists for an id. The
// room registry satisfies this.
type LiveChecker interface {
	Live(id room.ID) bool
}

// SeederConfig bundles the seeder dependencies.
type SeederConfig struct {
	Store  *storage.Store
	Engine crdt.Engine
	Rooms  LiveChecker
	Logger *zap.Logger
}

// Seeder writes the templated default document for brand-new notes.
// Seeding the same id twice overwrites with byte-identical content.
type Seeder struct {
	store  *storage.Store
	engine crdt.Engine
	rooms  LiveChecker
	logger *zap.Logger
}

// NewSeeder constructs a Seeder with validated configuration.
func NewSeeder(cfg SeederConfig) (*Seeder, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("bootstrap: %w", errMissingStore)
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("bootstrap: %w", errMissingEngine)
	}
	if cfg.Rooms == nil {
		return nil, fmt.Errorf("bootstrap: %w", errMissingLivenessFunc)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{
		store:  cfg.Store,
		engine: cfg.Engine,
		rooms:  cfg.Rooms,
		logger: logger,
	}, nil
}

// Snapshot deterministically constructs the binary snapshot of the
// template document, independent of any live room.
func (s *Seeder) Snapshot() ([]byte, error) {
	update, err := encodeIntroUpdate()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: encode template: %w", err)
	}
	document := s.engine.NewDocument()
	if _, _, err := document.ApplyUpdate(update); err != nil {
		return nil, fmt.Errorf("bootstrap: build template document: %w", err)
	}
	return document.Encode(), nil
}

// Seed validates the raw room id and stores the template snapshot for it.
// Malformed ids fail with room.ErrMalformedID before any storage call, and
// ids with a live room are refused with ErrRoomActive.
func (s *Seeder) Seed(ctx context.Context, rawRoomID string) error {
	roomID, err := room.ParseID(rawRoomID)
	if err != nil {
		return err
	}
	if s.rooms.Live(roomID) {
		return fmt.Errorf("%w: %s", ErrRoomActive, roomID.String())
	}

	snapshot, err := s.Snapshot()
	if err != nil {
		return err
	}
	if err := s.store.Save(ctx, roomID.NoteID(), snapshot); err != nil {
		return err
	}

	s.logger.Info("document initialized",
		zap.String("room_id", roomID.String()),
		zap.Int("bytes", len(snapshot)))
	return nil
}
