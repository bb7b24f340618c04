// Package storage is the persistence bridge between live rooms and the
// document store: it fetches and saves opaque binary snapshots keyed by
// note id.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrSnapshotNotFound indicates that no snapshot has ever been stored
	// for the document, as opposed to an empty-but-existing one.
	ErrSnapshotNotFound = errors.New("storage: snapshot not found")

	errMissingDatabase = errors.New("database handle is required")
	errEmptySnapshot   = errors.New("snapshot payload is required")
)

// StoreConfig bundles the dependencies of the snapshot store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists document snapshots. Saves are idempotent overwrites;
// concurrent saves for distinct note ids require no cross-document locking.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a Store with validated configuration.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Fetch returns the last stored binary state for a document, or
// ErrSnapshotNotFound when nothing has been stored yet.
func (s *Store) Fetch(ctx context.Context, noteID int64) ([]byte, error) {
	var record DocumentSnapshot
	err := s.db.WithContext(ctx).
		Where("note_id = ?", noteID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: note %d", ErrSnapshotNotFound, noteID)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: fetch note %d: %w", noteID, err)
	}

	state, err := base64.StdEncoding.DecodeString(record.SnapshotB64)
	if err != nil {
		return nil, fmt.Errorf("storage: decode snapshot for note %d: %w", noteID, err)
	}
	return state, nil
}

// Save durably persists the binary state for a document, overwriting any
// previous snapshot and refreshing the last-modified timestamp.
func (s *Store) Save(ctx context.Context, noteID int64, state []byte) error {
	if len(state) == 0 {
		return errEmptySnapshot
	}

	record := DocumentSnapshot{
		NoteID:           noteID,
		SnapshotB64:      base64.StdEncoding.EncodeToString(state),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "note_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"snapshot_b64", "updated_at_s"}),
		}).
		Create(&record).Error
	if err != nil {
		s.logger.Error("snapshot save failed",
			zap.Int64("note_id", noteID),
			zap.Int("bytes", len(state)),
			zap.Error(err))
		return fmt.Errorf("storage: save note %d: %w", noteID, err)
	}

	s.logger.Debug("snapshot saved",
		zap.Int64("note_id", noteID),
		zap.Int("bytes", len(state)))
	return nil
}
