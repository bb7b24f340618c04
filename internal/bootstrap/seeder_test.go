package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/gonotes/collabd/internal/crdt"
	"github.com/gonotes/collabd/internal/room"
	"github.com/gonotes/collabd/internal/storage"
)

type staticLiveness struct {
	live map[string]bool
}

func (s *staticLiveness) Live(id room.ID) bool {
	return s.live[id.String()]
}

func TestSeedStoresTemplateSnapshot(t *testing.T) {
	seeder, store := mustSeeder(t, &staticLiveness{})

	if err := seeder.Seed(context.Background(), "w2_n9"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	snapshot, err := store.Fetch(context.Background(), 9)
	if err != nil {
		t.Fatalf("fetch after seed failed: %v", err)
	}
	if len(snapshot) == 0 {
		t.Fatal("expected non-empty templated content")
	}

	document, err := crdt.NewUpdateSetEngine().LoadDocument(snapshot)
	if err != nil {
		t.Fatalf("expected stored snapshot to load as a document: %v", err)
	}
	if document.UpdateCount() != 1 {
		t.Fatalf("expected a single template update, got %d", document.UpdateCount())
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	seeder, store := mustSeeder(t, &staticLiveness{})

	if err := seeder.Seed(context.Background(), "w2_n9"); err != nil {
		t.Fatalf("first seed failed: %v", err)
	}
	first, err := store.Fetch(context.Background(), 9)
	if err != nil {
		t.Fatalf("fetch after first seed failed: %v", err)
	}

	if err := seeder.Seed(context.Background(), "w2_n9"); err != nil {
		t.Fatalf("second seed failed: %v", err)
	}
	second, err := store.Fetch(context.Background(), 9)
	if err != nil {
		t.Fatalf("fetch after second seed failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatal("expected repeated seeding to store byte-identical snapshots")
	}
}

func TestSeedRejectsMalformedIDBeforeStorage(t *testing.T) {
	seeder, store := mustSeeder(t, &staticLiveness{})

	if err := seeder.Seed(context.Background(), "note-9"); !errors.Is(err, room.ErrMalformedID) {
		t.Fatalf("expected ErrMalformedID, got %v", err)
	}
	if _, err := store.Fetch(context.Background(), 9); !errors.Is(err, storage.ErrSnapshotNotFound) {
		t.Fatalf("expected no snapshot to be stored, got %v", err)
	}
}

func TestSeedRefusesLiveRoom(t *testing.T) {
	liveness := &staticLiveness{live: map[string]bool{"w2_n9": true}}
	seeder, store := mustSeeder(t, liveness)

	if err := seeder.Seed(context.Background(), "w2_n9"); !errors.Is(err, ErrRoomActive) {
		t.Fatalf("expected ErrRoomActive, got %v", err)
	}
	if _, err := store.Fetch(context.Background(), 9); !errors.Is(err, storage.ErrSnapshotNotFound) {
		t.Fatalf("expected no snapshot to be stored for live room, got %v", err)
	}
}

func TestSnapshotIsDeterministic(t *testing.T) {
	seeder, _ := mustSeeder(t, &staticLiveness{})

	first, err := seeder.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	second, err := seeder.Snapshot()
	if err != nil {
		t.Fatalf("second snapshot failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("expected deterministic template snapshots")
	}
}

func mustSeeder(t *testing.T, liveness LiveChecker) (*Seeder, *storage.Store) {
	t.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to access database pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.AutoMigrate(&storage.DocumentSnapshot{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := storage.NewStore(storage.StoreConfig{Database: database})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	seeder, err := NewSeeder(SeederConfig{
		Store:  store,
		Engine: crdt.NewUpdateSetEngine(),
		Rooms:  liveness,
	})
	if err != nil {
		t.Fatalf("failed to create seeder: %v", err)
	}
	return seeder, store
}
