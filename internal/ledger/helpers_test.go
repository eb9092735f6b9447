package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/device-ledger/internal/infrastructure/database"
	_ "github.com/nerrad567/device-ledger/migrations" // registers ledger migrations
)

// storeFactory builds an empty store bound to t's lifetime.
type storeFactory struct {
	name string
	new  func(t *testing.T) Store
}

var storeFactories = []storeFactory{
	{"memory", func(*testing.T) Store { return NewMemoryStore() }},
	{"sqlite", func(t *testing.T) Store { return newSQLiteStore(t) }},
}

// newSQLiteStore opens a migrated database file and wraps it in a SQLiteStore.
func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return NewSQLiteStore(openMigratedDB(t).DB)
}

func openMigratedDB(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := database.Open(ctx, database.Config{Path: path, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

// seedUnclaimed writes a device with no owner, a state registration can
// never produce.
func seedUnclaimed(t *testing.T, store Store, id Principal) {
	t.Helper()

	switch s := store.(type) {
	case *MemoryStore:
		s.mu.Lock()
		s.devices[id] = Device{ID: id, Owner: Unclaimed()}
		s.mu.Unlock()
	case *SQLiteStore:
		_, err := s.db.ExecContext(context.Background(),
			"INSERT INTO devices (id, state, owner, registered_at) VALUES (?, 0, NULL, ?)",
			string(id), time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			t.Fatalf("seeding unclaimed device: %v", err)
		}
	default:
		t.Fatalf("seedUnclaimed: unsupported store %T", store)
	}
}

// recordingSink collects events in delivery order.
type recordingSink struct {
	name string
	mu   sync.Mutex
	got  []StateChange
	err  error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) PublishStateChange(_ context.Context, ev StateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
	return s.err
}

func (s *recordingSink) events() []StateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StateChange(nil), s.got...)
}

// newTestRegistry builds a registry with admin "deployer" and a recording sink.
func newTestRegistry(t *testing.T, store Store) (*Registry, *recordingSink) {
	t.Helper()

	reg, err := NewRegistry(context.Background(), store, "deployer")
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	sink := &recordingSink{name: "recorder"}
	reg.AddSink(sink)
	return reg, sink
}
