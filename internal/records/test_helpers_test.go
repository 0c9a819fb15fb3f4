package records

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// fakeClock hands out a controllable wall-clock time in epoch milliseconds.
type fakeClock struct {
	millis atomic.Int64
}

func newFakeClock(startMillis int64) *fakeClock {
	clock := &fakeClock{}
	clock.millis.Store(startMillis)
	return clock
}

func (c *fakeClock) Now() time.Time {
	return time.UnixMilli(c.millis.Load()).UTC()
}

func (c *fakeClock) Set(millis int64) {
	c.millis.Store(millis)
}

type sequentialIDGenerator struct {
	next atomic.Int64
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	return fmt.Sprintf("change-%d", g.next.Add(1)), nil
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Note{}, &Folder{}, &Workspace{}, &ChangeLogEntry{}, &SyncState{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, clock *fakeClock, overrides ...func(*StoreConfig)) *Store {
	t.Helper()
	cfg := StoreConfig{
		Database:   newTestDatabase(t),
		Clock:      clock.Now,
		IDProvider: &sequentialIDGenerator{},
	}
	for _, override := range overrides {
		override(&cfg)
	}
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func mustNamespace(t *testing.T, value string) Namespace {
	t.Helper()
	namespace, err := NewNamespace(value)
	if err != nil {
		t.Fatalf("unexpected namespace error: %v", err)
	}
	return namespace
}

func stringPtr(value string) *string {
	return &value
}

func requireStoreErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error %v, got %v", target, err)
	}
}
