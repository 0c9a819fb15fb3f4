package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/inkwell-notes/inkwell/internal/records"
)

func openMigratedDatabase(t *testing.T) *gorm.DB {
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
	if err := Migrate(db, nil); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newSearchStore(t *testing.T, db *gorm.DB) *records.Store {
	t.Helper()
	store, err := records.NewStore(records.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: records.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openMigratedDatabase(t)
	if err := Migrate(db, nil); err != nil {
		t.Fatalf("re-running migrations failed: %v", err)
	}

	var applied int64
	if err := db.Raw("SELECT count(*) FROM db_migrations").Scan(&applied).Error; err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", applied)
	}
}

func TestSearchReflectsLatestNoteState(t *testing.T) {
	db := openMigratedDatabase(t)
	store := newSearchStore(t, db)
	namespace := records.LocalNamespace
	validNamespace, err := records.NewNamespace(namespace)
	if err != nil {
		t.Fatalf("unexpected namespace error: %v", err)
	}
	ctx := context.Background()

	if _, err := store.UpsertNote(ctx, validNamespace, records.Note{
		ID: "n-1", Title: "Grocery list", Content: "apples and oranges", WorkspaceID: "ws",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := store.SearchNotes(ctx, validNamespace, "apple")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ID != "n-1" {
		t.Fatalf("expected prefix match on content, got %+v", results)
	}

	// The index must follow the update, not keep the stale content.
	if _, err := store.UpsertNote(ctx, validNamespace, records.Note{
		ID: "n-1", Title: "Grocery list", Content: "bananas only", WorkspaceID: "ws",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results, err = store.SearchNotes(ctx, validNamespace, "apple")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("stale content must not match, got %+v", results)
	}
	results, err = store.SearchNotes(ctx, validNamespace, "banana")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected updated content to match, got %+v", results)
	}
}

func TestSearchExcludesTombstonedNotes(t *testing.T) {
	db := openMigratedDatabase(t)
	store := newSearchStore(t, db)
	namespace, err := records.NewNamespace(records.LocalNamespace)
	if err != nil {
		t.Fatalf("unexpected namespace error: %v", err)
	}
	ctx := context.Background()

	if _, err := store.UpsertNote(ctx, namespace, records.Note{
		ID: "n-1", Title: "Secret plans", Content: "world domination", WorkspaceID: "ws",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.DeleteNote(ctx, namespace, "n-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := store.SearchNotes(ctx, namespace, "domination")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("tombstoned note must never surface in search, got %+v", results)
	}
}

func TestSearchToleratesQuotesInQuery(t *testing.T) {
	db := openMigratedDatabase(t)
	store := newSearchStore(t, db)
	namespace, err := records.NewNamespace(records.LocalNamespace)
	if err != nil {
		t.Fatalf("unexpected namespace error: %v", err)
	}
	ctx := context.Background()

	if _, err := store.UpsertNote(ctx, namespace, records.Note{
		ID: "n-1", Title: "Quotes", Content: "nothing here", WorkspaceID: "ws",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := store.SearchNotes(ctx, namespace, `broken " query`); err != nil {
		t.Fatalf("quoted input must not produce malformed FTS syntax: %v", err)
	}
}

func TestSearchIsNamespaceScoped(t *testing.T) {
	db := openMigratedDatabase(t)
	store := newSearchStore(t, db)
	ctx := context.Background()

	tenantA, err := records.NewNamespace("tenant-a")
	if err != nil {
		t.Fatalf("unexpected namespace error: %v", err)
	}
	tenantB, err := records.NewNamespace("tenant-b")
	if err != nil {
		t.Fatalf("unexpected namespace error: %v", err)
	}

	if _, err := store.UpsertNote(ctx, tenantA, records.Note{
		ID: "n-1", Title: "private", Content: "tenant a only", WorkspaceID: "ws",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := store.SearchNotes(ctx, tenantB, "tenant")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("search must not cross namespaces, got %+v", results)
	}
}
