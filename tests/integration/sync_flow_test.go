package integration

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/inkwell-notes/inkwell/internal/database"
	"github.com/inkwell-notes/inkwell/internal/exchange"
	"github.com/inkwell-notes/inkwell/internal/records"
	"github.com/inkwell-notes/inkwell/internal/server"
)

const sharedSyncKey = "shared-integration-key"

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

func newStore(t *testing.T, name string, clock *fakeClock) *records.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s-%s?mode=memory&cache=shared", t.Name(), name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db, nil); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := records.NewStore(records.StoreConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: records.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

type syncFixture struct {
	clock       *fakeClock
	serverStore *records.Store
	clientA     *exchange.Client
	clientB     *exchange.Client
	storeA      *records.Store
	storeB      *records.Store
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := newFakeClock(1000)
	serverStore := newStore(t, "server", clock)

	service, err := exchange.NewService(exchange.ServiceConfig{Store: serverStore, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build exchange service: %v", err)
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{Exchange: service, SyncKey: sharedSyncKey})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)

	storeA := newStore(t, "client-a", clock)
	storeB := newStore(t, "client-b", clock)

	clientA, err := exchange.NewClient(exchange.ClientConfig{
		ServerURL: httpServer.URL, SyncKey: sharedSyncKey, Store: storeA,
	})
	if err != nil {
		t.Fatalf("failed to build client a: %v", err)
	}
	clientB, err := exchange.NewClient(exchange.ClientConfig{
		ServerURL: httpServer.URL, SyncKey: sharedSyncKey, Store: storeB,
	})
	if err != nil {
		t.Fatalf("failed to build client b: %v", err)
	}

	return &syncFixture{
		clock:       clock,
		serverStore: serverStore,
		clientA:     clientA,
		clientB:     clientB,
		storeA:      storeA,
		storeB:      storeB,
	}
}

func localNamespace(t *testing.T) records.Namespace {
	t.Helper()
	namespace, err := records.NewNamespace(records.LocalNamespace)
	if err != nil {
		t.Fatalf("unexpected namespace error: %v", err)
	}
	return namespace
}

func TestTwoClientsConvergeThroughServer(t *testing.T) {
	fixture := newSyncFixture(t)
	namespace := localNamespace(t)
	ctx := context.Background()

	// Client A builds a small hierarchy offline.
	fixture.clock.Set(2000)
	if _, err := fixture.storeA.UpsertWorkspace(ctx, namespace, records.Workspace{
		ID: "ws-1", Name: "Personal", Color: "#4a90d9",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.storeA.UpsertFolder(ctx, namespace, records.Folder{
		ID: "f-1", Name: "Journal", WorkspaceID: "ws-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	folderID := "f-1"
	if _, err := fixture.storeA.UpsertNote(ctx, namespace, records.Note{
		ID: "n-1", Title: "Day one", Content: "started the journal", FolderID: &folderID, WorkspaceID: "ws-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A publishes, then B picks everything up.
	fixture.clock.Set(10000)
	if _, err := fixture.clientA.SyncOnce(ctx); err != nil {
		t.Fatalf("sync a failed: %v", err)
	}
	fixture.clock.Set(10500)
	outcome, err := fixture.clientB.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("sync b failed: %v", err)
	}
	if outcome.Applied != 3 {
		t.Fatalf("expected b to apply workspace, folder and note, applied %d", outcome.Applied)
	}

	notesOnB, err := fixture.storeB.ListNotes(ctx, namespace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notesOnB) != 1 || notesOnB[0].Title != "Day one" {
		t.Fatalf("expected the note on b, got %+v", notesOnB)
	}

	// B edits the note; the edit flows back to A through the server.
	fixture.clock.Set(11000)
	if _, err := fixture.storeB.UpsertNote(ctx, namespace, records.Note{
		ID: "n-1", Title: "Day one", Content: "edited on b", FolderID: &folderID, WorkspaceID: "ws-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fixture.clock.Set(12000)
	if _, err := fixture.clientB.SyncOnce(ctx); err != nil {
		t.Fatalf("sync b failed: %v", err)
	}
	fixture.clock.Set(13000)
	if _, err := fixture.clientA.SyncOnce(ctx); err != nil {
		t.Fatalf("sync a failed: %v", err)
	}

	notesOnA, err := fixture.storeA.ListNotes(ctx, namespace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notesOnA) != 1 || notesOnA[0].Content != "edited on b" {
		t.Fatalf("expected b's edit on a, got %+v", notesOnA)
	}
}

func TestTombstonePropagatesAcrossReplicas(t *testing.T) {
	fixture := newSyncFixture(t)
	namespace := localNamespace(t)
	ctx := context.Background()

	fixture.clock.Set(2000)
	if _, err := fixture.storeA.UpsertWorkspace(ctx, namespace, records.Workspace{
		ID: "ws-1", Name: "Personal",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.storeA.UpsertNote(ctx, namespace, records.Note{
		ID: "n-1", Title: "Doomed", Content: "will be deleted", WorkspaceID: "ws-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fixture.clock.Set(10000)
	if _, err := fixture.clientA.SyncOnce(ctx); err != nil {
		t.Fatalf("sync a failed: %v", err)
	}
	fixture.clock.Set(10500)
	if _, err := fixture.clientB.SyncOnce(ctx); err != nil {
		t.Fatalf("sync b failed: %v", err)
	}

	// B deletes; after one round trip the note is hidden on both replicas
	// but its row still exists for future merges.
	fixture.clock.Set(11000)
	if err := fixture.storeB.DeleteNote(ctx, namespace, "n-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fixture.clock.Set(12000)
	if _, err := fixture.clientB.SyncOnce(ctx); err != nil {
		t.Fatalf("sync b failed: %v", err)
	}
	fixture.clock.Set(13000)
	if _, err := fixture.clientA.SyncOnce(ctx); err != nil {
		t.Fatalf("sync a failed: %v", err)
	}

	notesOnA, err := fixture.storeA.ListNotes(ctx, namespace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notesOnA) != 0 {
		t.Fatalf("expected the deleted note hidden on a, got %+v", notesOnA)
	}

	snapshot, err := fixture.storeA.SnapshotNotes(ctx, namespace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshot) != 1 || !snapshot[0].IsDeleted {
		t.Fatalf("expected a tombstone row on a, got %+v", snapshot)
	}
}

func TestOfflineEditsReconcileByLastWrite(t *testing.T) {
	fixture := newSyncFixture(t)
	namespace := localNamespace(t)
	ctx := context.Background()

	fixture.clock.Set(2000)
	if _, err := fixture.storeA.UpsertWorkspace(ctx, namespace, records.Workspace{
		ID: "ws-1", Name: "Personal",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.storeA.UpsertNote(ctx, namespace, records.Note{
		ID: "n-1", Title: "Shared", Content: "origin", WorkspaceID: "ws-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fixture.clock.Set(10000)
	if _, err := fixture.clientA.SyncOnce(ctx); err != nil {
		t.Fatalf("sync a failed: %v", err)
	}
	fixture.clock.Set(10500)
	if _, err := fixture.clientB.SyncOnce(ctx); err != nil {
		t.Fatalf("sync b failed: %v", err)
	}

	// Both replicas edit the same note without seeing each other's edit;
	// A's edit carries the later timestamp and must win everywhere.
	fixture.clock.Set(11000)
	if _, err := fixture.storeB.UpsertNote(ctx, namespace, records.Note{
		ID: "n-1", Title: "Shared", Content: "b's offline edit", WorkspaceID: "ws-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fixture.clock.Set(12000)
	if _, err := fixture.clientB.SyncOnce(ctx); err != nil {
		t.Fatalf("sync b failed: %v", err)
	}
	fixture.clock.Set(12500)
	if _, err := fixture.storeA.UpsertNote(ctx, namespace, records.Note{
		ID: "n-1", Title: "Shared", Content: "a's offline edit", WorkspaceID: "ws-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fixture.clock.Set(13000)
	if _, err := fixture.clientA.SyncOnce(ctx); err != nil {
		t.Fatalf("sync a failed: %v", err)
	}
	fixture.clock.Set(14000)
	if _, err := fixture.clientB.SyncOnce(ctx); err != nil {
		t.Fatalf("sync b failed: %v", err)
	}

	for name, store := range map[string]*records.Store{"a": fixture.storeA, "b": fixture.storeB, "server": fixture.serverStore} {
		storeNamespace := namespace
		if name == "server" {
			serverNamespace, err := records.NewNamespace(sharedSyncKey)
			if err != nil {
				t.Fatalf("unexpected namespace error: %v", err)
			}
			storeNamespace = serverNamespace
		}
		notes, err := store.ListNotes(ctx, storeNamespace)
		if err != nil {
			t.Fatalf("unexpected error on %s: %v", name, err)
		}
		if len(notes) != 1 || notes[0].Content != "a's offline edit" {
			t.Fatalf("replica %s did not converge on the last write, got %+v", name, notes)
		}
	}
}
