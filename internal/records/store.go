package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errUnknownVersion    = errors.New("unknown version mode")
	noOpLogger           = zap.NewNop()
)

// StoreError wraps a storage failure with a machine-readable operation code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the operation code, e.g. "records.upsert_note.note_save_failed".
func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew        = "records.store.new"
	opUpsertNote      = "records.upsert_note"
	opUpsertFolder    = "records.upsert_folder"
	opUpsertWorkspace = "records.upsert_workspace"
	opDeleteNote      = "records.delete_note"
	opDeleteFolder    = "records.delete_folder"
	opDeleteWorkspace = "records.delete_workspace"
	opListNotes       = "records.list_notes"
	opListFolders     = "records.list_folders"
	opListWorkspaces  = "records.list_workspaces"
	opSnapshot        = "records.snapshot"
	opMergeNote       = "records.merge_note"
	opMergeFolder     = "records.merge_folder"
	opMergeWorkspace  = "records.merge_workspace"
	opChangesSince    = "records.changes_since"
	opSearchNotes     = "records.search_notes"
	opWatermark       = "records.watermark"
	opSetWatermark    = "records.set_watermark"
)

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

// VersionMode selects how merges treat the version counter. See MergeNote.
type VersionMode string

const (
	// VersionModeCompat overwrites version with whatever the sender carried,
	// matching the behavior of the original replicas. Version is then no
	// longer a reliable per-replica counter once merges occur.
	VersionModeCompat VersionMode = "compat"
	// VersionModeStrict treats version as a local-only edit counter: merges
	// never overwrite it and inserts start back at 1.
	VersionModeStrict VersionMode = "strict"
)

// ParseVersionMode validates a configuration string. Empty input selects
// compat mode.
func ParseVersionMode(value string) (VersionMode, error) {
	switch VersionMode(value) {
	case VersionModeCompat, "":
		return VersionModeCompat, nil
	case VersionModeStrict:
		return VersionModeStrict, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownVersion, value)
	}
}

// IDProvider issues identifiers for change-log entries.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	// VersionMode defaults to VersionModeCompat.
	VersionMode VersionMode
	// SerializeWrites takes a per-record critical section around the
	// read-modify-write version bump in upserts and deletes. Off, two
	// concurrent edits of the same record can read the same previous
	// version and one update is lost; this matches the original replicas.
	SerializeWrites bool
}

// Store is the versioned record table for one SQLite database. All methods
// take a namespace (sync key): a client replica always passes
// LocalNamespace, a server passes the tenant's key.
type Store struct {
	db              *gorm.DB
	clock           func() time.Time
	idProvider      IDProvider
	logger          *zap.Logger
	versionMode     VersionMode
	serializeWrites bool
	writeLocks      *keyedMutex
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	mode, err := ParseVersionMode(string(cfg.VersionMode))
	if err != nil {
		return nil, newStoreError(opStoreNew, "invalid_version_mode", err)
	}

	return &Store{
		db:              cfg.Database,
		clock:           clock,
		idProvider:      cfg.IDProvider,
		logger:          logger,
		versionMode:     mode,
		serializeWrites: cfg.SerializeWrites,
		writeLocks:      newKeyedMutex(),
	}, nil
}

func (s *Store) nowMillis() int64 {
	return s.clock().UTC().UnixMilli()
}

func (s *Store) lockRecord(namespace Namespace, kind, id string) func() {
	if !s.serializeWrites {
		return func() {}
	}
	return s.writeLocks.lock(namespace.String() + "\x00" + kind + "\x00" + id)
}

// UpsertNote applies a local authoritative edit. A missing row is a creation
// (version 1, created_at stamped now); an existing row carries created_at
// over and bumps version by one. updated_at always comes from the store's
// clock. When the content actually changed, exactly one change-log entry is
// appended in the same transaction.
func (s *Store) UpsertNote(ctx context.Context, namespace Namespace, note Note) (Note, error) {
	noteID, err := NewRecordID(note.ID)
	if err != nil {
		return Note{}, err
	}

	unlock := s.lockRecord(namespace, "note", noteID.String())
	defer unlock()

	now := s.nowMillis()
	var saved Note
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Note
		var existingPtr *Note
		err := tx.Where("sync_key = ? AND id = ?", namespace.String(), noteID.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			existingPtr = nil
		} else if err != nil {
			return newStoreError(opUpsertNote, "note_select_failed", err)
		} else {
			existingPtr = &existing
		}

		updated := note
		updated.SyncKey = namespace.String()
		updated.ID = noteID.String()
		updated.IsDeleted = false
		updated.UpdatedAtMillis = now
		if existingPtr == nil {
			updated.CreatedAtMillis = now
			updated.Version = 1
		} else {
			updated.CreatedAtMillis = existingPtr.CreatedAtMillis
			updated.Version = existingPtr.Version + 1
		}

		if err := tx.Save(&updated).Error; err != nil {
			return newStoreError(opUpsertNote, "note_save_failed", err)
		}

		if existingPtr == nil || existingPtr.Content != updated.Content {
			entry := ChangeLogEntry{
				SyncKey:         namespace.String(),
				NoteID:          noteID.String(),
				NewContent:      updated.Content,
				TimestampMillis: now,
				Version:         updated.Version,
			}
			if existingPtr != nil {
				previous := existingPtr.Content
				entry.OldContent = &previous
			}
			if err := s.appendChangeEntry(tx, &entry); err != nil {
				return newStoreError(opUpsertNote, "changelog_insert_failed", err)
			}
		}

		saved = updated
		return nil
	})
	if txErr != nil {
		s.logError(opUpsertNote, "transaction_failed", txErr,
			zap.String("namespace", namespace.String()),
			zap.String("note_id", noteID.String()))
		return Note{}, txErr
	}

	return saved, nil
}

// UpsertFolder applies a local authoritative edit to a folder.
func (s *Store) UpsertFolder(ctx context.Context, namespace Namespace, folder Folder) (Folder, error) {
	folderID, err := NewRecordID(folder.ID)
	if err != nil {
		return Folder{}, err
	}

	unlock := s.lockRecord(namespace, "folder", folderID.String())
	defer unlock()

	now := s.nowMillis()
	var saved Folder
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Folder
		var existingPtr *Folder
		err := tx.Where("sync_key = ? AND id = ?", namespace.String(), folderID.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			existingPtr = nil
		} else if err != nil {
			return newStoreError(opUpsertFolder, "folder_select_failed", err)
		} else {
			existingPtr = &existing
		}

		updated := folder
		updated.SyncKey = namespace.String()
		updated.ID = folderID.String()
		updated.IsDeleted = false
		updated.UpdatedAtMillis = now
		if existingPtr == nil {
			updated.CreatedAtMillis = now
			updated.Version = 1
		} else {
			updated.CreatedAtMillis = existingPtr.CreatedAtMillis
			updated.Version = existingPtr.Version + 1
		}

		if err := tx.Save(&updated).Error; err != nil {
			return newStoreError(opUpsertFolder, "folder_save_failed", err)
		}
		saved = updated
		return nil
	})
	if txErr != nil {
		s.logError(opUpsertFolder, "transaction_failed", txErr,
			zap.String("namespace", namespace.String()),
			zap.String("folder_id", folderID.String()))
		return Folder{}, txErr
	}

	return saved, nil
}

// UpsertWorkspace applies a local authoritative edit to a workspace.
func (s *Store) UpsertWorkspace(ctx context.Context, namespace Namespace, workspace Workspace) (Workspace, error) {
	workspaceID, err := NewRecordID(workspace.ID)
	if err != nil {
		return Workspace{}, err
	}

	unlock := s.lockRecord(namespace, "workspace", workspaceID.String())
	defer unlock()

	now := s.nowMillis()
	var saved Workspace
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Workspace
		var existingPtr *Workspace
		err := tx.Where("sync_key = ? AND id = ?", namespace.String(), workspaceID.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			existingPtr = nil
		} else if err != nil {
			return newStoreError(opUpsertWorkspace, "workspace_select_failed", err)
		} else {
			existingPtr = &existing
		}

		updated := workspace
		updated.SyncKey = namespace.String()
		updated.ID = workspaceID.String()
		updated.IsDeleted = false
		updated.UpdatedAtMillis = now
		if existingPtr == nil {
			updated.CreatedAtMillis = now
			updated.Version = 1
		} else {
			updated.CreatedAtMillis = existingPtr.CreatedAtMillis
			updated.Version = existingPtr.Version + 1
		}

		if err := tx.Save(&updated).Error; err != nil {
			return newStoreError(opUpsertWorkspace, "workspace_save_failed", err)
		}
		saved = updated
		return nil
	})
	if txErr != nil {
		s.logError(opUpsertWorkspace, "transaction_failed", txErr,
			zap.String("namespace", namespace.String()),
			zap.String("workspace_id", workspaceID.String()))
		return Workspace{}, txErr
	}

	return saved, nil
}

// DeleteNote tombstones a note: the row stays, is_deleted flips on,
// updated_at refreshes so the deletion propagates through sync, and version
// bumps like any other accepted mutation. Deleting an absent or already
// tombstoned note is a no-op. The change log is never touched.
func (s *Store) DeleteNote(ctx context.Context, namespace Namespace, id string) error {
	noteID, err := NewRecordID(id)
	if err != nil {
		return err
	}

	unlock := s.lockRecord(namespace, "note", noteID.String())
	defer unlock()

	now := s.nowMillis()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Note{}).
			Where("sync_key = ? AND id = ? AND is_deleted = ?", namespace.String(), noteID.String(), false).
			Updates(map[string]interface{}{
				"is_deleted": true,
				"updated_at": now,
				"version":    gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return newStoreError(opDeleteNote, "note_update_failed", result.Error)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteNote, "transaction_failed", txErr,
			zap.String("namespace", namespace.String()),
			zap.String("note_id", noteID.String()))
	}
	return txErr
}

// DeleteFolder tombstones a folder together with its descendant folders and
// every note they contain, all in one transaction. The original schema
// expressed this with ON DELETE CASCADE foreign keys; tombstones make the
// cascade explicit.
func (s *Store) DeleteFolder(ctx context.Context, namespace Namespace, id string) error {
	folderID, err := NewRecordID(id)
	if err != nil {
		return err
	}

	unlock := s.lockRecord(namespace, "folder", folderID.String())
	defer unlock()

	now := s.nowMillis()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var folders []Folder
		if err := tx.Where("sync_key = ? AND is_deleted = ?", namespace.String(), false).
			Find(&folders).Error; err != nil {
			return newStoreError(opDeleteFolder, "folder_select_failed", err)
		}

		doomed := descendantFolderIDs(folders, folderID.String())
		if len(doomed) == 0 {
			return nil
		}

		result := tx.Model(&Folder{}).
			Where("sync_key = ? AND id IN ? AND is_deleted = ?", namespace.String(), doomed, false).
			Updates(map[string]interface{}{
				"is_deleted": true,
				"updated_at": now,
				"version":    gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return newStoreError(opDeleteFolder, "folder_update_failed", result.Error)
		}

		result = tx.Model(&Note{}).
			Where("sync_key = ? AND folder_id IN ? AND is_deleted = ?", namespace.String(), doomed, false).
			Updates(map[string]interface{}{
				"is_deleted": true,
				"updated_at": now,
				"version":    gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return newStoreError(opDeleteFolder, "note_update_failed", result.Error)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteFolder, "transaction_failed", txErr,
			zap.String("namespace", namespace.String()),
			zap.String("folder_id", folderID.String()))
	}
	return txErr
}

// DeleteWorkspace tombstones a workspace and everything beneath it.
func (s *Store) DeleteWorkspace(ctx context.Context, namespace Namespace, id string) error {
	workspaceID, err := NewRecordID(id)
	if err != nil {
		return err
	}

	unlock := s.lockRecord(namespace, "workspace", workspaceID.String())
	defer unlock()

	now := s.nowMillis()
	tombstone := map[string]interface{}{
		"is_deleted": true,
		"updated_at": now,
		"version":    gorm.Expr("version + 1"),
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Workspace{}).
			Where("sync_key = ? AND id = ? AND is_deleted = ?", namespace.String(), workspaceID.String(), false).
			Updates(tombstone)
		if result.Error != nil {
			return newStoreError(opDeleteWorkspace, "workspace_update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if err := tx.Model(&Folder{}).
			Where("sync_key = ? AND workspace_id = ? AND is_deleted = ?", namespace.String(), workspaceID.String(), false).
			Updates(tombstone).Error; err != nil {
			return newStoreError(opDeleteWorkspace, "folder_update_failed", err)
		}
		if err := tx.Model(&Note{}).
			Where("sync_key = ? AND workspace_id = ? AND is_deleted = ?", namespace.String(), workspaceID.String(), false).
			Updates(tombstone).Error; err != nil {
			return newStoreError(opDeleteWorkspace, "note_update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteWorkspace, "transaction_failed", txErr,
			zap.String("namespace", namespace.String()),
			zap.String("workspace_id", workspaceID.String()))
	}
	return txErr
}

// descendantFolderIDs returns rootID plus every folder reachable from it
// through parent links. The walk tolerates cycles.
func descendantFolderIDs(folders []Folder, rootID string) []string {
	children := make(map[string][]string, len(folders))
	known := make(map[string]bool, len(folders))
	for _, folder := range folders {
		known[folder.ID] = true
		if folder.ParentID != nil {
			children[*folder.ParentID] = append(children[*folder.ParentID], folder.ID)
		}
	}
	if !known[rootID] {
		return nil
	}

	visited := map[string]bool{rootID: true}
	queue := []string{rootID}
	ids := []string{rootID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range children[current] {
			if visited[child] {
				continue
			}
			visited[child] = true
			ids = append(ids, child)
			queue = append(queue, child)
		}
	}
	return ids
}

// ListNotes returns the live (non-tombstoned) notes, newest first.
func (s *Store) ListNotes(ctx context.Context, namespace Namespace) ([]Note, error) {
	var notes []Note
	if err := s.db.WithContext(ctx).
		Where("sync_key = ? AND is_deleted = ?", namespace.String(), false).
		Order("updated_at DESC").
		Find(&notes).Error; err != nil {
		s.logError(opListNotes, "query_failed", err, zap.String("namespace", namespace.String()))
		return nil, newStoreError(opListNotes, "query_failed", err)
	}
	return notes, nil
}

// ListFolders returns the live folders, newest first.
func (s *Store) ListFolders(ctx context.Context, namespace Namespace) ([]Folder, error) {
	var folders []Folder
	if err := s.db.WithContext(ctx).
		Where("sync_key = ? AND is_deleted = ?", namespace.String(), false).
		Order("updated_at DESC").
		Find(&folders).Error; err != nil {
		s.logError(opListFolders, "query_failed", err, zap.String("namespace", namespace.String()))
		return nil, newStoreError(opListFolders, "query_failed", err)
	}
	return folders, nil
}

// ListWorkspaces returns the live workspaces, newest first.
func (s *Store) ListWorkspaces(ctx context.Context, namespace Namespace) ([]Workspace, error) {
	var workspaces []Workspace
	if err := s.db.WithContext(ctx).
		Where("sync_key = ? AND is_deleted = ?", namespace.String(), false).
		Order("updated_at DESC").
		Find(&workspaces).Error; err != nil {
		s.logError(opListWorkspaces, "query_failed", err, zap.String("namespace", namespace.String()))
		return nil, newStoreError(opListWorkspaces, "query_failed", err)
	}
	return workspaces, nil
}

// SnapshotNotes returns every note including tombstones. Sync pushes the
// full set so deletions propagate.
func (s *Store) SnapshotNotes(ctx context.Context, namespace Namespace) ([]Note, error) {
	var notes []Note
	if err := s.db.WithContext(ctx).
		Where("sync_key = ?", namespace.String()).
		Find(&notes).Error; err != nil {
		s.logError(opSnapshot, "note_query_failed", err, zap.String("namespace", namespace.String()))
		return nil, newStoreError(opSnapshot, "note_query_failed", err)
	}
	return notes, nil
}

// SnapshotFolders returns every folder including tombstones.
func (s *Store) SnapshotFolders(ctx context.Context, namespace Namespace) ([]Folder, error) {
	var folders []Folder
	if err := s.db.WithContext(ctx).
		Where("sync_key = ?", namespace.String()).
		Find(&folders).Error; err != nil {
		s.logError(opSnapshot, "folder_query_failed", err, zap.String("namespace", namespace.String()))
		return nil, newStoreError(opSnapshot, "folder_query_failed", err)
	}
	return folders, nil
}

// SnapshotWorkspaces returns every workspace including tombstones.
func (s *Store) SnapshotWorkspaces(ctx context.Context, namespace Namespace) ([]Workspace, error) {
	var workspaces []Workspace
	if err := s.db.WithContext(ctx).
		Where("sync_key = ?", namespace.String()).
		Find(&workspaces).Error; err != nil {
		s.logError(opSnapshot, "workspace_query_failed", err, zap.String("namespace", namespace.String()))
		return nil, newStoreError(opSnapshot, "workspace_query_failed", err)
	}
	return workspaces, nil
}

// Watermark returns the last successfully incorporated server time in epoch
// milliseconds, zero when the replica has never synced.
func (s *Store) Watermark(ctx context.Context, namespace Namespace) (int64, error) {
	var state SyncState
	err := s.db.WithContext(ctx).
		Where("sync_key = ?", namespace.String()).
		Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		s.logError(opWatermark, "query_failed", err, zap.String("namespace", namespace.String()))
		return 0, newStoreError(opWatermark, "query_failed", err)
	}
	return state.LastSyncTimeMillis, nil
}

// SetWatermark persists the watermark after a fully applied sync response.
func (s *Store) SetWatermark(ctx context.Context, namespace Namespace, serverTimeMillis int64) error {
	if serverTimeMillis < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTimestamp, serverTimeMillis)
	}
	state := SyncState{SyncKey: namespace.String(), LastSyncTimeMillis: serverTimeMillis}
	if err := s.db.WithContext(ctx).Save(&state).Error; err != nil {
		s.logError(opSetWatermark, "save_failed", err, zap.String("namespace", namespace.String()))
		return newStoreError(opSetWatermark, "save_failed", err)
	}
	return nil
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("record store error", attrs...)
}
