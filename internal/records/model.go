package records

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

// LocalNamespace is the partition key a single-replica (client) store writes
// under. Server deployments partition by the tenant's sync key instead.
const LocalNamespace = "local"

var (
	// ErrInvalidRecordID indicates that a record identifier is empty or exceeds storage bounds.
	ErrInvalidRecordID = errors.New("records: invalid record id")
	// ErrInvalidNamespace indicates that a namespace (sync key) is empty or exceeds storage bounds.
	ErrInvalidNamespace = errors.New("records: invalid namespace")
	// ErrInvalidTimestamp indicates that an epoch-millisecond value is negative.
	ErrInvalidTimestamp = errors.New("records: invalid timestamp")
)

// RecordID represents a validated record identifier.
type RecordID string

// NewRecordID validates raw input and returns a RecordID.
func NewRecordID(rawInput string) (RecordID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRecordID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRecordID, maxIdentifierLength)
	}
	return RecordID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RecordID) String() string {
	return string(id)
}

// Namespace represents a validated sync-key partition.
type Namespace string

// NewNamespace validates raw input and returns a Namespace.
func NewNamespace(rawInput string) (Namespace, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNamespace)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNamespace, maxIdentifierLength)
	}
	return Namespace(trimmed), nil
}

// String returns the underlying string value.
func (ns Namespace) String() string {
	return string(ns)
}

// Note models a persisted note with last-write-wins metadata. Timestamps are
// epoch milliseconds; Version counts accepted local edits starting at 1.
type Note struct {
	SyncKey         string  `gorm:"column:sync_key;primaryKey;size:190;not null;index:idx_notes_key_updated,priority:1"`
	ID              string  `gorm:"column:id;primaryKey;size:190;not null"`
	Title           string  `gorm:"column:title;not null"`
	Content         string  `gorm:"column:content;type:text;not null"`
	FolderID        *string `gorm:"column:folder_id;size:190"`
	WorkspaceID     string  `gorm:"column:workspace_id;size:190;not null"`
	CreatedAtMillis int64   `gorm:"column:created_at;not null"`
	UpdatedAtMillis int64   `gorm:"column:updated_at;not null;index:idx_notes_key_updated,priority:2"`
	Version         int64   `gorm:"column:version;not null;default:1"`
	IsDeleted       bool    `gorm:"column:is_deleted;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Folder models a persisted folder. ParentID is nil for root folders.
type Folder struct {
	SyncKey         string  `gorm:"column:sync_key;primaryKey;size:190;not null;index:idx_folders_key_updated,priority:1"`
	ID              string  `gorm:"column:id;primaryKey;size:190;not null"`
	Name            string  `gorm:"column:name;not null"`
	ParentID        *string `gorm:"column:parent_id;size:190"`
	WorkspaceID     string  `gorm:"column:workspace_id;size:190;not null"`
	Color           *string `gorm:"column:color;size:64"`
	CreatedAtMillis int64   `gorm:"column:created_at;not null"`
	UpdatedAtMillis int64   `gorm:"column:updated_at;not null;index:idx_folders_key_updated,priority:2"`
	Version         int64   `gorm:"column:version;not null;default:1"`
	IsDeleted       bool    `gorm:"column:is_deleted;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Folder) TableName() string {
	return "folders"
}

// Workspace models a persisted workspace, the root of the hierarchy.
type Workspace struct {
	SyncKey         string `gorm:"column:sync_key;primaryKey;size:190;not null;index:idx_workspaces_key_updated,priority:1"`
	ID              string `gorm:"column:id;primaryKey;size:190;not null"`
	Name            string `gorm:"column:name;not null"`
	Color           string `gorm:"column:color;size:64;not null;default:''"`
	CreatedAtMillis int64  `gorm:"column:created_at;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at;not null;index:idx_workspaces_key_updated,priority:2"`
	Version         int64  `gorm:"column:version;not null;default:1"`
	IsDeleted       bool   `gorm:"column:is_deleted;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Workspace) TableName() string {
	return "workspaces"
}

// ChangeLogEntry captures one content transition of a note. Entries are
// append-only: they are never updated or removed, not even when the note
// itself is tombstoned.
type ChangeLogEntry struct {
	ChangeID        string  `gorm:"column:change_id;primaryKey;size:190;not null"`
	SyncKey         string  `gorm:"column:sync_key;size:190;not null;index:idx_changes_key_time,priority:1"`
	NoteID          string  `gorm:"column:note_id;size:190;not null"`
	OldContent      *string `gorm:"column:old_content;type:text"`
	NewContent      string  `gorm:"column:new_content;type:text;not null"`
	TimestampMillis int64   `gorm:"column:timestamp;not null;index:idx_changes_key_time,priority:2"`
	Version         int64   `gorm:"column:version;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ChangeLogEntry) TableName() string {
	return "note_changes"
}

// SyncState stores the watermark a replica has incorporated up to.
type SyncState struct {
	SyncKey            string `gorm:"column:sync_key;primaryKey;size:190;not null"`
	LastSyncTimeMillis int64  `gorm:"column:last_sync_time;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (SyncState) TableName() string {
	return "sync_state"
}

// SearchResult is one ranked hit from the note search index.
type SearchResult struct {
	ID      string `gorm:"column:id"`
	Title   string `gorm:"column:title"`
	Snippet string `gorm:"column:snippet"`
}
