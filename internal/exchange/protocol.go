// Package exchange implements the client-initiated sync protocol: a single
// stateless request/response that pushes a replica's full record set and
// pulls back everything the other side accepted inside a bounded time
// window.
package exchange

import "github.com/inkwell-notes/inkwell/internal/records"

// SyncKeyHeader carries the shared sync secret that both authenticates the
// exchange and selects the storage namespace.
const SyncKeyHeader = "X-Sync-Key"

// SyncRequest is the push half of an exchange: the client's watermark plus
// its full locally-known record set, tombstones included. Pushing the full
// set instead of a delta trades bandwidth for immunity to missed-delta bugs;
// merges are idempotent so retransmission is always safe.
type SyncRequest struct {
	LastSyncTime int64             `json:"last_sync_time"`
	Notes        []NoteRecord      `json:"notes"`
	Folders      []FolderRecord    `json:"folders"`
	Workspaces   []WorkspaceRecord `json:"workspaces"`
}

// SyncResponse is the pull half: server_time is the exclusive upper bound of
// the window the record sets were filtered with, and becomes the client's
// next watermark once every record has been applied.
type SyncResponse struct {
	ServerTime int64             `json:"server_time"`
	Notes      []NoteRecord      `json:"notes"`
	Folders    []FolderRecord    `json:"folders"`
	Workspaces []WorkspaceRecord `json:"workspaces"`
}

// NoteRecord is the wire form of a note. created_at is optional inbound and
// always present outbound; version rides along for compat-mode merges.
type NoteRecord struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	FolderID    *string `json:"folder_id,omitempty"`
	WorkspaceID string  `json:"workspace_id"`
	CreatedAt   *int64  `json:"created_at,omitempty"`
	UpdatedAt   int64   `json:"updated_at"`
	Version     int64   `json:"version,omitempty"`
	IsDeleted   bool    `json:"is_deleted"`
}

// FolderRecord is the wire form of a folder.
type FolderRecord struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ParentID    *string `json:"parent_id,omitempty"`
	WorkspaceID string  `json:"workspace_id"`
	Color       *string `json:"color,omitempty"`
	CreatedAt   *int64  `json:"created_at,omitempty"`
	UpdatedAt   int64   `json:"updated_at"`
	Version     int64   `json:"version,omitempty"`
	IsDeleted   bool    `json:"is_deleted"`
}

// WorkspaceRecord is the wire form of a workspace.
type WorkspaceRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	CreatedAt *int64 `json:"created_at,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
	Version   int64  `json:"version,omitempty"`
	IsDeleted bool   `json:"is_deleted"`
}

func (r NoteRecord) toModel() records.Note {
	note := records.Note{
		ID:              r.ID,
		Title:           r.Title,
		Content:         r.Content,
		FolderID:        r.FolderID,
		WorkspaceID:     r.WorkspaceID,
		UpdatedAtMillis: r.UpdatedAt,
		Version:         r.Version,
		IsDeleted:       r.IsDeleted,
	}
	if r.CreatedAt != nil {
		note.CreatedAtMillis = *r.CreatedAt
	}
	return note
}

func noteToWire(note records.Note) NoteRecord {
	createdAt := note.CreatedAtMillis
	return NoteRecord{
		ID:          note.ID,
		Title:       note.Title,
		Content:     note.Content,
		FolderID:    note.FolderID,
		WorkspaceID: note.WorkspaceID,
		CreatedAt:   &createdAt,
		UpdatedAt:   note.UpdatedAtMillis,
		Version:     note.Version,
		IsDeleted:   note.IsDeleted,
	}
}

func (r FolderRecord) toModel() records.Folder {
	folder := records.Folder{
		ID:              r.ID,
		Name:            r.Name,
		ParentID:        r.ParentID,
		WorkspaceID:     r.WorkspaceID,
		Color:           r.Color,
		UpdatedAtMillis: r.UpdatedAt,
		Version:         r.Version,
		IsDeleted:       r.IsDeleted,
	}
	if r.CreatedAt != nil {
		folder.CreatedAtMillis = *r.CreatedAt
	}
	return folder
}

func folderToWire(folder records.Folder) FolderRecord {
	createdAt := folder.CreatedAtMillis
	return FolderRecord{
		ID:          folder.ID,
		Name:        folder.Name,
		ParentID:    folder.ParentID,
		WorkspaceID: folder.WorkspaceID,
		Color:       folder.Color,
		CreatedAt:   &createdAt,
		UpdatedAt:   folder.UpdatedAtMillis,
		Version:     folder.Version,
		IsDeleted:   folder.IsDeleted,
	}
}

func (r WorkspaceRecord) toModel() records.Workspace {
	workspace := records.Workspace{
		ID:              r.ID,
		Name:            r.Name,
		Color:           r.Color,
		UpdatedAtMillis: r.UpdatedAt,
		Version:         r.Version,
		IsDeleted:       r.IsDeleted,
	}
	if r.CreatedAt != nil {
		workspace.CreatedAtMillis = *r.CreatedAt
	}
	return workspace
}

func workspaceToWire(workspace records.Workspace) WorkspaceRecord {
	createdAt := workspace.CreatedAtMillis
	return WorkspaceRecord{
		ID:        workspace.ID,
		Name:      workspace.Name,
		Color:     workspace.Color,
		CreatedAt: &createdAt,
		UpdatedAt: workspace.UpdatedAtMillis,
		Version:   workspace.Version,
		IsDeleted: workspace.IsDeleted,
	}
}
