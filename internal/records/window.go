package records

import (
	"context"

	"go.uber.org/zap"
)

// NotesInWindow returns every note, tombstones included, with
// after < updated_at < before. Both bounds are strict: the lower bound is
// the requester's watermark, the upper bound is the server time computed for
// the exchange, which keeps records mutated during the exchange itself out
// of the response.
func (s *Store) NotesInWindow(ctx context.Context, namespace Namespace, afterMillis, beforeMillis int64) ([]Note, error) {
	var notes []Note
	if err := s.db.WithContext(ctx).
		Where("sync_key = ? AND updated_at > ? AND updated_at < ?", namespace.String(), afterMillis, beforeMillis).
		Find(&notes).Error; err != nil {
		s.logError(opSnapshot, "note_window_query_failed", err, zap.String("namespace", namespace.String()))
		return nil, newStoreError(opSnapshot, "note_window_query_failed", err)
	}
	return notes, nil
}

// FoldersInWindow returns every folder with after < updated_at < before.
func (s *Store) FoldersInWindow(ctx context.Context, namespace Namespace, afterMillis, beforeMillis int64) ([]Folder, error) {
	var folders []Folder
	if err := s.db.WithContext(ctx).
		Where("sync_key = ? AND updated_at > ? AND updated_at < ?", namespace.String(), afterMillis, beforeMillis).
		Find(&folders).Error; err != nil {
		s.logError(opSnapshot, "folder_window_query_failed", err, zap.String("namespace", namespace.String()))
		return nil, newStoreError(opSnapshot, "folder_window_query_failed", err)
	}
	return folders, nil
}

// WorkspacesInWindow returns every workspace with after < updated_at < before.
func (s *Store) WorkspacesInWindow(ctx context.Context, namespace Namespace, afterMillis, beforeMillis int64) ([]Workspace, error) {
	var workspaces []Workspace
	if err := s.db.WithContext(ctx).
		Where("sync_key = ? AND updated_at > ? AND updated_at < ?", namespace.String(), afterMillis, beforeMillis).
		Find(&workspaces).Error; err != nil {
		s.logError(opSnapshot, "workspace_window_query_failed", err, zap.String("namespace", namespace.String()))
		return nil, newStoreError(opSnapshot, "workspace_window_query_failed", err)
	}
	return workspaces, nil
}
