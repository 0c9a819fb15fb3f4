package records

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// acceptIncoming is the last-write-wins rule: an incoming record replaces
// the stored one only when it is strictly newer. Ties favor the stored
// record, so re-applying the same record is always a no-op and merges are
// idempotent and commutative under staleness.
func acceptIncoming(storedUpdatedAt, incomingUpdatedAt int64) bool {
	return incomingUpdatedAt > storedUpdatedAt
}

// mergedCreatedAt keeps the stored creation time once a row exists; a first
// insert takes the incoming value, falling back to updated_at when the
// sender omitted it.
func mergedCreatedAt(existing bool, storedCreatedAt, incomingCreatedAt, incomingUpdatedAt int64) int64 {
	if existing {
		return storedCreatedAt
	}
	if incomingCreatedAt > 0 {
		return incomingCreatedAt
	}
	return incomingUpdatedAt
}

// mergedVersion resolves the version counter per the configured mode.
func (s *Store) mergedVersion(existing bool, storedVersion, incomingVersion int64) int64 {
	if s.versionMode == VersionModeStrict {
		if existing {
			return storedVersion
		}
		return 1
	}
	if incomingVersion < 1 {
		return 1
	}
	return incomingVersion
}

// MergeNote reconciles a note received from a non-authoritative source (a
// pushed client record on the server, or a pulled server record on the
// client). A stale incoming record is silently skipped: accepted reports
// false and the stored state is untouched.
func (s *Store) MergeNote(ctx context.Context, namespace Namespace, incoming Note) (bool, error) {
	noteID, err := NewRecordID(incoming.ID)
	if err != nil {
		return false, err
	}
	if incoming.UpdatedAtMillis <= 0 {
		return false, ErrInvalidTimestamp
	}

	accepted := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Note
		err := tx.Where("sync_key = ? AND id = ?", namespace.String(), noteID.String()).
			Take(&stored).Error
		exists := true
		if errors.Is(err, gorm.ErrRecordNotFound) {
			exists = false
		} else if err != nil {
			return newStoreError(opMergeNote, "note_select_failed", err)
		}

		if exists && !acceptIncoming(stored.UpdatedAtMillis, incoming.UpdatedAtMillis) {
			return nil
		}

		merged := Note{
			SyncKey:         namespace.String(),
			ID:              noteID.String(),
			Title:           incoming.Title,
			Content:         incoming.Content,
			FolderID:        incoming.FolderID,
			WorkspaceID:     incoming.WorkspaceID,
			CreatedAtMillis: mergedCreatedAt(exists, stored.CreatedAtMillis, incoming.CreatedAtMillis, incoming.UpdatedAtMillis),
			UpdatedAtMillis: incoming.UpdatedAtMillis,
			Version:         s.mergedVersion(exists, stored.Version, incoming.Version),
			IsDeleted:       incoming.IsDeleted,
		}
		if err := tx.Save(&merged).Error; err != nil {
			return newStoreError(opMergeNote, "note_save_failed", err)
		}
		accepted = true
		return nil
	})
	if txErr != nil {
		s.logError(opMergeNote, "transaction_failed", txErr,
			zap.String("namespace", namespace.String()),
			zap.String("note_id", noteID.String()))
		return false, txErr
	}
	return accepted, nil
}

// MergeFolder reconciles a folder received from a non-authoritative source.
func (s *Store) MergeFolder(ctx context.Context, namespace Namespace, incoming Folder) (bool, error) {
	folderID, err := NewRecordID(incoming.ID)
	if err != nil {
		return false, err
	}
	if incoming.UpdatedAtMillis <= 0 {
		return false, ErrInvalidTimestamp
	}

	accepted := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Folder
		err := tx.Where("sync_key = ? AND id = ?", namespace.String(), folderID.String()).
			Take(&stored).Error
		exists := true
		if errors.Is(err, gorm.ErrRecordNotFound) {
			exists = false
		} else if err != nil {
			return newStoreError(opMergeFolder, "folder_select_failed", err)
		}

		if exists && !acceptIncoming(stored.UpdatedAtMillis, incoming.UpdatedAtMillis) {
			return nil
		}

		merged := Folder{
			SyncKey:         namespace.String(),
			ID:              folderID.String(),
			Name:            incoming.Name,
			ParentID:        incoming.ParentID,
			WorkspaceID:     incoming.WorkspaceID,
			Color:           incoming.Color,
			CreatedAtMillis: mergedCreatedAt(exists, stored.CreatedAtMillis, incoming.CreatedAtMillis, incoming.UpdatedAtMillis),
			UpdatedAtMillis: incoming.UpdatedAtMillis,
			Version:         s.mergedVersion(exists, stored.Version, incoming.Version),
			IsDeleted:       incoming.IsDeleted,
		}
		if err := tx.Save(&merged).Error; err != nil {
			return newStoreError(opMergeFolder, "folder_save_failed", err)
		}
		accepted = true
		return nil
	})
	if txErr != nil {
		s.logError(opMergeFolder, "transaction_failed", txErr,
			zap.String("namespace", namespace.String()),
			zap.String("folder_id", folderID.String()))
		return false, txErr
	}
	return accepted, nil
}

// MergeWorkspace reconciles a workspace received from a non-authoritative source.
func (s *Store) MergeWorkspace(ctx context.Context, namespace Namespace, incoming Workspace) (bool, error) {
	workspaceID, err := NewRecordID(incoming.ID)
	if err != nil {
		return false, err
	}
	if incoming.UpdatedAtMillis <= 0 {
		return false, ErrInvalidTimestamp
	}

	accepted := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Workspace
		err := tx.Where("sync_key = ? AND id = ?", namespace.String(), workspaceID.String()).
			Take(&stored).Error
		exists := true
		if errors.Is(err, gorm.ErrRecordNotFound) {
			exists = false
		} else if err != nil {
			return newStoreError(opMergeWorkspace, "workspace_select_failed", err)
		}

		if exists && !acceptIncoming(stored.UpdatedAtMillis, incoming.UpdatedAtMillis) {
			return nil
		}

		merged := Workspace{
			SyncKey:         namespace.String(),
			ID:              workspaceID.String(),
			Name:            incoming.Name,
			Color:           incoming.Color,
			CreatedAtMillis: mergedCreatedAt(exists, stored.CreatedAtMillis, incoming.CreatedAtMillis, incoming.UpdatedAtMillis),
			UpdatedAtMillis: incoming.UpdatedAtMillis,
			Version:         s.mergedVersion(exists, stored.Version, incoming.Version),
			IsDeleted:       incoming.IsDeleted,
		}
		if err := tx.Save(&merged).Error; err != nil {
			return newStoreError(opMergeWorkspace, "workspace_save_failed", err)
		}
		accepted = true
		return nil
	})
	if txErr != nil {
		s.logError(opMergeWorkspace, "transaction_failed", txErr,
			zap.String("namespace", namespace.String()),
			zap.String("workspace_id", workspaceID.String()))
		return false, txErr
	}
	return accepted, nil
}
