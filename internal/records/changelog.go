package records

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// appendChangeEntry assigns an identifier and inserts the entry inside the
// caller's transaction so the note write and its audit row commit together.
func (s *Store) appendChangeEntry(tx *gorm.DB, entry *ChangeLogEntry) error {
	changeID, err := s.idProvider.NewID()
	if err != nil {
		return fmt.Errorf("change id generation: %w", err)
	}
	entry.ChangeID = changeID
	return tx.Create(entry).Error
}

// NoteChangesSince returns the change-log entries recorded strictly after
// sinceMillis, oldest first. The log only documents local edits; merges from
// remote replicas do not append to it.
func (s *Store) NoteChangesSince(ctx context.Context, namespace Namespace, sinceMillis int64) ([]ChangeLogEntry, error) {
	if sinceMillis < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTimestamp, sinceMillis)
	}

	var entries []ChangeLogEntry
	if err := s.db.WithContext(ctx).
		Where("sync_key = ? AND timestamp > ?", namespace.String(), sinceMillis).
		Order("timestamp ASC, version ASC").
		Find(&entries).Error; err != nil {
		s.logError(opChangesSince, "query_failed", err, zap.String("namespace", namespace.String()))
		return nil, newStoreError(opChangesSince, "query_failed", err)
	}
	return entries, nil
}

// NoteHistory returns the full change log for one note, oldest first.
func (s *Store) NoteHistory(ctx context.Context, namespace Namespace, id string) ([]ChangeLogEntry, error) {
	noteID, err := NewRecordID(id)
	if err != nil {
		return nil, err
	}

	var entries []ChangeLogEntry
	if err := s.db.WithContext(ctx).
		Where("sync_key = ? AND note_id = ?", namespace.String(), noteID.String()).
		Order("timestamp ASC, version ASC").
		Find(&entries).Error; err != nil {
		s.logError(opChangesSince, "history_query_failed", err,
			zap.String("namespace", namespace.String()),
			zap.String("note_id", noteID.String()))
		return nil, newStoreError(opChangesSince, "history_query_failed", err)
	}
	return entries, nil
}
