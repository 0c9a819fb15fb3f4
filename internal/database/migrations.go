package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationCreateNotesSearchIndex = "2026-01-12_create_notes_search_index"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationCreateNotesSearchIndex, apply: createNotesSearchIndex},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// createNotesSearchIndex installs the FTS5 table and the triggers that keep
// it consistent with every insert, update, and delete on notes, then
// backfills from any pre-existing rows.
func createNotesSearchIndex(db *gorm.DB) error {
	statements := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			sync_key UNINDEXED,
			id UNINDEXED,
			title,
			content,
			tokenize='unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS notes_ai AFTER INSERT ON notes BEGIN
			INSERT INTO notes_fts(sync_key, id, title, content)
			VALUES (new.sync_key, new.id, new.title, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS notes_ad AFTER DELETE ON notes BEGIN
			DELETE FROM notes_fts WHERE sync_key = old.sync_key AND id = old.id;
		END`,
		`CREATE TRIGGER IF NOT EXISTS notes_au AFTER UPDATE ON notes BEGIN
			UPDATE notes_fts SET title = new.title, content = new.content
			WHERE sync_key = new.sync_key AND id = new.id;
		END`,
	}
	for _, statement := range statements {
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}

	var indexed int64
	if err := db.Raw("SELECT count(*) FROM notes_fts").Scan(&indexed).Error; err != nil {
		return err
	}
	if indexed == 0 {
		return db.Exec(
			"INSERT INTO notes_fts(sync_key, id, title, content) SELECT sync_key, id, title, content FROM notes",
		).Error
	}
	return nil
}
