package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/plumeworks/plume/backend/internal/content"
	"github.com/plumeworks/plume/backend/internal/drafts"
)

const migrationBackfillContentFingerprints = "2026-08-12_backfill_content_fingerprints"

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
		{name: migrationBackfillContentFingerprints, apply: backfillContentFingerprints},
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

// backfillContentFingerprints computes fingerprints for drafts written before
// change detection existed. Rows with undecodable content are left untouched
// so the next successful save repairs them.
func backfillContentFingerprints(db *gorm.DB) error {
	var rows []drafts.Draft
	if err := db.
		Where("content_json <> '' AND content_fingerprint = ''").
		Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		tree, err := content.DecodeTree(row.ContentJSON)
		if err != nil {
			continue
		}
		if err := db.Model(&drafts.Draft{}).
			Where("draft_id = ?", row.DraftID).
			Update("content_fingerprint", content.Fingerprint(tree)).Error; err != nil {
			return err
		}
	}
	return nil
}
