package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRepairPageHighlightCounts = "2026-09-14_repair_page_highlight_counts"
	migrationDropEmptyPages            = "2026-09-21_drop_empty_pages"
)

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
		{name: migrationRepairPageHighlightCounts, apply: repairPageHighlightCounts},
		{name: migrationDropEmptyPages, apply: dropEmptyPages},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// repairPageHighlightCounts recomputes the cached count of every page from
// its records.
func repairPageHighlightCounts(db *gorm.DB) error {
	return db.Exec(`UPDATE highlight_pages SET highlight_count = (
		SELECT COUNT(*) FROM highlight_records
		WHERE highlight_records.user_id = highlight_pages.user_id
		AND highlight_records.page_key = highlight_pages.page_key
	)`).Error
}

// dropEmptyPages removes page rows left without records; saving an empty
// record list deletes the page.
func dropEmptyPages(db *gorm.DB) error {
	return db.Exec("DELETE FROM highlight_pages WHERE highlight_count = 0").Error
}
