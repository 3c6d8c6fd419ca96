package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/highlighter/internal/pages"
	"github.com/MarcoPoloResearchLab/highlighter/internal/users"
)

const providerPrefix = "google:"

var ownedTables = []string{"highlight_pages", "highlight_records"}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&pages.Page{}, &pages.StoredHighlight{}, &users.Identity{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := migrateUserIDs(db); err != nil && logger != nil {
		logger.Warn("user id migration failed", zap.Error(err))
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// migrateUserIDs strips the provider prefix from owners written before
// canonical user ids. Rows whose canonical twin already exists are left alone.
func migrateUserIDs(db *gorm.DB) error {
	start := len(providerPrefix) + 1
	for _, table := range ownedTables {
		statement := fmt.Sprintf("UPDATE OR IGNORE %s SET user_id = substr(user_id, %d) WHERE user_id LIKE '%s%%';", table, start, providerPrefix)
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}
