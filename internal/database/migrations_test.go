package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/highlighter/internal/pages"
)

func openTestDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&pages.Page{}, &pages.StoredHighlight{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func TestApplyMigrationsRepairsPageCounts(testContext *testing.T) {
	database := openTestDatabase(testContext)

	stale := pages.Page{UserID: "user-1", PageKey: "highlights_a", PageURL: "https://example.com/a", HighlightCount: 7, UpdatedAtSeconds: 1}
	orphan := pages.Page{UserID: "user-1", PageKey: "highlights_b", PageURL: "https://example.com/b", HighlightCount: 2, UpdatedAtSeconds: 1}
	if err := database.Create(&[]pages.Page{stale, orphan}).Error; err != nil {
		testContext.Fatalf("failed to insert pages: %v", err)
	}
	rows := []pages.StoredHighlight{
		{UserID: "user-1", PageKey: "highlights_a", HighlightID: "h1", Position: 0, Text: "one", Color: "yellow", CreatedAtMillis: 1},
		{UserID: "user-1", PageKey: "highlights_a", HighlightID: "h2", Position: 1, Text: "two", Color: "green", CreatedAtMillis: 2},
	}
	if err := database.Create(&rows).Error; err != nil {
		testContext.Fatalf("failed to insert records: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var repaired pages.Page
	if err := database.Where("user_id = ? AND page_key = ?", stale.UserID, stale.PageKey).Take(&repaired).Error; err != nil {
		testContext.Fatalf("failed to reload page: %v", err)
	}
	if repaired.HighlightCount != 2 {
		testContext.Fatalf("expected highlight count to be repaired, got %d", repaired.HighlightCount)
	}

	var remaining int64
	if err := database.Model(&pages.Page{}).Where("page_key = ?", orphan.PageKey).Count(&remaining).Error; err != nil {
		testContext.Fatalf("failed to count pages: %v", err)
	}
	if remaining != 0 {
		testContext.Fatalf("expected empty page to be dropped")
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationRepairPageHighlightCounts).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database := openTestDatabase(testContext)
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	page := pages.Page{UserID: "user-1", PageKey: "highlights_c", PageURL: "https://example.com/c", HighlightCount: 3, UpdatedAtSeconds: 1}
	if err := database.Create(&page).Error; err != nil {
		testContext.Fatalf("failed to insert page: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to reapply migrations: %v", err)
	}

	var stored pages.Page
	if err := database.Where("page_key = ?", page.PageKey).Take(&stored).Error; err != nil {
		testContext.Fatalf("expected page to survive a second run: %v", err)
	}
	if stored.HighlightCount != 3 {
		testContext.Fatalf("expected applied migrations to be skipped, got count %d", stored.HighlightCount)
	}
}

func TestOpenSQLiteStripsProviderPrefix(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "open.db")
	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	row := pages.StoredHighlight{UserID: "google:42", PageKey: "highlights_d", HighlightID: "h1", Text: "t", Color: "red", CreatedAtMillis: 1}
	if err := database.Create(&row).Error; err != nil {
		testContext.Fatalf("failed to insert record: %v", err)
	}
	if err := migrateUserIDs(database); err != nil {
		testContext.Fatalf("failed to migrate user ids: %v", err)
	}

	var stored pages.StoredHighlight
	if err := database.Where("page_key = ?", row.PageKey).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload record: %v", err)
	}
	if stored.UserID != "42" {
		testContext.Fatalf("expected canonical user id, got %q", stored.UserID)
	}
}
