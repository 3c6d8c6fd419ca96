package pages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/highlighter/internal/anchor"
	"github.com/MarcoPoloResearchLab/highlighter/internal/highlights"
)

const (
	opRepositoryNew = "pages.repository.new"
	opLoad          = "pages.load"
	opSave          = "pages.save"
	opListPages     = "pages.list"

	fieldUserID      = "user_id"
	fieldPageKey     = "page_key"
	queryUserID      = fieldUserID + " = ?"
	queryUserPage    = fieldUserID + " = ? AND " + fieldPageKey + " = ?"
	orderPosition    = "position ASC"
	orderUpdatedDesc = "updated_at_s DESC"

	reasonMissingDatabase = "missing_database"
	reasonMissingUser     = "missing_user"
	reasonMissingPageKey  = "missing_page_key"
	reasonQueryFailed     = "query_failed"
	reasonDeleteFailed    = "delete_failed"
	reasonInsertFailed    = "insert_failed"
	reasonUpsertFailed    = "page_upsert_failed"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUser     = errors.New("user id is required")
	errMissingPageKey  = errors.New("page key is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries an "operation.reason" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// RepositoryConfig wires a Repository.
type RepositoryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Repository stores highlight records in the database.
type Repository struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewRepository validates cfg and builds a Repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opRepositoryNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Repository{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Load returns the records of a page in creation order. An unknown page
// has no records.
func (r *Repository) Load(ctx context.Context, userID, pageKey string) ([]highlights.Record, error) {
	if err := validateScope(opLoad, userID, pageKey); err != nil {
		return nil, err
	}
	var rows []StoredHighlight
	err := r.db.WithContext(ctx).
		Where(queryUserPage, userID, pageKey).
		Order(orderPosition).
		Find(&rows).Error
	if err != nil {
		r.logError(opLoad, reasonQueryFailed, err, zap.String(fieldUserID, userID), zap.String(fieldPageKey, pageKey))
		return nil, newServiceError(opLoad, reasonQueryFailed, err)
	}
	records := make([]highlights.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

// Save replaces the records of a page. An empty set removes the page.
func (r *Repository) Save(ctx context.Context, userID, pageKey, pageURL string, records []highlights.Record) error {
	if err := validateScope(opSave, userID, pageKey); err != nil {
		return err
	}
	updatedAt := r.clock().UTC().Unix()
	return r.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Where(queryUserPage, userID, pageKey).Delete(&StoredHighlight{}).Error; err != nil {
			r.logError(opSave, reasonDeleteFailed, err, zap.String(fieldUserID, userID), zap.String(fieldPageKey, pageKey))
			return newServiceError(opSave, reasonDeleteFailed, err)
		}
		if len(records) == 0 {
			if err := transaction.Where(queryUserPage, userID, pageKey).Delete(&Page{}).Error; err != nil {
				r.logError(opSave, reasonDeleteFailed, err, zap.String(fieldUserID, userID), zap.String(fieldPageKey, pageKey))
				return newServiceError(opSave, reasonDeleteFailed, err)
			}
			return nil
		}
		rows := make([]StoredHighlight, 0, len(records))
		for position, record := range records {
			rows = append(rows, storedHighlight(userID, pageKey, position, record))
		}
		if err := transaction.Create(&rows).Error; err != nil {
			r.logError(opSave, reasonInsertFailed, err,
				zap.String(fieldUserID, userID),
				zap.String(fieldPageKey, pageKey),
				zap.Int("record_count", len(rows)))
			return newServiceError(opSave, reasonInsertFailed, err)
		}
		page := Page{
			UserID:           userID,
			PageKey:          pageKey,
			PageURL:          pageURL,
			HighlightCount:   len(rows),
			UpdatedAtSeconds: updatedAt,
		}
		if err := transaction.Save(&page).Error; err != nil {
			r.logError(opSave, reasonUpsertFailed, err, zap.String(fieldUserID, userID), zap.String(fieldPageKey, pageKey))
			return newServiceError(opSave, reasonUpsertFailed, err)
		}
		return nil
	})
}

// ListPages returns the pages of a user, most recently updated first.
func (r *Repository) ListPages(ctx context.Context, userID string) ([]Page, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, newServiceError(opListPages, reasonMissingUser, errMissingUser)
	}
	var pages []Page
	err := r.db.WithContext(ctx).
		Where(queryUserID, userID).
		Order(orderUpdatedDesc).
		Find(&pages).Error
	if err != nil {
		r.logError(opListPages, reasonQueryFailed, err, zap.String(fieldUserID, userID))
		return nil, newServiceError(opListPages, reasonQueryFailed, err)
	}
	return pages, nil
}

// Scope binds the repository to one user and page.
func (r *Repository) Scope(userID, pageURL string) *Scope {
	return &Scope{repository: r, userID: userID, pageURL: pageURL, pageKey: DeriveKey(pageURL)}
}

func (r *Repository) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Error("page repository error", attrs...)
}

// Scope is the highlights.Persistence of one user's page.
type Scope struct {
	repository *Repository
	userID     string
	pageURL    string
	pageKey    string
}

// Key returns the derived page key.
func (s *Scope) Key() string {
	return s.pageKey
}

// URL returns the page URL the scope was opened with.
func (s *Scope) URL() string {
	return s.pageURL
}

// Load implements highlights.Persistence.
func (s *Scope) Load(ctx context.Context) ([]highlights.Record, error) {
	return s.repository.Load(ctx, s.userID, s.pageKey)
}

// Save implements highlights.Persistence.
func (s *Scope) Save(ctx context.Context, records []highlights.Record) error {
	return s.repository.Save(ctx, s.userID, s.pageKey, s.pageURL, records)
}

func validateScope(operation, userID, pageKey string) error {
	if strings.TrimSpace(userID) == "" {
		return newServiceError(operation, reasonMissingUser, errMissingUser)
	}
	if strings.TrimSpace(pageKey) == "" {
		return newServiceError(operation, reasonMissingPageKey, errMissingPageKey)
	}
	return nil
}

func storedHighlight(userID, pageKey string, position int, record highlights.Record) StoredHighlight {
	return StoredHighlight{
		UserID:          userID,
		PageKey:         pageKey,
		HighlightID:     record.ID,
		Position:        position,
		Text:            record.Text,
		Color:           record.Color.String(),
		CreatedAtMillis: record.Timestamp,
		AnchorPath:      record.Anchor.Path,
		TextOffset:      record.Offset,
		TextLength:      record.Length,
	}
}

func (row StoredHighlight) record() highlights.Record {
	return highlights.Record{
		ID:        row.HighlightID,
		Text:      row.Text,
		Color:     highlights.Color(row.Color),
		Timestamp: row.CreatedAtMillis,
		Anchor:    anchor.Anchor{Path: row.AnchorPath, Text: row.Text},
		Offset:    row.TextOffset,
		Length:    row.TextLength,
	}
}
