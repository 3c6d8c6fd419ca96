// Package session hosts document contexts. A session owns one parsed page,
// its highlight store and its appearance, and answers messaging actions.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/highlighter/internal/appearance"
	"github.com/MarcoPoloResearchLab/highlighter/internal/dom"
	"github.com/MarcoPoloResearchLab/highlighter/internal/highlights"
	"github.com/MarcoPoloResearchLab/highlighter/internal/pages"
)

const (
	opManagerNew = "session.manager.new"
	opOpen       = "session.open"
	opGet        = "session.get"

	reasonMissingPersistence = "missing_persistence"
	reasonMissingUser        = "missing_user"
	reasonMissingURL         = "missing_url"
	reasonParseFailed        = "parse_failed"
	reasonSanitizeFailed     = "sanitize_failed"
	reasonStoreFailed        = "store_failed"
	reasonIDFailed           = "id_generation_failed"
	reasonNotFound           = "not_found"
)

var (
	// ErrSessionNotFound indicates an unknown or foreign session id.
	ErrSessionNotFound = errors.New("session: not found")

	errMissingPersistence = errors.New("persistence factory is required")
	errMissingUser        = errors.New("user id is required")
	errMissingURL         = errors.New("page url is required")
	noOpLogger            = zap.NewNop()
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

// PersistenceFactory binds storage to one user's page.
type PersistenceFactory func(userID, pageURL string) highlights.Persistence

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Persistence   PersistenceFactory
	Publisher     EventPublisher
	Logger        *zap.Logger
	Clock         func() time.Time
	SessionIDs    highlights.IDProvider
	RecordIDs     highlights.IDProvider
	SaveDelay     time.Duration
	MaxHighlights int
	Sanitize      bool
	Appearance    *appearance.Settings
}

// Manager is the registry of open sessions.
type Manager struct {
	persistence   PersistenceFactory
	publisher     EventPublisher
	logger        *zap.Logger
	clock         func() time.Time
	sessionIDs    highlights.IDProvider
	recordIDs     highlights.IDProvider
	saveDelay     time.Duration
	maxHighlights int
	sanitize      bool
	appearance    appearance.Settings

	mu       sync.RWMutex
	sessions map[string]*Session
}

// OpenResult describes a freshly opened session.
type OpenResult struct {
	SessionID  string              `json:"session_id"`
	PageKey    string              `json:"page_key"`
	Highlights []highlights.Record `json:"highlights"`
	Restored   int                 `json:"restored"`
	Missing    []string            `json:"missing,omitempty"`
}

// NewManager validates cfg and builds a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Persistence == nil {
		return nil, newServiceError(opManagerNew, reasonMissingPersistence, errMissingPersistence)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sessionIDs := cfg.SessionIDs
	if sessionIDs == nil {
		sessionIDs = highlights.NewUUIDProvider()
	}
	recordIDs := cfg.RecordIDs
	if recordIDs == nil {
		recordIDs = highlights.NewUUIDProvider()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = discardPublisher{}
	}
	settings := appearance.Defaults()
	if cfg.Appearance != nil {
		settings = cfg.Appearance.Clone()
	}
	return &Manager{
		persistence:   cfg.Persistence,
		publisher:     publisher,
		logger:        logger,
		clock:         clock,
		sessionIDs:    sessionIDs,
		recordIDs:     recordIDs,
		saveDelay:     cfg.SaveDelay,
		maxHighlights: cfg.MaxHighlights,
		sanitize:      cfg.Sanitize,
		appearance:    settings,
		sessions:      make(map[string]*Session),
	}, nil
}

// Open parses source as the document at pageURL, loads the stored records
// of the page and restores their markers.
func (m *Manager) Open(ctx context.Context, userID, pageURL, source string) (*Session, OpenResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, OpenResult{}, newServiceError(opOpen, reasonMissingUser, errMissingUser)
	}
	if strings.TrimSpace(pageURL) == "" {
		return nil, OpenResult{}, newServiceError(opOpen, reasonMissingURL, errMissingURL)
	}
	doc, err := dom.ParseString(source)
	if err != nil {
		m.logError(opOpen, reasonParseFailed, err, zap.String("page_url", pageURL))
		return nil, OpenResult{}, newServiceError(opOpen, reasonParseFailed, err)
	}
	if m.sanitize {
		if err := doc.Sanitize(dom.NewSanitizePolicy()); err != nil {
			m.logError(opOpen, reasonSanitizeFailed, err, zap.String("page_url", pageURL))
			return nil, OpenResult{}, newServiceError(opOpen, reasonSanitizeFailed, err)
		}
	}
	sessionID, err := m.sessionIDs.NewID()
	if err != nil {
		m.logError(opOpen, reasonIDFailed, err)
		return nil, OpenResult{}, newServiceError(opOpen, reasonIDFailed, err)
	}

	session := &Session{
		id:         sessionID,
		userID:     userID,
		pageURL:    pageURL,
		pageKey:    pages.DeriveKey(pageURL),
		doc:        doc,
		appearance: m.appearance.Clone(),
		enabled:    true,
		color:      highlights.ColorYellow,
		settings:   make(map[string]any),
		publisher:  m.publisher,
		logger:     m.logger.With(zap.String("session_id", sessionID)),
		clock:      m.clock,
	}
	store, err := highlights.NewStore(highlights.StoreConfig{
		Document:      doc,
		Persistence:   m.persistence(userID, pageURL),
		IDProvider:    m.recordIDs,
		Clock:         m.clock,
		Logger:        session.logger,
		SaveDelay:     m.saveDelay,
		MaxHighlights: m.maxHighlights,
		DocumentLock:  &session.mu,
	})
	if err != nil {
		m.logError(opOpen, reasonStoreFailed, err)
		return nil, OpenResult{}, newServiceError(opOpen, reasonStoreFailed, err)
	}
	session.store = store
	session.driver = highlights.NewDriver(store, session.logger)

	session.mu.Lock()
	if err := appearance.Apply(doc, session.appearance); err != nil {
		session.logger.Warn("appearance not applied", zap.Error(err))
	}
	// A read failure leaves the page without highlights.
	_ = store.Load(ctx)
	report := session.driver.Restore()
	records := store.Records()
	session.mu.Unlock()

	m.mu.Lock()
	m.sessions[sessionID] = session
	m.mu.Unlock()

	m.logger.Info("session opened",
		zap.String("session_id", sessionID),
		zap.String("page_key", session.pageKey),
		zap.Int("highlight_count", len(records)),
		zap.Int("restored", report.Restored))

	return session, OpenResult{
		SessionID:  sessionID,
		PageKey:    session.pageKey,
		Highlights: records,
		Restored:   report.Restored,
		Missing:    report.Missing,
	}, nil
}

// Get returns the session when it belongs to userID.
func (m *Manager) Get(userID, sessionID string) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok || session.userID != userID {
		return nil, newServiceError(opGet, reasonNotFound, ErrSessionNotFound)
	}
	return session, nil
}

// Close flushes and forgets a session.
func (m *Manager) Close(userID, sessionID string) error {
	session, err := m.Get(userID, sessionID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	session.close()
	m.logger.Info("session closed", zap.String("session_id", sessionID))
	return nil
}

// CloseAll flushes every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, session := range open {
		session.close()
	}
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	m.logger.Error("session manager error", attrs...)
}
