package highlights

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/highlighter/internal/anchor"
	"github.com/MarcoPoloResearchLab/highlighter/internal/dom"
	"github.com/MarcoPoloResearchLab/highlighter/internal/locate"
	"github.com/MarcoPoloResearchLab/highlighter/internal/mutate"
	"github.com/MarcoPoloResearchLab/highlighter/internal/overlap"
)

var (
	errMissingDocument    = errors.New("document is required")
	errMissingPersistence = errors.New("persistence is required")
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

const (
	opStoreNew   = "highlights.store.new"
	opLoad       = "highlights.load"
	opSave       = "highlights.save"
	opCreate     = "highlights.create"
	opClearAll   = "highlights.clear_all"
	opImportMany = "highlights.import_many"

	saveTimeout   = 10 * time.Second
	focusDuration = time.Second
	// FocusAttribute marks a marker that was just navigated to.
	FocusAttribute = "data-highlight-focus"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// StoreConfig wires a Store.
type StoreConfig struct {
	Document    *dom.Document
	Persistence Persistence
	IDProvider  IDProvider
	Clock       func() time.Time
	Logger      *zap.Logger
	// SaveDelay is the persistence debounce window.
	SaveDelay time.Duration
	// MaxHighlights caps the records of the page; zero means unlimited.
	MaxHighlights int
	// DocumentLock guards the document for work started from timers.
	DocumentLock sync.Locker
}

// Store is the ordered collection of highlight records of one document.
// Operations other than the persistence timer run under the caller's
// document lock.
type Store struct {
	doc          *dom.Document
	persistence  Persistence
	idProvider   IDProvider
	clock        func() time.Time
	logger       *zap.Logger
	locator      *locate.Locator
	mutator      *mutate.Mutator
	resolver     *overlap.Resolver
	scheduler    *Scheduler
	documentLock sync.Locker

	mu            sync.Mutex
	records       []Record
	maxHighlights int
	onImport      func()
}

// CreateResult describes a created highlight.
type CreateResult struct {
	Record  Record
	Removed []string
	// Deferred is set when the record was saved without a visible marker.
	Deferred bool
}

// NewStore validates cfg and builds a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Document == nil {
		return nil, newServiceError(opStoreNew, "missing_document", errMissingDocument)
	}
	if cfg.Persistence == nil {
		return nil, newServiceError(opStoreNew, "missing_persistence", errMissingPersistence)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	documentLock := cfg.DocumentLock
	if documentLock == nil {
		documentLock = &sync.Mutex{}
	}
	store := &Store{
		doc:           cfg.Document,
		persistence:   cfg.Persistence,
		idProvider:    idProvider,
		clock:         clock,
		logger:        logger,
		locator:       locate.NewLocator(cfg.Document, logger),
		mutator:       mutate.NewMutator(cfg.Document, logger),
		documentLock:  documentLock,
		maxHighlights: cfg.MaxHighlights,
	}
	store.resolver = overlap.NewResolver(cfg.Document, store, logger)
	store.scheduler = NewScheduler(cfg.SaveDelay, store.persist)
	return store, nil
}

// Load replaces the collection with the persisted records. A read failure
// leaves the collection empty and is returned for logging only.
func (s *Store) Load(ctx context.Context) error {
	loaded, err := s.persistence.Load(ctx)
	if err != nil {
		s.logError(opLoad, "persistence_read_failed", err)
		s.replace(nil)
		return newServiceError(opLoad, "persistence_read_failed", err)
	}
	seen := make(map[string]bool, len(loaded))
	records := make([]Record, 0, len(loaded))
	for _, record := range loaded {
		if record.ID == "" || seen[record.ID] || anchor.NormalizeText(record.Text) == "" {
			continue
		}
		seen[record.ID] = true
		records = append(records, record)
	}
	s.replace(records)
	return nil
}

// Records returns a copy of the collection in creation order.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// VisibleCount returns the number of distinct record ids with a marker in
// the document.
func (s *Store) VisibleCount() int {
	seen := make(map[string]bool)
	for _, marker := range mutate.Markers(s.doc) {
		seen[mutate.MarkerID(marker)] = true
	}
	return len(seen)
}

// Document returns the document the store operates on.
func (s *Store) Document() *dom.Document {
	return s.doc
}

// Create highlights rng with color. Selection boundaries are trimmed of
// whitespace; overlapping and duplicate highlights are removed before the
// marker is placed.
func (s *Store) Create(rng *dom.Range, color Color) (CreateResult, error) {
	if _, err := ParseColor(string(color)); err != nil {
		return CreateResult{}, err
	}
	start, end, err := s.trimmedOffsets(rng)
	if err != nil {
		return CreateResult{}, err
	}
	selected, err := s.doc.RangeAt(start, end)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}
	text := anchor.NormalizeText(selected.String())
	if text == "" {
		return CreateResult{}, ErrInvalidSelection
	}

	if limit := s.highlightLimit(); limit > 0 {
		colliding := make(map[string]bool)
		for _, id := range s.resolver.FindOverlapping(selected) {
			colliding[id] = true
		}
		for _, id := range overlap.FindDuplicates(s.entries(), text) {
			colliding[id] = true
		}
		if s.Count()-len(colliding) >= limit {
			return CreateResult{}, ErrLimitReached
		}
	}

	removed := s.resolver.Resolve(selected, text, s.entries())

	// Unwrapping merges text nodes; re-derive the range from offsets.
	target, err := s.doc.RangeAt(start, end)
	if err != nil {
		s.logError(opCreate, "range_lost", err)
		return CreateResult{Removed: removed}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}
	offset, length := s.characterSpan(start, end)
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return CreateResult{Removed: removed}, newServiceError(opCreate, "id_generation_failed", err)
	}
	record := Record{
		ID:        id,
		Text:      text,
		Color:     color,
		Timestamp: s.clock().UnixMilli(),
		Anchor:    anchor.Anchor{Path: anchor.PathFor(target.StartElement()), Text: text},
		Offset:    offset,
		Length:    length,
	}
	result, err := s.mutator.Apply(target, s.markFor(record))
	if err != nil {
		return CreateResult{Removed: removed}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}

	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
	s.scheduler.Schedule()

	return CreateResult{Record: record, Removed: removed, Deferred: result.Deferred}, nil
}

// CreateFromSelection locates a stored selection and highlights it.
func (s *Store) CreateFromSelection(text, path string, color Color) (CreateResult, error) {
	if anchor.NormalizeText(text) == "" {
		return CreateResult{}, ErrInvalidSelection
	}
	rng, err := s.locator.Locate(text, path)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return s.Create(rng, color)
}

// RemoveByID unwraps the marker and always drops the record. It reports
// whether the marker is gone from the document.
func (s *Store) RemoveByID(id string) bool {
	removed := s.mutator.Remove(id)
	s.mu.Lock()
	kept := s.records[:0]
	for _, record := range s.records {
		if record.ID != id {
			kept = append(kept, record)
		}
	}
	s.records = kept
	s.mu.Unlock()
	s.scheduler.Schedule()
	return removed
}

// RemoveAtRange removes the highlight enclosing rng, or failing that the
// first highlight intersecting it. It returns the removed id.
func (s *Store) RemoveAtRange(rng *dom.Range) (string, bool) {
	if rng == nil {
		return "", false
	}
	id := ""
	if marker := mutate.EnclosingMarker(rng.CommonAncestor(), s.doc.Body()); marker != nil {
		id = mutate.MarkerID(marker)
	} else if overlapping := s.resolver.FindOverlapping(rng); len(overlapping) > 0 {
		id = overlapping[0]
	}
	if id == "" {
		return "", false
	}
	return id, s.RemoveByID(id)
}

// ClearAll unwraps every marker, empties the collection and persists
// immediately.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mutator.RemoveAll()
	s.scheduler.Cancel()
	s.replace(nil)
	if err := s.persistence.Save(ctx, nil); err != nil {
		s.logError(opClearAll, "persistence_write_failed", err)
		return newServiceError(opClearAll, "persistence_write_failed", err)
	}
	return nil
}

// ImportMany appends incoming records that do not duplicate an existing
// record by normalized text and path. Imported records get a fresh id and
// timestamp. It returns how many were added and then triggers restore.
func (s *Store) ImportMany(incoming []Record) (int, error) {
	added := 0
	for _, candidate := range incoming {
		text := anchor.NormalizeText(candidate.Text)
		if text == "" {
			continue
		}
		color, err := ParseColor(string(candidate.Color))
		if err != nil {
			color = ColorYellow
		}
		if s.hasDuplicate(text, candidate.Anchor.Path) {
			continue
		}
		if limit := s.highlightLimit(); limit > 0 && s.Count() >= limit {
			s.logger.Info("import stopped at highlight limit", zap.Int("max_highlights", limit))
			break
		}
		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opImportMany, "id_generation_failed", err)
			return added, newServiceError(opImportMany, "id_generation_failed", err)
		}
		record := candidate
		record.ID = id
		record.Text = text
		record.Color = color
		record.Timestamp = s.clock().UnixMilli()
		record.Anchor.Text = text
		s.mu.Lock()
		s.records = append(s.records, record)
		s.mu.Unlock()
		added++
	}
	if added > 0 {
		s.scheduler.Schedule()
	}
	s.mu.Lock()
	hook := s.onImport
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return added, nil
}

// OnImport registers the function run after every import.
func (s *Store) OnImport(hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onImport = hook
}

// Navigate scrolls the marker of the record at index into view and
// outlines it briefly.
func (s *Store) Navigate(index int) bool {
	records := s.Records()
	if index < 0 || index >= len(records) {
		return false
	}
	marker := mutate.FindMarker(s.doc, records[index].ID)
	if marker == nil {
		return false
	}
	s.doc.Viewport().ScrollIntoView(marker)
	dom.SetAttr(marker, FocusAttribute, "true")
	time.AfterFunc(focusDuration, func() {
		s.documentLock.Lock()
		defer s.documentLock.Unlock()
		dom.RemoveAttr(marker, FocusAttribute)
	})
	return true
}

// SetSaveDelay changes the persistence debounce window.
func (s *Store) SetSaveDelay(delay time.Duration) {
	s.scheduler.SetDelay(delay)
}

// SaveDelay returns the persistence debounce window.
func (s *Store) SaveDelay() time.Duration {
	return s.scheduler.Delay()
}

// SetMaxHighlights changes the per-page cap; zero means unlimited.
func (s *Store) SetMaxHighlights(limit int) {
	if limit < 0 {
		limit = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxHighlights = limit
}

// Flush writes pending changes now.
func (s *Store) Flush() {
	s.scheduler.Flush()
}

// Close flushes pending changes and stops the scheduler.
func (s *Store) Close() {
	s.scheduler.Flush()
	s.scheduler.Stop()
}

// reapply locates record and places its marker. Markers that would overlap
// an applied highlight are not placed.
func (s *Store) reapply(record Record) (mutate.Result, error) {
	rng, err := s.locator.Locate(record.Text, record.Anchor.Path)
	if err != nil {
		return mutate.Result{}, err
	}
	if colliding := s.resolver.FindOverlapping(rng); len(colliding) > 0 {
		return mutate.Result{Deferred: true}, nil
	}
	return s.mutator.Apply(rng, s.markFor(record))
}

func (s *Store) persist() {
	records := s.Records()
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.persistence.Save(ctx, records); err != nil {
		s.logError(opSave, "persistence_write_failed", err, zap.Int("record_count", len(records)))
	}
}

// characterSpan converts the rendered-text byte span [start, end) into a
// character offset and length.
func (s *Store) characterSpan(start, end int) (int, int) {
	rendered := s.doc.RenderedText()
	if end > len(rendered) {
		end = len(rendered)
	}
	if start > end {
		start = end
	}
	return utf8.RuneCountInString(rendered[:start]), utf8.RuneCountInString(rendered[start:end])
}

func (s *Store) trimmedOffsets(rng *dom.Range) (int, int, error) {
	if rng == nil {
		return 0, 0, ErrInvalidSelection
	}
	start, err := s.doc.TextOffset(rng.Start)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}
	end, err := s.doc.TextOffset(rng.End)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}
	rendered := s.doc.RenderedText()
	if end > len(rendered) {
		end = len(rendered)
	}
	for start < end {
		r, size := utf8.DecodeRuneInString(rendered[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(rendered[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	if start >= end {
		return 0, 0, ErrInvalidSelection
	}
	return start, end, nil
}

func (s *Store) hasDuplicate(text, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if record.Anchor.Path == path && anchor.NormalizeText(record.Text) == text {
			return true
		}
	}
	return false
}

func (s *Store) entries() []overlap.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]overlap.Entry, 0, len(s.records))
	for _, record := range s.records {
		entries = append(entries, overlap.Entry{ID: record.ID, Text: record.Text})
	}
	return entries
}

func (s *Store) markFor(record Record) mutate.Mark {
	return mutate.Mark{
		ID:        record.ID,
		Color:     record.Color.String(),
		Text:      record.Text,
		Timestamp: record.CreatedAt(),
	}
}

func (s *Store) replace(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

func (s *Store) highlightLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxHighlights
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("highlight store error", attrs...)
}
