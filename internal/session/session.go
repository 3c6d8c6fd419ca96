package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/highlighter/internal/anchor"
	"github.com/MarcoPoloResearchLab/highlighter/internal/appearance"
	"github.com/MarcoPoloResearchLab/highlighter/internal/dom"
	"github.com/MarcoPoloResearchLab/highlighter/internal/export"
	"github.com/MarcoPoloResearchLab/highlighter/internal/highlights"
	"github.com/MarcoPoloResearchLab/highlighter/internal/mutate"
)

// Action names of the messaging boundary.
const (
	ActionPing                 = "ping"
	ActionSelectText           = "select-text"
	ActionApplyHighlight       = "apply-highlight"
	ActionSetColor             = "set-color"
	ActionRemoveFromSelection  = "remove-highlight-from-selection"
	ActionRemoveByID           = "remove-highlight-by-id"
	ActionMarkerClick          = "marker-click"
	ActionGetHighlights        = "get-highlights"
	ActionNavigate             = "navigate-to-highlight"
	ActionClearAll             = "clear-all-highlights"
	ActionImport               = "import-highlights"
	ActionUpdateCustomColors   = "update-custom-colors"
	ActionUpdateOpacity        = "update-opacity"
	ActionUpdateBorderRadius   = "update-border-radius"
	ActionUpdateHighlightStyle = "update-highlight-style"
	ActionUpdateSetting        = "update-setting"
	ActionToggleEnabled        = "toggle-enabled"
	ActionPageVisible          = "page-visible"
)

// Setting keys with an immediate effect.
const (
	SettingAutoSaveInterval = "autoSaveInterval"
	SettingMaxHighlights    = "maxHighlights"
)

const (
	errorCodeUnknownAction    = "unknown_action"
	errorCodeInvalidRequest   = "invalid_request"
	errorCodeInvalidSelection = "invalid_selection"
	errorCodeInvalidColor     = "invalid_color"
	errorCodeInvalidStyle     = "invalid_style"
	errorCodeInvalidSetting   = "invalid_setting"
	errorCodeNotFound         = "not_found"
	errorCodeLimitReached     = "limit_reached"
	errorCodeDisabled         = "disabled"
	errorCodeInternal         = "internal_error"

	opDispatch         = "session.dispatch"
	reasonCreateFailed = "create_failed"
)

var errNoRange = errors.New("session: selection carries no offsets")

// Point is a boundary given as a character offset into the rendered text
// of the document.
type Point struct {
	TextOffset int `json:"text_offset"`
}

// Selection is either a live selection (start and end offsets) or a
// stored selection (text and path) that has to be located.
type Selection struct {
	Text  string `json:"text,omitempty"`
	Path  string `json:"path,omitempty"`
	Start *Point `json:"start,omitempty"`
	End   *Point `json:"end,omitempty"`
}

// Request is one messaging action.
type Request struct {
	Action       string                `json:"action"`
	Color        string                `json:"color,omitempty"`
	Selection    *Selection            `json:"selection,omitempty"`
	HighlightID  string                `json:"highlightId,omitempty"`
	Index        *int                  `json:"index,omitempty"`
	Highlights   []export.ImportRecord `json:"highlights,omitempty"`
	Colors       map[string]string     `json:"colors,omitempty"`
	Opacity      *int                  `json:"opacity,omitempty"`
	BorderRadius *int                  `json:"borderRadius,omitempty"`
	Style        string                `json:"style,omitempty"`
	Key          string                `json:"key,omitempty"`
	Value        json.RawMessage       `json:"value,omitempty"`
	Enabled      *bool                 `json:"enabled,omitempty"`
	Query        string                `json:"query,omitempty"`
}

// Response answers a Request. Success is always present.
type Response struct {
	Success    bool                `json:"success"`
	Error      string              `json:"error,omitempty"`
	Ready      bool                `json:"ready,omitempty"`
	Timestamp  int64               `json:"timestamp,omitempty"`
	Highlight  *highlights.Record  `json:"highlight,omitempty"`
	Highlights []highlights.Record `json:"highlights,omitempty"`
	Removed    []string            `json:"removed,omitempty"`
	Imported   int                 `json:"imported,omitempty"`
	Restored   int                 `json:"restored,omitempty"`
	Missing    []string            `json:"missing,omitempty"`
	Enabled    *bool               `json:"enabled,omitempty"`
	Notices    []Notice            `json:"notices,omitempty"`
}

// Session is one document context. All document work runs under mu.
type Session struct {
	id      string
	userID  string
	pageURL string
	pageKey string

	mu            sync.Mutex
	doc           *dom.Document
	store         *highlights.Store
	driver        *highlights.Driver
	appearance    appearance.Settings
	enabled       bool
	color         highlights.Color
	settings      map[string]any
	lastSelection *Selection

	publisher EventPublisher
	logger    *zap.Logger
	clock     func() time.Time
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// PageKey returns the storage key of the page.
func (s *Session) PageKey() string {
	return s.pageKey
}

// PageURL returns the URL the session was opened with.
func (s *Session) PageURL() string {
	return s.pageURL
}

// Records returns the highlight records of the page.
func (s *Session) Records() []highlights.Record {
	return s.store.Records()
}

// Render serializes the document with its markers and style elements.
func (s *Session) Render() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Render()
}

// Setting returns a value stored by update-setting.
func (s *Session) Setting(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.settings[key]
	return value, ok
}

// Dispatch runs one action. It never panics outward and never returns an
// error; failures are reported through Response.Error.
func (s *Session) Dispatch(ctx context.Context, request Request) (response Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("session action panicked",
				zap.String("action", request.Action),
				zap.Any("panic", recovered))
			response = Response{Error: errorCodeInternal}
		}
		if len(response.Notices) > 0 {
			s.publish(EventNotice, nil, response.Notices)
		}
	}()

	switch request.Action {
	case ActionPing:
		return Response{Success: true, Ready: true, Timestamp: s.clock().UnixMilli()}
	case ActionSelectText:
		return s.selectText(request.Selection)
	case ActionApplyHighlight:
		return s.applyHighlight(request.Color, request.Selection)
	case ActionSetColor:
		return s.setColor(request.Color)
	case ActionRemoveFromSelection:
		return s.removeFromSelection(request.Selection)
	case ActionRemoveByID:
		return s.removeByID(request.HighlightID)
	case ActionMarkerClick:
		return s.markerClick(request.HighlightID, request.Selection)
	case ActionGetHighlights:
		return Response{Success: true, Highlights: export.Filter(s.store.Records(), request.Query, request.Color)}
	case ActionNavigate:
		if request.Index == nil {
			return Response{Error: errorCodeInvalidRequest}
		}
		return Response{Success: s.store.Navigate(*request.Index)}
	case ActionClearAll:
		return s.clearAll(ctx)
	case ActionImport:
		return s.importHighlights(request.Highlights)
	case ActionUpdateCustomColors:
		merged, err := s.appearance.MergeColors(request.Colors)
		if err != nil {
			return Response{Error: errorCodeInvalidColor}
		}
		return s.restyle(merged)
	case ActionUpdateOpacity:
		if request.Opacity == nil {
			return Response{Error: errorCodeInvalidRequest}
		}
		return s.restyle(s.appearance.WithOpacity(*request.Opacity))
	case ActionUpdateBorderRadius:
		if request.BorderRadius == nil {
			return Response{Error: errorCodeInvalidRequest}
		}
		return s.restyle(s.appearance.WithBorderRadius(*request.BorderRadius))
	case ActionUpdateHighlightStyle:
		mode, err := appearance.ParseStyleMode(request.Style)
		if err != nil {
			return Response{Error: errorCodeInvalidStyle}
		}
		return s.restyle(s.appearance.WithStyle(mode))
	case ActionUpdateSetting:
		return s.updateSetting(request.Key, request.Value)
	case ActionToggleEnabled:
		if request.Enabled != nil {
			s.enabled = *request.Enabled
		} else {
			s.enabled = !s.enabled
		}
		enabled := s.enabled
		return Response{Success: true, Enabled: &enabled}
	case ActionPageVisible:
		report, ran := s.driver.RestoreIfNeeded()
		if ran && report.Restored > 0 {
			s.publish(EventHighlightsChanged, nil, nil)
		}
		return Response{Success: true, Restored: report.Restored, Missing: report.Missing}
	default:
		return Response{Error: errorCodeUnknownAction}
	}
}

func (s *Session) selectText(selection *Selection) Response {
	rng, err := s.liveRange(selection)
	if err != nil {
		return Response{Error: errorCodeInvalidSelection}
	}
	text := anchor.NormalizeText(rng.String())
	if text == "" {
		s.lastSelection = nil
		s.doc.Selection().RemoveAllRanges()
		return Response{Error: errorCodeInvalidSelection}
	}
	s.doc.Selection().RemoveAllRanges()
	s.doc.Selection().AddRange(rng)
	s.lastSelection = &Selection{Text: text, Path: anchor.Encode(rng).Path}
	return Response{Success: true}
}

func (s *Session) applyHighlight(rawColor string, selection *Selection) Response {
	if !s.enabled {
		return Response{Error: errorCodeDisabled, Notices: []Notice{newNotice(noticeDisabled)}}
	}
	color := s.color
	if strings.TrimSpace(rawColor) != "" {
		parsed, err := highlights.ParseColor(rawColor)
		if err != nil {
			return Response{Error: errorCodeInvalidColor}
		}
		color = parsed
	}

	var (
		result highlights.CreateResult
		err    error
	)
	switch {
	case selection.hasOffsets():
		rng, rangeErr := s.liveRange(selection)
		if rangeErr != nil {
			return Response{Error: errorCodeInvalidSelection}
		}
		s.rememberSelection(rng)
		result, err = s.store.Create(rng, color)
	case selection != nil && strings.TrimSpace(selection.Text) != "":
		s.lastSelection = &Selection{Text: anchor.NormalizeText(selection.Text), Path: selection.Path}
		result, err = s.store.CreateFromSelection(selection.Text, selection.Path, color)
	case s.doc.Selection().RangeCount() > 0:
		result, err = s.store.Create(s.doc.Selection().RangeAt(0), color)
	default:
		return Response{Error: errorCodeInvalidSelection}
	}
	return s.createResponse(result, err)
}

func (s *Session) setColor(rawColor string) Response {
	color, err := highlights.ParseColor(rawColor)
	if err != nil {
		return Response{Error: errorCodeInvalidColor}
	}
	s.color = color
	if s.lastSelection == nil || s.lastSelection.Text == "" {
		return Response{Success: true, Notices: []Notice{newNotice(noticeNoSelection)}}
	}
	if !s.enabled {
		return Response{Error: errorCodeDisabled, Notices: []Notice{newNotice(noticeDisabled)}}
	}
	result, err := s.store.CreateFromSelection(s.lastSelection.Text, s.lastSelection.Path, color)
	return s.createResponse(result, err)
}

func (s *Session) createResponse(result highlights.CreateResult, err error) Response {
	if err != nil {
		switch {
		case errors.Is(err, highlights.ErrNotFound):
			return Response{Error: errorCodeNotFound, Removed: result.Removed, Notices: []Notice{newNotice(noticeNotFound)}}
		case errors.Is(err, highlights.ErrLimitReached):
			return Response{Error: errorCodeLimitReached, Notices: []Notice{newNotice(noticeLimitReached)}}
		case errors.Is(err, highlights.ErrInvalidSelection), errors.Is(err, mutate.ErrCollapsed):
			return Response{Error: errorCodeInvalidSelection, Removed: result.Removed}
		case errors.Is(err, highlights.ErrInvalidColor):
			return Response{Error: errorCodeInvalidColor}
		default:
			s.logError(opDispatch, reasonCreateFailed, err)
			return Response{Error: errorCodeInternal, Removed: result.Removed}
		}
	}
	s.lastSelection = nil
	s.doc.Selection().RemoveAllRanges()
	record := result.Record
	response := Response{Success: true, Highlight: &record, Removed: result.Removed}
	if result.Deferred {
		response.Notices = []Notice{newNotice(noticeDeferred)}
	}
	s.publish(EventHighlightsChanged, append([]string{record.ID}, result.Removed...), nil)
	return response
}

func (s *Session) removeFromSelection(selection *Selection) Response {
	var rng *dom.Range
	switch {
	case selection.hasOffsets():
		live, err := s.liveRange(selection)
		if err != nil {
			return Response{Error: errorCodeInvalidSelection}
		}
		rng = live
	case s.doc.Selection().RangeCount() > 0:
		rng = s.doc.Selection().RangeAt(0)
	default:
		return Response{Error: errorCodeInvalidSelection}
	}
	id, removed := s.store.RemoveAtRange(rng)
	if id == "" {
		return Response{Success: false}
	}
	s.publish(EventHighlightsChanged, []string{id}, nil)
	return Response{Success: removed, Removed: []string{id}}
}

func (s *Session) removeByID(id string) Response {
	if strings.TrimSpace(id) == "" {
		return Response{Error: errorCodeInvalidRequest}
	}
	removed := s.store.RemoveByID(id)
	s.publish(EventHighlightsChanged, []string{id}, nil)
	return Response{Success: removed, Removed: []string{id}}
}

func (s *Session) markerClick(id string, selection *Selection) Response {
	if id == "" && selection != nil && selection.Start != nil {
		offset, ok := byteOffset(s.doc.RenderedText(), selection.Start.TextOffset)
		if !ok {
			return Response{Error: errorCodeInvalidSelection}
		}
		boundary, err := s.doc.BoundaryAt(offset, true)
		if err != nil {
			return Response{Error: errorCodeInvalidSelection}
		}
		if marker := mutate.EnclosingMarker(boundary.Node, s.doc.Body()); marker != nil {
			id = mutate.MarkerID(marker)
		}
	}
	if id == "" {
		return Response{Success: false}
	}
	return s.removeByID(id)
}

func (s *Session) clearAll(ctx context.Context) Response {
	ids := make([]string, 0, s.store.Count())
	for _, record := range s.store.Records() {
		ids = append(ids, record.ID)
	}
	// Write failures are logged by the store; the page is cleared either way.
	_ = s.store.ClearAll(ctx)
	s.publish(EventHighlightsChanged, ids, nil)
	return Response{Success: true, Removed: ids}
}

func (s *Session) importHighlights(entries []export.ImportRecord) Response {
	added, err := s.store.ImportMany(export.ToRecords(entries))
	if added > 0 {
		s.publish(EventHighlightsChanged, nil, nil)
	}
	if err != nil {
		return Response{Error: errorCodeInternal, Imported: added}
	}
	return Response{Success: true, Imported: added}
}

func (s *Session) restyle(settings appearance.Settings) Response {
	if err := appearance.Apply(s.doc, settings); err != nil {
		s.logger.Warn("appearance not applied", zap.Error(err))
		return Response{Error: errorCodeInternal}
	}
	s.appearance = settings
	return Response{Success: true}
}

func (s *Session) updateSetting(key string, raw json.RawMessage) Response {
	key = strings.TrimSpace(key)
	if key == "" {
		return Response{Error: errorCodeInvalidRequest}
	}
	var value any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &value); err != nil {
			return Response{Error: errorCodeInvalidSetting}
		}
	}
	switch key {
	case SettingAutoSaveInterval:
		seconds, ok := value.(float64)
		if !ok || seconds <= 0 {
			return Response{Error: errorCodeInvalidSetting}
		}
		s.store.SetSaveDelay(time.Duration(seconds * float64(time.Second)))
	case SettingMaxHighlights:
		limit, ok := value.(float64)
		if !ok || limit < 0 {
			return Response{Error: errorCodeInvalidSetting}
		}
		s.store.SetMaxHighlights(int(limit))
	}
	s.settings[key] = value
	return Response{Success: true}
}

func (sel *Selection) hasOffsets() bool {
	return sel != nil && sel.Start != nil && sel.End != nil
}

// liveRange converts character offsets into a document range.
func (s *Session) liveRange(selection *Selection) (*dom.Range, error) {
	if !selection.hasOffsets() {
		return nil, errNoRange
	}
	rendered := s.doc.RenderedText()
	start, ok := byteOffset(rendered, selection.Start.TextOffset)
	if !ok {
		return nil, fmt.Errorf("%w: start %d", highlights.ErrInvalidSelection, selection.Start.TextOffset)
	}
	end, ok := byteOffset(rendered, selection.End.TextOffset)
	if !ok || end < start {
		return nil, fmt.Errorf("%w: end %d", highlights.ErrInvalidSelection, selection.End.TextOffset)
	}
	return s.doc.RangeAt(start, end)
}

func (s *Session) rememberSelection(rng *dom.Range) {
	text := anchor.NormalizeText(rng.String())
	if text == "" {
		return
	}
	s.lastSelection = &Selection{Text: text, Path: anchor.Encode(rng).Path}
}

func (s *Session) publish(eventType string, ids []string, notices []Notice) {
	s.publisher.Publish(Event{
		UserID:       s.userID,
		SessionID:    s.id,
		PageKey:      s.pageKey,
		Type:         eventType,
		HighlightIDs: ids,
		Notices:      notices,
		Timestamp:    s.clock(),
	})
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Close()
}

func (s *Session) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("session error", attrs...)
}

// byteOffset converts a character offset into a byte offset of text.
func byteOffset(text string, chars int) (int, bool) {
	if chars < 0 {
		return 0, false
	}
	count := 0
	for index := range text {
		if count == chars {
			return index, true
		}
		count++
	}
	if count == chars {
		return len(text), true
	}
	return 0, false
}
