package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/highlighter/internal/auth"
	"github.com/MarcoPoloResearchLab/highlighter/internal/export"
	"github.com/MarcoPoloResearchLab/highlighter/internal/highlights"
	"github.com/MarcoPoloResearchLab/highlighter/internal/pages"
	"github.com/MarcoPoloResearchLab/highlighter/internal/session"
)

const (
	userIDContextKey  = "highlighter_user_id"
	heartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingSessionManager   = errors.New("session manager dependency required")
	errMissingPageRepository   = errors.New("page repository dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// SessionValidator validates session tokens.
type SessionValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
	CookieName() string
}

// UserResolver maps session claims to a canonical user id.
type UserResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
}

// PageReader loads the stored records of a page.
type PageReader interface {
	Load(ctx context.Context, userID, pageKey string) ([]highlights.Record, error)
}

type Dependencies struct {
	SessionValidator SessionValidator
	Users            UserResolver
	Sessions         *session.Manager
	Pages            PageReader
	Realtime         *RealtimeDispatcher
	RateLimit        RateLimitConfig
	Logger           *zap.Logger
	Clock            func() time.Time
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.Pages == nil {
		return nil, errMissingPageRepository
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		validator: deps.SessionValidator,
		users:     deps.Users,
		sessions:  deps.Sessions,
		pages:     deps.Pages,
		realtime:  realtime,
		logger:    logger,
		clock:     clock,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.Use(newUserRateLimiter(deps.RateLimit).middleware())
	protected.POST("/sessions", handler.handleOpenSession)
	protected.GET("/sessions/:id/document", handler.handleDocument)
	protected.POST("/sessions/:id/actions", handler.handleAction)
	protected.DELETE("/sessions/:id", handler.handleCloseSession)
	protected.GET("/highlights", handler.handleListHighlights)
	protected.GET("/highlights/export", handler.handleExportHighlights)
	protected.GET("/events", handler.handleEventStream)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-TAuth-Tenant"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	validator SessionValidator
	users     UserResolver
	sessions  *session.Manager
	pages     PageReader
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
	clock     func() time.Time
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type openSessionRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

func (h *httpHandler) handleOpenSession(c *gin.Context) {
	var request openSessionRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.URL) == "" || strings.TrimSpace(request.HTML) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	_, result, err := h.sessions.Open(c.Request.Context(), c.GetString(userIDContextKey), request.URL, request.HTML)
	if err != nil {
		h.logger.Error("failed to open session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_open_failed"})
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *httpHandler) handleDocument(c *gin.Context) {
	current, ok := h.lookupSession(c)
	if !ok {
		return
	}
	rendered, err := current.Render()
	if err != nil {
		h.logger.Error("failed to render document", zap.String("session_id", current.ID()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render_failed"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(rendered))
}

func (h *httpHandler) handleAction(c *gin.Context) {
	current, ok := h.lookupSession(c)
	if !ok {
		return
	}
	var request session.Request
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Action) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}
	c.JSON(http.StatusOK, current.Dispatch(c.Request.Context(), request))
}

func (h *httpHandler) handleCloseSession(c *gin.Context) {
	err := h.sessions.Close(c.GetString(userIDContextKey), c.Param("id"))
	if errors.Is(err, session.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to close session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_close_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type highlightsResponsePayload struct {
	URL        string              `json:"url"`
	PageKey    string              `json:"page_key"`
	Highlights []highlights.Record `json:"highlights"`
}

func (h *httpHandler) handleListHighlights(c *gin.Context) {
	pageURL := strings.TrimSpace(c.Query("url"))
	if pageURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	records, ok := h.loadPage(c, pageURL)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, highlightsResponsePayload{
		URL:        pageURL,
		PageKey:    pages.DeriveKey(pageURL),
		Highlights: export.Filter(records, c.Query("q"), c.Query("color")),
	})
}

func (h *httpHandler) handleExportHighlights(c *gin.Context) {
	pageURL := strings.TrimSpace(c.Query("url"))
	if pageURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_format"})
		return
	}
	records, ok := h.loadPage(c, pageURL)
	if !ok {
		return
	}
	now := h.clock()
	data, err := export.Encode(export.NewPayload(pageURL, records, now), format)
	if err != nil {
		h.logger.Error("failed to encode export", zap.String("format", string(format)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export_failed"})
		return
	}
	filename := fmt.Sprintf("highlights_%s.%s", now.UTC().Format("2006-01-02"), fileExtension(format))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, format.ContentType(), data)
}

type streamEventPayload struct {
	SessionID    string           `json:"sessionId,omitempty"`
	PageKey      string           `json:"pageKey,omitempty"`
	HighlightIDs []string         `json:"highlightIds,omitempty"`
	Notices      []session.Notice `json:"notices,omitempty"`
	Timestamp    string           `json:"timestamp"`
	Source       string           `json:"source"`
}

func (h *httpHandler) handleEventStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if !h.writeEvent(c, realtimeEventHeartbeat, streamEventPayload{Timestamp: h.clock().UTC().Format(time.RFC3339), Source: realtimeSourceBackend}) {
				return
			}
		case message, open := <-stream:
			if !open {
				return
			}
			payload := streamEventPayload{
				SessionID:    message.SessionID,
				PageKey:      message.PageKey,
				HighlightIDs: message.HighlightIDs,
				Notices:      message.Notices,
				Timestamp:    message.Timestamp.UTC().Format(time.RFC3339),
				Source:       realtimeSourceBackend,
			}
			if !h.writeEvent(c, message.EventType, payload) {
				return
			}
		}
	}
}

func (h *httpHandler) writeEvent(c *gin.Context, eventType string, payload streamEventPayload) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to encode stream event", zap.Error(err))
		return false
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := auth.ExtractToken(c.Request, h.validator.CookieName())
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID := strings.TrimSpace(claims.UserID)
	if h.users != nil {
		resolved, err := h.users.ResolveCanonicalUserID(claims)
		if err != nil {
			h.logger.Warn("user resolution failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userID = resolved
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) lookupSession(c *gin.Context) (*session.Session, bool) {
	current, err := h.sessions.Get(c.GetString(userIDContextKey), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return nil, false
	}
	return current, true
}

func (h *httpHandler) loadPage(c *gin.Context, pageURL string) ([]highlights.Record, bool) {
	records, err := h.pages.Load(c.Request.Context(), c.GetString(userIDContextKey), pages.DeriveKey(pageURL))
	if err != nil {
		h.logger.Error("failed to load page highlights", zap.String("page_url", pageURL), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load_failed"})
		return nil, false
	}
	return records, true
}

func fileExtension(format export.Format) string {
	switch format {
	case export.FormatYAML:
		return "yaml"
	case export.FormatMarkdown:
		return "md"
	default:
		return "json"
	}
}
