package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/highlighter/internal/auth"
	"github.com/MarcoPoloResearchLab/highlighter/internal/highlights"
	"github.com/MarcoPoloResearchLab/highlighter/internal/pages"
	"github.com/MarcoPoloResearchLab/highlighter/internal/session"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "tauth"
	testCookieName    = "app_session"
	testPageURL       = "https://example.com/article"
	testPageHTML      = "<html><head><title>Article</title></head><body><p>The quick brown fox jumps over the lazy dog</p></body></html>"
)

type apiFixture struct {
	server *httptest.Server
	token  string
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "highlighter.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	if err := database.AutoMigrate(&pages.Page{}, &pages.StoredHighlight{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	repository, err := pages.NewRepository(pages.RepositoryConfig{Database: database})
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	manager, err := session.NewManager(session.ManagerConfig{
		Persistence: func(userID, pageURL string) highlights.Persistence {
			return repository.Scope(userID, pageURL)
		},
		Publisher: dispatcher.SessionPublisher(),
		SaveDelay: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build session manager: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: validator,
		Sessions:         manager,
		Pages:            repository,
		Realtime:         dispatcher,
		Logger:           zap.NewNop(),
		Clock:            func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	t.Cleanup(manager.CloseAll)

	return apiFixture{server: server, token: signTestToken(t, "user-123")}
}

func signTestToken(t *testing.T, userID string) string {
	t.Helper()
	now := time.Now()
	claims := auth.SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func (f apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+f.token)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func decodeBody(t *testing.T, response *http.Response, target any) {
	t.Helper()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func (f apiFixture) openSession(t *testing.T) session.OpenResult {
	t.Helper()
	response := f.do(t, http.MethodPost, "/sessions", map[string]string{"url": testPageURL, "html": testPageHTML})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected open status: %d", response.StatusCode)
	}
	var opened session.OpenResult
	decodeBody(t, response, &opened)
	if opened.SessionID == "" || opened.PageKey != pages.DeriveKey(testPageURL) {
		t.Fatalf("unexpected open result %+v", opened)
	}
	return opened
}

func TestHealthEndpointIsPublic(t *testing.T) {
	fixture := newAPIFixture(t)
	response, err := http.Get(fixture.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected health status: %d", response.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	fixture := newAPIFixture(t)
	response, err := http.Post(fixture.server.URL+"/sessions", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", response.StatusCode)
	}
}

func TestSessionLifecyclePersistsAndRestoresHighlights(t *testing.T) {
	fixture := newAPIFixture(t)
	opened := fixture.openSession(t)
	sessionPath := "/sessions/" + opened.SessionID

	actionResponse := fixture.do(t, http.MethodPost, sessionPath+"/actions", map[string]any{
		"action": "apply-highlight",
		"color":  "green",
		"selection": map[string]any{
			"start": map[string]int{"text_offset": 4},
			"end":   map[string]int{"text_offset": 15},
		},
	})
	if actionResponse.StatusCode != http.StatusOK {
		t.Fatalf("unexpected action status: %d", actionResponse.StatusCode)
	}
	var applied session.Response
	decodeBody(t, actionResponse, &applied)
	if !applied.Success || applied.Highlight == nil || applied.Highlight.Text != "quick brown" {
		t.Fatalf("unexpected action response %+v", applied)
	}

	documentResponse := fixture.do(t, http.MethodGet, sessionPath+"/document", nil)
	document, err := io.ReadAll(documentResponse.Body)
	if err != nil {
		t.Fatalf("failed to read document: %v", err)
	}
	if !strings.Contains(string(document), `data-highlight-id="`+applied.Highlight.ID+`"`) {
		t.Fatalf("expected marker in rendered document:\n%s", document)
	}

	if closed := fixture.do(t, http.MethodDelete, sessionPath, nil); closed.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected close status: %d", closed.StatusCode)
	}
	if again := fixture.do(t, http.MethodDelete, sessionPath, nil); again.StatusCode != http.StatusNotFound {
		t.Fatalf("expected closed session to be gone, got %d", again.StatusCode)
	}

	var listed highlightsResponsePayload
	decodeBody(t, fixture.do(t, http.MethodGet, "/highlights?url="+testPageURL, nil), &listed)
	if len(listed.Highlights) != 1 || listed.Highlights[0].ID != applied.Highlight.ID {
		t.Fatalf("expected stored highlight, got %+v", listed)
	}
	var filtered highlightsResponsePayload
	decodeBody(t, fixture.do(t, http.MethodGet, "/highlights?url="+testPageURL+"&color=red", nil), &filtered)
	if len(filtered.Highlights) != 0 {
		t.Fatalf("expected color filter to drop the record, got %+v", filtered.Highlights)
	}

	reopened := fixture.openSession(t)
	if reopened.Restored != 1 || len(reopened.Highlights) != 1 {
		t.Fatalf("expected highlight to be restored, got %+v", reopened)
	}
}

func TestExportReturnsAttachment(t *testing.T) {
	fixture := newAPIFixture(t)
	opened := fixture.openSession(t)
	fixture.do(t, http.MethodPost, "/sessions/"+opened.SessionID+"/actions", map[string]any{
		"action":    "apply-highlight",
		"selection": map[string]any{"text": "lazy dog"},
	})
	fixture.do(t, http.MethodDelete, "/sessions/"+opened.SessionID, nil)

	response := fixture.do(t, http.MethodGet, "/highlights/export?url="+testPageURL+"&format=markdown", nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected export status: %d", response.StatusCode)
	}
	if !strings.HasPrefix(response.Header.Get("Content-Type"), "text/markdown") {
		t.Fatalf("unexpected content type %q", response.Header.Get("Content-Type"))
	}
	if disposition := response.Header.Get("Content-Disposition"); !strings.Contains(disposition, "highlights_2024-05-06.md") {
		t.Fatalf("unexpected content disposition %q", disposition)
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	if !strings.Contains(string(body), "lazy dog") {
		t.Fatalf("expected highlight text in export:\n%s", body)
	}

	invalid := fixture.do(t, http.MethodGet, "/highlights/export?url="+testPageURL+"&format=pdf", nil)
	if invalid.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request for unknown format, got %d", invalid.StatusCode)
	}
}

func TestSessionsAreScopedToTheirOwner(t *testing.T) {
	fixture := newAPIFixture(t)
	opened := fixture.openSession(t)

	intruder := apiFixture{server: fixture.server, token: signTestToken(t, "user-999")}
	response := intruder.do(t, http.MethodGet, "/sessions/"+opened.SessionID+"/document", nil)
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected foreign session to be hidden, got %d", response.StatusCode)
	}
}

func TestEventStreamEmitsHighlightChanges(t *testing.T) {
	fixture := newAPIFixture(t)

	streamResponse, err := http.Get(fixture.server.URL + "/events?access_token=" + fixture.token)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() { _ = streamResponse.Body.Close() })
	if streamResponse.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResponse.StatusCode)
	}
	streamReader := bufio.NewReader(streamResponse.Body)

	opened := fixture.openSession(t)
	var applied session.Response
	decodeBody(t, fixture.do(t, http.MethodPost, "/sessions/"+opened.SessionID+"/actions", map[string]any{
		"action":    "apply-highlight",
		"selection": map[string]any{"text": "brown fox"},
	}), &applied)
	if !applied.Success || applied.Highlight == nil {
		t.Fatalf("unexpected action response %+v", applied)
	}

	type readResult struct {
		line string
		err  error
	}
	currentEventType := ""
	deadline := time.After(5 * time.Second)
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for realtime event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != session.EventHighlightsChanged {
				continue
			}
			var payload streamEventPayload
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &payload); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if payload.SessionID != opened.SessionID || len(payload.HighlightIDs) != 1 || payload.HighlightIDs[0] != applied.Highlight.ID {
				t.Fatalf("unexpected event payload %+v", payload)
			}
			return
		}
	}
}
