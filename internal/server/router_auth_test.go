package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarcoPoloResearchLab/highlighter/internal/auth"
)

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/highlights", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		validator: stubSessionValidator{validateErr: auth.ErrExpiredSessionToken},
		logger:    zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/highlights", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		validator: stubSessionValidator{validateErr: errors.New("signature mismatch")},
		logger:    zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestRejectsMissingTokenWithoutLogging(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/highlights", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		validator: stubSessionValidator{},
		logger:    zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no log entries, got %d", logs.Len())
	}
}

func TestAuthorizeRequestAcceptsCookieAndQueryTokens(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testCases := []struct {
		name    string
		prepare func(*http.Request)
		target  string
	}{
		{
			name: "cookie",
			prepare: func(request *http.Request) {
				request.AddCookie(&http.Cookie{Name: "app_session", Value: "cookie-token"})
			},
			target: "/highlights",
		},
		{
			name:    "query",
			prepare: func(*http.Request) {},
			target:  "/events?access_token=query-token",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			request := httptest.NewRequest(http.MethodGet, testCase.target, http.NoBody)
			testCase.prepare(request)
			ctx.Request = request

			validator := &capturingValidator{claims: auth.SessionClaims{UserID: "user-7"}}
			handler := &httpHandler{validator: validator, logger: zap.NewNop()}
			handler.authorizeRequest(ctx)

			if ctx.IsAborted() {
				t.Fatalf("expected request to pass, got status %d", recorder.Code)
			}
			if validator.token != testCase.name+"-token" {
				t.Fatalf("expected %s token to be validated, got %q", testCase.name, validator.token)
			}
			if ctx.GetString(userIDContextKey) != "user-7" {
				t.Fatalf("expected user id in context, got %q", ctx.GetString(userIDContextKey))
			}
		})
	}
}

func TestAuthorizeRequestResolvesCanonicalUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/highlights", http.NoBody)
	request.Header.Set("Authorization", "Bearer token")
	ctx.Request = request

	handler := &httpHandler{
		validator: &capturingValidator{claims: auth.SessionClaims{UserID: "google:42"}},
		users:     stubUserResolver{userID: "42"},
		logger:    zap.NewNop(),
	}
	handler.authorizeRequest(ctx)

	if got := ctx.GetString(userIDContextKey); got != "42" {
		t.Fatalf("expected canonical user id, got %q", got)
	}
}

type stubSessionValidator struct {
	validateErr error
}

func (s stubSessionValidator) ValidateToken(string) (auth.SessionClaims, error) {
	return auth.SessionClaims{}, s.validateErr
}

func (stubSessionValidator) CookieName() string {
	return "app_session"
}

type capturingValidator struct {
	claims auth.SessionClaims
	token  string
}

func (v *capturingValidator) ValidateToken(token string) (auth.SessionClaims, error) {
	v.token = token
	return v.claims, nil
}

func (*capturingValidator) CookieName() string {
	return "app_session"
}

type stubUserResolver struct {
	userID string
}

func (s stubUserResolver) ResolveCanonicalUserID(auth.SessionClaims) (string, error) {
	return s.userID, nil
}
