package users

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/highlighter/internal/auth"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestResolveCanonicalUserIDStripsProviderPrefix(t *testing.T) {
	service, db := newTestService(t)

	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
		UserAvatarURL:   "https://example.com/avatar.png",
	}
	userID, err := service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id without provider prefix, got %q", userID)
	}

	// second call is served from the cache.
	userID, err = service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id to remain stable, got %q", userID)
	}

	var count int64
	if err := db.Model(&Identity{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one identity row, got %d", count)
	}
}

func TestResolveCanonicalUserIDFallsBackToSubjectAndEmail(t *testing.T) {
	service, _ := newTestService(t)

	userID, err := service.ResolveCanonicalUserID(auth.SessionClaims{UserEmail: "reader@example.com"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "reader@example.com" {
		t.Fatalf("expected email fallback, got %q", userID)
	}

	if _, err := service.ResolveCanonicalUserID(auth.SessionClaims{}); err != ErrInvalidIdentity {
		t.Fatalf("expected invalid identity, got %v", err)
	}
}

func TestIdentitiesListsMappedLogins(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.ResolveCanonicalUserID(auth.SessionClaims{UserID: "google:abc", UserEmail: "a@example.com"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	identities, err := service.Identities(context.Background(), "abc")
	if err != nil {
		t.Fatalf("identities failed: %v", err)
	}
	if len(identities) != 1 || identities[0].Provider != "google" || identities[0].Email != "a@example.com" {
		t.Fatalf("unexpected identities %+v", identities)
	}
	if _, err := service.Identities(context.Background(), " "); err != ErrInvalidIdentity {
		t.Fatalf("expected invalid identity for blank user, got %v", err)
	}
}
