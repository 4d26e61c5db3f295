package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/ideiasys/ecomsync_backend/models"
)

func seedToken(t *testing.T, m *TokenManager, record models.PlatformToken) {
	t.Helper()
	if err := m.db.Create(&record).Error; err != nil {
		t.Fatalf("seed token: %v", err)
	}
}

func TestGetValidToken_ReusesStoredToken(t *testing.T) {
	m := NewTokenManager(testAppDB(t), testLogger())
	auth := &fakeAuth{}
	seedToken(t, m, models.PlatformToken{
		StoreId:     "store-1",
		Platform:    models.PlatformOpenCart,
		AccessToken: "stored-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	token, ok := m.GetValidToken(context.Background(), "store-1", models.PlatformOpenCart, auth, Credentials{})
	if !ok {
		t.Fatal("expected a usable token")
	}
	if token != "stored-token" {
		t.Fatalf("expected the stored token, got %q", token)
	}
	if auth.loginCalls != 0 || auth.refreshCalls != 0 {
		t.Fatalf("valid stored token must not hit the network: %d logins, %d refreshes",
			auth.loginCalls, auth.refreshCalls)
	}
}

func TestGetValidToken_RefreshesExpiredToken(t *testing.T) {
	m := NewTokenManager(testAppDB(t), testLogger())
	auth := &fakeAuth{}
	seedToken(t, m, models.PlatformToken{
		StoreId:          "store-1",
		Platform:         models.PlatformOpenCart,
		AccessToken:      "stale-token",
		ExpiresAt:        time.Now().Add(-time.Hour),
		RefreshToken:     "refresh-token",
		RefreshExpiresAt: time.Now().Add(24 * time.Hour),
	})

	token, ok := m.GetValidToken(context.Background(), "store-1", models.PlatformOpenCart, auth, Credentials{})
	if !ok {
		t.Fatal("expected a usable token after refresh")
	}
	if token != "refreshed-token" {
		t.Fatalf("expected the refreshed token, got %q", token)
	}
	if auth.refreshCalls != 1 {
		t.Fatalf("expected exactly 1 refresh, got %d", auth.refreshCalls)
	}
	if auth.loginCalls != 0 {
		t.Fatalf("refresh path must not log in, got %d logins", auth.loginCalls)
	}
}

func TestGetValidToken_FallsBackToLoginWhenRefreshFails(t *testing.T) {
	m := NewTokenManager(testAppDB(t), testLogger())
	auth := &fakeAuth{refreshErr: errors.New("refresh token rejected")}
	seedToken(t, m, models.PlatformToken{
		StoreId:          "store-1",
		Platform:         models.PlatformOpenCart,
		AccessToken:      "stale-token",
		ExpiresAt:        time.Now().Add(-time.Hour),
		RefreshToken:     "refresh-token",
		RefreshExpiresAt: time.Now().Add(24 * time.Hour),
	})

	token, ok := m.GetValidToken(context.Background(), "store-1", models.PlatformOpenCart, auth, Credentials{})
	if !ok {
		t.Fatal("expected login fallback to produce a token")
	}
	if token != "login-token" {
		t.Fatalf("expected the login token, got %q", token)
	}
	if auth.refreshCalls != 1 || auth.loginCalls != 1 {
		t.Fatalf("expected 1 refresh then 1 login, got %d/%d", auth.refreshCalls, auth.loginCalls)
	}
}

func TestGetValidToken_TotalFailureReportsNotOk(t *testing.T) {
	m := NewTokenManager(testAppDB(t), testLogger())
	auth := &fakeAuth{loginErr: errors.New("store unreachable")}

	token, ok := m.GetValidToken(context.Background(), "store-1", models.PlatformOpenCart, auth, Credentials{})
	if ok {
		t.Fatal("expected ok=false when login fails")
	}
	if token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}
}

func TestInvalidate_ForcesReauthentication(t *testing.T) {
	m := NewTokenManager(testAppDB(t), testLogger())
	auth := &fakeAuth{}
	ctx := context.Background()

	if _, ok := m.GetValidToken(ctx, "store-1", models.PlatformOpenCart, auth, Credentials{}); !ok {
		t.Fatal("initial login should succeed")
	}
	if auth.loginCalls != 1 {
		t.Fatalf("expected 1 login, got %d", auth.loginCalls)
	}

	m.Invalidate(ctx, "store-1", models.PlatformOpenCart)

	if _, ok := m.GetValidToken(ctx, "store-1", models.PlatformOpenCart, auth, Credentials{}); !ok {
		t.Fatal("re-login after invalidate should succeed")
	}
	if auth.loginCalls != 2 {
		t.Fatalf("expected a second login after invalidate, got %d", auth.loginCalls)
	}
}
