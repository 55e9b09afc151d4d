package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/adjutant/adjutant/internal/state/store"
)

func openTestStore(t *testing.T) *CredentialStore {
	t.Helper()
	db, err := store.Open(store.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewCredentialStore(db)
}

// tokenServer fakes the authorization server's token endpoint.
func tokenServer(t *testing.T, hits *int, status int, body map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func testConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "adjutant",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
}

func TestCredentialStoreUpsertGet(t *testing.T) {
	creds := openTestStore(t)
	ctx := context.Background()

	err := creds.Upsert(ctx, &Credential{
		UserID:       "u1",
		Provider:     ProviderCalendar,
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := creds.Get(ctx, "u1", ProviderCalendar)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessToken != "at-1" || got.RefreshToken != "rt-1" {
		t.Errorf("credential = %+v", got)
	}

	// Upsert replaces.
	err = creds.Upsert(ctx, &Credential{
		UserID: "u1", Provider: ProviderCalendar, AccessToken: "at-2", RefreshToken: "rt-2",
	})
	if err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}
	got, _ = creds.Get(ctx, "u1", ProviderCalendar)
	if got.AccessToken != "at-2" {
		t.Errorf("access token after upsert = %q, want at-2", got.AccessToken)
	}

	// Mail grant is separate.
	if _, err := creds.Get(ctx, "u1", ProviderMail); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for mail grant, got %v", err)
	}
}

func TestTokenFreshNoRefresh(t *testing.T) {
	creds := openTestStore(t)
	ctx := context.Background()
	hits := 0
	ts := tokenServer(t, &hits, http.StatusOK, nil)
	defer ts.Close()

	_ = creds.Upsert(ctx, &Credential{
		UserID: "u1", Provider: ProviderCalendar,
		AccessToken: "fresh-token", RefreshToken: "rt",
		ExpiresAt: time.Now().Add(time.Hour),
	})

	m := NewManager(creds, testConfig(ts.URL))
	tok, err := m.Token(ctx, "u1", ProviderCalendar)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "fresh-token" {
		t.Errorf("token = %q, want fresh-token", tok)
	}
	if hits != 0 {
		t.Errorf("token endpoint hit %d times, want 0", hits)
	}
}

func TestTokenRefreshesExpired(t *testing.T) {
	creds := openTestStore(t)
	ctx := context.Background()
	hits := 0
	ts := tokenServer(t, &hits, http.StatusOK, map[string]any{
		"access_token":  "new-at",
		"refresh_token": "new-rt",
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
	defer ts.Close()

	_ = creds.Upsert(ctx, &Credential{
		UserID: "u1", Provider: ProviderCalendar,
		AccessToken: "stale-at", RefreshToken: "old-rt",
		ExpiresAt: time.Now().Add(-time.Minute),
	})

	m := NewManager(creds, testConfig(ts.URL))
	tok, err := m.Token(ctx, "u1", ProviderCalendar)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "new-at" {
		t.Errorf("token = %q, want new-at", tok)
	}
	if hits != 1 {
		t.Errorf("token endpoint hit %d times, want 1", hits)
	}

	// Rotated token persisted.
	got, err := creds.Get(ctx, "u1", ProviderCalendar)
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessToken != "new-at" || got.RefreshToken != "new-rt" {
		t.Errorf("persisted credential = %+v", got)
	}
	if got.ExpiresAt.Before(time.Now().Add(30 * time.Minute)) {
		t.Errorf("expiry not advanced: %v", got.ExpiresAt)
	}
}

func TestTokenWithinSkewRefreshes(t *testing.T) {
	creds := openTestStore(t)
	ctx := context.Background()
	hits := 0
	ts := tokenServer(t, &hits, http.StatusOK, map[string]any{
		"access_token": "new-at", "token_type": "Bearer", "expires_in": 3600,
	})
	defer ts.Close()

	// Expires in 30s: inside the 60s skew, treated as stale.
	_ = creds.Upsert(ctx, &Credential{
		UserID: "u1", Provider: ProviderMail,
		AccessToken: "dying-at", RefreshToken: "rt",
		ExpiresAt: time.Now().Add(30 * time.Second),
	})

	m := NewManager(creds, testConfig(ts.URL))
	tok, err := m.Token(ctx, "u1", ProviderMail)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "new-at" || hits != 1 {
		t.Errorf("token = %q, hits = %d; want refresh", tok, hits)
	}
}

func TestTokenRefreshFailureReturnsReconnect(t *testing.T) {
	creds := openTestStore(t)
	ctx := context.Background()
	hits := 0
	ts := tokenServer(t, &hits, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
	defer ts.Close()

	_ = creds.Upsert(ctx, &Credential{
		UserID: "u1", Provider: ProviderCalendar,
		AccessToken: "stale-at", RefreshToken: "revoked-rt",
		ExpiresAt: time.Now().Add(-time.Minute),
	})

	m := NewManager(creds, testConfig(ts.URL))
	_, err := m.Token(ctx, "u1", ProviderCalendar)
	var rerr *ReconnectError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ReconnectError, got %v", err)
	}
	if rerr.UserID != "u1" || rerr.Provider != ProviderCalendar {
		t.Errorf("reconnect error = %+v", rerr)
	}
	if hits != 1 {
		t.Errorf("token endpoint hit %d times, want exactly 1 refresh attempt", hits)
	}

	// Stored credential untouched.
	got, _ := creds.Get(ctx, "u1", ProviderCalendar)
	if got.AccessToken != "stale-at" || got.RefreshToken != "revoked-rt" {
		t.Errorf("credential changed after failed refresh: %+v", got)
	}
}

func TestTokenMissingCredential(t *testing.T) {
	creds := openTestStore(t)
	m := NewManager(creds, testConfig("http://unused.invalid/token"))

	_, err := m.Token(context.Background(), "stranger", ProviderCalendar)
	var rerr *ReconnectError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ReconnectError, got %v", err)
	}
}

func TestTokenNoRefreshToken(t *testing.T) {
	creds := openTestStore(t)
	ctx := context.Background()
	_ = creds.Upsert(ctx, &Credential{
		UserID: "u1", Provider: ProviderMail,
		AccessToken: "stale-at",
		ExpiresAt:   time.Now().Add(-time.Minute),
	})

	m := NewManager(creds, testConfig("http://unused.invalid/token"))
	_, err := m.Token(ctx, "u1", ProviderMail)
	var rerr *ReconnectError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ReconnectError, got %v", err)
	}
}

func TestRefreshBypassesExpiryCheck(t *testing.T) {
	creds := openTestStore(t)
	ctx := context.Background()
	hits := 0
	ts := tokenServer(t, &hits, http.StatusOK, map[string]any{
		"access_token": "forced-at", "token_type": "Bearer", "expires_in": 3600,
	})
	defer ts.Close()

	// Looks fresh on record, but the service rejected it with 401.
	_ = creds.Upsert(ctx, &Credential{
		UserID: "u1", Provider: ProviderCalendar,
		AccessToken: "rejected-at", RefreshToken: "rt",
		ExpiresAt: time.Now().Add(time.Hour),
	})

	m := NewManager(creds, testConfig(ts.URL))
	tok, err := m.Refresh(ctx, "u1", ProviderCalendar)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if tok != "forced-at" || hits != 1 {
		t.Errorf("token = %q, hits = %d", tok, hits)
	}
}

func TestMasked(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "***"},
		{"ya29.a0AfH6SMBx", "ya29.a***"},
	}
	for _, tt := range tests {
		if got := Masked(tt.in); got != tt.want {
			t.Errorf("Masked(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
