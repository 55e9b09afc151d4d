package oauth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/oauth2"

	"github.com/adjutant/adjutant/internal/state/store"
)

// ReconnectError means the user's grant is gone for good: no credential,
// no refresh token, or the authorization server rejected the refresh.
// The only way forward is reconnecting the account.
type ReconnectError struct {
	UserID   string
	Provider string
	Err      error
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("%s access for %s has expired; the account needs to be reconnected", e.Provider, e.UserID)
}

func (e *ReconnectError) Unwrap() error { return e.Err }

// Manager hands out access tokens for workspace calls. An expired token is
// refreshed exactly once; a failed refresh surfaces as ReconnectError and
// leaves the stored credential untouched.
type Manager struct {
	store *CredentialStore
	cfg   *oauth2.Config
	now   func() time.Time
}

type ManagerOption func(*Manager)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(store *CredentialStore, cfg *oauth2.Config, opts ...ManagerOption) *Manager {
	m := &Manager{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns a valid access token for (userID, provider), refreshing it
// first when the recorded expiry says it is stale.
func (m *Manager) Token(ctx context.Context, userID, provider string) (string, error) {
	cred, err := m.loadCredential(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if cred.Fresh(m.now()) {
		return cred.AccessToken, nil
	}
	return m.refresh(ctx, cred)
}

// Refresh forces one refresh regardless of the recorded expiry, for the case
// where the service rejected a token that still looked fresh.
func (m *Manager) Refresh(ctx context.Context, userID, provider string) (string, error) {
	cred, err := m.loadCredential(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	return m.refresh(ctx, cred)
}

// loadCredential turns a missing grant into ReconnectError; a store failure
// stays a store failure.
func (m *Manager) loadCredential(ctx context.Context, userID, provider string) (*Credential, error) {
	cred, err := m.store.Get(ctx, userID, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ReconnectError{UserID: userID, Provider: provider, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

func (m *Manager) refresh(ctx context.Context, cred *Credential) (string, error) {
	if cred.RefreshToken == "" {
		return "", &ReconnectError{UserID: cred.UserID, Provider: cred.Provider, Err: errors.New("no refresh token on record")}
	}
	src := m.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", &ReconnectError{UserID: cred.UserID, Provider: cred.Provider, Err: err}
	}

	cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	cred.ExpiresAt = tok.Expiry
	if err := m.store.Upsert(ctx, cred); err != nil {
		// The token works for this request even if persisting it failed.
		log.Printf("oauth: persist refreshed token %s/%s (%s): %v", cred.UserID, cred.Provider, Masked(tok.AccessToken), err)
	}
	return tok.AccessToken, nil
}
