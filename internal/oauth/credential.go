package oauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adjutant/adjutant/internal/state/store"
)

// Workspace service providers a credential can be issued for.
const (
	ProviderCalendar = "calendar"
	ProviderMail     = "mail"
)

// Credential is one user's OAuth grant for a workspace service. Tokens are
// keyed by (user, provider): a user connects calendar and mail separately.
type Credential struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// expirySkew treats tokens about to expire as already expired, so a request
// does not leave with a token that dies in flight.
const expirySkew = 60 * time.Second

// Fresh reports whether the access token is usable at the given time.
func (c *Credential) Fresh(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(expirySkew).Before(c.ExpiresAt)
}

const maskSuffix = "***"

// Masked returns the secret with most characters replaced, keeping at most
// the first 6 for identification in logs.
func Masked(secret string) string {
	if secret == "" {
		return ""
	}
	visible := 6
	if len(secret) <= visible {
		return maskSuffix
	}
	return secret[:visible] + maskSuffix
}

// CredentialStore persists OAuth credentials.
type CredentialStore struct {
	db *store.DB
}

func NewCredentialStore(db *store.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Get loads the credential for (userID, provider).
func (s *CredentialStore) Get(ctx context.Context, userID, provider string) (*Credential, error) {
	var accessToken, refreshToken, expiresAt, updatedAt string
	err := s.db.SQLDB().QueryRowContext(ctx,
		s.db.Rebind(`SELECT access_token, refresh_token, expires_at, updated_at FROM credentials WHERE user_id = ? AND provider = ?`),
		userID, provider,
	).Scan(&accessToken, &refreshToken, &expiresAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credential %s/%s: %w", userID, provider, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("credential get: %w", err)
	}
	cred := &Credential{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	if expiresAt != "" {
		cred.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	}
	cred.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return cred, nil
}

// Upsert writes the credential, replacing any existing grant for the same
// (user, provider).
func (s *CredentialStore) Upsert(ctx context.Context, cred *Credential) error {
	now := time.Now().UTC().Format(time.RFC3339)
	expiresAt := ""
	if !cred.ExpiresAt.IsZero() {
		expiresAt = cred.ExpiresAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.SQLDB().ExecContext(ctx,
		s.db.Rebind(`INSERT INTO credentials (user_id, provider, access_token, refresh_token, expires_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, provider) DO UPDATE SET
				access_token = excluded.access_token,
				refresh_token = excluded.refresh_token,
				expires_at = excluded.expires_at,
				updated_at = excluded.updated_at`),
		cred.UserID, cred.Provider, cred.AccessToken, cred.RefreshToken, expiresAt, now)
	if err != nil {
		return fmt.Errorf("credential upsert: %w", err)
	}
	return nil
}

// Delete revokes the stored grant for (userID, provider).
func (s *CredentialStore) Delete(ctx context.Context, userID, provider string) error {
	_, err := s.db.SQLDB().ExecContext(ctx,
		s.db.Rebind(`DELETE FROM credentials WHERE user_id = ? AND provider = ?`),
		userID, provider)
	return err
}
