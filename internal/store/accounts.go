package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CredentialRecord is a stored credential row. The token blob is sealed by
// the credentials package before it reaches the store; the store never sees
// plaintext tokens.
type CredentialRecord struct {
	AccountID string
	TokenBlob []byte
	Expiry    time.Time
	Scope     string
	UpdatedAt time.Time
}

// Credential returns the live credential record for a canonical account id.
func (s *Store) Credential(ctx context.Context, accountID string) (CredentialRecord, error) {
	var rec CredentialRecord
	var expiry, updatedAt int64
	err := s.db.QueryRowContext(ctx, `
SELECT account_id, token_blob, expiry, scope, updated_at
FROM credentials WHERE account_id = ?`,
		accountID,
	).Scan(&rec.AccountID, &rec.TokenBlob, &expiry, &rec.Scope, &updatedAt)
	if err == sql.ErrNoRows {
		return CredentialRecord{}, ErrNotFound
	}
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("get credential: %w", err)
	}
	rec.Expiry = fromMillis(expiry)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

// SaveCredential upserts the single live credential record for an account.
// Called once by the authorization handshake and again on every refresh.
func (s *Store) SaveCredential(ctx context.Context, rec CredentialRecord) error {
	if rec.AccountID == "" {
		return fmt.Errorf("save credential: account id is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credentials (account_id, token_blob, expiry, scope, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (account_id) DO UPDATE SET
    token_blob = excluded.token_blob,
    expiry = excluded.expiry,
    scope = excluded.scope,
    updated_at = excluded.updated_at`,
		rec.AccountID, rec.TokenBlob, toMillis(rec.Expiry), rec.Scope, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// RegisterAccount records a canonical account id and its email. The email is
// the join point for roster-based identity resolution.
func (s *Store) RegisterAccount(ctx context.Context, accountID, email string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO accounts (account_id, email) VALUES (?, ?)
ON CONFLICT (account_id) DO UPDATE SET email = excluded.email`,
		accountID, email,
	)
	if err != nil {
		return fmt.Errorf("register account: %w", err)
	}
	return nil
}

// LinkRoster records a team-roster member and their email.
func (s *Store) LinkRoster(ctx context.Context, rosterID, email string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO roster_members (roster_id, email) VALUES (?, ?)
ON CONFLICT (roster_id) DO UPDATE SET email = excluded.email`,
		rosterID, email,
	)
	if err != nil {
		return fmt.Errorf("link roster: %w", err)
	}
	return nil
}

// EmailForRoster resolves a roster id to the member's email.
func (s *Store) EmailForRoster(ctx context.Context, rosterID string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx,
		"SELECT email FROM roster_members WHERE roster_id = ?", rosterID,
	).Scan(&email)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("email for roster: %w", err)
	}
	return email, nil
}

// AccountIDForEmail resolves an email to the canonical account id.
func (s *Store) AccountIDForEmail(ctx context.Context, email string) (string, error) {
	var accountID string
	err := s.db.QueryRowContext(ctx,
		"SELECT account_id FROM accounts WHERE email = ?", email,
	).Scan(&accountID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("account for email: %w", err)
	}
	return accountID, nil
}
