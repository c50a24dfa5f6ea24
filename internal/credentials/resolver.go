// Package credentials resolves a person identifier to the canonical account
// credential used to call the calendar provider, refreshing expired tokens
// against the provider's token endpoint.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/atelierhq/task-calendar-sync/internal/store"
)

var (
	// ErrNoCredentials means the person never completed the authorization
	// handshake; the UI should prompt initial auth.
	ErrNoCredentials = errors.New("no stored credentials")

	// ErrAuthExpired means the stored refresh token no longer works; the UI
	// should prompt re-auth. Deliberately distinct from ErrNoCredentials.
	ErrAuthExpired = errors.New("authorization expired")
)

type NoCredentialsError struct {
	PersonID string
}

func (e *NoCredentialsError) Error() string {
	return fmt.Sprintf("no stored credentials for %q", e.PersonID)
}

func (e *NoCredentialsError) Unwrap() error { return ErrNoCredentials }

type AuthExpiredError struct {
	AccountID string
	Err       error
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("authorization expired for account %q: %v", e.AccountID, e.Err)
}

func (e *AuthExpiredError) Unwrap() error { return ErrAuthExpired }

// refreshMargin treats tokens expiring this soon as already expired, so a
// token cannot lapse between resolution and the provider call.
const refreshMargin = 2 * time.Minute

// Directory is the slice of the store the resolver needs.
type Directory interface {
	Credential(ctx context.Context, accountID string) (store.CredentialRecord, error)
	SaveCredential(ctx context.Context, rec store.CredentialRecord) error
	EmailForRoster(ctx context.Context, rosterID string) (string, error)
	AccountIDForEmail(ctx context.Context, email string) (string, error)
	RegisterAccount(ctx context.Context, accountID, email string) error
	LinkRoster(ctx context.Context, rosterID, email string) error
}

// tokenPair is the sealed portion of a credential record.
type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Handle is an opaque credential usable by the calendar client. It must not
// be logged in full; use Redacted for diagnostics.
type Handle struct {
	AccountID string

	token *oauth2.Token
	conf  *oauth2.Config
}

// TokenSource exposes the credential to the provider SDK. Mid-flight
// refreshes are handled by oauth2's own plumbing.
func (h Handle) TokenSource(ctx context.Context) oauth2.TokenSource {
	return h.conf.TokenSource(ctx, h.token)
}

// Redacted renders a short diagnostic form: account id plus a token prefix.
func (h Handle) Redacted() string {
	token := ""
	if h.token != nil {
		token = h.token.AccessToken
	}
	if len(token) > 6 {
		token = token[:6]
	}
	return fmt.Sprintf("%s/%s...", h.AccountID, token)
}

// Resolver maps person identifiers to refreshed credential handles.
type Resolver struct {
	dir   Directory
	vault Vault
	conf  *oauth2.Config

	// now is swapped in tests.
	now func() time.Time
}

func NewResolver(dir Directory, vault Vault, conf *oauth2.Config) *Resolver {
	return &Resolver{dir: dir, vault: vault, conf: conf, now: time.Now}
}

// Resolve returns the credential handle for personID. The identifier may be
// a canonical account id, a team-roster id, or an email address; resolution
// tries the canonical lookup first, then roster id joined through its email,
// then the identifier as an email, each hop narrowing to the single
// canonical account. A credential expiring within the refresh margin is
// refreshed and the rotated tokens persisted before the handle is returned.
func (r *Resolver) Resolve(ctx context.Context, personID string) (Handle, error) {
	accountID, rec, err := r.lookup(ctx, personID)
	if err != nil {
		return Handle{}, err
	}

	plaintext, err := r.vault.Open(rec.TokenBlob)
	if err != nil {
		return Handle{}, fmt.Errorf("unseal credential for %s: %w", accountID, err)
	}
	var pair tokenPair
	if err := json.Unmarshal(plaintext, &pair); err != nil {
		return Handle{}, fmt.Errorf("decode credential for %s: %w", accountID, err)
	}

	token := &oauth2.Token{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Expiry:       rec.Expiry,
		TokenType:    "Bearer",
	}

	if r.now().Add(refreshMargin).Before(rec.Expiry) {
		return Handle{AccountID: accountID, token: token, conf: r.conf}, nil
	}

	refreshed, err := r.refresh(ctx, accountID, token, rec.Scope)
	if err != nil {
		// Never fall back to the stale token.
		return Handle{}, err
	}
	return Handle{AccountID: accountID, token: refreshed, conf: r.conf}, nil
}

// Enroll seals and persists a credential obtained by the out-of-band
// authorization handshake, registering the account email alongside it.
func (r *Resolver) Enroll(ctx context.Context, accountID, email string, token *oauth2.Token, scope string) error {
	if accountID == "" || token == nil {
		return fmt.Errorf("enroll: account id and token are required")
	}
	if email != "" {
		if err := r.dir.RegisterAccount(ctx, accountID, email); err != nil {
			return err
		}
	}
	return r.persist(ctx, accountID, token, scope)
}

// LinkRoster records that a team-roster id belongs to the person enrolled
// under email, enabling roster-id resolution for that account.
func (r *Resolver) LinkRoster(ctx context.Context, rosterID, email string) error {
	if rosterID == "" || email == "" {
		return fmt.Errorf("link roster: roster id and email are required")
	}
	return r.dir.LinkRoster(ctx, rosterID, email)
}

func (r *Resolver) lookup(ctx context.Context, personID string) (string, store.CredentialRecord, error) {
	rec, err := r.dir.Credential(ctx, personID)
	if err == nil {
		return personID, rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", store.CredentialRecord{}, err
	}

	// Not a canonical id: a roster id joins through its email. When the
	// roster lookup misses, the identifier itself may be an email address.
	email, err := r.dir.EmailForRoster(ctx, personID)
	if errors.Is(err, store.ErrNotFound) {
		email = personID
	} else if err != nil {
		return "", store.CredentialRecord{}, err
	}
	accountID, err := r.dir.AccountIDForEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", store.CredentialRecord{}, &NoCredentialsError{PersonID: personID}
	}
	if err != nil {
		return "", store.CredentialRecord{}, err
	}
	rec, err = r.dir.Credential(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return "", store.CredentialRecord{}, &NoCredentialsError{PersonID: personID}
	}
	if err != nil {
		return "", store.CredentialRecord{}, err
	}
	return accountID, rec, nil
}

func (r *Resolver) refresh(ctx context.Context, accountID string, stale *oauth2.Token, scope string) (*oauth2.Token, error) {
	// Force the round trip by presenting the token as expired; the token
	// source then exchanges the refresh token.
	expired := *stale
	expired.Expiry = r.now().Add(-time.Minute)
	refreshed, err := r.conf.TokenSource(ctx, &expired).Token()
	if err != nil {
		return nil, &AuthExpiredError{AccountID: accountID, Err: err}
	}
	if refreshed.RefreshToken == "" {
		// Providers may omit the refresh token on rotation; keep the old one.
		refreshed.RefreshToken = stale.RefreshToken
	}
	if err := r.persist(ctx, accountID, refreshed, scope); err != nil {
		return nil, err
	}
	return refreshed, nil
}

func (r *Resolver) persist(ctx context.Context, accountID string, token *oauth2.Token, scope string) error {
	plaintext, err := json.Marshal(tokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	})
	if err != nil {
		return fmt.Errorf("encode credential for %s: %w", accountID, err)
	}
	blob, err := r.vault.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("seal credential for %s: %w", accountID, err)
	}
	return r.dir.SaveCredential(ctx, store.CredentialRecord{
		AccountID: accountID,
		TokenBlob: blob,
		Expiry:    token.Expiry,
		Scope:     scope,
	})
}
