// Package storage defines the persistence contracts for auth data.
package storage

import (
	"context"
	"time"

	"github.com/louisbranch/fortress/internal/auth/user"
	"github.com/louisbranch/fortress/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrConflict indicates a write violated a uniqueness constraint.
var ErrConflict = errors.New(errors.CodeConflict, "record already exists")

// UserStore persists auth user records.
type UserStore interface {
	// PutUser inserts a user. ErrConflict when the email is already taken.
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
}

// MagicToken is a single-use emailed login token.
type MagicToken struct {
	ID        string
	Token     string
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Archived  bool
}

// MagicTokenStore persists magic tokens.
//
// At most one live (non-archived, non-expired) token may exist per email, and
// redemption must be atomic with respect to reuse. Both invariants are
// enforced at the store level, not by wall-clock read-then-write.
type MagicTokenStore interface {
	// PutMagicToken inserts a token. ErrConflict when a live token already
	// exists for the email or the token value collides.
	PutMagicToken(ctx context.Context, token MagicToken) error
	// GetValidMagicTokenByEmail returns the live token for an email, if any.
	GetValidMagicTokenByEmail(ctx context.Context, email string, now time.Time) (MagicToken, error)
	// RedeemMagicToken archives a live token and returns it. Exactly one of
	// N concurrent redemptions of the same token succeeds; the rest observe
	// ErrNotFound. Absent, expired, and already-archived all collapse to
	// ErrNotFound.
	RedeemMagicToken(ctx context.Context, token string, now time.Time) (MagicToken, error)
	// ArchiveExpiredMagicTokens retires expired tokens for an email so a new
	// one can be issued.
	ArchiveExpiredMagicTokens(ctx context.Context, email string, now time.Time) error
	// DeleteExpiredMagicTokens removes archived tokens past their expiry.
	DeleteExpiredMagicTokens(ctx context.Context, now time.Time) error
}

// Credential stores a passkey credential scoped to a relying-party domain.
type Credential struct {
	ID         string
	UserID     string
	Name       string
	ExternalID string
	PublicKey  []byte
	SignCount  uint32
	Transports []string
	Domain     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Archived   bool
}

// CredentialStore persists passkey credentials.
type CredentialStore interface {
	// PutCredential inserts a credential. ErrConflict when the external id or
	// public key already exists, for any domain.
	PutCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	// GetCredentialByExternalID is domain-scoped: a credential registered
	// under another relying party is never returned.
	GetCredentialByExternalID(ctx context.Context, externalID string, domain string) (Credential, error)
	// CredentialExternalIDInUse reports whether any credential, in any
	// domain, claims this external id.
	CredentialExternalIDInUse(ctx context.Context, externalID string) (bool, error)
	ListCredentialsByUser(ctx context.Context, userID string) ([]Credential, error)
	// ListCredentialIDsByEmail returns credential ids enrolled for the
	// address within one domain.
	ListCredentialIDsByEmail(ctx context.Context, email string, domain string) ([]string, error)
	// UpdateCredentialSignCount conditionally advances the counter: the
	// write applies only if the stored count still equals previous.
	// ErrConflict signals a lost update.
	UpdateCredentialSignCount(ctx context.Context, credentialID string, previous uint32, next uint32, now time.Time) error
	// ArchiveCredential retires a credential owned by userID.
	ArchiveCredential(ctx context.Context, credentialID string, userID string, now time.Time) error
}
