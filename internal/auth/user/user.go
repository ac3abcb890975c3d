// Package user provides auth user management.
package user

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/louisbranch/fortress/internal/platform/errors"
	"github.com/louisbranch/fortress/internal/platform/id"
)

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeBadRequest, "email is required")
	// ErrInvalidEmail indicates an email address that does not parse.
	ErrInvalidEmail = apperrors.New(apperrors.CodeBadRequest, "email is invalid")
)

// User represents an authenticated identity record.
//
// Email is the sole natural key; ID is the stable anchor sessions and
// credentials reference. Users are never deleted, only archived.
type User struct {
	ID        string
	Email     string
	FirstName string
	CreatedAt time.Time
	UpdatedAt time.Time
	Archived  bool
}

// NormalizeEmail trims and validates an email address. Case is preserved:
// emails are unique exactly as stored.
func NormalizeEmail(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", ErrEmptyEmail
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", ErrInvalidEmail
	}
	return parsed.Address, nil
}

// New creates a user identity for a validated email address.
//
// This is the canonical point where an untrusted address becomes the stable
// identity shared by every login strategy.
func New(email string, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:        userID,
		Email:     normalized,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}
