// Package credential manages stored passkey credentials: enrollment,
// lookup, sign counter bookkeeping, and removal.
package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/fortress/internal/auth/storage"
	apperrors "github.com/louisbranch/fortress/internal/platform/errors"
	"github.com/louisbranch/fortress/internal/platform/id"
)

// RegisterParams carries the verified output of a registration
// ceremony. ExternalID is the authenticator's credential ID, distinct
// from the row ID this service assigns.
type RegisterParams struct {
	UserID     string
	Name       string
	ExternalID string
	PublicKey  []byte
	Transports []string
	Domain     string
}

// Service wraps the credential store with enrollment and sign counter
// rules.
type Service struct {
	store storage.CredentialStore

	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewService wires a credential service over the given store.
func NewService(store storage.CredentialStore) *Service {
	return &Service{
		store:       store,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// Register persists a newly verified credential with a zero sign
// counter. An external ID already enrolled anywhere is a conflict, so
// one authenticator credential can never belong to two accounts.
func (s *Service) Register(ctx context.Context, params RegisterParams) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s.store == nil {
		return storage.Credential{}, fmt.Errorf("credential store not configured")
	}
	if params.UserID == "" || params.ExternalID == "" || len(params.PublicKey) == 0 {
		return storage.Credential{}, apperrors.New(apperrors.CodeBadRequest, "incomplete credential registration")
	}

	inUse, err := s.store.CredentialExternalIDInUse(ctx, params.ExternalID)
	if err != nil {
		return storage.Credential{}, fmt.Errorf("check external id: %w", err)
	}
	if inUse {
		return storage.Credential{}, apperrors.New(apperrors.CodeConflict, "credential is already registered")
	}

	credentialID, err := s.idGenerator()
	if err != nil {
		return storage.Credential{}, err
	}
	now := s.clock().UTC()
	credential := storage.Credential{
		ID:         credentialID,
		UserID:     params.UserID,
		Name:       params.Name,
		ExternalID: params.ExternalID,
		PublicKey:  params.PublicKey,
		SignCount:  0,
		Transports: params.Transports,
		Domain:     params.Domain,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.PutCredential(ctx, credential); err != nil {
		if err == storage.ErrConflict {
			// The pre-check raced with a concurrent enrollment.
			return storage.Credential{}, apperrors.New(apperrors.CodeConflict, "credential is already registered")
		}
		return storage.Credential{}, fmt.Errorf("store credential: %w", err)
	}
	return credential, nil
}

// FindByExternalID resolves an authenticator credential ID within a
// domain.
func (s *Service) FindByExternalID(ctx context.Context, externalID, domain string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s.store == nil {
		return storage.Credential{}, fmt.Errorf("credential store not configured")
	}

	credential, err := s.store.GetCredentialByExternalID(ctx, externalID, domain)
	if err != nil {
		if err == storage.ErrNotFound {
			return storage.Credential{}, apperrors.New(apperrors.CodeNotFound, "credential not found")
		}
		return storage.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return credential, nil
}

// ListIDsForEmail reports which credential row IDs exist for an email
// within a domain. An unknown email yields an empty list, never an
// error, so callers cannot probe for accounts.
func (s *Service) ListIDsForEmail(ctx context.Context, email, domain string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, fmt.Errorf("credential store not configured")
	}
	ids, err := s.store.ListCredentialIDsByEmail(ctx, email, domain)
	if err != nil {
		return nil, fmt.Errorf("list credential ids: %w", err)
	}
	return ids, nil
}

// ListForUser returns the user's live credentials.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, fmt.Errorf("credential store not configured")
	}
	credentials, err := s.store.ListCredentialsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// Archive removes a credential from use. The owner check is part of
// the store predicate so one user cannot archive another's credential.
func (s *Service) Archive(ctx context.Context, credentialID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.store == nil {
		return fmt.Errorf("credential store not configured")
	}
	if err := s.store.ArchiveCredential(ctx, credentialID, userID, s.clock().UTC()); err != nil {
		if err == storage.ErrNotFound {
			return apperrors.New(apperrors.CodeNotFound, "credential not found")
		}
		return fmt.Errorf("archive credential: %w", err)
	}
	return nil
}

// RecordAssertion applies the sign counter reported by a successful
// login assertion. Authenticators without a counter always report
// zero, which is accepted as long as the stored value is also zero;
// the row still gets a fresh updated_at. Any other non-increasing
// value suggests a cloned authenticator and fails the login.
func (s *Service) RecordAssertion(ctx context.Context, credentialID string, stored, reported uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.store == nil {
		return fmt.Errorf("credential store not configured")
	}

	counterless := reported == 0 && stored == 0
	if !counterless && reported <= stored {
		return apperrors.New(apperrors.CodeVerificationFailed, "credential sign counter did not advance")
	}

	now := s.clock().UTC()
	err := s.store.UpdateCredentialSignCount(ctx, credentialID, stored, reported, now)
	if err == nil {
		return nil
	}
	if err != storage.ErrConflict {
		return fmt.Errorf("update sign count: %w", err)
	}

	// A concurrent assertion advanced the counter first. Re-read and
	// apply once more if the reported value still moves it forward.
	current, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		if err == storage.ErrNotFound {
			return apperrors.New(apperrors.CodeNotFound, "credential not found")
		}
		return fmt.Errorf("get credential: %w", err)
	}
	if reported <= current.SignCount {
		return apperrors.New(apperrors.CodeVerificationFailed, "credential sign counter did not advance")
	}
	if err := s.store.UpdateCredentialSignCount(ctx, credentialID, current.SignCount, reported, now); err != nil {
		if err == storage.ErrConflict {
			return apperrors.New(apperrors.CodeUpstreamFailure, "credential is being updated concurrently")
		}
		return fmt.Errorf("update sign count: %w", err)
	}
	return nil
}
