package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/fortress/internal/auth/storage"
)

const credentialColumns = "id, user_id, name, external_id, public_key, sign_count, transports, domain, created_at, updated_at, is_archived"

// PutCredential inserts a passkey credential.
func (s *Store) PutCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.ID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credential.ExternalID) == "" {
		return fmt.Errorf("external id is required")
	}
	if len(credential.PublicKey) == 0 {
		return fmt.Errorf("public key is required")
	}
	if strings.TrimSpace(credential.Domain) == "" {
		return fmt.Errorf("domain is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO credentials (id, user_id, name, external_id, public_key, sign_count, transports, domain, created_at, updated_at, is_archived)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		credential.ID,
		credential.UserID,
		credential.Name,
		credential.ExternalID,
		credential.PublicKey,
		credential.SignCount,
		joinTransports(credential.Transports),
		credential.Domain,
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		boolToInt(credential.Archived),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// GetCredential fetches a credential by row id.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+credentialColumns+`
FROM credentials
WHERE id = ? AND is_archived = 0
`, credentialID)
	return scanCredential(row.Scan)
}

// GetCredentialByExternalID fetches a credential scoped to one relying-party
// domain. Credentials registered under another domain are never returned.
func (s *Store) GetCredentialByExternalID(ctx context.Context, externalID string, domain string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(externalID) == "" {
		return storage.Credential{}, fmt.Errorf("external id is required")
	}
	if strings.TrimSpace(domain) == "" {
		return storage.Credential{}, fmt.Errorf("domain is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+credentialColumns+`
FROM credentials
WHERE external_id = ? AND domain = ? AND is_archived = 0
`, externalID, domain)
	return scanCredential(row.Scan)
}

// CredentialExternalIDInUse reports whether any credential claims an external
// id, regardless of domain. Authenticator-reported ids are globally unique.
func (s *Store) CredentialExternalIDInUse(ctx context.Context, externalID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(externalID) == "" {
		return false, fmt.Errorf("external id is required")
	}

	var found int
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT 1 FROM credentials WHERE external_id = ?
`, externalID)
	if err := row.Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check external id: %w", err)
	}
	return true, nil
}

// ListCredentialsByUser returns live credentials for a user.
func (s *Store) ListCredentialsByUser(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+credentialColumns+`
FROM credentials
WHERE user_id = ? AND is_archived = 0
ORDER BY created_at
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []storage.Credential
	for rows.Next() {
		credential, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// ListCredentialIDsByEmail returns credential ids enrolled for an email
// within one domain.
func (s *Store) ListCredentialIDsByEmail(ctx context.Context, email string, domain string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("email is required")
	}
	if strings.TrimSpace(domain) == "" {
		return nil, fmt.Errorf("domain is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT c.id
FROM credentials c
JOIN users u ON u.id = c.user_id
WHERE u.email = ? AND c.domain = ? AND c.is_archived = 0
ORDER BY c.created_at
`, email, domain)
	if err != nil {
		return nil, fmt.Errorf("list credential ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan credential id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credential ids: %w", err)
	}
	return ids, nil
}

// UpdateCredentialSignCount conditionally advances a credential counter.
func (s *Store) UpdateCredentialSignCount(ctx context.Context, credentialID string, previous uint32, next uint32, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials
SET sign_count = ?, updated_at = ?
WHERE id = ? AND sign_count = ? AND is_archived = 0
`, next, toMillis(now), credentialID, previous)
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	if affected == 0 {
		return storage.ErrConflict
	}
	return nil
}

// ArchiveCredential retires a credential owned by userID.
func (s *Store) ArchiveCredential(ctx context.Context, credentialID string, userID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials
SET is_archived = 1, updated_at = ?
WHERE id = ? AND user_id = ? AND is_archived = 0
`, toMillis(now), credentialID, userID)
	if err != nil {
		return fmt.Errorf("archive credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive credential: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func joinTransports(transports []string) string {
	return strings.Join(transports, ",")
}

func splitTransports(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return strings.Split(value, ",")
}

func scanCredential(scan func(...any) error) (storage.Credential, error) {
	var credential storage.Credential
	var transports string
	var createdAt int64
	var updatedAt int64
	var archived int
	if err := scan(
		&credential.ID,
		&credential.UserID,
		&credential.Name,
		&credential.ExternalID,
		&credential.PublicKey,
		&credential.SignCount,
		&transports,
		&credential.Domain,
		&createdAt,
		&updatedAt,
		&archived,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("scan credential: %w", err)
	}
	credential.Transports = splitTransports(transports)
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	credential.Archived = archived != 0
	return credential, nil
}
