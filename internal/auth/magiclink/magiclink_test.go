package magiclink

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/fortress/internal/auth/storage"
	apperrors "github.com/louisbranch/fortress/internal/platform/errors"
	"github.com/louisbranch/fortress/internal/platform/mail"
)

type fakeTokenStore struct {
	tokens map[string]storage.MagicToken
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]storage.MagicToken)}
}

func (f *fakeTokenStore) PutMagicToken(_ context.Context, token storage.MagicToken) error {
	for _, existing := range f.tokens {
		if existing.Email == token.Email && !existing.Archived {
			return storage.ErrConflict
		}
	}
	f.tokens[token.Token] = token
	return nil
}

func (f *fakeTokenStore) GetValidMagicTokenByEmail(_ context.Context, email string, now time.Time) (storage.MagicToken, error) {
	for _, token := range f.tokens {
		if token.Email == email && !token.Archived && !token.ExpiresAt.Before(now) {
			return token, nil
		}
	}
	return storage.MagicToken{}, storage.ErrNotFound
}

func (f *fakeTokenStore) RedeemMagicToken(_ context.Context, secret string, now time.Time) (storage.MagicToken, error) {
	token, ok := f.tokens[secret]
	if !ok || token.Archived || token.ExpiresAt.Before(now) {
		return storage.MagicToken{}, storage.ErrNotFound
	}
	token.Archived = true
	f.tokens[secret] = token
	return token, nil
}

func (f *fakeTokenStore) ArchiveExpiredMagicTokens(_ context.Context, email string, now time.Time) error {
	for secret, token := range f.tokens {
		if token.Email == email && token.ExpiresAt.Before(now) {
			token.Archived = true
			f.tokens[secret] = token
		}
	}
	return nil
}

func (f *fakeTokenStore) DeleteExpiredMagicTokens(_ context.Context, now time.Time) error {
	for secret, token := range f.tokens {
		if token.ExpiresAt.Before(now) {
			delete(f.tokens, secret)
		}
	}
	return nil
}

type fakeSender struct {
	sent chan mail.Message
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan mail.Message, 1)}
}

func (f *fakeSender) Send(_ context.Context, message mail.Message) error {
	f.sent <- message
	return nil
}

func (f *fakeSender) wait(t *testing.T) mail.Message {
	t.Helper()
	select {
	case message := <-f.sent:
		return message
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for email")
		return mail.Message{}
	}
}

func testService(store storage.MagicTokenStore, sender mail.Sender) *Service {
	service := NewService(store, sender, Config{
		BaseURL:   "http://localhost:8086/login",
		TTL:       time.Hour,
		BrandName: "Fortress",
	})
	service.clock = func() time.Time {
		return time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	}
	return service
}

func TestIssueSendsLink(t *testing.T) {
	store := newFakeTokenStore()
	sender := newFakeSender()
	service := testService(store, sender)
	service.tokenGenerator = func() (string, error) { return "secret-1", nil }

	if err := service.Issue(context.Background(), "  A@x.com "); err != nil {
		t.Fatalf("issue: %v", err)
	}

	message := sender.wait(t)
	if message.To != "A@x.com" {
		t.Fatalf("expected trimmed recipient, got %q", message.To)
	}
	if !strings.Contains(message.HTML, "http://localhost:8086/login?token=secret-1") {
		t.Fatalf("expected link in body, got %q", message.HTML)
	}

	stored, ok := store.tokens["secret-1"]
	if !ok {
		t.Fatal("expected stored token")
	}
	if got := stored.ExpiresAt.Sub(stored.CreatedAt); got != time.Hour {
		t.Fatalf("expected one hour expiry, got %v", got)
	}
}

func TestIssueRejectsInvalidEmail(t *testing.T) {
	service := testService(newFakeTokenStore(), newFakeSender())

	err := service.Issue(context.Background(), "not-an-email")
	if !apperrors.HasCode(err, apperrors.CodeBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestIssueConflictsWhileTokenOutstanding(t *testing.T) {
	store := newFakeTokenStore()
	sender := newFakeSender()
	service := testService(store, sender)

	if err := service.Issue(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	sender.wait(t)

	err := service.Issue(context.Background(), "a@x.com")
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestIssueArchivesExpiredTokenFirst(t *testing.T) {
	store := newFakeTokenStore()
	sender := newFakeSender()
	service := testService(store, sender)

	now := service.clock()
	store.tokens["stale"] = storage.MagicToken{
		ID: "tok-0", Token: "stale", Email: "a@x.com",
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}

	if err := service.Issue(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	sender.wait(t)
}

func TestRedeemReturnsEmailOnce(t *testing.T) {
	store := newFakeTokenStore()
	sender := newFakeSender()
	service := testService(store, sender)
	service.tokenGenerator = func() (string, error) { return "secret-1", nil }

	if err := service.Issue(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	sender.wait(t)

	email, err := service.Redeem(context.Background(), "secret-1")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if email != "a@x.com" {
		t.Fatalf("expected a@x.com, got %q", email)
	}

	if _, err := service.Redeem(context.Background(), "secret-1"); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found on second redemption, got %v", err)
	}
}

func TestRedeemUnknownAndExpiredCollapse(t *testing.T) {
	store := newFakeTokenStore()
	service := testService(store, newFakeSender())

	now := service.clock()
	store.tokens["expired"] = storage.MagicToken{
		ID: "tok-0", Token: "expired", Email: "a@x.com",
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}

	for _, secret := range []string{"unknown", "expired", ""} {
		if _, err := service.Redeem(context.Background(), secret); !apperrors.HasCode(err, apperrors.CodeNotFound) {
			t.Fatalf("expected not found for %q, got %v", secret, err)
		}
	}
}

func TestPurgeExpired(t *testing.T) {
	store := newFakeTokenStore()
	service := testService(store, newFakeSender())

	now := service.clock()
	store.tokens["expired"] = storage.MagicToken{
		ID: "tok-0", Token: "expired", Email: "a@x.com",
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	store.tokens["live"] = storage.MagicToken{
		ID: "tok-1", Token: "live", Email: "b@x.com",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}

	if err := service.PurgeExpired(context.Background()); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, ok := store.tokens["expired"]; ok {
		t.Fatal("expected expired token to be deleted")
	}
	if _, ok := store.tokens["live"]; !ok {
		t.Fatal("expected live token to survive")
	}
}
