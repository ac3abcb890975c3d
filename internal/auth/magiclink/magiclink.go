// Package magiclink issues and redeems single use email login tokens.
package magiclink

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/fortress/internal/auth/storage"
	"github.com/louisbranch/fortress/internal/auth/user"
	apperrors "github.com/louisbranch/fortress/internal/platform/errors"
	"github.com/louisbranch/fortress/internal/platform/id"
	"github.com/louisbranch/fortress/internal/platform/mail"
)

// Config holds magic link issuance settings.
type Config struct {
	// BaseURL is the page the emailed link points at. The token rides
	// in the "token" query parameter.
	BaseURL   string        `env:"FORTRESS_MAGIC_LINK_BASE_URL" envDefault:"http://localhost:8086/login"`
	TTL       time.Duration `env:"FORTRESS_MAGIC_LINK_TTL" envDefault:"1h"`
	BrandName string        `env:"FORTRESS_BRAND_NAME" envDefault:"Fortress"`
}

// Service issues, delivers, and redeems magic link tokens.
type Service struct {
	store  storage.MagicTokenStore
	sender mail.Sender
	config Config

	clock          func() time.Time
	idGenerator    func() (string, error)
	tokenGenerator func() (string, error)
	// sendTimeout bounds the background delivery attempt.
	sendTimeout time.Duration
}

// NewService wires a magic link service over the given token store and
// mail sender.
func NewService(store storage.MagicTokenStore, sender mail.Sender, config Config) *Service {
	return &Service{
		store:          store,
		sender:         sender,
		config:         config,
		clock:          time.Now,
		idGenerator:    id.NewID,
		tokenGenerator: newToken,
		sendTimeout:    30 * time.Second,
	}
}

func newToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Issue creates a token for the email and sends the login link. At
// most one live token exists per address; issuing while one is
// outstanding is a conflict. Delivery happens in the background so a
// slow mail server does not hold the request open.
func (s *Service) Issue(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.store == nil {
		return fmt.Errorf("magic token store not configured")
	}

	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return err
	}

	now := s.clock().UTC()
	if err := s.store.ArchiveExpiredMagicTokens(ctx, normalized, now); err != nil {
		return fmt.Errorf("archive expired tokens: %w", err)
	}

	if _, err := s.store.GetValidMagicTokenByEmail(ctx, normalized, now); err == nil {
		return apperrors.New(apperrors.CodeConflict, "a magic link was already sent to this address")
	} else if err != storage.ErrNotFound {
		return fmt.Errorf("check outstanding token: %w", err)
	}

	secret, err := s.tokenGenerator()
	if err != nil {
		return err
	}
	tokenID, err := s.idGenerator()
	if err != nil {
		return err
	}
	token := storage.MagicToken{
		ID:        tokenID,
		Token:     secret,
		Email:     normalized,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.TTL),
	}
	if err := s.store.PutMagicToken(ctx, token); err != nil {
		if err == storage.ErrConflict {
			return apperrors.New(apperrors.CodeConflict, "a magic link was already sent to this address")
		}
		return fmt.Errorf("store magic token: %w", err)
	}

	go s.deliver(normalized, secret)
	return nil
}

func (s *Service) deliver(email, secret string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	message := mail.Message{
		To:      email,
		Subject: fmt.Sprintf("Sign in to %s", s.config.BrandName),
		HTML:    s.messageBody(secret),
	}
	if err := s.sender.Send(ctx, message); err != nil {
		log.Printf("ERROR sending magic link to %s: %v", email, err)
	}
}

func (s *Service) messageBody(secret string) string {
	link := fmt.Sprintf("%s?token=%s", s.config.BaseURL, secret)
	return fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 480px; margin: 0 auto;">
  <h1>Sign in to %s</h1>
  <p>Click the link below to sign in. It expires in %s and can only be used once.</p>
  <p><a href="%s">Sign in</a></p>
  <p>If you did not request this email you can safely ignore it.</p>
</div>`, s.config.BrandName, formatTTL(s.config.TTL), link)
}

func formatTTL(ttl time.Duration) string {
	if ttl%time.Hour == 0 {
		hours := int(ttl / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%d minutes", int(ttl/time.Minute))
}

// Redeem consumes the token and returns the email it was issued for.
// Unknown, already redeemed, and expired tokens are reported with the
// same error so callers cannot probe token state.
func (s *Service) Redeem(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.store == nil {
		return "", fmt.Errorf("magic token store not configured")
	}
	if token == "" {
		return "", apperrors.New(apperrors.CodeNotFound, "magic link is invalid or has expired")
	}

	redeemed, err := s.store.RedeemMagicToken(ctx, token, s.clock().UTC())
	if err != nil {
		if err == storage.ErrNotFound {
			return "", apperrors.New(apperrors.CodeNotFound, "magic link is invalid or has expired")
		}
		return "", fmt.Errorf("redeem magic token: %w", err)
	}
	return redeemed.Email, nil
}

// PurgeExpired deletes tokens past their expiry. Meant for a periodic
// maintenance call; redemption already ignores expired rows.
func (s *Service) PurgeExpired(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.store == nil {
		return fmt.Errorf("magic token store not configured")
	}
	return s.store.DeleteExpiredMagicTokens(ctx, s.clock().UTC())
}
