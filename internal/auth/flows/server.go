// Package flows exposes the login strategies over HTTP. Magic links,
// Google OAuth, and passkeys all converge on the same sealed session;
// finalizeSession is the only place an identity enters it.
package flows

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/louisbranch/fortress/internal/auth/credential"
	"github.com/louisbranch/fortress/internal/auth/magiclink"
	"github.com/louisbranch/fortress/internal/auth/oauth"
	"github.com/louisbranch/fortress/internal/auth/passkey"
	"github.com/louisbranch/fortress/internal/auth/session"
	"github.com/louisbranch/fortress/internal/auth/storage"
	"github.com/louisbranch/fortress/internal/auth/user"
	apperrors "github.com/louisbranch/fortress/internal/platform/errors"
	"github.com/louisbranch/fortress/internal/platform/id"
)

const maxBodyBytes = 64 * 1024

// Server handles the authentication routes.
type Server struct {
	sessions      *session.Manager
	users         storage.UserStore
	magic         *magiclink.Service
	credentials   *credential.Service
	verifier      passkey.Verifier
	oauth         oauth.Provider
	passkeyConfig passkey.Config

	// postLoginRedirect is where browser redirect flows land after a
	// successful login.
	postLoginRedirect string

	clock          func() time.Time
	idGenerator    func() (string, error)
	stateGenerator func() (string, error)
}

// NewServer wires the authentication flows together. The oauth
// provider may be nil, which disables the OAuth routes.
func NewServer(
	sessions *session.Manager,
	users storage.UserStore,
	magic *magiclink.Service,
	credentials *credential.Service,
	verifier passkey.Verifier,
	oauthProvider oauth.Provider,
	passkeyConfig passkey.Config,
) *Server {
	return &Server{
		sessions:          sessions,
		users:             users,
		magic:             magic,
		credentials:       credentials,
		verifier:          verifier,
		oauth:             oauthProvider,
		passkeyConfig:     passkeyConfig,
		postLoginRedirect: "/",
		clock:             time.Now,
		idGenerator:       id.NewID,
		stateGenerator:    newState,
	}
}

func newState() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Routes returns the HTTP handler for the /auth tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/magic-link", s.handleMagicLinkRequest)
		r.Post("/login", s.handleLogin)

		r.Get("/oauth/google", s.handleOAuthStart)
		r.Get("/oauth/google/callback", s.handleOAuthCallback)

		r.Post("/passkeys/register/options", s.handleRegisterOptions)
		r.Post("/passkeys/register/verify", s.handleRegisterVerify)
		r.Post("/passkeys/login/options", s.handleLoginOptions)
		r.Post("/passkeys/login/verify", s.handleLoginVerify)
		r.Get("/passkeys", s.handleListPasskeys)
		r.Delete("/passkeys/{credentialID}", s.handleDeletePasskey)

		r.Get("/session", s.handleSession)
		r.Post("/logout", s.handleLogout)
	})
	return r
}

// finalizeSession is the sole place an identity is written into the
// session. Every successful login strategy funnels through it, and it
// always drops any ceremony state still riding the cookie.
func (s *Server) finalizeSession(w http.ResponseWriter, handle *session.Handle, u user.User) error {
	handle.UserID = u.ID
	handle.Email = u.Email
	handle.ClearChallenge()
	return s.sessions.Save(w, *handle)
}

// getOrCreateUser resolves an email to its identity, creating one on
// first login. A create that loses a race re-reads the winner's row.
func (s *Server) getOrCreateUser(ctx context.Context, email string) (user.User, error) {
	existing, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if err != storage.ErrNotFound {
		return user.User{}, fmt.Errorf("get user by email: %w", err)
	}

	created, err := user.New(email, s.clock, s.idGenerator)
	if err != nil {
		return user.User{}, err
	}
	if err := s.users.PutUser(ctx, created); err != nil {
		if err == storage.ErrConflict {
			return s.users.GetUserByEmail(ctx, email)
		}
		return user.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("ERROR encoding response: %v", err)
	}
}

// writeError maps domain errors onto HTTP statuses. Only messages from
// typed domain errors reach the client; anything else is reported as an
// internal error and logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()
	message := "internal error"

	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	if status >= http.StatusInternalServerError {
		log.Printf("ERROR %s %s: %v", r.Method, r.URL.Path, err)
		message = "internal error"
	}

	s.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  string(code),
	})
}

func (s *Server) decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := decoder.Decode(out); err != nil {
		return apperrors.New(apperrors.CodeBadRequest, "request body is not valid json")
	}
	return nil
}

func (s *Server) readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.New(apperrors.CodeBadRequest, "request body could not be read")
	}
	if len(body) == 0 {
		return nil, apperrors.New(apperrors.CodeBadRequest, "request body is required")
	}
	return body, nil
}
