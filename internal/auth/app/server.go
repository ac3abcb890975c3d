// Package app assembles the authentication service: storage, session
// sealing, the login strategies, and the HTTP server hosting them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/fortress/internal/auth/credential"
	"github.com/louisbranch/fortress/internal/auth/flows"
	"github.com/louisbranch/fortress/internal/auth/magiclink"
	"github.com/louisbranch/fortress/internal/auth/oauth"
	"github.com/louisbranch/fortress/internal/auth/passkey"
	"github.com/louisbranch/fortress/internal/auth/session"
	authsqlite "github.com/louisbranch/fortress/internal/auth/storage/sqlite"
	"github.com/louisbranch/fortress/internal/platform/config"
	"github.com/louisbranch/fortress/internal/platform/mail"
)

// Server hosts the authentication HTTP service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
	magic      *magiclink.Service
}

// New creates a configured server listening on addr.
func New(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openAuthStore()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	handler, magic, err := buildHandler(store)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		store: store,
		magic: magic,
	}, nil
}

func buildHandler(store *authsqlite.Store) (http.Handler, *magiclink.Service, error) {
	var sessionConfig session.Config
	if err := config.ParseEnv(&sessionConfig); err != nil {
		return nil, nil, err
	}
	sessions, err := session.NewManager(sessionConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("configure sessions: %w", err)
	}

	var magicConfig magiclink.Config
	if err := config.ParseEnv(&magicConfig); err != nil {
		return nil, nil, err
	}
	magic := magiclink.NewService(store, mail.NewSenderFromEnv(), magicConfig)

	var passkeyConfig passkey.Config
	if err := config.ParseEnv(&passkeyConfig); err != nil {
		return nil, nil, err
	}
	verifier, err := passkey.NewVerifier(passkeyConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("configure passkeys: %w", err)
	}

	var oauthConfig oauth.Config
	if err := config.ParseEnv(&oauthConfig); err != nil {
		return nil, nil, err
	}
	var oauthProvider oauth.Provider
	if oauthConfig.Enabled() {
		oauthProvider = oauth.NewGoogleProvider(oauthConfig)
	} else {
		log.Printf("oauth login disabled: no google client configured")
	}

	server := flows.NewServer(
		sessions,
		store,
		magic,
		credential.NewService(store),
		verifier,
		oauthProvider,
		passkeyConfig,
	)
	return server.Routes(), magic, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, addr string) error {
	server, err := New(addr)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context
// ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.startTokenCleanup(serverCtx, 5*time.Minute)

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		shutdown()
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

// startTokenCleanup deletes expired magic link tokens periodically so
// the table does not grow without bound.
func (s *Server) startTokenCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.magic.PurgeExpired(ctx); err != nil {
					log.Printf("purge expired tokens: %v", err)
				}
			}
		}
	}()
}

func openAuthStore() (*authsqlite.Store, error) {
	path := strings.TrimSpace(os.Getenv("FORTRESS_AUTH_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close auth store: %v", err)
		}
	}
}
