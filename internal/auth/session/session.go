// Package session stores the authenticated identity and in-flight
// ceremony state in a sealed cookie. The cookie is the only session
// storage; there is no server side session table.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// Config holds the cookie sealing parameters.
type Config struct {
	// Secret is a hex encoded 64 byte key. The first half signs the
	// cookie, the second half encrypts it. When empty, ephemeral keys
	// are generated and sessions do not survive a restart.
	Secret     string        `env:"FORTRESS_SESSION_SECRET"`
	CookieName string        `env:"FORTRESS_SESSION_COOKIE" envDefault:"fortress_session"`
	TTL        time.Duration `env:"FORTRESS_SESSION_TTL" envDefault:"168h"`
	Secure     bool          `env:"FORTRESS_SESSION_SECURE" envDefault:"false"`
}

// Handle is the decoded session payload. A zero Handle is a valid
// anonymous session.
type Handle struct {
	// UserID is set once a login flow completes. Email travels with it
	// so the session can answer queries without a store lookup.
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	// Challenge is scratch space for an in-flight ceremony: passkey
	// registration and login state, or the OAuth CSRF token. It is
	// single use and cleared on consumption.
	Challenge string `json:"challenge,omitempty"`
}

// Authenticated reports whether the session carries an identity.
func (h Handle) Authenticated() bool {
	return h.UserID != ""
}

// ClearChallenge drops the ceremony scratch state.
func (h *Handle) ClearChallenge() {
	h.Challenge = ""
}

// Manager seals and unseals session cookies.
type Manager struct {
	codec  *securecookie.SecureCookie
	config Config
}

// NewManager builds a Manager from config. An invalid secret is an
// error; an absent one falls back to ephemeral keys with a warning.
func NewManager(config Config) (*Manager, error) {
	hashKey, blockKey, err := sessionKeys(config.Secret)
	if err != nil {
		return nil, err
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(config.TTL.Seconds()))

	return &Manager{codec: codec, config: config}, nil
}

func sessionKeys(secret string) (hashKey []byte, blockKey []byte, err error) {
	if secret == "" {
		log.Printf("WARN no session secret configured; using ephemeral keys, sessions will not survive restarts")
		return securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32), nil
	}
	raw, err := hex.DecodeString(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("decode session secret: %w", err)
	}
	if len(raw) != 64 {
		return nil, nil, fmt.Errorf("session secret must decode to 64 bytes, got %d", len(raw))
	}
	return raw[:32], raw[32:], nil
}

// NewSecret returns a freshly generated secret suitable for Config.Secret.
func NewSecret() (string, error) {
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Load decodes the session cookie from the request. A missing,
// tampered, or expired cookie yields an anonymous session rather than
// an error so every request starts from a usable handle.
func (m *Manager) Load(r *http.Request) Handle {
	cookie, err := r.Cookie(m.config.CookieName)
	if err != nil {
		return Handle{}
	}
	var handle Handle
	if err := m.codec.Decode(m.config.CookieName, cookie.Value, &handle); err != nil {
		return Handle{}
	}
	return handle
}

// Save seals the handle and writes it to the response.
func (m *Manager) Save(w http.ResponseWriter, handle Handle) error {
	sealed, err := m.codec.Encode(m.config.CookieName, handle)
	if err != nil {
		return fmt.Errorf("seal session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.config.CookieName,
		Value:    sealed,
		Path:     "/",
		MaxAge:   int(m.config.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Destroy expires the session cookie.
func (m *Manager) Destroy(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
