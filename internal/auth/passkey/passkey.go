// Package passkey runs WebAuthn ceremonies. It owns the challenge
// lifecycle and the translation between stored credential rows and the
// library's credential type; persistence stays with the caller.
package passkey

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/louisbranch/fortress/internal/auth/storage"
	apperrors "github.com/louisbranch/fortress/internal/platform/errors"
)

// Config holds relying party settings.
type Config struct {
	RPDisplayName string   `env:"FORTRESS_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Fortress"`
	RPID          string   `env:"FORTRESS_WEBAUTHN_RP_ID" envDefault:"localhost"`
	RPOrigins     []string `env:"FORTRESS_WEBAUTHN_RP_ORIGINS" envSeparator:"," envDefault:"http://localhost:8086"`
	// CeremonyTTL bounds how long a begin/finish pair may take. It is
	// deliberately much shorter than the session cookie TTL.
	CeremonyTTL time.Duration `env:"FORTRESS_WEBAUTHN_CEREMONY_TTL" envDefault:"5m"`
}

// Domain is the origin credentials are scoped to in storage.
func (c Config) Domain() string {
	if len(c.RPOrigins) == 0 {
		return ""
	}
	return c.RPOrigins[0]
}

// User adapts an identity and its stored credentials to the library's
// user model.
type User struct {
	ID          string
	Email       string
	Credentials []webauthn.Credential
}

// NewUser decodes stored credential rows into a ceremony user.
func NewUser(userID, email string, stored []storage.Credential) (User, error) {
	credentials := make([]webauthn.Credential, 0, len(stored))
	for _, record := range stored {
		decoded, err := DecodeExternalID(record.ExternalID)
		if err != nil {
			return User{}, fmt.Errorf("decode credential %s: %w", record.ID, err)
		}
		transports := make([]protocol.AuthenticatorTransport, 0, len(record.Transports))
		for _, transport := range record.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(transport))
		}
		credentials = append(credentials, webauthn.Credential{
			ID:        decoded,
			PublicKey: record.PublicKey,
			Transport: transports,
			Authenticator: webauthn.Authenticator{
				SignCount: record.SignCount,
			},
		})
	}
	return User{ID: userID, Email: email, Credentials: credentials}, nil
}

func (u User) WebAuthnID() []byte {
	return []byte(u.ID)
}

func (u User) WebAuthnName() string {
	return u.Email
}

func (u User) WebAuthnDisplayName() string {
	return u.Email
}

func (u User) WebAuthnIcon() string {
	return ""
}

func (u User) WebAuthnCredentials() []webauthn.Credential {
	return u.Credentials
}

// Registration is the verified output of a registration ceremony.
type Registration struct {
	ExternalID string
	PublicKey  []byte
	SignCount  uint32
	Transports []string
}

// Login is the verified output of a login ceremony.
type Login struct {
	UserID     string
	ExternalID string
	SignCount  uint32
}

// CredentialResolver loads the user named by an assertion's user
// handle, credentials included.
type CredentialResolver func(userID string) (User, error)

// Verifier runs the two halves of each WebAuthn ceremony. Begin calls
// return browser options JSON plus an opaque state string the caller
// must hold and present to the matching Finish call.
type Verifier interface {
	BeginRegistration(user User) (options json.RawMessage, state string, err error)
	FinishRegistration(user User, state string, response []byte) (Registration, error)
	BeginLogin() (options json.RawMessage, state string, err error)
	FinishLogin(state string, response []byte, resolve CredentialResolver) (Login, error)
}

// WebAuthnVerifier implements Verifier over go-webauthn.
type WebAuthnVerifier struct {
	web    *webauthn.WebAuthn
	config Config

	clock func() time.Time
}

// NewVerifier builds a verifier for the configured relying party.
func NewVerifier(config Config) (*WebAuthnVerifier, error) {
	if config.CeremonyTTL <= 0 {
		return nil, fmt.Errorf("ceremony ttl must be positive")
	}
	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: config.RPDisplayName,
		RPID:          config.RPID,
		RPOrigins:     config.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &WebAuthnVerifier{web: web, config: config, clock: time.Now}, nil
}

// BeginRegistration starts an attestation ceremony for the user.
// Existing credentials are excluded so one authenticator cannot enroll
// twice for the same account.
func (v *WebAuthnVerifier) BeginRegistration(user User) (json.RawMessage, string, error) {
	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(user.Credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(user.Credentials).CredentialDescriptors()))
	}

	creation, session, err := v.web.BeginRegistration(user, options...)
	if err != nil {
		return nil, "", fmt.Errorf("begin registration: %w", err)
	}
	return v.encodeCeremony(creation, session)
}

// FinishRegistration validates the browser's attestation response
// against the held state.
func (v *WebAuthnVerifier) FinishRegistration(user User, state string, response []byte) (Registration, error) {
	session, err := v.decodeState(state)
	if err != nil {
		return Registration{}, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return Registration{}, apperrors.Wrap(apperrors.CodeBadRequest, "credential response did not parse", err)
	}

	credential, err := v.web.CreateCredential(user, session, parsed)
	if err != nil {
		return Registration{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "credential verification failed", err)
	}

	transports := make([]string, 0, len(credential.Transport))
	for _, transport := range credential.Transport {
		transports = append(transports, string(transport))
	}
	return Registration{
		ExternalID: EncodeExternalID(credential.ID),
		PublicKey:  credential.PublicKey,
		SignCount:  credential.Authenticator.SignCount,
		Transports: transports,
	}, nil
}

// BeginLogin starts a discoverable assertion ceremony. No account is
// named up front; the authenticator's user handle identifies the user
// at finish time.
func (v *WebAuthnVerifier) BeginLogin() (json.RawMessage, string, error) {
	assertion, session, err := v.web.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", fmt.Errorf("begin login: %w", err)
	}
	return v.encodeCeremony(assertion, session)
}

// FinishLogin validates the browser's assertion response. Every
// verification failure surfaces the same way so a caller cannot tell a
// wrong signature from an unknown credential.
func (v *WebAuthnVerifier) FinishLogin(state string, response []byte, resolve CredentialResolver) (Login, error) {
	session, err := v.decodeState(state)
	if err != nil {
		return Login{}, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return Login{}, apperrors.Wrap(apperrors.CodeBadRequest, "credential response did not parse", err)
	}

	handler := func(_, userHandle []byte) (webauthn.User, error) {
		if len(userHandle) == 0 {
			return nil, fmt.Errorf("user handle is required")
		}
		return resolve(string(userHandle))
	}

	validatedUser, validatedCredential, err := v.web.ValidatePasskeyLogin(handler, session, parsed)
	if err != nil {
		return Login{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "credential verification failed", err)
	}

	return Login{
		UserID:     string(validatedUser.WebAuthnID()),
		ExternalID: EncodeExternalID(validatedCredential.ID),
		SignCount:  validatedCredential.Authenticator.SignCount,
	}, nil
}

func (v *WebAuthnVerifier) encodeCeremony(options any, session *webauthn.SessionData) (json.RawMessage, string, error) {
	session.Expires = v.clock().UTC().Add(v.config.CeremonyTTL)

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, "", fmt.Errorf("encode ceremony options: %w", err)
	}
	state, err := json.Marshal(session)
	if err != nil {
		return nil, "", fmt.Errorf("encode ceremony state: %w", err)
	}
	return optionsJSON, string(state), nil
}

func (v *WebAuthnVerifier) decodeState(state string) (webauthn.SessionData, error) {
	if state == "" {
		return webauthn.SessionData{}, apperrors.New(apperrors.CodeVerificationFailed, "no ceremony in progress")
	}
	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(state), &session); err != nil {
		return webauthn.SessionData{}, apperrors.New(apperrors.CodeVerificationFailed, "no ceremony in progress")
	}
	if session.Expires.Before(v.clock().UTC()) {
		return webauthn.SessionData{}, apperrors.New(apperrors.CodeExpired, "ceremony expired")
	}
	return session, nil
}

// EncodeExternalID renders an authenticator credential ID for storage.
func EncodeExternalID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeExternalID reverses EncodeExternalID.
func DecodeExternalID(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(encoded)
}
