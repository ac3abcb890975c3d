package passkey

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/louisbranch/fortress/internal/auth/storage"
	apperrors "github.com/louisbranch/fortress/internal/platform/errors"
)

func testVerifier(t *testing.T) *WebAuthnVerifier {
	t.Helper()
	verifier, err := NewVerifier(Config{
		RPDisplayName: "Fortress",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:8086"},
		CeremonyTTL:   5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	verifier.clock = func() time.Time {
		return time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	}
	return verifier
}

func TestConfigDomain(t *testing.T) {
	config := Config{RPOrigins: []string{"http://localhost:8086", "https://fortress.example"}}
	if got := config.Domain(); got != "http://localhost:8086" {
		t.Fatalf("expected first origin, got %q", got)
	}
	if got := (Config{}).Domain(); got != "" {
		t.Fatalf("expected empty domain, got %q", got)
	}
}

func TestNewVerifierRequiresCeremonyTTL(t *testing.T) {
	_, err := NewVerifier(Config{RPDisplayName: "Fortress", RPID: "localhost", RPOrigins: []string{"http://localhost:8086"}})
	if err == nil {
		t.Fatal("expected error for zero ceremony ttl")
	}
}

func TestBeginRegistrationProducesOptionsAndState(t *testing.T) {
	verifier := testVerifier(t)
	user := User{ID: "user-1", Email: "a@x.com"}

	options, state, err := verifier.BeginRegistration(user)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	var creation struct {
		PublicKey struct {
			Challenge string `json:"challenge"`
			RP        struct {
				ID string `json:"id"`
			} `json:"rp"`
			AuthenticatorSelection struct {
				ResidentKey string `json:"residentKey"`
			} `json:"authenticatorSelection"`
		} `json:"publicKey"`
	}
	if err := json.Unmarshal(options, &creation); err != nil {
		t.Fatalf("decode options: %v", err)
	}
	if creation.PublicKey.Challenge == "" {
		t.Fatal("expected challenge in options")
	}
	if creation.PublicKey.RP.ID != "localhost" {
		t.Fatalf("expected rp id localhost, got %q", creation.PublicKey.RP.ID)
	}
	if creation.PublicKey.AuthenticatorSelection.ResidentKey != "required" {
		t.Fatalf("expected resident key required, got %q", creation.PublicKey.AuthenticatorSelection.ResidentKey)
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(state), &session); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	want := verifier.clock().Add(5 * time.Minute)
	if !session.Expires.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, session.Expires)
	}
}

func TestBeginLoginProducesOptionsAndState(t *testing.T) {
	verifier := testVerifier(t)

	options, state, err := verifier.BeginLogin()
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}

	var assertion struct {
		PublicKey struct {
			Challenge string `json:"challenge"`
		} `json:"publicKey"`
	}
	if err := json.Unmarshal(options, &assertion); err != nil {
		t.Fatalf("decode options: %v", err)
	}
	if assertion.PublicKey.Challenge == "" {
		t.Fatal("expected challenge in options")
	}
	if state == "" {
		t.Fatal("expected state")
	}
}

func TestFinishRegistrationWithoutCeremony(t *testing.T) {
	verifier := testVerifier(t)
	user := User{ID: "user-1", Email: "a@x.com"}

	for _, state := range []string{"", "not json"} {
		_, err := verifier.FinishRegistration(user, state, []byte("{}"))
		if !apperrors.HasCode(err, apperrors.CodeVerificationFailed) {
			t.Fatalf("expected verification failure for state %q, got %v", state, err)
		}
	}
}

func TestFinishRegistrationExpiredCeremony(t *testing.T) {
	verifier := testVerifier(t)
	user := User{ID: "user-1", Email: "a@x.com"}

	_, state, err := verifier.BeginRegistration(user)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	verifier.clock = func() time.Time {
		return time.Date(2026, 2, 1, 10, 6, 0, 0, time.UTC)
	}

	_, err = verifier.FinishRegistration(user, state, []byte("{}"))
	if !apperrors.HasCode(err, apperrors.CodeExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestFinishRegistrationRejectsMalformedResponse(t *testing.T) {
	verifier := testVerifier(t)
	user := User{ID: "user-1", Email: "a@x.com"}

	_, state, err := verifier.BeginRegistration(user)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	_, err = verifier.FinishRegistration(user, state, []byte("not json"))
	if !apperrors.HasCode(err, apperrors.CodeBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestFinishLoginWithoutCeremony(t *testing.T) {
	verifier := testVerifier(t)

	resolve := func(string) (User, error) { return User{}, nil }
	_, err := verifier.FinishLogin("", []byte("{}"), resolve)
	if !apperrors.HasCode(err, apperrors.CodeVerificationFailed) {
		t.Fatalf("expected verification failure, got %v", err)
	}
}

func TestFinishLoginRejectsMalformedResponse(t *testing.T) {
	verifier := testVerifier(t)

	_, state, err := verifier.BeginLogin()
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}

	resolve := func(string) (User, error) { return User{}, nil }
	_, err = verifier.FinishLogin(state, []byte("not json"), resolve)
	if !apperrors.HasCode(err, apperrors.CodeBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestNewUserDecodesStoredCredentials(t *testing.T) {
	stored := []storage.Credential{{
		ID:         "cred-1",
		ExternalID: EncodeExternalID([]byte("authenticator-id")),
		PublicKey:  []byte{1, 2, 3},
		SignCount:  7,
		Transports: []string{"internal", "hybrid"},
	}}

	user, err := NewUser("user-1", "a@x.com", stored)
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	credentials := user.WebAuthnCredentials()
	if len(credentials) != 1 {
		t.Fatalf("expected one credential, got %d", len(credentials))
	}
	if string(credentials[0].ID) != "authenticator-id" {
		t.Fatalf("unexpected credential id %q", credentials[0].ID)
	}
	if credentials[0].Authenticator.SignCount != 7 {
		t.Fatalf("expected sign count 7, got %d", credentials[0].Authenticator.SignCount)
	}
	if len(credentials[0].Transport) != 2 {
		t.Fatalf("unexpected transports: %v", credentials[0].Transport)
	}
	if string(user.WebAuthnID()) != "user-1" {
		t.Fatalf("unexpected webauthn id %q", user.WebAuthnID())
	}
	if user.WebAuthnName() != "a@x.com" {
		t.Fatalf("unexpected webauthn name %q", user.WebAuthnName())
	}
}

func TestNewUserRejectsBadExternalID(t *testing.T) {
	stored := []storage.Credential{{ID: "cred-1", ExternalID: "not base64!"}}
	if _, err := NewUser("user-1", "a@x.com", stored); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestExternalIDRoundTrip(t *testing.T) {
	raw := []byte{0, 1, 2, 255}
	decoded, err := DecodeExternalID(EncodeExternalID(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Fatalf("round trip mismatch: %v", decoded)
	}
}
