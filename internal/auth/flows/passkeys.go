package flows

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/louisbranch/fortress/internal/auth/credential"
	"github.com/louisbranch/fortress/internal/auth/passkey"
	"github.com/louisbranch/fortress/internal/auth/user"
	apperrors "github.com/louisbranch/fortress/internal/platform/errors"
)

var errNoCeremony = apperrors.New(apperrors.CodeVerificationFailed, "no ceremony in progress")

// handleRegisterOptions starts passkey enrollment for the session's
// email. The ceremony state rides the session cookie until the verify
// call consumes it.
func (s *Server) handleRegisterOptions(w http.ResponseWriter, r *http.Request) {
	handle := s.sessions.Load(r)
	if handle.Email == "" {
		s.writeError(w, r, apperrors.New(apperrors.CodeUnauthenticated, "sign in before managing passkeys"))
		return
	}

	account, err := s.getOrCreateUser(r.Context(), handle.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ceremonyUser, err := s.loadCeremonyUser(r, account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	options, state, err := s.verifier.BeginRegistration(ceremonyUser)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	handle.Challenge = state
	if err := s.sessions.Save(w, handle); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, options)
}

// handleRegisterVerify validates the attestation response. The held
// challenge is consumed up front, so a failed attempt cannot be
// retried against the same ceremony.
func (s *Server) handleRegisterVerify(w http.ResponseWriter, r *http.Request) {
	handle := s.sessions.Load(r)
	if handle.Email == "" {
		s.writeError(w, r, apperrors.New(apperrors.CodeUnauthenticated, "sign in before managing passkeys"))
		return
	}

	state := handle.Challenge
	handle.ClearChallenge()

	credentialID, account, err := s.verifyRegistration(r, handle.Email, state)
	if err != nil {
		if saveErr := s.sessions.Save(w, handle); saveErr != nil {
			s.writeError(w, r, saveErr)
			return
		}
		s.writeError(w, r, err)
		return
	}

	if err := s.finalizeSession(w, &handle, account); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"credential_id": credentialID})
}

func (s *Server) verifyRegistration(r *http.Request, email, state string) (string, user.User, error) {
	if state == "" {
		return "", user.User{}, errNoCeremony
	}
	body, err := s.readBody(r)
	if err != nil {
		return "", user.User{}, err
	}

	account, err := s.getOrCreateUser(r.Context(), email)
	if err != nil {
		return "", user.User{}, err
	}
	ceremonyUser, err := s.loadCeremonyUser(r, account)
	if err != nil {
		return "", user.User{}, err
	}

	registration, err := s.verifier.FinishRegistration(ceremonyUser, state, body)
	if err != nil {
		return "", user.User{}, err
	}

	row, err := s.credentials.Register(r.Context(), credential.RegisterParams{
		UserID:     account.ID,
		Name:       account.Email,
		ExternalID: registration.ExternalID,
		PublicKey:  registration.PublicKey,
		Transports: registration.Transports,
		Domain:     s.passkeyConfig.Domain(),
	})
	if err != nil {
		return "", user.User{}, err
	}
	return row.ID, account, nil
}

// handleLoginOptions starts a discoverable passkey login. No account
// is named; the authenticator chooses the credential.
func (s *Server) handleLoginOptions(w http.ResponseWriter, r *http.Request) {
	options, state, err := s.verifier.BeginLogin()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	handle := s.sessions.Load(r)
	handle.Challenge = state
	if err := s.sessions.Save(w, handle); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, options)
}

// handleLoginVerify validates the assertion response and establishes
// the session. An assertion naming an unenrolled credential is a plain
// not found; signature and counter failures are verification failures.
func (s *Server) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	handle := s.sessions.Load(r)
	state := handle.Challenge
	handle.ClearChallenge()

	account, err := s.verifyLogin(r, state)
	if err != nil {
		if saveErr := s.sessions.Save(w, handle); saveErr != nil {
			s.writeError(w, r, saveErr)
			return
		}
		s.writeError(w, r, err)
		return
	}

	if err := s.finalizeSession(w, &handle, account); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessionPayload{
		Authenticated: true,
		UserID:        account.ID,
		Email:         account.Email,
	})
}

func (s *Server) verifyLogin(r *http.Request, state string) (user.User, error) {
	if state == "" {
		return user.User{}, errNoCeremony
	}
	body, err := s.readBody(r)
	if err != nil {
		return user.User{}, err
	}

	resolve := func(userID string) (passkey.User, error) {
		account, err := s.users.GetUser(r.Context(), userID)
		if err != nil {
			return passkey.User{}, err
		}
		stored, err := s.credentials.ListForUser(r.Context(), account.ID)
		if err != nil {
			return passkey.User{}, err
		}
		return passkey.NewUser(account.ID, account.Email, stored)
	}

	login, err := s.verifier.FinishLogin(state, body, resolve)
	if err != nil {
		return user.User{}, err
	}

	row, err := s.credentials.FindByExternalID(r.Context(), login.ExternalID, s.passkeyConfig.Domain())
	if err != nil {
		return user.User{}, err
	}
	if row.UserID != login.UserID {
		return user.User{}, apperrors.New(apperrors.CodeVerificationFailed, "credential verification failed")
	}

	if err := s.credentials.RecordAssertion(r.Context(), row.ID, row.SignCount, login.SignCount); err != nil {
		return user.User{}, err
	}

	account, err := s.users.GetUser(r.Context(), login.UserID)
	if err != nil {
		return user.User{}, apperrors.New(apperrors.CodeVerificationFailed, "credential verification failed")
	}
	return account, nil
}

func (s *Server) loadCeremonyUser(r *http.Request, account user.User) (passkey.User, error) {
	stored, err := s.credentials.ListForUser(r.Context(), account.ID)
	if err != nil {
		return passkey.User{}, err
	}
	return passkey.NewUser(account.ID, account.Email, stored)
}

type passkeySummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// handleListPasskeys returns the session user's enrolled passkeys.
func (s *Server) handleListPasskeys(w http.ResponseWriter, r *http.Request) {
	handle := s.sessions.Load(r)
	if !handle.Authenticated() {
		s.writeError(w, r, apperrors.New(apperrors.CodeUnauthenticated, "sign in before managing passkeys"))
		return
	}

	stored, err := s.credentials.ListForUser(r.Context(), handle.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	summaries := make([]passkeySummary, 0, len(stored))
	for _, row := range stored {
		summaries = append(summaries, passkeySummary{
			ID:        row.ID,
			Name:      row.Name,
			CreatedAt: row.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string][]passkeySummary{"passkeys": summaries})
}

// handleDeletePasskey archives one of the session user's passkeys.
func (s *Server) handleDeletePasskey(w http.ResponseWriter, r *http.Request) {
	handle := s.sessions.Load(r)
	if !handle.Authenticated() {
		s.writeError(w, r, apperrors.New(apperrors.CodeUnauthenticated, "sign in before managing passkeys"))
		return
	}

	credentialID := chi.URLParam(r, "credentialID")
	if err := s.credentials.Archive(r.Context(), credentialID, handle.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
