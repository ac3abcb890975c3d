package flows

import (
	"net/http"

	apperrors "github.com/louisbranch/fortress/internal/platform/errors"
)

// handleOAuthStart seeds the CSRF state into the session and redirects
// to the provider's consent page.
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		s.writeError(w, r, apperrors.New(apperrors.CodeNotFound, "oauth login is not configured"))
		return
	}

	state, err := s.stateGenerator()
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
	http.Redirect(w, r, s.oauth.AuthURL(state), http.StatusFound)
}

// handleOAuthCallback finishes the provider round trip. The state is
// consumed before the code exchange so a failed callback can never be
// replayed against the same session.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		s.writeError(w, r, apperrors.New(apperrors.CodeNotFound, "oauth login is not configured"))
		return
	}

	handle := s.sessions.Load(r)
	expected := handle.Challenge
	handle.ClearChallenge()

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if expected == "" || state == "" || state != expected {
		if err := s.sessions.Save(w, handle); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, apperrors.New(apperrors.CodeVerificationFailed, "state mismatch"))
		return
	}
	if code == "" {
		if err := s.sessions.Save(w, handle); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, apperrors.New(apperrors.CodeBadRequest, "authorization code is required"))
		return
	}

	email, err := s.oauth.Exchange(r.Context(), code)
	if err != nil {
		if saveErr := s.sessions.Save(w, handle); saveErr != nil {
			s.writeError(w, r, saveErr)
			return
		}
		s.writeError(w, r, err)
		return
	}

	account, err := s.getOrCreateUser(r.Context(), email)
	if err != nil {
		if saveErr := s.sessions.Save(w, handle); saveErr != nil {
			s.writeError(w, r, saveErr)
			return
		}
		s.writeError(w, r, err)
		return
	}
	// finalizeSession mutates the handle; keep the cleared copy so a
	// failed save still drops the consumed state from the cookie.
	cleared := handle
	if err := s.finalizeSession(w, &handle, account); err != nil {
		if saveErr := s.sessions.Save(w, cleared); saveErr != nil {
			s.writeError(w, r, saveErr)
			return
		}
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, s.postLoginRedirect, http.StatusFound)
}
