package flows

import (
	"net/http"
)

type magicLinkRequest struct {
	Email string `json:"email"`
}

type loginRequest struct {
	Token string `json:"token"`
}

// handleMagicLinkRequest issues a login link. The response is the same
// whether or not the address already has an account.
func (s *Server) handleMagicLinkRequest(w http.ResponseWriter, r *http.Request) {
	var request magicLinkRequest
	if err := s.decodeJSON(r, &request); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.magic.Issue(r.Context(), request.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// handleLogin redeems a magic link token and establishes the session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var request loginRequest
	if err := s.decodeJSON(r, &request); err != nil {
		s.writeError(w, r, err)
		return
	}

	email, err := s.magic.Redeem(r.Context(), request.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	account, err := s.getOrCreateUser(r.Context(), email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	handle := s.sessions.Load(r)
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
