package flows

import (
	"log"
	"net/http"
)

type sessionPayload struct {
	Authenticated    bool   `json:"authenticated"`
	UserID           string `json:"user_id,omitempty"`
	Email            string `json:"email,omitempty"`
	PasskeysEnrolled bool   `json:"passkeys_enrolled,omitempty"`
}

// handleSession reports the current session. Anonymous sessions are a
// normal answer, not an error, so the login page can render without a
// failed request.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	handle := s.sessions.Load(r)
	if !handle.Authenticated() {
		s.writeJSON(w, http.StatusOK, sessionPayload{Authenticated: false})
		return
	}

	payload := sessionPayload{
		Authenticated: true,
		UserID:        handle.UserID,
		Email:         handle.Email,
	}
	ids, err := s.credentials.ListIDsForEmail(r.Context(), handle.Email, s.passkeyConfig.Domain())
	if err != nil {
		// Enrollment state is advisory; the session answer stands.
		log.Printf("ERROR listing credentials for session: %v", err)
	}
	payload.PasskeysEnrolled = len(ids) > 0
	s.writeJSON(w, http.StatusOK, payload)
}

// handleLogout destroys the session cookie. Logging out an anonymous
// session succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Destroy(w)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}
