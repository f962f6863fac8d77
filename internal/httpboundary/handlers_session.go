package httpboundary

import (
	"net/http"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/identity"
)

type sessionResponse struct {
	SessionID      string                   `json:"session_id"`
	MessageCount   int                      `json:"message_count"`
	LinkedChannels []identity.LinkedChannel `json:"linked_channels,omitempty"`
}

// handleGetSession implements "fetch resolved session + linked
// channels" (§6.1): {id} is resolved through the link graph exactly as
// the orchestrator does, so a request against any linked channel key
// returns the same canonical session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID, linked := s.resolver.Resolve(r.Context(), id)
	sessionKey := id
	if linked {
		sessionKey = userID
	}

	history := s.sessions.GetHistory(sessionKey, 0)
	resp := sessionResponse{SessionID: sessionKey, MessageCount: len(history)}
	if linked {
		channels, err := s.resolver.LinkedChannels(r.Context(), userID)
		if err == nil {
			resp.LinkedChannels = channels
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID, linked := s.resolver.Resolve(r.Context(), id)
	sessionKey := id
	if linked {
		sessionKey = userID
	}
	if err := s.sessions.Delete(sessionKey); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
