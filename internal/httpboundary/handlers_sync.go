package httpboundary

import (
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/sync"
)

// handleSyncPoll implements GET /api/v1/sync/poll?session_key=&v= (§4.8).
func (s *Server) handleSyncPoll(w http.ResponseWriter, r *http.Request) {
	sessionKey := r.URL.Query().Get("session_key")
	if sessionKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_key required"})
		return
	}
	v, _ := strconv.ParseInt(r.URL.Query().Get("v"), 10, 64)

	result, err := sync.Poll(r.Context(), s.syncTracker, s.sessions, sessionKey, v)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
