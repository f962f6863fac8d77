package httpboundary

import (
	"net/http"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/credit"
)

// resolveRequestUser turns whatever withAuth attached to the request
// (a canonical user id from a bearer token, or a raw channel key from
// x-session-id) into a canonical user id.
func (s *Server) resolveRequestUser(r *http.Request) string {
	if userID, ok := userIDFrom(r); ok {
		return userID
	}
	channelKey := channelKeyFrom(r)
	if userID, linked := s.resolver.Resolve(r.Context(), channelKey); linked {
		return userID
	}
	return channelKey
}

type usageResponse struct {
	Plan             string `json:"plan"`
	CreditsRemaining int64  `json:"credits_remaining"`
	CreditsUsed      int64  `json:"credits_used"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID := s.resolveRequestUser(r)
	user, err := s.resolver.GetOrCreateUser(r.Context(), userID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{
		Plan:             string(user.Plan),
		CreditsRemaining: user.CreditsRemaining,
		CreditsUsed:      user.CreditsUsed,
	})
}

type accountResponse struct {
	UserID           string   `json:"user_id"`
	DisplayName      string   `json:"display_name,omitempty"`
	Plan             string   `json:"plan"`
	CreditsRemaining int64    `json:"credits_remaining"`
	AllowedModels    []string `json:"allowed_models"`
}

// handleAccount returns the user profile + allowed models for the
// user's plan (§6.1). {id} must match the authenticated caller unless
// the caller holds an admin key.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller := s.resolveRequestUser(r)
	if id != caller && !s.cfg.IsAdminKey(caller) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	user, err := s.resolver.GetOrCreateUser(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		UserID:           user.UserID,
		DisplayName:      user.DisplayName,
		Plan:             string(user.Plan),
		CreditsRemaining: user.CreditsRemaining,
		AllowedModels:    credit.AllowedModels(user.Plan),
	})
}
