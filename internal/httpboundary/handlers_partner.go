package httpboundary

import "net/http"

type grantCreditsRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	UserID         string `json:"user_id"`
	Credits        int64  `json:"credits"`
}

// handlePartnerGrantCredits implements the idempotent partner
// credit-grant endpoint (§6.1, §4.7): the bearer token must be one of
// the configured PARTNER_* tokens, checked directly against config
// rather than through withAuth/AUTH# since partner tokens are a
// separate trust domain from end-user session tokens.
func (s *Server) handlePartnerGrantCredits(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r)
	if token == "" || !partnerTokenValid(s.cfg.Billing.PartnerTokens, token) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req grantCreditsRequest
	if err := decodeJSON(r, &req); err != nil || req.IdempotencyKey == "" || req.UserID == "" || req.Credits <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	result, err := s.ledger.Grant(r.Context(), req.IdempotencyKey, req.UserID, req.Credits)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func partnerTokenValid(tokens []string, token string) bool {
	for _, t := range tokens {
		if t == token {
			return true
		}
	}
	return false
}
