package httpboundary

import (
	"encoding/json"
	"net/http"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/apperr"
)

// writeJSON is the teacher's writeJSON: set the content type, write the
// status, encode the body.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps an apperr.Kind to the HTTP status §7 assigns it.
// CreditExhausted has no case here (it would fall to 500): its callers
// answer it with a 200 body carrying action "upgrade" instead (Run
// returns that body itself; handleChatExplore converts the error).
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindBadInput:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err per §7's propagation policy: BadInput/
// Unauthenticated/Forbidden/RateLimited get their literal message,
// Internal gets a generic one (detail stays in the log).
func writeError(w http.ResponseWriter, logger interface{ Error(string, ...any) }, err error) {
	kind := apperr.KindOf(err)
	msg := err.Error()
	if kind == apperr.KindInternal {
		logger.Error("internal error", "error", err)
		msg = "internal error"
	}
	writeJSON(w, statusFor(kind), map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
