package httpboundary

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/apperr"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindBadInput, http.StatusBadRequest},
		{apperr.KindUnauthenticated, http.StatusUnauthorized},
		{apperr.KindForbidden, http.StatusForbidden},
		{apperr.KindRateLimited, http.StatusTooManyRequests},
		{apperr.KindTransient, http.StatusBadGateway},
		{apperr.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.kind))
	}
}

type noopLogger struct{ called bool }

func (l *noopLogger) Error(msg string, args ...any) { l.called = true }

func TestWriteError_InternalKindGenericizesMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	logger := &noopLogger{}
	writeError(rec, logger, apperr.Internal("db write failed", errors.New("connection refused")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal error")
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.True(t, logger.called)
}

func TestWriteError_BadInputKeepsLiteralMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	logger := &noopLogger{}
	writeError(rec, logger, apperr.BadInput("message too long"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "message too long")
	assert.False(t, logger.called)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]string{"status": "ok"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
