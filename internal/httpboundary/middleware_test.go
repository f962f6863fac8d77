package httpboundary

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/config"
)

func TestExtractBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok_abc123")
	assert.Equal(t, "tok_abc123", extractBearerToken(req))
}

func TestExtractBearerToken_MissingOrWrongScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", extractBearerToken(req))

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Equal(t, "", extractBearerToken(req))
}

func newTestServer(baseURL string, allowed []string) *Server {
	return &Server{
		cfg: &config.Config{Gateway: config.GatewayConfig{BaseURL: baseURL, AllowedOrigins: allowed}},
	}
}

func TestOriginAllowed_BaseURLAlwaysAllowed(t *testing.T) {
	s := newTestServer("https://gateway.example.invalid", nil)
	assert.True(t, s.originAllowed("https://gateway.example.invalid"))
}

func TestOriginAllowed_ExplicitAllowlist(t *testing.T) {
	s := newTestServer("https://gateway.example.invalid", []string{"https://app.example.com"})
	assert.True(t, s.originAllowed("https://app.example.com"))
	assert.False(t, s.originAllowed("https://evil.example.com"))
}

func TestOriginAllowed_WildcardEntry(t *testing.T) {
	s := newTestServer("https://gateway.example.invalid", []string{"*"})
	assert.True(t, s.originAllowed("https://anything.example.com"))
}

func TestOriginAllowed_EmptyAllowlistPassesOnlyEmptyOrigin(t *testing.T) {
	s := newTestServer("https://gateway.example.invalid", nil)
	assert.False(t, s.originAllowed("https://unexpected.example.com"))
}

func TestWithCORS_SetsHeadersForAllowedOrigin(t *testing.T) {
	s := newTestServer("https://gateway.example.invalid", nil)
	handler := s.withCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://gateway.example.invalid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://gateway.example.invalid", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWithCORS_OptionsShortCircuits(t *testing.T) {
	s := newTestServer("https://gateway.example.invalid", nil)
	called := false
	handler := s.withCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
}

func TestRateLimiterSet_DisabledWhenRPMZero(t *testing.T) {
	rl := newRateLimiterSet(0)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.allow("key"))
	}
}

func TestRateLimiterSet_EnforcesBurstCap(t *testing.T) {
	rl := newRateLimiterSet(2)
	assert.True(t, rl.allow("key"))
	assert.True(t, rl.allow("key"))
	assert.False(t, rl.allow("key"), "third immediate request should be throttled at a burst of 2")
}

func TestRateLimiterSet_KeysAreIndependent(t *testing.T) {
	rl := newRateLimiterSet(1)
	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))
}

func TestWithBodyLimit_CapsRequestBody(t *testing.T) {
	s := newTestServer("https://gateway.example.invalid", nil)
	var readErr error
	handler := s.withBodyLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, readErr)

	oversized := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", maxBodyBytes+1)))
	handler.ServeHTTP(httptest.NewRecorder(), oversized)
	assert.Error(t, readErr, "reading past maxBodyBytes must fail")
}
