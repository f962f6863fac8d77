package httpboundary

import (
	"compress/gzip"
	"context"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxChannelKey
)

// withUserID and userIDFrom thread the resolved identity through the
// request context, the same pattern as the teacher's store.WithUserID.
func withUserID(ctx context.Context, userID, channelKey string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	return context.WithValue(ctx, ctxChannelKey, channelKey)
}

func userIDFrom(r *http.Request) (string, bool) {
	v, ok := r.Context().Value(ctxUserID).(string)
	return v, ok && v != ""
}

func channelKeyFrom(r *http.Request) string {
	if v, ok := r.Context().Value(ctxChannelKey).(string); ok {
		return v
	}
	return ""
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}

// withAuth resolves the caller's identity per §6.1: a valid bearer token
// resolves via AUTH#<token> -> user_id; absent that, x-session-id names
// an (possibly unlinked) channel key directly. Neither present is a 401.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := extractBearerToken(r); token != "" {
			userID, ok := s.resolver.ResolveToken(r.Context(), token)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next(w, r.WithContext(withUserID(r.Context(), userID, userID)))
			return
		}

		if sessionID := r.Header.Get("x-session-id"); sessionID != "" {
			next(w, r.WithContext(withUserID(r.Context(), "", sessionID)))
			return
		}

		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
}

// withGlobalMiddleware wraps every request with the response headers,
// CORS, body-size limit, compression, and rate limiting that apply
// across the whole boundary (§6.1 "Response headers set globally").
func (s *Server) withGlobalMiddleware(next http.Handler) http.Handler {
	return s.withCORS(s.withSecurityHeaders(s.withBodyLimit(s.withRateLimit(s.withCompression(next)))))
}

func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// withCORS sets CORS headers for the fixed allowlist plus the configured
// BASE_URL (§6.1); with an empty allowlist only BASE_URL gets them. No
// request is rejected: one without an Origin header (non-browser
// clients) or from an unlisted origin passes through without CORS
// headers, and OPTIONS is answered with 204.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, x-session-id, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if origin == s.cfg.Gateway.BaseURL {
		return true
	}
	for _, a := range s.cfg.Gateway.AllowedOrigins {
		if a == "*" || a == origin {
			return true
		}
	}
	return len(s.cfg.Gateway.AllowedOrigins) == 0 && len(origin) == 0
}

// gzipWriter adapts an http.ResponseWriter to gzip-encode the body when
// the client advertises support, the standard-library route since no
// HTTP compression middleware appears anywhere in the pack.
type gzipWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (g *gzipWriter) Write(b []byte) (int, error) { return g.gz.Write(b) }

func (s *Server) withCompression(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		next.ServeHTTP(&gzipWriter{ResponseWriter: w, gz: gz}, r)
	})
}

// rateLimiterSet is a per-caller token bucket, keyed by the x-session-id
// header, else the bearer token, else the remote address (see
// withRateLimit), enabling §7's "per-session concurrent cap" /
// RateLimited kind at the HTTP edge rather than only inside the
// orchestrator's concurrency guard.
type rateLimiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rpm      int
}

func newRateLimiterSet(rpm int) *rateLimiterSet {
	return &rateLimiterSet{limiters: make(map[string]*rate.Limiter), rpm: rpm}
}

func (rl *rateLimiterSet) allow(key string) bool {
	if rl.rpm <= 0 {
		return true
	}
	rl.mu.Lock()
	lim, ok := rl.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(rl.rpm)/60.0), rl.rpm)
		rl.limiters[key] = lim
	}
	rl.mu.Unlock()
	return lim.Allow()
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("x-session-id")
		if key == "" {
			key = extractBearerToken(r)
		}
		if key == "" {
			key = r.RemoteAddr
		}
		if !s.limiters.allow(key) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
