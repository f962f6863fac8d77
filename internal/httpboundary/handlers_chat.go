package httpboundary

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/apperr"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/orchestrator"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	resp, err := s.orchestrator.Run(r.Context(), channelKeyFor(r, req), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatExplore(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	resp, err := s.orchestrator.Explore(r.Context(), channelKeyFor(r, req), req)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindCreditExhausted {
			writeJSON(w, http.StatusOK, orchestrator.ChatResponse{Action: "upgrade", Response: err.Error()})
			return
		}
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// channelKeyFor prefers the body's explicit session_id (the client's own
// idea of which conversation this is) over the auth-derived key, falling
// back to whatever withAuth resolved.
func channelKeyFor(r *http.Request, req orchestrator.ChatRequest) string {
	if req.SessionID != "" {
		return req.SessionID
	}
	return channelKeyFrom(r)
}

// handleChatStream adapts the orchestrator's push-style RunStream onto
// r3labs/sse's subscribe-stream model: a fresh stream id is created,
// RunStream publishes into it from a goroutine, and the incoming
// request is rewritten to "subscribe" to that same id so one POST both
// starts and consumes the stream (§4.5; §6.1 "server emits events").
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	channelKey := channelKeyFor(r, req)

	streamID := uuid.NewString()
	s.sse.CreateStream(streamID)
	defer s.sse.RemoveStream(streamID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		err := s.orchestrator.RunStream(ctx, channelKey, req, func(e orchestrator.Event) {
			data, _ := json.Marshal(e.Data)
			s.sse.Publish(streamID, &sse.Event{Event: []byte(e.Type), Data: data})
		})
		if err != nil && apperr.KindOf(err) != apperr.KindBadInput {
			s.logger.Warn("chat stream failed", "error", err)
		}
		// Give the subscriber loop time to flush the last published
		// event before the stream is torn down.
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	q := r.URL.Query()
	q.Set("stream", streamID)
	r.URL.RawQuery = q.Encode()
	s.sse.ServeHTTP(w, r.WithContext(ctx))
}
