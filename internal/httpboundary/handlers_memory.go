package httpboundary

import "net/http"

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	userID := s.resolveRequestUser(r)
	ctx, err := s.memory.Context(r.Context(), userID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"memory": ctx})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	userID := s.resolveRequestUser(r)
	if err := s.memory.Clear(r.Context(), userID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
