package apifake

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-elearn-client/apimodel"
	"github.com/rs/zerolog/log"
)

func (s *Server) timestamp() string {
	return s.nowFunc().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Err(err).Msg("apifake: failed to write response")
	}
}

func (s *Server) writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, struct {
		Success   bool   `json:"success"`
		Message   string `json:"message,omitempty"`
		Data      any    `json:"data"`
		Timestamp string `json:"timestamp"`
	}{Success: true, Message: message, Data: data, Timestamp: s.timestamp()})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details ...apimodel.ErrorDetail) {
	writeJSON(w, status, apimodel.ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: s.timestamp(),
		Path:      r.URL.Path,
		TraceID:   uuid.NewString(),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "MALFORMED_REQUEST", "Request body is not valid JSON")
		return false
	}
	return true
}
