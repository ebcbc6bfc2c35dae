package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
	"github.com/JakeFAU/registry-crawler/internal/search"
)

// envelope is the response body for every JSON endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeOK(w http.ResponseWriter, status int, message string, data any) {
	s.writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, data any) {
	s.writeJSON(w, status, envelope{Success: false, Message: message, Data: data})
}

// failure maps a service error onto a status code, message, and data payload.
func failure(err error) (int, string, any) {
	var perr *crawler.PipelineError
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		return http.StatusBadRequest, err.Error(), nil
	case errors.Is(err, crawler.ErrJobNotFound):
		return http.StatusNotFound, "Job not found", nil
	case errors.As(err, &perr):
		return http.StatusBadGateway, err.Error(), map[string]string{"stage": string(perr.Stage)}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out", nil
	case errors.Is(err, crawler.ErrStoreUnavailable):
		return http.StatusInternalServerError, "store unavailable", nil
	default:
		return http.StatusInternalServerError, err.Error(), nil
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status, message, data := failure(err)
	s.writeError(w, status, message, data)
}
