package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-go-golems/conflict-sim/pkg/agents"
	"github.com/go-go-golems/conflict-sim/pkg/analysis"
	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/go-go-golems/conflict-sim/pkg/providers"
	"github.com/go-go-golems/conflict-sim/pkg/simulation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const hiddenDetail = "An unexpected error occurred"

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// badRequestError wraps request decoding failures.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string {
	return "invalid request body: " + e.err.Error()
}

func (e *badRequestError) Unwrap() error { return e.err }

func statusFor(err error) int {
	var bre *badRequestError
	switch {
	case conversation.IsNotFound(err), errors.Is(err, agents.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.As(err, &bre),
		errors.Is(err, simulation.ErrInvalidRequest),
		errors.Is(err, agents.ErrValidation),
		errors.Is(err, analysis.ErrNothingToAnalyze),
		errors.Is(err, providers.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("could not write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{
		Error:  http.StatusText(status),
		Detail: err.Error(),
	}

	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if s.production {
			resp.Detail = hiddenDetail
		}
	} else {
		logger.Debug().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request rejected")
	}
	writeJSON(w, status, resp)
}
