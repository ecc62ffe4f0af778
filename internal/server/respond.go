package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/raaihank/scribe-sentinel/internal/completion"
	"github.com/raaihank/scribe-sentinel/internal/scribe"
	"github.com/raaihank/scribe-sentinel/internal/soap"
	"github.com/raaihank/scribe-sentinel/internal/store"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errBadRequest   = errors.New("bad request")
)

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", errBadRequest, msg)
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, errorResponse{Error: code, Message: message, Retryable: retryable})
}

// errorStatus maps pipeline errors onto HTTP responses. Messages are fixed
// strings so no upstream body or transcript text leaks to clients.
func errorStatus(err error) (int, string, string, bool) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", false
	case errors.Is(err, errBadRequest), errors.Is(err, scribe.ErrEmptyTranscript):
		return http.StatusBadRequest, "bad_request", err.Error(), false
	case errors.Is(err, soap.ErrUnparseableOutput):
		return http.StatusUnprocessableEntity, "unparseable_output", "model output could not be parsed as a SOAP note", true
	case errors.Is(err, completion.ErrUpstreamFailure):
		return http.StatusBadGateway, "upstream_failure", "completion backend failed", false
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "note not found", false
	case errors.Is(err, scribe.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable", "note store unavailable", false
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "request timed out", false
	default:
		return http.StatusInternalServerError, "internal", "internal server error", false
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status, code, message, retryable := errorStatus(err)
	writeError(w, status, code, message, retryable)
}

// decodeJSON reads a size-limited JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return errBodyTooLarge
		case errors.Is(err, io.EOF):
			return badRequest("empty body")
		default:
			return badRequest("invalid JSON body")
		}
	}
	return nil
}
