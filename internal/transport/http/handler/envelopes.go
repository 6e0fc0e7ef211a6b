package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-registration-api/internal/domain"
	"github.com/go-registration-api/internal/logging"
	"github.com/go-registration-api/internal/pkg/validate"
	"go.uber.org/zap"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
}

// ErrorEnvelope wraps every error response.
type ErrorEnvelope struct {
	Error *domain.Error `json:"error"`
}

// EnabledEnvelope reports the registration switch.
type EnabledEnvelope struct {
	Enabled bool `json:"enabled"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *domain.Error) {
	writeJSON(w, err.HTTPStatus(), ErrorEnvelope{Error: err})
}

// httpError maps err to its envelope. Anything that is not a domain error is
// logged and reported as internal.
func httpError(w http.ResponseWriter, r *http.Request, err error) {
	de := domain.AsError(err)
	if de.Code == domain.CodeInternal {
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeError(w, de)
}

// decode reads a JSON body into v and runs its validate tags. An empty body is
// treated as an empty object.
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrBadRequest.WithReason("invalid request body")
	}
	if err := validate.Struct(v); err != nil {
		return domain.ErrBadRequest.WithReason(err.Error())
	}
	return nil
}
