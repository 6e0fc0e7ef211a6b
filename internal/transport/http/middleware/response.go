package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/go-registration-api/internal/domain"
)

// writeJSONError writes the error envelope handlers use, with the status derived from the code.
func writeJSONError(w http.ResponseWriter, err *domain.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]*domain.Error{"error": err})
}
