package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avoronov/userdir/internal/common"
)

// writeJSON sends a JSON response with the given status code and data.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error(r.Context(), "write JSON response", "error", err)
	}
}

// writeError sends a JSON error response with the given status code and message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeJSON(w, r, status, map[string]string{"error": message})
}

// readJSON decodes the request body into the given destination.
func readJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// writeServiceError maps the service error taxonomy onto stable status
// signals. Internal detail never reaches the caller.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorValidation):
		s.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, common.ErrorAlreadyExists):
		s.writeError(w, r, http.StatusConflict, "Email already registered")
	case errors.Is(err, common.ErrorInvalidCredentials):
		s.writeError(w, r, http.StatusUnauthorized, "Incorrect username or password")
	case errors.Is(err, common.ErrorUnauthorized):
		s.writeError(w, r, http.StatusUnauthorized, "Could not validate credentials")
	case errors.Is(err, common.ErrorForbidden):
		s.writeError(w, r, http.StatusForbidden, "The user does not have enough privileges")
	case errors.Is(err, common.ErrorNotFound):
		s.writeError(w, r, http.StatusNotFound, "User not found")
	default:
		s.logger.Error(r.Context(), "internal error", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}
