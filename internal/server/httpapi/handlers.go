package httpapi

import (
	"net/http"
	"strconv"

	"github.com/avoronov/userdir/internal/server/models"
)

// handlePing reports liveness.
// GET /ping
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "OK"})
}

// handleRegister creates a user account.
// POST /register
// Request:  {"email":"...","password":"...","role":"USER"}
// Response: 201 {"id":1,"email":"...","role":"USER"}
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	role := models.Role("")
	if req.Role != "" {
		parsed, err := models.ParseRole(req.Role)
		if err != nil {
			s.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}
		role = parsed
	}

	user, err := s.users.Register(r.Context(), req.Email, req.Password, role)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.logger.Info(r.Context(), "registered", "email", user.Email)
	s.writeJSON(w, r, http.StatusCreated, toUserResponse(user))
}

// handleLogin verifies credentials and issues a session token.
// POST /token
// Request:  {"email":"...","password":"..."}
// Response: {"access_token":"...","token_type":"bearer"}
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := s.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// handleMe returns the caller's own record.
// GET /users/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	s.writeJSON(w, r, http.StatusOK, toUserResponse(user))
}

// handleListUsers returns the full listing, served read-through from the
// cache.
// GET /users
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	views, err := s.users.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	result := make([]userResponse, 0, len(views))
	for _, v := range views {
		result = append(result, viewToResponse(v))
	}

	s.writeJSON(w, r, http.StatusOK, result)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

// handleUpdateUser applies a partial update.
// PUT /users/{id}
// Request: {"email":"...","role":"ADMIN"} (both fields optional)
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, r, http.StatusUnprocessableEntity, "Invalid user id")
		return
	}

	var req updateUserRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	upd := models.UserUpdate{Email: req.Email}
	if req.Role != nil {
		parsed, err := models.ParseRole(*req.Role)
		if err != nil {
			s.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}
		upd.Role = &parsed
	}

	user, err := s.users.Update(r.Context(), id, upd)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, toUserResponse(user))
}

// handleDeleteUser removes a user record.
// DELETE /users/{id}
// Response: 204 No Content
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, r, http.StatusUnprocessableEntity, "Invalid user id")
		return
	}

	if _, err := s.users.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
