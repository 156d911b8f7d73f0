package httpapi

import "github.com/avoronov/userdir/internal/server/models"

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type updateUserRequest struct {
	Email *string `json:"email"`
	Role  *string `json:"role"`
}

type userResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Role: string(u.Role)}
}

func viewToResponse(v models.UserView) userResponse {
	return userResponse{ID: v.ID, Email: v.Email, Role: string(v.Role)}
}
