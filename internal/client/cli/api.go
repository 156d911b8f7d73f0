package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIClient is a thin JSON client for the directory server.
type APIClient struct {
	baseURL string
	http    *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// UserView mirrors the server's user representation.
type UserView struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type apiError struct {
	Message string `json:"error"`
}

// do performs a request and decodes the response into out (when non-nil).
// Non-2xx responses are returned as errors carrying the server's message.
func (c *APIClient) do(ctx context.Context, method, path, token string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Message != "" {
			return errors.New(apiErr.Message)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}

	return nil
}

func (c *APIClient) Register(ctx context.Context, email, password, role string) (*UserView, error) {
	body := map[string]string{"email": email, "password": password}
	if role != "" {
		body["role"] = role
	}
	var user UserView
	if err := c.do(ctx, http.MethodPost, "/register", "", body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *APIClient) Login(ctx context.Context, email, password string) (string, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	err := c.do(ctx, http.MethodPost, "/token", "", map[string]string{
		"email": email, "password": password,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

func (c *APIClient) Me(ctx context.Context, token string) (*UserView, error) {
	var user UserView
	if err := c.do(ctx, http.MethodGet, "/users/me", token, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *APIClient) ListUsers(ctx context.Context, token string) ([]UserView, error) {
	var listing []UserView
	if err := c.do(ctx, http.MethodGet, "/users", token, nil, &listing); err != nil {
		return nil, err
	}
	return listing, nil
}

func (c *APIClient) UpdateUser(ctx context.Context, token string, id int64, email, role string) (*UserView, error) {
	body := map[string]string{}
	if email != "" {
		body["email"] = email
	}
	if role != "" {
		body["role"] = role
	}
	var user UserView
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/users/%d", id), token, body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *APIClient) DeleteUser(ctx context.Context, token string, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/users/%d", id), token, nil, nil)
}
