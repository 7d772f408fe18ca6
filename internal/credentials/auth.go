package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrAuthRejected = errors.New("authentication rejected")

// User is what the auth endpoint returns on a successful login.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Authenticator checks email/password pairs against the auth endpoint.
type Authenticator struct {
	endpoint string
	client   *http.Client
}

func NewAuthenticator(endpoint string, client *http.Client) *Authenticator {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Authenticator{endpoint: endpoint, client: client}
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Action   string `json:"action"`
}

type authResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
	User    *User  `json:"user"`
}

func (a *Authenticator) Login(ctx context.Context, email, password string) (User, error) {
	resp, err := a.post(ctx, authRequest{Email: email, Password: password, Action: "login"})
	if err != nil {
		return User{}, err
	}
	if resp.User == nil {
		return User{Email: email}, nil
	}
	return *resp.User, nil
}

// Register creates an account. It returns the server's confirmation message.
func (a *Authenticator) Register(ctx context.Context, email, password string) (string, error) {
	resp, err := a.post(ctx, authRequest{Email: email, Password: password, Action: "register"})
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (a *Authenticator) post(ctx context.Context, body authRequest) (authResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return authResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return authResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return authResponse{}, fmt.Errorf("%s: %w", body.Action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return authResponse{}, fmt.Errorf("%s: read response: %w", body.Action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return authResponse{}, fmt.Errorf("%w: %s", ErrAuthRejected, serverMessage(raw))
	}

	var out authResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return authResponse{}, fmt.Errorf("%s: decode response: %w", body.Action, err)
	}
	return out, nil
}
