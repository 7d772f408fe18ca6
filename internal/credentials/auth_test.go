package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req authRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case req.Action == "register" && req.Email == "taken@example.com":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"User already exists"}`))
		case req.Action == "register":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"message":"User created successfully"}`))
		case req.Action == "login" && req.Password == "right":
			_, _ = w.Write([]byte(`{"success":true,"user":{"id":"u1","email":"` + req.Email + `"}}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Invalid credentials"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLogin(t *testing.T) {
	a := NewAuthenticator(authServer(t).URL, nil)

	user, err := a.Login(context.Background(), "me@example.com", "right")
	require.NoError(t, err)
	assert.Equal(t, User{ID: "u1", Email: "me@example.com"}, user)

	_, err = a.Login(context.Background(), "me@example.com", "wrong")
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.Contains(t, err.Error(), "Invalid credentials")
}

func TestRegister(t *testing.T) {
	a := NewAuthenticator(authServer(t).URL, nil)

	msg, err := a.Register(context.Background(), "new@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "User created successfully", msg)

	_, err = a.Register(context.Background(), "taken@example.com", "pw")
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.Contains(t, err.Error(), "User already exists")
}
