package myMiddleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type validatorFunc func(string) (int64, string, string, error)

func (f validatorFunc) ValidateToken(token string) (int64, string, string, error) {
	return f(token)
}

func newTestMiddleware() *AuthMiddleware {
	return NewAuthMiddleware(validatorFunc(func(token string) (int64, string, string, error) {
		if token != "good" {
			return 0, "", "", errors.New("bad token")
		}
		return 42, "amina", "client", nil
	}))
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"bearer header", "/", "Bearer good", http.StatusOK},
		{"query token", "/?token=good", "", http.StatusOK},
		{"missing token", "/", "", http.StatusUnauthorized},
		{"invalid token", "/", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "/", "Basic good", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			var gotID int64
			var gotRole string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, _, role, ok := IdentityFrom(r.Context())
				req.True(ok)
				gotID, gotRole = id, role
			})

			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newTestMiddleware().Handle(next).ServeHTTP(w, r)

			req.Equal(tt.status, w.Code)
			if tt.status == http.StatusOK {
				req.Equal(int64(42), gotID)
				req.Equal("client", gotRole)
			}
		})
	}
}

func TestIdentityFrom_Missing(t *testing.T) {
	_, _, _, ok := IdentityFrom(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	require.False(t, ok)
}
