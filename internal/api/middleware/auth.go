package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/vidqueue/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

// Auth checks a single shared bearer token. Only its bcrypt hash is kept in
// memory. A nil or disabled Auth lets every request through.
type Auth struct {
	hash []byte
}

// NewAuth hashes token with cost. An empty token disables authentication.
func NewAuth(token string, cost int) (*Auth, error) {
	if token == "" {
		return &Auth{}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return nil, fmt.Errorf("hashing api token: %w", err)
	}
	return &Auth{hash: hash}, nil
}

// Enabled reports whether requests must carry the token.
func (a *Auth) Enabled() bool {
	return a != nil && len(a.hash) > 0
}

// Authenticate validates the Bearer token. WebSocket clients that cannot set
// headers may pass it as the access_token query parameter.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
