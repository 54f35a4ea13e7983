package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/calebsch/vqhub/internal/api/response"
)

const keyPrefixLen = 8

// Auth validates Bearer API keys against a configured list of bcrypt hashes.
// An empty hash list disables authentication entirely, which is the local
// development mode.
type Auth struct {
	keyHashes []string
}

// NewAuth creates a new Auth middleware.
func NewAuth(keyHashes []string) *Auth {
	return &Auth{keyHashes: keyHashes}
}

// Enabled reports whether any key hashes are configured.
func (a *Auth) Enabled() bool {
	return len(a.keyHashes) > 0
}

// Authenticate validates the Bearer token by bcrypt comparison against the
// configured hashes and sets key_prefix in the request context for rate
// limiting. With no hashes configured every request passes through.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		var matched bool
		for _, hash := range a.keyHashes {
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawKey)) == nil {
				matched = true
				break
			}
		}
		if !matched {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		r = r.WithContext(setKeyPrefix(r.Context(), rawKey[:keyPrefixLen]))
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
