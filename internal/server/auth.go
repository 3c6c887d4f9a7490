package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/healthrag/internal/logging"
)

// authMiddleware enforces "Authorization: Bearer <apiKey>" on the wrapped
// handler. An empty apiKey disables the check; New warns about that once at
// startup. Rejected requests get 401 with a WWW-Authenticate challenge and a
// JSON error body. Token values are never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token, ok := bearerToken(r)
		switch {
		case !ok:
			log.Warn("auth: missing bearer token", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="healthrag"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "authorization required", log)
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			log.Warn("auth: invalid token", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="healthrag", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token", log)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. ok is false when the header is absent, malformed or empty.
func bearerToken(r *http.Request) (token string, ok bool) {
	scheme, rest, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(rest)
	return token, token != ""
}
