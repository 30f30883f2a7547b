package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/epitome-sim/reverie-core/internal/auth"
)

// Authentication failure messages.
const (
	msgAuthRequired = "authentication required"
	msgTokenExpired = "token expired"
	msgTokenInvalid = "invalid token"
)

// authMiddleware validates bearer tokens.
//
// With no secret configured every request passes anonymously. Otherwise a
// presented token must verify, and requests without one are refused only
// when tokens are required. The token subject is stored for audit.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwtCfg := s.secCfg.JWT
		if jwtCfg.Secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := bearerToken(r)
		if !ok {
			if jwtCfg.Required {
				writeJSON(w, http.StatusUnauthorized, Envelope{Code: CodeError, Message: msgAuthRequired, Data: emptyData})
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		claims, err := auth.ParseToken(raw, jwtCfg.Secret, jwtCfg.Issuer)
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			writeJSON(w, http.StatusUnauthorized, Envelope{Code: CodeOverdue, Message: msgTokenExpired, Data: emptyData})
			return
		case err != nil:
			s.logger.Debug("rejected token", "error", err, "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, Envelope{Code: CodeError, Message: msgTokenInvalid, Data: emptyData})
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
