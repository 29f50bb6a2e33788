package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/homemarket/negotiation-engine/internal/infrastructure/identity"
)

const apiKeyHeader = "X-API-Key"

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication not configured")
			return
		}
		p, err := s.verifier.Verify(r.Context(), s.credentials(r))
		if err != nil {
			if !errors.Is(err, identity.ErrUnauthenticated) {
				hlog.FromRequest(r).Debug().Err(err).Msg("credentials rejected")
			}
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid credentials")
			return
		}
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("actor", p.UserID)
		})
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

func (s *Server) credentials(r *http.Request) identity.Credentials {
	creds := identity.Credentials{
		BearerToken: extractToken(r),
		APIKey:      strings.TrimSpace(r.Header.Get(apiKeyHeader)),
	}
	if s.trustHeader != "" {
		creds.TrustedUser = strings.TrimSpace(r.Header.Get(s.trustHeader))
	}
	return creds
}

func extractToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}
