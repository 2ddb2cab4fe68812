package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/circulum-backend/api/responses"
	pkgauth "github.com/angelmondragon/circulum-backend/pkg/auth"
	"github.com/angelmondragon/circulum-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
	"github.com/angelmondragon/circulum-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the
// authenticated principal.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParsePrincipalToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithPrincipal(r.Context(), claims.Principal)
			if logg != nil {
				ctx = logg.WithPrincipal(ctx, claims.Principal.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
