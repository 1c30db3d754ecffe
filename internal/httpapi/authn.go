package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"consultdesk.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	devUserHeader  = "X-User-ID"
	devRolesHeader = "X-User-Roles"
)

func (a *API) withAuth(next http.Handler) http.Handler {
	if a.tokens == nil {
		return devIdentity(next)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="consultdesk"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.tokens.ParseAndValidate(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="consultdesk", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		noteLogUser(r.Context(), claims.Subject)
		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// devIdentity trusts caller-supplied identity headers.
func devIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(devUserHeader))
		if uid == "" {
			writeError(w, r, http.StatusUnauthorized, "missing "+devUserHeader+" header")
			return
		}
		var roles []string
		for _, role := range strings.Split(r.Header.Get(devRolesHeader), ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
		if len(roles) == 0 {
			roles = []string{auth.RoleClient}
		}
		noteLogUser(r.Context(), uid)
		next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), uid, roles)))
	})
}

// RequireRole admits callers holding any of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.UserIDFromContext(r.Context()); !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="consultdesk"`)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			for _, role := range roles {
				if auth.HasRole(r.Context(), role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="consultdesk", error="insufficient_scope"`)
			writeError(w, r, http.StatusForbidden, "forbidden")
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
