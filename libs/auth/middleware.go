package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey struct{}

func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok && c != nil
}

// Verifier checks bearer tokens with an HS256 secret and, when configured,
// RS256 keys from a JWKS endpoint.
type Verifier struct {
	Secret string
	JWKS   *JWKSClient
}

func (v Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	header, err := ParseHeader(token)
	if err != nil {
		return nil, err
	}
	if header.Alg == "RS256" && header.Kid != "" && v.JWKS != nil {
		pub, err := v.JWKS.Get(ctx, header.Kid)
		if err != nil {
			return nil, ErrInvalidToken
		}
		return VerifyRS256(token, pub)
	}
	return ParseAndVerifyHS256(token, v.Secret)
}

func RequireUser(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if !strings.HasPrefix(authHeader, "Bearer ") || token == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}
			claims, err := v.Verify(r.Context(), token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole must run after RequireUser.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				writeAuthError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
