package api

import (
	"context"
	"net/http"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
)

// UserMiddleware reads the caller from the X-User-ID header
func UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		if raw == "" {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_user", "Invalid user ID")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserIDKey, userID)))
	})
}

// JWTMiddleware verifies an HS256 bearer token and takes the caller from
// its "sub" claim.
func JWTMiddleware(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	verify := jwtauth.Verifier(ja)
	return func(next http.Handler) http.Handler {
		withUser := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, claims, err := jwtauth.FromContext(r.Context())
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}
			sub, _ := claims["sub"].(string)
			userID, err := uuid.Parse(sub)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "Token subject is not a user ID")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserIDKey, userID)))
		})
		return verify(jwtauth.Authenticator(withUser))
	}
}

// NewJWTAuth creates the HS256 verifier for secret.
func NewJWTAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}
