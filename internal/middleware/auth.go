// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// IdentityKey is the context key for the authenticated identity.
	IdentityKey ContextKey = "identity"
)

// ErrSuspended is returned for tokens of suspended identities.
var ErrSuspended = errors.New("identity is suspended")

// Claims represents JWT claims. Subject carries the identity.
type Claims struct {
	jwt.RegisteredClaims
	Suspended bool `json:"suspended,omitempty"`
}

// VerifyToken validates a bearer token and returns the authenticated
// identity. Suspended identities are rejected here, before any connection or
// request is accepted.
func VerifyToken(tokenString, jwtSecret string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return "", jwt.ErrTokenUnverifiable
	}
	// Subject flows into storage keys and broadcast subjects; a subject that
	// fails identity validation never gets past authentication.
	if ValidateIdentity(claims.Subject) != nil {
		return "", jwt.ErrTokenInvalidSubject
	}
	if claims.Suspended {
		return "", ErrSuspended
	}
	return claims.Subject, nil
}

// Auth creates JWT authentication middleware.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			identity, err := VerifyToken(parts[1], jwtSecret)
			if err != nil {
				if errors.Is(err, ErrSuspended) {
					http.Error(w, `{"error":"identity suspended"}`, http.StatusForbidden)
					return
				}
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity gets the authenticated identity from context.
func GetIdentity(ctx context.Context) string {
	if v := ctx.Value(IdentityKey); v != nil {
		return v.(string)
	}
	return ""
}
