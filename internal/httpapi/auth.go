package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Context key for media claims
type contextKey string

const mediaClaimsKey contextKey = "media_claims"

// MediaClaims are the claims a media gateway presents on /media. A non-empty
// RoomID restricts the token to that room.
type MediaClaims struct {
	jwt.RegisteredClaims
	RoomID string `json:"room_id,omitempty"`
}

// withMediaAuth requires a valid HS256 token when a secret is configured.
// The token comes from the Authorization header or the token query
// parameter, since many websocket clients cannot set headers.
func (r *Router) withMediaAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.cfg.MediaJWTSecret == "" {
			next.ServeHTTP(w, req)
			return
		}

		tokenString := req.URL.Query().Get("token")
		if authHeader := req.Header.Get("Authorization"); authHeader != "" {
			// Expect "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				http.Error(w, `{"error": "invalid authorization format"}`, http.StatusUnauthorized)
				return
			}
			tokenString = parts[1]
		}
		if tokenString == "" {
			http.Error(w, `{"error": "missing token"}`, http.StatusUnauthorized)
			return
		}

		parser := jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		)
		claims := &MediaClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(r.cfg.MediaJWTSecret), nil
		})
		if err != nil || !token.Valid {
			r.logger.Printf("media_ws: rejected token: %v", err)
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(req.Context(), mediaClaimsKey, claims)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// mediaClaims returns the verified claims, or nil when auth is disabled.
func mediaClaims(ctx context.Context) *MediaClaims {
	c, _ := ctx.Value(mediaClaimsKey).(*MediaClaims)
	return c
}
