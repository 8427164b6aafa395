package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/propreach/internal/tenancy"
)

// WebhookClaims identify the account a webhook caller acts for.
type WebhookClaims struct {
	LocationID string `json:"locationId,omitempty"`
	jwt.RegisteredClaims
}

// WebhookJWT enforces an HMAC-signed bearer token on webhook routes. The
// token subject, when present, becomes the request's account.
func WebhookJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "webhook auth not configured", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			var claims WebhookClaims
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := r.Context()
			if sub := strings.TrimSpace(claims.Subject); sub != "" {
				ctx = tenancy.WithUserID(ctx, sub)
			}
			if claims.LocationID != "" {
				ctx = tenancy.WithLocationID(ctx, claims.LocationID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
