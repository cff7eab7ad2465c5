package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const claimsKey contextKey = "claims"

var errNoMerchant = errors.New("token has no merchant")

// Claims identify the merchant (UserID), the store and the staff member
// acting for it.
type Claims struct {
	UserID  int64  `json:"user_id"`
	StoreID int64  `json:"store_id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims pass; every ledger query is
// scoped by UserID, so a token without one is useless.
func (c *Claims) Validate() error {
	if c.UserID <= 0 {
		return errNoMerchant
	}
	return nil
}

// RequireAuth accepts HMAC-signed bearer tokens that carry an expiry.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	key := []byte(jwtSecret)
	keyFunc := func(*jwt.Token) (any, error) { return key, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeFailure(w, http.StatusUnauthorized, "auth_required", "missing authorization header")
				return
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				writeFailure(w, http.StatusUnauthorized, "auth_invalid_scheme", "invalid authorization scheme")
				return
			}

			claims := &Claims{}
			if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
				msg := "invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token expired"
				} else if errors.Is(err, errNoMerchant) {
					msg = errNoMerchant.Error()
				}
				writeFailure(w, http.StatusUnauthorized, "auth_invalid", msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims stores claims on ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromContext returns the claims RequireAuth verified.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// GetUserID returns the authenticated merchant id.
func GetUserID(ctx context.Context) (int64, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return 0, false
	}
	return c.UserID, true
}
