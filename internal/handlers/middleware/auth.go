package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ayilmaz/creditd/internal/handlers/render"
)

// AuthMiddleware guards the internal service API with HMAC-signed
// bearer tokens issued to the marketplace backend. The webhook
// endpoint never goes through here: webhooks are authenticated by
// body signature, not by token.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := tokenFromRequest(r)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if err := verifyServiceToken(token, secret); err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func tokenFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")

	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", fmt.Errorf("no bearer token in request")
	}

	return token, nil
}

func verifyServiceToken(token string, secret string) error {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("can't parse service token. Err: %w", err)
	}

	if !parsed.Valid {
		return fmt.Errorf("service token is not valid")
	}

	return nil
}

// IssueServiceToken signs a token for a calling service.
// Used by operators to mint tokens and by tests.
func IssueServiceToken(secret string, claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("can't sign service token. Err: %w", err)
	}

	return signed, nil
}
