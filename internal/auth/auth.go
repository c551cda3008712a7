package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"beacon-server/internal/apperr"
)

// Verifier resolves a bearer token to a user id. The same instance backs the
// HTTP middleware and the socket gateway.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// CheckAuth verifies the token signature and expiry and returns the subject
// claim. Any failure maps to Unauthenticated.
func (v *Verifier) CheckAuth(token string) (string, error) {
	if token == "" {
		return "", apperr.Unauthenticated("empty token")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", apperr.Unauthenticated(err.Error())
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", apperr.Unauthenticated("token has no subject")
	}

	return sub, nil
}

// IssueToken signs a token for userID, used by tests and local tooling. Token
// issuance in production belongs to the identity service.
func (v *Verifier) IssueToken(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
	})
	return token.SignedString(v.secret)
}
