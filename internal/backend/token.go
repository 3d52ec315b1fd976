package backend

import (
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenInfo holds claims read from a bearer token.
type TokenInfo struct {
	Subject   string
	ExpiresAt time.Time
}

// InspectToken reads the subject and expiry of a JWT bearer token without
// verifying its signature. The bot only uses the result for display and
// logging; the backend remains the authority on token validity.
func InspectToken(token string) (TokenInfo, bool) {
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return TokenInfo{}, false
	}
	tok, err := jwt.ParseString(token, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return TokenInfo{}, false
	}
	return TokenInfo{
		Subject:   tok.Subject(),
		ExpiresAt: tok.Expiration().UTC(),
	}, true
}
