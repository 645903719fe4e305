package utils // package utils provides small helpers shared by the auth client and handlers

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the subset of an access token's claims this server reads.
// Tokens are issued and verified by the hosted auth service; the server
// only peeks at them to decide when to refresh.
type TokenClaims struct {
	Subject   string    // sub: the hosted service's user id
	Email     string    // email claim when present
	Role      string    // role claim (the service-level role, e.g. "authenticated")
	ExpiresAt time.Time // exp: zero when the claim is missing
}

// ErrMalformedToken is returned when the raw string is not a parseable JWT.
var ErrMalformedToken = errors.New("malformed access token")

// ParseTokenClaims decodes a JWT without verifying its signature.  The
// signature is checked by the hosted service on every call that uses the
// token, so a forged token only ever buys a refresh attempt.
func ParseTokenClaims(raw string) (TokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return TokenClaims{}, ErrMalformedToken
	}
	var out TokenClaims
	out.Subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time.UTC()
	}
	if v, ok := claims["email"].(string); ok {
		out.Email = v
	}
	if v, ok := claims["role"].(string); ok {
		out.Role = v
	}
	return out, nil
}

// ExpiresWithin reports whether the token expires before now+margin.  A
// token without an exp claim is treated as already expired.
func (c TokenClaims) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(margin).Before(c.ExpiresAt)
}
