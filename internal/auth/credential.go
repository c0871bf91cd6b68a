// Package auth holds the process-wide access credential and the
// single-flight coordinator that renews it.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSession indicates there is no usable credential, locally or
	// persisted. Callers treat it as "logged out".
	ErrNoSession = errors.New("auth: no session")
)

// Credential is an access credential issued by the marketplace.
type Credential struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the credential exists and has not expired.
func (c Credential) Valid(now time.Time) bool {
	return c.AccessToken != "" && now.Before(c.ExpiresAt)
}

// ExpiryFromToken recovers the expiry from the JWT exp claim without
// validating the signature; the server remains the authority, the claim
// is only used to schedule renewal. Opaque tokens get the fallback TTL.
func ExpiryFromToken(token string, fallback time.Duration, now time.Time) time.Time {
	var claims jwt.RegisteredClaims
	_, _ = jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return nil, nil },
		jwt.WithoutClaimsValidation(),
	)
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return now.Add(fallback)
}
