package models

import "time"

// RefreshToken is a persisted refresh credential. The token value is stored
// verbatim and the principal binding never changes after creation.
type RefreshToken struct {
	ID        string
	Token     string
	Principal PrincipalRef
	ExpiresAt time.Time
	RevokedAt *time.Time
	UserAgent string
	IPAddress string
	CreatedAt time.Time
}

// RefreshTokenState is derived from RevokedAt and ExpiresAt; only Revoked is stored.
type RefreshTokenState string

const (
	RefreshTokenActive  RefreshTokenState = "active"
	RefreshTokenRevoked RefreshTokenState = "revoked"
	RefreshTokenExpired RefreshTokenState = "expired"
)

// State returns the lifecycle state of t at now.
func (t *RefreshToken) State(now time.Time) RefreshTokenState {
	switch {
	case t.RevokedAt != nil:
		return RefreshTokenRevoked
	case !t.ExpiresAt.After(now):
		return RefreshTokenExpired
	default:
		return RefreshTokenActive
	}
}

// Valid reports whether t may still be exchanged at now.
func (t *RefreshToken) Valid(now time.Time) bool {
	return t.State(now) == RefreshTokenActive
}

// Provenance is advisory request metadata recorded with each refresh token.
type Provenance struct {
	UserAgent string
	IPAddress string
}

// Rotation is the outcome of a successful refresh exchange.
type Rotation struct {
	Claim            AccessClaim
	RefreshToken     string
	RefreshExpiresAt time.Time
}
