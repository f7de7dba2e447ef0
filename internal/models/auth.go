package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaim is the identity carried by an access token.
type AccessClaim struct {
	Principal PrincipalRef
	Email     string
	ExpiresAt time.Time
}

// Type returns the principal variant tag.
func (c AccessClaim) Type() PrincipalKind {
	return c.Principal.Kind()
}

// AccessTokenClaims is the signed JWT payload. Exactly one of UserID and
// AdminUserID is set and it matches Type.
type AccessTokenClaims struct {
	UserID      string        `json:"userId,omitempty"`
	AdminUserID string        `json:"adminUserId,omitempty"`
	Email       string        `json:"email"`
	Type        PrincipalKind `json:"type"`
	jwt.RegisteredClaims
}

// LoginRequest holds credentials for authenticating a user or admin.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,max=254"`
	Password  string `json:"password" validate:"required,max=512"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// Provenance returns the request metadata stored with issued refresh tokens.
func (r LoginRequest) Provenance() Provenance {
	return Provenance{UserAgent: r.UserAgent, IPAddress: r.IP}
}

// RefreshTokenRequest exchanges a refresh token for a new pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=256"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// Provenance returns the request metadata stored with the rotated token.
func (r RefreshTokenRequest) Provenance() Provenance {
	return Provenance{UserAgent: r.UserAgent, IPAddress: r.IP}
}

// TokenPair is the credential pair handed to a client.
type TokenPair struct {
	AccessToken      string        `json:"access_token"`
	AccessExpiresAt  time.Time     `json:"access_expires_at"`
	ExpiresIn        int64         `json:"expires_in"`
	RefreshToken     string        `json:"refresh_token"`
	RefreshExpiresAt time.Time     `json:"refresh_expires_at"`
	Principal        PrincipalInfo `json:"principal"`
	IssuedAt         time.Time     `json:"issued_at"`
}

// PrincipalInfo describes the authenticated principal in responses.
type PrincipalInfo struct {
	ID    string        `json:"id"`
	Email string        `json:"email"`
	Type  PrincipalKind `json:"type"`
}

// Info converts the claim into its response form.
func (c AccessClaim) Info() PrincipalInfo {
	return PrincipalInfo{ID: c.Principal.ID(), Email: c.Email, Type: c.Type()}
}
