package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/storefront-auth/internal/models"
	appErrors "github.com/noah-isme/storefront-auth/pkg/errors"
)

// DefaultAccessTokenTTL is the lifetime of an access token.
const DefaultAccessTokenTTL = 15 * time.Minute

// AccessTokenConfig configures the access token codec.
type AccessTokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// AccessTokenService mints and verifies HS256 access tokens. It performs no I/O.
type AccessTokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewAccessTokenService builds a codec bound to the given secret.
func NewAccessTokenService(cfg AccessTokenConfig) (*AccessTokenService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("access token secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultAccessTokenTTL
	}
	s := &AccessTokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.parser = s.newParser()
	return s, nil
}

func (s *AccessTokenService) newParser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	return jwt.NewParser(opts...)
}

// TTL returns the configured token lifetime.
func (s *AccessTokenService) TTL() time.Duration {
	return s.ttl
}

// Mint signs claim into a token valid for the configured TTL from now. The
// returned claim carries the embedded expiry.
func (s *AccessTokenService) Mint(claim models.AccessClaim) (string, models.AccessClaim, error) {
	if claim.Principal.IsZero() {
		return "", models.AccessClaim{}, errors.New("mint access token: missing principal")
	}

	issuedAt := s.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)

	payload := &models.AccessTokenClaims{
		Email: claim.Email,
		Type:  claim.Type(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   claim.Principal.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}
	if id, ok := claim.Principal.UserID(); ok {
		payload.UserID = id
	}
	if id, ok := claim.Principal.AdminUserID(); ok {
		payload.AdminUserID = id
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(s.secret)
	if err != nil {
		return "", models.AccessClaim{}, err
	}

	claim.ExpiresAt = expiresAt
	return signed, claim, nil
}

// Verify checks signature and expiry and returns the embedded claim. Every
// failure, whatever its cause, is appErrors.ErrTokenInvalid.
func (s *AccessTokenService) Verify(token string) (*models.AccessClaim, error) {
	if token == "" {
		return nil, appErrors.ErrTokenInvalid
	}

	payload := &models.AccessTokenClaims{}
	parsed, err := s.parser.ParseWithClaims(token, payload, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, appErrors.ErrTokenInvalid
	}

	ref, ok := principalFromPayload(payload)
	if !ok {
		return nil, appErrors.ErrTokenInvalid
	}

	claim := &models.AccessClaim{Principal: ref, Email: payload.Email}
	if payload.ExpiresAt != nil {
		claim.ExpiresAt = payload.ExpiresAt.Time.UTC()
	}
	return claim, nil
}

// principalFromPayload enforces that exactly one id is present and that it
// matches the type tag.
func principalFromPayload(p *models.AccessTokenClaims) (models.PrincipalRef, bool) {
	switch {
	case p.Type == models.PrincipalUser && p.UserID != "" && p.AdminUserID == "":
		return models.UserRef(p.UserID), true
	case p.Type == models.PrincipalAdmin && p.AdminUserID != "" && p.UserID == "":
		return models.AdminRef(p.AdminUserID), true
	default:
		return models.PrincipalRef{}, false
	}
}
