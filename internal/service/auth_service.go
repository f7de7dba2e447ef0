package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/storefront-auth/internal/models"
	appErrors "github.com/noah-isme/storefront-auth/pkg/errors"
)

type credentialLookup interface {
	FindCredentials(ctx context.Context, kind models.PrincipalKind, login string) (*models.PrincipalCredentials, error)
}

// dummyHash keeps unknown-login requests doing the same bcrypt work as known ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("storefront-dummy-password"), bcrypt.DefaultCost)

// AuthService is the entry point other parts of the storefront use to start,
// check, rotate and end sessions.
type AuthService struct {
	access      *AccessTokenService
	sessions    *SessionService
	credentials credentialLookup
	validator   *validator.Validate
	logger      *zap.Logger
	metrics     *MetricsService
	now         func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(access *AccessTokenService, sessions *SessionService, credentials credentialLookup, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		access:      access,
		sessions:    sessions,
		credentials: credentials,
		validator:   validate,
		logger:      logger,
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AccessTTL is the lifetime of minted access tokens.
func (s *AuthService) AccessTTL() time.Duration { return s.access.TTL() }

// RefreshTTL is the lifetime of issued refresh tokens.
func (s *AuthService) RefreshTTL() time.Duration { return s.sessions.TTL() }

// Login checks a password against the hash kept by the user or admin store
// and starts a session. All failures look the same to the caller.
func (s *AuthService) Login(ctx context.Context, kind models.PrincipalKind, req models.LoginRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown principal type")
	}

	creds, err := s.credentials.FindCredentials(ctx, kind, req.Email)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch principal")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}

	pair, err := s.StartSession(ctx, creds.Principal, req.Provenance())
	if err != nil {
		return nil, err
	}
	s.logger.Info("login succeeded", zap.String("principal", creds.Principal.Ref.String()))
	return pair, nil
}

// StartSession mints a credential pair for an already authenticated principal.
func (s *AuthService) StartSession(ctx context.Context, principal models.Principal, prov models.Provenance) (*models.TokenPair, error) {
	refresh, err := s.sessions.Issue(ctx, principal.Ref, prov)
	if err != nil {
		return nil, err
	}
	return s.pair(principal.Claim(), refresh.Token, refresh.ExpiresAt)
}

// Authenticate verifies an access token without touching storage.
func (s *AuthService) Authenticate(token string) (*models.AccessClaim, error) {
	claim, err := s.access.Verify(token)
	if err != nil {
		s.metrics.AccessVerified(OutcomeInvalid)
		return nil, err
	}
	s.metrics.AccessVerified(OutcomeSuccess)
	return claim, nil
}

// Refresh exchanges a refresh token for a new pair. A request that fails after
// the old token was consumed must not be retried with the same token.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.ErrSessionRejected
	}

	rotation, err := s.sessions.Exchange(ctx, req.RefreshToken, req.Provenance())
	if err != nil {
		return nil, err
	}
	return s.pair(rotation.Claim, rotation.RefreshToken, rotation.RefreshExpiresAt)
}

// Logout revokes the presented refresh token. It is idempotent.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.sessions.Revoke(ctx, refreshToken)
}

// LogoutEverywhere revokes every refresh token of the principal.
func (s *AuthService) LogoutEverywhere(ctx context.Context, principal models.PrincipalRef) (int64, error) {
	return s.sessions.RevokeAllForPrincipal(ctx, principal)
}

func (s *AuthService) pair(claim models.AccessClaim, refreshToken string, refreshExpiresAt time.Time) (*models.TokenPair, error) {
	accessToken, minted, err := s.access.Mint(claim)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	return &models.TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  minted.ExpiresAt,
		ExpiresIn:        int64(s.access.TTL().Seconds()),
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiresAt,
		Principal:        minted.Info(),
		IssuedAt:         s.now(),
	}, nil
}
