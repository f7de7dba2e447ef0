package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/storefront-auth/internal/models"
	appErrors "github.com/noah-isme/storefront-auth/pkg/errors"
)

const (
	// DefaultRefreshTokenTTL is the lifetime of a refresh token.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	// refreshTokenBytes gives 256 bits of entropy per token.
	refreshTokenBytes = 32
	// maxIssueAttempts bounds retries on token collisions.
	maxIssueAttempts = 3
)

// RefreshTokenStore persists refresh tokens. Consume must check validity and
// revoke in one atomic step and return appErrors.ErrNotFound when the token is
// unknown, revoked or expired.
type RefreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	Consume(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error)
	Revoke(ctx context.Context, token string, now time.Time) (bool, error)
	RevokeAllForPrincipal(ctx context.Context, ref models.PrincipalRef, now time.Time) (int64, error)
}

// PrincipalLookup resolves principal references; it returns appErrors.ErrNotFound
// for principals that no longer exist.
type PrincipalLookup interface {
	Find(ctx context.Context, ref models.PrincipalRef) (*models.Principal, error)
}

// SessionService issues, rotates and revokes refresh tokens.
type SessionService struct {
	store      RefreshTokenStore
	principals PrincipalLookup
	logger     *zap.Logger
	metrics    *MetricsService
	ttl        time.Duration
	now        func() time.Time
	random     func([]byte) (int, error)
}

// NewSessionService constructs a SessionService; metrics may be nil.
func NewSessionService(store RefreshTokenStore, principals PrincipalLookup, logger *zap.Logger, metrics *MetricsService, ttl time.Duration) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	return &SessionService{
		store:      store,
		principals: principals,
		logger:     logger,
		metrics:    metrics,
		ttl:        ttl,
		now:        func() time.Time { return time.Now().UTC() },
		random:     rand.Read,
	}
}

// TTL returns the refresh token lifetime.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// Issue creates a new refresh token bound to principal and returns it. The
// returned value is the only copy handed out.
func (s *SessionService) Issue(ctx context.Context, principal models.PrincipalRef, prov models.Provenance) (*models.RefreshToken, error) {
	if principal.IsZero() {
		return nil, errors.New("issue refresh token: missing principal")
	}

	var lastErr error
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		value, err := s.generateToken()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate refresh token")
		}

		now := s.now()
		record := &models.RefreshToken{
			ID:        uuid.NewString(),
			Token:     value,
			Principal: principal,
			ExpiresAt: now.Add(s.ttl),
			UserAgent: prov.UserAgent,
			IPAddress: prov.IPAddress,
			CreatedAt: now,
		}

		err = s.store.Create(ctx, record)
		if err == nil {
			s.metrics.SessionIssued(principal.Kind())
			return record, nil
		}
		if !errors.Is(err, appErrors.ErrConflict) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
		}
		lastErr = err
	}
	return nil, appErrors.Wrap(lastErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
}

// Exchange consumes presented and issues its replacement. The presented token
// is revoked before the principal is resolved, so it can never be exchanged
// twice even if a later step fails. Expected failures return
// appErrors.ErrSessionRejected; storage faults are returned as internal errors.
func (s *SessionService) Exchange(ctx context.Context, presented string, prov models.Provenance) (*models.Rotation, error) {
	if presented == "" {
		s.reject("empty token")
		return nil, appErrors.ErrSessionRejected
	}

	consumed, err := s.store.Consume(ctx, presented, s.now())
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			s.reject("unknown, expired or revoked")
			return nil, appErrors.ErrSessionRejected
		}
		s.metrics.RefreshExchanged(OutcomeError)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume refresh token")
	}
	s.metrics.TokensRevoked("single", 1)

	principal, err := s.principals.Find(ctx, consumed.Principal)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			s.reject("principal no longer exists", zap.String("principal", consumed.Principal.String()))
			return nil, appErrors.ErrSessionRejected
		}
		s.metrics.RefreshExchanged(OutcomeError)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve principal")
	}

	next, err := s.Issue(ctx, principal.Ref, prov)
	if err != nil {
		s.metrics.RefreshExchanged(OutcomeError)
		return nil, err
	}

	s.metrics.RefreshExchanged(OutcomeSuccess)
	return &models.Rotation{
		Claim:            principal.Claim(),
		RefreshToken:     next.Token,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

// Revoke revokes a single token. Unknown or already revoked tokens are a no-op.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	changed, err := s.store.Revoke(ctx, token, s.now())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}
	if changed {
		s.metrics.TokensRevoked("single", 1)
	}
	return nil
}

// RevokeAllForPrincipal revokes every valid token bound to principal and
// returns how many were revoked.
func (s *SessionService) RevokeAllForPrincipal(ctx context.Context, principal models.PrincipalRef) (int64, error) {
	if principal.IsZero() {
		return 0, errors.New("revoke refresh tokens: missing principal")
	}
	count, err := s.store.RevokeAllForPrincipal(ctx, principal, s.now())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh tokens")
	}
	s.metrics.TokensRevoked("principal", count)
	s.logger.Info("revoked principal refresh tokens", zap.String("principal", principal.String()), zap.Int64("count", count))
	return count, nil
}

func (s *SessionService) reject(reason string, fields ...zap.Field) {
	s.metrics.RefreshExchanged(OutcomeRejected)
	s.logger.Info("refresh exchange rejected", append(fields, zap.String("reason", reason))...)
}

func (s *SessionService) generateToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := s.random(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
