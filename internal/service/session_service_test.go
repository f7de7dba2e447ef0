package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/storefront-auth/internal/models"
	appErrors "github.com/noah-isme/storefront-auth/pkg/errors"
)

var (
	alice = models.Principal{Ref: models.UserRef("u-1"), Email: "alice@example.com"}
	root  = models.Principal{Ref: models.AdminRef("a-1"), Email: "root"}
)

func newTestSessions(t *testing.T, store RefreshTokenStore, principals PrincipalLookup) (*SessionService, *fixedClock) {
	t.Helper()
	clock := newFixedClock()
	svc := NewSessionService(store, principals, zap.NewNop(), nil, time.Hour)
	svc.now = clock.Now
	return svc, clock
}

func TestSessionIssueBindsPrincipal(t *testing.T) {
	store := newMemoryStore()
	svc, clock := newTestSessions(t, store, newPrincipalDirectory(alice))

	token, err := svc.Issue(context.Background(), alice.Ref, models.Provenance{UserAgent: "curl", IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	assert.Len(t, token.Token, 43)
	assert.NotEmpty(t, token.ID)
	assert.Equal(t, clock.Now().Add(time.Hour), token.ExpiresAt)

	stored := store.get(token.Token)
	require.NotNil(t, stored)
	assert.Equal(t, alice.Ref, stored.Principal)
	assert.Nil(t, stored.RevokedAt)
	assert.Equal(t, "curl", stored.UserAgent)
	assert.Equal(t, "10.0.0.1", stored.IPAddress)
}

func TestSessionIssueTokensAreDistinct(t *testing.T) {
	svc, _ := newTestSessions(t, newMemoryStore(), newPrincipalDirectory(alice))

	seen := make(map[string]struct{})
	for i := 0; i < 10000; i++ {
		token, err := svc.Issue(context.Background(), alice.Ref, models.Provenance{})
		require.NoError(t, err)
		_, dup := seen[token.Token]
		require.False(t, dup)
		seen[token.Token] = struct{}{}
	}
}

func TestSessionIssueRetriesOnConflict(t *testing.T) {
	store := newMemoryStore()
	store.createErr = []error{appErrors.ErrConflict, nil}
	svc, _ := newTestSessions(t, store, newPrincipalDirectory(alice))

	token, err := svc.Issue(context.Background(), alice.Ref, models.Provenance{})
	require.NoError(t, err)
	assert.NotNil(t, store.get(token.Token))
	assert.Equal(t, 2, store.creates)
}

func TestSessionIssueStoreFailure(t *testing.T) {
	store := newMemoryStore()
	store.createErr = []error{errors.New("connection refused")}
	svc, _ := newTestSessions(t, store, newPrincipalDirectory(alice))

	_, err := svc.Issue(context.Background(), alice.Ref, models.Provenance{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestSessionIssueRejectsZeroPrincipal(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestSessions(t, store, newPrincipalDirectory())

	_, err := svc.Issue(context.Background(), models.PrincipalRef{}, models.Provenance{})
	require.Error(t, err)
	assert.Zero(t, store.creates)
}

func TestSessionExchangeRotates(t *testing.T) {
	store := newMemoryStore()
	svc, clock := newTestSessions(t, store, newPrincipalDirectory(root))

	first, err := svc.Issue(context.Background(), root.Ref, models.Provenance{})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	rotation, err := svc.Exchange(context.Background(), first.Token, models.Provenance{UserAgent: "browser"})
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, rotation.RefreshToken)
	assert.Equal(t, root.Ref, rotation.Claim.Principal)
	assert.Equal(t, "root", rotation.Claim.Email)
	assert.Equal(t, clock.Now().Add(time.Hour), rotation.RefreshExpiresAt)

	old := store.get(first.Token)
	require.NotNil(t, old.RevokedAt)
	assert.Equal(t, clock.Now(), *old.RevokedAt)

	next := store.get(rotation.RefreshToken)
	require.NotNil(t, next)
	assert.Equal(t, root.Ref, next.Principal)
	assert.Equal(t, "browser", next.UserAgent)
}

func TestSessionExchangeIsSingleUse(t *testing.T) {
	svc, _ := newTestSessions(t, newMemoryStore(), newPrincipalDirectory(alice))

	first, err := svc.Issue(context.Background(), alice.Ref, models.Provenance{})
	require.NoError(t, err)

	second, err := svc.Exchange(context.Background(), first.Token, models.Provenance{})
	require.NoError(t, err)

	_, err = svc.Exchange(context.Background(), first.Token, models.Provenance{})
	assert.ErrorIs(t, err, appErrors.ErrSessionRejected)

	third, err := svc.Exchange(context.Background(), second.RefreshToken, models.Provenance{})
	require.NoError(t, err)
	assert.Equal(t, alice.Ref, third.Claim.Principal)
}

func TestSessionExchangeRejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, svc *SessionService, clock *fixedClock, dir *principalDirectory) string
	}{
		{
			name: "empty token",
			setup: func(t *testing.T, svc *SessionService, clock *fixedClock, dir *principalDirectory) string {
				return ""
			},
		},
		{
			name: "unknown token",
			setup: func(t *testing.T, svc *SessionService, clock *fixedClock, dir *principalDirectory) string {
				return "never-issued"
			},
		},
		{
			name: "expired token",
			setup: func(t *testing.T, svc *SessionService, clock *fixedClock, dir *principalDirectory) string {
				token, err := svc.Issue(context.Background(), alice.Ref, models.Provenance{})
				require.NoError(t, err)
				clock.Advance(time.Hour)
				return token.Token
			},
		},
		{
			name: "revoked token",
			setup: func(t *testing.T, svc *SessionService, clock *fixedClock, dir *principalDirectory) string {
				token, err := svc.Issue(context.Background(), alice.Ref, models.Provenance{})
				require.NoError(t, err)
				require.NoError(t, svc.Revoke(context.Background(), token.Token))
				return token.Token
			},
		},
		{
			name: "deleted principal",
			setup: func(t *testing.T, svc *SessionService, clock *fixedClock, dir *principalDirectory) string {
				token, err := svc.Issue(context.Background(), alice.Ref, models.Provenance{})
				require.NoError(t, err)
				delete(dir.principals, alice.Ref)
				return token.Token
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := newPrincipalDirectory(alice)
			svc, clock := newTestSessions(t, newMemoryStore(), dir)
			token := tc.setup(t, svc, clock, dir)

			rotation, err := svc.Exchange(context.Background(), token, models.Provenance{})
			assert.Nil(t, rotation)
			assert.ErrorIs(t, err, appErrors.ErrSessionRejected)
		})
	}
}

func TestSessionExchangeDeletedPrincipalStillConsumes(t *testing.T) {
	store := newMemoryStore()
	dir := newPrincipalDirectory(alice)
	svc, _ := newTestSessions(t, store, dir)

	token, err := svc.Issue(context.Background(), alice.Ref, models.Provenance{})
	require.NoError(t, err)
	delete(dir.principals, alice.Ref)

	_, err = svc.Exchange(context.Background(), token.Token, models.Provenance{})
	require.ErrorIs(t, err, appErrors.ErrSessionRejected)
	assert.NotNil(t, store.get(token.Token).RevokedAt)
	assert.Len(t, store.tokens, 1)
}

func TestSessionExchangeStoreFaultIsNotRejection(t *testing.T) {
	store := newMemoryStore()
	store.consumeErr = errors.New("connection reset")
	svc, _ := newTestSessions(t, store, newPrincipalDirectory(alice))

	_, err := svc.Exchange(context.Background(), "whatever", models.Provenance{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, appErrors.ErrSessionRejected))
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestSessionExchangeLookupFaultIsNotRejection(t *testing.T) {
	store := newMemoryStore()
	dir := newPrincipalDirectory(alice)
	svc, _ := newTestSessions(t, store, dir)

	token, err := svc.Issue(context.Background(), alice.Ref, models.Provenance{})
	require.NoError(t, err)
	dir.err = errors.New("timeout")

	_, err = svc.Exchange(context.Background(), token.Token, models.Provenance{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	assert.NotNil(t, store.get(token.Token).RevokedAt)
}

func TestSessionExchangeConcurrentSingleWinner(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestSessions(t, store, newPrincipalDirectory(alice))

	token, err := svc.Issue(context.Background(), alice.Ref, models.Provenance{})
	require.NoError(t, err)

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Exchange(context.Background(), token.Token, models.Provenance{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, appErrors.ErrSessionRejected) {
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, rejected)
	assert.Len(t, store.tokens, 2)
}

func TestSessionExchangeLogsReasonAtInfo(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	svc := NewSessionService(newMemoryStore(), newPrincipalDirectory(), zap.New(core), nil, time.Hour)

	_, err := svc.Exchange(context.Background(), "missing", models.Provenance{})
	require.ErrorIs(t, err, appErrors.ErrSessionRejected)

	entries := logs.FilterMessage("refresh exchange rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "unknown, expired or revoked", entries[0].ContextMap()["reason"])
	assert.Equal(t, "please sign in again", appErrors.FromError(err).Message)
}

func TestSessionRevokeIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	svc, clock := newTestSessions(t, store, newPrincipalDirectory(alice))

	token, err := svc.Issue(context.Background(), alice.Ref, models.Provenance{})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), token.Token))
	firstRevokedAt := *store.get(token.Token).RevokedAt

	clock.Advance(time.Minute)
	require.NoError(t, svc.Revoke(context.Background(), token.Token))
	assert.Equal(t, firstRevokedAt, *store.get(token.Token).RevokedAt)

	require.NoError(t, svc.Revoke(context.Background(), "unknown"))
	require.NoError(t, svc.Revoke(context.Background(), ""))
}

func TestSessionRevokeStoreFault(t *testing.T) {
	store := newMemoryStore()
	store.revokeErr = errors.New("down")
	svc, _ := newTestSessions(t, store, newPrincipalDirectory())

	err := svc.Revoke(context.Background(), "token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestSessionRevokeAllForPrincipal(t *testing.T) {
	store := newMemoryStore()
	svc, clock := newTestSessions(t, store, newPrincipalDirectory(alice, root))
	ctx := context.Background()

	var aliceTokens []string
	for i := 0; i < 3; i++ {
		token, err := svc.Issue(ctx, alice.Ref, models.Provenance{})
		require.NoError(t, err)
		aliceTokens = append(aliceTokens, token.Token)
	}
	require.NoError(t, svc.Revoke(ctx, aliceTokens[0]))

	adminToken, err := svc.Issue(ctx, root.Ref, models.Provenance{})
	require.NoError(t, err)
	// same raw id as alice, different kind
	twin := models.AdminRef(alice.Ref.ID())
	twinToken, err := svc.Issue(ctx, twin, models.Provenance{})
	require.NoError(t, err)

	clock.Advance(time.Second)
	count, err := svc.RevokeAllForPrincipal(ctx, alice.Ref)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	for _, token := range aliceTokens {
		assert.NotNil(t, store.get(token).RevokedAt)
	}
	assert.Nil(t, store.get(adminToken.Token).RevokedAt)
	assert.Nil(t, store.get(twinToken.Token).RevokedAt)

	_, err = svc.Exchange(ctx, aliceTokens[1], models.Provenance{})
	assert.ErrorIs(t, err, appErrors.ErrSessionRejected)

	count, err = svc.RevokeAllForPrincipal(ctx, alice.Ref)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSessionMetricsOutcomes(t *testing.T) {
	metrics := NewMetricsService()
	svc := NewSessionService(newMemoryStore(), newPrincipalDirectory(alice), zap.NewNop(), metrics, time.Hour)
	ctx := context.Background()

	token, err := svc.Issue(ctx, alice.Ref, models.Provenance{})
	require.NoError(t, err)
	_, err = svc.Exchange(ctx, token.Token, models.Provenance{})
	require.NoError(t, err)
	_, err = svc.Exchange(ctx, token.Token, models.Provenance{})
	require.Error(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.sessionsIssued.WithLabelValues("user")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.exchanges.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.exchanges.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.revocations.WithLabelValues("single")))
}
