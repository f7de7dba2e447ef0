package service

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/storefront-auth/internal/models"
	appErrors "github.com/noah-isme/storefront-auth/pkg/errors"
)

type memoryStore struct {
	mu         sync.Mutex
	tokens     map[string]*models.RefreshToken
	createErr  []error
	consumeErr error
	revokeErr  error
	creates    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tokens: make(map[string]*models.RefreshToken)}
}

func (m *memoryStore) Create(ctx context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if len(m.createErr) > 0 {
		err := m.createErr[0]
		m.createErr = m.createErr[1:]
		if err != nil {
			return err
		}
	}
	if _, exists := m.tokens[token.Token]; exists {
		return appErrors.ErrConflict
	}
	stored := *token
	m.tokens[token.Token] = &stored
	return nil
}

func (m *memoryStore) Consume(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumeErr != nil {
		return nil, m.consumeErr
	}
	stored, ok := m.tokens[token]
	if !ok || !stored.Valid(now) {
		return nil, appErrors.ErrNotFound
	}
	revokedAt := now
	stored.RevokedAt = &revokedAt
	consumed := *stored
	return &consumed, nil
}

func (m *memoryStore) Revoke(ctx context.Context, token string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revokeErr != nil {
		return false, m.revokeErr
	}
	stored, ok := m.tokens[token]
	if !ok || stored.RevokedAt != nil {
		return false, nil
	}
	revokedAt := now
	stored.RevokedAt = &revokedAt
	return true, nil
}

func (m *memoryStore) RevokeAllForPrincipal(ctx context.Context, ref models.PrincipalRef, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revokeErr != nil {
		return 0, m.revokeErr
	}
	var count int64
	for _, stored := range m.tokens {
		if stored.Principal == ref && stored.Valid(now) {
			revokedAt := now
			stored.RevokedAt = &revokedAt
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) get(token string) *models.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tokens[token]
	if !ok {
		return nil
	}
	copied := *stored
	return &copied
}

type principalDirectory struct {
	principals  map[models.PrincipalRef]models.Principal
	credentials map[string]*models.PrincipalCredentials
	err         error
}

func newPrincipalDirectory(principals ...models.Principal) *principalDirectory {
	d := &principalDirectory{
		principals:  make(map[models.PrincipalRef]models.Principal),
		credentials: make(map[string]*models.PrincipalCredentials),
	}
	for _, p := range principals {
		d.principals[p.Ref] = p
	}
	return d
}

func (d *principalDirectory) withPassword(p models.Principal, hash string) *principalDirectory {
	d.principals[p.Ref] = p
	d.credentials[string(p.Ref.Kind())+"/"+p.Email] = &models.PrincipalCredentials{Principal: p, PasswordHash: hash}
	return d
}

func (d *principalDirectory) Find(ctx context.Context, ref models.PrincipalRef) (*models.Principal, error) {
	if d.err != nil {
		return nil, d.err
	}
	p, ok := d.principals[ref]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	return &p, nil
}

func (d *principalDirectory) FindCredentials(ctx context.Context, kind models.PrincipalKind, login string) (*models.PrincipalCredentials, error) {
	if d.err != nil {
		return nil, d.err
	}
	creds, ok := d.credentials[string(kind)+"/"+login]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	return creds, nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
