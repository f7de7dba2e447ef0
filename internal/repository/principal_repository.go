package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/storefront-auth/internal/models"
	appErrors "github.com/noah-isme/storefront-auth/pkg/errors"
)

// PrincipalRepository reads users and admins. It never writes to either table.
type PrincipalRepository struct {
	db       *sqlx.DB
	observer QueryObserver
}

// NewPrincipalRepository creates a repository; observer may be nil.
func NewPrincipalRepository(db *sqlx.DB, observer QueryObserver) *PrincipalRepository {
	return &PrincipalRepository{db: db, observer: observer}
}

type principalRow struct {
	ID           string `db:"id"`
	Login        string `db:"login"`
	PasswordHash string `db:"password_hash"`
}

// Find resolves a principal reference to its identity fields.
func (r *PrincipalRepository) Find(ctx context.Context, ref models.PrincipalRef) (*models.Principal, error) {
	var query string
	switch ref.Kind() {
	case models.PrincipalUser:
		query = `SELECT id, email AS login FROM users WHERE id = $1 LIMIT 1`
	case models.PrincipalAdmin:
		query = `SELECT id, username AS login FROM admin_users WHERE id = $1 LIMIT 1`
	default:
		return nil, appErrors.ErrNotFound
	}

	start := time.Now()
	var row principalRow
	err := r.db.GetContext(ctx, &row, query, ref.ID())
	r.observeSince("principals.find_"+string(ref.Kind()), start)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("find %s principal: %w", ref.Kind(), err)
	}

	return &models.Principal{Ref: refFor(ref.Kind(), row.ID), Email: row.Login}, nil
}

// FindCredentials loads the stored password hash for a login name.
func (r *PrincipalRepository) FindCredentials(ctx context.Context, kind models.PrincipalKind, login string) (*models.PrincipalCredentials, error) {
	var query string
	switch kind {
	case models.PrincipalUser:
		query = `SELECT id, email AS login, password_hash FROM users WHERE LOWER(email) = $1 LIMIT 1`
	case models.PrincipalAdmin:
		query = `SELECT id, username AS login, password_hash FROM admin_users WHERE LOWER(username) = $1 LIMIT 1`
	default:
		return nil, appErrors.ErrNotFound
	}

	start := time.Now()
	var row principalRow
	err := r.db.GetContext(ctx, &row, query, strings.ToLower(strings.TrimSpace(login)))
	r.observeSince("principals.credentials_"+string(kind), start)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("find %s credentials: %w", kind, err)
	}

	return &models.PrincipalCredentials{
		Principal:    models.Principal{Ref: refFor(kind, row.ID), Email: row.Login},
		PasswordHash: row.PasswordHash,
	}, nil
}

func (r *PrincipalRepository) observeSince(label string, start time.Time) {
	if r.observer != nil {
		r.observer.ObserveDBQuery(label, time.Since(start))
	}
}

// refFor builds a reference for a kind the caller has already validated.
func refFor(kind models.PrincipalKind, id string) models.PrincipalRef {
	if kind == models.PrincipalAdmin {
		return models.AdminRef(id)
	}
	return models.UserRef(id)
}

// Ping checks that the principal store is reachable.
func (r *PrincipalRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
