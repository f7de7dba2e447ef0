package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/storefront-auth/internal/models"
	appErrors "github.com/noah-isme/storefront-auth/pkg/errors"
)

const uniqueViolation = "23505"

const refreshTokenColumns = `id, token, user_id, admin_user_id, expires_at, revoked_at, user_agent, ip_address, created_at`

// QueryObserver receives timings for repository queries.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

type refreshTokenRow struct {
	ID          string         `db:"id"`
	Token       string         `db:"token"`
	UserID      sql.NullString `db:"user_id"`
	AdminUserID sql.NullString `db:"admin_user_id"`
	ExpiresAt   time.Time      `db:"expires_at"`
	RevokedAt   sql.NullTime   `db:"revoked_at"`
	UserAgent   string         `db:"user_agent"`
	IPAddress   string         `db:"ip_address"`
	CreatedAt   time.Time      `db:"created_at"`
}

func newRefreshTokenRow(token *models.RefreshToken) refreshTokenRow {
	row := refreshTokenRow{
		ID:        token.ID,
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
		UserAgent: token.UserAgent,
		IPAddress: token.IPAddress,
		CreatedAt: token.CreatedAt,
	}
	if id, ok := token.Principal.UserID(); ok {
		row.UserID = sql.NullString{String: id, Valid: true}
	}
	if id, ok := token.Principal.AdminUserID(); ok {
		row.AdminUserID = sql.NullString{String: id, Valid: true}
	}
	if token.RevokedAt != nil {
		row.RevokedAt = sql.NullTime{Time: *token.RevokedAt, Valid: true}
	}
	return row
}

func (r refreshTokenRow) model() (*models.RefreshToken, error) {
	var ref models.PrincipalRef
	switch {
	case r.UserID.Valid && !r.AdminUserID.Valid:
		ref = models.UserRef(r.UserID.String)
	case r.AdminUserID.Valid && !r.UserID.Valid:
		ref = models.AdminRef(r.AdminUserID.String)
	default:
		return nil, fmt.Errorf("refresh token %s has an invalid principal binding", r.ID)
	}

	token := &models.RefreshToken{
		ID:        r.ID,
		Token:     r.Token,
		Principal: ref,
		ExpiresAt: r.ExpiresAt.UTC(),
		UserAgent: r.UserAgent,
		IPAddress: r.IPAddress,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.RevokedAt.Valid {
		revokedAt := r.RevokedAt.Time.UTC()
		token.RevokedAt = &revokedAt
	}
	return token, nil
}

// RefreshTokenRepository persists refresh tokens in PostgreSQL.
type RefreshTokenRepository struct {
	db       *sqlx.DB
	observer QueryObserver
}

// NewRefreshTokenRepository creates a repository; observer may be nil.
func NewRefreshTokenRepository(db *sqlx.DB, observer QueryObserver) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db, observer: observer}
}

func (r *RefreshTokenRepository) observe(label string, start time.Time) {
	if r.observer != nil {
		r.observer.ObserveDBQuery(label, time.Since(start))
	}
}

// Create inserts a new refresh token bound to exactly one principal.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.Principal.IsZero() {
		return errors.New("create refresh token: missing principal binding")
	}
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	defer r.observe("refresh_tokens.create", time.Now())
	const query = `INSERT INTO refresh_tokens (id, token, user_id, admin_user_id, expires_at, revoked_at, user_agent, ip_address, created_at) VALUES (:id, :token, :user_id, :admin_user_id, :expires_at, :revoked_at, :user_agent, :ip_address, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, newRefreshTokenRow(token)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "refresh token already exists")
		}
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// Consume revokes the token and returns its record only if it was valid at now.
// The check and the revoke are one conditional UPDATE, so concurrent callers
// presenting the same token cannot both succeed.
func (r *RefreshTokenRepository) Consume(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	defer r.observe("refresh_tokens.consume", time.Now())
	const query = `UPDATE refresh_tokens SET revoked_at = $2 WHERE token = $1 AND revoked_at IS NULL AND expires_at > $2 RETURNING ` + refreshTokenColumns
	var row refreshTokenRow
	if err := r.db.GetContext(ctx, &row, query, token, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	return row.model()
}

// FindByToken returns a refresh token regardless of its state.
func (r *RefreshTokenRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	defer r.observe("refresh_tokens.find", time.Now())
	const query = `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var row refreshTokenRow
	if err := r.db.GetContext(ctx, &row, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return row.model()
}

// Revoke marks the token revoked if it is not already. It reports whether a row changed.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, token string, now time.Time) (bool, error) {
	defer r.observe("refresh_tokens.revoke", time.Now())
	const query = `UPDATE refresh_tokens SET revoked_at = $2 WHERE token = $1 AND revoked_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, token, now)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return affected > 0, nil
}

// RevokeAllForPrincipal revokes every token of ref that is still valid at now.
// Revoked and expired rows are left untouched.
func (r *RefreshTokenRepository) RevokeAllForPrincipal(ctx context.Context, ref models.PrincipalRef, now time.Time) (int64, error) {
	var column string
	switch ref.Kind() {
	case models.PrincipalUser:
		column = "user_id"
	case models.PrincipalAdmin:
		column = "admin_user_id"
	}
	if column == "" || ref.ID() == "" {
		return 0, errors.New("revoke refresh tokens: missing principal")
	}

	defer r.observe("refresh_tokens.revoke_all", time.Now())
	query := fmt.Sprintf(`UPDATE refresh_tokens SET revoked_at = $2 WHERE %s = $1 AND revoked_at IS NULL AND expires_at > $2`, column)
	res, err := r.db.ExecContext(ctx, query, ref.ID(), now)
	if err != nil {
		return 0, fmt.Errorf("revoke principal refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke principal refresh tokens: %w", err)
	}
	return affected, nil
}

// Ping checks database connectivity.
func (r *RefreshTokenRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
