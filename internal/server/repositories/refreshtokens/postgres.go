package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// PostgresRepository stores records in the refresh_tokens table. Single
// record operations are single statements; Rotate runs its conditional
// UPDATE and the INSERT in one transaction.
type PostgresRepository struct {
	settings
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB, opts ...Option) *PostgresRepository {
	return &PostgresRepository{settings: newSettings(opts), db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, userID string, tokenID string) (*models.RefreshToken, error) {
	rec, err := r.newRecord(userID, tokenID)
	if err != nil {
		return nil, err
	}
	if err := insert(ctx, r.db, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *PostgresRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `
		SELECT token, token_id, user_id, created_at, expires_at, used, invalidated
		FROM refresh_tokens
		WHERE token = $1
	`
	rec := &models.RefreshToken{}
	err := r.db.QueryRowContext(ctx, query, token).
		Scan(&rec.Token, &rec.TokenID, &rec.UserID, &rec.CreatedAt, &rec.ExpiresAt, &rec.Used, &rec.Invalidated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, token string) (bool, error) {
	query := `
		UPDATE refresh_tokens SET used = TRUE
		WHERE token = $1
	`
	return r.execAffected(ctx, query, token)
}

func (r *PostgresRepository) Invalidate(ctx context.Context, token string) (bool, error) {
	query := `
		UPDATE refresh_tokens SET invalidated = TRUE
		WHERE token = $1
	`
	return r.execAffected(ctx, query, token)
}

// InvalidateAllForIdentity is a single UPDATE, so it is all-or-nothing.
func (r *PostgresRepository) InvalidateAllForIdentity(ctx context.Context, userID string) error {
	query := `
		UPDATE refresh_tokens SET invalidated = TRUE
		WHERE user_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Rotate(ctx context.Context, token string, userID string, tokenID string) (*models.RefreshToken, error) {
	next, err := r.newRecord(userID, tokenID)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE refresh_tokens SET used = TRUE
		WHERE token = $1 AND user_id = $2 AND NOT used AND NOT invalidated AND expires_at >= $3
	`

	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, query, token, userID, r.now().UTC())
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n != 1 {
			return common.ErrRefreshTokenNotLive
		}
		return insert(ctx, tx, next)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (r *PostgresRepository) execAffected(ctx context.Context, query string, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func insert(ctx context.Context, db dbx.DBTX, rec *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (token, token_id, user_id, created_at, expires_at, used, invalidated)
		VALUES ($1, $2, $3, $4, $5, FALSE, FALSE)
	`
	if _, err := db.ExecContext(ctx, query, rec.Token, rec.TokenID, rec.UserID, rec.CreatedAt, rec.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
