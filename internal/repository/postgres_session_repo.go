package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/moviestream/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, handle string, token *model.SessionToken) error {
	if token == nil || token.User == nil {
		return errors.New("session token without user cannot be stored")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, token_id, user_name, user_email, bearer_token, provider, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		handle, token.ID, token.User.Name, token.User.Email, token.BearerToken,
		token.Provider, token.IssuedAt, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定ハンドルのセッションを取得する。
// 期限によるフィルタは行わない。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, handle string) (*model.SessionToken, error) {
	token := &model.SessionToken{User: &model.User{}}
	err := r.db.QueryRowContext(ctx,
		`SELECT token_id, user_name, user_email, bearer_token, provider, issued_at, expires_at
		 FROM sessions
		 WHERE id = $1`,
		handle,
	).Scan(&token.ID, &token.User.Name, &token.User.Email, &token.BearerToken,
		&token.Provider, &token.IssuedAt, &token.ExpiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return token, nil
}

// DeleteByID は指定ハンドルのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, handle string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		handle,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteExpiredBefore は期限切れから一定時間経過したセッションを削除する。
func (r *PostgresSessionRepo) DeleteExpiredBefore(ctx context.Context, cutoff int64) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
