package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// lockoutUntilKey はapp_stateテーブルでロックアウト解除時刻を保持するキー。
const lockoutUntilKey = "lockout_until"

// PostgresStateRepo はPostgreSQLを使用したアプリケーション状態リポジトリ。
type PostgresStateRepo struct {
	db *sql.DB
}

// NewPostgresStateRepo はPostgresStateRepoを生成する。
func NewPostgresStateRepo(db *sql.DB) *PostgresStateRepo {
	return &PostgresStateRepo{db: db}
}

// LoadLockoutUntil は保存されたロックアウト解除時刻を取得する。
// 未保存または値が解釈できない場合はゼロ値を返す。
func (r *PostgresStateRepo) LoadLockoutUntil(ctx context.Context) (time.Time, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM app_state WHERE key = $1`,
		lockoutUntilKey,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("ロックアウト状態の取得に失敗しました: %w", err)
	}

	until, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, nil
	}

	return until, nil
}

// SaveLockoutUntil はロックアウト解除時刻を保存する。
func (r *PostgresStateRepo) SaveLockoutUntil(ctx context.Context, until time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO app_state (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		lockoutUntilKey, until.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("ロックアウト状態の保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ StateRepository = (*PostgresStateRepo)(nil)
