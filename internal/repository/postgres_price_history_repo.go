package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/marketwatch/internal/model"
)

// PostgresPriceHistoryRepo はPostgreSQLを使用した価格履歴リポジトリ。
type PostgresPriceHistoryRepo struct {
	db *sql.DB
}

// NewPostgresPriceHistoryRepo はPostgresPriceHistoryRepoを生成する。
func NewPostgresPriceHistoryRepo(db *sql.DB) *PostgresPriceHistoryRepo {
	return &PostgresPriceHistoryRepo{db: db}
}

// UpsertDailyLow は指定日の最安値を冪等にUPSERTする。
// 同じ日に既により安い値が記録されている場合は既存の値を維持する。
func (r *PostgresPriceHistoryRepo) UpsertDailyLow(ctx context.Context, key model.WatchKey, date time.Time, lowPrice int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO price_history (item_name, server_id, observed_on, low_price)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (item_name, server_id, observed_on)
		 DO UPDATE SET low_price = LEAST(price_history.low_price, EXCLUDED.low_price)`,
		key.ItemName, key.ServerID, date.Format("2006-01-02"), lowPrice,
	)
	if err != nil {
		return fmt.Errorf("日次最安値の記録に失敗しました: %w", err)
	}
	return nil
}

// ListSince は指定日以降の履歴を日付昇順で取得する。
func (r *PostgresPriceHistoryRepo) ListSince(ctx context.Context, key model.WatchKey, since time.Time) ([]model.PriceHistoryPoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT observed_on, low_price
		 FROM price_history
		 WHERE item_name = $1 AND server_id = $2 AND observed_on >= $3
		 ORDER BY observed_on ASC`,
		key.ItemName, key.ServerID, since.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("価格履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var points []model.PriceHistoryPoint
	for rows.Next() {
		var p model.PriceHistoryPoint
		if err := rows.Scan(&p.Date, &p.LowPrice); err != nil {
			return nil, fmt.Errorf("価格履歴の読み取りに失敗しました: %w", err)
		}
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("価格履歴の走査に失敗しました: %w", err)
	}

	return points, nil
}

// DeleteOlderThan は指定日より古い履歴を削除し、削除件数を返す。
func (r *PostgresPriceHistoryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM price_history WHERE observed_on < $1`,
		cutoff.Format("2006-01-02"),
	)
	if err != nil {
		return 0, fmt.Errorf("古い価格履歴の削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	return deleted, nil
}

// compile-time interface check
var _ PriceHistoryRepository = (*PostgresPriceHistoryRepo)(nil)
