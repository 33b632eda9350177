package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/marketwatch/internal/model"
)

// PostgresWatchedItemRepo はPostgreSQLを使用した監視アイテムリポジトリ。
type PostgresWatchedItemRepo struct {
	db *sql.DB
}

// NewPostgresWatchedItemRepo はPostgresWatchedItemRepoを生成する。
func NewPostgresWatchedItemRepo(db *sql.DB) *PostgresWatchedItemRepo {
	return &PostgresWatchedItemRepo{db: db}
}

// ListOrdered は全監視アイテムをadded_at昇順で取得する。
func (r *PostgresWatchedItemRepo) ListOrdered(ctx context.Context) ([]*model.WatchedItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, item_name, server_id, watch_price, added_at
		 FROM watched_items
		 ORDER BY added_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("監視アイテム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.WatchedItem
	for rows.Next() {
		item := &model.WatchedItem{}
		var watchPrice sql.NullInt64

		if err := rows.Scan(
			&item.ID, &item.ItemName, &item.ServerID, &watchPrice, &item.AddedAt,
		); err != nil {
			return nil, fmt.Errorf("監視アイテムの読み取りに失敗しました: %w", err)
		}

		item.WatchPrice = nullIntValue(watchPrice)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("監視アイテムの走査に失敗しました: %w", err)
	}

	return items, nil
}

// FindByKey はアイテム名とサーバーIDで監視アイテムを検索する。見つからない場合はnilを返す。
func (r *PostgresWatchedItemRepo) FindByKey(ctx context.Context, key model.WatchKey) (*model.WatchedItem, error) {
	item := &model.WatchedItem{}
	var watchPrice sql.NullInt64

	err := r.db.QueryRowContext(ctx,
		`SELECT id, item_name, server_id, watch_price, added_at
		 FROM watched_items WHERE item_name = $1 AND server_id = $2`,
		key.ItemName, key.ServerID,
	).Scan(&item.ID, &item.ItemName, &item.ServerID, &watchPrice, &item.AddedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("監視アイテムの検索に失敗しました: %w", err)
	}

	item.WatchPrice = nullIntValue(watchPrice)
	return item, nil
}

// Create は監視アイテムを作成する。
func (r *PostgresWatchedItemRepo) Create(ctx context.Context, item *model.WatchedItem) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO watched_items (id, item_name, server_id, watch_price, added_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		item.ID, item.ItemName, item.ServerID, nullInt(item.WatchPrice), item.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("監視アイテムの作成に失敗しました: %w", err)
	}
	return nil
}

// Update は監視アイテムを更新する。
func (r *PostgresWatchedItemRepo) Update(ctx context.Context, item *model.WatchedItem) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE watched_items SET
		    item_name = $2, server_id = $3, watch_price = $4, added_at = $5
		 WHERE id = $1`,
		item.ID, item.ItemName, item.ServerID, nullInt(item.WatchPrice), item.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("監視アイテムの更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteByID は指定IDの監視アイテムを削除する。
func (r *PostgresWatchedItemRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM watched_items WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("監視アイテムの削除に失敗しました: %w", err)
	}
	return nil
}

// nullInt は*intをsql.NullInt64に変換する。
func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// nullIntValue はsql.NullInt64から*intを取得する。
func nullIntValue(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// compile-time interface check
var _ WatchedItemRepository = (*PostgresWatchedItemRepo)(nil)
