// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/marketwatch/internal/model"
)

// WatchedItemRepository は監視アイテムの永続化インターフェース。
type WatchedItemRepository interface {
	// ListOrdered は全監視アイテムをadded_at昇順で取得する。
	ListOrdered(ctx context.Context) ([]*model.WatchedItem, error)

	// FindByKey はアイテム名とサーバーIDで監視アイテムを検索する。
	// 見つからない場合はnilを返す。
	FindByKey(ctx context.Context, key model.WatchKey) (*model.WatchedItem, error)

	// Create は監視アイテムを作成する。
	Create(ctx context.Context, item *model.WatchedItem) error

	// Update は監視アイテムを更新する。
	Update(ctx context.Context, item *model.WatchedItem) error

	// DeleteByID は指定IDの監視アイテムを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// PriceHistoryRepository は日次最安値履歴の永続化インターフェース。
type PriceHistoryRepository interface {
	// UpsertDailyLow は指定日の最安値を冪等にUPSERTする。
	// 既存の記録より高い値は既存の値を維持する（日次の最安値のみ保持）。
	UpsertDailyLow(ctx context.Context, key model.WatchKey, date time.Time, lowPrice int) error

	// ListSince は指定日以降の履歴を日付昇順で取得する。
	ListSince(ctx context.Context, key model.WatchKey, since time.Time) ([]model.PriceHistoryPoint, error)

	// DeleteOlderThan は指定日より古い履歴を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// StateRepository はアプリケーション状態（ロックアウト解除時刻など）の
// 永続化インターフェース。プロセス再起動をまたいで状態を持ち越すために使う。
type StateRepository interface {
	// LoadLockoutUntil は保存されたロックアウト解除時刻を取得する。
	// 未保存の場合はゼロ値を返す。
	LoadLockoutUntil(ctx context.Context) (time.Time, error)

	// SaveLockoutUntil はロックアウト解除時刻を保存する。
	SaveLockoutUntil(ctx context.Context, until time.Time) error
}
