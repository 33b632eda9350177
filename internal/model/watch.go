// Package model はドメインモデルを定義する。
package model

import "time"

// ServerIDAll は全サーバー横断検索を表すサーバーID。
const ServerIDAll = -1

// WatchedItem は監視対象のアイテム（アイテム名とサーバーIDの組）を表す。
// 同一ウォッチリスト内で (ItemName, ServerID) の組は一意でなければならない。
type WatchedItem struct {
	ID         string
	ItemName   string
	ServerID   int
	WatchPrice *int
	AddedAt    time.Time
}

// Key は監視アイテムの同一性キーを返す。
func (w *WatchedItem) Key() WatchKey {
	return WatchKey{ItemName: w.ItemName, ServerID: w.ServerID}
}

// WatchKey は監視アイテムの同一性キー（アイテム名とサーバーIDの組）。
// マップのキーとして使用できる比較可能な値型。
type WatchKey struct {
	ItemName string
	ServerID int
}

// Deal は相場検索で返される現在の出品1件を表す。
type Deal struct {
	Price    int
	Quantity int
	Seller   string
	ListedAt time.Time
}

// PriceHistoryPoint は価格履歴の1観測点（日付とその日の最安値）を表す。
type PriceHistoryPoint struct {
	Date     time.Time
	LowPrice int
}

// PriceStatistics は価格履歴から導出される集計値。
// 履歴が不足している場合、各フィールドはnilになる。
type PriceStatistics struct {
	YesterdayAverage *float64
	Week7Average     *float64
	Week7Min         *int
	Week7Max         *int
}

// MonitorResult は1回のリフレッシュの結果を表す。
// 一度生成されたら変更されないイミュータブルな値として扱い、
// 新しいリフレッシュは新しいMonitorResultでResultStoreの内容を原子的に置き換える。
type MonitorResult struct {
	Item             WatchedItem
	Deals            []Deal
	Statistics       *PriceStatistics
	LastRefreshed    time.Time
	Err              *MarketError
	IsRateLimited    bool
	RateLimitedUntil time.Time
}
