// Package monitor は監視リストの定期更新スケジューラーを提供する。
// アイテムごとの状態機械、直列化された相場呼び出し、
// グローバルロックアウトの管理、最新結果の保持を含む。
package monitor

import (
	"time"

	"github.com/hitoshi/marketwatch/internal/model"
)

// Phase は監視アイテムの更新状態機械のフェーズ。
type Phase string

const (
	// PhaseIdle は次回更新時刻までの待機状態。
	PhaseIdle Phase = "idle"
	// PhaseQueued は更新時刻が到来し、呼び出しスロットの空きを待っている状態。
	PhaseQueued Phase = "queued"
	// PhaseRefreshing は相場サービスへの呼び出しが進行中の状態。
	PhaseRefreshing Phase = "refreshing"
	// PhaseProcessing は取得結果の統計計算と履歴記録が進行中の状態。
	PhaseProcessing Phase = "processing"
	// PhaseDone は結果が公開された直後の状態。次のティックでIdleに戻る。
	PhaseDone Phase = "done"
	// PhaseRateLimited はレート制限またはロックアウトによるバックオフ待機状態。
	PhaseRateLimited Phase = "rate_limited"
	// PhaseError はネットワーク障害や解析失敗の後、次回更新を待つ状態。
	PhaseError Phase = "error"
)

// itemState はスケジューラー内部のアイテムごとの実行状態。
// generationは削除と再追加を区別するための世代番号で、
// 呼び出し中に削除されたアイテムの遅延応答を破棄するために使う。
type itemState struct {
	item          model.WatchedItem
	phase         Phase
	nextRefreshAt time.Time
	generation    uint64
}

// StateSnapshot はアイテムの実行状態の読み取り専用コピー。
// APIレスポンスとして外部に公開される。
type StateSnapshot struct {
	Item          model.WatchedItem
	Phase         Phase
	NextRefreshAt time.Time
	LastResult    *model.MonitorResult
}
