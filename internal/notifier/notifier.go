// Package notifier は買い時と判定された相場更新の通知を提供する。
// 通知先の抽象化、連続通知の抑制、配信ループを含む。
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/marketwatch/internal/metrics"
	"github.com/hitoshi/marketwatch/internal/model"
	"github.com/hitoshi/marketwatch/internal/stats"
)

// Sink は通知の送信先インターフェース。
type Sink interface {
	// Send は通知メッセージを1件送信する。
	Send(ctx context.Context, text string) error
}

// Notifier は更新結果を評価し、買い時のアイテムを通知する。
// 同一アイテムへの連続通知はフリーズ期間内で抑制される。
type Notifier struct {
	sinks     []Sink
	logger    *slog.Logger
	collector metrics.MetricsCollector
	freeze    time.Duration

	// now はテストから時刻を注入するためのフック。
	now func() time.Time

	mu        sync.Mutex
	lastAlert map[model.WatchKey]time.Time
}

// New はNotifierの新しいインスタンスを生成する。
// freezeは同一アイテムへの連続通知を抑制する期間を指定する。
func New(logger *slog.Logger, collector metrics.MetricsCollector, freeze time.Duration, sinks ...Sink) *Notifier {
	return &Notifier{
		sinks:     sinks,
		logger:    logger,
		collector: collector,
		freeze:    freeze,
		now:       time.Now,
		lastAlert: make(map[model.WatchKey]time.Time),
	}
}

// Run は結果チャネルを消費し続ける配信ループ。
// チャネルのクローズまたはコンテキストのキャンセルで終了する。
func (n *Notifier) Run(ctx context.Context, results <-chan *model.MonitorResult) {
	n.logger.Info("通知ループを開始しました", slog.Int("sink_count", len(n.sinks)))

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("通知ループを停止します")
			return
		case result, ok := <-results:
			if !ok {
				n.logger.Info("結果チャネルがクローズされました")
				return
			}
			n.Handle(ctx, result)
		}
	}
}

// Handle は1件の更新結果を評価し、通知条件を満たす場合に全シンクへ送信する。
//
// 通知条件:
//   - 現在の最安値が昨日平均と直近7日平均の両方を下回る（買い時判定）
//   - または監視価格が設定されていて、最安値が監視価格以下
func (n *Notifier) Handle(ctx context.Context, result *model.MonitorResult) {
	if result.Err != nil {
		return
	}

	evaluation := stats.Evaluate(result)
	if evaluation.LowestCurrentPrice == nil {
		return
	}

	lowest := *evaluation.LowestCurrentPrice
	hitWatchPrice := result.Item.WatchPrice != nil && lowest <= *result.Item.WatchPrice
	if !evaluation.IsGoodDeal && !hitWatchPrice {
		return
	}

	key := result.Item.Key()
	now := n.now()

	n.mu.Lock()
	if last, ok := n.lastAlert[key]; ok && now.Sub(last) < n.freeze {
		n.mu.Unlock()
		return
	}
	n.lastAlert[key] = now
	n.mu.Unlock()

	text := buildMessage(result, evaluation, hitWatchPrice)
	for _, sink := range n.sinks {
		if err := sink.Send(ctx, text); err != nil {
			n.logger.Error("通知の送信に失敗しました",
				slog.String("item_name", result.Item.ItemName),
				slog.String("error", err.Error()),
			)
		}
	}

	n.collector.RecordAlertSent()
	n.logger.Info("買い時通知を送信しました",
		slog.String("item_name", result.Item.ItemName),
		slog.Int("server_id", result.Item.ServerID),
		slog.Int("lowest_price", lowest),
	)
}

// buildMessage は通知メッセージ本文を組み立てる。
func buildMessage(result *model.MonitorResult, evaluation stats.Evaluation, hitWatchPrice bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "【買い時】%s", result.Item.ItemName)
	if result.Item.ServerID != model.ServerIDAll {
		fmt.Fprintf(&b, "（サーバー%d）", result.Item.ServerID)
	}
	fmt.Fprintf(&b, "\n現在最安値: %dゴールド", *evaluation.LowestCurrentPrice)

	if result.Statistics != nil && result.Statistics.Week7Average != nil {
		fmt.Fprintf(&b, "\n直近7日平均: %.0fゴールド", *result.Statistics.Week7Average)
	}
	if evaluation.PriceDiffPercent != nil {
		fmt.Fprintf(&b, "（%+.1f%%）", *evaluation.PriceDiffPercent)
	}
	if hitWatchPrice {
		fmt.Fprintf(&b, "\n監視価格%dゴールドに到達", *result.Item.WatchPrice)
	}

	return b.String()
}

// ConsoleSink は構造化ログに通知を出力するシンク。
// 外部の通知先が設定されていない場合のデフォルト。
type ConsoleSink struct {
	logger *slog.Logger
}

// NewConsoleSink はConsoleSinkの新しいインスタンスを生成する。
func NewConsoleSink(logger *slog.Logger) *ConsoleSink {
	return &ConsoleSink{logger: logger}
}

// Send は通知をログに出力する。
func (s *ConsoleSink) Send(ctx context.Context, text string) error {
	s.logger.Info("通知", slog.String("message", text))
	return nil
}

// compile-time interface check
var _ Sink = (*ConsoleSink)(nil)
