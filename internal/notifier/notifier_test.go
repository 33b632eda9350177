package notifier

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/marketwatch/internal/metrics"
	"github.com/hitoshi/marketwatch/internal/model"
	"github.com/hitoshi/marketwatch/internal/stats"
)

// --- モック ---

type mockSink struct {
	mu   sync.Mutex
	sent []string
}

func (m *mockSink) Send(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return nil
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func newTestNotifier(t *testing.T, freeze time.Duration) (*Notifier, *mockSink) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	collector := metrics.NewCollector(prometheus.NewRegistry())
	sink := &mockSink{}
	return New(logger, collector, freeze, sink), sink
}

// goodDealResult は買い時条件を満たす更新結果を作る。
func goodDealResult() *model.MonitorResult {
	return &model.MonitorResult{
		Item:  model.WatchedItem{ID: "a", ItemName: "赤い霊薬", ServerID: 1},
		Deals: []model.Deal{{Price: 90}, {Price: 120}},
		Statistics: &model.PriceStatistics{
			YesterdayAverage: floatPtr(150),
			Week7Average:     floatPtr(140),
		},
		LastRefreshed: time.Now(),
	}
}

func TestHandle_SendsAlertForGoodDeal(t *testing.T) {
	n, sink := newTestNotifier(t, time.Hour)

	n.Handle(context.Background(), goodDealResult())

	if sink.count() != 1 {
		t.Fatalf("送信件数 = %d, want 1", sink.count())
	}
}

func TestHandle_SkipsWhenNotBelowAverages(t *testing.T) {
	n, sink := newTestNotifier(t, time.Hour)

	result := goodDealResult()
	// 最安値が平均を下回らない
	result.Deals = []model.Deal{{Price: 200}}
	n.Handle(context.Background(), result)

	if sink.count() != 0 {
		t.Errorf("送信件数 = %d, want 0", sink.count())
	}
}

func TestHandle_SendsWhenWatchPriceHit(t *testing.T) {
	n, sink := newTestNotifier(t, time.Hour)

	result := goodDealResult()
	// 統計上は買い時でないが監視価格に到達している
	result.Statistics = nil
	result.Item.WatchPrice = intPtr(100)
	n.Handle(context.Background(), result)

	if sink.count() != 1 {
		t.Errorf("送信件数 = %d, want 1", sink.count())
	}
}

func TestHandle_SkipsErrorResults(t *testing.T) {
	n, sink := newTestNotifier(t, time.Hour)

	result := goodDealResult()
	result.Err = model.NewNetworkError(context.DeadlineExceeded)
	n.Handle(context.Background(), result)

	if sink.count() != 0 {
		t.Errorf("エラー結果は通知しないべき: %d", sink.count())
	}
}

func TestHandle_SkipsEmptyDeals(t *testing.T) {
	n, sink := newTestNotifier(t, time.Hour)

	result := goodDealResult()
	result.Deals = nil
	n.Handle(context.Background(), result)

	if sink.count() != 0 {
		t.Errorf("出品なしは通知しないべき: %d", sink.count())
	}
}

func TestHandle_FreezeSuppressesRepeatedAlerts(t *testing.T) {
	n, sink := newTestNotifier(t, time.Hour)

	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	current := base
	n.now = func() time.Time { return current }

	n.Handle(context.Background(), goodDealResult())
	n.Handle(context.Background(), goodDealResult())

	if sink.count() != 1 {
		t.Fatalf("フリーズ期間内の再通知が抑制されていない: %d", sink.count())
	}

	// フリーズ期間が明けると再度通知される
	current = base.Add(time.Hour)
	n.Handle(context.Background(), goodDealResult())

	if sink.count() != 2 {
		t.Errorf("フリーズ期間後は通知されるべき: %d", sink.count())
	}
}

func TestHandle_FreezeIsPerItem(t *testing.T) {
	n, sink := newTestNotifier(t, time.Hour)

	first := goodDealResult()
	second := goodDealResult()
	second.Item.ItemName = "青い霊薬"

	n.Handle(context.Background(), first)
	n.Handle(context.Background(), second)

	if sink.count() != 2 {
		t.Errorf("フリーズはアイテムごとに独立であるべき: %d", sink.count())
	}
}

func TestBuildMessage_ContainsItemAndPrice(t *testing.T) {
	result := goodDealResult()
	result.Item.WatchPrice = intPtr(100)

	text := buildMessage(result, stats.Evaluate(result), true)
	for _, want := range []string{"赤い霊薬", "90", "監視価格100"} {
		if !bytes.Contains([]byte(text), []byte(want)) {
			t.Errorf("メッセージに %q が含まれるべき: %s", want, text)
		}
	}
}

func TestRun_ConsumesChannelUntilClose(t *testing.T) {
	n, sink := newTestNotifier(t, time.Hour)

	ch := make(chan *model.MonitorResult, 1)
	done := make(chan struct{})
	go func() {
		n.Run(context.Background(), ch)
		close(done)
	}()

	ch <- goodDealResult()
	close(ch)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("チャネルクローズでループが終了しなかった")
	}
	if sink.count() != 1 {
		t.Errorf("送信件数 = %d, want 1", sink.count())
	}
}
