package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/visvasity/topic"

	"github.com/hitoshi/marketwatch/internal/market"
	"github.com/hitoshi/marketwatch/internal/metrics"
	"github.com/hitoshi/marketwatch/internal/model"
	"github.com/hitoshi/marketwatch/internal/repository"
	"github.com/hitoshi/marketwatch/internal/stats"
	"github.com/hitoshi/marketwatch/internal/watchlist"
)

// Config はスケジューラーの動作パラメータ。
type Config struct {
	// RefreshInterval はアイテムごとの更新間隔。60秒未満は60秒に切り上げる。
	RefreshInterval time.Duration
	// TickInterval は状態機械の評価間隔。デフォルト1秒。
	TickInterval time.Duration
	// FetchTimeout は相場呼び出し1回のタイムアウト。デフォルト15秒。
	FetchTimeout time.Duration
	// RateLimitBackoff はRetry-Afterがない場合のレート制限バックオフ。デフォルト5分。
	RateLimitBackoff time.Duration
	// LockoutDuration は解除時刻が不明な場合のロックアウト期間。デフォルト30分。
	LockoutDuration time.Duration
	// InitialLockoutUntil は起動時に持ち越すロックアウト解除時刻。ゼロ値は持ち越しなし。
	InitialLockoutUntil time.Time
}

// applyDefaults は未指定のパラメータにデフォルト値を適用する。
func (c *Config) applyDefaults() {
	if c.RefreshInterval < time.Minute {
		c.RefreshInterval = time.Minute
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = 5 * time.Minute
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = 30 * time.Minute
	}
}

// Scheduler は監視リストの定期更新を直列化して実行するスケジューラー。
//
// ティックごとに状態機械を評価し、更新時刻が到来したアイテムを
// 監視リスト順にキューイングする。相場サービスへの呼び出しは
// 常に同時1件までに制限される。レート制限・ロックアウト応答は
// バックオフとして状態機械に反映される。
type Scheduler struct {
	fetcher     market.DealFetcher
	store       *ResultStore
	historyRepo repository.PriceHistoryRepository
	stateRepo   repository.StateRepository
	logger      *slog.Logger
	collector   metrics.MetricsCollector
	cfg         Config
	results     *topic.Topic[*model.MonitorResult]

	// now はテストから時刻を注入するためのフック。
	now func() time.Time

	mu          sync.Mutex
	items       map[model.WatchKey]*itemState
	order       []model.WatchKey
	inFlight    bool
	lockedUntil time.Time
	generation  uint64

	wg sync.WaitGroup
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// stateRepoがnilの場合、ロックアウト状態の永続化は行わない。
func NewScheduler(
	fetcher market.DealFetcher,
	store *ResultStore,
	historyRepo repository.PriceHistoryRepository,
	stateRepo repository.StateRepository,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	cfg Config,
) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		fetcher:     fetcher,
		store:       store,
		historyRepo: historyRepo,
		stateRepo:   stateRepo,
		logger:      logger,
		collector:   collector,
		cfg:         cfg,
		results:     topic.New[*model.MonitorResult](),
		now:         time.Now,
		items:       make(map[model.WatchKey]*itemState),
		lockedUntil: cfg.InitialLockoutUntil,
	}
}

// Seed は起動時の監視リストをスケジューラーに登録する。
// 各アイテムはIdleで即時更新対象になる。ロックアウト持ち越し中は
// 解除時刻まで更新されない。
func (s *Scheduler) Seed(items []model.WatchedItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, item := range items {
		s.addItemLocked(item, now)
	}
}

// Run はティックループを起動し、監視リスト変更イベントを反映し続ける。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Run(ctx context.Context, events <-chan watchlist.Event) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.Info("更新スケジューラーを開始しました",
		slog.Duration("refresh_interval", s.cfg.RefreshInterval),
		slog.Duration("tick_interval", s.cfg.TickInterval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("更新スケジューラーを停止します")
			s.wg.Wait()
			s.results.Close()
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.applyEvent(ev)
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick は状態機械を1回評価する。
//
//  1. グローバルロックアウト中は何もしない
//  2. Done、およびバックオフ期限が切れたRateLimited/ErrorをIdleへ戻す
//  3. 更新時刻が到来したIdleをQueuedへ遷移させる
//  4. 呼び出しスロットが空いていれば監視リスト順で先頭のQueuedを実行する
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()

	now := s.now()
	if now.Before(s.lockedUntil) {
		s.mu.Unlock()
		return
	}

	for _, key := range s.order {
		st := s.items[key]
		switch st.phase {
		case PhaseDone:
			st.phase = PhaseIdle
		case PhaseRateLimited, PhaseError:
			if !now.Before(st.nextRefreshAt) {
				st.phase = PhaseIdle
			}
		}
	}

	for _, key := range s.order {
		st := s.items[key]
		if st.phase == PhaseIdle && !now.Before(st.nextRefreshAt) {
			st.phase = PhaseQueued
		}
	}

	if s.inFlight {
		s.mu.Unlock()
		return
	}

	var next *itemState
	for _, key := range s.order {
		if st := s.items[key]; st.phase == PhaseQueued {
			next = st
			break
		}
	}
	if next == nil {
		s.mu.Unlock()
		return
	}

	next.phase = PhaseRefreshing
	s.inFlight = true
	item := next.item
	generation := next.generation
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refresh(ctx, item, generation)
	}()
}

// refresh は1アイテムの相場呼び出しを実行し、結果を状態機械に反映する。
func (s *Scheduler) refresh(ctx context.Context, item model.WatchedItem, generation uint64) {
	start := s.now()

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	result, err := s.fetcher.FetchDeals(fetchCtx, item.ItemName, item.ServerID)
	cancel()

	s.collector.RecordRefreshLatency(s.now().Sub(start))

	if err != nil {
		s.completeFailure(ctx, item, generation, err)
		return
	}
	s.completeSuccess(ctx, item, generation, result)
}

// completeSuccess は成功した呼び出しの結果を処理する。
// 統計計算と履歴記録を行い、MonitorResultを公開してDoneへ遷移させる。
func (s *Scheduler) completeSuccess(ctx context.Context, item model.WatchedItem, generation uint64, fetched *market.FetchResult) {
	s.mu.Lock()
	st, ok := s.items[item.Key()]
	if !ok || st.generation != generation {
		// 呼び出し中に監視解除された。結果は破棄する
		s.inFlight = false
		s.mu.Unlock()
		s.logger.Info("監視解除済みアイテムの応答を破棄しました",
			slog.String("item_name", item.ItemName),
			slog.Int("server_id", item.ServerID),
		)
		return
	}
	st.phase = PhaseProcessing
	s.mu.Unlock()

	now := s.now()
	statistics := s.mergeStatistics(ctx, item, fetched, now)

	result := &model.MonitorResult{
		Item:          item,
		Deals:         fetched.Deals,
		Statistics:    statistics,
		LastRefreshed: now,
	}

	s.mu.Lock()
	s.inFlight = false
	st, ok = s.items[item.Key()]
	if !ok || st.generation != generation {
		s.mu.Unlock()
		return
	}
	s.store.Put(result)
	st.phase = PhaseDone
	st.nextRefreshAt = result.LastRefreshed.Add(s.cfg.RefreshInterval)
	s.mu.Unlock()

	s.collector.RecordRefreshSuccess()
	s.collector.RecordDealsFound(len(result.Deals))
	s.logger.Info("相場更新が完了しました",
		slog.String("item_name", item.ItemName),
		slog.Int("server_id", item.ServerID),
		slog.Int("deal_count", len(result.Deals)),
	)
	s.results.Send(result)
}

// completeFailure は失敗した呼び出しを分類に応じて処理する。
//
//   - レート制限: バックオフ後の時刻までRateLimitedで待機する。
//     連続するレート制限でnextRefreshAtが後退することはない
//   - ロックアウト: グローバルロックアウトを設定し、全アイテムの
//     次回更新を解除時刻以降に押し出す
//   - その他: Errorへ遷移し、通常の更新間隔後に再試行する
func (s *Scheduler) completeFailure(ctx context.Context, item model.WatchedItem, generation uint64, err error) {
	marketErr := model.AsMarketError(err)
	now := s.now()

	s.mu.Lock()
	s.inFlight = false
	st, ok := s.items[item.Key()]
	if !ok || st.generation != generation {
		s.mu.Unlock()
		return
	}

	result := &model.MonitorResult{
		Item:          item,
		Err:           marketErr,
		LastRefreshed: now,
	}

	var lockoutUntil time.Time

	switch marketErr.Kind {
	case model.ErrorKindRateLimited:
		backoff := s.cfg.RateLimitBackoff
		if marketErr.RetryAfter > 0 && marketErr.RetryAfter < backoff {
			backoff = marketErr.RetryAfter
		}
		if s.cfg.RefreshInterval < backoff {
			backoff = s.cfg.RefreshInterval
		}
		next := now.Add(backoff)
		// 連続するレート制限で次回更新時刻が手前に戻ることはない
		if next.Before(st.nextRefreshAt) {
			next = st.nextRefreshAt
		}
		st.phase = PhaseRateLimited
		st.nextRefreshAt = next
		result.IsRateLimited = true
		result.RateLimitedUntil = next

	case model.ErrorKindLockout:
		until := marketErr.LockedUntil
		if until.IsZero() || until.Before(now) {
			until = now.Add(s.cfg.LockoutDuration)
		}
		s.lockedUntil = until
		lockoutUntil = until
		st.phase = PhaseRateLimited
		result.IsRateLimited = true
		result.RateLimitedUntil = until
		// 全アイテムの次回更新を解除時刻以降に押し出す
		for _, key := range s.order {
			other := s.items[key]
			if other.nextRefreshAt.Before(until) {
				other.nextRefreshAt = until
			}
		}

	default:
		st.phase = PhaseError
		st.nextRefreshAt = now.Add(s.cfg.RefreshInterval)
	}

	s.store.Put(result)
	s.mu.Unlock()

	s.collector.RecordRefreshFailure(string(marketErr.Kind))
	switch marketErr.Kind {
	case model.ErrorKindRateLimited:
		s.collector.RecordRateLimited()
	case model.ErrorKindLockout:
		s.collector.RecordLockout()
	}

	s.logger.Warn("相場更新に失敗しました",
		slog.String("item_name", item.ItemName),
		slog.Int("server_id", item.ServerID),
		slog.String("kind", string(marketErr.Kind)),
		slog.String("error", marketErr.Message),
	)

	if !lockoutUntil.IsZero() {
		s.saveLockout(ctx, lockoutUntil)
	}

	s.results.Send(result)
}

// saveLockout はロックアウト解除時刻を永続化する。再起動後に持ち越すため。
func (s *Scheduler) saveLockout(ctx context.Context, until time.Time) {
	if s.stateRepo == nil {
		return
	}
	if err := s.stateRepo.SaveLockoutUntil(ctx, until); err != nil {
		s.logger.Error("ロックアウト状態の永続化に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// mergeStatistics は今回観測した最安値を日次履歴に記録し、
// 相場サービス提供の履歴とマージしたうえで価格統計を計算する。
// 履歴の読み書きに失敗しても更新自体は成功として扱い、統計はnilになる。
func (s *Scheduler) mergeStatistics(ctx context.Context, item model.WatchedItem, fetched *market.FetchResult, now time.Time) *model.PriceStatistics {
	if s.historyRepo == nil {
		return stats.Compute(fetched.History, now)
	}

	key := item.Key()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if low, ok := lowestPrice(fetched.Deals); ok {
		if err := s.historyRepo.UpsertDailyLow(ctx, key, today, low); err != nil {
			s.logger.Error("日次最安値の記録に失敗しました",
				slog.String("item_name", item.ItemName),
				slog.String("error", err.Error()),
			)
		}
	}

	// 相場サービス提供の履歴を自前の記録にマージする
	for _, point := range fetched.History {
		if err := s.historyRepo.UpsertDailyLow(ctx, key, point.Date, point.LowPrice); err != nil {
			s.logger.Error("提供履歴のマージに失敗しました",
				slog.String("item_name", item.ItemName),
				slog.String("error", err.Error()),
			)
			break
		}
	}

	since := today.AddDate(0, 0, -8)
	history, err := s.historyRepo.ListSince(ctx, key, since)
	if err != nil {
		s.logger.Error("価格履歴の取得に失敗しました",
			slog.String("item_name", item.ItemName),
			slog.String("error", err.Error()),
		)
		return nil
	}

	return stats.Compute(history, now)
}

// lowestPrice は出品一覧の最安値を返す。出品がない場合はfalseを返す。
func lowestPrice(deals []model.Deal) (int, bool) {
	if len(deals) == 0 {
		return 0, false
	}
	low := deals[0].Price
	for _, d := range deals[1:] {
		if d.Price < low {
			low = d.Price
		}
	}
	return low, true
}

// applyEvent は監視リスト変更イベントを状態機械に反映する。
func (s *Scheduler) applyEvent(ev watchlist.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	switch ev.Type {
	case watchlist.EventAdded:
		s.addItemLocked(ev.Item, now)

	case watchlist.EventRemoved:
		s.removeItemLocked(ev.Item.Key())

	case watchlist.EventEdited:
		if ev.Prev != nil && ev.Prev.Key() != ev.Item.Key() {
			// 同一性が変わる編集は削除と再追加。実行状態は引き継がない
			s.removeItemLocked(ev.Prev.Key())
			s.addItemLocked(ev.Item, now)
			return
		}
		if st, ok := s.items[ev.Item.Key()]; ok {
			st.item = ev.Item
		}
	}
}

// addItemLocked はロック保持中にアイテムを登録する。既に存在する場合は何もしない。
func (s *Scheduler) addItemLocked(item model.WatchedItem, now time.Time) {
	key := item.Key()
	if _, exists := s.items[key]; exists {
		return
	}

	nextRefreshAt := now
	if nextRefreshAt.Before(s.lockedUntil) {
		nextRefreshAt = s.lockedUntil
	}

	s.generation++
	s.items[key] = &itemState{
		item:          item,
		phase:         PhaseIdle,
		nextRefreshAt: nextRefreshAt,
		generation:    s.generation,
	}
	s.order = append(s.order, key)
}

// removeItemLocked はロック保持中にアイテムの実行状態と最新結果を破棄する。
// 呼び出し進行中でも世代番号の不一致により遅延応答は破棄される。
func (s *Scheduler) removeItemLocked(key model.WatchKey) {
	if _, ok := s.items[key]; !ok {
		return
	}
	delete(s.items, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.store.Delete(key)
}

// GetState は指定キーのアイテムの実行状態を返す。
func (s *Scheduler) GetState(key model.WatchKey) (StateSnapshot, bool) {
	s.mu.Lock()
	st, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		return StateSnapshot{}, false
	}
	snapshot := StateSnapshot{
		Item:          st.item,
		Phase:         st.phase,
		NextRefreshAt: st.nextRefreshAt,
	}
	s.mu.Unlock()

	snapshot.LastResult = s.store.Get(key)
	return snapshot, true
}

// GetStateByID は指定IDのアイテムの実行状態を返す。
func (s *Scheduler) GetStateByID(id string) (StateSnapshot, bool) {
	s.mu.Lock()
	var key model.WatchKey
	found := false
	for _, k := range s.order {
		if s.items[k].item.ID == id {
			key = k
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return StateSnapshot{}, false
	}
	return s.GetState(key)
}

// AllStates は全アイテムの実行状態を監視リスト順で返す。
// 読み取り専用で、状態機械を変化させない。
func (s *Scheduler) AllStates() []StateSnapshot {
	s.mu.Lock()
	keys := make([]model.WatchKey, len(s.order))
	copy(keys, s.order)
	s.mu.Unlock()

	snapshots := make([]StateSnapshot, 0, len(keys))
	for _, key := range keys {
		if snapshot, ok := s.GetState(key); ok {
			snapshots = append(snapshots, snapshot)
		}
	}
	return snapshots
}

// LockedUntil は現在のグローバルロックアウト解除時刻を返す。
// ロックアウト中でない場合はゼロ値を返す。
func (s *Scheduler) LockedUntil() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().Before(s.lockedUntil) {
		return s.lockedUntil
	}
	return time.Time{}
}

// SubscribeResults は更新結果の購読チャネルを返す。
// 2番目の戻り値のクローズ関数で購読を解除する。
func (s *Scheduler) SubscribeResults() (<-chan *model.MonitorResult, func(), error) {
	receiver, err := topic.Subscribe(s.results, 64, false)
	if err != nil {
		return nil, nil, fmt.Errorf("更新結果の購読に失敗しました: %w", err)
	}

	ch, err := topic.ReceiveCh(receiver)
	if err != nil {
		receiver.Close()
		return nil, nil, fmt.Errorf("結果チャネルの取得に失敗しました: %w", err)
	}

	return ch, func() { receiver.Close() }, nil
}
