package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/marketwatch/internal/middleware"
	"github.com/hitoshi/marketwatch/internal/model"
	"github.com/hitoshi/marketwatch/internal/monitor"
	"github.com/hitoshi/marketwatch/internal/stats"
)

// MonitorStateProvider は監視ハンドラーが必要とするスケジューラーインターフェース。
type MonitorStateProvider interface {
	// AllStates は全アイテムの実行状態を監視リスト順で返す。
	AllStates() []monitor.StateSnapshot
	// GetStateByID は指定IDのアイテムの実行状態を返す。
	GetStateByID(id string) (monitor.StateSnapshot, bool)
	// LockedUntil は現在のグローバルロックアウト解除時刻を返す。
	LockedUntil() time.Time
}

// MonitorHandler は監視状態参照のHTTPハンドラー。
type MonitorHandler struct {
	provider MonitorStateProvider
}

// NewMonitorHandler はMonitorHandlerを生成する。
func NewMonitorHandler(provider MonitorStateProvider) *MonitorHandler {
	return &MonitorHandler{provider: provider}
}

// dealResponse は出品1件のAPIレスポンス。
type dealResponse struct {
	Price    int        `json:"price"`
	Quantity int        `json:"quantity"`
	Seller   string     `json:"seller"`
	ListedAt *time.Time `json:"listed_at,omitempty"`
}

// statisticsResponse は価格統計のAPIレスポンス。
type statisticsResponse struct {
	YesterdayAverage *float64 `json:"yesterday_average"`
	Week7Average     *float64 `json:"week7_average"`
	Week7Min         *int     `json:"week7_min"`
	Week7Max         *int     `json:"week7_max"`
}

// evaluationResponse は買い時評価のAPIレスポンス。
type evaluationResponse struct {
	LowestCurrentPrice *int     `json:"lowest_current_price"`
	IsBelowYesterday   bool     `json:"is_below_yesterday_avg"`
	IsBelowWeek        bool     `json:"is_below_week_avg"`
	IsGoodDeal         bool     `json:"is_good_deal"`
	PriceDiffPercent   *float64 `json:"price_diff_percent,omitempty"`
}

// resultErrorResponse は更新失敗のAPIレスポンス。
type resultErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// monitorResultResponse は最新の更新結果のAPIレスポンス。
type monitorResultResponse struct {
	Deals            []dealResponse       `json:"deals"`
	Statistics       *statisticsResponse  `json:"statistics,omitempty"`
	Evaluation       *evaluationResponse  `json:"evaluation,omitempty"`
	LastRefreshed    time.Time            `json:"last_refreshed"`
	Error            *resultErrorResponse `json:"error,omitempty"`
	IsRateLimited    bool                 `json:"is_rate_limited,omitempty"`
	RateLimitedUntil *time.Time           `json:"rate_limited_until,omitempty"`
}

// stateResponse はアイテムの実行状態のAPIレスポンス。
type stateResponse struct {
	Item          watchedItemResponse    `json:"item"`
	Phase         string                 `json:"phase"`
	NextRefreshAt time.Time              `json:"next_refresh_at"`
	LastResult    *monitorResultResponse `json:"last_result,omitempty"`
}

func toStateResponse(snapshot monitor.StateSnapshot) stateResponse {
	resp := stateResponse{
		Item:          toWatchedItemResponse(snapshot.Item),
		Phase:         string(snapshot.Phase),
		NextRefreshAt: snapshot.NextRefreshAt,
	}
	if snapshot.LastResult != nil {
		resp.LastResult = toResultResponse(snapshot.LastResult)
	}
	return resp
}

func toResultResponse(result *model.MonitorResult) *monitorResultResponse {
	resp := &monitorResultResponse{
		Deals:         make([]dealResponse, len(result.Deals)),
		LastRefreshed: result.LastRefreshed,
		IsRateLimited: result.IsRateLimited,
	}

	for i, deal := range result.Deals {
		dr := dealResponse{
			Price:    deal.Price,
			Quantity: deal.Quantity,
			Seller:   deal.Seller,
		}
		if !deal.ListedAt.IsZero() {
			t := deal.ListedAt
			dr.ListedAt = &t
		}
		resp.Deals[i] = dr
	}

	if result.Statistics != nil {
		resp.Statistics = &statisticsResponse{
			YesterdayAverage: result.Statistics.YesterdayAverage,
			Week7Average:     result.Statistics.Week7Average,
			Week7Min:         result.Statistics.Week7Min,
			Week7Max:         result.Statistics.Week7Max,
		}
	}

	if result.Err != nil {
		resp.Error = &resultErrorResponse{
			Kind:    string(result.Err.Kind),
			Message: result.Err.Message,
		}
	} else {
		evaluation := stats.Evaluate(result)
		resp.Evaluation = &evaluationResponse{
			LowestCurrentPrice: evaluation.LowestCurrentPrice,
			IsBelowYesterday:   evaluation.IsBelowYesterdayAvg,
			IsBelowWeek:        evaluation.IsBelowWeekAvg,
			IsGoodDeal:         evaluation.IsGoodDeal,
			PriceDiffPercent:   evaluation.PriceDiffPercent,
		}
	}

	if !result.RateLimitedUntil.IsZero() {
		t := result.RateLimitedUntil
		resp.RateLimitedUntil = &t
	}

	return resp
}

// ListStates は全アイテムの監視状態を返す。
// GET /api/monitor/states
func (h *MonitorHandler) ListStates(w http.ResponseWriter, r *http.Request) {
	snapshots := h.provider.AllStates()

	states := make([]stateResponse, len(snapshots))
	for i, snapshot := range snapshots {
		states[i] = toStateResponse(snapshot)
	}

	body := map[string]any{"states": states}
	if until := h.provider.LockedUntil(); !until.IsZero() {
		body["locked_until"] = until
	}

	writeJSON(w, http.StatusOK, body)
}

// GetState は指定アイテムの監視状態を返す。
// GET /api/monitor/states/{id}
func (h *MonitorHandler) GetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snapshot, ok := h.provider.GetStateByID(id)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound,
			"ITEM_NOT_FOUND", "監視アイテムが見つかりません。")
		return
	}

	writeJSON(w, http.StatusOK, toStateResponse(snapshot))
}
