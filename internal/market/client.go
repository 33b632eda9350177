// Package market は外部相場サービスのクライアントを提供する。
// 検索エンドポイントの呼び出し、レスポンスの分類、呼び出し間隔の制御を含む。
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/marketwatch/internal/model"
	"github.com/hitoshi/marketwatch/internal/security"
)

// maxResponseSize はレスポンスボディの最大読み込みサイズ（1MB）。
const maxResponseSize = 1 << 20

// FetchResult は相場検索1回の成功結果を表す。
// 検索結果0件の場合、Dealsは空スライスになる（エラーではない）。
type FetchResult struct {
	Deals   []model.Deal
	History []model.PriceHistoryPoint
}

// DealFetcher は相場検索の実行インターフェース。
// 失敗時はmodel.MarketErrorに分類されたエラーを返す。
type DealFetcher interface {
	// FetchDeals は指定アイテムの現在の出品と価格履歴を取得する。
	// serverIDがmodel.ServerIDAllの場合は全サーバーを横断検索する。
	FetchDeals(ctx context.Context, itemName string, serverID int) (*FetchResult, error)
}

// Client は相場サービスのHTTPクライアント。
// 連続呼び出しの最低間隔をrate.Limiterで保証し、
// レスポンスをMarketErrorの分類に従って解釈する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	limiter    *rate.Limiter
	sanitizer  security.DisplaySanitizerService
}

// NewClient はClientの新しいインスタンスを生成する。
// callIntervalは相場サービスへの連続呼び出しの最低間隔を指定する。
// 0以下の場合は間隔制御を行わない。
func NewClient(
	httpClient *http.Client,
	logger *slog.Logger,
	baseURL string,
	callInterval time.Duration,
	sanitizer security.DisplaySanitizerService,
) *Client {
	limit := rate.Inf
	if callInterval > 0 {
		limit = rate.Every(callInterval)
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(limit, 1),
		sanitizer:  sanitizer,
	}
}

// dealsResponse は検索エンドポイントのレスポンスJSON。
type dealsResponse struct {
	Deals []struct {
		Price    int    `json:"price"`
		Quantity int    `json:"quantity"`
		Seller   string `json:"seller"`
		ListedAt string `json:"listed_at"`
	} `json:"deals"`
	PriceHistory []struct {
		Date     string `json:"date"`
		LowPrice int    `json:"low_price"`
	} `json:"price_history"`
}

// lockoutResponse はロックアウト時（403）のレスポンスJSON。
type lockoutResponse struct {
	LockedUntil string `json:"locked_until"`
}

// FetchDeals は指定アイテムの現在の出品と価格履歴を取得する。
// DealFetcherインターフェースを実装する。
//
// レスポンスの分類:
//   - 200: 成功（検索結果0件も空のDealsを持つ成功として扱う）
//   - 404: 成功（アイテム未登録 = 出品なし）
//   - 429: レート制限。Retry-Afterヘッダーがあれば待機時間として解釈する
//   - 403: ロックアウト。ボディのlocked_untilがあれば解除時刻として解釈する
//   - その他/通信障害: ネットワーク障害
//   - JSON不正: 解析失敗
func (c *Client) FetchDeals(ctx context.Context, itemName string, serverID int) (*FetchResult, error) {
	// 呼び出し間隔の保証（直前の呼び出しから最低間隔が経過するまで待機）
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, model.NewNetworkError(err)
	}

	reqURL, err := url.Parse(c.baseURL + "/api/deals")
	if err != nil {
		return nil, model.NewNetworkError(fmt.Errorf("ベースURLのパースに失敗しました: %w", err))
	}

	q := reqURL.Query()
	q.Set("item", itemName)
	if serverID != model.ServerIDAll {
		q.Set("server", strconv.Itoa(serverID))
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, model.NewNetworkError(fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err))
	}
	req.Header.Set("User-Agent", "Marketwatch/1.0 Market Monitor")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("相場サービスへのリクエストに失敗しました",
			slog.String("item_name", itemName),
			slog.Int("server_id", serverID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, model.NewNetworkError(fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.parseDeals(itemName, body)

	case resp.StatusCode == http.StatusNotFound:
		// アイテム未登録は出品なしの成功として扱う
		return &FetchResult{Deals: []model.Deal{}}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.logger.Warn("相場サービスのレート制限に達しました",
			slog.String("item_name", itemName),
			slog.Duration("retry_after", retryAfter),
		)
		return nil, model.NewRateLimitedError(retryAfter)

	case resp.StatusCode == http.StatusForbidden:
		until := parseLockedUntil(body)
		c.logger.Warn("相場サービスからロックアウトされました",
			slog.String("item_name", itemName),
			slog.Time("locked_until", until),
		)
		return nil, model.NewLockoutError(until)

	default:
		c.logger.Error("相場サービスが予期しないステータスを返しました",
			slog.String("item_name", itemName),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewNetworkError(fmt.Errorf("相場サービスがステータス %d を返しました", resp.StatusCode))
	}
}

// parseDeals は200レスポンスのボディを解析してFetchResultを構築する。
// 出品者名はリモート入力のためサニタイズする。
func (c *Client) parseDeals(itemName string, body []byte) (*FetchResult, error) {
	var dr dealsResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		c.logger.Error("相場サービスのレスポンスの解析に失敗しました",
			slog.String("item_name", itemName),
			slog.String("error", err.Error()),
		)
		return nil, model.NewParseError(err)
	}

	result := &FetchResult{Deals: make([]model.Deal, 0, len(dr.Deals))}

	for _, d := range dr.Deals {
		deal := model.Deal{
			Price:    d.Price,
			Quantity: d.Quantity,
			Seller:   c.sanitizer.Sanitize(d.Seller),
		}
		if t, err := time.Parse(time.RFC3339, d.ListedAt); err == nil {
			deal.ListedAt = t
		}
		result.Deals = append(result.Deals, deal)
	}

	for _, p := range dr.PriceHistory {
		t, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			continue // 不正な日付の観測点はスキップする
		}
		result.History = append(result.History, model.PriceHistoryPoint{
			Date:     t,
			LowPrice: p.LowPrice,
		})
	}

	return result, nil
}

// parseRetryAfter はRetry-Afterヘッダーを待機時間として解釈する。
// 秒数とHTTP日付の両形式に対応する。解釈できない場合は0を返す。
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if sec, err := strconv.Atoi(value); err == nil && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// parseLockedUntil は403レスポンスのボディから解除時刻を取り出す。
// 取り出せない場合はゼロ値を返す（呼び出し元がデフォルトの期間を適用する）。
func parseLockedUntil(body []byte) time.Time {
	var lr lockoutResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, lr.LockedUntil)
	if err != nil {
		return time.Time{}
	}
	return t
}

// compile-time interface check
var _ DealFetcher = (*Client)(nil)
