package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/marketwatch/internal/metrics"
	"github.com/hitoshi/marketwatch/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Gatherer          prometheus.Gatherer

	WatchlistService WatchlistServiceInterface
	MonitorProvider  MonitorStateProvider
	DefaultServerID  int
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RateLimit（/api配下のみ）
//
// /healthと/metricsはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	watchlistHandler := NewWatchlistHandler(deps.WatchlistService, deps.Logger, deps.DefaultServerID)
	monitorHandler := NewMonitorHandler(deps.MonitorProvider)

	// 死活監視
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Prometheusスクレイプ
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	// APIルート
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware())

		// 監視リスト管理
		r.Route("/api/watchlist", func(r chi.Router) {
			r.Get("/", watchlistHandler.List)
			r.Post("/", watchlistHandler.Add)

			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", watchlistHandler.Update)
				r.Delete("/", watchlistHandler.Remove)
			})
		})

		// 監視状態の参照
		r.Route("/api/monitor", func(r chi.Router) {
			r.Get("/states", monitorHandler.ListStates)
			r.Get("/states/{id}", monitorHandler.GetState)
		})
	})

	return r
}
