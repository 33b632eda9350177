// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/marketwatch/internal/config"
	"github.com/hitoshi/marketwatch/internal/database"
	"github.com/hitoshi/marketwatch/internal/handler"
	"github.com/hitoshi/marketwatch/internal/logger"
	"github.com/hitoshi/marketwatch/internal/market"
	"github.com/hitoshi/marketwatch/internal/metrics"
	"github.com/hitoshi/marketwatch/internal/middleware"
	"github.com/hitoshi/marketwatch/internal/monitor"
	"github.com/hitoshi/marketwatch/internal/notifier"
	"github.com/hitoshi/marketwatch/internal/repository"
	"github.com/hitoshi/marketwatch/internal/security"
	"github.com/hitoshi/marketwatch/internal/watchlist"
	"github.com/hitoshi/marketwatch/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("market_base_url", cfg.MarketBaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーと監視スケジューラーを同一プロセスで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーと
// バックグラウンドの更新ループを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	watchRepo := repository.NewPostgresWatchedItemRepo(db)
	historyRepo := repository.NewPostgresPriceHistoryRepo(db)
	stateRepo := repository.NewPostgresStateRepo(db)

	// 3. セキュリティサービスの初期化
	guard := security.NewOutboundGuard()
	if err := guard.ValidateBaseURL(cfg.MarketBaseURL); err != nil {
		return fmt.Errorf("invalid market base URL: %w", err)
	}
	sanitizer := security.NewDisplaySanitizer()

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. 相場クライアントの初期化
	marketClient := market.NewClient(
		guard.NewSafeClient(cfg.FetchTimeout),
		slog.Default(),
		cfg.MarketBaseURL,
		cfg.MarketCallInterval,
		sanitizer,
	)

	// 6. 監視リストの読み込み
	watchService := watchlist.NewService(watchRepo, slog.Default())
	defer watchService.Close()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	if err := watchService.Load(startupCtx); err != nil {
		return fmt.Errorf("failed to load watchlist: %w", err)
	}

	// 7. ロックアウト状態の持ち越し
	initialLockout, err := stateRepo.LoadLockoutUntil(startupCtx)
	if err != nil {
		slog.Error("ロックアウト状態の読み込みに失敗しました", slog.String("error", err.Error()))
		initialLockout = time.Time{}
	}
	if !initialLockout.IsZero() && initialLockout.After(time.Now()) {
		slog.Warn("ロックアウト状態を持ち越して起動します",
			slog.Time("locked_until", initialLockout),
		)
	}

	// 8. スケジューラーの初期化
	store := monitor.NewResultStore()
	scheduler := monitor.NewScheduler(
		marketClient, store, historyRepo, stateRepo,
		slog.Default(), collector,
		monitor.Config{
			RefreshInterval:     cfg.RefreshInterval,
			TickInterval:        cfg.TickInterval,
			FetchTimeout:        cfg.FetchTimeout,
			RateLimitBackoff:    cfg.RateLimitBackoff,
			LockoutDuration:     cfg.LockoutDuration,
			InitialLockoutUntil: initialLockout,
		},
	)
	scheduler.Seed(watchService.List())

	// 9. 通知の初期化
	sinks := []notifier.Sink{notifier.NewConsoleSink(slog.Default())}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		telegramSink, err := notifier.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			return fmt.Errorf("failed to init telegram sink: %w", err)
		}
		sinks = append(sinks, telegramSink)
		slog.Info("Telegram通知を有効化しました")
	}
	alerter := notifier.New(slog.Default(), collector, cfg.AlertFreeze, sinks...)

	// 10. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
		rateLimiterCfg.Rate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.Burst = cfg.RateLimitGeneral
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Gatherer:          registry,
		WatchlistService:  watchService,
		MonitorProvider:   scheduler,
		DefaultServerID:   cfg.DefaultServerID,
	})

	// 11. バックグラウンドループの起動
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, cancelEvents, err := watchService.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe watchlist events: %w", err)
	}
	defer cancelEvents()

	results, cancelResults, err := scheduler.SubscribeResults()
	if err != nil {
		return fmt.Errorf("failed to subscribe monitor results: %w", err)
	}
	defer cancelResults()

	go scheduler.Run(ctx, events)
	go alerter.Run(ctx, results)

	cleanupJob := cleanup.NewCleanupJob(historyRepo, slog.Default())
	if cfg.HistoryRetentionDays > 0 {
		cleanupJob.RetentionDays = cfg.HistoryRetentionDays
	}
	go cleanupJob.Start(ctx, 24*time.Hour)

	// 12. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	cancel()

	slog.Info("stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
