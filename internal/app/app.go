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

	"github.com/hitoshi/hubman/internal/auth"
	"github.com/hitoshi/hubman/internal/config"
	"github.com/hitoshi/hubman/internal/database"
	"github.com/hitoshi/hubman/internal/discovery"
	"github.com/hitoshi/hubman/internal/events"
	"github.com/hitoshi/hubman/internal/handler"
	"github.com/hitoshi/hubman/internal/hub"
	"github.com/hitoshi/hubman/internal/logger"
	"github.com/hitoshi/hubman/internal/metrics"
	"github.com/hitoshi/hubman/internal/middleware"
	"github.com/hitoshi/hubman/internal/repository"
	"github.com/hitoshi/hubman/internal/security"
	"github.com/hitoshi/hubman/internal/subscription"
	"github.com/hitoshi/hubman/internal/topic"
	"github.com/hitoshi/hubman/internal/worker/cleanup"
	"github.com/hitoshi/hubman/internal/worker/renew"
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
		slog.String("hub_url", cfg.HubURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe は購読マネージャサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーと
// 更新スケジューラ・保留レコード掃除を起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. 購読ストアの初期化（DATABASE_URL未設定時はインメモリ）
	var repo repository.SubscriptionRepository
	if cfg.DatabaseURL != "" {
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		repo = repository.NewPostgresSubscriptionRepo(db)
	} else {
		slog.Info("using in-memory subscription store")
		repo = repository.NewMemorySubscriptionRepo()
	}
	defer repo.Close()

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. イベントバスの初期化
	bus := events.NewBus(slog.Default())
	bus.Notify(newEventLogger(slog.Default()))

	// 5. ハブクライアントの初期化
	tokenService := auth.NewService(auth.ServiceConfig{
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}, &http.Client{Timeout: cfg.HubTimeout}, nil)

	hubClient := hub.NewClient(hub.ClientConfig{
		HubURL:          cfg.HubURL,
		CallbackBaseURL: cfg.CallbackBaseURL,
		ClientID:        cfg.ClientID,
	}, ssrfGuard.NewSafeClient(cfg.HubTimeout), tokenService, slog.Default(), collector)

	// 6. 更新スケジューラと購読マネージャのワイヤリング
	scheduler := renew.NewScheduler(renew.Config{
		Interval:       cfg.RenewInterval,
		RenewBefore:    cfg.RenewBefore,
		MaxConcurrency: cfg.RenewMaxConcurrent,
	}, slog.Default())

	manager := subscription.NewManager(
		subscription.ManagerConfig{
			TopicBaseURL:        cfg.TopicBaseURL,
			DefaultLeaseSeconds: cfg.LeaseSeconds,
			PendingTTL:          cfg.PendingTTL,
		},
		repo,
		hubClient,
		bus,
		scheduler,
		discovery.NewDiscoverer(ssrfGuard, cfg.HubTimeout),
		topic.NewDecoder(sanitizer),
		slog.Default(),
		collector,
	)
	scheduler.SetResubscriber(manager)

	// 7. 再起動後の回復: 購読済みレコードをスケジューラに再登録する
	if err := restoreSchedule(repo, scheduler); err != nil {
		return fmt.Errorf("failed to restore renewal schedule: %w", err)
	}

	// 8. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		CallbackRate:    rate.Limit(float64(cfg.RateLimitCallback) / 60.0),
		CallbackBurst:   cfg.RateLimitCallback,
		APIRate:         rate.Limit(float64(cfg.RateLimitAPI) / 60.0),
		APIBurst:        cfg.RateLimitAPI,
		CleanupInterval: 5 * time.Minute,
	})
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:              slog.Default(),
		RateLimiter:         rateLimiter,
		Resolver:            repo,
		SignatureRecorder:   collector,
		WebhookManager:      manager,
		SubscriptionManager: manager,
		MetricsHandler:      metrics.Handler(registry),
	})

	// 9. バックグラウンドワーカーの起動
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go scheduler.Start(ctx)
	go cleanup.NewJob(manager, cfg.CleanupInterval, slog.Default()).Run(ctx)

	// 10. HTTPサーバーの起動
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
		slog.Info("subscription manager server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down server...")

	cancel()
	scheduler.Destroy()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// restoreSchedule はストアの購読済みレコードを更新スケジューラに再登録する。
// 確認待ちレコードは登録しない（保留レコード掃除の対象）。
func restoreSchedule(repo repository.SubscriptionRepository, scheduler *renew.Scheduler) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	subs, err := repo.ListAll(ctx)
	if err != nil {
		return err
	}

	count := 0
	for _, sub := range subs {
		if !sub.Subscribed {
			continue
		}
		scheduler.Add(sub)
		count++
	}

	if count > 0 {
		slog.Info("renewal schedule restored", slog.Int("count", count))
	}
	return nil
}

// newEventLogger は全イベントを構造化ログに記録するリスナーを返す。
func newEventLogger(log *slog.Logger) events.Listener {
	return func(e events.Event) {
		switch ev := e.(type) {
		case events.Error:
			log.Warn("subscription event",
				slog.String("event_type", events.TypeName(e)),
				slog.String("subscription_id", ev.SubscriptionID),
				slog.String("error", ev.Err.Error()),
			)
		case events.Subscribed:
			log.Info("subscription event",
				slog.String("event_type", events.TypeName(e)),
				slog.String("subscription_id", ev.SubscriptionID),
			)
		case events.Unsubscribed:
			log.Info("subscription event",
				slog.String("event_type", events.TypeName(e)),
				slog.String("subscription_id", ev.SubscriptionID),
			)
		default:
			log.Debug("subscription event",
				slog.String("event_type", events.TypeName(e)),
			)
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

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
