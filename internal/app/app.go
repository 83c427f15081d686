package app

import (
	"context"
	"encoding/json"
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

	"github.com/hitoshi/eventometer/internal/announce"
	"github.com/hitoshi/eventometer/internal/booking"
	"github.com/hitoshi/eventometer/internal/config"
	"github.com/hitoshi/eventometer/internal/database"
	"github.com/hitoshi/eventometer/internal/gateway"
	"github.com/hitoshi/eventometer/internal/handler"
	"github.com/hitoshi/eventometer/internal/logger"
	"github.com/hitoshi/eventometer/internal/metrics"
	"github.com/hitoshi/eventometer/internal/middleware"
	"github.com/hitoshi/eventometer/internal/repository"
	"github.com/hitoshi/eventometer/internal/session"
	"github.com/hitoshi/eventometer/internal/vatsim"
	"github.com/hitoshi/eventometer/internal/worker/cleanup"
	"github.com/hitoshi/eventometer/internal/worker/notify"
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
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// rateLimiterConfig は環境変数のレート制限値（req/min単位）を
// token bucketのパラメータに変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlc := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlc.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlc.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitApply > 0 {
		rlc.ApplyRate = rate.Limit(float64(cfg.RateLimitApply) / 60.0)
		rlc.ApplyBurst = cfg.RateLimitApply
	}
	return rlc
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
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
	eventRepo := repository.NewPostgresEventRepo(db)
	candidateRepo := repository.NewPostgresCandidateRepo(db)
	applicationRepo := repository.NewPostgresApplicationRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)
	bookingStore := repository.NewPostgresBookingStore(db)

	// 3. 外部クライアントの初期化
	httpClient := &http.Client{Timeout: 10 * time.Second}
	gatewayClient := gateway.NewClient(httpClient, slog.Default(), cfg.GatewayBaseURL, cfg.GatewayToken)
	vatsimClient := vatsim.NewClient(httpClient, slog.Default())
	vatsimClient.SetBaseURL(cfg.VatsimBaseURL)

	// 4. ドメインサービスの初期化
	bookingService := booking.NewService(eventRepo, candidateRepo, applicationRepo, bookingStore, notificationRepo)
	bookingService.SetChannelGrace(cfg.ChannelGrace)

	vatsimService := vatsim.NewService(vatsimClient, eventRepo, candidateRepo, slog.Default())
	projector := announce.NewProjector(eventRepo, bookingService, gatewayClient, slog.Default())
	sessionStore := session.NewStore(cfg.SessionTTL)

	// 5. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 6. ルーターの構築
	adminHandler := handler.NewAdminHandler(
		bookingService, vatsimService, projector,
		eventRepo, notificationRepo, candidateRepo, collector,
	)

	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		AdminFinder:       candidateRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		BookingService: bookingService,
		BulkApplier:    bookingService,
		Candidates:     vatsimService,
		Applications:   applicationRepo,
		Events:         eventRepo,
		Announcer:      projector,

		Sessions: sessionStore,

		Admin: adminHandler,
	}

	router := handler.NewRouter(deps)

	// /health と /metrics はミドルウェアチェーンの外に置く
	mux := http.NewServeMux()
	mux.Handle("/health", healthHandler(db))
	mux.Handle("/metrics", metrics.SetupMetricsRoute(registry))
	mux.Handle("/", router)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// 期限切れ応募セッションの定期破棄（セッションはプロセス内メモリに保持）
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n := sessionStore.Sweep(); n > 0 {
					slog.Info("期限切れセッションを破棄しました", slog.Int("count", n))
				}
			}
		}
	}()

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、通知配送ワーカーとチャンネル破棄ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	candidateRepo := repository.NewPostgresCandidateRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	// 3. ゲートウェイクライアントの初期化
	gatewayClient := gateway.NewClient(
		&http.Client{Timeout: 10 * time.Second},
		slog.Default(), cfg.GatewayBaseURL, cfg.GatewayToken,
	)

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. 通知配送ワーカーの初期化
	deliverer := notify.NewDeliverer(notificationRepo, candidateRepo, gatewayClient, slog.Default(), collector)
	worker := notify.NewWorker(notificationRepo, deliverer, slog.Default(), collector, cfg.NotifyBatchSize)

	// 6. チャンネル破棄ジョブの初期化
	// 応募セッションはAPIサーバープロセス内で破棄されるためここではnil
	cleanupJob := cleanup.NewCleanupJob(notificationRepo, gatewayClient, nil, slog.Default())
	cleanupJob.MaxChannelAge = cfg.ChannelMaxAge

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("notify_interval", cfg.NotifyInterval),
		slog.Int("batch_size", cfg.NotifyBatchSize),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// チャンネル破棄ジョブをバックグラウンドで定期実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 通知配送ワーカーをメインgoroutineで実行（ブロッキング）
	worker.Start(ctx, cfg.NotifyInterval)

	slog.Info("worker stopped gracefully")
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

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(db interface{ PingContext(context.Context) error }) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
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
