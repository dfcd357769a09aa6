package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/movienight/internal/calendar"
	"github.com/hitoshi/movienight/internal/config"
	"github.com/hitoshi/movienight/internal/database"
	"github.com/hitoshi/movienight/internal/guild"
	"github.com/hitoshi/movienight/internal/handler"
	"github.com/hitoshi/movienight/internal/importer"
	"github.com/hitoshi/movienight/internal/logger"
	"github.com/hitoshi/movienight/internal/metadata"
	"github.com/hitoshi/movienight/internal/metrics"
	"github.com/hitoshi/movienight/internal/middleware"
	"github.com/hitoshi/movienight/internal/notify"
	"github.com/hitoshi/movienight/internal/repository"
	"github.com/hitoshi/movienight/internal/resolution"
	"github.com/hitoshi/movienight/internal/security"
	"github.com/hitoshi/movienight/internal/slot"
	"github.com/hitoshi/movienight/internal/tmdb"
	"github.com/hitoshi/movienight/internal/worker/archive"
	"github.com/hitoshi/movienight/internal/worker/reminder"
)

// sessionSweepInterval は期限切れセッションを掃除する間隔。
const sessionSweepInterval = time.Minute

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// LOG_FILE が設定されている場合はローテーション付きファイルにも出力し、
// 返されるio.Closerでファイルを閉じる。
func Init(w io.Writer) (*config.Config, io.Closer, error) {
	if w == nil {
		w = os.Stdout
	}

	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログファイル出力の追加
	out, closer := logger.Output(w, cfg.LogFile, cfg.LogRetentionDays)
	logger.SetupDefault(out)

	return cfg, closer, nil
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

	cfg, closer, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer closer.Close()

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("event_time", cfg.EventTime),
		slog.String("event_timezone", cfg.EventTimezone),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// components はserveとworkerで共有する依存関係。
type components struct {
	db        *sql.DB
	store     repository.EntryRepository
	allocator *slot.Allocator
	guilds    *guild.Service
	resolver  metadata.Resolver
	notifier  notify.Notifier
	guard     *security.URLGuard
	collector *metrics.Collector
	registry  *prometheus.Registry
	closers   []io.Closer
}

// Close は保持しているリソースを解放する。
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			slog.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// buildComponents はDB接続を開き、ドメインの共通依存関係をワイヤリングする。
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	logger := slog.Default()

	// 1. DB接続
	db, dialect, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	c := &components{db: db, closers: []io.Closer{db}}

	if err := db.PingContext(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established", slog.String("dialect", string(dialect)))

	// 2. リポジトリ・スロット計算
	c.store = repository.NewSQLEntryRepo(db, dialect)
	c.allocator, err = newAllocator(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	// ギルドごとの上映時刻の上書きは毎回DBから読むため、serveとworkerの間で即時に反映される
	guildRepo := repository.NewSQLGuildRepo(db, dialect)
	c.guilds = guild.NewService(guildRepo, guildRepo, c.allocator, logger)

	// 3. メトリクス
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.collector = metrics.NewCollector(c.registry)

	// 4. メタデータ解決（Redisが設定されていればキャッシュを挟む）
	var resolver metadata.Resolver = tmdb.NewClient(
		&http.Client{Timeout: cfg.TMDBTimeout},
		logger,
		tmdb.ClientConfig{
			APIKey:        cfg.TMDBAPIKey,
			BaseURL:       cfg.TMDBBaseURL,
			RatePerSecond: cfg.TMDBRatePerSec,
		},
	)
	if cfg.RedisAddr != "" {
		rdb, err := metadata.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			// キャッシュなしで継続する
			slog.Warn("metadata cache disabled", slog.String("error", err.Error()))
		} else {
			c.closers = append(c.closers, rdb)
			resolver = metadata.NewCachedResolver(resolver, rdb, cfg.MetadataCacheTTL, logger)
		}
	}
	c.resolver = resolver

	// 5. 通知先
	c.guard = security.NewURLGuard()
	c.notifier, err = newNotifier(cfg, c.guard, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// newAllocator は設定の上映曜日・時刻・タイムゾーンからスロット計算器を生成する。
func newAllocator(cfg *config.Config) (*slot.Allocator, error) {
	loc, err := time.LoadLocation(cfg.EventTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid EVENT_TIMEZONE: %w", err)
	}
	event, err := slot.ParseEventTime(cfg.EventTime, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid EVENT_TIME: %w", err)
	}
	return slot.NewAllocator(event, cfg.ScheduleDisplayCap), nil
}

// newNotifier はログ出力と、設定されていればWebhookへの通知先を組み合わせる。
func newNotifier(cfg *config.Config, guard *security.URLGuard, logger *slog.Logger) (notify.Notifier, error) {
	sinks := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.WebhookURL != "" {
		if err := guard.ValidateURL(cfg.WebhookURL); err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_URL: %w", err)
		}
		sinks = append(sinks, notify.NewWebhookNotifier(guard.NewSafeClient(10*time.Second), cfg.WebhookURL, logger))
	}
	return sinks, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	logger := slog.Default()

	// 1. 解決エンジン（セッションはこのプロセスのメモリ上に保持する）
	sessions := resolution.NewRegistry(cfg.SessionTTL, logger, c.collector)
	go sessions.Run(ctx, sessionSweepInterval)

	engine := resolution.NewEngine(resolution.EngineDeps{
		Registry:  sessions,
		Resolver:  c.resolver,
		Store:     c.store,
		Slots:     c.guilds,
		Notifier:  c.notifier,
		Sanitizer: security.NewTextSanitizer(),
		Collector: c.collector,
		Logger:    logger,
		Config:    resolution.Config{ChoiceCap: cfg.ChoiceCap},
	})

	// 2. カレンダー・取り込み
	calendarService := calendar.NewService(c.store, c.guilds, logger)
	importService := importer.NewImporter(
		c.guard.NewSafeClient(cfg.ImportTimeout), c.guard, engine, logger,
		importer.Config{
			MaxTitles:   cfg.ImportMaxTitles,
			MaxBodySize: cfg.ImportMaxSize,
			Timeout:     cfg.ImportTimeout,
		},
	)

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSession),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		APIToken:        cfg.APIToken,
		RateLimiter:     rateLimiter,
		Logger:          logger,
		HealthChecker:   c.db,
		MetricsHandler:  metrics.Handler(c.registry),
		SessionService:  engine,
		CalendarService: calendarService,
		ImportService:   importService,
		GuildService:    c.guilds,
	})

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 上映リマインダーと視聴済みエントリの自動アーカイブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	logger := slog.Default()

	reminderJob := reminder.NewJob(
		c.store, c.resolver, c.notifier, c.guilds, c.collector, logger,
		reminder.Config{Lead: cfg.ReminderLead},
	)
	archiveJob := archive.NewJob(c.store, c.guilds, c.collector, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("reminder_interval", cfg.ReminderInterval),
		slog.Duration("reminder_lead", cfg.ReminderLead),
		slog.Duration("archive_interval", cfg.ArchiveInterval),
	)

	// 自動アーカイブをバックグラウンドで起動
	go archiveJob.Start(ctx, cfg.ArchiveInterval)

	// リマインダーをメインgoroutineで実行（ブロッキング）
	reminderJob.Start(ctx, cfg.ReminderInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", database.MaskURL(cfg.DatabaseURL)),
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
