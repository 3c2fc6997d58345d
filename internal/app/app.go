// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/authgate/internal/config"
	"github.com/hitoshi/authgate/internal/database"
	"github.com/hitoshi/authgate/internal/gateway"
	"github.com/hitoshi/authgate/internal/handler"
	"github.com/hitoshi/authgate/internal/logger"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/provider"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/telemetry"
)

const (
	serviceName = "authgate"

	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout = 30 * time.Second

	// defaultWriteTimeout はHTTPレスポンス書き込みの最短タイムアウト。
	defaultWriteTimeout = 15 * time.Second
	// writeTimeoutMargin はIdP呼び出し後の監査レコード保存とレスポンス書き込みに残す時間。
	writeTimeoutMargin = 5 * time.Second

	// defaultSeedSubject はseedサブコマンドでsubject未指定時に使うユーザー名。
	defaultSeedSubject = "test_user"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ったJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, nil)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを再構成する
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.SetupDefault(w, level)

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
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("port", cfg.ServerPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeed:
		subject := defaultSeedSubject
		if len(args) > 1 && args[1] != "" {
			subject = args[1]
		}
		return runSeed(ctx, cfg, subject)
	default:
		return runServe(ctx, cfg)
	}
}

// openAuditStore はドライバ設定に応じた監査ストアを開く。
// 返されたストアは呼び出し元がCloseすること。
func openAuditStore(ctx context.Context, cfg *config.Config) (repository.AuditStore, error) {
	var store repository.AuditStore

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store = repository.NewPostgresAuditRepo(db, nil)
	case config.StoreDriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = repository.NewSQLiteAuditRepo(db, nil)
	case config.StoreDriverRedis:
		rdb, err := database.OpenRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		store = repository.NewRedisAuditRepo(rdb, cfg.RedisKeyPrefix, nil)
	case config.StoreDriverMemory:
		slog.Warn("using in-memory audit store; login history is lost on restart")
		store = repository.NewMemoryAuditRepo(nil)
	default:
		return nil, fmt.Errorf("unsupported audit store driver: %q", cfg.StoreDriver)
	}

	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to audit store: %w", err)
	}

	slog.Info("audit store connection established", slog.String("driver", cfg.StoreDriver))
	return store, nil
}

// newServer は全依存関係をワイヤリングしたHTTPサーバーを構築する。
func newServer(cfg *config.Config, store repository.AuditStore) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	idp := provider.NewClient(provider.Config{
		BaseURL:         cfg.ProviderBaseURL,
		Timeout:         cfg.ProviderTimeout,
		TokenTTLMinutes: cfg.ProviderTokenTTLMinutes,
	})
	svc := gateway.NewService(idp, store, collector, slog.Default())

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Metrics:           collector,
		Gatherer:          reg,
		HealthChecker:     store,
		AuthService:       svc,
		AuthConfig: handler.AuthHandlerConfig{
			AccessTokenCookie: cfg.AccessTokenCookie,
		},
	})

	return &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: serverWriteTimeout(cfg.ProviderTimeout),
		IdleTimeout:  60 * time.Second,
	}
}

// serverWriteTimeout はIdPのタイムアウトより長い書き込みタイムアウトを返す。
// IdP呼び出しが成功して監査レコードを保存した後にレスポンスを書けなくなることを防ぐ。
func serverWriteTimeout(providerTimeout time.Duration) time.Duration {
	return max(defaultWriteTimeout, providerTimeout+writeTimeoutMargin)
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, serviceName, telemetry.Config{
		Endpoint: cfg.OTelEndpoint,
		Enabled:  cfg.OTelEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	store, err := openAuditStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	server := newServer(cfg, store)
	return serve(ctx, server)
}

// serve はサーバーを起動し、ctxのキャンセルでシャットダウンする。
// ListenAndServeが失敗した場合はそのエラーを返す。
func serve(ctx context.Context, server *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate は監査ストアのマイグレーションを実行する。
// RedisとメモリストアはスキーマをもたないためPostgreSQL/SQLiteのみが対象。
func runMigrate(cfg *config.Config) error {
	var dialect database.Dialect
	var target string

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		dialect, target = database.DialectPostgres, cfg.DatabaseURL
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
	case config.StoreDriverSQLite:
		dialect, target = database.DialectSQLite, cfg.SQLitePath
		slog.Info("running database migrations", slog.String("sqlite_path", cfg.SQLitePath))
	default:
		slog.Info("audit store has no schema to migrate", slog.String("driver", cfg.StoreDriver))
		return nil
	}

	if err := database.RunMigrations(dialect, target); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed は監査ストアに確認用のログイン履歴を1件書き込む。
// IdPを経由せずにストアへの書き込み経路を確認するために使う。
func runSeed(ctx context.Context, cfg *config.Config, subject string) error {
	store, err := openAuditStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := gateway.NewService(nil, store, nil, slog.Default())

	rec, err := svc.RecordLogin(ctx, subject, "seed-access-"+uuid.NewString(), "seed-refresh-"+uuid.NewString())
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	slog.Info("seed login log saved",
		slog.String("id", rec.ID),
		slog.String("username", rec.Subject),
		slog.Time("login_time", rec.CreatedAt),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報とクエリを伏せる。
// パースできない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	userinfo := ""
	if u.User != nil {
		userinfo = "***@"
	}
	return u.Scheme + "://" + userinfo + u.Host + u.EscapedPath()
}
