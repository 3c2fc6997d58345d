package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	Metrics           metrics.MetricsCollector
	Gatherer          prometheus.Gatherer

	// ヘルスチェック
	HealthChecker HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS
//
// /health と /metrics はCORSの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))

	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

		r.Post("/login", authHandler.Login)
		r.Get("/me", authHandler.Me)
		r.Get("/users", authHandler.Users)
		r.Get("/login-history/{username}", authHandler.LoginHistory)
		r.Get("/login-logs", authHandler.LoginLogs)
	})

	return r
}
