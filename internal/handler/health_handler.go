package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthChecker は依存先の疎通確認インターフェース。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// healthTimeout はヘルスチェック1回あたりのタイムアウト。
const healthTimeout = 3 * time.Second

// NewHealthHandler は監査ストアの疎通を確認するハンドラーを返す。
// GET /health
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := checker.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
