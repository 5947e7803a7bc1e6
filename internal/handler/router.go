package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/labelman/internal/metrics"
	"github.com/hitoshi/labelman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// サービス
	WorkflowService WorkflowServiceInterface
	ReportService   ReportServiceInterface

	// /metrics と /healthz はミドルウェアチェーンの外に置く
	MetricsHandler http.Handler
	HealthHandler  http.HandlerFunc
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Identity → RateLimit(General)
//
// /metrics と /healthz は認証チェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))

	workflowHandler := NewWorkflowHandler(deps.WorkflowService)
	reportHandler := NewReportHandler(deps.ReportService)

	// --- 認証不要のルート ---

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	if deps.HealthHandler != nil {
		r.Get("/healthz", deps.HealthHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Identity → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// プロジェクト配下のワークフローとレポート
		r.Route("/api/projects/{projectID}", func(r chi.Router) {
			r.Get("/deck", workflowHandler.FetchDeck)

			r.Post("/session/enter", workflowHandler.EnterSession)
			r.Post("/session/leave", workflowHandler.LeaveSession)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/availability", workflowHandler.CheckAdminAvailability)
				r.Get("/table", reportHandler.AdminTable)
				r.Get("/counts", reportHandler.AdminCounts)
			})

			r.Get("/recycle", reportHandler.RecycleTable)
			r.Get("/history", reportHandler.History)
			r.Get("/distribution", reportHandler.Distribution)
			r.Get("/sensitive-enabled", reportHandler.SensitiveEnabled)
		})

		// アイテム操作
		r.Route("/api/items/{itemID}", func(r chi.Router) {
			// サブミットは送信専用レート制限を追加
			r.With(deps.RateLimiter.SubmitMiddleware()).Post("/label", workflowHandler.SubmitLabel)
			r.With(deps.RateLimiter.SubmitMiddleware()).Post("/skip", workflowHandler.SubmitSkip)

			r.Post("/modify-label", workflowHandler.ModifyLabel)
			r.Post("/modify-to-skip", workflowHandler.ModifyLabelToSkip)
			r.Post("/admin-label", workflowHandler.AdminLabel)
			r.Post("/discard", workflowHandler.Discard)
			r.Post("/restore", workflowHandler.Restore)
		})
	})

	return r
}
