package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/customervoice/internal/ingest"
	"github.com/hitoshi/customervoice/internal/metrics"
	"github.com/hitoshi/customervoice/internal/middleware"
)

// Workspaces はルーターが必要とするワークスペース管理。*dashboard.Registry が実装する。
type Workspaces interface {
	WorkspaceProvider
	middleware.AuthChecker
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger     *slog.Logger
	Workspaces Workspaces

	// Metrics はnil可。MetricsHandlerがnilの場合は /metrics を公開しない。
	Metrics        *metrics.Collector
	MetricsHandler http.Handler

	// ミドルウェア依存
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	Cookie            middleware.CookieConfig

	// 取り込み
	Sources         []ingest.Source
	ImporterOptions ingest.ImporterOptions
}

// NewRouter はダッシュボードサーバーの全エンドポイントを構成したchi.Routerを返す。
//
// ミドルウェアの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//	→ Workspace → CSRF → RateLimit(General) → RequireAuth（/api/* のみ）
//
// /health と /metrics はワークスペースを作らない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var observer middleware.StatusObserver
	var recorder IngestRecorder
	if deps.Metrics != nil {
		observer = deps.Metrics
		recorder = deps.Metrics
	}
	csrf := middleware.CSRFConfig{Cookie: deps.Cookie, Logger: logger}

	authHandler := NewAuthHandler(deps.Workspaces)
	insightsHandler := NewInsightsHandler(deps.Workspaces)
	competitorHandler := NewCompetitorHandler(deps.Workspaces)
	digestHandler := NewDigestHandler(deps.Workspaces, logger)
	prefsHandler := NewPreferencesHandler(deps.Workspaces)
	reviewHandler := NewReviewHandler(deps.Workspaces, recorder)
	sourceHandler := NewSourceHandler(deps.Workspaces, deps.Sources, deps.ImporterOptions, recorder)

	r := chi.NewRouter()
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, observer))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewWorkspaceMiddleware(deps.Cookie))
		r.Use(middleware.NewCSRFMiddleware(csrf))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(csrf))

		// 認証（未ログインでも利用可）
		r.Route("/auth", func(r chi.Router) {
			r.With(deps.RateLimiter.WriteMiddleware()).Post("/login", authHandler.Login)
			r.With(deps.RateLimiter.WriteMiddleware()).Post("/register", authHandler.Register)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})

		// --- ログインが必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireAuthMiddleware(deps.Workspaces))

			r.Get("/api/insights", insightsHandler.List)
			r.Get("/api/insights/current", insightsHandler.Current)

			r.Route("/api/competitors", func(r chi.Router) {
				r.Get("/", competitorHandler.List)
				r.Post("/", competitorHandler.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", competitorHandler.Get)
					r.Patch("/", competitorHandler.Update)
					r.Delete("/", competitorHandler.Delete)
					r.Get("/comparison", competitorHandler.Comparison)
				})
			})

			r.Post("/api/digest/preview", digestHandler.Preview)

			r.Get("/api/preferences", prefsHandler.Get)
			r.Put("/api/preferences", prefsHandler.Update)

			r.Route("/api/reviews", func(r chi.Router) {
				r.Use(deps.RateLimiter.WriteMiddleware())
				r.Post("/ingest", reviewHandler.Ingest)
				r.Post("/analyze", reviewHandler.Analyze)
			})

			r.Get("/api/sources", sourceHandler.List)
			r.With(deps.RateLimiter.WriteMiddleware()).Post("/api/sources/import", sourceHandler.Import)
		})
	})

	return r
}
