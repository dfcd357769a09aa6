package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/movienight/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	APIToken    string
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler // nilの場合は /metrics を公開しない

	// ドメイン
	SessionService  SessionServiceInterface
	CalendarService CalendarServiceInterface
	ImportService   ImportServiceInterface
	GuildService    GuildServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → Caller → RateLimit(General)
//
// /health と /metrics は呼び出し元の認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	sessionHandler := NewSessionHandler(deps.SessionService)
	scheduleHandler := NewScheduleHandler(deps.CalendarService)
	importHandler := NewImportHandler(deps.ImportService)
	guildHandler := NewGuildHandler(deps.GuildService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Caller → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCallerMiddleware(deps.APIToken))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/guilds/{guildID}", func(r chi.Router) {
			// 解決セッションを開始する操作は専用レート制限を追加
			r.With(deps.RateLimiter.SessionMiddleware()).Post("/sessions", sessionHandler.StartSession)
			r.With(deps.RateLimiter.SessionMiddleware()).Post("/imports", importHandler.Import)

			r.Get("/schedule", scheduleHandler.GetSchedule)

			r.Get("/settings", guildHandler.GetSettings)
			r.Put("/settings", guildHandler.PutSettings)

			r.Get("/rsvps", guildHandler.GetRoster)
			r.Post("/rsvps", guildHandler.AddRSVP)
			r.Delete("/rsvps", guildHandler.RemoveRSVP)
			r.Post("/attendance", guildHandler.MarkAttended)

			r.Route("/entries", func(r chi.Router) {
				r.Get("/", scheduleHandler.ListEntries)

				r.Route("/{id}", func(r chi.Router) {
					r.Delete("/", scheduleHandler.DeleteEntry)
					r.Post("/archive", scheduleHandler.ArchiveEntry)
					r.Put("/date", scheduleHandler.RescheduleEntry)
				})
			})
		})

		r.Post("/api/choices/{token}", sessionHandler.Choose)
	})

	return r
}
