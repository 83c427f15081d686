package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventometer/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	AdminFinder       middleware.AdminFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 候補者向けブッキング操作
	BookingService BookingServiceInterface
	BulkApplier    BulkApplier
	Candidates     CandidateResolver
	Applications   ApplicationFinder
	Events         EventLister
	Announcer      Announcer

	// 応募セッションフロー
	Sessions SessionStore

	// 管理者向け操作
	Admin *AdminHandler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Actor → RateLimit(General)
//
// 管理者ルート（/api/admin/*）はさらにAdminAuthMiddlewareを重ねる。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// 全ルートに効くミドルウェアを最上位に適用
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	bookingHandler := NewBookingHandler(deps.BookingService, deps.Candidates, deps.Applications, deps.Events, deps.Announcer)
	sessionHandler := NewSessionHandler(deps.Sessions, deps.BulkApplier, deps.Candidates)

	// --- 操作者特定が必要なルート ---
	// ミドルウェアスタック: Actor → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewActorMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// イベント照会
		r.Route("/api/events", func(r chi.Router) {
			r.Get("/", bookingHandler.ListOpenEvents)
			r.Get("/{id}/summary", bookingHandler.GetSummary)

			// POST /api/events/{id}/sessions - 応募セッション開始
			r.Post("/{id}/sessions", sessionHandler.Begin)
		})

		// 応募セッションフロー
		r.Route("/api/sessions/{id}", func(r chi.Router) {
			r.Post("/blocks", sessionHandler.ChooseBlocks)
			r.Post("/slots", sessionHandler.ChooseSlots)
			r.Post("/complete", sessionHandler.Complete)
			r.Delete("/", sessionHandler.Abort)
		})

		// 応募管理
		r.Route("/api/applications", func(r chi.Router) {
			// POST /api/applications - 応募作成（応募専用レート制限を追加）
			r.With(deps.RateLimiter.ApplicationMiddleware()).Post("/", bookingHandler.Apply)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/confirm", bookingHandler.Confirm)
				r.Post("/final-confirm", bookingHandler.FinalConfirm)
				r.Delete("/", bookingHandler.Revoke)
			})
		})

		// 自分の応募一覧
		r.Get("/api/me/applications", bookingHandler.MyApplications)

		// --- 管理者ルート ---
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.NewAdminAuthMiddleware(deps.AdminFinder))

			r.Route("/events", func(r chi.Router) {
				r.Post("/import", deps.Admin.ImportEvent)

				r.Route("/{id}", func(r chi.Router) {
					r.Post("/positions", deps.Admin.AddPosition)
					r.Put("/channel", deps.Admin.SetAnnounceChannel)
					r.Post("/open", deps.Admin.OpenBookings)
					r.Post("/close", deps.Admin.CloseBookings)
					r.Post("/announce", deps.Admin.Announce)
					r.Post("/reject-unselected", deps.Admin.RejectUnselected)
					r.Post("/remind", deps.Admin.SendReminders)
					r.Get("/backfill-candidates", deps.Admin.BackfillCandidates)
					r.Get("/failed-notifications", deps.Admin.ListFailedNotifications)
				})
			})

			r.Delete("/positions/{id}", deps.Admin.RemovePosition)

			r.Route("/applications/{id}", func(r chi.Router) {
				r.Post("/select", deps.Admin.Select)
				r.Post("/select-backfill", deps.Admin.SelectBackfill)
			})

			r.Route("/candidates/{cid}", func(r chi.Router) {
				r.Get("/", deps.Admin.GetCandidate)
				r.Put("/notes", deps.Admin.UpdateNotes)
				r.Post("/refresh-rating", deps.Admin.RefreshRating)
			})
		})
	})

	return r
}
