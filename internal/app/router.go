package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"aepblueprint/internal/app/apiresp"
	"aepblueprint/internal/app/observability"
	"aepblueprint/internal/auth"
	"aepblueprint/internal/export"
	"aepblueprint/internal/outline"
	"aepblueprint/internal/realtime"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers are the HTTP surfaces mounted by NewRouter. Metrics may be nil.
type Handlers struct {
	DB      *sql.DB
	Auth    *auth.Handler
	Outline *outline.Handler
	Export  *export.Handler
	Events  *realtime.Handler
	Metrics *observability.Collector
}

func NewRouter(cfg Config, h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
		r.Get("/metrics", h.Metrics.MetricsHandler)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if h.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := h.DB.PingContext(ctx); err != nil {
				apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	authLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))
		api.Get("/csrf", CSRFTokenHandler(cfg.IsProduction()))

		api.Group(func(public chi.Router) {
			public.Use(RateLimitMiddleware(authLimiter))
			public.Post("/auth/login", h.Auth.Login)
			public.Post("/auth/callback", h.Auth.Callback)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(h.Auth.RequireAuth)
			secure.Use(observability.TrackUser)
			secure.Get("/auth/me", h.Auth.Me)
			secure.Post("/auth/logout", h.Auth.Logout)

			secure.Get("/sections", h.Outline.ListSections)
			secure.Get("/sections/{id}", h.Outline.GetSection)
			secure.Get("/sections/{id}/progress", h.Outline.SectionProgress)
			secure.Get("/sections/{id}/questions", h.Outline.ListQuestions)
			secure.Get("/questions/{id}/answer", h.Outline.GetAnswer)
			secure.Get("/questions/{id}/answer/history", h.Outline.AnswerHistory)
			secure.Get("/progress", h.Outline.DocumentProgress)
			secure.Get("/events", h.Events.Events)

			secure.Group(func(editor chi.Router) {
				editor.Use(auth.RequireRoles(auth.RoleAdmin, auth.RoleEditor))
				editor.Put("/questions/{id}/answer", h.Outline.UpsertAnswer)
				editor.Patch("/questions/{id}/answer/status", h.Outline.SetAnswerStatus)
				editor.Delete("/questions/{id}/answer", h.Outline.DeleteAnswer)
			})

			secure.Group(func(admin chi.Router) {
				admin.Use(auth.RequireRoles(auth.RoleAdmin))
				admin.Post("/sections", h.Outline.CreateSection)
				admin.Post("/sections/reorder", h.Outline.ReorderSections)
				admin.Put("/sections/order", h.Outline.ApplySectionOrder)
				admin.Post("/sections/order/repair", h.Outline.RepairSectionOrder)
				admin.Patch("/sections/{id}", h.Outline.UpdateSection)
				admin.Delete("/sections/{id}", h.Outline.DeleteSection)
				admin.Post("/sections/{id}/questions", h.Outline.CreateQuestion)
				admin.Post("/sections/{id}/questions/reorder", h.Outline.ReorderQuestions)
				admin.Put("/sections/{id}/questions/order", h.Outline.ApplyQuestionOrder)
				admin.Post("/sections/{id}/questions/order/repair", h.Outline.RepairQuestionOrder)
				admin.Patch("/questions/{id}", h.Outline.UpdateQuestion)
				admin.Delete("/questions/{id}", h.Outline.DeleteQuestion)

				admin.Get("/export", h.Export.Export)
				admin.Get("/outline/template", h.Outline.ExportTemplate)
				admin.Post("/outline/import", h.Outline.ImportOutline)

				admin.Get("/admin/users", h.Auth.ListUsers)
				admin.Put("/admin/users/{id}/role", h.Auth.UpdateUserRole)
				admin.Get("/admin/users/export", h.Auth.ExportUsers)
				admin.Post("/admin/users/import", h.Auth.ImportUsers)
			})
		})
	})

	return r
}
