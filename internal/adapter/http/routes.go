package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/ReviewForge/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. Mutating
// routes pass through replay, which may be nil.
func MountRoutes(r chi.Router, h *Handlers, replay func(http.Handler) http.Handler) {
	if replay == nil {
		replay = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireReviewer)

		// Review actions
		r.With(replay).Post("/actions", h.AppendAction)

		// Documents and consensus
		r.Get("/documents", h.ListDocuments)
		r.Get("/documents/{doc}", h.GetDocument)
		r.Get("/documents/{doc}/lifecycles", h.DocumentSummary)
		r.Get("/documents/{doc}/lifecycles/{key}", h.AssertionSummary)
		r.Get("/documents/{doc}/final", h.FinalDecisions)
		r.Get("/conflicts/overview", h.ConflictOverview)
		r.Get("/export/final", h.ExportFinal)
		r.Get("/reviewers/{actor}/stats", h.ReviewerStats)

		// Assignments
		r.With(replay).Post("/assignments", h.Assign)
		r.Post("/assignments/heartbeat", h.Heartbeat)
		r.Get("/assignments/current", h.CurrentAssignment)
		r.Delete("/assignments/{doc}", h.Release)
		r.Get("/locks/{doc}", h.DocumentHolders)

		// Arbitration
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/arbitration/queue", h.ArbitrationQueue)
			r.With(replay).Post("/arbitration/decide", h.Decide)
			r.With(replay).Post("/arbitration/undo", h.Undo)
			r.Get("/arbitration/history", h.ArbitrationHistory)
			r.Get("/locks", h.LockSnapshot)
		})
	})
}
