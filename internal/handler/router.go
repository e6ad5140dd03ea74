package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/cashdrawer/internal/metrics"
	custommiddleware "github.com/mmeshcher/cashdrawer/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса кассовых смен.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/shifts/current", h.GetCurrentShift)

		r.Route("/drawer", func(r chi.Router) {
			r.Get("/state", h.GetDrawerState)
			r.Get("/snapshot", h.GetSnapshot)
			r.Post("/refresh", h.Refresh)
			r.Post("/open", h.OpenDrawer)
			r.Post("/close", h.CloseDrawer)
			r.Get("/prefill", h.GetPrefill)
			r.Get("/history", h.GetHistory)
		})

		r.Get("/sales/summary", h.GetSalesSummary)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
