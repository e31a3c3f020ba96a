package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/atelier-backend/api/controllers"
	"github.com/angelmondragon/atelier-backend/api/middleware"
	"github.com/angelmondragon/atelier-backend/internal/allocation"
	"github.com/angelmondragon/atelier-backend/internal/batches"
	"github.com/angelmondragon/atelier-backend/internal/costing"
	"github.com/angelmondragon/atelier-backend/internal/inventorystats"
	"github.com/angelmondragon/atelier-backend/pkg/config"
	"github.com/angelmondragon/atelier-backend/pkg/db"
	"github.com/angelmondragon/atelier-backend/pkg/logger"
	"github.com/angelmondragon/atelier-backend/pkg/metrics"
	"github.com/angelmondragon/atelier-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               db.Pinger
	Redis            redis.Pinger
	IdempotencyStore redis.IdempotencyStore
	Gatherer         prometheus.Gatherer
	HTTPMetrics      *metrics.HTTPMetrics

	Batches    batches.Service
	Planner    allocation.Planner
	Costing    costing.Service
	Statistics inventorystats.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Mounted inline so the middleware sees the fully matched route pattern.
	idempotent := func(next http.Handler) http.Handler { return next }
	if deps.IdempotencyStore != nil {
		idempotent = middleware.Idempotency(deps.IdempotencyStore, logg)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/inventory", func(r chi.Router) {
			r.With(idempotent).Post("/purchases", controllers.InventoryRecordPurchase(deps.Batches, logg))
			r.Get("/purchases", controllers.InventoryListPurchases(deps.Batches, logg))
			r.Get("/purchases/{batchId}", controllers.InventoryGetPurchase(deps.Batches, logg))
			r.Post("/allocate-preview", controllers.InventoryAllocatePreview(deps.Planner, logg))
			r.With(idempotent).Post("/usage", controllers.InventoryRecordUsage(deps.Costing, logg))
			r.Get("/usage", controllers.InventoryListUsage(deps.Costing, logg))
			r.Get("/statistics", controllers.InventoryStatistics(deps.Statistics, logg))
		})

		r.Route("/pricing", func(r chi.Router) {
			r.Post("/breakdown", controllers.PricingBreakdown(cfg, logg))
			r.Post("/quote", controllers.PricingQuote(deps.Costing, logg))
		})
	})

	return r
}
