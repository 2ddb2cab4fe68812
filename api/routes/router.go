package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/circulum-backend/api/controllers"
	"github.com/angelmondragon/circulum-backend/api/middleware"
	"github.com/angelmondragon/circulum-backend/pkg/config"
	"github.com/angelmondragon/circulum-backend/pkg/logger"
	"github.com/angelmondragon/circulum-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/circulum-backend/pkg/redis"
)

// Dependencies carries everything the router wires into handlers.
type Dependencies struct {
	Config        *config.Config
	Logger        *logger.Logger
	Redis         *pkgredis.Client
	Readiness     map[string]controllers.Pinger
	Accounts      controllers.AccountsService
	Plans         controllers.PlansService
	Subscriptions controllers.SubscriptionsService
	Events        controllers.EventsService
	Metrics       *metrics.OperationMetrics
	Registry      prometheus.Gatherer
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.Metrics),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	collectPolicy := middleware.NewRateLimitPolicy("collect", time.Minute, 0, 60)

	// A typed nil inside the middleware interfaces would defeat their
	// nil checks, so only hand Redis over when it is actually wired.
	var idempotencyStore pkgredis.IdempotencyStore
	var limiterStore middleware.LimiterStore
	if deps.Redis != nil {
		idempotencyStore = deps.Redis
		limiterStore = deps.Redis
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", controllers.AccountCreate(deps.Accounts, logg))
			r.Get("/", controllers.AccountList(deps.Accounts, logg))
			r.Get("/{accountID}", controllers.AccountDetail(deps.Accounts, logg))
			r.Post("/{accountID}/deposit", controllers.AccountDeposit(deps.Accounts, logg))
		})

		r.Route("/plans", func(r chi.Router) {
			r.Post("/", controllers.PlanCreate(deps.Plans, logg))
			r.Get("/", controllers.PlanList(deps.Plans, logg))
			r.Route("/{planAddress}", func(r chi.Router) {
				r.Get("/", controllers.PlanDetail(deps.Plans, logg))
				r.Patch("/", controllers.PlanUpdate(deps.Plans, logg))
				r.Post("/pause", controllers.PlanPause(deps.Plans, logg))
				r.Post("/unpause", controllers.PlanUnpause(deps.Plans, logg))
				r.Post("/deactivate", controllers.PlanDeactivate(deps.Plans, logg))
				r.Post("/subscriptions", controllers.SubscriptionCreate(deps.Subscriptions, logg))
			})
		})

		r.Route("/subscriptions/{planAddress}", func(r chi.Router) {
			r.Get("/", controllers.SubscriptionDetail(deps.Subscriptions, logg))
			r.With(middleware.RateLimit(collectPolicy, limiterStore, logg)).
				Post("/collect", controllers.SubscriptionCollect(deps.Subscriptions, logg))
			r.Post("/cancel", controllers.SubscriptionCancel(deps.Subscriptions, logg))
			r.Delete("/", controllers.SubscriptionClose(deps.Subscriptions, logg))
		})

		r.Get("/events", controllers.EventList(deps.Events, logg))
	})

	return r
}
