package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hollowpine/storefront-backend/api/controllers"
	webhookcontrollers "github.com/hollowpine/storefront-backend/api/controllers/webhooks"
	"github.com/hollowpine/storefront-backend/api/middleware"
	"github.com/hollowpine/storefront-backend/internal/cart"
	checkoutsvc "github.com/hollowpine/storefront-backend/internal/checkout"
	"github.com/hollowpine/storefront-backend/internal/orders"
	stripewebhooks "github.com/hollowpine/storefront-backend/internal/webhooks/stripe"
	"github.com/hollowpine/storefront-backend/pkg/auth/session"
	"github.com/hollowpine/storefront-backend/pkg/config"
	"github.com/hollowpine/storefront-backend/pkg/logger"
	"github.com/hollowpine/storefront-backend/pkg/redis"
	"github.com/hollowpine/storefront-backend/pkg/stripe"
)

// Deps carries everything the HTTP layer needs. cmd/api builds one after
// bootstrapping the backing services.
type Deps struct {
	Config          *config.Config
	Logger          *logger.Logger
	DB              controllers.Pinger
	Redis           *redis.Client
	Sessions        session.AccessSessionChecker
	CheckoutService checkoutsvc.Service
	CartService     cart.Service
	OrdersService   orders.Service
	StripeClient    *stripe.Client
	WebhookService  *stripewebhooks.Service
	WebhookGuard    *stripewebhooks.Guard
	MetricsHandler  http.Handler
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger
	idemStore := idempotencyStore(deps.Redis)
	limiter := limiterStore(deps.Redis)

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	trackPolicy := middleware.NewRateLimitPolicy(
		"track",
		cfg.TrackLimit.Window,
		cfg.TrackLimit.Limit,
		cfg.TrackLimit.Limit,
	)

	readiness := map[string]controllers.Pinger{}
	if deps.DB != nil {
		readiness["database"] = deps.DB
	}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.WebhookService, deps.StripeClient, deps.WebhookGuard, logg))
	})

	// Checkout serves guests and signed-in shoppers alike; a bearer token is
	// honored when present but never required.
	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, deps.Sessions, logg))
		r.Use(middleware.Idempotency(idemStore, logg))
		r.Post("/api/v1/checkout", controllers.Checkout(deps.CheckoutService, logg))
	})

	r.With(middleware.RateLimit(trackPolicy, limiter, logg)).
		Post("/api/v1/orders/track", controllers.OrdersTrack(deps.OrdersService, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartGet(deps.CartService, logg))
			r.Put("/items", controllers.CartSetItem(deps.CartService, logg))
			r.Delete("/items/{productID}", controllers.CartRemoveItem(deps.CartService, logg))
			r.Delete("/", controllers.CartClear(deps.CartService, logg))
			r.Post("/sync", controllers.CartSync(deps.CartService, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrdersList(deps.OrdersService, logg))
			r.Get("/{orderID}", controllers.OrderGet(deps.OrdersService, logg))
		})

		r.Route("/admin/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole("admin", logg))
			r.Post("/{orderID}/ship", controllers.AdminOrderShip(deps.OrdersService, logg))
			r.Post("/{orderID}/deliver", controllers.AdminOrderDeliver(deps.OrdersService, logg))
			r.Post("/{orderID}/refund", controllers.AdminOrderRefund(deps.OrdersService, logg))
			r.Post("/{orderID}/cancel", controllers.AdminOrderCancel(deps.OrdersService, logg))
		})
	})

	return r
}

// The middleware packages take interfaces; handing them a nil *redis.Client
// directly would produce a non-nil interface wrapping a nil pointer.
func idempotencyStore(c *redis.Client) redis.IdempotencyStore {
	if c == nil {
		return nil
	}
	return c
}

func limiterStore(c *redis.Client) middleware.RateLimiterStore {
	if c == nil {
		return nil
	}
	return c
}
