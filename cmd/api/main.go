package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hollowpine/storefront-backend/api/routes"
	"github.com/hollowpine/storefront-backend/internal/cart"
	"github.com/hollowpine/storefront-backend/internal/catalog"
	checkoutsvc "github.com/hollowpine/storefront-backend/internal/checkout"
	"github.com/hollowpine/storefront-backend/internal/orders"
	"github.com/hollowpine/storefront-backend/internal/shipping"
	"github.com/hollowpine/storefront-backend/internal/users"
	stripewebhooks "github.com/hollowpine/storefront-backend/internal/webhooks/stripe"
	"github.com/hollowpine/storefront-backend/pkg/auth/session"
	"github.com/hollowpine/storefront-backend/pkg/config"
	"github.com/hollowpine/storefront-backend/pkg/db"
	"github.com/hollowpine/storefront-backend/pkg/logger"
	"github.com/hollowpine/storefront-backend/pkg/metrics"
	"github.com/hollowpine/storefront-backend/pkg/migrate"
	"github.com/hollowpine/storefront-backend/pkg/redis"
	"github.com/hollowpine/storefront-backend/pkg/shippo"
	"github.com/hollowpine/storefront-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sessions, err := session.NewManager(redisClient, time.Duration(cfg.JWT.ExpirationMinutes)*time.Minute)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}

	shippoOpts := []shippo.Option{}
	if cfg.Shippo.BaseURL != "" {
		shippoOpts = append(shippoOpts, shippo.WithBaseURL(cfg.Shippo.BaseURL))
	}
	shippoClient, err := shippo.NewClient(cfg.Shippo.APIKey, shippoOpts...)
	if err != nil {
		logg.Error(context.Background(), "failed to create shippo client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	fulfillmentMetrics := metrics.NewFulfillmentMetrics(registry)

	catalogRepo := catalog.NewRepository(dbClient.DB())
	cartRepo := cart.NewRepository(dbClient.DB())
	orderRepo := orders.NewRepository(dbClient.DB())
	userRepo := users.NewRepository(dbClient.DB())

	broker, err := shipping.NewBroker(shippoClient, cfg.Shippo, logg, fulfillmentMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create shipping broker", err)
		os.Exit(1)
	}

	cartService, err := cart.NewService(cartRepo, catalogRepo, dbClient, logg, cfg.Checkout)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(
		catalogRepo, cartRepo, orderRepo, dbClient, stripeClient,
		cfg.Checkout, logg, fulfillmentMetrics,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orderRepo, broker, stripeClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhooks.NewService(orderRepo, cartRepo, userRepo, dbClient, logg, fulfillmentMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhooks.NewGuard(redisClient, cfg.Webhook.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(routes.Deps{
		Config:          cfg,
		Logger:          logg,
		DB:              dbClient,
		Redis:           redisClient,
		Sessions:        sessions,
		CheckoutService: checkoutService,
		CartService:     cartService,
		OrdersService:   ordersService,
		StripeClient:    stripeClient,
		WebhookService:  webhookService,
		WebhookGuard:    webhookGuard,
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
