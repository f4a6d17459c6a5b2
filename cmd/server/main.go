package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ucp/merchant/internal/application/checkout"
	eventapp "github.com/ucp/merchant/internal/application/event"
	settlementapp "github.com/ucp/merchant/internal/application/settlement"
	"github.com/ucp/merchant/internal/domain/settlement"
	"github.com/ucp/merchant/internal/infrastructure/catalog"
	"github.com/ucp/merchant/internal/infrastructure/config"
	"github.com/ucp/merchant/internal/infrastructure/event"
	"github.com/ucp/merchant/internal/infrastructure/fulfillment"
	"github.com/ucp/merchant/internal/infrastructure/ledger"
	"github.com/ucp/merchant/internal/infrastructure/logger"
	"github.com/ucp/merchant/internal/infrastructure/telemetry"
	"github.com/ucp/merchant/internal/interfaces/http/handler"
	"github.com/ucp/merchant/internal/interfaces/http/middleware"
	"github.com/ucp/merchant/internal/interfaces/http/router"
	"github.com/ucp/merchant/internal/interfaces/http/schema"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, cfg.App.Name)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync(log)

	log.Info("Starting UCP merchant",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	metrics, err := telemetry.NewCheckoutMetrics(mp.Meter(telemetry.TracerName))
	if err != nil {
		log.Fatal("Failed to create checkout metrics", zap.Error(err))
	}

	// Stores
	stores, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open stores", zap.Error(err))
	}
	defer stores.Close()

	// Ledger and settlement
	gateway, err := ledger.NewGateway(&cfg.Ledger, log)
	if err != nil {
		log.Fatal("Failed to create ledger gateway", zap.Error(err))
	}
	merchant, err := settlement.ParseAccountID(cfg.Ledger.MerchantAccountID)
	if err != nil {
		log.Fatal("Invalid merchant account", zap.Error(err))
	}
	settler, err := settlementapp.NewService(settlementapp.Config{
		Gateway:     gateway,
		Merchant:    merchant,
		RequireMemo: cfg.Settlement.RequireMemo,
		Metrics:     metrics,
		Logger:      log.Named("settlement"),
	})
	if err != nil {
		log.Fatal("Failed to create settlement service", zap.Error(err))
	}
	log.Info("Ledger settlement ready",
		zap.String("network", gateway.Network().String()),
		zap.String("merchant_account", merchant.String()),
	)

	// Domain events
	bus := event.NewInMemoryEventBus(log.Named("events"), event.WithAsyncDelivery(4))
	observer := eventapp.NewSessionObserver(log.Named("sessions"))
	bus.Subscribe(observer, observer.EventTypes()...)
	if err := bus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Checkout
	discovery := checkout.NewDiscoveryService(cfg.App.BaseURL, merchant, gateway.Network())
	svc, err := checkout.NewService(checkout.ServiceConfig{
		Repository:  stores.Sessions,
		Locker:      stores.Locker,
		Idempotency: stores.Idempotency,
		Catalog:     catalog.NewStaticCatalog(),
		Fulfillment: fulfillment.NewStaticProvider(),
		Discovery:   discovery,
		Discounts:   discountTable(cfg.Checkout.Discounts),
		Settler:     settler,
		Events:      bus,
		Metrics:     metrics,
		Logger:      log.Named("checkout"),
		Options: checkout.Options{
			SessionTTL:            cfg.Checkout.SessionTTL,
			ReadWait:              cfg.Checkout.ReadWait,
			CompleteTimeout:       cfg.Checkout.CompleteTimeout,
			SettlementGrace:       cfg.Checkout.SettlementGrace,
			CommitTimeout:         cfg.Checkout.CommitTimeout,
			CommitRetries:         cfg.Checkout.CommitRetries,
			PermalinkBase:         cfg.Checkout.PermalinkBase,
			BaseUnitsPerMinorUnit: cfg.Settlement.BaseUnitsPerMinorUnit,
			IdempotencyTTL:        cfg.Idempotency.TTL,
		},
	})
	if err != nil {
		log.Fatal("Failed to create checkout service", zap.Error(err))
	}

	// Background sweeper
	sched, err := newSweepScheduler(cfg, stores, metrics, log)
	if err != nil {
		log.Fatal("Failed to create session sweeper", zap.Error(err))
	}
	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			log.Fatal("Failed to start session sweeper", zap.Error(err))
		}
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()
	registry, err := schema.NewRegistry()
	if err != nil {
		log.Fatal("Failed to compile request schemas", zap.Error(err))
	}
	engine, err := router.NewEngine(router.EngineConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.Enabled,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		CORS: middleware.CORSConfig{
			AllowOrigins: cfg.HTTP.CORSAllowOrigins,
			AllowMethods: cfg.HTTP.CORSAllowMethods,
			AllowHeaders: cfg.HTTP.CORSAllowHeaders,
			MaxAge:       middleware.DefaultCORSConfig().MaxAge,
		},
		TrustedProxies: cfg.HTTP.TrustedProxies,
	}, log)
	if err != nil {
		log.Fatal("Failed to create HTTP engine", zap.Error(err))
	}

	health := handler.NewHealthHandler(cfg.App.Name, append(stores.HealthChecks(),
		handler.WithVersion(version),
		handler.WithNetwork(gateway.Network().String()),
	)...)
	router.NewRouter(engine).
		Register(health).
		Register(handler.NewDiscoveryHandler(discovery)).
		Register(handler.NewCheckoutHandler(svc, registry)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			log.Error("Server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Warn("Session sweeper did not stop", zap.Error(err))
		}
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Warn("Event bus did not drain", zap.Error(err))
	}
	if err := mp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Meter provider shutdown failed", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracer provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited")
}
