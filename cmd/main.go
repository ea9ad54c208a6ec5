package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"policy-billing-engine/internal/adapters/auth/opa"
	httphandler "policy-billing-engine/internal/adapters/http"
	"policy-billing-engine/internal/adapters/messaging/kafka"
	"policy-billing-engine/internal/adapters/messaging/mock"
	"policy-billing-engine/internal/adapters/storage/boltdb"
	"policy-billing-engine/internal/adapters/storage/memory"
	"policy-billing-engine/internal/adapters/storage/postgres"
	"policy-billing-engine/internal/adapters/storage/redis"
	"policy-billing-engine/internal/antifraud"
	"policy-billing-engine/internal/app"
	"policy-billing-engine/internal/auth"
	"policy-billing-engine/internal/clock"
	"policy-billing-engine/internal/config"
	"policy-billing-engine/internal/core/ports"
	"policy-billing-engine/internal/ledger"
	"policy-billing-engine/internal/observability"
	"policy-billing-engine/internal/settlement"
	"policy-billing-engine/internal/vault"
)

const serviceName = "billing-engine"

type repository interface {
	ports.LedgerRepository
	ports.PaymentMethodRepository
}

func main() {
	// --- 1. Configuration and Logging ---
	fallbackLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fallbackLogger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg.App.Env)
	logger.Info("Application starting", "env", cfg.App.Env, "port", cfg.Server.Port)

	// --- 2. Validate critical config ---
	jwtSecret := cfg.JWT.JWTSecret
	if jwtSecret == "" && cfg.OIDC.URL == "" {
		logger.Error("JWT_SECRET is not set and no OIDC provider is configured")
		os.Exit(1)
	}
	policy, err := antifraud.NewPolicy(cfg.AntiFraud.BlockOnSeverity)
	if err != nil {
		logger.Error("Invalid fraud policy", "error", err)
		os.Exit(1)
	}

	// --- 3. Observability ---
	shutdownTracer, err := observability.InitTracer(cfg.Jaeger.Port, serviceName)
	if err != nil {
		logger.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("Failed to shutdown tracer", "error", err)
		}
	}()

	// --- 4. Dependencies ---
	ctx := context.Background()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer closeRepo()
	logger.Info("Storage ready", "driver", cfg.Storage.Driver)

	var gateway ports.SettlementGateway
	switch cfg.Settlement.Driver {
	case "http":
		gateway = settlement.NewHTTPGateway(cfg.Settlement.URL)
	default:
		gateway = settlement.NewStub(nil)
	}

	var broker ports.MessageBroker
	if cfg.Kafka.Enabled {
		kb, err := kafka.NewBroker(strings.Split(cfg.Kafka.BootstrapServers, ","), cfg.Kafka.Topic, cfg.Kafka.AlertsTopic, logger)
		if err != nil {
			logger.Error("Failed to create Kafka broker", "error", err)
			os.Exit(1)
		}
		defer kb.Close()
		broker = kb
		logger.Info("Kafka broker created")
	} else {
		mb := mock.NewBroker(logger)
		defer mb.Close()
		broker = mb
	}

	// --- 5. Service Layer ---
	clk := clock.Real{}
	billingService := app.NewBillingService(app.Deps{
		Vault:      vault.New(repo, clk, logger),
		Ledger:     ledger.NewStore(repo, logger, ledger.WithLockTimeout(cfg.Billing.LockTimeout())),
		Detector:   antifraud.NewDetector(cfg.AntiFraud),
		Policy:     policy,
		Settlement: settlement.NewClient(gateway, cfg.Settlement, logger),
		Broker:     broker,
		Clock:      clk,
		Limits:     cfg.Billing,
		Logger:     logger,
	})
	billingHandler := httphandler.NewBillingHandler(billingService, logger)

	var oauthServer interface {
		HandleTokenRequest(w http.ResponseWriter, r *http.Request) error
	}
	if jwtSecret != "" {
		srv, err := auth.NewAuthorizationServer(jwtSecret, cfg.OAuth.Clients, logger)
		if err != nil {
			logger.Error("Failed to create OAuth server", "error", err)
			os.Exit(1)
		}
		oauthServer = srv
	}

	authenticate := httphandler.JWTMiddleware([]byte(jwtSecret), logger)
	if cfg.OIDC.URL != "" {
		oidcAuth, err := httphandler.NewOIDCAuthenticator(ctx, cfg.OIDC.URL, cfg.OIDC.ClientID, logger)
		if err != nil {
			logger.Error("Failed to create OIDC authenticator", "error", err)
			os.Exit(1)
		}
		authenticate = oidcAuth.Middleware
	}

	// --- 6. HTTP Router ---
	r := chi.NewRouter()

	public := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RealIP,
	}
	if cfg.Redis.Addr != "" {
		limiterRepo, err := redis.NewRateLimiterAdapter(ctx, cfg.Redis.Addr)
		if err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := limiterRepo.Close(); err != nil {
				logger.Warn("Failed to close Redis", "error", err)
			}
		}()
		limiter := httphandler.NewRateLimiterMiddleware(limiterRepo, cfg.Redis.RateLimit, cfg.Redis.RateWindow(), logger)
		public = append(public, limiter.Handler)
	}
	public = append(public,
		middleware.Recoverer,
		observability.NewLoggerMiddleware(logger),
		observability.NewMetricsMiddleware(serviceName),
		observability.NewTracingMiddleware(serviceName),
	)
	r.Use(public...)

	// Public routes
	if oauthServer != nil {
		r.Post("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
			if err := oauthServer.HandleTokenRequest(w, r); err != nil {
				logger.Error("failed to handle token request", "error", err)
			}
		})
	}
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"service": serviceName,
			"storage": cfg.Storage.Driver,
		}); err != nil {
			logger.Error("Failed to write health response", "error", err)
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	// Protected routes: /api/v1/*
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticate)
		if cfg.OPA.URL != "" {
			r.Use(opa.NewMiddleware(cfg.OPA.URL, httphandler.ClaimsFromContext, logger).Authorize)
		} else {
			logger.Warn("OPA is not configured, authenticated callers are not authorized per route")
		}
		billingHandler.Routes(r)
	})

	// --- 7. HTTP Server ---
	serverAddr := cfg.Server.Port
	if serverAddr == "" {
		serverAddr = ":8080"
	}

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Server exited properly")
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository, func(), error) {
	switch cfg.Storage.Driver {
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.BoltPath), 0o755); err != nil {
			return nil, nil, err
		}
		repo, err := boltdb.New(cfg.Storage.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				logger.Warn("Failed to close BoltDB", "error", err)
			}
		}, nil
	case "postgres":
		repo, err := postgres.NewRepository(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.MigrateOnStart {
			if err := postgres.Migrate(ctx, repo.Pool(), logger); err != nil {
				repo.Close()
				return nil, nil, err
			}
		}
		return repo, repo.Close, nil
	default:
		return memory.NewRepository(), func() {}, nil
	}
}
