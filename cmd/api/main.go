package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/treyhollis/factorgate/internal/auth"
	"github.com/treyhollis/factorgate/internal/config"
	"github.com/treyhollis/factorgate/internal/database"
	"github.com/treyhollis/factorgate/internal/factors"
	"github.com/treyhollis/factorgate/internal/handlers"
	"github.com/treyhollis/factorgate/internal/repositories"
	"github.com/treyhollis/factorgate/internal/routes"
	"github.com/treyhollis/factorgate/internal/services"
	"github.com/treyhollis/factorgate/internal/session"
	pkghttp "github.com/treyhollis/factorgate/pkg/http"
)

func main() {
	// Load configuration first so the log level applies from the start
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	recordRepo := repositories.NewFactorRecordRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	// Secret and challenge managers
	secretManager, err := auth.NewSecretManager(cfg.Secrets.EncryptionKey, cfg.Secrets.Issuer)
	if err != nil {
		logger.Error("failed to initialize secret manager", slog.Any("error", err))
		os.Exit(1)
	}
	challengeManager := auth.NewChallengeManager(cfg.Secrets.ChallengeKey, cfg.Secrets.ChallengeExpiry)

	// Lockout notifier: SES when a security mailbox is configured,
	// structured log delivery otherwise
	var notifier services.Notifier
	if cfg.Notify.SecurityAddress != "" && cfg.Notify.FromAddress != "" {
		address := cfg.Notify.SecurityAddress
		notifier, err = services.NewSESNotifier(
			cfg.Notify.SESRegion,
			cfg.Notify.FromAddress,
			func(ctx context.Context, userID string) (string, error) { return address, nil },
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize SES notifier", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		notifier = services.NewLogNotifier(logger)
	}

	// Initialize services
	auditService := services.NewAuditService(auditRepo, logger)
	lockoutService := services.NewLockoutService(recordRepo, notifier, logger, cfg.Lockout.Threshold)
	lockoutService.SetAudit(auditService)
	factorService := services.NewFactorService(recordRepo, lockoutService, secretManager, auditService, logger)

	// Session-scoped factor state
	sessions := session.NewStore()

	// Factor registry
	registry := factors.NewRegistry(
		factors.NewTOTPFactor(cfg.Factor(factors.TypeTOTP), secretManager, recordRepo, factorService, logger),
		factors.NewRecoveryFactor(cfg.Factor(factors.TypeRecovery), secretManager, recordRepo, factorService, logger),
		factors.NewDeviceFactor(cfg.Factor(factors.TypeDevice), recordRepo, factorService, logger),
		factors.NewIPCheckFactor(cfg.Factor(factors.TypeIPCheck), logger),
	)

	// Client IP extraction (provenance and the ipcheck factor)
	ipConfig := &pkghttp.IPConfig{
		TrustedProxies: trustedProxies(),
	}

	// Initialize handler
	factorHandler := handlers.NewFactorHandler(
		registry,
		factorService,
		auditService,
		challengeManager,
		sessions,
		cfg.Secrets.ChallengeExpiry,
		ipConfig,
		logger,
	)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, factorHandler, challengeManager)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func trustedProxies() []string {
	raw := os.Getenv("TRUSTED_PROXIES")
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
