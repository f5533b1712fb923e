package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/klinika/opd/internal/config"
	"github.com/klinika/opd/internal/domain/billing"
	"github.com/klinika/opd/internal/domain/invoice"
	"github.com/klinika/opd/internal/domain/prescription"
	"github.com/klinika/opd/internal/domain/triage"
	"github.com/klinika/opd/internal/domain/visit"
	"github.com/klinika/opd/internal/platform/auth"
	"github.com/klinika/opd/internal/platform/catalog"
	"github.com/klinika/opd/internal/platform/db"
	"github.com/klinika/opd/internal/platform/directory"
	"github.com/klinika/opd/internal/platform/events"
	"github.com/klinika/opd/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "opd-server",
		Short: "OPD visit and billing API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the OPD API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	runner := db.NewRunner(pool)

	// Price catalog, optionally fronted by redis. The cache is enabled only
	// when the ping at boot succeeds; a dead redis means plain PG lookups.
	var catalogStore catalog.Store = catalog.NewStorePG(pool)
	if cfg.RedisURL != "" {
		client, err := catalog.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, catalog cache disabled")
		} else {
			catalogStore = catalog.NewCachedStore(catalogStore, client)
			defer client.Close()
			logger.Info().Msg("catalog cache enabled")
		}
	}
	prices := catalog.NewResolver(catalogStore, map[string]float64{
		catalog.CategoryConsultation: cfg.ConsultationFee,
		catalog.CategoryPharmacy:     cfg.PharmacyFallbackPrice,
	}, cfg.PharmacyFallbackPrice, logger)

	// Event dispatcher
	dispatcher := events.NewDispatcher(logger)

	// Repositories
	visitRepo := visit.NewRepoPG(pool)
	soapRepo := visit.NewSOAPRepoPG(pool)
	triageRepo := triage.NewRepoPG(pool)
	accountRepo := billing.NewAccountRepoPG(pool)
	itemRepo := billing.NewItemRepoPG(pool)
	invoiceRepo := invoice.NewInvoiceRepoPG(pool)
	paymentRepo := invoice.NewPaymentRepoPG(pool)
	prescriptionRepo := prescription.NewRepoPG(pool)
	patientDir := directory.NewPatientDirectoryPG(pool)
	physicianDir := directory.NewPhysicianDirectoryPG(pool)

	// Services
	visitSvc := visit.NewService(visitRepo, soapRepo, patientDir, physicianDir, dispatcher, runner, cfg.DefaultBranch)
	triageSvc := triage.NewService(triageRepo, visitSvc, triage.NewScorer(triage.DefaultPolicy()), runner)
	reconciler := billing.NewReconciler(accountRepo, itemRepo, prices, runner, logger)
	projector := invoice.NewProjector(invoiceRepo, paymentRepo, accountRepo, runner, logger)
	prescriptionSvc := prescription.NewService(prescriptionRepo, visitSvc, reconciler, prices, dispatcher, runner, logger)

	// A completed consultation drives its charge through the reconciler.
	dispatcher.Subscribe(events.TypeConsultationCompleted, reconciler.HandleConsultationCompleted)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(cfg.DefaultBranch))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	// Health check
	e.GET("/health", db.HealthHandler(pool))

	// API groups
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	visits := apiV1.Group("/visits")
	visit.NewHandler(visitSvc).RegisterRoutes(visits)
	triage.NewHandler(triageSvc).RegisterRoutes(visits)
	prescription.NewHandler(prescriptionSvc).RegisterRoutes(visits)

	// Billing repair and payment surfaces are restricted to back-office
	// roles; clinical staff only read.
	billingGroup := apiV1.Group("/billing", auth.RequireRole("billing", "cashier"))
	billing.NewHandler(reconciler).RegisterRoutes(billingGroup)

	invoices := apiV1.Group("/invoices", auth.RequireRole("billing", "cashier"))
	invoice.NewHandler(projector).RegisterRoutes(invoices)

	// Start server with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return err
	}
	return nil
}
