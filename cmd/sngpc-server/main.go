package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vitalmed/sngpc/internal/config"
	"github.com/vitalmed/sngpc/internal/domain/balance"
	"github.com/vitalmed/sngpc/internal/domain/compliance"
	"github.com/vitalmed/sngpc/internal/domain/registry"
	"github.com/vitalmed/sngpc/internal/domain/transmission"
	"github.com/vitalmed/sngpc/internal/platform/anvisa"
	"github.com/vitalmed/sngpc/internal/platform/auth"
	"github.com/vitalmed/sngpc/internal/platform/clock"
	"github.com/vitalmed/sngpc/internal/platform/db"
	"github.com/vitalmed/sngpc/internal/platform/middleware"
	"github.com/vitalmed/sngpc/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sngpc-server",
		Short: "Controlled-substance compliance API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(scanCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")
			allTenants, _ := cmd.Flags().GetBool("all-tenants")

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

			if allTenants {
				counts, err := migrator.UpAllTenants(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				for tenant, n := range counts {
					fmt.Printf("tenant %s: applied %d migration(s)\n", tenant, n)
				}
				return nil
			}

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	upCmd.Flags().Bool("all-tenants", false, "Apply to every tenant schema")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
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
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
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
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("dir")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

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

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, dir); err != nil {
				return err
			}
			fmt.Println("Tenant created and migrated successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	createCmd.Flags().String("dir", "./migrations", "Path to migrations directory")

	cmd.AddCommand(createCmd)
	return cmd
}

// scanCmd runs a single compliance sweep over every tenant and exits.
// Useful from cron when the embedded scanner is not wanted.
func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one compliance sweep over all tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := complianceService(pool, cfg, logger)
			scanner := compliance.NewScanner(svc, pool, logger, time.Hour)
			return scanner.Sweep(ctx)
		},
	}
}

// complianceService wires a compliance service against the pool with
// the configured thresholds.
func complianceService(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger) *compliance.Service {
	thresholds := compliance.Thresholds{
		DeadlineDay:        cfg.SNGPCDeadlineDay,
		WarningDays:        cfg.SNGPCWarningDays,
		ErrorDays:          cfg.SNGPCErrorDays,
		OutboundMultiplier: cfg.SNGPCOutboundMultiplier,
		InboundMultiplier:  cfg.SNGPCInboundMultiplier,
		BalanceTolerance:   cfg.SNGPCBalanceTolerance,
	}
	return compliance.NewService(
		compliance.NewAlertRepoPG(pool),
		compliance.NewLedgerViewPG(pool),
		compliance.NewReportStatusViewPG(pool),
		clock.Real{}, logger, thresholds)
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

	// Telemetry
	tel := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "sngpc-server",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Env,
	})
	defer tel.Shutdown(context.Background())

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(60 * time.Second))
	e.Use(tel.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	// Tenant middleware
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", tel.PrometheusHandler())

	clk := clock.Real{}

	// ANVISA platform: real signed transmissions in production, a
	// deterministic in-memory endpoint everywhere else.
	var client anvisa.Client
	if cfg.IsProduction() {
		signer, err := anvisa.NewCertSigner(cfg.SNGPCCertFile, cfg.SNGPCCertKeyFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load SNGPC client certificate")
		}
		client = anvisa.NewHTTPClient(cfg.SNGPCEndpointURL, signer,
			anvisa.WithTimeout(time.Duration(cfg.SNGPCTimeoutSeconds)*time.Second))
	} else {
		client = &anvisa.StaticClient{}
		logger.Warn().Msg("using in-memory SNGPC endpoint, transmissions will not reach ANVISA")
	}
	builder := anvisa.NewXMLBuilder()

	// Registry ledger
	registrySvc := registry.NewService(
		registry.NewRepoPG(pool),
		registry.NewDispenseSourcePG(pool),
		clk, logger)
	registrySvc.SetTelemetry(tel)
	registry.NewHandler(registrySvc).RegisterRoutes(apiV1)

	// Monthly balances
	balanceSvc := balance.NewService(
		balance.NewRepoPG(pool),
		balance.NewLedgerSourcePG(pool),
		clk, logger, cfg.SNGPCDeadlineDay)
	balanceSvc.SetTelemetry(tel)
	balance.NewHandler(balanceSvc).RegisterRoutes(apiV1)

	// Transmission pipeline
	transmissionSvc := transmission.NewService(
		transmission.NewReportRepoPG(pool),
		transmission.NewTransmissionRepoPG(pool),
		transmission.NewReportSourcePG(pool),
		builder, client, clk, logger,
		transmission.Options{
			MaxAttempts:  cfg.SNGPCMaxAttempts,
			Endpoint:     cfg.SNGPCEndpointURL,
			Timeout:      time.Duration(cfg.SNGPCTimeoutSeconds) * time.Second,
			PharmacyCNPJ: cfg.PharmacyCNPJ,
			PharmacyName: cfg.PharmacyName,
		})
	transmissionSvc.SetTelemetry(tel)
	transmission.NewHandler(transmissionSvc).RegisterRoutes(apiV1)

	// Compliance monitor
	complianceSvc := complianceService(pool, cfg, logger)
	complianceSvc.SetTelemetry(tel)
	compliance.NewHandler(complianceSvc).RegisterRoutes(apiV1)

	// Background compliance scanner
	scanCtx, stopScanner := context.WithCancel(context.Background())
	defer stopScanner()
	scanner := compliance.NewScanner(complianceSvc, pool, logger,
		time.Duration(cfg.ScanIntervalMinutes)*time.Minute)
	go scanner.Run(scanCtx)

	// Pool gauge sampler
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-scanCtx.Done():
				return
			case <-ticker.C:
				stat := pool.Stat()
				tel.HealthMetrics().SetDBPoolActive(int64(stat.AcquiredConns()))
				tel.HealthMetrics().SetDBPoolIdle(int64(stat.IdleConns()))
			}
		}
	}()

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	stopScanner()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}
