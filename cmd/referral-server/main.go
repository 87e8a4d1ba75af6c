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

	"github.com/careroute/referral-engine/internal/config"
	"github.com/careroute/referral-engine/internal/domain/alerting"
	"github.com/careroute/referral-engine/internal/domain/referral"
	"github.com/careroute/referral-engine/internal/domain/rules"
	"github.com/careroute/referral-engine/internal/domain/scoring"
	"github.com/careroute/referral-engine/internal/domain/workflow"
	"github.com/careroute/referral-engine/internal/platform/audit"
	"github.com/careroute/referral-engine/internal/platform/auth"
	"github.com/careroute/referral-engine/internal/platform/counter"
	"github.com/careroute/referral-engine/internal/platform/db"
	"github.com/careroute/referral-engine/internal/platform/events"
	"github.com/careroute/referral-engine/internal/platform/middleware"
	"github.com/careroute/referral-engine/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "referral-server",
		Short: "Referral intake decision and automation engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rulesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the referral API server",
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

			fmt.Printf("Applied %d migration(s).\n", count)
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

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the decision rules file",
	}

	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a rules file without starting the server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "./rules.json"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := rules.LoadFile(path); err != nil {
				return fmt.Errorf("rules file %s is invalid: %w", path, err)
			}
			fmt.Printf("Rules file %s is valid.\n", path)
			return nil
		},
	}
	cmd.AddCommand(validateCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	ruleStore, err := rules.NewStore(cfg.RulesPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.RulesPath).Msg("failed to load rules")
	}
	logger.Info().Str("path", cfg.RulesPath).Msg("decision rules loaded")

	var counts counter.Store
	if cfg.RedisURL != "" {
		redisCounts, err := counter.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisCounts.Close()
		counts = redisCounts
		logger.Info().Msg("using redis capacity counters")
	} else {
		counts = counter.NewMemoryStore()
		logger.Warn().Msg("REDIS_URL not set, capacity counters are in-memory and reset on restart")
	}

	// Event bus ties intake, workflows, alerting and the audit trail together.
	bus := events.NewBus(logger)

	auditRepo := audit.NewRepoPG(pool)
	recorder := audit.NewRecorder(auditRepo, logger)
	recorder.Start(bus)
	defer recorder.Stop()

	// Intake pipeline.
	engine := scoring.NewEngine(ruleStore, counts, logger)
	caseRepo := referral.NewCaseRepoPG(pool)
	decisionRepo := referral.NewDecisionRepoPG(pool)
	referralSvc := referral.NewService(caseRepo, decisionRepo, engine, bus, logger)

	// Notification transports. The webhook transport carries real deliveries;
	// email, sms and push run on the mock transport until providers are wired.
	transports := notification.NewRegistry()
	mock := notification.NewMockTransport()
	transports.Register(notification.ChannelEmail, mock)
	transports.Register(notification.ChannelSMS, mock)
	transports.Register(notification.ChannelPush, mock)
	transports.Register(notification.ChannelWebhook,
		notification.NewWebhookTransport(cfg.AuthSigningKey, &http.Client{Timeout: 10 * time.Second}))

	// Alerting.
	alertRepo := alerting.NewAlertRepoPG(pool)
	recipientRepo := alerting.NewRecipientRepoPG(pool)
	deliveryRepo := alerting.NewDeliveryRepoPG(pool)
	escalator := alerting.NewEscalator(logger)
	defer escalator.Stop()
	router := alerting.NewRouter(alertRepo, recipientRepo, deliveryRepo,
		transports, notification.NewTemplateEngine(), escalator, bus, cfg.NotifyParallelism, logger)
	if err := router.RearmPending(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to re-arm pending alert timers")
	}

	// Workflow engine and scheduler.
	invoker := workflow.NewInvokerRegistry(logger)
	workflow.RegisterMockCollaborators(invoker)
	workflowRepo := workflow.NewWorkflowRepoPG(pool)
	runRepo := workflow.NewRunRepoPG(pool)
	ruleRepo := workflow.NewAutomationRuleRepoPG(pool)
	wfEngine := workflow.NewEngine(workflowRepo, runRepo, invoker, alerting.NewWorkflowNotifier(router), bus, logger)
	wfSvc := workflow.NewService(workflowRepo, runRepo, ruleRepo, wfEngine, logger)
	scheduler := workflow.NewScheduler(workflowRepo, runRepo, ruleRepo, wfEngine, invoker, bus, cfg.SchedulerTick, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", db.HealthHandler(pool))
	e.GET("/ready", db.HealthHandler(pool))

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		logger.Warn().Msg("running with development auth, all requests act as the dev user")
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	api := e.Group("/api/v1", authMW)
	events.NewHandler(bus).RegisterRoutes(api)
	referral.NewHandler(referralSvc).RegisterRoutes(api)
	workflow.NewHandler(wfSvc).RegisterRoutes(api)
	alerting.NewHandler(router, alertRepo, recipientRepo, deliveryRepo).RegisterRoutes(api)
	rules.NewHandler(ruleStore).RegisterRoutes(api)
	audit.NewHandler(auditRepo).RegisterRoutes(api)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("referral server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
