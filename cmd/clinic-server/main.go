package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicops/clinic/internal/config"
	"github.com/clinicops/clinic/internal/domain/scheduling"
	"github.com/clinicops/clinic/internal/platform/auth"
	"github.com/clinicops/clinic/internal/platform/db"
	"github.com/clinicops/clinic/internal/platform/middleware"
	"github.com/clinicops/clinic/internal/platform/telemetry"
	"github.com/clinicops/clinic/migrations"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic appointment scheduling API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	logger := zerolog.New(out).With().Timestamp().Str("service", "clinic-server").Logger()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		logger = logger.Level(lvl)
	}
	return logger
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
	})
}

// openStore returns the configured repository. The pool is nil for the
// memory store.
func openStore(ctx context.Context, cfg *config.Config) (scheduling.Repository, *pgxpool.Pool, error) {
	if cfg.Store == config.StoreMemory {
		return scheduling.NewMemoryStore(), nil, nil
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return scheduling.NewPGStore(pool), pool, nil
}

func newService(cfg *config.Config, repo scheduling.Repository, logger zerolog.Logger, metrics *scheduling.Metrics) (*scheduling.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return scheduling.NewService(repo,
		scheduling.WithDefaults(cfg.DefaultSlotMinutes, loc),
		scheduling.WithLogger(logger),
		scheduling.WithMetrics(metrics),
	), nil
}

type server struct {
	echo     *echo.Echo
	registry *prometheus.Registry
}

// newServer wires middleware and routes. pool and tracing may be nil.
func newServer(cfg *config.Config, logger zerolog.Logger, repo scheduling.Repository, pool *pgxpool.Pool, tracing *telemetry.Provider) (*server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if pool != nil {
		reg.MustRegister(db.NewPoolCollector(pool))
	}

	svc, err := newService(cfg, repo, logger, scheduling.NewMetrics(reg))
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.NewHTTPMetrics(reg).Middleware())
	if tracing != nil {
		e.Use(tracing.TracingMiddleware())
	}
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"store":   cfg.Store,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool, 2*time.Second))
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg, ErrorHandling: promhttp.ContinueOnError})))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && !cfg.AuthConfigured() {
		logger.Warn().Msg("development mode without token verifier: every request is treated as admin")
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))

	scheduling.NewHandler(svc).RegisterRoutes(apiV1)

	return &server{echo: e, registry: reg}, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "clinic-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	repo, pool, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		return err
	}
	if pool != nil {
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	srv, err := newServer(cfg, logger, repo, pool, tracing)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.Store).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("trace flush failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newMigrator(pool *pgxpool.Pool, dir, schema string) *db.Migrator {
	m := db.NewMigratorFS(pool, migrations.FS)
	if dir != "" {
		m = db.NewMigrator(pool, dir)
	}
	return m.WithSchema(schema)
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

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := newMigrator(pool, dir, schema).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to schema %s.\n", count, schema)
			return nil
		},
	}

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
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := newMigrator(pool, dir, schema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "public", "Target schema for migrations")
		c.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
		cmd.AddCommand(c)
	}
	return cmd
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the open slots of a doctor on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorFlag, _ := cmd.Flags().GetString("doctor")
			dateFlag, _ := cmd.Flags().GetString("date")
			duration, _ := cmd.Flags().GetInt("duration")

			doctorID, err := uuid.Parse(doctorFlag)
			if err != nil {
				return fmt.Errorf("--doctor: %w", err)
			}
			date, err := scheduling.ParseDate(dateFlag)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			repo, pool, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}
			svc, err := newService(cfg, repo, zerolog.Nop(), nil)
			if err != nil {
				return err
			}
			return printSlots(ctx, cmd.OutOrStdout(), svc, doctorID, date, duration)
		},
	}
	cmd.Flags().String("doctor", "", "Doctor id (uuid)")
	cmd.Flags().String("date", "", "Date, YYYY-MM-DD")
	cmd.Flags().Int("duration", 0, "Slot length in minutes; 0 uses the doctor's slot length")
	_ = cmd.MarkFlagRequired("doctor")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func printSlots(ctx context.Context, w io.Writer, svc *scheduling.Service, doctorID uuid.UUID, date scheduling.Date, duration int) error {
	slots, err := svc.AvailableSlots(ctx, doctorID, date, duration)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		fmt.Fprintf(w, "No open slots for %s on %s.\n", doctorID, date)
		return nil
	}
	for _, s := range slots {
		fmt.Fprintln(w, s.String())
	}
	return nil
}
