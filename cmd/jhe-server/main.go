package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pstell2002/jupyterhealth-exchange/internal/config"
	"github.com/pstell2002/jupyterhealth-exchange/internal/domain/access"
	"github.com/pstell2002/jupyterhealth-exchange/internal/domain/datasource"
	"github.com/pstell2002/jupyterhealth-exchange/internal/domain/observation"
	"github.com/pstell2002/jupyterhealth-exchange/internal/domain/organization"
	"github.com/pstell2002/jupyterhealth-exchange/internal/domain/study"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/auth"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/db"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/events"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/fhir"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/metrics"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/middleware"
	"github.com/pstell2002/jupyterhealth-exchange/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "jhe-server",
		Short:        "JupyterHealth Exchange API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

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
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrationsFS(dir)).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert scope codes and data sources from a catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			catalog, err := loadCatalog(path)
			if err != nil {
				return err
			}
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool) error {
				svc := datasource.NewService(datasource.NewRepoPG(pool), db.NewTxManager(pool), newLogger("development", "info"))
				res, err := svc.Seed(ctx, catalog)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d scope code(s), %d data source(s), %d supported scope(s).\n",
					res.ScopeCodes, res.DataSources, res.SupportedScopes)
				return nil
			})
		},
	}
	cmd.Flags().String("file", "seed/catalog.yaml", "Catalog YAML file")
	return cmd
}

func loadCatalog(path string) (*datasource.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return datasource.ParseCatalog(f)
}

// migrationsFS returns dir when set and the embedded migrations otherwise.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func withPool(ctx context.Context, fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool)
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("running in development mode: requests without a bearer token act as DEV_PRACTITIONER_ID")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var publisher events.Publisher = events.Noop{}
	if cfg.EventsEnabled() {
		nats, err := events.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer nats.Close()
		publisher = nats
		logger.Info().Str("prefix", cfg.NATSSubjectPrefix).Msg("publishing observation events")
	}

	reg := prometheus.NewRegistry()
	e, err := newServer(cfg, pool, publisher, reg, logger)
	if err != nil {
		return err
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires every component onto a new echo instance. Nothing here
// touches the database until a request arrives.
func newServer(cfg *config.Config, pool *pgxpool.Pool, publisher events.Publisher, reg *prometheus.Registry, logger zerolog.Logger) (*echo.Echo, error) {
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 60 * time.Second

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Instrument())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("10M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))

	if cfg.IsDev() {
		devUser := uuid.Nil
		if cfg.DevPractitionerID != "" {
			devUser = uuid.MustParse(cfg.DevPractitionerID)
		}
		e.Use(auth.DevAuthMiddleware(devUser))
	}
	if cfg.AuthConfigured() {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    jwtSkipper(cfg.IsDev()),
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(reg)))

	limiter := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	})
	apiV1 := e.Group("/api/v1", limiter, access.MemoMiddleware())
	fhirGroup := e.Group("/fhir", limiter, access.MemoMiddleware())

	tx := db.NewTxManager(pool)
	engine := access.NewEngine(access.NewStorePG(pool))

	obsSvc := observation.NewService(observation.NewRepoPG(pool), engine, tx, publisher, logger)
	observation.NewHandler(obsSvc).RegisterRoutes(fhirGroup)
	fhir.NewBundleHandler(fhir.NewBundleProcessor(obsSvc, logger)).RegisterRoutes(fhirGroup)

	study.NewHandler(study.NewService(study.NewRepoPG(pool), engine, tx, logger)).RegisterRoutes(apiV1)
	organization.NewHandler(organization.NewService(organization.NewRepoPG(pool), engine)).RegisterRoutes(apiV1)
	datasource.NewHandler(datasource.NewService(datasource.NewRepoPG(pool), tx, logger)).RegisterRoutes(apiV1)

	return e, nil
}

// jwtSkipper skips public routes. In development it also lets requests
// without a bearer token through to the dev identity.
func jwtSkipper(dev bool) func(echo.Context) bool {
	return func(c echo.Context) bool {
		if auth.AuthSkipper(c) {
			return true
		}
		return dev && c.Request().Header.Get(echo.HeaderAuthorization) == ""
	}
}
