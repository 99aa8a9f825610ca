// Package main provides the Fletcher plan registry service.
//
// Fletcher is the control-plane registry for the conductor: it stores dataset
// plans, validates their dependency graphs, and tracks data product state
// transitions.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fletcher-io/fletcher/internal/api"
	"github.com/fletcher-io/fletcher/internal/api/middleware"
	"github.com/fletcher-io/fletcher/internal/auth"
	"github.com/fletcher-io/fletcher/internal/config"
	"github.com/fletcher-io/fletcher/internal/plan"
	"github.com/fletcher-io/fletcher/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "fletcher"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting Fletcher service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	// Rate limiter shutdown is handled by server.shutdown().
	middlewareConfig := middleware.LoadConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("service_rps", middlewareConfig.ServiceRPS),
		slog.Int("service_burst", middlewareConfig.ServiceBurst),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS),
		slog.Int("unauth_burst", middlewareConfig.UnAuthBurst),
	)

	jwtSecret := config.GetEnvStr("FLETCHER_JWT_SECRET", "")
	if jwtSecret == "" {
		logger.Error("FLETCHER_JWT_SECRET is required",
			slog.String("note", "tokens are signed and verified with this secret; there is no default"),
		)
		os.Exit(1)
	}

	registry, err := auth.LoadRegistry(logger)
	if err != nil {
		logger.Error("Failed to load service accounts", slog.String("error", err.Error()))
		os.Exit(1)
	}

	authService := auth.NewService(registry, auth.NewTokenIssuer([]byte(jwtSecret)), logger)

	logger.Info("Authentication initialized",
		slog.Int("service_accounts", registry.Len()),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	planStore, err := storage.NewPlanStore(dbConn)
	if err != nil {
		logger.Error("Failed to create plan store", slog.String("error", err.Error()))
		// Close database connection before exit (defer won't run with os.Exit)
		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	logger.Info("Plan store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	planService := plan.NewService(planStore, logger)

	server := api.NewServer(serverConfig, planService, authService, planStore, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Fletcher service stopped")
}
