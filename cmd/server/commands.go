package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diewo77/go-heatcrm/auth"
	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/config"
	"github.com/diewo77/go-heatcrm/internal/db"
	"github.com/diewo77/go-heatcrm/internal/policy"
	"github.com/diewo77/go-heatcrm/internal/server"
	"github.com/diewo77/go-heatcrm/internal/storage"
	"github.com/diewo77/go-heatcrm/internal/stream"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
	roleCacheTTL    = 30 * time.Second
)

var (
	logJSON bool
	noSeed  bool
)

var rootCmd = &cobra.Command{
	Use:   "heatcrm",
	Short: "Heating trade CRM and survey API",
	Long: `heatcrm serves the CRM and property survey API: customers, leads,
products, quotes, appointments and on-site visit surveys.

Configuration is read from the environment (and a .env file if present).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger(os.Getenv("APP_ENV"), logJSON)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Long: `Apply database migrations and exit.

With MIGRATIONS=1 on Postgres the embedded SQL migrations are applied with
golang-migrate; otherwise the schema is created with AutoMigrate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(!noSeed)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the boiler reference catalog and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := db.Open(config.LoadDatabase())
		if err != nil {
			return err
		}
		n, err := db.Seed(gdb)
		if err != nil {
			return err
		}
		slog.Info("seed complete", "boilers_created", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Force JSON logs (default outside development)")
	migrateCmd.Flags().BoolVar(&noSeed, "no-seed", false, "Skip loading reference data after migrating")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

// setupLogger installs the default slog logger: text in development, JSON
// elsewhere.
func setupLogger(env string, forceJSON bool) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var h slog.Handler
	if env == "" || env == "development" {
		opts.Level = slog.LevelDebug
	}
	if forceJSON || (env != "" && env != "development") {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func runMigrate(seed bool) error {
	dbCfg := config.LoadDatabase()
	gdb, err := db.Open(dbCfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb, dbCfg); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	slog.Info("migrations complete", "driver", dbCfg.Driver)
	if seed {
		n, err := db.Seed(gdb)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		slog.Info("seed complete", "boilers_created", n)
	}
	return nil
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	httpx.SetExposeInternal(cfg.App.Dev())

	gdb, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb, cfg.Database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if cfg.Database.Seed {
		n, err := db.Seed(gdb)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		slog.Info("reference data ready", "boilers_created", n)
	}

	tokens, err := auth.NewManager(cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	if err != nil {
		return err
	}
	gate := policy.NewAuthGate(policy.NewDBResolver(gdb), roleCacheTTL)
	tokens.SetUserVerifier(gate.VerifyUser)

	store, err := storage.NewLocalStore(cfg.Media.UploadDir, cfg.Media.MaxBytes())
	if err != nil {
		return err
	}
	provider := stream.Placeholder{}
	hub := stream.NewHub(cfg.Stream.Heartbeat, provider)

	api := server.New(server.Deps{
		DB:          gdb,
		Config:      cfg,
		Tokens:      tokens,
		Gate:        gate,
		Store:       store,
		Hub:         hub,
		Transcriber: provider,
		Extractor:   provider,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port, "env", cfg.App.Env, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-sigCtx.Done():
	}
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown.
	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
	slog.Info("server stopped")
	return nil
}
