/*
main.go - Application entry point

PURPOSE:
  Starts the ledger-engine HTTP service: payment allocation, bank
  reconciliation, audit queries, and the background ledger sync.
  Configuration comes from the environment (plus an optional .env
  file); command-line flags override individual values.

STARTUP SEQUENCE:
  1. Load environment config, apply flag overrides
  2. Build the object graph (store, engines, router, dispatcher)
  3. Optionally seed the demo tenant
  4. Start the sync dispatcher and HTTP server
  5. Block until SIGINT/SIGTERM, then drain and exit

COMMAND-LINE FLAGS:
  --port           HTTP server port (default: 8080)
  --db             sqlite database path; empty for in-memory
  --log-level      debug, info, warn, error (default: info)
  --json-logs      emit JSON log lines
  --sync-interval  ledger sync drain interval (default: 30s)
  --demo           seed the demo tenant on startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (SHUTDOWN_TIMEOUT, default 30s)
  3. Stop the sync dispatcher, close the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server --db="./data/ledger.db"

  # Run fully in memory with demo data
  ./server --db="" --demo

  # Run on a different port with JSON logs
  ./server --port=3000 --json-logs

SEE ALSO:
  - config/config.go: Environment variables and defaults
  - factory/factory.go: Object graph assembly
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crechebooks/ledger-engine/config"
	"github.com/crechebooks/ledger-engine/factory"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	serveCmd := newServeCommand()

	rootCmd := &cobra.Command{
		Use:   "ledger-engine",
		Short: "Payment allocation and bank reconciliation engine",
		RunE:  serveCmd.RunE,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	// Bare invocation serves; the flags work in both spellings.
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)

	return rootCmd
}

func newServeCommand() *cobra.Command {
	var (
		port         int
		dbPath       string
		logLevel     string
		jsonLogs     bool
		syncInterval time.Duration
		demo         bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			// Flags override environment values only when set explicitly.
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Port = port
			}
			if flags.Changed("db") {
				cfg.DBPath = dbPath
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("json-logs") {
				cfg.LogJSON = jsonLogs
			}
			if flags.Changed("sync-interval") {
				cfg.SyncInterval = syncInterval
			}
			if flags.Changed("demo") {
				cfg.DemoSeed = demo
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return serve(cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "HTTP server port")
	cmd.Flags().StringVar(&dbPath, "db", "./data/ledger.db", "sqlite database path (empty for in-memory)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON log lines")
	cmd.Flags().DurationVar(&syncInterval, "sync-interval", 30*time.Second, "ledger sync drain interval")
	cmd.Flags().BoolVar(&demo, "demo", false, "seed the demo tenant on startup")

	return cmd
}

func serve(cfg *config.Config) error {
	log := config.NewLogger(cfg)

	app, err := factory.Build(cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	app.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      app.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
