/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the enrollment engine. `serve` runs the HTTP API;
  the other commands are operator tools against the same store.

COMMANDS:
  serve    HTTP server with graceful shutdown and the periodic sweep
  sweep    Run one counter sweep and print the report
  seed     Load a demo scenario (dragon-dojo, drifted-counters)
  token    Issue a bearer token for local testing

STARTUP SEQUENCE (serve):
  1. Load config (.env, environment, then flags)
  2. Open the store selected by STORE
  3. Build gateway, notifier, reconciler and handlers
  4. Start the sweep scheduler
  5. Start server with graceful shutdown

GLOBAL FLAGS (override the environment):
  --port    HTTP server port (PORT)
  --db      SQLite database path (DB_PATH), ":memory:" for in-memory
  --store   sqlite | mongo | memory (STORE)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, close publisher and store
  4. Exit

EXAMPLES:
  ./server serve --db=./data/enrollment.db
  ./server seed --store=memory --scenario=dragon-dojo
  STORE=mongo MONGO_URI=mongodb://localhost:27017/?replicaSet=rs0 ./server sweep
  ACCESS_TOKEN_SECRET=dev ./server token --email ada@dragon.dojo

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/enrollment-engine/api"
	"github.com/warp/enrollment-engine/auth"
	"github.com/warp/enrollment-engine/config"
	"github.com/warp/enrollment-engine/enrollment"
)

var Version = "dev"

// flags holds global overrides; zero values leave the config untouched.
type flags struct {
	port  int
	db    string
	store string
}

func main() {
	var f flags

	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Class selection, payment and enrollment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().IntVar(&f.port, "port", 0, "HTTP server port (overrides PORT)")
	rootCmd.PersistentFlags().StringVar(&f.db, "db", "", "SQLite database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&f.store, "store", "", "store backend: sqlite, mongo or memory (overrides STORE)")

	rootCmd.AddCommand(serveCmd(&f))
	rootCmd.AddCommand(sweepCmd(&f))
	rootCmd.AddCommand(seedCmd(&f))
	rootCmd.AddCommand(tokenCmd(&f))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies flag overrides on top of the environment.
func loadConfig(f *flags) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if f.port != 0 {
		cfg.Port = f.port
	}
	if f.db != "" {
		cfg.DBPath = f.db
	}
	if f.store != "" {
		cfg.Store = f.store
	}
	return cfg, cfg.Validate()
}

func serveCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg config.Config) error {
	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeStore()

	notifier, closeNotifier := openNotifier(cfg)
	defer closeNotifier()

	reconciler := enrollment.NewReconciler(store)
	if notifier != nil {
		reconciler.WithNotifier(notifier)
	}
	checkout := enrollment.NewCheckout(openGateway(cfg), cfg.Currency, cfg.GatewayTimeout)
	authn := auth.NewAuthenticator(cfg.AccessTokenSecret, store)

	handler := api.NewHandler(store, reconciler, checkout, authn)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	scheduler := api.NewSweepScheduler(reconciler)
	scheduler.CheckInterval = cfg.SweepInterval
	scheduler.Enabled = cfg.SweepEnabled
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on http://localhost:%d (store=%s)", cfg.Port, cfg.Store)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}
