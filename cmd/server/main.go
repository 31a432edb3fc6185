/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the finance engine server. Handles
  configuration, dependency injection, background jobs, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Load configuration from environment (.env honored in development)
  2. Initialize SQLite store
  3. Create API handler with dependencies
  4. Register background jobs (FX sync, reconciliation sweep)
  5. Start server with graceful shutdown

CONFIGURATION:
  All via FINANCE_* environment variables; see config/config.go.
  Use FINANCE_DB_PATH=":memory:" for an ephemeral database.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the job scheduler
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - jobs/scheduler.go: Background job wiring
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/altiplano/finance-engine/api"
	"github.com/altiplano/finance-engine/config"
	"github.com/altiplano/finance-engine/jobs"
	"github.com/altiplano/finance-engine/payments"
	"github.com/altiplano/finance-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	capital, err := cfg.Capital()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid capital configuration")
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.DBPath).Msg("Failed to initialize database")
	}
	defer store.Close()

	// Initialize handler and router
	handler := api.NewHandler(store, store, capital, cfg.FXTimeout)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	// Background jobs
	scheduler := jobs.New(log)
	sweep := &jobs.ReconcileSweep{
		Reconciler: &payments.Reconciler{Store: store},
		Log:        log,
	}
	if err := scheduler.AddJob(cfg.ReconcileSchedule, sweep); err != nil {
		log.Fatal().Err(err).Msg("Failed to register reconciliation job")
	}
	if provider := rateProvider(); provider != nil {
		sync := &jobs.FXSync{
			Provider: provider,
			Rates:    store,
			Timeout:  cfg.FXTimeout,
			Log:      log,
		}
		if err := scheduler.AddJob(cfg.FXSyncSchedule, sync); err != nil {
			log.Fatal().Err(err).Msg("Failed to register FX sync job")
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", cfg.Port).Str("db", cfg.DBPath).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// rateProvider returns the external rate source, or nil when none is
// configured. The engine runs fine without one: rates arrive via
// POST /api/fx and the resolver falls back to the latest stored rate.
func rateProvider() jobs.RateProvider {
	url := os.Getenv("FINANCE_FX_PROVIDER_URL")
	if url == "" {
		return nil
	}
	return jobs.RateProviderFunc(func(ctx context.Context, date time.Time) (decimal.Decimal, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return decimal.Decimal{}, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return decimal.Decimal{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return decimal.Decimal{}, fmt.Errorf("rate provider returned %d", resp.StatusCode)
		}
		var body struct {
			Rate string `json:"rate"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(body.Rate)
	})
}
