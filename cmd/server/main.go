/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the housing benefits server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, HB_* environment, flags)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Load the benefit program (file or standard)
  5. Connect the Redis generation lock when configured
  6. Create API handler, router and generation scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS (override environment):
  -port      HTTP server port
  -db        SQLite database path (":memory:" for in-memory)
  -program   JSON program definition file
  -scheduler Run background billing generation

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/housing.db"

  # Run with in-memory database and a custom program
  ./server -db=":memory:" -program=./program.json

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/housing-benefits/api"
	"github.com/warp/housing-benefits/config"
	"github.com/warp/housing-benefits/factory"
	"github.com/warp/housing-benefits/logger"
	"github.com/warp/housing-benefits/store/redislock"
	"github.com/warp/housing-benefits/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flags
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.ProgramFile, "program", cfg.ProgramFile, "JSON program definition file")
	flag.BoolVar(&cfg.SchedulerEnabled, "scheduler", cfg.SchedulerEnabled, "Run background billing generation")
	flag.Parse()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "housing-benefits")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	// Initialize store
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	program, err := loadProgram(cfg.ProgramFile)
	if err != nil {
		return err
	}
	log.Info("program loaded",
		zap.String("name", program.Name),
		zap.Int("window_capacity", program.WindowCapacity))

	// Initialize handler
	handler := api.NewHandler(store, program, log)

	if cfg.RedisAddr != "" {
		locker := redislock.New(redislock.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), redislock.DefaultTTL)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := locker.Ping(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		handler.Orchestrator.Locker = locker
		log.Info("generation lock enabled", zap.String("redis", cfg.RedisAddr))
	}

	scheduler := api.NewGenerationScheduler(handler.Orchestrator, log.Named("scheduler"))
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, nil),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.Int("port", cfg.Port), zap.String("db", cfg.DBPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func loadProgram(path string) (*factory.Program, error) {
	if path == "" {
		return factory.DefaultProgram(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program %s: %w", path, err)
	}
	program, err := factory.ParseProgram(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse program %s: %w", path, err)
	}
	return program, nil
}
