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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/api"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/config"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/database"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/notify"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/orders"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/queue"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/routing"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/venue"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	logLevel := os.Getenv("ORDEREXEC_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	store := orders.NewGormStore(db, zapLogger)
	if err := store.Migrate(); err != nil {
		zapLogger.Fatal("Failed to migrate order tables", zap.Error(err))
	}

	bus := notify.NewBus(zapLogger)

	venueOpts := venue.Options{
		QuoteFailureRate:   cfg.Venues.QuoteFailureRate,
		ExecuteFailureRate: cfg.Venues.ExecuteFailureRate,
		QuoteDelayMin:      time.Duration(cfg.Venues.QuoteDelayMinMs) * time.Millisecond,
		QuoteDelayMax:      time.Duration(cfg.Venues.QuoteDelayMaxMs) * time.Millisecond,
		ExecuteDelayMin:    time.Duration(cfg.Venues.ExecuteDelayMinMs) * time.Millisecond,
		ExecuteDelayMax:    time.Duration(cfg.Venues.ExecuteDelayMaxMs) * time.Millisecond,
		ExecutionDriftPct:  cfg.Venues.ExecutionDriftPct,
	}
	venues := []venue.Venue{
		venue.NewRaydium(venueOpts),
		venue.NewMeteora(venueOpts),
	}

	router := routing.NewEngine(zapLogger, venues, cfg.Routing.ConcurrentQuotes)
	processor := queue.NewProcessor(zapLogger, store, bus, router)

	jobQueue := queue.NewQueue(zapLogger, db, cfg.Queue, processor)
	if err := jobQueue.Migrate(); err != nil {
		zapLogger.Fatal("Failed to migrate job table", zap.Error(err))
	}
	if err := jobQueue.Start(); err != nil {
		zapLogger.Fatal("Failed to start job queue", zap.Error(err))
	}

	server := api.NewServer(zapLogger, cfg.Server, store, bus, jobQueue)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Router(),
	}

	go func() {
		zapLogger.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	jobQueue.Stop()
	zapLogger.Info("Shutdown complete")
}
