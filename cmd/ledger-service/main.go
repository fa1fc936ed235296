package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/config"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/ledgerservice"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/repository"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/telemetry"
)

func main() {
	// Initialize telemetry
	if err := telemetry.InitTelemetry("ledger-service"); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	cfg := config.Load()
	if len(cfg.KafkaBrokers) == 0 {
		telemetry.Logger.Fatal("KAFKA_BROKERS is required")
	}

	telemetry.Logger.Info("Starting Ledger Service")

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.InitDB(context.Background(), db); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	ledgerRepo := repository.NewLedgerRepository(db)
	consumer := ledgerservice.NewConsumer(
		repository.NewPaymentRepository(db),
		repository.NewCatalogRepository(db),
		repository.NewAdRewardRepository(db),
		ledgerRepo,
		cfg.PlatformFeeRate,
	)

	// Start Kafka consumer
	reader := ledgerservice.NewReader(cfg.KafkaBrokers)
	defer reader.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		if err := consumer.Run(ctx, reader); err != nil {
			telemetry.Logger.Error("Consumer stopped", zap.Error(err))
		}
	}()

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "ledger-service"})
	})

	ledgerservice.NewHandler(ledgerRepo).Register(r)

	port := os.Getenv("LEDGER_PORT")
	if port == "" {
		port = "8084"
	}

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Ledger Service starting", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}
