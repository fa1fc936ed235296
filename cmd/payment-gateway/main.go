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

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stellar/go/clients/horizonclient"
	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/adreward"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/api"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/auth"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/config"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/events"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/gateway"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/handlers"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/ledger"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/middleware"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/outbox"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/pinetwork"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/repository"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/risk"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/telemetry"
)

func main() {
	// Initialize telemetry
	if err := telemetry.InitTelemetry("payment-gateway"); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		telemetry.Logger.Fatal("Invalid configuration", zap.Error(err))
	}

	telemetry.Logger.Info("Starting Payment Gateway", zap.String("network", cfg.PiNetwork))

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.InitDB(context.Background(), db); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
	defer redisClient.Close()

	// Kafka is optional; without brokers state events are dropped.
	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaWriter := events.NewWriter(cfg.KafkaBrokers)
		defer kafkaWriter.Close()
		publisher = events.NewKafkaPublisher(kafkaWriter)
	} else {
		telemetry.Logger.Warn("KAFKA_BROKERS not set, downstream effects will not be applied")
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	pi := pinetwork.NewClient(cfg.PiAPIURL, cfg.PiAPIKey, httpClient)
	horizon := &horizonclient.Client{HorizonURL: cfg.PiHorizonURL, HTTP: httpClient}

	paymentRepo := repository.NewPaymentRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	rewardRepo := repository.NewAdRewardRepository(db)

	var opts []gateway.Option
	if cfg.RiskCheck {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		opts = append(opts, gateway.WithRiskCheck(risk.NewClient(nc, 5*time.Second)))
	}

	service := gateway.NewService(
		pi,
		paymentRepo,
		catalogRepo,
		ledger.NewVerifier(horizon, cfg.AppWalletAddress),
		gateway.NewRedisLocker(redisClient, cfg.LockTTL),
		publisher,
		cfg.AppWalletAddress,
		opts...,
	)
	sessions := auth.NewService(pi, profileRepo, cfg.JWTSecret, cfg.SessionTTL)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go service.RunReconciler(ctx, time.Minute, 50)
	go limiter.RunCleanup(time.Minute, 10*time.Minute, ctx.Done())

	// Completion and reward events are written to the outbox with their records; without
	// brokers they stay queued until a gateway with KAFKA_BROKERS relays them.
	if len(cfg.KafkaBrokers) > 0 {
		host, _ := os.Hostname()
		relay := outbox.NewRelay(repository.NewOutboxRepository(db), publisher, "payment-gateway-"+host)
		go relay.Run(ctx)
	}

	r := api.NewRouter(api.Deps{
		Payments: handlers.NewPaymentHandler(service, service, paymentRepo),
		Auth:     handlers.NewAuthHandler(sessions),
		AdReward: handlers.NewAdRewardHandler(adreward.NewVerifier(pi, rewardRepo, cfg.AdRewardAmount)),
		Tokens:   sessions,
		Cache:    middleware.NewRedisCache(redisClient),
		Limiter:  limiter,
	})

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Payment Gateway starting", zap.String("port", cfg.Port))
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
