/**
 * @description
 * Main entry point for the ledger-service. It wires the Postgres ledger, the
 * Redis wallet cursor, RabbitMQ events, the payment and wallet clients, the
 * cron scheduler and the HTTP API, then waits for a termination signal.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL connection pool.
 * - github.com/redis/go-redis/v9: wallet cursor storage.
 * - github.com/joho/godotenv: .env loading during local development.
 */
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/transfa/ledger-service/internal/api"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/config"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/paymentclient"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
	"github.com/transfa/ledger-service/pkg/walletclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found; using environment")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting ledger-service", "port", cfg.ServerPort)

	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	repository := store.NewPostgresRepository(dbpool, store.Options{ClaimTTL: cfg.ClaimTTL()})
	if err := repository.Initialize(ctx); err != nil {
		logger.Error("failed to initialize ledger schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connection established")

	cursors, closeCursors := newCursorStore(ctx, cfg, logger)
	defer closeCursors()

	var publisher rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	} else {
		logger.Info("rabbitmq producer connected")
		publisher = producer
	}
	defer publisher.Close()

	service := app.NewService(repository, domain.NewIDGenerator(), publisher, cfg.EventExchange, logger)

	payments := paymentclient.NewClient(cfg.PaymentAPIBaseURL, cfg.PaymentAPIKey, cfg.PaymentSenderAPIKey)
	wallet := walletclient.NewClient(cfg.WalletAPIBaseURL, cfg.WalletAPIKey)

	dispatcher := app.NewDispatcher(service, map[domain.Kind]app.Processor{
		domain.KindDeposit:    app.NewDepositProcessor(wallet, logger),
		domain.KindWithdrawal: app.NewWithdrawalProcessor(payments, logger),
	}, cfg.MaxDispatchAttempts, logger)

	var intake *app.PaymentIntake
	if cfg.PaymentAccountID != "" {
		intake = app.NewPaymentIntake(service, payments, cfg.PaymentAccountID, logger)
	} else {
		logger.Warn("payment account not configured; payment polling disabled", "env", "PAYMENT_ACCOUNT_ID")
	}

	var watcher *app.WalletWatcher
	if cfg.WalletAPIBaseURL != "" {
		watcher = app.NewWalletWatcher(service, wallet, cursors, cfg.WalletChain, logger)
	} else {
		logger.Warn("wallet api not configured; wallet polling disabled", "env", "WALLET_API_BASE_URL")
	}

	jobs := app.NewJobs(service, dispatcher, intake, watcher, logger, cfg)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	registered := scheduler.Start()
	logger.Info("scheduler started", "jobs", registered)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq consumer unavailable; transfer requests over the bus disabled", "error", err)
	} else {
		defer consumer.Close()
		requests := app.NewTransferRequestConsumer(service, logger)
		if err := consumer.ConsumeWithBindings(cfg.EventExchange, cfg.TransferRequestQueue, requests.Bindings()); err != nil {
			logger.Error("transfer request consumer start failed", "error", err)
			os.Exit(1)
		}
		logger.Info("transfer request consumer started", "queue", cfg.TransferRequestQueue)
	}

	handler := api.NewHandler(service, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           api.NewRouter(handler, cfg.AllowedOrigins()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	<-scheduler.Stop().Done()
	logger.Info("shutdown complete")
}

// newCursorStore connects to Redis when configured and falls back to an
// in-process cursor otherwise.
func newCursorStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.CursorStore, func()) {
	fallback := func(reason string, err error) (store.CursorStore, func()) {
		logger.Warn("redis unavailable; wallet cursor kept in memory", "reason", reason, "error", err)
		return store.NewMemoryCursorStore(), func() {}
	}

	if cfg.RedisURL == "" {
		return fallback("REDIS_URL not set", nil)
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fallback("url parse failed", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return fallback("ping failed", err)
	}
	logger.Info("redis connected")
	return store.NewRedisCursorStore(client, cfg.RedisKeyPrefix), func() { client.Close() }
}
