package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kislikjeka/fundflow/internal/infra/kafka"
	"github.com/kislikjeka/fundflow/internal/infra/postgres"
	infraRedis "github.com/kislikjeka/fundflow/internal/infra/redis"
	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/module/allocation"
	"github.com/kislikjeka/fundflow/internal/module/org"
	"github.com/kislikjeka/fundflow/internal/module/payments"
	"github.com/kislikjeka/fundflow/internal/module/transfer"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
	"github.com/kislikjeka/fundflow/internal/transport/httpapi"
	"github.com/kislikjeka/fundflow/internal/transport/httpapi/handler"
	"github.com/kislikjeka/fundflow/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/fundflow/pkg/config"
	"github.com/kislikjeka/fundflow/pkg/logger"
	"github.com/kislikjeka/fundflow/pkg/money"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDefault(cfg.Env)
	log.Info("Starting FundFlow API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"events_sink", cfg.EventsSink,
	)
	money.DefaultCurrency = strings.ToUpper(cfg.DefaultCurrency)

	db, err := postgres.NewPool(ctx, postgres.Config{
		URL:         cfg.DatabaseURL,
		MaxConns:    int32(cfg.DBMaxConns),
		LockTimeout: cfg.DBLockTimeout,
	})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Database connection established")

	// Redis is optional: without it wallet reads go to Postgres and the redis event sink is unavailable
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		log.Info("Redis connection established")
	} else {
		log.Warn("REDIS_URL not configured, wallet cache disabled")
	}

	// Repositories
	ledgerRepo := postgres.NewLedgerRepository(db.Pool)
	walletRepo := postgres.NewWalletRepository(db.Pool)
	orgRepo := postgres.NewOrgRepository(db.Pool)
	allocationRepo := postgres.NewAllocationRepository(db.Pool)
	eventRepo := postgres.NewProviderEventRepository(db.Pool)
	uow := postgres.NewUnitOfWork(db.Pool)

	// Ledger options: event sink and balance cache
	var ledgerOpts []ledger.Option
	var walletCache wallet.Cache
	if redisClient != nil {
		cache := infraRedis.NewWalletCache(redisClient, cfg.WalletCacheTTL, log)
		walletCache = cache
		ledgerOpts = append(ledgerOpts, ledger.WithBalanceCache(cache))
	}

	switch cfg.EventsSink {
	case config.EventsSinkRedis:
		ledgerOpts = append(ledgerOpts, ledger.WithPublisher(infraRedis.NewEventPublisher(redisClient, cfg.EventsChannel, log)))
		log.Info("Publishing ledger events to redis", "channel", cfg.EventsChannel)
	case config.EventsSinkKafka:
		publisher := kafka.NewEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn("Failed to close kafka publisher", "error", err)
			}
		}()
		ledgerOpts = append(ledgerOpts, ledger.WithPublisher(publisher))
		log.Info("Publishing ledger events to kafka", "topic", cfg.KafkaTopic, "brokers", len(cfg.KafkaBrokers))
	}

	// Services
	ledgerSvc := ledger.NewService(ledgerRepo, log, ledgerOpts...)
	walletSvc := wallet.NewService(walletRepo, walletCache, log)
	orgSvc := org.NewService(orgRepo, walletSvc, uow, log)
	allocationSvc := allocation.NewService(allocationRepo, orgSvc, ledgerSvc, walletSvc, uow, log)
	paymentSvc := payments.NewService(eventRepo, ledgerSvc, walletSvc, log)
	transferSvc := transfer.NewService(ledgerSvc, walletSvc, log)
	log.Info("Services initialized")

	// HTTP handlers
	jwtSvc := middleware.NewJWTService(cfg.JWTSecret)

	var cachePinger handler.Pinger
	if redisClient != nil {
		cachePinger = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	r := httpapi.NewRouter(httpapi.Config{
		Logger:             log,
		AllowedOrigins:     cfg.AllowedOrigins,
		RateLimit:          middleware.RateLimit(ctx),
		WalletHandler:      handler.NewWalletHandler(walletSvc, ledgerSvc, orgSvc, allocationSvc, log),
		TransactionHandler: handler.NewTransactionHandler(ledgerSvc, walletSvc, orgSvc, allocationSvc, log),
		TransferHandler:    handler.NewTransferHandler(transferSvc, log),
		PaymentHandler:     handler.NewPaymentHandler(paymentSvc, cfg.WebhookSecret, log),
		OrgHandler:         handler.NewOrgHandler(orgSvc, walletSvc, log),
		AllocationHandler:  handler.NewAllocationHandler(allocationSvc, log),
		HealthHandler:      handler.NewHealthHandler(handler.PingFunc(db.Health), cachePinger),
		JWTMiddleware:      middleware.JWTMiddleware(jwtSvc),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("Server stopped gracefully")
}
