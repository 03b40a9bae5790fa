package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"txrelay/config"
	httpHandler "txrelay/internal/adapter/http/handler"
	"txrelay/internal/adapter/http/webhookclient"
	kafkabus "txrelay/internal/adapter/eventbus/kafka"
	membus "txrelay/internal/adapter/eventbus/inmemory"
	pgStorage "txrelay/internal/adapter/storage/postgres"
	redisStorage "txrelay/internal/adapter/storage/redis"
	"txrelay/internal/core/ports"
	"txrelay/internal/service"
	"txrelay/pkg/clock"
	"txrelay/pkg/crypto"
	"txrelay/pkg/logger"
	"txrelay/pkg/workerpool"

	"github.com/google/uuid"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Str("mode", cfg.Server.Mode).Int("port", cfg.Server.Port).Msg("starting txrelayd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()
	log.Info().Msg("postgres connected")

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()
	log.Info().Msg("redis connected")

	if cfg.AES.KeyHex == "" {
		log.Fatal().Msg("TXR_AES_KEY_HEX must be set to a 64-character hex-encoded 32-byte key")
	}
	secretBox, err := crypto.NewAESGCMBox(cfg.AES.KeyHex)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize signing-secret encryption box")
	}

	c := clock.Real{}

	txRepo := pgStorage.NewTransactionRepo(pool)
	historyRepo := pgStorage.NewHistoryRepo(pool)
	subRepo := pgStorage.NewSubscriptionRepo(pool)
	deliveryRepo := pgStorage.NewDeliveryRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	secretCache := redisStorage.NewSigningSecretCache(rdb, secretBox)
	dedupCache := redisStorage.NewDeliveryDedupCache(rdb)
	ackGuard := redisStorage.NewAckReplayGuard(rdb)
	lockHolder := fmt.Sprintf("txrelayd-%s", uuid.NewString())
	distLock := redisStorage.NewLock(rdb, lockHolder)

	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	var bus ports.EventBus
	if cfg.Kafka.BootstrapServers == "" {
		bus = membus.New(log)
		log.Warn().Msg("kafka bootstrap servers not configured, falling back to the in-memory event bus")
	} else {
		kb, err := kafkabus.New(cfg.Kafka.BootstrapServers, log, kafkabus.WithConsumerGroup(cfg.Kafka.ConsumerGroup))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize kafka event bus")
		}
		bus = kb
	}
	defer bus.Close()

	ids := service.NewUUIDGenerator()
	sigSvc := service.NewHMACSignatureService()
	hasher := service.NewBcryptSecretHasher(cfg.Webhook.BcryptCost)
	resolver := service.NewFieldIdempotencyResolver(cfg.Idempotency.CriticalFields, cfg.Idempotency.IgnoredFields, cfg.Idempotency.SimilarityThreshold)
	stateMgr := service.NewStateManager(c, cfg.Transaction.PendingTimeout(), cfg.Transaction.ProcessingTimeout(), cfg.Transaction.RetryMaxAttempts)

	alertChannel := service.NewSMTPAlertChannel(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, cfg.SMTP.Recipients)
	alerts := service.NewAlertDispatcher(alertChannel, log)

	defaultPool := workerpool.New(5, 10, 25, workerpool.CallerRuns)
	webhookPool := workerpool.New(10, 20, 50, workerpool.PersistThenCallerRuns)
	defer defaultPool.Close()
	defer webhookPool.Close()
	alerts.WithDispatcher(defaultPool.Submit)

	txService := service.NewTransactionService(txRepo, historyRepo, transactor, resolver, stateMgr, bus, c, cfg.Transaction.RetryMaxAttempts, log)

	subService := service.NewSubscriptionService(subRepo, hasher, ids, secretCache, cfg.Webhook.SecretCacheTTL(), c, cfg.Webhook.RetryMaxAttempts, log)

	webhookHTTPClient := webhookclient.New(webhookclient.Config{
		ConnectTimeout:  cfg.Webhook.ConnectionTimeout(),
		ReadTimeout:     cfg.Webhook.SocketTimeout(),
		MaxTotalConns:   cfg.Webhook.MaxTotalConnections,
		MaxConnsPerHost: cfg.Webhook.MaxConnectionsPerRoute,
		IdleConnTimeout: cfg.Webhook.IdleEviction(),
		KeepAlive:       cfg.Webhook.KeepAlive(),
	})
	deliveryService := service.NewDeliveryService(
		subRepo, deliveryRepo, secretCache, sigSvc, ids, bus, dedupCache, cfg.Webhook.DedupTTL(),
		webhookHTTPClient, c, time.Duration(cfg.Webhook.RetryBaseDelaySeconds)*time.Second, cfg.Webhook.RetryMaxAttempts, log,
	).WithDispatcher(webhookPool.Submit)

	monitorThresholds := service.AnomalyThresholds{
		PendingThreshold:     cfg.Anomaly.PendingThreshold(),
		ProcessingThreshold:  cfg.Anomaly.ProcessingThreshold(),
		RetryThreshold:       cfg.Anomaly.RetryThreshold,
		StateChangeThreshold: cfg.Anomaly.StateChangeThreshold,
	}
	monitor := service.NewMonitorService(
		txRepo, historyRepo, txService, stateMgr, alertChannel, c, monitorThresholds,
		cfg.Transaction.RetryMaxAttempts, cfg.Webhook.SweepBatchLimit, cfg.Transaction.MonitorInterval(), log,
	)
	weeklyReport := func(ctx context.Context) error {
		summary, err := monitor.ReconciliationPass(ctx)
		if err != nil {
			return fmt.Errorf("weekly reconciliation pass: %w", err)
		}
		alerts.SendSystemHealthAlert(ctx, summary, 0)
		return nil
	}
	retryScheduler, err := service.NewRetryScheduler(
		deliveryRepo, deliveryService, distLock, c,
		cfg.Webhook.DueRetrySweepInterval(), cfg.Webhook.HangSweepInterval(), cfg.Webhook.HangTimeout(), cfg.Webhook.CleanupMaxAge(),
		cfg.Webhook.SweepBatchLimit, cfg.Cron.CleanupSweep, cfg.Cron.WeeklyReport, weeklyReport, log,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize retry scheduler")
	}

	adminFacade := service.NewAdminFacade(txRepo, historyRepo, deliveryRepo, txService, subService, deliveryService, monitor, log)
	adminVerifier := service.NewJWTAdminTokenVerifier(cfg.JWT.Secret)

	go func() {
		if err := bus.Subscribe(ctx, ports.TopicTransactionEvents, deliveryService.FanOut); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("transaction-events subscription exited")
		}
	}()
	go func() {
		if err := bus.Subscribe(ctx, ports.TopicWebhookEvents, deliveryService.HandleDelivery); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("webhook-events subscription exited")
		}
	}()

	go monitor.Start(ctx)
	retryScheduler.Start(ctx)

	adminHandler := httpHandler.NewAdminHandler(adminFacade)
	webhookHandler := httpHandler.NewWebhookHandler(deliveryRepo, ackGuard, c, log)
	healthHandler := httpHandler.NewHealthHandler(pgHealth, redisHealth)
	router := httpHandler.NewRouter(adminHandler, webhookHandler, healthHandler, adminVerifier, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	}

	retryScheduler.Stop()
	monitor.Stop()
	log.Info().Msg("shutdown complete")
}
