// File: cmd/app/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"order-payments/internal/config"
	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/adapter"
	payAdapters "order-payments/internal/infra/adapters/payment"
	tele "order-payments/internal/infra/adapters/telegram"
	"order-payments/internal/infra/api"
	"order-payments/internal/infra/api/apiv1"
	pg "order-payments/internal/infra/db/postgres"
	"order-payments/internal/infra/lock"
	"order-payments/internal/infra/logging"
	"order-payments/internal/infra/messaging"
	"order-payments/internal/infra/metrics"
	red "order-payments/internal/infra/redis"
	"order-payments/internal/infra/sched"
	"order-payments/internal/infra/worker"
	"order-payments/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- Config & logging ----
	cfg, err := config.LoadConfig()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, pg.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis (locks, rate limiting) ----
	var (
		locker  adapter.Locker
		limiter api.Limiter
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		locker = red.NewLocker(redisClient)
		limiter = red.NewRateLimiter(redisClient)
	} else {
		logger.Warn().Msg("redis.url not set; using in-process locks and no rate limiting")
		locker = lock.NewLocalLocker()
	}

	// ---- Repositories ----
	payRepo := pg.NewPaymentRepo(pool)
	orderRepo := pg.NewOrderRepo(pool)
	eventRepo := pg.NewWebhookEventRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Gateway ----
	var gateway adapter.PaymentGateway
	switch cfg.Gateway.Provider {
	case "stripe":
		gateway, err = payAdapters.NewStripeGateway(cfg.Gateway.Stripe.SecretKey, cfg.Gateway.Stripe.WebhookSecret, cfg.Gateway.Stripe.Tolerance, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("stripe gateway")
		}
	default:
		logger.Warn().Msg("using the in-memory noop gateway")
		gateway = payAdapters.NewNoopPaymentGateway(cfg.Gateway.Stripe.WebhookSecret)
	}

	// ---- Event publishing ----
	var publisher adapter.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := messaging.NewKafkaPublisher(&cfg.Kafka, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("kafka")
		}
		publisher = kp
	} else {
		publisher = messaging.NewNoopPublisher(logger)
	}
	defer publisher.Close()

	// ---- Receipts ----
	var notifier adapter.ReceiptNotifier
	if cfg.Telegram.Token != "" {
		n, err := tele.NewReceiptNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram")
		}
		notifier = n
	} else {
		notifier = tele.NewNoopNotifier(logger)
	}

	// ---- Use cases ----
	totalsUC := usecase.NewOrderTotalsUseCase(payRepo, orderRepo, tm, publisher, model.OverpaymentPolicy(cfg.Payments.OverpaymentPolicy), logger)
	receiptUC := usecase.NewReceiptUseCase(payRepo, notifier, logger)
	paymentUC := usecase.NewPaymentUseCase(payRepo, orderRepo, gateway, tm, locker, totalsUC, receiptUC, publisher,
		usecase.PaymentSettings{
			LinkTTL:     cfg.Payments.LinkTTL,
			ReturnURL:   cfg.Payments.ReturnURL,
			LockTTL:     cfg.Payments.LockTTL,
			SyncRetries: cfg.Payments.SyncRetries,
			SyncBackoff: cfg.Payments.SyncBackoff,
		}, logger)
	totalsUC.SetExcessRefunder(paymentUC)
	webhookUC := usecase.NewWebhookUseCase(payRepo, eventRepo, gateway, tm, totalsUC, receiptUC, publisher, logger)

	// ---- Background workers ----
	var (
		bg sync.WaitGroup
		wp *worker.Pool
	)
	if cfg.Reconciler.Enabled {
		wp = worker.NewPool(cfg.Reconciler.Workers, logger)
		wp.Start(ctx)
		rec := sched.NewPaymentReconciler(paymentUC, payRepo, wp, sched.ReconcilerOptions{
			Interval:   cfg.Reconciler.Interval,
			StaleAfter: cfg.Reconciler.StaleAfter,
			BatchSize:  cfg.Reconciler.BatchSize,
			RatePerSec: cfg.Reconciler.RatePerSec,
		}, logger)
		bg.Add(1)
		go func() {
			defer bg.Done()
			_ = rec.Run(ctx)
		}()
	}
	if cfg.Receipts.Enabled {
		rw := sched.NewReceiptWorker(cfg.Receipts.RetryEvery, cfg.Receipts.RetryAfter, cfg.Receipts.BatchSize, receiptUC, logger)
		bg.Add(1)
		go func() {
			defer bg.Done()
			_ = rw.Run(ctx)
		}()
	}
	go func() {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				metrics.ObservePool(pool)
			}
		}
	}()

	// ---- HTTP ----
	var auth *api.Authenticator
	if cfg.Auth.JWTSecret != "" {
		auth = api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	}
	v1 := apiv1.NewServer(paymentUC, totalsUC, webhookUC, cfg.Server.MaxWebhookBytes, logger)
	srv := api.NewServer(cfg.Server, api.NewRouter(cfg.Server, v1, auth, limiter, logger), logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	bg.Wait()
	if wp != nil {
		wp.Stop()
	}
	logger.Info().Msg("shutdown complete")
}
