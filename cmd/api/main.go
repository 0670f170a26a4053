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

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/flicky/storefront-api/internal/cache"
	"github.com/flicky/storefront-api/internal/config"
	"github.com/flicky/storefront-api/internal/handler"
	"github.com/flicky/storefront-api/internal/logger"
	"github.com/flicky/storefront-api/internal/mail"
	"github.com/flicky/storefront-api/internal/middleware"
	"github.com/flicky/storefront-api/internal/outbox"
	"github.com/flicky/storefront-api/internal/repository"
	"github.com/flicky/storefront-api/internal/scheduler"
	"github.com/flicky/storefront-api/internal/service"
	"github.com/flicky/storefront-api/internal/token"
	"github.com/flicky/storefront-api/internal/tracing"
	"github.com/flicky/storefront-api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service: cfg.App.Name,
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
	})
	tracing.Setup()
	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = cfg.DB.MaxConns
	poolCfg.ConnConfig.Tracer = repository.NewQueryTracer(log, cfg.DB.LogLevel)

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	log.Info("connected to PostgreSQL")

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to Redis: %w", err)
	}
	log.Info("connected to Redis")

	// RabbitMQ
	amqpConn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	defer amqpConn.Close()

	publishCh, err := amqpConn.Channel()
	if err != nil {
		return fmt.Errorf("open RabbitMQ channel: %w", err)
	}
	defer publishCh.Close()

	if err := worker.SetupRabbitMQ(publishCh); err != nil {
		return fmt.Errorf("setup RabbitMQ: %w", err)
	}

	consumeCh, err := amqpConn.Channel()
	if err != nil {
		return fmt.Errorf("open RabbitMQ channel: %w", err)
	}
	defer consumeCh.Close()
	log.Info("connected to RabbitMQ")

	// Kafka
	kafkaWriter := outbox.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.AutoCreate)
	defer kafkaWriter.Close()

	// Repositories
	tx := repository.NewTransactor(dbPool)
	userRepo := repository.NewUserRepository(dbPool)
	categoryRepo := repository.NewCategoryRepository(dbPool)
	productRepo := repository.NewProductRepository(dbPool)
	cartRepo := repository.NewCartRepository(dbPool)
	orderRepo := repository.NewOrderRepository(dbPool)
	otpRepo := repository.NewOTPRepository(dbPool)
	outboxRepo := repository.NewOutboxRepository(dbPool)

	// Cache
	responseCache := cache.NewResponseCache(cache.NewRedisStore(redisClient, cfg.Cache.Prefix), log, cfg.Cache.DefaultTTL)

	// Services
	tokens := token.NewManager(cfg.JWT.Secret, cfg.JWT.Expiration)
	ledger := service.NewInventoryLedger(productRepo)
	authSvc := service.NewAuthService(userRepo, tokens)
	userSvc := service.NewUserService(userRepo)
	resetSvc := service.NewPasswordResetService(tx, userRepo, otpRepo, worker.NewMailPublisher(publishCh), cfg.Mail.OTPTTL, log)
	categorySvc := service.NewCategoryService(categoryRepo, responseCache)
	productSvc := service.NewProductService(tx, productRepo, categoryRepo, responseCache)
	cartSvc := service.NewCartService(tx, cartRepo, ledger, responseCache)
	orderSvc := service.NewOrderService(tx, cartRepo, orderRepo, ledger, outboxRepo, responseCache, log)

	router := handler.NewRouter(handler.RouterConfig{
		Log:         log,
		Tokens:      tokens,
		Users:       userRepo,
		Cache:       responseCache,
		RateLimiter: middleware.NewRateLimiter(redisClient, cfg.RateLimit.Limit, cfg.RateLimit.Window, log),
		CORSOrigins: cfg.CORS.AllowOrigins,
	}, handler.Handlers{
		Auth:     handler.NewAuthHandler(authSvc, userSvc, resetSvc),
		Category: handler.NewCategoryHandler(categorySvc, responseCache),
		Product:  handler.NewProductHandler(productSvc, responseCache),
		Cart:     handler.NewCartHandler(cartSvc, responseCache, cfg.Cache.CartTTL),
		Order:    handler.NewOrderHandler(orderSvc, responseCache, cfg.Cache.OrderTTL),
		Health:   handler.NewHealthHandler(dbPool, redisClient, amqpConn),
	})

	// Background work
	relay := outbox.NewRelay(log, outboxRepo, outbox.NewDispatcher(log, kafkaWriter, cfg.Kafka.OrderTopic), outbox.RelayConfig{
		RelayID:    cfg.Outbox.RelayID,
		BatchSize:  cfg.Outbox.BatchSize,
		Interval:   cfg.Outbox.Interval,
		Lease:      cfg.Outbox.Lease,
		MaxRetries: cfg.Outbox.MaxRetries,
	})

	var sender mail.Sender = mail.NewLogSender(log)
	if cfg.Mail.Host != "" {
		sender = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
	}
	mailWorker := worker.NewMailWorker(consumeCh, sender, redisClient, log)

	cron := scheduler.New(log)
	if err := cron.Register(cfg.Scheduler.OTPPurgeSpec, "otp-purge", resetSvc.PurgeExpired); err != nil {
		return err
	}
	if err := cron.Register(cfg.Scheduler.OutboxPurgeSpec, "outbox-purge", scheduler.PurgeSentOutbox(outboxRepo, cfg.Outbox.SentRetention)); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		if err := mailWorker.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		mailWorker.Stop()
		return nil
	})
	g.Go(func() error { return cron.Run(gctx) })

	return g.Wait()
}
