package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/northwind-labs/checkout-service/internal/api"
	"github.com/northwind-labs/checkout-service/internal/api/handlers"
	"github.com/northwind-labs/checkout-service/internal/cache"
	"github.com/northwind-labs/checkout-service/internal/config"
	"github.com/northwind-labs/checkout-service/internal/gateway"
	"github.com/northwind-labs/checkout-service/internal/notify"
	"github.com/northwind-labs/checkout-service/internal/repository"
	"github.com/northwind-labs/checkout-service/internal/service"
	"github.com/northwind-labs/checkout-service/pkg/db"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()

	dbCfg, err := db.LoadPostgresConfig()
	if err != nil {
		logger.Fatal("db config", zap.Error(err))
	}
	conn, err := db.NewPostgresConnection(dbCfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureSchema(ctx, conn); err != nil {
		cancel()
		logger.Fatal("db schema", zap.Error(err))
	}
	cancel()

	couponRepo := repository.NewCouponRepo(conn)
	draftRepo := repository.NewDraftRepo(conn)
	orderRepo := repository.NewOrderRepo(conn)
	eventRepo := repository.NewWebhookEventRepo(conn)

	var couponCache service.CouponCache
	if cfg.RedisAddr != "" {
		rdb, err := cache.InitRedis(cfg.RedisAddr, cfg.RedisPassword, logger)
		if err != nil {
			logger.Fatal("redis connect", zap.Error(err))
		}
		defer rdb.Close()
		couponCache = cache.NewCouponCache(rdb, 30*time.Second, logger)
	}

	var notifier service.Notifier
	var dispatcher *notify.Dispatcher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := notify.InitProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.Fatal("kafka connect", zap.Error(err))
		}
		defer producer.Close()
		dispatcher = notify.NewDispatcher(producer, cfg.KafkaTopic, 2, 64, logger)
		notifier = dispatcher
	} else {
		logger.Warn("kafka brokers not configured, order notifications disabled")
	}

	gw := gateway.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.PublicBaseURL)

	couponSvc := service.NewCouponService(couponRepo, couponCache, logger)
	checkoutSvc := service.NewCheckoutService(draftRepo, orderRepo, couponSvc, gw,
		[]byte(cfg.SessionJWTSecret), logger)
	settlementSvc := service.NewSettlementService(conn, draftRepo, orderRepo, eventRepo,
		couponSvc, couponRepo, notifier, logger)

	router := api.NewRouter(
		handlers.NewCheckoutHandler(checkoutSvc, logger),
		handlers.NewWebhookHandler(settlementSvc, []byte(cfg.WebhookSecret), logger),
		logger,
	)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", zap.Error(err))
		}
		if dispatcher != nil {
			dispatcher.Close()
		}
		close(idleConnsClosed)
	}()

	logger.Info("starting checkout-service", zap.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("listen", zap.Error(err))
	}

	<-idleConnsClosed
	logger.Info("server stopped")
}
