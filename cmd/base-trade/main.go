package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/felipeneri/base-trade/internal/config"
	"github.com/felipeneri/base-trade/internal/engine"
	"github.com/felipeneri/base-trade/internal/handlers"
	"github.com/felipeneri/base-trade/internal/rate"
	"github.com/felipeneri/base-trade/internal/service"
	"github.com/felipeneri/base-trade/internal/storage"
	"github.com/felipeneri/base-trade/internal/ws"
	"github.com/felipeneri/base-trade/libs/health"
	"github.com/felipeneri/base-trade/libs/httpmiddleware"
	"github.com/felipeneri/base-trade/libs/kafka"
	"github.com/felipeneri/base-trade/libs/logging"
	"github.com/felipeneri/base-trade/libs/metrics"
	"github.com/felipeneri/base-trade/libs/trace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.Init(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.NewHTTP(registry)
	orderMetrics := service.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := storage.New(pool, cfg.DB.QueryTimeout)

	matcher := engine.New(service.BookSource{Store: store}, logger, orderMetrics)
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	loaded, err := matcher.LoadSnapshot(loadCtx, "")
	loadCancel()
	if err != nil {
		logger.Error("book snapshot load failed", "error", err)
		os.Exit(1)
	}
	logger.Info("order books rebuilt", "resting_orders", loaded)

	var producer kafka.Publisher
	if cfg.Kafka.Enabled {
		sync, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		producer = kafka.NewDLQPublisher(sync, sync, cfg.Kafka.Topics.DeadLetter, logger)
		defer sync.Close()
	}

	feed := ws.NewFeed(logger)

	orderSvc := service.NewOrderService(store, matcher, producer, feed, logger, orderMetrics, service.Topics{
		OrdersAccepted:  cfg.Kafka.Topics.OrdersAccepted,
		OrdersCancelled: cfg.Kafka.Topics.OrdersCancelled,
		TradesExecuted:  cfg.Kafka.Topics.TradesExecuted,
	})

	handler := handlers.New(orderSvc, logger)
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger, httpMetrics))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))
	router.GET("/ws/trades", feed.Handler())

	handler.Register(router, rate.Middleware(newLimiter(cfg, logger)))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	ready.SetReady(true)

	go func() {
		logger.Info("base-trade http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, logger)
}

// newLimiter prefers the shared redis window when an address is configured;
// a single instance falls back to the in-process limiter.
func newLimiter(cfg *config.Config, logger *slog.Logger) rate.Limiter {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		logger.Info("rate limiter using redis", "addr", cfg.Redis.Addr)
		return rate.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window, "")
	}
	return rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
