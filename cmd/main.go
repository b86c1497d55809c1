package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"sterilization-gateway/internal/alerts"
	"sterilization-gateway/internal/api"
	"sterilization-gateway/internal/backend"
	"sterilization-gateway/internal/cache"
	"sterilization-gateway/internal/config"
	"sterilization-gateway/internal/db"
	"sterilization-gateway/internal/events"
	"sterilization-gateway/internal/kafka"
	"sterilization-gateway/internal/logging"
	"sterilization-gateway/internal/providers"
	"sterilization-gateway/internal/services"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Gateway failed: %v", err)
	}
}

// run wires and serves the gateway. Errors are returned, not fatal, so the
// deferred closes still run.
func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database. Without one the gateway still serves the dashboard,
	// but audit and notifications are off.
	var dbConn *db.DB
	if cfg.DB.DSN != "" {
		dbConn, err = db.New(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Errorf("Failed to connect to database: %v", err)
			return fmt.Errorf("database connection: %w", err)
		}
		defer dbConn.Close()
		if err := dbConn.Migrate(ctx); err != nil {
			logger.Errorf("Database migration failed: %v", err)
			return fmt.Errorf("database migration: %w", err)
		}
	} else {
		logger.Warnf("DB_DSN not set, audit and notifications disabled")
	}

	// Query cache
	var store cache.Store
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			logger.Errorf("Redis connection failed: %v", err)
			return fmt.Errorf("redis connection: %w", err)
		}
		store = cache.NewRedis(rdb, "sterilization:")
		logger.Infof("Using Redis cache at %s", cfg.Redis.Addr)
	} else {
		store = cache.NewMemory()
	}
	defer store.Close()

	client := backend.New(cfg.Backend.URL, cfg.Backend.Token, logger, backend.WithTimeout(cfg.Backend.Timeout))

	// nil interfaces, not typed nil pointers, when there is no database
	var audit services.AuditStore
	var apiStore api.Store
	if dbConn != nil {
		audit = dbConn
		apiStore = dbConn
	}
	svc := services.New(client, store, cfg.Cache.TTL, audit, nil, logger)

	var wg sync.WaitGroup

	pollerOpts := []alerts.Option{alerts.OnChange(svc.OnAlertMap)}
	stopNotifier := func() {}
	if dbConn != nil {
		provs := map[string]providers.Provider{
			"telegram": providers.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.RateLimit, logger),
			"email":    providers.NewEmail(cfg),
		}
		notifier := services.NewNotifier(dbConn, provs, cfg.Notification.QueueSize, cfg.Notification.MaxWorkers, logger)
		notifier.Start(&wg)
		stopNotifier = notifier.Stop
		pollerOpts = append(pollerOpts, alerts.OnEscalation(notifier.OnEscalation))
	}
	if rdb != nil {
		lease := alerts.NewRedisLease(rdb, "sterilization:alerts-poller", 2*cfg.Alerts.PollInterval)
		pollerOpts = append(pollerOpts, alerts.WithShared(store, lease))
	}
	poller := alerts.NewPoller(client, cfg.Alerts.PollInterval, logger, pollerOpts...)
	svc.SetAlertMap(poller)

	dispatcher := events.NewDispatcher(store, logger)
	dispatcher.Subscribe(svc.OnInvalidate)
	subscriber := events.NewSubscriber(client, dispatcher, logger)

	if cfg.Kafka.Broker != "" {
		consumer := kafka.NewConsumer(kafka.Config{
			Broker:  cfg.Kafka.Broker,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, dispatcher, logger)
		logger.Infof("Kafka consumer initialized with topic: %s", cfg.Kafka.Topic)
		consumer.Start(ctx, &wg)
		defer consumer.Close()
	}

	// Start API server
	router := api.NewRouter(svc, apiStore, logger, cfg)
	server := &http.Server{
		Addr:              cfg.API.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		poller.Run(gctx)
		return nil
	})
	g.Go(func() error {
		subscriber.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Infof("Starting API server on %s%s", cfg.API.Port, cfg.API.BasePath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("Shutting down...")
		svc.Hub().CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if runErr != nil {
		logger.Errorf("Gateway stopped with error: %v", runErr)
	}
	stop()
	stopNotifier()
	wg.Wait()
	logger.Infof("Service stopped")
	return runErr
}
