package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/property-listing-api/internal/config"
	"github.com/iliyamo/property-listing-api/internal/database"
	"github.com/iliyamo/property-listing-api/internal/handler"
	"github.com/iliyamo/property-listing-api/internal/outbox"
	"github.com/iliyamo/property-listing-api/internal/queue"
	"github.com/iliyamo/property-listing-api/internal/repository"
	"github.com/iliyamo/property-listing-api/internal/router"
	"github.com/iliyamo/property-listing-api/internal/scheduler"
	"github.com/iliyamo/property-listing-api/internal/utils"
	"github.com/iliyamo/property-listing-api/internal/workflow"
)

const shutdownTimeout = 30 * time.Second

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := newLogger(cfg)
	log.WithFields(logrus.Fields{"env": cfg.Env, "driver": cfg.DB.Driver}).Info("starting property listing api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := database.NewPool(cfg.DB, log)
	if err := pool.Init(ctx); err != nil {
		log.WithError(err).Error("database initialisation failed")
		os.Exit(1)
	}
	db, err := pool.DB()
	if err != nil {
		log.WithError(err).Error("database unavailable")
		os.Exit(1)
	}
	if err := database.Migrate(ctx, db, cfg.DB.Driver); err != nil {
		log.WithError(err).Error("schema migration failed")
		os.Exit(1)
	}
	dialect := repository.DialectFor(cfg.DB.Driver)

	hasher := utils.BcryptHasher(cfg.BcryptCost)
	eng := workflow.New(pool, dialect, workflow.Options{
		OpTimeout:      cfg.WorkflowTimeout,
		AcquireTimeout: cfg.DB.AcquireTimeout,
		RetryBackoff:   cfg.RetryBackoff,
		Hasher:         hasher,
		Logger:         log,
	})

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable: response cache disabled, rate limiting is local")
	}

	workers, cancelWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var relay scheduler.Relay
	if cfg.Outbox.Enabled {
		pub := queue.NewPublisher(cfg.AMQPURL, queue.NotificationQueue, log)
		relay = outbox.NewRelay(repository.NewNotificationRepo(db, dialect), pub, outbox.RelayOptions{
			RedispatchAfter: cfg.Outbox.RedispatchAfter,
			BatchSize:       cfg.Outbox.BatchSize,
			Logger:          log,
		})
		worker := outbox.NewWorker(outbox.NewLogSender(cfg.Outbox.LogDir), eng, log)
		consumer := queue.NewConsumer(cfg.AMQPURL, queue.NotificationQueue, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(workers, consumer); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("notification worker stopped")
			}
		}()
	}

	sched, err := scheduler.New(scheduler.Config{
		ReconcileCron: cfg.Jobs.ReconcileCron,
		ExpiryCron:    cfg.Jobs.ExpiryCron,
		ListingMaxAge: cfg.Jobs.ListingMaxAge,
		RelayEvery:    cfg.Outbox.PollInterval,
	}, eng, relay, log)
	if err != nil {
		log.WithError(err).Error("scheduler setup failed")
		os.Exit(1)
	}
	sched.Start()

	h := handler.New(handler.Deps{
		Config:  cfg,
		Engine:  eng,
		Source:  pool,
		Dialect: dialect,
		Hasher:  hasher,
		Logger:  log,
	})
	e := router.New(h, router.Options{
		Config:           cfg,
		Redis:            rdb,
		RateLimit:        config.LoadRateLimitConfig(),
		EnquiryRateLimit: config.LoadEnquiryRateLimitConfig(),
		Cache:            config.LoadCacheConfig(),
		Logger:           log,
	})

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr()).Info("http server listening")
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	fatal := make(chan error, 1)
	go pool.Monitor(ctx, func(err error) { fatal <- err })

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		log.WithError(err).Error("http server failed")
		exitCode = 1
	case err := <-fatal:
		log.WithError(err).Error("database connection lost")
		if !cfg.IsProduction() {
			log.Error("aborting without graceful shutdown")
			os.Exit(1)
		}
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := e.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	cancelWorkers()
	wg.Wait()
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := pool.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		log.WithError(err).Error("shutdown finished with errors")
		exitCode = 1
	} else {
		log.Info("shutdown complete")
	}
	os.Exit(exitCode)
}
