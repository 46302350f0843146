package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/argus/config"
	"github.com/Ramsey-B/argus/internal/repositories/record"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/events"
	"github.com/Ramsey-B/argus/pkg/health"
	"github.com/Ramsey-B/argus/pkg/inject"
	"github.com/Ramsey-B/argus/pkg/kafka"
	"github.com/Ramsey-B/argus/pkg/middleware"
	"github.com/Ramsey-B/argus/pkg/redis"
	"github.com/Ramsey-B/argus/pkg/routes/contracts"
	"github.com/Ramsey-B/argus/pkg/routes/requests"
	"github.com/Ramsey-B/argus/pkg/startup"
	"github.com/Ramsey-B/argus/pkg/tracing"
	"github.com/Ramsey-B/argus/pkg/tracing/exporters"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

var version = "dev"

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			logger, flush, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer flush()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// app holds what the startup dependencies build for each other.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger

	db       database.DB
	producer *kafka.Producer
	redis    *redis.Client
	checker  *health.Checker
	server   *http.Server
}

func serve(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	rt := &app{cfg: cfg, logger: logger}

	s := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	s.Add(startup.Func{ID: "tracing", StartFunc: rt.startTracing})
	s.Add(startup.Func{ID: "database", StartFunc: rt.startDatabase, StopFunc: rt.stopDatabase})
	s.Add(startup.Func{ID: "migrations", Needs: []string{"database"}, StartFunc: rt.runMigrations})
	s.Add(startup.Func{ID: "kafka", StartFunc: rt.startKafka, StopFunc: rt.stopKafka})
	s.Add(startup.Func{ID: "redis", StartFunc: rt.startRedis, StopFunc: rt.stopRedis})
	s.Add(startup.Func{
		ID:        "http",
		Needs:     []string{"migrations", "kafka", "redis", "tracing"},
		StartFunc: rt.startHTTP,
		StopFunc:  rt.stopHTTP,
	})

	if err := s.Start(ctx); err != nil {
		return err
	}
	rt.checker.SetReady(true)

	<-ctx.Done()
	logger.Info("Shutting down")
	rt.checker.SetReady(false)

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}

func (rt *app) startTracing(ctx context.Context) error {
	if !rt.cfg.TracingEnabled {
		return nil
	}
	shutdown, err := tracing.Setup(ctx, rt.cfg.AppName, exporters.OTLPConfig{
		Endpoint: rt.cfg.OTLPEndpoint,
		Protocol: rt.cfg.OTLPProtocol,
		Insecure: true,
	})
	if err != nil {
		return errors.Wrap(err, "set up tracing")
	}
	go func() {
		<-ctx.Done()
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(flushCtx)
	}()
	return nil
}

func (rt *app) startDatabase(ctx context.Context) error {
	db, err := database.Open(ctx, databaseConfig(rt.cfg), rt.logger)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrapf(err, "ping %s database", rt.cfg.DatabaseDriver)
	}
	rt.db = db
	return nil
}

func (rt *app) stopDatabase(context.Context) error {
	return rt.db.Close()
}

func (rt *app) runMigrations(context.Context) error {
	if !rt.cfg.DatabaseMigrationsEnabled {
		return nil
	}
	return migrationService(rt.cfg, rt.logger).MigrateDB(rt.db)
}

func (rt *app) startKafka(context.Context) error {
	if !rt.cfg.KafkaEnabled {
		return nil
	}
	rt.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      rt.cfg.KafkaBrokers,
		Topic:        rt.cfg.KafkaStatusTopic,
		BatchSize:    rt.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(rt.cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: rt.cfg.KafkaRequiredAcks,
		Compression:  rt.cfg.KafkaCompression,
	}, rt.logger)
	return nil
}

func (rt *app) stopKafka(context.Context) error {
	if rt.producer == nil {
		return nil
	}
	return rt.producer.Close()
}

func (rt *app) startRedis(ctx context.Context) error {
	if !rt.cfg.RedisEnabled {
		return nil
	}
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     rt.cfg.RedisHost,
		Port:     rt.cfg.RedisPort,
		Password: rt.cfg.RedisPassword,
		DB:       rt.cfg.RedisDB,
	}, rt.logger)
	if err != nil {
		return err
	}
	rt.redis = client
	return nil
}

func (rt *app) stopRedis(context.Context) error {
	if rt.redis == nil {
		return nil
	}
	return rt.redis.Close()
}

func (rt *app) startHTTP(ctx context.Context) error {
	var guard record.Guard = record.NopGuard{}
	var redisPinger health.Pinger
	if rt.redis != nil {
		guard = redis.NewFolioGuard(redis.NewLocker(rt.redis, ""), rt.cfg.FolioLockTTL(), rt.cfg.FolioLockWait(), rt.logger)
		redisPinger = health.PingFunc(rt.redis.Ping)
	}
	var notifier events.Notifier = events.Nop{}
	if rt.producer != nil {
		notifier = events.NewEmitter(rt.producer, rt.logger)
	}

	svc := newServices(rt.cfg, rt.db, guard, notifier, rt.logger)
	if err := svc.warm(ctx); err != nil {
		return err
	}
	rt.logger.WithContext(ctx).WithField("capabilities", svc.probe.Report()).Info("Resolved schema capabilities")

	rt.checker = health.NewChecker(rt.db, redisPinger, svc.probe, version)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(rt.logger)
	e.Use(otelecho.Middleware(rt.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(rt.logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	rt.checker.RegisterRoutes(e)

	container, err := svc.container(rt.cfg.AppName, rt.logger)
	if err != nil {
		return err
	}

	api := e.Group("/api/v1", inject.Middleware(container.GetContainerID()))
	contracts.Register(api.Group("/contracts"))
	requests.Register(api.Group("/requests"))

	rt.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(rt.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(rt.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(rt.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(rt.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    rt.cfg.MaxHeaderBytes,
	}

	go func() {
		rt.logger.Infof("Listening on %s", rt.server.Addr)
		if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.WithError(err).Error("HTTP server stopped")
		}
	}()
	return nil
}

func (rt *app) stopHTTP(ctx context.Context) error {
	return rt.server.Shutdown(ctx)
}
