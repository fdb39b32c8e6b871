package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/MrEthical07/tenantauth"
	"github.com/MrEthical07/tenantauth/internal/config"
	"github.com/MrEthical07/tenantauth/internal/httpapi"
	"github.com/MrEthical07/tenantauth/internal/mailer"
	"github.com/MrEthical07/tenantauth/internal/rate"
	"github.com/MrEthical07/tenantauth/internal/repository"
	otelexport "github.com/MrEthical07/tenantauth/metrics/export/otel"
	"github.com/MrEthical07/tenantauth/metrics/export/prometheus"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newRedis,
			newStore,
			newMailer,
			newEngine,
			newRouter,
			newHTTPServer,
		),
		fx.Invoke(registerOTelMetrics, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger.With(zap.String("service", cfg.ServiceName)), nil
}

// newRedis returns nil when REDIS_ADDR is unset; the engine then keeps its
// counters in process.
func newRedis(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("redis not configured, using in-process limiters")
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return client.Close() },
	})
	return client, nil
}

func newStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (tenantauth.CredentialStore, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory credential store")
		return tenantauth.NewMemoryStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	return repository.NewPostgresCredentialStore(pool), nil
}

func newMailer(cfg config.Config, logger *zap.Logger) (tenantauth.Mailer, error) {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set, codes are written to the log")
		return mailer.NewLogMailer(logger), nil
	}
	return mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		AppName:  cfg.ServiceName,
	})
}

func newEngine(
	lc fx.Lifecycle,
	cfg config.Config,
	logger *zap.Logger,
	store tenantauth.CredentialStore,
	m tenantauth.Mailer,
	rdb redis.UniversalClient,
) (*tenantauth.Engine, error) {
	b := tenantauth.New().
		WithConfig(cfg.Engine()).
		WithStore(store).
		WithMailer(m).
		WithLogger(logger).
		WithAuditSink(tenantauth.NewZapAuditSink(logger))
	if rdb != nil {
		b = b.WithRedis(rdb)
	}

	engine, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			engine.Close()
			return nil
		},
	})
	return engine, nil
}

func newRouter(cfg config.Config, engine *tenantauth.Engine, logger *zap.Logger, rdb redis.UniversalClient) *gin.Engine {
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	opts := httpapi.Options{
		ServiceName: cfg.ServiceName,
		Logger:      logger,
		RPS:         cfg.RateLimitRPS,
		Burst:       cfg.RateLimitBurst,
		Metrics:     prometheus.NewPrometheusExporter(engine).Handler(),
	}
	if rdb != nil && cfg.RateLimitRPS > 0 {
		// one shared budget per minute across replicas
		perMinute := int(cfg.RateLimitRPS * 60)
		if perMinute < cfg.RateLimitBurst {
			perMinute = cfg.RateLimitBurst
		}
		opts.Limiter = rate.New(rdb, rate.Config{Limit: perMinute, Window: time.Minute})
	}
	return httpapi.NewRouter(engine, opts)
}

func newHTTPServer(cfg config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// registerOTelMetrics mirrors the engine counters into whatever meter
// provider is installed globally.
func registerOTelMetrics(lc fx.Lifecycle, cfg config.Config, engine *tenantauth.Engine) error {
	exporter, err := otelexport.NewOTelExporter(otel.Meter(cfg.ServiceName), engine)
	if err != nil {
		return fmt.Errorf("register otel metrics: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return exporter.Close() },
	})
	return nil
}

func startHTTPServer(lc fx.Lifecycle, srv *http.Server, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			logger.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
