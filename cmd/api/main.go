package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/milad7akbari/sysense/internal/auth"
	"github.com/milad7akbari/sysense/internal/config"
	"github.com/milad7akbari/sysense/internal/db"
	httphandler "github.com/milad7akbari/sysense/internal/http"
	"github.com/milad7akbari/sysense/internal/logging"
	"github.com/milad7akbari/sysense/internal/metrics"
	"github.com/milad7akbari/sysense/internal/middleware"
	"github.com/milad7akbari/sysense/internal/ratelimit"
	"github.com/milad7akbari/sysense/internal/repo"
	"github.com/milad7akbari/sysense/internal/sms"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Options{Debug: cfg.LogDebug, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		zap.String("port", cfg.Port),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("database_url", cfg.RedactedDatabaseURL()),
		zap.String("rate_limit_backend", cfg.RateLimitBackend),
		zap.String("sms_driver", cfg.SMSDriver),
	)
	if cfg.OTPDebugResponse {
		logger.Warn("OTP_DEBUG_RESPONSE is enabled; codes are returned in responses")
	}

	database, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, cfg.DBDriver); err != nil {
		return err
	}
	dialect := repo.Postgres
	if cfg.DBDriver == db.DriverSQLite {
		dialect = repo.SQLite
	}
	store := repo.NewStore(database, dialect)

	clock := clockwork.NewRealClock()
	limiter, err := newLimiter(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer limiter.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	sender, closeSender := newSender(cfg, logger)
	defer closeSender()
	dispatcher := sms.NewDispatcher(sender, sms.DispatcherConfig{
		Workers:   cfg.SMSWorkers,
		QueueSize: cfg.SMSQueueSize,
	}, logger, m)
	// Runs before closeSender so queued codes still reach the sender.
	defer dispatcher.Close()

	hasher := auth.NewArgon2Hasher(auth.Argon2Params{
		Memory:      cfg.Argon2MemoryKiB,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
	})
	codec := auth.NewTokenCodec(cfg.JWTSecret, clock)

	svc, err := auth.NewService(auth.Deps{
		Store:     store,
		OTPs:      auth.NewOTPStore(hasher, cfg.OTPLength, cfg.OTPTTL, clock),
		Ledger:    auth.NewLedger(codec, cfg.RefreshTokenTTL, clock),
		Codec:     codec,
		Hasher:    hasher,
		Limiter:   limiter,
		Deliverer: dispatcher,
		Metrics:   m,
		Logger:    logger,
		Clock:     clock,
	}, auth.Config{
		AccessTokenTTL:   cfg.AccessTokenTTL,
		DebugOTPResponse: cfg.OTPDebugResponse,
		RevokeAllOnReuse: cfg.RevokeAllOnReuse,
		PruneRetention:   cfg.PruneRetention,
	})
	if err != nil {
		return err
	}

	router := httphandler.NewRouter(httphandler.RouterDeps{
		Service:  svc,
		Health:   store,
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
		IPLimit:  middleware.IPRateLimit(ctx, cfg.IPRateRPS, cfg.IPRateBurst, logger),
		Logger:   logger,
	})

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return svc.RunJanitor(gctx, cfg.PruneInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// closer is satisfied by both rate limiter backends.
type closer interface {
	ratelimit.Limiter
	Close() error
}

func newLimiter(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (closer, error) {
	lc := ratelimit.Config{
		Limit:   cfg.OTPRateLimit,
		Window:  cfg.OTPRateWindow,
		IdleTTL: cfg.RateLimitIdleTTL,
	}
	if cfg.RateLimitBackend != "redis" {
		return ratelimit.NewMemoryLimiter(lc, clock), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return ratelimit.NewRedisLimiter(client, lc, ""), nil
}

func newSender(cfg *config.Config, logger *zap.Logger) (sms.Sender, func()) {
	switch cfg.SMSDriver {
	case "http":
		return sms.NewHTTPSender(sms.DefaultHTTPConfig(cfg.SMSGatewayURL, cfg.SMSGatewayToken), nil, logger), func() {}
	case "kafka":
		s := sms.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaOTPTopic)
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("close kafka writer", zap.Error(err))
			}
		}
	default:
		return sms.NewLogSender(logger), func() {}
	}
}
