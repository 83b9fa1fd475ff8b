// Command server starts the poll rooms HTTP and WebSocket service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"pollrooms/internal/api"
	"pollrooms/internal/hub"
	"pollrooms/internal/identity"
	"pollrooms/internal/observability/logging"
	"pollrooms/internal/observability/metrics"
	"pollrooms/internal/ratelimit"
	"pollrooms/internal/server"
	"pollrooms/internal/storage"
)

const defaultHashSecret = "change-me"

func main() {
	// .env is optional; flags and real environment variables win.
	_ = godotenv.Load()

	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	hashSecret := flag.String("hash-secret", "", "secret mixed into voter identity hashes")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "graceful shutdown timeout")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request throttle in requests per second (0 disables)")
	globalBurst := flag.Int("rate-global-burst", 0, "global request throttle burst")
	voteLimit := flag.Int("vote-limit", 0, "vote attempts allowed per window")
	voteWindow := flag.Duration("vote-window", 0, "vote attempt window")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for a shared vote limiter")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for the vote limiter")
	queueDriver := flag.String("event-queue-driver", "", "event queue driver (memory or redis)")
	queueRedisAddr := flag.String("event-queue-redis-addr", "", "Redis address for the event queue")
	queueRedisPassword := flag.String("event-queue-redis-password", "", "Redis password for the event queue")
	queueRedisStream := flag.String("event-queue-redis-stream", "", "Redis stream key for poll events")
	queueRedisGroup := flag.String("event-queue-redis-group", "", "Redis consumer group for poll events")
	heartbeat := flag.Duration("heartbeat-interval", 0, "WebSocket ping interval")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("POLLROOMS_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("POLLROOMS_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("POLLROOMS_ADDR"), ":8080")
	secret := firstNonEmpty(*hashSecret, os.Getenv("POLLROOMS_HASH_SECRET"), defaultHashSecret)
	if secret == defaultHashSecret {
		logger.Warn("voter hash secret left at default; duplicate-vote identities are guessable")
	}

	repo, err := buildRepository(*storageDriver, *dataPath, *postgresDSN)
	if err != nil {
		logger.Error("storage setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.Close(ctx); err != nil {
			logger.Warn("storage close failed", "error", err)
		}
	}()

	queue, err := buildQueue(*queueDriver, hub.RedisQueueConfig{
		Addr:     firstNonEmpty(*queueRedisAddr, os.Getenv("POLLROOMS_EVENT_QUEUE_REDIS_ADDR")),
		Password: firstNonEmpty(*queueRedisPassword, os.Getenv("POLLROOMS_EVENT_QUEUE_REDIS_PASSWORD")),
		Stream:   firstNonEmpty(*queueRedisStream, os.Getenv("POLLROOMS_EVENT_QUEUE_REDIS_STREAM")),
		Group:    firstNonEmpty(*queueRedisGroup, os.Getenv("POLLROOMS_EVENT_QUEUE_REDIS_GROUP")),
		Logger:   logging.WithComponent(logger, "event-queue"),
	})
	if err != nil {
		logger.Error("event queue setup failed", "error", err)
		os.Exit(1)
	}

	limit := intValue(*voteLimit, os.Getenv("POLLROOMS_VOTE_LIMIT"), 10)
	window := durationValue(*voteWindow, os.Getenv("POLLROOMS_VOTE_WINDOW"), time.Minute)
	voteLimiter, sweeper := buildVoteLimiter(
		firstNonEmpty(*rateRedisAddr, os.Getenv("POLLROOMS_RATE_REDIS_ADDR")),
		firstNonEmpty(*rateRedisPassword, os.Getenv("POLLROOMS_RATE_REDIS_PASSWORD")),
		limit, window,
	)

	broadcaster := hub.New(hub.Config{
		Logger:            logging.WithComponent(logger, "hub"),
		Metrics:           recorder,
		Queue:             queue,
		HeartbeatInterval: durationValue(*heartbeat, os.Getenv("POLLROOMS_HEARTBEAT_INTERVAL"), 0),
	})

	handler := &api.Handler{
		Store:       repo,
		Queue:       queue,
		Hasher:      identity.NewHasher(secret),
		VoteLimiter: voteLimiter,
		Logger:      logging.WithComponent(logger, "api"),
		Metrics:     recorder,
	}

	srv := server.New(handler, broadcaster, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("POLLROOMS_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("POLLROOMS_TLS_KEY")),
		},
		Throttle: server.ThrottleConfig{
			RequestsPerSecond: floatValue(*globalRPS, os.Getenv("POLLROOMS_RATE_GLOBAL_RPS")),
			Burst:             intValue(*globalBurst, os.Getenv("POLLROOMS_RATE_GLOBAL_BURST"), 0),
		},
		Logger:          logging.WithComponent(logger, "http"),
		Metrics:         recorder,
		ShutdownTimeout: durationValue(*shutdownTimeout, os.Getenv("POLLROOMS_SHUTDOWN_TIMEOUT"), 0),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return srv.Run(groupCtx) })
	group.Go(func() error {
		err := broadcaster.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if sweeper != nil {
		group.Go(func() error {
			sweeper.Sweep(groupCtx, window)
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func buildRepository(driverFlag, dataFlag, dsnFlag string) (storage.Repository, error) {
	driver := strings.ToLower(firstNonEmpty(driverFlag, os.Getenv("POLLROOMS_STORAGE_DRIVER"), "json"))
	switch driver {
	case "json":
		path := firstNonEmpty(dataFlag, os.Getenv("POLLROOMS_DATA"), "data/polls.json")
		return storage.NewStorage(path)
	case "postgres":
		dsn := firstNonEmpty(dsnFlag, os.Getenv("POLLROOMS_POSTGRES_DSN"))
		return storage.NewPostgresRepository(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func buildQueue(driverFlag string, redisCfg hub.RedisQueueConfig) (hub.Queue, error) {
	driver := strings.ToLower(firstNonEmpty(driverFlag, os.Getenv("POLLROOMS_EVENT_QUEUE_DRIVER"), "memory"))
	switch driver {
	case "memory":
		return hub.NewMemoryQueue(0), nil
	case "redis":
		return hub.NewRedisQueue(redisCfg)
	default:
		return nil, fmt.Errorf("unknown event queue driver %q", driver)
	}
}

// buildVoteLimiter returns the limiter plus the sliding window instance when
// a background sweep is needed (the Redis limiter expires keys on its own).
func buildVoteLimiter(redisAddr, redisPassword string, limit int, window time.Duration) (ratelimit.Limiter, *ratelimit.SlidingWindow) {
	if redisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{redisAddr},
			Password: redisPassword,
		})
		return ratelimit.NewRedisLimiter(client, "", limit, window), nil
	}
	limiter := ratelimit.NewSlidingWindow(limit, window)
	return limiter, limiter
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func intValue(flagValue int, env string, fallback int) int {
	if flagValue > 0 {
		return flagValue
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(env)); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}

func floatValue(flagValue float64, env string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil && parsed > 0 {
		return parsed
	}
	return 0
}

func durationValue(flagValue time.Duration, env string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if parsed, err := time.ParseDuration(strings.TrimSpace(env)); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}
