package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	envHTTPAddr                    = "STORE_HTTP_ADDR"
	envGRPCAddr                    = "STORE_GRPC_ADDR"
	envMetricsAddr                 = "STORE_METRICS_ADDR"
	envStorageDriver               = "STORE_STORAGE_DRIVER"
	envPostgresDSN                 = "STORE_POSTGRES_DSN"
	envPostgresAutoMigrate         = "STORE_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns            = "STORE_POSTGRES_MAX_CONNS"
	envLockTimeout                 = "STORE_LOCK_TIMEOUT"
	envRedisAddr                   = "STORE_REDIS_ADDR"
	envCartCacheTTL                = "STORE_CART_CACHE_TTL"
	envKafkaBrokers                = "STORE_KAFKA_BROKERS"
	envKafkaOrderTopic             = "STORE_KAFKA_ORDER_TOPIC"
	envKafkaDLQTopic               = "STORE_KAFKA_DLQ_TOPIC"
	envKafkaRestockTopic           = "STORE_KAFKA_RESTOCK_TOPIC"
	envKafkaConsumerGroup          = "STORE_KAFKA_CONSUMER_GROUP"
	envJWTSecret                   = "STORE_JWT_SECRET"
	envJWTIssuer                   = "STORE_JWT_ISSUER"
	envTokenTTL                    = "STORE_TOKEN_TTL"
	envCheckoutMaxAttempts         = "STORE_CHECKOUT_MAX_ATTEMPTS"
	envCheckoutRetryDelay          = "STORE_CHECKOUT_RETRY_DELAY"
	envRestockOnCancel             = "STORE_RESTOCK_ON_CANCEL"
	envStrictStatusTransitions     = "STORE_STRICT_STATUS_TRANSITIONS"
	envOutboxPollInterval          = "STORE_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "STORE_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "STORE_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "STORE_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "STORE_OUTBOX_MAX_PENDING"
	envOutboxMaxAge                = "STORE_OUTBOX_MAX_AGE"
	envIdempotencyTTL              = "STORE_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "STORE_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "STORE_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envLogLevel                    = "STORE_LOG_LEVEL"
	envLogFormat                   = "STORE_LOG_FORMAT"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) []string {
	var warnings []string
	if format, ok := lookup(envLogFormat); ok && strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level := log.InfoLevel
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		parsed, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envLogLevel, err))
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)
	return warnings
}

// readConfigFromEnv собирает конфигурацию; некорректные значения оставляют default и дают предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	positiveInt := func(v int) bool { return v > 0 }
	nonNegativeInt := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	integer(envPostgresMaxConns, &cfg.PostgresMaxConns, positiveInt, "must be > 0")
	duration(envLockTimeout, &cfg.LockTimeout, positiveDuration, "must be > 0")

	str(envRedisAddr, &cfg.RedisAddr)
	duration(envCartCacheTTL, &cfg.CartCacheTTL, positiveDuration, "must be > 0")

	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	str(envKafkaOrderTopic, &cfg.KafkaOrderTopic)
	str(envKafkaDLQTopic, &cfg.KafkaDLQTopic)
	str(envKafkaRestockTopic, &cfg.KafkaRestockTopic)
	str(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)

	str(envJWTSecret, &cfg.JWTSecret)
	str(envJWTIssuer, &cfg.JWTIssuer)
	duration(envTokenTTL, &cfg.TokenTTL, positiveDuration, "must be > 0")

	integer(envCheckoutMaxAttempts, &cfg.CheckoutMaxAttempts, positiveInt, "must be > 0")
	duration(envCheckoutRetryDelay, &cfg.CheckoutRetryDelay, nonNegativeDuration, "must be >= 0")
	boolean(envRestockOnCancel, &cfg.RestockOnCancel)
	boolean(envStrictStatusTransitions, &cfg.StrictStatusTransitions)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegativeInt, "must be >= 0")
	duration(envOutboxMaxAge, &cfg.OutboxMaxAge, nonNegativeDuration, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func splitList(raw string) []string {
	var result []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

func main() {
	warnings := setupLogger(os.LookupEnv)
	cfg, cfgWarnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range append(warnings, cfgWarnings...) {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.Version(),
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
	}).Info("запускаем storefront")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("storefront остановлен")
}
