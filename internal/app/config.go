package app

import "time"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int
	LockTimeout         time.Duration

	// При пустом RedisAddr кэш корзин выключен.
	RedisAddr    string
	CartCacheTTL time.Duration

	// При пустом KafkaBrokers события outbox пишутся в лог, consumer restock не запускается.
	KafkaBrokers       []string
	KafkaOrderTopic    string
	KafkaDLQTopic      string
	KafkaRestockTopic  string
	KafkaConsumerGroup string

	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	CheckoutMaxAttempts int
	CheckoutRetryDelay  time.Duration

	RestockOnCancel         bool
	StrictStatusTransitions bool

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int
	OutboxMaxAge       time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,
		LockTimeout:         2 * time.Second,

		CartCacheTTL: 15 * time.Minute,

		KafkaOrderTopic:    "storefront.order.events",
		KafkaDLQTopic:      "storefront.order.events.dlq",
		KafkaRestockTopic:  "stock.provisioned",
		KafkaConsumerGroup: "storefront-restock",

		JWTIssuer: "storefront",
		TokenTTL:  time.Hour,

		CheckoutMaxAttempts: 3,
		CheckoutRetryDelay:  50 * time.Millisecond,

		RestockOnCancel:         true,
		StrictStatusTransitions: true,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   500 * time.Millisecond,
		OutboxMaxPending:   1000,
		OutboxMaxAge:       5 * time.Minute,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}
