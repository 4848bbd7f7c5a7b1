package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.True(t, cfg.PostgresAutoMigrate)
	assert.True(t, cfg.RestockOnCancel)
	assert.True(t, cfg.StrictStatusTransitions)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.JWTSecret, "secret must come from the environment")

	positive := map[string]int64{
		"LockTimeout":                 int64(cfg.LockTimeout),
		"CartCacheTTL":                int64(cfg.CartCacheTTL),
		"TokenTTL":                    int64(cfg.TokenTTL),
		"CheckoutMaxAttempts":         int64(cfg.CheckoutMaxAttempts),
		"OutboxPollInterval":          int64(cfg.OutboxPollInterval),
		"OutboxBatchSize":             int64(cfg.OutboxBatchSize),
		"OutboxMaxAttempts":           int64(cfg.OutboxMaxAttempts),
		"OutboxMaxPending":            int64(cfg.OutboxMaxPending),
		"IdempotencyTTL":              int64(cfg.IdempotencyTTL),
		"IdempotencyCleanupInterval":  int64(cfg.IdempotencyCleanupInterval),
		"IdempotencyCleanupBatchSize": int64(cfg.IdempotencyCleanupBatchSize),
	}
	for name, v := range positive {
		assert.Positive(t, v, name)
	}
}

func TestDefaultConfig_TopicsMatchKafkaPackage(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "storefront.order.events", cfg.KafkaOrderTopic)
	assert.Equal(t, "storefront.order.events.dlq", cfg.KafkaDLQTopic)
	assert.Equal(t, "stock.provisioned", cfg.KafkaRestockTopic)
	assert.NotEmpty(t, cfg.KafkaConsumerGroup)
}
