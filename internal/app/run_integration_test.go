package app

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// localConfig слушает на случайных портах, чтобы тесты не конфликтовали между собой.
func localConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.JWTSecret = "run-test-secret"
	cfg.OutboxPollInterval = 20 * time.Millisecond
	cfg.IdempotencyCleanupInterval = 20 * time.Millisecond
	return cfg
}

func TestRun_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	started := time.Now()
	err := Run(ctx, localConfig())

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), shutdownTimeout, "shutdown must not wait for the full timeout")
}

func TestRun_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown storage driver",
			mutate:  func(c *Config) { c.StorageDriver = "sqlite" },
			wantErr: "unsupported storage driver",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.StorageDriver = StorageDriverPostgres },
			wantErr: "STORE_POSTGRES_DSN",
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.JWTSecret = "" },
			wantErr: "jwt secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := localConfig()
			tt.mutate(&cfg)

			err := Run(context.Background(), cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitRuntimeDependencies_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("STORE_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("STORE_POSTGRES_TEST_DSN is not set")
	}

	cfg := localConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	logger := log.WithField("test", t.Name())
	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Skipf("postgres is unreachable: %v", err)
	}
	t.Cleanup(func() { closeDependencies(deps, logger) })

	assert.NotNil(t, deps.txm)
	assert.NotNil(t, deps.outboxRepo)
	assert.NotNil(t, deps.timelineRepo)
	assert.NotNil(t, deps.idempotencyRepo)
	require.NotNil(t, deps.storageChecker)

	check := deps.storageChecker.Check(context.Background())
	assert.Equal(t, healthcheck.StatusHealthy, check.Status, "check: %+v", check)

	svc, err := buildServices(cfg, deps, nil, metrics.NewStoreMetrics(), logger)
	require.NoError(t, err)
	require.NotNil(t, svc.catalog)
}
