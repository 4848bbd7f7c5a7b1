package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	httpapi "github.com/vladislavdragonenkov/storefront/internal/transport/http"
)

const testSecret = "loadtest-secret"

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// newStorefront поднимает REST API на in-memory хранилище.
func newStorefront(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	entry := logger.WithField("component", "loadtest-test")

	tokens, err := auth.NewTokenManager(testSecret, time.Hour, "storefront")
	require.NoError(t, err)

	store := memory.NewStore()
	cartSvc := cart.NewService(store, cart.WithLogger(entry))
	srv := httpapi.NewServer(httpapi.Services{
		Tokens:      tokens,
		Catalog:     catalog.NewService(store, entry),
		Cart:        cartSvc,
		Checkout:    checkout.NewCoordinator(store, checkout.WithLogger(entry), checkout.WithCartInvalidator(cartSvc)),
		Orders:      orders.NewService(store, store.Timeline(), orders.DefaultConfig(), orders.WithLogger(entry)),
		Idempotency: idempotency.NewGuard(store.Idempotency(), time.Hour, entry),
	}, entry)

	ts := httptest.NewServer(srv.Engine())
	t.Cleanup(ts.Close)
	return ts
}

func TestParseConfig(t *testing.T) {
	t.Run("defaults with env secret", func(t *testing.T) {
		cfg, err := parseConfig(nil, envMap(map[string]string{"STORE_JWT_SECRET": " s "}))
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080", cfg.baseURL)
		assert.Equal(t, "s", cfg.jwtSecret)
		assert.Equal(t, 200, cfg.buyers)
		assert.Equal(t, 1, cfg.qty)
	})

	t.Run("flags", func(t *testing.T) {
		cfg, err := parseConfig([]string{
			"-addr", "http://shop:8080/", "-buyers", "10", "-concurrency", "2",
			"-stock", "3", "-qty", "2", "-jwt-secret", "flag", "-timeout", "1s",
		}, envMap(nil))
		require.NoError(t, err)
		assert.Equal(t, "http://shop:8080", cfg.baseURL)
		assert.Equal(t, 10, cfg.buyers)
		assert.Equal(t, 2, cfg.concurrency)
		assert.Equal(t, 3, cfg.stock)
		assert.Equal(t, 2, cfg.qty)
		assert.Equal(t, time.Second, cfg.timeout)
	})

	invalid := map[string][]string{
		"missing secret":  {},
		"zero buyers":     {"-jwt-secret", "x", "-buyers", "0"},
		"zero concurrent": {"-jwt-secret", "x", "-concurrency", "0"},
		"negative stock":  {"-jwt-secret", "x", "-stock", "-1"},
		"zero qty":        {"-jwt-secret", "x", "-qty", "0"},
		"zero timeout":    {"-jwt-secret", "x", "-timeout", "0s"},
		"unknown flag":    {"-jwt-secret", "x", "-mode", "create"},
	}
	for name, args := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig(args, envMap(nil))
			assert.Error(t, err)
		})
	}
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record(scenarioMethod, 10*time.Millisecond, "created", true)
	c.record(scenarioMethod, 12*time.Millisecond, outcomeSoldOut, true)
	c.record(scenarioMethod, 20*time.Millisecond, "500", false)
	c.record("Checkout", 15*time.Millisecond, "201", true)

	r := c.buildReport(time.Now(), 2*time.Second)
	assert.EqualValues(t, 3, r.TotalScenarios)
	assert.EqualValues(t, 1, r.SuccessScenarios)
	assert.EqualValues(t, 1, r.SoldOutScenarios)
	assert.EqualValues(t, 1, r.FailedScenarios)
	assert.Positive(t, r.RPS)
	assert.EqualValues(t, 1, r.Methods["Checkout"].Codes["201"])
}

func TestUtilityFunctions(t *testing.T) {
	assert.Equal(t, 0.25, ratio(1, 4))
	assert.Zero(t, ratio(1, 0))

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	assert.Equal(t, 10.0, summary.Min)
	assert.Equal(t, 40.0, summary.Max)
	assert.Equal(t, 25.0, summary.P50)
	assert.Equal(t, latencySummary{}, buildLatencySummary(nil))

	assert.Equal(t, "insufficient_stock", statusLabel(409, "insufficient_stock", nil))
	assert.Equal(t, "201", statusLabel(201, "", nil))
	assert.Equal(t, "timeout", statusLabel(0, "", context.DeadlineExceeded))
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")

	sample := report{TotalScenarios: 2, SuccessScenarios: 2, Inventory: inventoryReport{Stock: 5, Sold: 2}}
	require.NoError(t, writeJSONReport(path, sample))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 2, decoded.SuccessScenarios)
	assert.Equal(t, 5, decoded.Inventory.Stock)

	assert.Error(t, writeJSONReport(".", sample))
	assert.Error(t, writeJSONReport("../outside.json", sample))
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, report{
		SuccessScenarios: 3,
		Methods: map[string]methodReport{
			"Checkout":     {Calls: 4},
			scenarioMethod: {Calls: 4},
		},
		Inventory: inventoryReport{Stock: 3, Sold: 3, Consistent: true},
	}, config{buyers: 4, concurrency: 2})

	text := out.String()
	assert.Contains(t, text, "created=3")
	assert.Contains(t, text, "inventory: stock=3 sold=3 remaining=0 oversold=false consistent=true")
	assert.Contains(t, text, "Checkout: calls=4")
	assert.NotContains(t, text, "scenario: calls")
}

func TestRun_ContestedProductIsNeverOversold(t *testing.T) {
	ts := newStorefront(t)
	cfg, err := parseConfig([]string{
		"-addr", ts.URL, "-buyers", "30", "-concurrency", "8", "-stock", "7", "-jwt-secret", testSecret,
	}, envMap(nil))
	require.NoError(t, err)

	client, err := newAPIClient(cfg)
	require.NoError(t, err)

	result, err := run(context.Background(), client, cfg, "t1")
	require.NoError(t, err)

	assert.EqualValues(t, 30, result.TotalScenarios)
	assert.EqualValues(t, 7, result.SuccessScenarios)
	assert.EqualValues(t, 23, result.SoldOutScenarios)
	assert.Zero(t, result.FailedScenarios)
	assert.Equal(t, inventoryReport{Stock: 7, Sold: 7, Remaining: 0, Oversold: false, Consistent: true}, result.Inventory)
}
