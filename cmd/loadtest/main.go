package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	idempotencyHeader     = "Idempotency-Key"
	outcomeSoldOut        = "sold_out"
	codeInsufficientStock = "insufficient_stock"
	scenarioMethod        = "scenario"
)

type config struct {
	baseURL     string
	buyers      int
	concurrency int
	timeout     time.Duration
	stock       int
	qty         int
	jwtSecret   string
	jwtIssuer   string
	buyerTag    string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type inventoryReport struct {
	Stock     int  `json:"stock"`
	Sold      int  `json:"sold"`
	Remaining int  `json:"remaining"`
	Oversold  bool `json:"oversold"`
	// Consistent: остаток на складе совпадает со stock - sold.
	Consistent bool `json:"consistent"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	SoldOutScenarios  int64                   `json:"sold_out_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Inventory         inventoryReport         `json:"inventory"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
	soldOut int64
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// record учитывает вызов; ok=false считается ошибкой.
func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.methods[method]
	if !exists {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	if method == scenarioMethod && code == outcomeSoldOut {
		c.soldOut++
	}
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:        startedAt.UTC(),
		DurationSeconds:  duration.Seconds(),
		SoldOutScenarios: c.soldOut,
		Methods:          make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods[scenarioMethod]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		// распроданный товар ожидаем и ошибкой не считается
		result.SuccessScenarios = scenarioStats.success - c.soldOut
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "storefront REST base URL")
	fs.IntVar(&cfg.buyers, "buyers", 200, "number of buyers racing for the product")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent buyers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.IntVar(&cfg.stock, "stock", 50, "initial stock of the contested product")
	fs.IntVar(&cfg.qty, "qty", 1, "units each buyer puts in the cart")
	fs.StringVar(&cfg.jwtSecret, "jwt-secret", "", "JWT signing secret (fallback: STORE_JWT_SECRET)")
	fs.StringVar(&cfg.jwtIssuer, "jwt-issuer", "storefront", "JWT issuer")
	fs.StringVar(&cfg.buyerTag, "buyer-tag", "load", "buyer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if strings.TrimSpace(cfg.jwtSecret) == "" {
		if v, ok := lookup("STORE_JWT_SECRET"); ok {
			cfg.jwtSecret = strings.TrimSpace(v)
		}
	}

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("addr is required")
	case cfg.buyers <= 0:
		return cfg, errors.New("buyers must be > 0")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.stock < 0:
		return cfg, errors.New("stock must be >= 0")
	case cfg.qty <= 0:
		return cfg, errors.New("qty must be > 0")
	case cfg.jwtSecret == "":
		return cfg, errors.New("jwt-secret (or STORE_JWT_SECRET) is required")
	case strings.TrimSpace(cfg.buyerTag) == "":
		return cfg, errors.New("buyer-tag is required")
	}
	return cfg, nil
}

// apiClient — минимальный клиент REST API витрины.
type apiClient struct {
	baseURL string
	http    *http.Client
	tokens  *auth.TokenManager
	timeout time.Duration
}

func newAPIClient(cfg config) (*apiClient, error) {
	tokens, err := auth.NewTokenManager(cfg.jwtSecret, time.Hour, cfg.jwtIssuer)
	if err != nil {
		return nil, err
	}
	return &apiClient{
		baseURL: cfg.baseURL,
		http:    &http.Client{},
		tokens:  tokens,
		timeout: cfg.timeout,
	}, nil
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call выполняет запрос и возвращает статус, код ошибки API (если есть) и тело.
func (c *apiClient) call(ctx context.Context, actor domain.Actor, method, path string, body any, headers map[string]string) (int, string, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, "", nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+path, reader)
	if err != nil {
		return 0, "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if actor.UserID != "" {
		token, err := c.tokens.Issue(actor)
		if err != nil {
			return 0, "", nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", nil, err
	}

	var code string
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil {
			code = apiErr.Error.Code
		}
	}
	return resp.StatusCode, code, raw, nil
}

type product struct {
	ID        int64  `json:"id"`
	Slug      string `json:"slug"`
	Available int    `json:"available"`
}

func (c *apiClient) createProduct(ctx context.Context, name string, stock int) (product, error) {
	admin := domain.Actor{UserID: "loadtest-admin", Admin: true}
	status, code, raw, err := c.call(ctx, admin, http.MethodPost, "/admin/products", map[string]any{
		"name":     name,
		"price":    decimal.RequireFromString("9.99"),
		"stock":    stock,
		"sellable": true,
	}, nil)
	if err != nil {
		return product{}, err
	}
	if status != http.StatusCreated {
		return product{}, fmt.Errorf("create product: status %d %s", status, code)
	}
	var p product
	return p, json.Unmarshal(raw, &p)
}

func (c *apiClient) getProduct(ctx context.Context, slug string) (product, error) {
	status, code, raw, err := c.call(ctx, domain.Actor{}, http.MethodGet, "/products/"+slug, nil, nil)
	if err != nil {
		return product{}, err
	}
	if status != http.StatusOK {
		return product{}, fmt.Errorf("get product: status %d %s", status, code)
	}
	var p product
	return p, json.Unmarshal(raw, &p)
}

// runScenario: покупатель кладёт товар в корзину и оформляет заказ.
func runScenario(ctx context.Context, client *apiClient, cfg config, p product, buyer string, col *collector) {
	scenarioStart := time.Now()
	outcome, ok := "created", true
	defer func() {
		col.record(scenarioMethod, time.Since(scenarioStart), outcome, ok)
	}()

	actor := domain.Actor{UserID: buyer}

	start := time.Now()
	status, code, _, err := client.call(ctx, actor, http.MethodPost, "/cart/items",
		map[string]any{"product_id": p.ID, "quantity": cfg.qty}, nil)
	label := statusLabel(status, code, err)
	switch {
	case err == nil && status == http.StatusOK:
		col.record("AddItem", time.Since(start), label, true)
	case err == nil && code == codeInsufficientStock:
		// товар закончился ещё до оформления
		col.record("AddItem", time.Since(start), label, true)
		outcome = outcomeSoldOut
		return
	default:
		col.record("AddItem", time.Since(start), label, false)
		outcome, ok = label, false
		return
	}

	start = time.Now()
	status, code, _, err = client.call(ctx, actor, http.MethodPost, "/orders/checkout", nil,
		map[string]string{idempotencyHeader: "lt-" + buyer})
	label = statusLabel(status, code, err)
	switch {
	case err == nil && status == http.StatusCreated:
		col.record("Checkout", time.Since(start), label, true)
	case err == nil && code == codeInsufficientStock:
		col.record("Checkout", time.Since(start), label, true)
		outcome = outcomeSoldOut
	default:
		col.record("Checkout", time.Since(start), label, false)
		outcome, ok = label, false
	}
}

// run создаёт товар, запускает покупателей и сверяет остаток.
func run(ctx context.Context, client *apiClient, cfg config, runID string) (report, error) {
	p, err := client.createProduct(ctx, "Load "+runID, cfg.stock)
	if err != nil {
		return report{}, err
	}

	startedAt := time.Now()
	col := newCollector()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for i := 0; i < cfg.buyers; i++ {
		buyer := fmt.Sprintf("%s-%s-%d", cfg.buyerTag, runID, i)
		g.Go(func() error {
			runScenario(gctx, client, cfg, p, buyer, col)
			return nil
		})
	}
	_ = g.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))

	after, err := client.getProduct(ctx, p.Slug)
	if err != nil {
		return result, err
	}
	sold := int(result.SuccessScenarios) * cfg.qty
	result.Inventory = inventoryReport{
		Stock:      cfg.stock,
		Sold:       sold,
		Remaining:  after.Available,
		Oversold:   sold > cfg.stock || after.Available < 0,
		Consistent: after.Available == cfg.stock-sold,
	}
	return result, nil
}

func statusLabel(status int, code string, err error) string {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		return "transport_error"
	}
	if code != "" {
		return code
	}
	return strconv.Itoa(status)
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client, err := newAPIClient(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	runID := fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
	result, err := run(context.Background(), client, cfg, runID)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || result.Inventory.Oversold || !result.Inventory.Consistent {
		os.Exit(1)
	}
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "buyers=%d concurrency=%d created=%d sold_out=%d failed=%d error_rate=%.4f\n",
		cfg.buyers,
		cfg.concurrency,
		result.SuccessScenarios,
		result.SoldOutScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "inventory: stock=%d sold=%d remaining=%d oversold=%t consistent=%t\n",
		result.Inventory.Stock,
		result.Inventory.Sold,
		result.Inventory.Remaining,
		result.Inventory.Oversold,
		result.Inventory.Consistent,
	)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == scenarioMethod {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
