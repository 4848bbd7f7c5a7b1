// Package health отдаёт /healthz, /readyz и /livez и проверки зависимостей сервиса.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultCheckTimeout = 2 * time.Second

// Status — итог проверки: healthy, degraded или unhealthy.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity упорядочивает статусы: больше значит хуже.
func (s Status) severity() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Check — результат одной проверки зависимости.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type Checker interface {
	Check(ctx context.Context) Check
}

// Handler собирает зарегистрированные проверки и отдаёт их сводку.
type Handler struct {
	mu           sync.RWMutex
	checkers     map[string]Checker
	version      string
	startedAt    time.Time
	checkTimeout time.Duration
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers:     make(map[string]Checker),
		version:      version,
		startedAt:    time.Now(),
		checkTimeout: defaultCheckTimeout,
	}
}

// RegisterChecker добавляет проверку; повторная регистрация с тем же именем заменяет прежнюю.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

func (h *Handler) snapshot() map[string]Checker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		out[name] = checker
	}
	return out
}

// runChecks выполняет проверки параллельно, каждая ограничена checkTimeout.
// Итоговый статус равен худшему из полученных.
func (h *Handler) runChecks(ctx context.Context) (map[string]Check, Status) {
	checkers := h.snapshot()

	var mu sync.Mutex
	results := make(map[string]Check, len(checkers))
	g, gctx := errgroup.WithContext(ctx)
	for name, checker := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, h.checkTimeout)
			defer cancel()
			result := checker.Check(cctx)

			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, result := range results {
		if result.Status.severity() > overall.severity() {
			overall = result.Status
		}
	}
	return results, overall
}

// ServeHTTP отдаёт JSON со всеми проверками. Degraded отвечает 200:
// сервис остаётся в балансировке.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks, overall := h.runChecks(r.Context())

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}

// LivenessHandler отвечает 200, пока процесс жив; зависимости не проверяются.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

// ReadinessHandler снимает сервис с балансировки, если хоть одна проверка unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if _, overall := h.runChecks(r.Context()); overall == StatusUnhealthy {
		writeText(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeText(w, http.StatusOK, "ready")
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// PingChecker проверяет зависимость функцией ping (postgres, redis).
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	started := time.Now()
	result := Check{Name: c.name, Status: StatusHealthy}
	if err := c.ping(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	result.DurationMs = time.Since(started).Milliseconds()
	return result
}

// OutboxStatsReader — часть outbox-репозитория, нужная для проверки backlog.
type OutboxStatsReader interface {
	Stats(ctx context.Context) (domain.OutboxStats, error)
}

// OutboxBacklogChecker переводит сервис в degraded, когда события застряли в outbox.
type OutboxBacklogChecker struct {
	repo       OutboxStatsReader
	maxPending int
	maxAge     time.Duration
	now        func() time.Time
}

// NewOutboxBacklogChecker создаёт проверку; нулевые пороги отключают соответствующее условие.
func NewOutboxBacklogChecker(repo OutboxStatsReader, maxPending int, maxAge time.Duration) *OutboxBacklogChecker {
	return &OutboxBacklogChecker{repo: repo, maxPending: maxPending, maxAge: maxAge, now: time.Now}
}

func (c *OutboxBacklogChecker) Check(ctx context.Context) Check {
	started := time.Now()
	stats, err := c.repo.Stats(ctx)
	result := Check{Name: "outbox", Status: StatusHealthy}
	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	case c.maxPending > 0 && stats.PendingCount > c.maxPending:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d pending events (limit %d)", stats.PendingCount, c.maxPending)
	case c.maxAge > 0 && stats.PendingCount > 0 && c.now().Sub(stats.OldestPendingAt) > c.maxAge:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("oldest pending event is older than %s", c.maxAge)
	}
	result.DurationMs = time.Since(started).Milliseconds()
	return result
}
