package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// HeaderKey — имя заголовка (и gRPC metadata) с ключом идемпотентности.
	HeaderKey  = "Idempotency-Key"
	defaultTTL = 24 * time.Hour
)

// ErrRequestInProgress — запрос с тем же ключом ещё выполняется, клиенту стоит повторить позже.
var ErrRequestInProgress = errors.New("request with the same idempotency key is already processing")

// Response — ответ транспорта, который сохраняется под ключом.
// Status трактует сам транспорт: HTTP-код или код gRPC.
type Response struct {
	Status int
	Body   []byte
	// Failed — ответ описывает бизнес-ошибку; он тоже повторяется при replay.
	Failed   bool
	Replayed bool
}

// Guard выполняет запрос не более одного раза на ключ и отдаёт сохранённый ответ при повторе.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewGuard создаёт guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = log.New().WithField("component", "idempotency")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Do выполняет run под ключом key. Пустой key означает обычное выполнение без защиты.
// Ответ run сохраняется и повторяется; ошибка run означает временный сбой,
// ключ освобождается, чтобы клиент мог повторить запрос.
func (g *Guard) Do(ctx context.Context, key, requestHash string, run func(context.Context) (Response, error)) (Response, error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return run(ctx)
	}

	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	if err != nil {
		return g.replay(record, err)
	}

	resp, runErr := run(ctx)
	if runErr != nil {
		g.release(ctx, key)
		return resp, runErr
	}

	if err := g.store(ctx, key, resp); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
	return resp, nil
}

func (g *Guard) replay(record domain.IdempotencyRecord, createErr error) (Response, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, domain.ErrIdempotencyHashMismatch
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			return Response{
				Status:   record.HTTPStatus,
				Body:     append([]byte(nil), record.ResponseBody...),
				Failed:   record.Status == domain.IdempotencyStatusFailed,
				Replayed: true,
			}, nil
		case domain.IdempotencyStatusProcessing:
			return Response{}, ErrRequestInProgress
		default:
			return Response{}, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		return Response{}, fmt.Errorf("create idempotency record: %w", createErr)
	}
}

func (g *Guard) store(ctx context.Context, key string, resp Response) error {
	ctx = context.WithoutCancel(ctx)
	if resp.Failed {
		return g.repo.MarkFailed(ctx, key, resp.Body, resp.Status)
	}
	return g.repo.MarkDone(ctx, key, resp.Body, resp.Status)
}

func (g *Guard) release(ctx context.Context, key string) {
	if err := g.repo.Delete(context.WithoutCancel(ctx), key); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
	}
}

// RequestHash считает отпечаток запроса: метод и тело.
func RequestHash(method string, body []byte) string {
	payload := make([]byte, 0, len(method)+1+len(body))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
