// Package idempotency содержит обработку idempotency-key и очистку просроченных ключей.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// DefaultTTL: срок жизни ключа по умолчанию.
const DefaultTTL = 24 * time.Hour

// ErrInProgress возвращается, пока запрос с тем же ключом ещё выполняется.
var ErrInProgress = errors.New("request with the same idempotency key is already processing")

var idempotencyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "oms_idempotency_requests_total",
	Help: "Total number of requests carrying an idempotency key grouped by outcome.",
}, []string{"outcome"})

// Result: сохраняемый результат обработки запроса.
// Status хранит код ответа транспорта (HTTP status или gRPC code).
type Result struct {
	Body   []byte
	Status int
	Failed bool
}

// Guard гарантирует, что запрос с одним ключом выполняется не более одного раза.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard. Нулевой ttl заменяется DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// RequestHash хэширует scope и JSON-представление запроса.
func RequestHash(scope string, request any) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(scope)+1+len(data))
	payload = append(payload, scope...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Do выполняет run для нового ключа или возвращает сохранённый результат.
// Второй результат сообщает, что ответ взят из кэша.
// Пустой ключ отключает идемпотентность для запроса.
func (g *Guard) Do(ctx context.Context, key, scope string, request any, run func(context.Context) Result) (Result, bool, error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return run(ctx), false, nil
	}

	hash, err := RequestHash(scope, request)
	if err != nil {
		idempotencyRequestsTotal.WithLabelValues("error").Inc()
		return Result{}, false, fmt.Errorf("hash idempotent request: %w", err)
	}

	record, err := g.repo.CreateProcessing(ctx, key, hash, g.now().Add(g.ttl))
	if err != nil {
		return g.replay(key, record, err)
	}

	result := run(ctx)

	// Результат сохраняем даже если клиент уже отключился.
	storeCtx := context.WithoutCancel(ctx)
	if result.Failed {
		err = g.repo.MarkFailed(storeCtx, key, result.Body, result.Status)
	} else {
		err = g.repo.MarkDone(storeCtx, key, result.Body, result.Status)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}

	idempotencyRequestsTotal.WithLabelValues("executed").Inc()
	return result, false, nil
}

func (g *Guard) replay(key string, record domain.IdempotencyRecord, createErr error) (Result, bool, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		idempotencyRequestsTotal.WithLabelValues("conflict").Inc()
		return Result{}, false, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			idempotencyRequestsTotal.WithLabelValues("replayed").Inc()
			return Result{
				Body:   record.ResponseBody,
				Status: record.HTTPStatus,
				Failed: record.Status == domain.IdempotencyStatusFailed,
			}, true, nil
		case domain.IdempotencyStatusProcessing:
			idempotencyRequestsTotal.WithLabelValues("in_progress").Inc()
			return Result{}, false, ErrInProgress
		default:
			idempotencyRequestsTotal.WithLabelValues("error").Inc()
			return Result{}, false, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		idempotencyRequestsTotal.WithLabelValues("error").Inc()
		g.logger.WithError(createErr).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return Result{}, false, fmt.Errorf("create idempotency record: %w", createErr)
	}
}
