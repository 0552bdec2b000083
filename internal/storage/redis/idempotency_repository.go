// Package redis хранит ключи идемпотентности в Redis с нативным TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	keyPrefix  = "oms:idem:"
	opTimeout  = 2 * time.Second
	defaultTTL = 24 * time.Hour
)

// storedRecord: JSON-представление записи в Redis.
type storedRecord struct {
	RequestHash  string                   `json:"request_hash"`
	Status       domain.IdempotencyStatus `json:"status"`
	ResponseBody []byte                   `json:"response_body,omitempty"`
	HTTPStatus   int                      `json:"http_status"`
	TTLAt        time.Time                `json:"ttl_at"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// IdempotencyRepository реализует domain.IdempotencyRepository поверх Redis.
// Просроченные записи удаляет сам Redis.
type IdempotencyRepository struct {
	rdb goredis.UniversalClient
	now func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий поверх готового клиента.
func NewIdempotencyRepository(rdb goredis.UniversalClient) *IdempotencyRepository {
	return &IdempotencyRepository{
		rdb: rdb,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Open подключается к Redis по адресу и проверяет соединение.
func Open(ctx context.Context, addr string) (*goredis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultTTL)
	}
	ttl := ttlAt.Sub(now)
	if ttl <= 0 {
		ttl = time.Millisecond
	}

	stored := storedRecord{
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Ключ может истечь между SETNX и GET, поэтому пробуем дважды.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := r.rdb.SetNX(ctx, redisKey(key), raw, ttl).Result()
		if err != nil {
			return domain.IdempotencyRecord{}, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return toDomain(key, stored), nil
		}

		existing, err := r.load(ctx, key)
		if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			continue
		}
		if err != nil {
			return domain.IdempotencyRecord{}, err
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}

	return domain.IdempotencyRecord{}, fmt.Errorf("redis: idempotency key %q is flapping", key)
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.load(ctx, key)
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired ничего не делает: Redis удаляет ключи по TTL.
func (r *IdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Check проверяет доступность Redis (для health-проверок).
func (r *IdempotencyRepository) Check(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *IdempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := r.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}

	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fmt.Errorf("decode idempotency record: %w", err)
	}
	stored.Status = status
	stored.ResponseBody = append([]byte(nil), responseBody...)
	stored.HTTPStatus = httpStatus
	stored.UpdatedAt = r.now()

	updated, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	// XX + KEEPTTL: не воскрешаем истёкший ключ и не продлеваем срок жизни.
	res, err := r.rdb.SetArgs(ctx, redisKey(key), updated, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Result()
	if errors.Is(err, goredis.Nil) || (err == nil && res != "OK") {
		return domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) load(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	raw, err := r.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("redis get: %w", err)
	}

	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency record: %w", err)
	}
	return toDomain(key, stored), nil
}

func toDomain(key string, s storedRecord) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          key,
		RequestHash:  s.RequestHash,
		ResponseBody: append([]byte(nil), s.ResponseBody...),
		HTTPStatus:   s.HTTPStatus,
		Status:       s.Status,
		TTLAt:        s.TTLAt,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func redisKey(key string) string {
	return keyPrefix + key
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
