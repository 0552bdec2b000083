package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// Драйверы хранилища заказов и outbox.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// IdempotencyDriverRedis хранит idempotency-ключи в Redis.
const IdempotencyDriverRedis = "redis"

// Config описывает настройки запуска сервиса заказов.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	CatalogAddr        string
	CatalogTimeout     time.Duration
	CatalogMaxAttempts int

	TransitionPolicy orders.TransitionPolicy

	KafkaBrokers       []string
	KafkaTopic         string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	// IdempotencyDriver пустой: используется драйвер хранилища заказов.
	IdempotencyDriver           string
	RedisAddr                   string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		CatalogTimeout:     3 * time.Second,
		CatalogMaxAttempts: 3,

		TransitionPolicy: orders.TransitionPolicyStrict,

		KafkaTopic:         kafka.TopicOrderEvents,
		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ShutdownTimeout: 5 * time.Second,
	}
}

// OutboxEnabled сообщает, публикуются ли события заказов.
func (c Config) OutboxEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// EffectiveIdempotencyDriver возвращает драйвер idempotency-ключей с учётом умолчания.
func (c Config) EffectiveIdempotencyDriver() string {
	if c.IdempotencyDriver != "" {
		return c.IdempotencyDriver
	}
	return c.StorageDriver
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch driver := c.EffectiveIdempotencyDriver(); driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" && c.StorageDriver != StorageDriverPostgres {
			errs = append(errs, errors.New("postgres dsn is required for postgres idempotency driver"))
		}
	case IdempotencyDriverRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for redis idempotency driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported idempotency driver %q", driver))
	}

	if _, err := orders.ParseTransitionPolicy(string(c.TransitionPolicy)); err != nil {
		errs = append(errs, err)
	}
	if c.CatalogTimeout <= 0 {
		errs = append(errs, errors.New("catalog timeout must be positive"))
	}

	return errors.Join(errs...)
}

func (c Config) needsPostgres() bool {
	return c.StorageDriver == StorageDriverPostgres || c.EffectiveIdempotencyDriver() == StorageDriverPostgres
}
