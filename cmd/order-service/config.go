package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/app"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

const (
	envLogLevel  = "OMS_LOG_LEVEL"
	envLogFormat = "OMS_LOG_FORMAT"

	envGRPCAddr            = "OMS_GRPC_ADDR"
	envHTTPAddr            = "OMS_HTTP_ADDR"
	envMetricsAddr         = "OMS_METRICS_ADDR"
	envStorageDriver       = "OMS_STORAGE_DRIVER"
	envPostgresDSN         = "OMS_POSTGRES_DSN"
	envPostgresAutoMigrate = "OMS_POSTGRES_AUTO_MIGRATE"

	envCatalogAddr        = "OMS_CATALOG_ADDR"
	envCatalogTimeout     = "OMS_CATALOG_TIMEOUT"
	envCatalogMaxAttempts = "OMS_CATALOG_MAX_ATTEMPTS"
	envStatusTransitions  = "OMS_STATUS_TRANSITIONS"

	envKafkaBrokers       = "KAFKA_BROKERS"
	envKafkaTopic         = "OMS_KAFKA_TOPIC"
	envOutboxPollInterval = "OMS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "OMS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "OMS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "OMS_OUTBOX_RETRY_DELAY"

	envIdempotencyDriver           = "OMS_IDEMPOTENCY_DRIVER"
	envRedisAddr                   = "OMS_REDIS_ADDR"
	envIdempotencyTTL              = "OMS_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "OMS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "OMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

// envLookup совпадает по сигнатуре с os.LookupEnv.
type envLookup func(key string) (string, bool)

// readConfigFromEnv накладывает переменные окружения на конфигурацию по умолчанию.
// Некорректные значения пропускаются с предупреждением, остаётся значение по умолчанию.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}

	readString := func(key string, target *string, allowEmpty bool) {
		raw, ok := lookup(key)
		if !ok {
			return
		}
		value := strings.TrimSpace(raw)
		if value == "" && !allowEmpty {
			return
		}
		*target = value
	}

	readBool := func(key string, target *bool) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseBool(raw)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*target = value
	}

	readInt := func(key string, target *int) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseInt(raw, func(v int) bool { return v > 0 }, "must be > 0")
		if err != nil {
			warn(key, raw, err)
			return
		}
		*target = value
	}

	readDuration := func(key string, target *time.Duration, valid func(time.Duration) bool, rule string) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseDuration(raw, valid, rule)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*target = value
	}

	positive := func(v time.Duration) bool { return v > 0 }
	nonNegative := func(v time.Duration) bool { return v >= 0 }

	readString(envGRPCAddr, &cfg.GRPCAddr, false)
	readString(envHTTPAddr, &cfg.HTTPAddr, true)
	readString(envMetricsAddr, &cfg.MetricsAddr, true)

	readString(envStorageDriver, &cfg.StorageDriver, false)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	readString(envPostgresDSN, &cfg.PostgresDSN, false)
	readBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	readString(envCatalogAddr, &cfg.CatalogAddr, false)
	readDuration(envCatalogTimeout, &cfg.CatalogTimeout, positive, "must be > 0")
	readInt(envCatalogMaxAttempts, &cfg.CatalogMaxAttempts)

	if raw, ok := lookup(envStatusTransitions); ok && strings.TrimSpace(raw) != "" {
		policy, err := orders.ParseTransitionPolicy(raw)
		if err != nil {
			warn(envStatusTransitions, raw, err)
		} else {
			cfg.TransitionPolicy = policy
		}
	}

	if raw, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = splitList(raw)
	}
	readString(envKafkaTopic, &cfg.KafkaTopic, false)
	readDuration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	readInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	readInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	readDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")

	readString(envIdempotencyDriver, &cfg.IdempotencyDriver, false)
	cfg.IdempotencyDriver = strings.ToLower(cfg.IdempotencyDriver)
	readString(envRedisAddr, &cfg.RedisAddr, false)
	readDuration(envIdempotencyTTL, &cfg.IdempotencyTTL, positive, "must be > 0")
	readDuration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positive, "must be > 0")
	readInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("invalid int value %d: %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("invalid duration value %s: %s", value, rule)
	}
	return value, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
