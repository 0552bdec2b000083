package app

import (
	"context"
	"errors"
	"fmt"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/orders/internal/storage/redis"
)

// runtimeDependencies содержит инфраструктуру, выбранную конфигурацией.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	catalog         domain.CatalogClient
	// staticCatalog не nil, когда каталог обслуживается внутри процесса.
	staticCatalog *catalog.StaticClient
	producer      *kafka.Producer

	checkers map[string]healthcheck.Checker
	closers  []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// initRuntimeDependencies открывает хранилища, клиент каталога и Kafka producer.
// При ошибке уже открытые ресурсы закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDependencies, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps = &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	defer func() {
		if err != nil {
			deps.close(logger)
			deps = nil
		}
	}()

	var store *postgres.Store
	if cfg.needsPostgres() {
		if store, err = openPostgres(ctx, cfg, logger); err != nil {
			return deps, err
		}
		deps.addCloser("postgres", store.Close)
		deps.checkers["postgres"] = healthcheck.NewSimpleChecker("postgres", store.Check)
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		deps.repo = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
	default:
		outboxRepo := memory.NewOutboxRepository()
		deps.repo = memory.NewOrderRepository(memory.WithOutbox(outboxRepo))
		deps.outboxRepo = outboxRepo
		deps.checkers["storage"] = healthcheck.NewSimpleChecker("storage", func(context.Context) error { return nil })
	}

	switch cfg.EffectiveIdempotencyDriver() {
	case StorageDriverPostgres:
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
	case IdempotencyDriverRedis:
		client, err := redisstore.Open(ctx, cfg.RedisAddr)
		if err != nil {
			return deps, err
		}
		deps.addCloser("redis", client.Close)
		repo := redisstore.NewIdempotencyRepository(client)
		deps.idempotencyRepo = repo
		deps.checkers["redis"] = healthcheck.NewSimpleChecker("redis", repo.Check)
	default:
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
	}

	if err := deps.initCatalog(cfg, logger); err != nil {
		return deps, err
	}

	producer, kafkaErr := initKafkaProducer(cfg.KafkaBrokers, logger)
	if kafkaErr != nil {
		logger.WithError(kafkaErr).Warn("failed to create kafka producer, continuing without order events")
	} else if producer != nil {
		deps.producer = producer
		deps.addCloser("kafka", producer.Close)
	}

	return deps, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*postgres.Store, error) {
	store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithLogger(logger.WithField("layer", "postgres")))
	if err != nil {
		return nil, err
	}
	if !cfg.PostgresAutoMigrate {
		return store, nil
	}

	report, err := store.MigrateUp(ctx, 0)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply postgres migrations: %w", err)
	}
	logger.WithField("applied", len(report.Versions)).Info("postgres schema is up to date")
	return store, nil
}

func (d *runtimeDependencies) initCatalog(cfg Config, logger *log.Entry) error {
	if cfg.CatalogAddr == "" {
		d.staticCatalog = catalog.NewStaticClient(catalog.DefaultProducts()...)
		d.catalog = d.staticCatalog
		logger.Info("catalog address is not set, using in-process catalog")
		return nil
	}

	retry := catalog.DefaultRetryConfig()
	retry.MaxAttempts = cfg.CatalogMaxAttempts

	catalogLogger := logger.WithField("layer", "catalog")
	client, err := catalog.NewGRPCClient(cfg.CatalogAddr,
		catalog.WithLogger(catalogLogger),
		catalog.WithTimeout(cfg.CatalogTimeout),
		catalog.WithRetryConfig(retry),
		catalog.WithClientMetrics(registerCollector(prometheus.DefaultRegisterer, promgrpc.NewClientMetrics(), catalogLogger)),
	)
	if err != nil {
		return err
	}
	d.catalog = client
	d.addCloser("catalog", client.Close)
	d.checkers["catalog"] = healthcheck.NewDegradingChecker("catalog", client.Check)
	return nil
}

func (d *runtimeDependencies) addCloser(name string, fn func() error) {
	d.closers = append(d.closers, namedCloser{name: name, close: fn})
}

// close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			logger.WithError(err).WithField("resource", c.name).Warn("failed to close resource")
		}
	}
	d.closers = nil
}

// registerCollector регистрирует коллектор или возвращает уже зарегистрированный.
func registerCollector[T prometheus.Collector](registerer prometheus.Registerer, collector T, logger *log.Entry) T {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register metrics collector")
	}
	return collector
}
