// Package app собирает сервис заказов из конфигурации и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	catalogv1 "github.com/vladislavdragonenkov/orders/api/catalog/v1"
	ordersv1 "github.com/vladislavdragonenkov/orders/api/orders/v1"
	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
	"github.com/vladislavdragonenkov/orders/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/service/outbox"
	"github.com/vladislavdragonenkov/orders/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/orders/internal/version"
)

// application: собранный сервис: серверы, фоновые воркеры и их зависимости.
type application struct {
	cfg    Config
	logger *log.Entry
	deps   *runtimeDependencies

	grpcServer   *grpc.Server
	healthServer *health.Server
	grpcLis      net.Listener

	httpServer *http.Server
	httpLis    net.Listener

	metricsServer *http.Server
	metricsLis    net.Listener

	workers []worker
}

type worker struct {
	name string
	run  func(context.Context) error
}

// Run запускает сервис и блокируется до отмены ctx или ошибки одного из компонентов.
// При штатной остановке возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	a, err := newApplication(ctx, cfg, log.WithField("component", "app"))
	if err != nil {
		return err
	}
	return a.run(ctx)
}

func newApplication(ctx context.Context, cfg Config, logger *log.Entry) (_ *application, err error) {
	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &application{cfg: cfg, logger: logger, deps: deps}
	defer func() {
		if err != nil {
			a.closeListeners()
			deps.close(logger)
		}
	}()

	service := orders.NewService(deps.repo, deps.catalog,
		orders.WithLogger(logger.WithField("layer", "service")),
		orders.WithMetrics(metrics.NewOrderMetrics()),
		orders.WithOutbox(deps.producer != nil),
		orders.WithTransitionPolicy(cfg.TransitionPolicy),
	)
	guard := idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("layer", "idempotency"))
	orderService := grpcsvc.NewOrderService(service, guard, logger.WithField("layer", "grpc"))

	a.grpcServer, a.healthServer = newGRPCServer(orderService, deps.staticCatalog, logger)
	if a.grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
		return nil, err
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	a.metricsServer = newMetricsServer(healthHandler)
	if a.metricsLis, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr != "" {
		a.httpServer = httpapi.NewServer(orderService, httpapi.Config{
			Addr:       cfg.HTTPAddr,
			Logger:     logger.WithField("layer", "http"),
			Registerer: prometheus.DefaultRegisterer,
		})
		if a.httpLis, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
			return nil, err
		}
	}

	a.workers = append(a.workers, worker{
		name: "idempotency-cleanup",
		run: idempotency.NewCleanupWorker(deps.idempotencyRepo,
			idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		).Run,
	})
	if deps.producer != nil {
		a.workers = append(a.workers, worker{
			name: "outbox",
			run: outbox.NewWorker(deps.outboxRepo, kafka.NewOutboxPublisher(deps.producer, cfg.KafkaTopic),
				outbox.WithLogger(logger.WithField("layer", "outbox")),
				outbox.WithDLQPublisher(kafka.NewOutboxPublisher(deps.producer, kafka.TopicDeadLetterQueue)),
				outbox.WithPollInterval(cfg.OutboxPollInterval),
				outbox.WithBatchSize(cfg.OutboxBatchSize),
				outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
				outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			).Run,
		})
	}

	return a, nil
}

func newGRPCServer(orderService ordersv1.OrderServiceServer, staticCatalog *catalog.StaticClient, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := registerCollector(prometheus.DefaultRegisterer, promgrpc.NewServerMetrics(), logger)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	ordersv1.RegisterOrderServiceServer(server, orderService)
	if staticCatalog != nil {
		// встроенный каталог доступен и внешним клиентам
		catalogv1.RegisterProductServiceServer(server, catalog.NewServer(staticCatalog))
	}

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ordersv1.ServiceName, healthpb.HealthCheckResponse_SERVING)

	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

// newMetricsServer отдаёт /metrics и health-эндпоинты.
func newMetricsServer(healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	return &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func (a *application) run(ctx context.Context) error {
	defer a.deps.close(a.logger)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.logger.WithFields(log.Fields(version.Fields())).Infof("gRPC сервер слушает %s", a.grpcLis.Addr())
		if err := a.grpcServer.Serve(a.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		a.logger.Infof("метрики и health checks доступны по адресу %s", a.metricsLis.Addr())
		return serveHTTP(a.metricsServer, a.metricsLis)
	})
	if a.httpServer != nil {
		group.Go(func() error {
			a.logger.Infof("HTTP API слушает %s", a.httpLis.Addr())
			return serveHTTP(a.httpServer, a.httpLis)
		})
	}
	for _, w := range a.workers {
		group.Go(func() error {
			if err := w.run(groupCtx); err != nil {
				a.logger.WithError(err).WithField("worker", w.name).Error("background worker failed")
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		a.logger.Info("получен сигнал остановки, останавливаем серверы")
		a.shutdown()
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// shutdown останавливает gRPC и HTTP серверы с ограничением по времени.
func (a *application) shutdown() {
	a.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	a.healthServer.SetServingStatus(ordersv1.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	timeout := a.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		a.logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		a.grpcServer.Stop()
	}

	shutdownHTTP(a.httpServer, timeout, a.logger)
	shutdownHTTP(a.metricsServer, timeout, a.logger)
}

func (a *application) closeListeners() {
	for _, lis := range []net.Listener{a.grpcLis, a.httpLis, a.metricsLis} {
		if lis != nil {
			_ = lis.Close()
		}
	}
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http server shutdown with error")
	}
}
