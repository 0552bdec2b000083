// Package catalog содержит клиентов удалённого каталога товаров.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	catalogv1 "github.com/vladislavdragonenkov/orders/api/catalog/v1"
	"github.com/vladislavdragonenkov/orders/api/jsoncodec"
	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	defaultCallTimeout     = 3 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerReset    = 10 * time.Second
	validateProductsOp     = "validate_products"
)

// GRPCClient реализует domain.CatalogClient поверх gRPC.
type GRPCClient struct {
	conn    *grpc.ClientConn
	client  catalogv1.ProductServiceClient
	timeout time.Duration
	retry   RetryConfig
	breaker *CircuitBreaker
	logger  *log.Entry

	dialOpts []grpc.DialOption
}

// Option настраивает GRPCClient.
type Option func(*GRPCClient)

// WithLogger задаёт логгер клиента.
func WithLogger(logger *log.Entry) Option {
	return func(c *GRPCClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTimeout задаёт таймаут одной попытки вызова.
func WithTimeout(timeout time.Duration) Option {
	return func(c *GRPCClient) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetryConfig задаёт политику повторов.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *GRPCClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker подменяет circuit breaker.
func WithCircuitBreaker(breaker *CircuitBreaker) Option {
	return func(c *GRPCClient) {
		if breaker != nil {
			c.breaker = breaker
		}
	}
}

// WithClientMetrics подключает prometheus-метрики gRPC-клиента.
func WithClientMetrics(metrics *promgrpc.ClientMetrics) Option {
	return func(c *GRPCClient) {
		if metrics != nil {
			c.dialOpts = append(c.dialOpts, grpc.WithUnaryInterceptor(metrics.UnaryClientInterceptor()))
		}
	}
}

// NewGRPCClient создаёт клиент каталога по адресу addr.
// Соединение устанавливается лениво при первом вызове.
func NewGRPCClient(addr string, opts ...Option) (*GRPCClient, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("catalog address is required")
	}

	c := newClient(opts...)
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		jsoncodec.DialOption(),
	}, c.dialOpts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create catalog grpc client: %w", err)
	}
	c.conn = conn
	c.client = catalogv1.NewProductServiceClient(conn)
	return c, nil
}

// NewGRPCClientFromConn создаёт клиент поверх готового соединения (используется в тестах).
func NewGRPCClientFromConn(cc grpc.ClientConnInterface, opts ...Option) *GRPCClient {
	c := newClient(opts...)
	c.client = catalogv1.NewProductServiceClient(cc)
	return c
}

func newClient(opts ...Option) *GRPCClient {
	c := &GRPCClient{
		timeout: defaultCallTimeout,
		retry:   DefaultRetryConfig(),
		logger:  log.New().WithField("component", "catalog-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = NewCircuitBreaker(defaultBreakerFailures, defaultBreakerReset, c.logger)
	}
	return c
}

// ValidateProducts выполняет один пакетный вызов каталога.
// Любая ошибка транспорта оборачивается в domain.ErrUpstream.
func (c *GRPCClient) ValidateProducts(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	if len(productIDs) == 0 {
		return []domain.Product{}, nil
	}

	var resp *catalogv1.ValidateProductsResponse
	err := c.breaker.Execute(validateProductsOp, func() error {
		return executeWithRetry(ctx, c.retry, c.logger, validateProductsOp, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			out, err := c.client.ValidateProducts(callCtx, &catalogv1.ValidateProductsRequest{Ids: productIDs})
			if err != nil {
				return err
			}
			resp = out
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: validate products: %v", domain.ErrUpstream, err)
	}

	products := make([]domain.Product, 0, len(resp.GetProducts()))
	for _, p := range resp.GetProducts() {
		if p == nil || p.Id == "" {
			continue
		}
		products = append(products, domain.Product{ID: p.Id, Name: p.Name, Price: p.Price})
	}
	return products, nil
}

// Check сообщает о разомкнутом circuit breaker (для health-проверок).
func (c *GRPCClient) Check(context.Context) error {
	if c.breaker.State() == CircuitOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Close закрывает соединение с каталогом.
func (c *GRPCClient) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

var _ domain.CatalogClient = (*GRPCClient)(nil)
