package catalog

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	catalogv1 "github.com/vladislavdragonenkov/orders/api/catalog/v1"
	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// StaticClient: каталог в памяти для локальной разработки и тестов.
type StaticClient struct {
	mu       sync.RWMutex
	products map[string]domain.Product

	// Err, если задан, возвращается из каждого вызова.
	Err error

	calls     int
	lastBatch []string
}

// NewStaticClient создаёт каталог из переданных товаров.
func NewStaticClient(products ...domain.Product) *StaticClient {
	c := &StaticClient{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// DefaultProducts: демонстрационный набор товаров.
func DefaultProducts() []domain.Product {
	return []domain.Product{
		{ID: "1", Name: "Keyboard", Price: decimal.RequireFromString("49.90")},
		{ID: "2", Name: "Mouse", Price: decimal.RequireFromString("19.99")},
		{ID: "3", Name: "Monitor", Price: decimal.RequireFromString("189.00")},
		{ID: "4", Name: "USB-C Cable", Price: decimal.RequireFromString("7.50")},
		{ID: "5", Name: "Headset", Price: decimal.RequireFromString("59.00")},
	}
}

// Upsert добавляет или заменяет товар.
func (c *StaticClient) Upsert(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

// Remove удаляет товар из каталога.
func (c *StaticClient) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, id)
}

// ValidateProducts возвращает найденные товары в порядке запроса.
func (c *StaticClient) ValidateProducts(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	c.mu.Lock()
	c.calls++
	c.lastBatch = append([]string(nil), productIDs...)
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Err != nil {
		return nil, c.Err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Product, 0, len(productIDs))
	for _, id := range productIDs {
		if p, ok := c.products[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// Calls возвращает число вызовов ValidateProducts.
func (c *StaticClient) Calls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls
}

// LastBatch возвращает идентификаторы последнего вызова.
func (c *StaticClient) LastBatch() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.lastBatch...)
}

// Server отдаёт любой domain.CatalogClient по gRPC-контракту catalog.v1.
type Server struct {
	catalogv1.UnimplementedProductServiceServer
	source domain.CatalogClient
}

// NewServer создаёт gRPC-сервер каталога.
func NewServer(source domain.CatalogClient) *Server {
	return &Server{source: source}
}

func (s *Server) ValidateProducts(ctx context.Context, req *catalogv1.ValidateProductsRequest) (*catalogv1.ValidateProductsResponse, error) {
	products, err := s.source.ValidateProducts(ctx, req.GetIds())
	if err != nil {
		return nil, err
	}
	resp := &catalogv1.ValidateProductsResponse{Products: make([]*catalogv1.Product, 0, len(products))}
	for _, p := range products {
		resp.Products = append(resp.Products, &catalogv1.Product{Id: p.ID, Name: p.Name, Price: p.Price})
	}
	return resp, nil
}

var (
	_ domain.CatalogClient           = (*StaticClient)(nil)
	_ catalogv1.ProductServiceServer = (*Server)(nil)
)
