package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// orderRecord хранит заказ и порядковый номер вставки для стабильной сортировки.
type orderRecord struct {
	order domain.Order
	seq   uint64
}

// OrderRepository: in-memory реализация domain.OrderRepository.
type OrderRepository struct {
	mu     sync.RWMutex
	items  map[string]orderRecord
	seq    uint64
	outbox *OutboxRepository
	now    func() time.Time
}

// OrderRepositoryOption настраивает in-memory репозиторий.
type OrderRepositoryOption func(*OrderRepository)

// WithOutbox подключает outbox, в который события пишутся вместе с заказом.
func WithOutbox(outbox *OutboxRepository) OrderRepositoryOption {
	return func(r *OrderRepository) {
		r.outbox = outbox
	}
}

// WithClock подменяет источник времени (используется в тестах).
func WithClock(now func() time.Time) OrderRepositoryOption {
	return func(r *OrderRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository(opts ...OrderRepositoryOption) *OrderRepository {
	r := &OrderRepository{
		items: make(map[string]orderRecord),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateWithItems сохраняет заказ вместе с позициями и событиями outbox.
func (r *OrderRepository) CreateWithItems(ctx context.Context, order domain.Order, events ...domain.OutboxMessage) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if len(events) > 0 && r.outbox == nil {
		return domain.Order{}, fmt.Errorf("%w: outbox is not configured", domain.ErrPersistence)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.Order{}, fmt.Errorf("%w: order %s already exists", domain.ErrPersistence, order.ID)
	}

	now := r.now()
	order.CreatedAt = now
	order.UpdatedAt = now
	stored := cloneOrder(order)
	for i := range stored.Items {
		stored.Items[i].ProductName = ""
	}

	if err := r.enqueueAll(events); err != nil {
		return domain.Order{}, err
	}

	r.seq++
	r.items[order.ID] = orderRecord{order: stored, seq: r.seq}
	return cloneOrder(stored), nil
}

// FindByIDWithItems возвращает заказ или ErrOrderNotFound, если его нет.
func (r *OrderRepository) FindByIDWithItems(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(rec.order), nil
}

// CountByStatus считает заказы с указанным статусом или все, если статус пуст.
func (r *OrderRepository) CountByStatus(ctx context.Context, status domain.OrderStatus) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if status == "" {
		return len(r.items), nil
	}
	count := 0
	for _, rec := range r.items {
		if rec.order.Status == status {
			count++
		}
	}
	return count, nil
}

// FindPage возвращает страницу заказов без позиций в порядке создания.
func (r *OrderRepository) FindPage(ctx context.Context, status domain.OrderStatus, offset, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]orderRecord, 0, len(r.items))
	for _, rec := range r.items {
		if status != "" && rec.order.Status != status {
			continue
		}
		matched = append(matched, rec)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].order.CreatedAt.Equal(matched[j].order.CreatedAt) {
			return matched[i].order.CreatedAt.Before(matched[j].order.CreatedAt)
		}
		return matched[i].seq < matched[j].seq
	})

	if offset >= len(matched) {
		return []domain.Order{}, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	result := make([]domain.Order, 0, end-offset)
	for _, rec := range matched[offset:end] {
		header := rec.order
		header.Items = nil
		result = append(result, header)
	}
	return result, nil
}

// UpdateStatus меняет статус по принципу compare-and-set.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, events ...domain.OutboxMessage) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if len(events) > 0 && r.outbox == nil {
		return domain.Order{}, fmt.Errorf("%w: outbox is not configured", domain.ErrPersistence)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if rec.order.Status != from {
		return domain.Order{}, domain.ErrOrderStatusConflict
	}

	if err := r.enqueueAll(events); err != nil {
		return domain.Order{}, err
	}

	rec.order.Status = to
	rec.order.UpdatedAt = r.now()
	r.items[id] = rec
	return cloneOrder(rec.order), nil
}

func (r *OrderRepository) enqueueAll(events []domain.OutboxMessage) error {
	if len(events) == 0 {
		return nil
	}
	return r.outbox.enqueueBatch(events)
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
