// Package orders реализует сценарии работы с заказами поверх каталога и хранилища.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

const (
	operationCreate       = "create"
	operationFindOne      = "find_one"
	operationFindAll      = "find_all"
	operationChangeStatus = "change_status"
)

// Service содержит бизнес-логику заказов.
type Service struct {
	repo    domain.OrderRepository
	catalog domain.CatalogClient
	logger  *log.Entry
	metrics *metrics.OrderMetrics

	policy     TransitionPolicy
	withEvents bool
	now        func() time.Time
	newID      func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithOutbox включает запись событий order.created и order.status_changed
// в той же транзакции, что и изменение заказа.
func WithOutbox(enabled bool) Option {
	return func(s *Service) {
		s.withEvents = enabled
	}
}

// WithTransitionPolicy задаёт политику проверки переходов статусов.
func WithTransitionPolicy(policy TransitionPolicy) Option {
	return func(s *Service) {
		s.policy = policy
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewService создаёт сервис заказов.
func NewService(repo domain.OrderRepository, catalog domain.CatalogClient, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		catalog: catalog,
		logger:  log.New().WithField("component", "order-service"),
		policy:  TransitionPolicyStrict,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create проверяет товары в каталоге одним вызовом, фиксирует цены
// и атомарно сохраняет заказ с позициями.
func (s *Service) Create(ctx context.Context, in domain.CreateOrderInput) (order domain.Order, err error) {
	started := time.Now()
	defer func() {
		s.metrics.RecordOperation(operationCreate, err, time.Since(started))
		if err != nil {
			s.metrics.RecordCreateFailure(KindLabel(err))
		}
	}()

	if err := in.Validate(); err != nil {
		return domain.Order{}, err
	}

	productIDs := in.ProductIDs()
	logger := s.logger.WithFields(log.Fields{
		"operation":   operationCreate,
		"product_ids": productIDs,
	})

	products, err := s.validateProducts(ctx, productIDs)
	if err != nil {
		logger.WithError(err).Error("catalog validation failed")
		return domain.Order{}, &CreateError{cause: err}
	}
	byID := domain.ProductsByID(products)

	items := make([]domain.OrderItem, 0, len(in.Items))
	totalAmount := decimal.Zero
	var totalItems int64
	for _, requested := range in.Items {
		product, ok := byID[requested.ProductID]
		if !ok {
			err := fmt.Errorf("%w: %s", domain.ErrProductNotFound, requested.ProductID)
			logger.WithError(err).Warn("product is not available in catalog")
			return domain.Order{}, &CreateError{cause: err}
		}
		item := domain.OrderItem{
			ProductID: requested.ProductID,
			Quantity:  requested.Quantity,
			Price:     product.Price,
		}
		totalAmount = totalAmount.Add(item.Subtotal())
		totalItems += int64(item.Quantity)
		items = append(items, item)
	}

	now := s.now()
	draft := domain.Order{
		ID:          s.newID(),
		Status:      domain.OrderStatusPending,
		TotalAmount: totalAmount,
		TotalItems:  int32(totalItems), //nolint:gosec // Validate ограничивает сумму MaxInt32.
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	logger = logger.WithField("order_id", draft.ID)

	if errs := draft.ValidateInvariants(); len(errs) > 0 {
		err := errors.Join(errs...)
		logger.WithError(err).Error("computed order violates invariants")
		return domain.Order{}, &CreateError{cause: err}
	}

	var events []domain.OutboxMessage
	if s.withEvents {
		event, err := domain.NewOrderCreatedMessage(draft, now)
		if err != nil {
			err = fmt.Errorf("%w: encode order.created: %v", domain.ErrPersistence, err)
			logger.WithError(err).Error("failed to build outbox event")
			return domain.Order{}, &CreateError{cause: err}
		}
		events = append(events, event)
	}

	saved, err := s.repo.CreateWithItems(ctx, draft, events...)
	if err != nil {
		err = persistence("create order", err)
		logger.WithError(err).Error("failed to persist order")
		return domain.Order{}, &CreateError{cause: err}
	}

	saved.Items = enrich(saved.Items, byID)
	s.metrics.RecordOrderCreated()
	logger.WithFields(log.Fields{
		"total_amount": saved.TotalAmount.StringFixed(2),
		"total_items":  saved.TotalItems,
	}).Info("order created")

	return saved, nil
}

// FindOne возвращает заказ с позициями; названия товаров подтягиваются из каталога.
// Цены берутся из сохранённого снимка. Отсутствие товара в каталоге не прерывает чтение.
func (s *Service) FindOne(ctx context.Context, id string) (order domain.Order, err error) {
	started := time.Now()
	defer func() {
		s.metrics.RecordOperation(operationFindOne, err, time.Since(started))
	}()

	return s.findOne(ctx, id)
}

func (s *Service) findOne(ctx context.Context, id string) (domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	order, err := s.repo.FindByIDWithItems(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, err
		}
		err = persistence("load order", err)
		s.logger.WithError(err).WithField("order_id", id).Error("failed to load order")
		return domain.Order{}, err
	}

	productIDs := order.ProductIDs()
	if len(productIDs) == 0 {
		return order, nil
	}

	products, err := s.validateProducts(ctx, productIDs)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", id).Error("failed to enrich order from catalog")
		return domain.Order{}, err
	}

	byID := domain.ProductsByID(products)
	order.Items = enrich(order.Items, byID)

	var missing []string
	for _, pid := range productIDs {
		if _, ok := byID[pid]; !ok {
			missing = append(missing, pid)
		}
	}
	if len(missing) > 0 {
		s.metrics.RecordEnrichmentMiss(len(missing))
		s.logger.WithFields(log.Fields{
			"order_id":    id,
			"product_ids": missing,
		}).Warn("catalog has no entry for ordered products")
	}

	return order, nil
}

// FindAll возвращает страницу заказов без позиций.
func (s *Service) FindAll(ctx context.Context, query domain.ListOrdersQuery) (page domain.OrderPage, err error) {
	started := time.Now()
	defer func() {
		s.metrics.RecordOperation(operationFindAll, err, time.Since(started))
	}()

	query, err = query.Normalize()
	if err != nil {
		return domain.OrderPage{}, err
	}

	total, err := s.repo.CountByStatus(ctx, query.Status)
	if err != nil {
		err = persistence("count orders", err)
		s.logger.WithError(err).WithField("status", query.Status).Error("failed to count orders")
		return domain.OrderPage{}, err
	}

	page = domain.OrderPage{
		Data: []domain.Order{},
		Meta: domain.PageMeta{
			Page:       query.Page,
			TotalPages: total,
			LastPage:   domain.LastPage(total, query.Limit),
		},
	}
	if query.Offset() >= total {
		return page, nil
	}

	orders, err := s.repo.FindPage(ctx, query.Status, query.Offset(), query.Limit)
	if err != nil {
		err = persistence("list orders", err)
		s.logger.WithError(err).WithFields(log.Fields{
			"status": query.Status,
			"page":   query.Page,
			"limit":  query.Limit,
		}).Error("failed to list orders")
		return domain.OrderPage{}, err
	}
	if orders != nil {
		page.Data = orders
	}
	return page, nil
}

// ChangeStatus переводит заказ в новый статус. Запрос на текущий статус ничего не пишет.
func (s *Service) ChangeStatus(ctx context.Context, id string, next domain.OrderStatus) (order domain.Order, err error) {
	started := time.Now()
	defer func() {
		s.metrics.RecordOperation(operationChangeStatus, err, time.Since(started))
	}()

	target, err := domain.ParseOrderStatus(string(next))
	if err != nil {
		return domain.Order{}, err
	}

	current, err := s.findOne(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	logger := s.logger.WithFields(log.Fields{
		"operation": operationChangeStatus,
		"order_id":  current.ID,
		"from":      current.Status,
		"to":        target,
	})

	if current.Status == target {
		s.metrics.RecordStatusNoop()
		logger.Debug("order already has requested status")
		return current, nil
	}

	if s.policy == TransitionPolicyStrict && !current.Status.CanTransitionTo(target) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatusTransition, current.Status, target)
	}

	var events []domain.OutboxMessage
	if s.withEvents {
		event, err := domain.NewOrderStatusChangedMessage(current.ID, current.Status, target, s.now())
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: encode order.status_changed: %v", domain.ErrPersistence, err)
		}
		events = append(events, event)
	}

	updated, err := s.repo.UpdateStatus(ctx, current.ID, current.Status, target, events...)
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) && !errors.Is(err, domain.ErrOrderStatusConflict) {
			err = persistence("update order status", err)
		}
		logger.WithError(err).Error("failed to update order status")
		return domain.Order{}, err
	}

	updated.Items = current.Items
	s.metrics.RecordStatusChange(string(current.Status), string(target))
	logger.Info("order status changed")

	return updated, nil
}

func (s *Service) validateProducts(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	started := time.Now()
	products, err := s.catalog.ValidateProducts(ctx, productIDs)
	s.metrics.RecordCatalogCall(err, time.Since(started))
	if err != nil {
		if errors.Is(err, domain.ErrUpstream) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	return products, nil
}

// enrich проставляет названия товаров; позиции без записи в каталоге остаются без названия.
func enrich(items []domain.OrderItem, byID map[string]domain.Product) []domain.OrderItem {
	out := make([]domain.OrderItem, len(items))
	for i, item := range items {
		if p, ok := byID[item.ProductID]; ok {
			item.ProductName = p.Name
		}
		out[i] = item
	}
	return out
}

func persistence(op string, err error) error {
	if domain.ErrorKind(err) != domain.ErrPersistence || errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}
