package domain

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан и ожидает оплаты.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid: оплата подтверждена.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusDelivered: заказ доставлен покупателю.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled: заказ отменён.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// orderTransitions задаёт допустимые переходы между статусами.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusDelivered, OrderStatusCancelled},
}

// OrderStatuses возвращает все статусы в порядке жизненного цикла.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{OrderStatusPending, OrderStatusPaid, OrderStatusDelivered, OrderStatusCancelled}
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет исходящих переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo проверяет переход по графу статусов.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseOrderStatus нормализует строковое значение и проверяет его.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ProductID: идентификатор товара в каталоге.
	ProductID string
	// Quantity: количество единиц товара.
	Quantity int32
	// Price: цена за единицу, зафиксированная в момент создания заказа.
	Price decimal.Decimal
	// ProductName заполняется из каталога при чтении и не хранится.
	ProductName string
}

// Subtotal возвращает стоимость позиции.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt32(i.Quantity))
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID          string
	Status      OrderStatus
	TotalAmount decimal.Decimal
	TotalItems  int32
	Items       []OrderItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductIDs возвращает идентификаторы товаров без повторов в порядке появления.
func (o Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Items))
	seen := make(map[string]struct{}, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}
	if o.TotalAmount.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем итоги с позициями: qty * price и сумму qty.
	calc := decimal.Zero
	var qty int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc = calc.Add(item.Subtotal())
		qty += int64(item.Quantity)
	}
	if !calc.Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}
	if qty > math.MaxInt32 {
		errs = append(errs, ErrTotalItemsOverflow)
	} else if qty != int64(o.TotalItems) {
		errs = append(errs, ErrTotalItemsMismatch)
	}

	return errs
}

// CreateOrderItem описывает позицию во входящем запросе на создание заказа.
type CreateOrderItem struct {
	ProductID string
	Quantity  int32
}

// CreateOrderInput: входные данные для создания заказа.
type CreateOrderInput struct {
	Items []CreateOrderItem
}

// Validate проверяет форму запроса до обращения к каталогу.
func (in CreateOrderInput) Validate() error {
	if len(in.Items) == 0 {
		return ErrItemsRequired
	}
	var total int64
	for _, item := range in.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return ErrProductIDRequired
		}
		if item.Quantity <= 0 {
			return ErrItemQtyInvalid
		}
		total += int64(item.Quantity)
	}
	if total > math.MaxInt32 {
		return ErrTotalItemsOverflow
	}
	return nil
}

// ProductIDs возвращает идентификаторы товаров запроса без повторов.
func (in CreateOrderInput) ProductIDs() []string {
	ids := make([]string, 0, len(in.Items))
	seen := make(map[string]struct{}, len(in.Items))
	for _, item := range in.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// Product: запись каталога товаров.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// ProductsByID индексирует ответ каталога по идентификатору товара.
func ProductsByID(products []Product) map[string]Product {
	out := make(map[string]Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out
}
