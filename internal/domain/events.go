package domain

import (
	"encoding/json"
	"time"
)

const (
	// AggregateTypeOrder: тип агрегата для сообщений outbox.
	AggregateTypeOrder = "order"
	// EventTypeOrderCreated публикуется после создания заказа.
	EventTypeOrderCreated = "order.created"
	// EventTypeOrderStatusChanged публикуется после смены статуса.
	EventTypeOrderStatusChanged = "order.status_changed"
)

// OrderCreatedItem: позиция в событии создания заказа.
type OrderCreatedItem struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	Price     string `json:"price"`
}

// OrderCreatedEvent: полезная нагрузка order.created.
type OrderCreatedEvent struct {
	OrderID     string             `json:"order_id"`
	Status      OrderStatus        `json:"status"`
	TotalAmount string             `json:"total_amount"`
	TotalItems  int32              `json:"total_items"`
	Items       []OrderCreatedItem `json:"items"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// OrderStatusChangedEvent: полезная нагрузка order.status_changed.
type OrderStatusChangedEvent struct {
	OrderID    string      `json:"order_id"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// NewOrderCreatedMessage собирает сообщение outbox для нового заказа.
func NewOrderCreatedMessage(order Order, at time.Time) (OutboxMessage, error) {
	event := OrderCreatedEvent{
		OrderID:     order.ID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount.StringFixed(2),
		TotalItems:  order.TotalItems,
		Items:       make([]OrderCreatedItem, 0, len(order.Items)),
		OccurredAt:  at.UTC(),
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, OrderCreatedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price.StringFixed(2),
		})
	}
	return newOrderMessage(order.ID, EventTypeOrderCreated, event)
}

// NewOrderStatusChangedMessage собирает сообщение outbox о смене статуса.
func NewOrderStatusChangedMessage(orderID string, from, to OrderStatus, at time.Time) (OutboxMessage, error) {
	return newOrderMessage(orderID, EventTypeOrderStatusChanged, OrderStatusChangedEvent{
		OrderID:    orderID,
		From:       from,
		To:         to,
		OccurredAt: at.UTC(),
	})
}

func newOrderMessage(orderID, eventType string, payload any) (OutboxMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}

// DeadLetterEvent: полезная нагрузка сообщения, исчерпавшего попытки публикации.
type DeadLetterEvent struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	OrderID       string          `json:"order_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

// NewDeadLetterMessage заворачивает неопубликованное сообщение вместе с причиной отказа.
// Идентификаторы и тип события сохраняются, чтобы DLQ-топик партиционировался так же.
func NewDeadLetterMessage(msg OutboxMessage, publishErr error, at time.Time) (OutboxMessage, error) {
	event := DeadLetterEvent{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		OrderID:       msg.AggregateID,
		EventType:     msg.EventType,
		FailedAt:      at.UTC(),
	}
	if len(msg.Payload) > 0 {
		event.Payload = json.RawMessage(msg.Payload)
	}
	if publishErr != nil {
		event.PublishError = publishErr.Error()
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return OutboxMessage{}, err
	}
	dead := msg
	dead.Payload = raw
	return dead, nil
}

// Original восстанавливает исходное outbox-сообщение для повторной публикации.
func (e DeadLetterEvent) Original() OutboxMessage {
	return OutboxMessage{
		ID:            e.OutboxID,
		AggregateType: e.AggregateType,
		AggregateID:   e.OrderID,
		EventType:     e.EventType,
		Payload:       []byte(e.Payload),
	}
}
