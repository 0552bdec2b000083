// Package ordersv1 описывает публичный gRPC-контракт сервиса заказов.
package ordersv1

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateOrderItem: позиция запроса на создание заказа.
type CreateOrderItem struct {
	ProductId string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

func (x *CreateOrderItem) GetProductId() string {
	if x != nil {
		return x.ProductId
	}
	return ""
}

func (x *CreateOrderItem) GetQuantity() int32 {
	if x != nil {
		return x.Quantity
	}
	return 0
}

// CreateOrderRequest: запрос createOrder.
type CreateOrderRequest struct {
	Items []*CreateOrderItem `json:"items"`
}

func (x *CreateOrderRequest) GetItems() []*CreateOrderItem {
	if x != nil {
		return x.Items
	}
	return nil
}

// OrderItem: позиция заказа с ценой на момент покупки и названием из каталога.
type OrderItem struct {
	ProductId string          `json:"productId"`
	Quantity  int32           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Name      string          `json:"name"`
}

// Order: представление заказа в ответах.
type Order struct {
	Id          string          `json:"id"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	TotalItems  int32           `json:"totalItems"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Items       []*OrderItem    `json:"items,omitempty"`
}

func (x *Order) GetId() string {
	if x != nil {
		return x.Id
	}
	return ""
}

func (x *Order) GetStatus() string {
	if x != nil {
		return x.Status
	}
	return ""
}

// CreateOrderResponse: ответ createOrder.
type CreateOrderResponse struct {
	Order *Order `json:"order"`
}

func (x *CreateOrderResponse) GetOrder() *Order {
	if x != nil {
		return x.Order
	}
	return nil
}

// GetOrderRequest: запрос getOrder.
type GetOrderRequest struct {
	Id string `json:"id"`
}

func (x *GetOrderRequest) GetId() string {
	if x != nil {
		return x.Id
	}
	return ""
}

// GetOrderResponse: ответ getOrder.
type GetOrderResponse struct {
	Order *Order `json:"order"`
}

func (x *GetOrderResponse) GetOrder() *Order {
	if x != nil {
		return x.Order
	}
	return nil
}

// ListOrdersRequest: запрос listOrders. Нулевые page и limit означают значения по умолчанию.
type ListOrdersRequest struct {
	Page   int32  `json:"page,omitempty"`
	Limit  int32  `json:"limit,omitempty"`
	Status string `json:"status,omitempty"`
}

func (x *ListOrdersRequest) GetPage() int32 {
	if x != nil {
		return x.Page
	}
	return 0
}

func (x *ListOrdersRequest) GetLimit() int32 {
	if x != nil {
		return x.Limit
	}
	return 0
}

func (x *ListOrdersRequest) GetStatus() string {
	if x != nil {
		return x.Status
	}
	return ""
}

// PageMeta: метаданные страницы. TotalPages содержит общее число заказов.
type PageMeta struct {
	Page       int32 `json:"page"`
	TotalPages int32 `json:"totalPages"`
	LastPage   int32 `json:"lastPage"`
}

// ListOrdersResponse: ответ listOrders.
type ListOrdersResponse struct {
	Data []*Order  `json:"data"`
	Meta *PageMeta `json:"meta"`
}

func (x *ListOrdersResponse) GetData() []*Order {
	if x != nil {
		return x.Data
	}
	return nil
}

func (x *ListOrdersResponse) GetMeta() *PageMeta {
	if x != nil {
		return x.Meta
	}
	return nil
}

// ChangeOrderStatusRequest: запрос changeOrderStatus.
type ChangeOrderStatusRequest struct {
	Id     string `json:"id"`
	Status string `json:"status"`
}

func (x *ChangeOrderStatusRequest) GetId() string {
	if x != nil {
		return x.Id
	}
	return ""
}

func (x *ChangeOrderStatusRequest) GetStatus() string {
	if x != nil {
		return x.Status
	}
	return ""
}

// ChangeOrderStatusResponse: ответ changeOrderStatus.
type ChangeOrderStatusResponse struct {
	Order *Order `json:"order"`
}

func (x *ChangeOrderStatusResponse) GetOrder() *Order {
	if x != nil {
		return x.Order
	}
	return nil
}
