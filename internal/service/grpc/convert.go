package grpcsvc

import (
	ordersv1 "github.com/vladislavdragonenkov/orders/api/orders/v1"
	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// OrderToAPI переводит доменный заказ в сообщение API.
// Позиции не выводятся, если заказ загружен без них.
func OrderToAPI(order domain.Order) *ordersv1.Order {
	out := &ordersv1.Order{
		Id:          order.ID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		TotalItems:  order.TotalItems,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
	if len(order.Items) > 0 {
		out.Items = make([]*ordersv1.OrderItem, 0, len(order.Items))
		for _, item := range order.Items {
			out.Items = append(out.Items, &ordersv1.OrderItem{
				ProductId: item.ProductID,
				Quantity:  item.Quantity,
				Price:     item.Price,
				Name:      item.ProductName,
			})
		}
	}
	return out
}

// PageToAPI переводит страницу заказов в ответ listOrders.
func PageToAPI(page domain.OrderPage) *ordersv1.ListOrdersResponse {
	data := make([]*ordersv1.Order, 0, len(page.Data))
	for _, order := range page.Data {
		data = append(data, OrderToAPI(order))
	}
	return &ordersv1.ListOrdersResponse{
		Data: data,
		Meta: &ordersv1.PageMeta{
			Page:       int32(page.Meta.Page),       //nolint:gosec // page numbers fit int32.
			TotalPages: int32(page.Meta.TotalPages), //nolint:gosec // counts fit int32.
			LastPage:   int32(page.Meta.LastPage),   //nolint:gosec // page numbers fit int32.
		},
	}
}
