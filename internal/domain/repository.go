package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// CreateWithItems атомарно сохраняет заказ, его позиции и события outbox.
	// Возвращает заказ с проставленными CreatedAt/UpdatedAt.
	CreateWithItems(ctx context.Context, order Order, events ...OutboxMessage) (Order, error)
	// FindByIDWithItems возвращает заказ с позициями или ErrOrderNotFound.
	FindByIDWithItems(ctx context.Context, id string) (Order, error)
	// CountByStatus считает заказы; пустой статус снимает фильтр.
	CountByStatus(ctx context.Context, status OrderStatus) (int, error)
	// FindPage возвращает заказы без позиций, упорядоченные по времени создания.
	FindPage(ctx context.Context, status OrderStatus, offset, limit int) ([]Order, error)
	// UpdateStatus меняет статус, если текущий равен from, и сохраняет события outbox.
	// Возвращает ErrOrderStatusConflict, если статус уже другой.
	UpdateStatus(ctx context.Context, id string, from, to OrderStatus, events ...OutboxMessage) (Order, error)
}
