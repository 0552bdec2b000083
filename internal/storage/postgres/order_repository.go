package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	pgUniqueViolation           = "23505"
	pgInvalidTextRepresentation = "22P02"
)

// OrderRepository: PostgreSQL-реализация domain.OrderRepository.
// Заказ, позиции и события outbox пишутся в одной транзакции.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) *OrderRepository {
	return &OrderRepository{db: store.DB()}
}

// CreateWithItems сохраняет заказ, позиции и события атомарно.
func (r *OrderRepository) CreateWithItems(ctx context.Context, order domain.Order, events ...domain.OutboxMessage) (created domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, persistenceError("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (id, status, total_amount, total_items, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at
	`,
		order.ID, string(order.Status), order.TotalAmount, order.TotalItems,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Order{}, fmt.Errorf("%w: order %s already exists", domain.ErrPersistence, order.ID)
		}
		return domain.Order{}, persistenceError("insert order", err)
	}

	for i, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, quantity, price)
			VALUES ($1, $2, $3, $4, $5)
		`,
			order.ID, i+1, item.ProductID, item.Quantity, item.Price,
		); err != nil {
			return domain.Order{}, persistenceError("insert order item", err)
		}
	}

	if err = enqueueOutboxTx(ctx, tx, events); err != nil {
		return domain.Order{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, persistenceError("commit create order", err)
	}

	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

// FindByIDWithItems возвращает заказ с позициями или ErrOrderNotFound.
func (r *OrderRepository) FindByIDWithItems(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT id, status, total_amount::text, total_items, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidTextRepresentation(err) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, persistenceError("select order", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

// CountByStatus считает заказы; пустой статус означает все заказы.
func (r *OrderRepository) CountByStatus(ctx context.Context, status domain.OrderStatus) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM orders
		WHERE ($1 = '' OR status = $1)
	`, string(status)).Scan(&count)
	if err != nil {
		return 0, persistenceError("count orders", err)
	}
	return count, nil
}

// FindPage возвращает страницу заказов без позиций.
func (r *OrderRepository) FindPage(ctx context.Context, status domain.OrderStatus, offset, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, total_amount::text, total_items, created_at, updated_at
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at ASC, id ASC
		OFFSET $2
		LIMIT $3
	`, string(status), offset, limit)
	if err != nil {
		return nil, persistenceError("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, persistenceError("scan order row", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate order rows", err)
	}

	return orders, nil
}

// UpdateStatus меняет статус, только если текущее значение совпадает с from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, events ...domain.OutboxMessage) (updated domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, persistenceError("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	updated, err = scanOrder(tx.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $2
		RETURNING id, status, total_amount::text, total_items, created_at, updated_at
	`, id, string(from), string(to)))
	if err != nil {
		if isInvalidTextRepresentation(err) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		if errors.Is(err, sql.ErrNoRows) {
			exists, existsErr := orderExistsTx(ctx, tx, id)
			if existsErr != nil {
				return domain.Order{}, existsErr
			}
			if !exists {
				return domain.Order{}, domain.ErrOrderNotFound
			}
			return domain.Order{}, domain.ErrOrderStatusConflict
		}
		return domain.Order{}, persistenceError("update order status", err)
	}

	if err = enqueueOutboxTx(ctx, tx, events); err != nil {
		return domain.Order{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, persistenceError("commit update status", err)
	}

	return updated, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity, price::text
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no ASC
	`, orderID)
	if err != nil {
		return nil, persistenceError("load order items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, persistenceError("scan order item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate order items", err)
	}

	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	if err := row.Scan(
		&order.ID, &status, &order.TotalAmount, &order.TotalItems, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, persistenceError("check order exists", err)
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}

func isUniqueViolation(err error) bool {
	return hasPgCode(err, pgUniqueViolation)
}

// isInvalidTextRepresentation ловит идентификаторы, которые не являются UUID.
func isInvalidTextRepresentation(err error) bool {
	return hasPgCode(err, pgInvalidTextRepresentation)
}

func hasPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
