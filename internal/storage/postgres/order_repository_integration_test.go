package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

func TestOrderRepository_PostgresCreateFindAndPage(t *testing.T) {
	store := ordersStoreForTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	first, err := repo.CreateWithItems(ctx, sampleOrder())
	require.NoError(t, err)
	require.False(t, first.CreatedAt.IsZero())

	second := sampleOrder()
	second.Status = domain.OrderStatusPaid
	_, err = repo.CreateWithItems(ctx, second)
	require.NoError(t, err)

	got, err := repo.FindByIDWithItems(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, got.Status)
	require.True(t, got.TotalAmount.Equal(decimal.RequireFromString("107.30")), "total %s", got.TotalAmount)
	require.Len(t, got.Items, 2)
	require.Equal(t, "1", got.Items[0].ProductID)
	require.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("49.90")))

	total, err := repo.CountByStatus(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, total)

	paid, err := repo.CountByStatus(ctx, domain.OrderStatusPaid)
	require.NoError(t, err)
	require.Equal(t, 1, paid)

	page, err := repo.FindPage(ctx, "", 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Empty(t, page[0].Items)
}

func TestOrderRepository_PostgresUpdateStatusWithOutbox(t *testing.T) {
	store := ordersStoreForTest(t)
	repo := NewOrderRepository(store)
	outbox := NewOutboxRepository(store)
	ctx := context.Background()

	order, err := repo.CreateWithItems(ctx, sampleOrder())
	require.NoError(t, err)

	event, err := domain.NewOrderStatusChangedMessage(order.ID, domain.OrderStatusPending, domain.OrderStatusPaid, order.CreatedAt)
	require.NoError(t, err)

	updated, err := repo.UpdateStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusPaid, event)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, updated.Status)

	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, order.ID, pending[0].AggregateID)

	_, err = repo.UpdateStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled)
	require.ErrorIs(t, err, domain.ErrOrderStatusConflict)
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := ordersStoreForTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	_, err := repo.FindByIDWithItems(ctx, uuid.NewString())
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = repo.FindByIDWithItems(ctx, "not-a-uuid")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = repo.UpdateStatus(ctx, uuid.NewString(), domain.OrderStatusPending, domain.OrderStatusPaid)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	order := sampleOrder()
	_, err = repo.CreateWithItems(ctx, order)
	require.NoError(t, err)
	_, err = repo.CreateWithItems(ctx, order)
	require.ErrorIs(t, err, domain.ErrPersistence)

	broken := sampleOrder()
	broken.Items[0].Quantity = 0
	_, err = repo.CreateWithItems(ctx, broken)
	require.ErrorIs(t, err, domain.ErrPersistence)
	_, err = repo.FindByIDWithItems(ctx, broken.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound, "failed create must roll back the order row")
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
	if !isInvalidTextRepresentation(&pgconn.PgError{Code: "22P02"}) {
		t.Fatal("expected invalid text representation for code 22P02")
	}
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:          uuid.NewString(),
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("107.30"),
		TotalItems:  3,
		Items: []domain.OrderItem{
			{ProductID: "1", Quantity: 2, Price: decimal.RequireFromString("49.90")},
			{ProductID: "4", Quantity: 1, Price: decimal.RequireFromString("7.50")},
		},
	}
}
