package orders_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

// countingRepo считает обращения к хранилищу и позволяет подменять ошибки.
type countingRepo struct {
	domain.OrderRepository

	mu        sync.Mutex
	creates   int
	updates   int
	pages     int
	createErr error
	updateErr error
	countErr  error
}

func (r *countingRepo) CreateWithItems(ctx context.Context, order domain.Order, events ...domain.OutboxMessage) (domain.Order, error) {
	r.mu.Lock()
	r.creates++
	err := r.createErr
	r.mu.Unlock()
	if err != nil {
		return domain.Order{}, err
	}
	return r.OrderRepository.CreateWithItems(ctx, order, events...)
}

func (r *countingRepo) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, events ...domain.OutboxMessage) (domain.Order, error) {
	r.mu.Lock()
	r.updates++
	err := r.updateErr
	r.mu.Unlock()
	if err != nil {
		return domain.Order{}, err
	}
	return r.OrderRepository.UpdateStatus(ctx, id, from, to, events...)
}

func (r *countingRepo) CountByStatus(ctx context.Context, status domain.OrderStatus) (int, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	return r.OrderRepository.CountByStatus(ctx, status)
}

func (r *countingRepo) FindPage(ctx context.Context, status domain.OrderStatus, offset, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	r.pages++
	r.mu.Unlock()
	return r.OrderRepository.FindPage(ctx, status, offset, limit)
}

type fixture struct {
	svc     *orders.Service
	repo    *countingRepo
	catalog *catalog.StaticClient
	outbox  *memory.OutboxRepository
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

func newFixture(t *testing.T, opts ...orders.Option) fixture {
	t.Helper()

	outbox := memory.NewOutboxRepository()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	repo := &countingRepo{OrderRepository: memory.NewOrderRepository(memory.WithOutbox(outbox), memory.WithClock(tick))}
	static := catalog.NewStaticClient(catalog.DefaultProducts()...)

	base := []orders.Option{
		orders.WithLogger(quietLogger()),
		orders.WithMetrics(metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry())),
	}
	svc := orders.NewService(repo, static, append(base, opts...)...)
	return fixture{svc: svc, repo: repo, catalog: static, outbox: outbox}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreate_ComputesTotalsFromCatalogPrices(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.Create(context.Background(), domain.CreateOrderInput{Items: []domain.CreateOrderItem{
		{ProductID: "1", Quantity: 2},
		{ProductID: "2", Quantity: 1},
		{ProductID: "1", Quantity: 3},
	}})
	require.NoError(t, err)

	require.NotEmpty(t, order.ID)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.True(t, order.TotalAmount.Equal(dec("269.49")), "got %s", order.TotalAmount)
	require.Equal(t, int32(6), order.TotalItems)
	require.Len(t, order.Items, 3)
	require.Equal(t, "Keyboard", order.Items[0].ProductName)
	require.Equal(t, "Mouse", order.Items[1].ProductName)
	require.True(t, order.Items[0].Price.Equal(dec("49.90")))
	require.False(t, order.CreatedAt.IsZero())

	require.Equal(t, 1, f.catalog.Calls())
	require.Equal(t, []string{"1", "2"}, f.catalog.LastBatch())
	require.Equal(t, 1, f.repo.creates)
	require.Empty(t, f.outbox.AllPending(), "events are disabled by default")
}

func TestCreate_ShapeValidationSkipsCatalog(t *testing.T) {
	tests := []struct {
		name  string
		input domain.CreateOrderInput
		want  error
	}{
		{name: "no items", input: domain.CreateOrderInput{}, want: domain.ErrItemsRequired},
		{name: "empty product", input: domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: " ", Quantity: 1}}}, want: domain.ErrProductIDRequired},
		{name: "zero quantity", input: domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "1", Quantity: 0}}}, want: domain.ErrItemQtyInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), tt.input)
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, domain.ErrValidation)
			require.Equal(t, 0, f.catalog.Calls())
			require.Equal(t, 0, f.repo.creates)
		})
	}
}

func TestCreate_TotalItemsOverflowNeverWrites(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), domain.CreateOrderInput{Items: []domain.CreateOrderItem{
		{ProductID: "1", Quantity: math.MaxInt32},
		{ProductID: "2", Quantity: 1},
	}})
	require.ErrorIs(t, err, domain.ErrTotalItemsOverflow)
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Equal(t, 0, f.catalog.Calls())
	require.Equal(t, 0, f.repo.creates)
}

func TestCreate_MaxTotalItemsIsAccepted(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.Create(context.Background(), domain.CreateOrderInput{Items: []domain.CreateOrderItem{
		{ProductID: "4", Quantity: math.MaxInt32 - 1},
		{ProductID: "4", Quantity: 1},
	}})
	require.NoError(t, err)
	require.Equal(t, int32(math.MaxInt32), order.TotalItems)
	require.Equal(t, 1, f.repo.creates)
}

func TestCreate_UnknownProductNeverWrites(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), domain.CreateOrderInput{Items: []domain.CreateOrderItem{
		{ProductID: "1", Quantity: 1},
		{ProductID: "404", Quantity: 1},
	}})
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Equal(t, orders.CreateFailedMessage, err.Error())
	require.Equal(t, 0, f.repo.creates)
}

func TestCreate_CatalogFailureIsUpstream(t *testing.T) {
	f := newFixture(t)
	f.catalog.Err = errors.New("connection refused")

	_, err := f.svc.Create(context.Background(), domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "1", Quantity: 1}}})
	require.ErrorIs(t, err, domain.ErrUpstream)
	require.Equal(t, orders.CreateFailedMessage, err.Error())
	require.Equal(t, 0, f.repo.creates)
}

func TestCreate_PersistenceFailureIsHidden(t *testing.T) {
	f := newFixture(t)
	f.repo.createErr = errors.New("tx aborted")

	_, err := f.svc.Create(context.Background(), domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "1", Quantity: 1}}})
	require.ErrorIs(t, err, domain.ErrPersistence)
	require.Equal(t, orders.CreateFailedMessage, err.Error())
	require.Equal(t, "persistence", orders.KindLabel(err))
}

func TestCreate_EnqueuesEventWhenOutboxEnabled(t *testing.T) {
	f := newFixture(t, orders.WithOutbox(true), orders.WithIDGenerator(func() string { return "order-1" }))

	_, err := f.svc.Create(context.Background(), domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "3", Quantity: 1}}})
	require.NoError(t, err)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventTypeOrderCreated, pending[0].EventType)
	require.Equal(t, "order-1", pending[0].AggregateID)
	require.Contains(t, string(pending[0].Payload), `"total_amount":"189.00"`)
}

func TestFindOne_EnrichesNamesAndKeepsSnapshotPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "2", Quantity: 2}}})
	require.NoError(t, err)

	f.catalog.Upsert(domain.Product{ID: "2", Name: "Mouse Pro", Price: dec("25.00")})

	got, err := f.svc.FindOne(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Mouse Pro", got.Items[0].ProductName)
	require.True(t, got.Items[0].Price.Equal(dec("19.99")))
	require.True(t, got.TotalAmount.Equal(dec("39.98")))
	require.Equal(t, 2, f.catalog.Calls())
}

func TestFindOne_MissingProductLeavesNameEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, domain.CreateOrderInput{Items: []domain.CreateOrderItem{
		{ProductID: "4", Quantity: 1},
		{ProductID: "5", Quantity: 1},
	}})
	require.NoError(t, err)

	f.catalog.Remove("4")

	got, err := f.svc.FindOne(ctx, created.ID)
	require.NoError(t, err)
	require.Empty(t, got.Items[0].ProductName)
	require.Equal(t, "Headset", got.Items[1].ProductName)
}

func TestFindOne_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.FindOne(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.Equal(t, 0, f.catalog.Calls())

	_, err = f.svc.FindOne(ctx, "  ")
	require.ErrorIs(t, err, domain.ErrValidation)

	created, err := f.svc.Create(ctx, domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "1", Quantity: 1}}})
	require.NoError(t, err)

	f.catalog.Err = errors.New("timeout")
	_, err = f.svc.FindOne(ctx, created.ID)
	require.ErrorIs(t, err, domain.ErrUpstream)
}

func TestFindAll_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		order, err := f.svc.Create(ctx, domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "1", Quantity: 1}}})
		require.NoError(t, err)
		ids = append(ids, order.ID)
	}

	page, err := f.svc.FindAll(ctx, domain.ListOrdersQuery{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, domain.PageMeta{Page: 2, TotalPages: 5, LastPage: 3}, page.Meta)
	require.Len(t, page.Data, 2)
	require.Equal(t, ids[2], page.Data[0].ID)
	require.Equal(t, ids[3], page.Data[1].ID)
	require.Nil(t, page.Data[0].Items)

	defaults, err := f.svc.FindAll(ctx, domain.ListOrdersQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, defaults.Meta.Page)
	require.Equal(t, 1, defaults.Meta.LastPage)
	require.Len(t, defaults.Data, 5)

	pagesBefore := f.repo.pages
	past, err := f.svc.FindAll(ctx, domain.ListOrdersQuery{Page: 9, Limit: 2})
	require.NoError(t, err)
	require.NotNil(t, past.Data)
	require.Empty(t, past.Data)
	require.Equal(t, 3, past.Meta.LastPage)
	require.Equal(t, pagesBefore, f.repo.pages)
}

func TestFindAll_EmptyStore(t *testing.T) {
	f := newFixture(t)

	page, err := f.svc.FindAll(context.Background(), domain.ListOrdersQuery{})
	require.NoError(t, err)
	require.Equal(t, domain.PageMeta{Page: 1, TotalPages: 0, LastPage: 0}, page.Meta)
	require.NotNil(t, page.Data)
	require.Empty(t, page.Data)
	require.Equal(t, 0, f.repo.pages)
}

func TestFindAll_StatusFilterAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "1", Quantity: 1}}})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "2", Quantity: 1}}})
	require.NoError(t, err)
	_, err = f.svc.ChangeStatus(ctx, first.ID, domain.OrderStatusPaid)
	require.NoError(t, err)

	paid, err := f.svc.FindAll(ctx, domain.ListOrdersQuery{Status: domain.OrderStatusPaid})
	require.NoError(t, err)
	require.Equal(t, 1, paid.Meta.TotalPages)
	require.Len(t, paid.Data, 1)
	require.Equal(t, first.ID, paid.Data[0].ID)

	empty, err := f.svc.FindAll(ctx, domain.ListOrdersQuery{Status: domain.OrderStatusDelivered})
	require.NoError(t, err)
	require.Equal(t, 0, empty.Meta.LastPage)
	require.Empty(t, empty.Data)

	_, err = f.svc.FindAll(ctx, domain.ListOrdersQuery{Page: -1})
	require.ErrorIs(t, err, domain.ErrInvalidPagination)
	_, err = f.svc.FindAll(ctx, domain.ListOrdersQuery{Status: "SHIPPED"})
	require.ErrorIs(t, err, domain.ErrInvalidStatus)

	f.repo.countErr = errors.New("db down")
	_, err = f.svc.FindAll(ctx, domain.ListOrdersQuery{})
	require.ErrorIs(t, err, domain.ErrPersistence)
}

func TestChangeStatus_SameStatusIsNoop(t *testing.T) {
	f := newFixture(t, orders.WithOutbox(true))
	ctx := context.Background()

	created, err := f.svc.Create(ctx, domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "1", Quantity: 1}}})
	require.NoError(t, err)
	pendingEvents := len(f.outbox.AllPending())

	got, err := f.svc.ChangeStatus(ctx, created.ID, "pending")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, got.Status)
	require.Equal(t, created.UpdatedAt, got.UpdatedAt)
	require.Equal(t, 0, f.repo.updates)
	require.Len(t, f.outbox.AllPending(), pendingEvents)
}

func TestChangeStatus_PersistsTransition(t *testing.T) {
	f := newFixture(t, orders.WithOutbox(true))
	ctx := context.Background()

	created, err := f.svc.Create(ctx, domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "3", Quantity: 1}}})
	require.NoError(t, err)

	updated, err := f.svc.ChangeStatus(ctx, created.ID, domain.OrderStatusPaid)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, updated.Status)
	require.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	require.Len(t, updated.Items, 1)
	require.Equal(t, "Monitor", updated.Items[0].ProductName)
	require.Equal(t, 1, f.repo.updates)
	require.Equal(t, 2, f.catalog.Calls(), "create and findOne only")

	events := f.outbox.AllPending()
	require.Len(t, events, 2)
	require.Equal(t, domain.EventTypeOrderStatusChanged, events[1].EventType)
	require.Contains(t, string(events[1].Payload), `"from":"PENDING"`)
	require.Contains(t, string(events[1].Payload), `"to":"PAID"`)

	stored, err := f.svc.FindOne(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, stored.Status)
}

func TestChangeStatus_TransitionPolicies(t *testing.T) {
	ctx := context.Background()

	strict := newFixture(t)
	created, err := strict.svc.Create(ctx, domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "1", Quantity: 1}}})
	require.NoError(t, err)
	_, err = strict.svc.ChangeStatus(ctx, created.ID, domain.OrderStatusDelivered)
	require.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Equal(t, 0, strict.repo.updates)

	_, err = strict.svc.ChangeStatus(ctx, created.ID, domain.OrderStatusCancelled)
	require.NoError(t, err)
	_, err = strict.svc.ChangeStatus(ctx, created.ID, domain.OrderStatusPaid)
	require.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	permissive := newFixture(t, orders.WithTransitionPolicy(orders.TransitionPolicyPermissive))
	created, err = permissive.svc.Create(ctx, domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "1", Quantity: 1}}})
	require.NoError(t, err)
	updated, err := permissive.svc.ChangeStatus(ctx, created.ID, domain.OrderStatusDelivered)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusDelivered, updated.Status)
}

func TestChangeStatus_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ChangeStatus(ctx, "missing", "SHIPPED")
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
	require.Equal(t, 0, f.catalog.Calls())

	_, err = f.svc.ChangeStatus(ctx, "missing", domain.OrderStatusPaid)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	created, err := f.svc.Create(ctx, domain.CreateOrderInput{Items: []domain.CreateOrderItem{{ProductID: "1", Quantity: 1}}})
	require.NoError(t, err)

	f.repo.updateErr = domain.ErrOrderStatusConflict
	_, err = f.svc.ChangeStatus(ctx, created.ID, domain.OrderStatusPaid)
	require.ErrorIs(t, err, domain.ErrOrderStatusConflict)

	f.repo.updateErr = errors.New("deadlock detected")
	_, err = f.svc.ChangeStatus(ctx, created.ID, domain.OrderStatusPaid)
	require.ErrorIs(t, err, domain.ErrPersistence)
}

func TestParseTransitionPolicy(t *testing.T) {
	policy, err := orders.ParseTransitionPolicy("")
	require.NoError(t, err)
	require.Equal(t, orders.TransitionPolicyStrict, policy)

	policy, err = orders.ParseTransitionPolicy(" Permissive ")
	require.NoError(t, err)
	require.Equal(t, orders.TransitionPolicyPermissive, policy)

	_, err = orders.ParseTransitionPolicy("loose")
	require.Error(t, err)
}

func TestPublicMessage(t *testing.T) {
	require.Equal(t, "order not found", orders.PublicMessage(domain.ErrOrderNotFound))
	require.Equal(t, "catalog unavailable", orders.PublicMessage(errors.Join(domain.ErrUpstream, errors.New("dial tcp"))))
	require.Equal(t, "internal error", orders.PublicMessage(errors.New("boom")))
	require.Equal(t, domain.ErrInvalidStatus.Error(), orders.PublicMessage(domain.ErrInvalidStatus))
}
