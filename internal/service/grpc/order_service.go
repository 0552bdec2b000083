// Package grpcsvc реализует gRPC API orders.v1 поверх сервиса заказов.
package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ordersv1 "github.com/vladislavdragonenkov/orders/api/orders/v1"
	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/idempotency"
)

// IdempotencyKeyHeader: ключ метаданных с idempotency-key.
const IdempotencyKeyHeader = "idempotency-key"

// OrderUseCases: операции сервиса заказов, которые публикует API.
type OrderUseCases interface {
	Create(ctx context.Context, in domain.CreateOrderInput) (domain.Order, error)
	FindOne(ctx context.Context, id string) (domain.Order, error)
	FindAll(ctx context.Context, query domain.ListOrdersQuery) (domain.OrderPage, error)
	ChangeStatus(ctx context.Context, id string, next domain.OrderStatus) (domain.Order, error)
}

// OrderService реализует ordersv1.OrderServiceServer.
type OrderService struct {
	ordersv1.UnimplementedOrderServiceServer

	orders OrderUseCases
	guard  *idempotency.Guard
	logger *log.Entry
}

// NewOrderService конструирует gRPC-сервис. guard может быть nil.
func NewOrderService(useCases OrderUseCases, guard *idempotency.Guard, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "order-grpc")
	}
	return &OrderService{
		orders: useCases,
		guard:  guard,
		logger: logger,
	}
}

// CreateOrder создаёт заказ.
func (s *OrderService) CreateOrder(ctx context.Context, req *ordersv1.CreateOrderRequest) (*ordersv1.CreateOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return withIdempotency(s, ctx, ordersv1.OrderService_CreateOrder_FullMethodName, req,
		func(ctx context.Context) (*ordersv1.CreateOrderResponse, error) {
			in := domain.CreateOrderInput{Items: make([]domain.CreateOrderItem, 0, len(req.GetItems()))}
			for _, item := range req.GetItems() {
				in.Items = append(in.Items, domain.CreateOrderItem{
					ProductID: strings.TrimSpace(item.GetProductId()),
					Quantity:  item.GetQuantity(),
				})
			}

			order, err := s.orders.Create(ctx, in)
			if err != nil {
				return nil, toStatusError(err)
			}
			return &ordersv1.CreateOrderResponse{Order: OrderToAPI(order)}, nil
		},
	)
}

// GetOrder возвращает заказ с позициями.
func (s *OrderService) GetOrder(ctx context.Context, req *ordersv1.GetOrderRequest) (*ordersv1.GetOrderResponse, error) {
	if strings.TrimSpace(req.GetId()) == "" {
		return nil, status.Error(codes.InvalidArgument, domain.ErrOrderIDRequired.Error())
	}

	order, err := s.orders.FindOne(ctx, req.GetId())
	if err != nil {
		return nil, toStatusError(err)
	}
	return &ordersv1.GetOrderResponse{Order: OrderToAPI(order)}, nil
}

// ListOrders возвращает страницу заказов без позиций.
func (s *OrderService) ListOrders(ctx context.Context, req *ordersv1.ListOrdersRequest) (*ordersv1.ListOrdersResponse, error) {
	query := domain.ListOrdersQuery{
		Page:  int(req.GetPage()),
		Limit: int(req.GetLimit()),
	}
	if raw := strings.TrimSpace(req.GetStatus()); raw != "" {
		st, err := domain.ParseOrderStatus(raw)
		if err != nil {
			return nil, toStatusError(err)
		}
		query.Status = st
	}

	page, err := s.orders.FindAll(ctx, query)
	if err != nil {
		return nil, toStatusError(err)
	}
	return PageToAPI(page), nil
}

// ChangeOrderStatus меняет статус заказа.
func (s *OrderService) ChangeOrderStatus(ctx context.Context, req *ordersv1.ChangeOrderStatusRequest) (*ordersv1.ChangeOrderStatusResponse, error) {
	if strings.TrimSpace(req.GetId()) == "" {
		return nil, status.Error(codes.InvalidArgument, domain.ErrOrderIDRequired.Error())
	}

	return withIdempotency(s, ctx, ordersv1.OrderService_ChangeOrderStatus_FullMethodName, req,
		func(ctx context.Context) (*ordersv1.ChangeOrderStatusResponse, error) {
			order, err := s.orders.ChangeStatus(ctx, req.GetId(), domain.OrderStatus(req.GetStatus()))
			if err != nil {
				return nil, toStatusError(err)
			}
			return &ordersv1.ChangeOrderStatusResponse{Order: OrderToAPI(order)}, nil
		},
	)
}

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// withIdempotency выполняет handler не более одного раза для idempotency-key.
// Без ключа запрос выполняется как обычно.
func withIdempotency[T any](
	s *OrderService,
	ctx context.Context,
	method string,
	req any,
	handler func(context.Context) (*T, error),
) (*T, error) {
	key := readIdempotencyKey(ctx)
	if s.guard == nil || key == "" {
		return handler(ctx)
	}

	var (
		resp   *T
		runErr error
	)
	result, replayed, err := s.guard.Do(ctx, key, method, req, func(ctx context.Context) idempotency.Result {
		resp, runErr = handler(ctx)
		if runErr != nil {
			return failureResult(runErr)
		}
		body, err := json.Marshal(resp)
		if err != nil {
			s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotent response")
			return idempotency.Result{Status: int(codes.OK)}
		}
		return idempotency.Result{Body: body, Status: int(codes.OK)}
	})
	if err != nil {
		return nil, idempotencyError(err)
	}
	if !replayed {
		return resp, runErr
	}

	if result.Failed {
		return nil, decodeFailure(result)
	}
	if len(result.Body) == 0 {
		return nil, status.Error(codes.Internal, "idempotency cache is empty")
	}
	cached := new(T)
	if err := json.Unmarshal(result.Body, cached); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to decode cached idempotency response")
		return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
	}
	return cached, nil
}

func failureResult(err error) idempotency.Result {
	st := status.Convert(err)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}
	body, _ := json.Marshal(idempotencyErrorPayload{Code: int32(code), Message: st.Message()}) //nolint:gosec // codes.Code is a bounded enum value.
	return idempotency.Result{Body: body, Status: int(code), Failed: true}
}

func decodeFailure(result idempotency.Result) error {
	var payload idempotencyErrorPayload
	if err := json.Unmarshal(result.Body, &payload); err == nil && payload.Code > 0 && payload.Code <= int32(codes.Unauthenticated) {
		if payload.Message == "" {
			payload.Message = "previous request with the same idempotency key failed"
		}
		return status.Error(codes.Code(uint32(payload.Code)), payload.Message)
	}
	if result.Status > 0 && result.Status <= int(codes.Unauthenticated) {
		return status.Error(codes.Code(uint32(result.Status)), "previous request with the same idempotency key failed")
	}
	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func idempotencyError(err error) error {
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(err, idempotency.ErrInProgress):
		return status.Error(codes.Aborted, idempotency.ErrInProgress.Error())
	default:
		return status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func readIdempotencyKey(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(IdempotencyKeyHeader); len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}
