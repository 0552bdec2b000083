package ordersv1

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeClientConn struct {
	invoke func(context.Context, string, any, any, ...grpc.CallOption) error
}

func (f *fakeClientConn) Invoke(ctx context.Context, method string, args any, reply any, opts ...grpc.CallOption) error {
	if f.invoke == nil {
		return errors.New("unexpected Invoke call")
	}
	return f.invoke(ctx, method, args, reply, opts...)
}

func (f *fakeClientConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not implemented")
}

func TestOrderServiceClientMethods(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		methods := map[string]int{}
		conn := &fakeClientConn{
			invoke: func(_ context.Context, method string, _ any, reply any, _ ...grpc.CallOption) error {
				methods[method]++
				switch out := reply.(type) {
				case *CreateOrderResponse:
					out.Order = &Order{Id: "order-1"}
				case *GetOrderResponse:
					out.Order = &Order{Id: "order-1"}
				case *ListOrdersResponse:
					out.Data = []*Order{{Id: "order-1"}}
					out.Meta = &PageMeta{Page: 1, TotalPages: 1, LastPage: 1}
				case *ChangeOrderStatusResponse:
					out.Order = &Order{Id: "order-1", Status: "PAID"}
				default:
					t.Fatalf("unexpected reply type: %T", out)
				}
				return nil
			},
		}

		client := NewOrderServiceClient(conn)
		ctx := context.Background()
		if _, err := client.CreateOrder(ctx, &CreateOrderRequest{}); err != nil {
			t.Fatalf("CreateOrder failed: %v", err)
		}
		if _, err := client.GetOrder(ctx, &GetOrderRequest{}); err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}
		list, err := client.ListOrders(ctx, &ListOrdersRequest{})
		if err != nil {
			t.Fatalf("ListOrders failed: %v", err)
		}
		if list.GetMeta().LastPage != 1 {
			t.Fatalf("unexpected meta: %+v", list.GetMeta())
		}
		changed, err := client.ChangeOrderStatus(ctx, &ChangeOrderStatusRequest{})
		if err != nil {
			t.Fatalf("ChangeOrderStatus failed: %v", err)
		}
		if changed.GetOrder().GetStatus() != "PAID" {
			t.Fatalf("unexpected status %q", changed.GetOrder().GetStatus())
		}

		for _, method := range []string{
			OrderService_CreateOrder_FullMethodName,
			OrderService_GetOrder_FullMethodName,
			OrderService_ListOrders_FullMethodName,
			OrderService_ChangeOrderStatus_FullMethodName,
		} {
			if methods[method] != 1 {
				t.Fatalf("expected method %s called exactly once, got %d", method, methods[method])
			}
		}
	})

	t.Run("error", func(t *testing.T) {
		conn := &fakeClientConn{
			invoke: func(context.Context, string, any, any, ...grpc.CallOption) error {
				return status.Error(codes.Internal, "boom")
			},
		}

		client := NewOrderServiceClient(conn)
		ctx := context.Background()
		if _, err := client.CreateOrder(ctx, &CreateOrderRequest{}); status.Code(err) != codes.Internal {
			t.Fatalf("expected Internal, got %v", err)
		}
		if _, err := client.GetOrder(ctx, &GetOrderRequest{}); status.Code(err) != codes.Internal {
			t.Fatalf("expected Internal, got %v", err)
		}
		if _, err := client.ListOrders(ctx, &ListOrdersRequest{}); status.Code(err) != codes.Internal {
			t.Fatalf("expected Internal, got %v", err)
		}
		if _, err := client.ChangeOrderStatus(ctx, &ChangeOrderStatusRequest{}); status.Code(err) != codes.Internal {
			t.Fatalf("expected Internal, got %v", err)
		}
	})
}

func TestUnimplementedOrderServiceServer(t *testing.T) {
	srv := UnimplementedOrderServiceServer{}
	ctx := context.Background()

	if _, err := srv.CreateOrder(ctx, &CreateOrderRequest{}); status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected Unimplemented, got %v", err)
	}
	if _, err := srv.GetOrder(ctx, &GetOrderRequest{}); status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected Unimplemented, got %v", err)
	}
	if _, err := srv.ListOrders(ctx, &ListOrdersRequest{}); status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected Unimplemented, got %v", err)
	}
	if _, err := srv.ChangeOrderStatus(ctx, &ChangeOrderStatusRequest{}); status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected Unimplemented, got %v", err)
	}
}

func TestRequestGettersAreNilSafe(t *testing.T) {
	var create *CreateOrderRequest
	var get *GetOrderRequest
	var list *ListOrdersRequest
	var change *ChangeOrderStatusRequest

	if create.GetItems() != nil || get.GetId() != "" || list.GetPage() != 0 || list.GetLimit() != 0 ||
		list.GetStatus() != "" || change.GetId() != "" || change.GetStatus() != "" {
		t.Fatal("nil getters must return zero values")
	}
}
