// Package catalogv1 описывает gRPC-контракт каталога товаров, к которому обращается сервис заказов.
package catalogv1

import (
	"context"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/api/jsoncodec"
)

// ServiceName: полное имя gRPC-сервиса каталога.
const ServiceName = "catalog.v1.ProductService"

const ProductService_ValidateProducts_FullMethodName = "/catalog.v1.ProductService/ValidateProducts"

// ValidateProductsRequest: пакет идентификаторов для проверки.
type ValidateProductsRequest struct {
	Ids []string `json:"ids"`
}

func (x *ValidateProductsRequest) GetIds() []string {
	if x != nil {
		return x.Ids
	}
	return nil
}

// Product: товар каталога.
type Product struct {
	Id    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// ValidateProductsResponse содержит только найденные товары.
type ValidateProductsResponse struct {
	Products []*Product `json:"products"`
}

func (x *ValidateProductsResponse) GetProducts() []*Product {
	if x != nil {
		return x.Products
	}
	return nil
}

// ProductServiceClient: клиент каталога.
type ProductServiceClient interface {
	ValidateProducts(ctx context.Context, in *ValidateProductsRequest, opts ...grpc.CallOption) (*ValidateProductsResponse, error)
}

type productServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewProductServiceClient создаёт клиент каталога поверх соединения.
func NewProductServiceClient(cc grpc.ClientConnInterface) ProductServiceClient {
	return &productServiceClient{cc: cc}
}

func (c *productServiceClient) ValidateProducts(ctx context.Context, in *ValidateProductsRequest, opts ...grpc.CallOption) (*ValidateProductsResponse, error) {
	out := new(ValidateProductsResponse)
	callOpts := append([]grpc.CallOption{jsoncodec.CallOption()}, opts...)
	if err := c.cc.Invoke(ctx, ProductService_ValidateProducts_FullMethodName, in, out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ProductServiceServer: серверная часть каталога.
type ProductServiceServer interface {
	ValidateProducts(context.Context, *ValidateProductsRequest) (*ValidateProductsResponse, error)
	mustEmbedUnimplementedProductServiceServer()
}

// UnimplementedProductServiceServer возвращает Unimplemented для всех методов.
type UnimplementedProductServiceServer struct{}

func (UnimplementedProductServiceServer) ValidateProducts(context.Context, *ValidateProductsRequest) (*ValidateProductsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ValidateProducts not implemented")
}

func (UnimplementedProductServiceServer) mustEmbedUnimplementedProductServiceServer() {}

// RegisterProductServiceServer регистрирует реализацию каталога на gRPC-сервере.
func RegisterProductServiceServer(s grpc.ServiceRegistrar, srv ProductServiceServer) {
	s.RegisterService(&ProductService_ServiceDesc, srv)
}

func validateProductsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ValidateProductsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProductServiceServer).ValidateProducts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProductService_ValidateProducts_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProductServiceServer).ValidateProducts(ctx, req.(*ValidateProductsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ProductService_ServiceDesc описывает сервис каталога для grpc.Server.
var ProductService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProductServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ValidateProducts", Handler: validateProductsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "catalog/v1",
}
