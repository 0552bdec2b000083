// Package jsoncodec регистрирует JSON-кодек gRPC с content-subtype "json".
//
// Сообщения пакетов api/*/v1: обычные Go-структуры, поэтому клиенты
// обязаны передавать CallOption(), а сервер выбирает кодек по заголовку
// content-type запроса (application/grpc+json).
package jsoncodec

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// Name: content-subtype кодека.
const Name = "json"

// Codec сериализует сообщения gRPC в JSON.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string {
	return Name
}

// CallOption переключает вызов клиента на JSON-кодек.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(Name)
}

// DialOption включает JSON-кодек для всех вызовов соединения.
func DialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(CallOption())
}

func init() {
	encoding.RegisterCodec(Codec{})
}
