package grpcsvc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// CodeFor сопоставляет вид доменной ошибки коду gRPC.
func CodeFor(err error) codes.Code {
	switch domain.ErrorKind(err) {
	case nil:
		return codes.OK
	case domain.ErrValidation:
		if errors.Is(err, domain.ErrInvalidStatusTransition) {
			return codes.FailedPrecondition
		}
		return codes.InvalidArgument
	case domain.ErrOrderNotFound:
		return codes.NotFound
	case domain.ErrOrderStatusConflict:
		return codes.Aborted
	case domain.ErrUpstream:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// toStatusError превращает доменную ошибку в gRPC status без внутренних подробностей.
func toStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(CodeFor(err), orders.PublicMessage(err))
}
