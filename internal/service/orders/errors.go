package orders

import (
	"errors"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// CreateFailedMessage: единственное сообщение клиенту при сбое создания заказа
// после проверки формы запроса. Причина остаётся в логах.
const CreateFailedMessage = "order could not be created"

// CreateError скрывает причину сбоя создания заказа, сохраняя её вид для errors.Is.
type CreateError struct {
	cause error
}

func (e *CreateError) Error() string { return CreateFailedMessage }

func (e *CreateError) Unwrap() error { return e.cause }

// Cause возвращает исходную ошибку.
func (e *CreateError) Cause() error { return e.cause }

// KindLabel возвращает метку вида ошибки для метрик и логов.
func KindLabel(err error) string {
	switch domain.ErrorKind(err) {
	case nil:
		return "none"
	case domain.ErrValidation:
		return "validation"
	case domain.ErrOrderNotFound:
		return "not_found"
	case domain.ErrOrderStatusConflict:
		return "conflict"
	case domain.ErrUpstream:
		return "upstream"
	default:
		return "persistence"
	}
}

// PublicMessage возвращает текст ошибки, который можно отдать клиенту.
func PublicMessage(err error) string {
	var createErr *CreateError
	if errors.As(err, &createErr) {
		return CreateFailedMessage
	}

	switch domain.ErrorKind(err) {
	case domain.ErrValidation, domain.ErrOrderStatusConflict:
		return err.Error()
	case domain.ErrOrderNotFound:
		return domain.ErrOrderNotFound.Error()
	case domain.ErrUpstream:
		return domain.ErrUpstream.Error()
	default:
		return "internal error"
	}
}
