package domain

import "errors"

// Базовые виды ошибок. Остальные ошибки пакета оборачивают один из них.
var (
	// ErrValidation: некорректные входные данные.
	ErrValidation = errors.New("validation failed")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrUpstream: каталог товаров недоступен или ответил ошибкой.
	ErrUpstream = errors.New("catalog unavailable")
	// ErrPersistence: ошибка хранилища или транзакции.
	ErrPersistence = errors.New("persistence failure")
	// ErrOrderStatusConflict: статус заказа изменился между чтением и записью.
	ErrOrderStatusConflict = errors.New("order status changed concurrently")
)

var (
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = wrapKind(ErrValidation, "order must contain at least one item")
	// Ошибка пустого идентификатора товара.
	ErrProductIDRequired = wrapKind(ErrValidation, "product_id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = wrapKind(ErrValidation, "item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = wrapKind(ErrValidation, "item price must be non-negative")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = wrapKind(ErrValidation, "total_amount must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = wrapKind(ErrValidation, "order total_amount does not match items sum")
	// Ошибка несоответствия количества единиц и позиций.
	ErrTotalItemsMismatch = wrapKind(ErrValidation, "order total_items does not match items sum")
	// ErrTotalItemsOverflow: суммарное количество не помещается в int32.
	ErrTotalItemsOverflow = wrapKind(ErrValidation, "total item quantity exceeds the supported maximum")
	// ErrProductNotFound: каталог не вернул один из запрошенных товаров.
	ErrProductNotFound = wrapKind(ErrValidation, "product not found in catalog")
	// ErrInvalidStatus: значение вне перечисления статусов.
	ErrInvalidStatus = wrapKind(ErrValidation, "invalid order status")
	// ErrInvalidStatusTransition: переход запрещён графом статусов.
	ErrInvalidStatusTransition = wrapKind(ErrValidation, "order status transition is not allowed")
	// ErrInvalidPagination: page или limit меньше единицы.
	ErrInvalidPagination = wrapKind(ErrValidation, "page and limit must be greater than zero")
	// ErrOrderIDRequired: пустой идентификатор заказа.
	ErrOrderIDRequired = wrapKind(ErrValidation, "order id is required")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

var (
	// ErrIdempotencyKeyRequired: пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists: ключ уже занят другим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound: запись по ключу отсутствует или истекла.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func wrapKind(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// ErrorKind сводит ошибку к одному из базовых видов.
// Неизвестные ошибки считаются ошибками хранилища.
func ErrorKind(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation):
		return ErrValidation
	case errors.Is(err, ErrOrderNotFound):
		return ErrOrderNotFound
	case errors.Is(err, ErrOrderStatusConflict):
		return ErrOrderStatusConflict
	case errors.Is(err, ErrUpstream):
		return ErrUpstream
	default:
		return ErrPersistence
	}
}

// IsIdempotencyConflict проверяет, является ли ошибка конфликтом ключа идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
