package domain

const (
	// DefaultPage: номер страницы, если клиент его не передал.
	DefaultPage = 1
	// DefaultLimit: размер страницы по умолчанию.
	DefaultLimit = 10
)

// ListOrdersQuery задаёт параметры постраничного чтения заказов.
// Нулевые Page и Limit заменяются значениями по умолчанию, пустой Status снимает фильтр.
type ListOrdersQuery struct {
	Page   int
	Limit  int
	Status OrderStatus
}

// Normalize подставляет значения по умолчанию и проверяет параметры.
func (q ListOrdersQuery) Normalize() (ListOrdersQuery, error) {
	if q.Page == 0 {
		q.Page = DefaultPage
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.Page < 1 || q.Limit < 1 {
		return q, ErrInvalidPagination
	}
	if q.Status != "" && !q.Status.Valid() {
		return q, ErrInvalidStatus
	}
	return q, nil
}

// Offset возвращает число пропускаемых записей.
func (q ListOrdersQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// PageMeta описывает метаданные страницы.
type PageMeta struct {
	Page int
	// TotalPages содержит общее число заказов, подходящих под фильтр.
	TotalPages int
	LastPage   int
}

// OrderPage: страница заказов без позиций.
type OrderPage struct {
	Data []Order
	Meta PageMeta
}

// LastPage вычисляет номер последней страницы: ceil(total/limit).
func LastPage(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
