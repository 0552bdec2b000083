// Package httpapi публикует API заказов по HTTP/JSON поверх gRPC-реализации.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ordersv1 "github.com/vladislavdragonenkov/orders/api/orders/v1"
	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
)

const (
	// IdempotencyKeyHeader: HTTP-заголовок с ключом идемпотентности.
	IdempotencyKeyHeader = "Idempotency-Key"

	maxBodyBytes   = 1 << 20
	requestTimeout = 30 * time.Second
)

// Config описывает параметры HTTP API.
type Config struct {
	Addr       string
	Logger     *log.Entry
	Registerer prometheus.Registerer
}

// Handler содержит обработчики HTTP API.
type Handler struct {
	orders ordersv1.OrderServiceServer
	logger *log.Entry
}

// NewRouter собирает chi-роутер с маршрутами заказов.
func NewRouter(orders ordersv1.OrderServiceServer, cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New().WithField("component", "http-api")
	}
	h := &Handler{orders: orders, logger: logger}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(requestLogger(logger))
	router.Use(chimw.Recoverer)
	router.Use(chimw.Timeout(requestTimeout))

	router.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Patch("/{id}/status", h.changeOrderStatus)
	})

	if cfg.Registerer == nil {
		return router
	}
	return instrument(router, cfg.Registerer)
}

// NewServer создаёт http.Server с таймаутами.
func NewServer(orders ordersv1.OrderServiceServer, cfg Config) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(orders, cfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type changeStatusBody struct {
	Status string `json:"status"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req ordersv1.CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.orders.CreateOrder(withIdempotencyKey(r), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp.GetOrder())
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := h.orders.GetOrder(r.Context(), &ordersv1.GetOrderRequest{Id: chi.URLParam(r, "id")})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.GetOrder())
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := parseInt32(query.Get("page"))
	if err != nil {
		h.writeError(w, r, status.Error(codes.InvalidArgument, "page must be an integer"))
		return
	}
	limit, err := parseInt32(query.Get("limit"))
	if err != nil {
		h.writeError(w, r, status.Error(codes.InvalidArgument, "limit must be an integer"))
		return
	}

	resp, err := h.orders.ListOrders(r.Context(), &ordersv1.ListOrdersRequest{
		Page:   page,
		Limit:  limit,
		Status: query.Get("status"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) changeOrderStatus(w http.ResponseWriter, r *http.Request) {
	var body changeStatusBody
	if !h.decode(w, r, &body) {
		return
	}

	resp, err := h.orders.ChangeOrderStatus(withIdempotencyKey(r), &ordersv1.ChangeOrderStatusRequest{
		Id:     chi.URLParam(r, "id"),
		Status: body.Status,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.GetOrder())
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, status.Errorf(codes.InvalidArgument, "invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	st := status.Convert(err)
	code := HTTPStatus(st.Code())
	if code >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": chimw.GetReqID(r.Context()),
		}).Warn("request failed")
	}
	writeJSON(w, code, errorBody{Code: st.Code().String(), Message: st.Message()})
}

// HTTPStatus сопоставляет код gRPC статусу HTTP.
func HTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition, codes.Aborted, codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusBadGateway
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func withIdempotencyKey(r *http.Request) context.Context {
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		return r.Context()
	}
	return metadata.NewIncomingContext(r.Context(), metadata.Pairs(grpcsvc.IdempotencyKeyHeader, key))
}

func parseInt32(raw string) (int32, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(started).Milliseconds(),
				"request_id":  chimw.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}

func instrument(next http.Handler, registerer prometheus.Registerer) http.Handler {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oms_http_request_duration_seconds",
		Help:    "Duration of HTTP API requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"code", "method"})
	if err := registerer.Register(duration); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return next
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return next
		}
		duration = existing
	}
	return promhttp.InstrumentHandlerDuration(duration, next)
}
