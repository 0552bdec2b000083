package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ordersv1 "github.com/vladislavdragonenkov/orders/api/orders/v1"
	"github.com/vladislavdragonenkov/orders/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
)

const scenarioMethod = "scenario"

type loadMode string

const (
	modeCreate           loadMode = "create"
	modeCreateGet        loadMode = "create-get"
	modeCreatePay        loadMode = "create-pay"
	modeCreatePayDeliver loadMode = "create-pay-deliver"
	modeCreatePayCancel  loadMode = "create-pay-cancel"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	products    []string
	quantity    int
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

// collector агрегирует результаты вызовов из всех воркеров.
type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

func (c *collector) record(method string, latency time.Duration, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if code == codes.OK {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (s *methodStats) report() methodReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codesCopy[code] = count
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}
	for name, stats := range c.methods {
		result.Methods[name] = stats.report()
	}

	if scenario, ok := result.Methods[scenarioMethod]; ok {
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}
	return result
}

func parseConfig(args []string) (config, error) {
	var (
		cfg         config
		modeValue   string
		productsRaw string
	)

	flags := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	flags.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flags.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	flags.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flags.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	flags.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	flags.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-get | create-pay | create-pay-deliver | create-pay-cancel")
	flags.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for create-pay mode (0..100)")
	flags.StringVar(&productsRaw, "products", "1,4", "comma-separated catalog product ids for every order")
	flags.IntVar(&cfg.quantity, "quantity", 1, "quantity per order item")
	flags.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}

	flags.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	for _, id := range strings.Split(productsRaw, ",") {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(cfg.products, id) {
			cfg.products = append(cfg.products, id)
		}
	}

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case len(cfg.products) == 0:
		return cfg, errors.New("at least one product id is required")
	case cfg.quantity <= 0 || cfg.quantity > math.MaxInt32:
		return cfg, errors.New("quantity must be a positive int32")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreateGet, modeCreatePay, modeCreatePayDeliver, modeCreatePayCancel:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]ordersv1.OrderServiceClient, 0, cfg.connections)
	for range cfg.connections {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, ordersv1.NewOrderServiceClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	result, err := runLoad(context.Background(), cfg, clients)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad раздаёт сценарии воркерам и собирает отчёт.
// Ошибка сценария не прерывает прогон, она учитывается в отчёте.
func runLoad(ctx context.Context, cfg config, clients []ordersv1.OrderServiceClient) (report, error) {
	if len(clients) == 0 {
		return report{}, errors.New("at least one client is required")
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()
	jobs := make(chan int, cfg.concurrency*2)

	group, groupCtx := errgroup.WithContext(ctx)
	for workerID := range cfg.concurrency {
		client := clients[workerID%len(clients)]
		group.Go(func() error {
			for id := range jobs {
				_ = runScenario(groupCtx, client, cfg, id, runID, col)
			}
			return nil
		})
	}

	dispatchJobs(groupCtx, jobs, cfg)
	if err := group.Wait(); err != nil {
		return report{}, err
	}
	return col.buildReport(startedAt, time.Since(startedAt)), nil
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.totalSet) && i >= cfg.total {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

func runScenario(
	ctx context.Context,
	client ordersv1.OrderServiceClient,
	cfg config,
	index int,
	runID string,
	col *collector,
) error {
	scenarioStart := time.Now()
	scenarioCode := codes.OK
	defer func() {
		col.record(scenarioMethod, time.Since(scenarioStart), scenarioCode)
	}()

	req := &ordersv1.CreateOrderRequest{Items: make([]*ordersv1.CreateOrderItem, 0, len(cfg.products))}
	for _, id := range cfg.products {
		req.Items = append(req.Items, &ordersv1.CreateOrderItem{ProductId: id, Quantity: int32(cfg.quantity)}) //nolint:gosec // validated in parseConfig.
	}

	var created *ordersv1.CreateOrderResponse
	err := call(ctx, col, cfg.timeout, "CreateOrder", fmt.Sprintf("lt-create-%s-%d", runID, index), func(ctx context.Context) error {
		var err error
		created, err = client.CreateOrder(ctx, req)
		return err
	})
	if err != nil {
		scenarioCode = grpcCode(err)
		return err
	}
	orderID := created.GetOrder().GetId()
	if orderID == "" {
		scenarioCode = codes.Internal
		return errors.New("create response returned empty order id")
	}

	steps := scenarioSteps(cfg, index)
	for _, step := range steps {
		if err := step.run(ctx, client, col, cfg.timeout, orderID, fmt.Sprintf("lt-%s-%s-%d", step.name, runID, index)); err != nil {
			scenarioCode = grpcCode(err)
			return err
		}
	}
	return nil
}

type scenarioStep struct {
	name   string
	status domain.OrderStatus
}

func (s scenarioStep) run(ctx context.Context, client ordersv1.OrderServiceClient, col *collector, timeout time.Duration, orderID, key string) error {
	if s.status == "" {
		return call(ctx, col, timeout, "GetOrder", "", func(ctx context.Context) error {
			_, err := client.GetOrder(ctx, &ordersv1.GetOrderRequest{Id: orderID})
			return err
		})
	}
	return call(ctx, col, timeout, "ChangeOrderStatus", key, func(ctx context.Context) error {
		resp, err := client.ChangeOrderStatus(ctx, &ordersv1.ChangeOrderStatusRequest{Id: orderID, Status: string(s.status)})
		if err != nil {
			return err
		}
		if got := resp.GetOrder().GetStatus(); got != string(s.status) {
			return status.Errorf(codes.Internal, "expected status %s, got %s", s.status, got)
		}
		return nil
	})
}

func scenarioSteps(cfg config, index int) []scenarioStep {
	get := scenarioStep{name: "get"}
	pay := scenarioStep{name: "pay", status: domain.OrderStatusPaid}
	deliver := scenarioStep{name: "deliver", status: domain.OrderStatusDelivered}
	cancel := scenarioStep{name: "cancel", status: domain.OrderStatusCancelled}

	switch cfg.mode {
	case modeCreateGet:
		return []scenarioStep{get}
	case modeCreatePay:
		if shouldCancelScenario(index, cfg.cancelRate) {
			return []scenarioStep{pay, cancel}
		}
		return []scenarioStep{pay}
	case modeCreatePayDeliver:
		return []scenarioStep{pay, deliver}
	case modeCreatePayCancel:
		return []scenarioStep{pay, cancel}
	default:
		return nil
	}
}

// call выполняет один RPC с таймаутом и idempotency-key, если он задан.
func call(ctx context.Context, col *collector, timeout time.Duration, method, key string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, grpcsvc.IdempotencyKeyHeader, key)
	}

	err := fn(ctx)
	col.record(method, time.Since(start), grpcCode(err))
	return err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	file, err := os.Create(cleanPath) // #nosec G304 -- путь задаётся явно флагом CLI.
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(out, "Load test summary")
	_, _ = fmt.Fprintf(out, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != scenarioMethod {
			methodNames = append(methodNames, name)
		}
	}
	slices.Sort(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(out, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile считает перцентиль линейной интерполяцией по отсортированной выборке.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
