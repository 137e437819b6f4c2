package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	idempotencyHeader = "Idempotency-Key"
	apiKeyHeader      = "X-API-Key"
	defaultAmount     = int64(1)
	seedOnHand        = int64(10_000_000)
)

type loadMode string

const (
	modeCreate         loadMode = "create"
	modeCreatePack     loadMode = "create-pack"
	modeCreatePackShip loadMode = "create-pack-ship"
)

type config struct {
	baseURL     string
	apiKey      string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	deleteRate  int
	item        string
	warehouse   string
	amount      int64
	refStart    int
	skipSeed    bool
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
	Statuses  map[string]int64 `json:"statuses"`
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
	statuses  map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// statusLabel сводит HTTP-статусы и транспортные ошибки к метке для отчёта.
func statusLabel(status int) string {
	if status <= 0 {
		return "transport_error"
	}
	return strconv.Itoa(status)
}

func success(status int) bool {
	return status >= 200 && status < 400
}

func (c *collector) record(method string, latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			statuses: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if success(status) {
		stats.success++
	} else {
		stats.failed++
	}
	stats.statuses[statusLabel(status)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}

	statusesCopy := make(map[string]int64, len(stats.statuses))
	for status, count := range stats.statuses {
		statusesCopy[status] = count
	}

	return methodReport{
		Calls:     stats.calls,
		Success:   stats.success,
		Failed:    stats.failed,
		ErrorRate: ratio(stats.failed, stats.calls),
		Statuses:  statusesCopy,
		LatencyMs: buildLatencySummary(stats.latencies),
	}, true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	scenarioStats := c.methods["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		statusesCopy := make(map[string]int64, len(stats.statuses))
		for status, count := range stats.statuses {
			statusesCopy[status] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Statuses:  statusesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "base URL of the warehouse API")
	flag.StringVar(&cfg.apiKey, "api-key", "", "API key sent in the X-API-Key header (fallback: WMS_API_KEY)")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-pack | create-pack-ship")
	flag.IntVar(&cfg.deleteRate, "delete-rate", 0, "delete probability in percent for create-pack mode (0..100)")
	flag.StringVar(&cfg.item, "item", "P999901", "inventory item reference used by generated orders")
	flag.StringVar(&cfg.warehouse, "warehouse", "WH-LOAD", "warehouse id for generated orders")
	flag.Int64Var(&cfg.amount, "amount", defaultAmount, "units reserved per order line")
	flag.IntVar(&cfg.refStart, "ref-start", 0, "starting number for generated order references")
	flag.BoolVar(&cfg.skipSeed, "skip-seed", false, "skip seeding the inventory record before the run")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	if strings.TrimSpace(cfg.apiKey) == "" {
		cfg.apiKey = strings.TrimSpace(os.Getenv("WMS_API_KEY"))
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if strings.TrimSpace(cfg.baseURL) == "" {
		return cfg, errors.New("addr is required")
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.amount <= 0 {
		return cfg, errors.New("amount must be > 0")
	}
	if cfg.deleteRate < 0 || cfg.deleteRate > 100 {
		return cfg, errors.New("delete-rate must be between 0 and 100")
	}
	if cfg.refStart < 0 {
		return cfg, errors.New("ref-start must be >= 0")
	}
	if strings.TrimSpace(cfg.item) == "" {
		return cfg, errors.New("item is required")
	}
	if strings.TrimSpace(cfg.warehouse) == "" {
		return cfg, errors.New("warehouse is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreatePack:
		return modeCreatePack, nil
	case modeCreatePackShip:
		return modeCreatePackShip, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

type apiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func newAPIClient(cfg config) *apiClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.concurrency * 2,
		MaxIdleConnsPerHost: cfg.concurrency * 2,
		DialContext: (&net.Dialer{
			Timeout: cfg.timeout,
		}).DialContext,
	}
	return &apiClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.timeout,
		},
		baseURL: strings.TrimRight(cfg.baseURL, "/"),
		apiKey:  cfg.apiKey,
	}
}

// do выполняет запрос и возвращает HTTP-статус и тело; статус 0 означает транспортную ошибку.
func (c *apiClient) do(method, path, idempotencyKey string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := newAPIClient(cfg)

	if !cfg.skipSeed {
		if err := seedInventory(client, cfg); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to seed inventory: %v\n", err)
			os.Exit(1)
		}
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(client, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
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

// seedInventory пополняет складскую запись, чтобы генератор не упирался в нехватку остатков.
func seedInventory(client *apiClient, cfg config) error {
	payload := map[string]any{
		"description":     "load test stock",
		"total_on_hand":   seedOnHand,
		"total_expected":  0,
		"total_ordered":   0,
		"total_allocated": 0,
		"total_available": seedOnHand,
	}

	status, body, err := client.do(http.MethodPut, "/api/v1/inventories/"+cfg.item, "", payload)
	if err != nil {
		return err
	}
	if !success(status) {
		return fmt.Errorf("unexpected status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return nil
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type orderCreatePayload struct {
	SourceID    int64       `json:"source_id"`
	OrderDate   time.Time   `json:"order_date"`
	RequestDate time.Time   `json:"request_date"`
	Reference   string      `json:"reference"`
	WarehouseID string      `json:"warehouse_id"`
	Items       []orderLine `json:"items"`
	TotalAmount string      `json:"total_amount"`
}

type orderLine struct {
	ItemID string `json:"item_id"`
	Amount int64  `json:"amount"`
}

type orderResponse struct {
	ID string `json:"id"`
}

// orderReference генерирует уникальный в рамках запуска номер заказа.
// Формат номера допускает только пять цифр, поэтому индекс берётся по модулю.
func orderReference(cfg config, index int) string {
	return fmt.Sprintf("ORD%05d", (cfg.refStart+index)%100000)
}

func runScenario(
	client *apiClient,
	cfg config,
	index int,
	runID string,
	col *collector,
) error {
	scenarioStart := time.Now()
	scenarioStatus := http.StatusOK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioStatus)
	}()

	now := time.Now().UTC()
	createPayload := orderCreatePayload{
		SourceID:    1,
		OrderDate:   now,
		RequestDate: now.Add(24 * time.Hour),
		Reference:   orderReference(cfg, index),
		WarehouseID: cfg.warehouse,
		Items: []orderLine{
			{ItemID: cfg.item, Amount: cfg.amount},
		},
		TotalAmount: strconv.FormatInt(cfg.amount, 10),
	}

	createKey := fmt.Sprintf("lt-create-%s-%d", runID, index)
	orderID, status, err := callCreateOrder(client, createPayload, createKey, col)
	if err != nil || !success(status) {
		scenarioStatus = status
		if err != nil {
			return err
		}
		return fmt.Errorf("create order returned status %d", status)
	}
	if orderID == "" {
		scenarioStatus = http.StatusInternalServerError
		return errors.New("create response returned empty order id")
	}

	if cfg.mode == modeCreate {
		return nil
	}

	packKey := fmt.Sprintf("lt-pack-%s-%d", runID, index)
	if status, err := callUpdateStatus(client, orderID, "Packed", packKey, col); err != nil || !success(status) {
		scenarioStatus = status
		if err != nil {
			return err
		}
		return fmt.Errorf("pack order returned status %d", status)
	}

	if cfg.mode == modeCreatePackShip {
		shipKey := fmt.Sprintf("lt-ship-%s-%d", runID, index)
		if status, err := callUpdateStatus(client, orderID, "Shipped", shipKey, col); err != nil || !success(status) {
			scenarioStatus = status
			if err != nil {
				return err
			}
			return fmt.Errorf("ship order returned status %d", status)
		}
		return nil
	}

	if shouldDeleteScenario(index, cfg.deleteRate) {
		deleteKey := fmt.Sprintf("lt-delete-%s-%d", runID, index)
		if status, err := callDeleteOrder(client, orderID, deleteKey, col); err != nil || !success(status) {
			scenarioStatus = status
			if err != nil {
				return err
			}
			return fmt.Errorf("delete order returned status %d", status)
		}
	}

	return nil
}

func callCreateOrder(
	client *apiClient,
	payload orderCreatePayload,
	key string,
	col *collector,
) (string, int, error) {
	start := time.Now()
	status, body, err := client.do(http.MethodPost, "/api/v1/orders", key, payload)
	col.record("CreateOrder", time.Since(start), status)
	if err != nil {
		return "", status, err
	}
	if !success(status) {
		return "", status, nil
	}

	var order orderResponse
	if decodeErr := json.Unmarshal(body, &order); decodeErr != nil {
		return "", status, fmt.Errorf("decode create response: %w", decodeErr)
	}
	return order.ID, status, nil
}

func callUpdateStatus(
	client *apiClient,
	orderID, newStatus, key string,
	col *collector,
) (int, error) {
	start := time.Now()
	status, _, err := client.do(http.MethodPut, "/api/v1/orders/"+orderID+"/status", key, map[string]string{"status": newStatus})
	col.record("UpdateOrderStatus", time.Since(start), status)
	return status, err
}

func callDeleteOrder(
	client *apiClient,
	orderID, key string,
	col *collector,
) (int, error) {
	start := time.Now()
	status, _, err := client.do(http.MethodDelete, "/api/v1/orders/"+orderID, key, nil)
	col.record("DeleteOrder", time.Since(start), status)
	return status, err
}

func shouldDeleteScenario(index, deleteRate int) bool {
	if deleteRate <= 0 {
		return false
	}
	if deleteRate >= 100 {
		return true
	}
	return index%100 < deleteRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
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

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

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
