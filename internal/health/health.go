// Package health отдаёт состояние сервиса оркестратору: /healthz с деталями
// по компонентам, /readyz для трафика и /livez для рестартов.
package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ErrDegraded помечает проверку как деградацию: сервис работает,
// но часть функциональности ограничена. Оборачивайте через fmt.Errorf и %w.
var ErrDegraded = errors.New("component degraded")

// CheckFunc проверяет один компонент. nil — компонент здоров.
type CheckFunc func() error

// Check — результат одной проверки в ответе /healthz.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report — полный ответ /healthz.
type Report struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Handler собирает проверки компонентов и обслуживает health-эндпоинты.
type Handler struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	version string
	started time.Time
}

// NewHandler создаёт обработчик health-эндпоинтов.
func NewHandler(version string) *Handler {
	return &Handler{
		checks:  make(map[string]CheckFunc),
		version: version,
		started: time.Now(),
	}
}

// Register добавляет проверку компонента. Повторная регистрация
// с тем же именем заменяет предыдущую проверку.
func (h *Handler) Register(name string, check CheckFunc) {
	if check == nil {
		return
	}
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

// ServeHTTP отвечает на /healthz полным отчётом. Unhealthy хотя бы одного
// компонента даёт 503, degraded оставляет 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	checks, overall := h.runChecks()

	report := Report{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// Ready отвечает на /readyz: трафик можно пускать, пока ни один
// компонент не unhealthy.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if _, overall := h.runChecks(); overall == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Alive отвечает на /livez. Процесс жив, раз дошёл до обработчика.
func Alive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) runChecks() (map[string]Check, Status) {
	h.mu.RLock()
	snapshot := make(map[string]CheckFunc, len(h.checks))
	for name, check := range h.checks {
		snapshot[name] = check
	}
	h.mu.RUnlock()

	overall := StatusHealthy
	results := make(map[string]Check, len(snapshot))
	for name, check := range snapshot {
		result := runCheck(name, check)
		results[name] = result
		overall = worst(overall, result.Status)
	}

	return results, overall
}

func runCheck(name string, check CheckFunc) Check {
	started := time.Now()
	err := check()
	result := Check{
		Name:       name,
		Status:     StatusHealthy,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		result.Message = err.Error()
		result.Status = StatusUnhealthy
		if errors.Is(err, ErrDegraded) {
			result.Status = StatusDegraded
		}
	}
	return result
}

// worst выбирает более тяжёлый из двух статусов.
func worst(a, b Status) Status {
	if a == StatusUnhealthy || b == StatusUnhealthy {
		return StatusUnhealthy
	}
	if a == StatusDegraded || b == StatusDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
