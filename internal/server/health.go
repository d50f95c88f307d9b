package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-redis/redis/v8"

	"norelock.dev/rpcdispatch/internal/utils"
	"norelock.dev/rpcdispatch/pkg/jsonrpc"
)

// healthCheckTimeout bounds each component check.
const healthCheckTimeout = 2 * time.Second

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	// StatusUp indicates the component is healthy.
	StatusUp HealthStatus = "up"
	// StatusDown indicates the component is unhealthy.
	StatusDown HealthStatus = "down"
	// StatusDegraded indicates the component is functioning but with issues.
	StatusDegraded HealthStatus = "degraded"
)

// ComponentHealth represents the health of a single dependency.
type ComponentHealth struct {
	Name        string       `json:"name"`
	Status      HealthStatus `json:"status"`
	Description string       `json:"description,omitempty"`
	Latency     int64        `json:"latency_ms"`
}

// Health is the report served on the health endpoint.
type Health struct {
	Status      HealthStatus      `json:"status"`
	Components  []ComponentHealth `json:"components"`
	Version     string            `json:"version"`
	Environment string            `json:"environment"`
	Uptime      int64             `json:"uptime_seconds"`
	StartTime   time.Time         `json:"start_time"`
	GoVersion   string            `json:"go_version"`
	GoRoutines  int               `json:"go_routines"`
	MemStats    MemoryStats       `json:"memory_stats"`
}

// MemoryStats represents memory usage statistics.
type MemoryStats struct {
	Alloc     uint64 `json:"alloc_bytes"`
	Sys       uint64 `json:"sys_bytes"`
	NumGC     uint32 `json:"num_gc"`
	HeapAlloc uint64 `json:"heap_alloc_bytes"`
}

// HealthChecker reports the state of the dispatcher and the rate limit store.
type HealthChecker struct {
	dispatcher  *jsonrpc.Dispatcher
	redis       *redis.Client
	logger      *utils.Logger
	startTime   time.Time
	version     string
	environment string
}

// NewHealthChecker creates a health checker. redis may be nil.
func NewHealthChecker(d *jsonrpc.Dispatcher, rdb *redis.Client, environment string, logger *utils.Logger) *HealthChecker {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &HealthChecker{
		dispatcher:  d,
		redis:       rdb,
		logger:      logger.Named("health"),
		startTime:   time.Now(),
		version:     buildVersion(),
		environment: environment,
	}
}

// Check runs every component check and aggregates the result.
func (h *HealthChecker) Check(ctx context.Context) Health {
	components := []ComponentHealth{h.checkDispatcher()}
	if h.redis != nil {
		components = append(components, h.checkRedis(ctx))
	}

	status := StatusUp
	for _, c := range components {
		if c.Status == StatusDown {
			status = StatusDown
			break
		} else if c.Status == StatusDegraded {
			status = StatusDegraded
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Health{
		Status:      status,
		Components:  components,
		Version:     h.version,
		Environment: h.environment,
		Uptime:      int64(time.Since(h.startTime).Seconds()),
		StartTime:   h.startTime,
		GoVersion:   runtime.Version(),
		GoRoutines:  runtime.NumGoroutine(),
		MemStats: MemoryStats{
			Alloc:     memStats.Alloc,
			Sys:       memStats.Sys,
			NumGC:     memStats.NumGC,
			HeapAlloc: memStats.HeapAlloc,
		},
	}
}

// ServeHTTP writes the health report, with 503 when a component is down.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Check(r.Context())

	status := http.StatusOK
	if health.Status == StatusDown {
		status = http.StatusServiceUnavailable
	}
	utils.RespondWithJSON(w, status, health)
}

func (h *HealthChecker) checkDispatcher() ComponentHealth {
	n := len(h.dispatcher.Table().Methods())
	c := ComponentHealth{
		Name:        "dispatcher",
		Status:      StatusUp,
		Description: fmt.Sprintf("%d methods registered", n),
	}
	if n == 0 {
		c.Status = StatusDegraded
	}
	return c
}

func (h *HealthChecker) checkRedis(ctx context.Context) ComponentHealth {
	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	err := h.redis.Ping(pingCtx).Err()
	c := ComponentHealth{
		Name:        "redis",
		Status:      StatusUp,
		Description: "Redis connection is healthy",
		Latency:     time.Since(start).Milliseconds(),
	}
	if err != nil {
		c.Status = StatusDown
		c.Description = "Failed to reach Redis: " + err.Error()
		h.logger.Error("Redis health check failed", err)
	}
	return c
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "dev"
	}
	return info.Main.Version
}
