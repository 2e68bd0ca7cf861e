package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	natsclient "client-portal/internal/nats"
	redisclient "client-portal/internal/redis"
	"client-portal/internal/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var startTime = time.Now()

const (
	serviceName    = "client-portal"
	serviceVersion = "1.0.0"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db           *gorm.DB
	redis        *redisclient.Client
	natsClient   *natsclient.Client
	storage      storage.Provider
	avatarBucket string
}

// HealthDeps lists what readiness depends on. Redis and NATS are optional.
type HealthDeps struct {
	DB           *gorm.DB
	Redis        *redisclient.Client
	NATS         *natsclient.Client
	Storage      storage.Provider
	AvatarBucket string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(deps HealthDeps) *HealthHandler {
	return &HealthHandler{
		db:           deps.DB,
		redis:        deps.Redis,
		natsClient:   deps.NATS,
		storage:      deps.Storage,
		avatarBucket: deps.AvatarBucket,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Service   string           `json:"service"`
	Version   string           `json:"version"`
	Uptime    string           `json:"uptime"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
	System    *SystemInfo      `json:"system,omitempty"`
}

// Check represents a health check result
type Check struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemInfo represents system runtime information
type SystemInfo struct {
	Goroutines  int    `json:"goroutines"`
	MemoryAlloc uint64 `json:"memory_alloc_mb"`
	MemoryTotal uint64 `json:"memory_total_mb"`
	MemorySys   uint64 `json:"memory_sys_mb"`
	NumCPU      int    `json:"num_cpu"`
	GoVersion   string `json:"go_version"`
}

// Health reports liveness, with dependency checks when ?detailed=true
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Service:   serviceName,
		Version:   serviceVersion,
		Uptime:    time.Since(startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if c.Query("detailed") == "true" {
		response.Checks = h.performHealthChecks(c.Request.Context())
		response.System = h.getSystemInfo()
	}

	c.JSON(http.StatusOK, response)
}

// Ready reports whether the database and avatar bucket are reachable.
// Redis and NATS only degrade the portal, so they are reported but never block readiness.
func (h *HealthHandler) Ready(c *gin.Context) {
	response := HealthResponse{
		Service:   serviceName,
		Version:   serviceVersion,
		Uptime:    time.Since(startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    h.performHealthChecks(c.Request.Context()),
	}

	ready := response.Checks["database"].Status == "healthy" && response.Checks["storage"].Status == "healthy"
	if ready {
		response.Status = "ready"
		c.JSON(http.StatusOK, response)
		return
	}
	response.Status = "not ready"
	c.JSON(http.StatusServiceUnavailable, response)
}

func (h *HealthHandler) performHealthChecks(ctx context.Context) map[string]Check {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return map[string]Check{
		"database": h.checkDatabase(ctx),
		"storage":  h.checkStorage(ctx),
		"redis":    h.checkRedis(ctx),
		"nats":     h.checkNATS(),
	}
}

func (h *HealthHandler) checkDatabase(ctx context.Context) Check {
	if h.db == nil {
		return Check{Status: "unhealthy", Message: "Database not initialized"}
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return Check{Status: "unhealthy", Message: "Failed to get database instance"}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return Check{Status: "unhealthy", Message: "Database ping failed"}
	}

	stats := sqlDB.Stats()
	return Check{
		Status:  "healthy",
		Message: "Database connected",
		Details: map[string]interface{}{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
			"max_open":         stats.MaxOpenConnections,
			"wait_count":       stats.WaitCount,
			"wait_duration_ms": stats.WaitDuration.Milliseconds(),
		},
	}
}

func (h *HealthHandler) checkStorage(ctx context.Context) Check {
	if h.storage == nil {
		return Check{Status: "unhealthy", Message: "Storage not initialized"}
	}
	exists, err := h.storage.BucketExists(ctx, h.avatarBucket)
	if err != nil {
		return Check{Status: "unhealthy", Message: "Storage check failed"}
	}
	if !exists {
		return Check{Status: "unhealthy", Message: "Bucket " + h.avatarBucket + " is missing"}
	}
	return Check{
		Status:  "healthy",
		Message: "Bucket available",
		Details: map[string]interface{}{"provider": h.storage.Name(), "bucket": h.avatarBucket},
	}
}

func (h *HealthHandler) checkRedis(ctx context.Context) Check {
	if h.redis == nil {
		return Check{Status: "disabled", Message: "Using in-process onboarding and link stores"}
	}
	if err := h.redis.Ping(ctx); err != nil {
		return Check{Status: "unhealthy", Message: "Redis ping failed"}
	}
	return Check{Status: "healthy", Message: "Redis connected"}
}

func (h *HealthHandler) checkNATS() Check {
	if h.natsClient == nil {
		return Check{Status: "disabled", Message: "Changes are delivered in-process only"}
	}
	if !h.natsClient.IsConnected() {
		return Check{Status: "unhealthy", Message: "NATS disconnected"}
	}
	return Check{Status: "healthy", Message: "NATS connected"}
}

func (h *HealthHandler) getSystemInfo() *SystemInfo {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return &SystemInfo{
		Goroutines:  runtime.NumGoroutine(),
		MemoryAlloc: mem.Alloc / 1024 / 1024,      // MB
		MemoryTotal: mem.TotalAlloc / 1024 / 1024, // MB
		MemorySys:   mem.Sys / 1024 / 1024,        // MB
		NumCPU:      runtime.NumCPU(),
		GoVersion:   runtime.Version(),
	}
}
