// Package health serves the kubernetes liveness and readiness probes.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/gridlands/pusher/internal/v1/bus"
	"github.com/gridlands/pusher/internal/v1/logging"
)

// BackChecker probes one back server.
type BackChecker interface {
	Check(ctx context.Context, addr string) string
}

// DefaultBackChecker checks a back over the standard gRPC health protocol.
type DefaultBackChecker struct{}

func (c *DefaultBackChecker) Check(ctx context.Context, addr string) string {
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		logging.Error(ctx, "Failed to connect to back for health check", zap.Error(err), zap.String("addr", addr))
		return "unhealthy"
	}
	defer func() { _ = conn.Close() }()

	healthClient := healthpb.NewHealthClient(conn)
	resp, err := healthClient.Check(ctx, &healthpb.HealthCheckRequest{Service: ""})
	if err != nil {
		logging.Error(ctx, "Back health check RPC failed", zap.Error(err), zap.String("addr", addr))
		return "unhealthy"
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		logging.Warn(ctx, "Back is not serving", zap.String("addr", addr), zap.String("status", resp.Status.String()))
		return "unhealthy"
	}

	return "healthy"
}

// Handler serves the probe endpoints. Readiness covers the back pool and,
// when enabled, Redis.
type Handler struct {
	redisService *bus.Service
	backAddrs    []string
	backChecker  BackChecker
}

// NewHandler creates the health handler. redisService may be nil when Redis
// is disabled.
func NewHandler(redisService *bus.Service, backAddrs []string) *Handler {
	return &Handler{
		redisService: redisService,
		backAddrs:    backAddrs,
		backChecker:  &DefaultBackChecker{},
	}
}

// LivenessResponse is the liveness probe body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe body, one entry per dependency.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. It answers 200 whenever the process is
// alive; dependencies are the readiness probe's concern.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. A pusher that cannot reach every back
// answers 503 so the load balancer stops routing new connections to it.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	for i, addr := range h.backAddrs {
		status := h.backChecker.Check(ctx, addr)
		checks[fmt.Sprintf("back_%d", i)] = status
		if status != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkRedis(ctx context.Context) string {
	// Redis disabled means the memory store is in use; nothing to check.
	if h.redisService == nil {
		return "healthy"
	}

	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}
