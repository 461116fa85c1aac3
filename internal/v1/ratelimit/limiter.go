// Package ratelimit enforces request and connection limits, backed by Redis
// when available so the limits hold across pusher replicas.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/auth"
	"github.com/gridlands/pusher/internal/v1/config"
	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/metrics"
)

// RateLimiter holds the per-concern limiter instances. Every check fails
// open: an unreachable store must not take the gateway down with it.
type RateLimiter struct {
	apiGlobal *limiter.Limiter // authenticated HTTP requests, keyed by user
	apiPublic *limiter.Limiter // unauthenticated HTTP requests, keyed by IP
	apiAdmin  *limiter.Limiter // admin endpoints, keyed by user or IP
	wsIP      *limiter.Limiter // WebSocket upgrades per IP
	wsUser    *limiter.Limiter // WebSocket upgrades per user
	store     limiter.Store
}

// NewRateLimiter parses the configured rates and picks the store: Redis when
// a client is given, in-process memory otherwise.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	rates := map[string]string{
		"API global": cfg.RateLimitAPIGlobal,
		"API public": cfg.RateLimitAPIPublic,
		"API admin":  cfg.RateLimitAPIAdmin,
		"WS IP":      cfg.RateLimitWsIP,
		"WS user":    cfg.RateLimitWsUser,
	}
	parsed := make(map[string]limiter.Rate, len(rates))
	for name, formatted := range rates {
		rate, err := limiter.NewRateFromFormatted(formatted)
		if err != nil {
			return nil, fmt.Errorf("invalid %s rate: %w", name, err)
		}
		parsed[name] = rate
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "Rate limiter using memory store, limits are per-replica")
	}

	return &RateLimiter{
		apiGlobal: limiter.New(store, parsed["API global"]),
		apiPublic: limiter.New(store, parsed["API public"]),
		apiAdmin:  limiter.New(store, parsed["API admin"]),
		wsIP:      limiter.New(store, parsed["WS IP"]),
		wsUser:    limiter.New(store, parsed["WS user"]),
		store:     store,
	}, nil
}

// GlobalMiddleware limits every HTTP request: authenticated callers get the
// per-user budget, anonymous callers the tighter per-IP budget.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		instance := rl.apiPublic
		key := c.ClientIP()
		limitType := "ip"

		if claims, exists := c.Get("claims"); exists {
			if userClaims, ok := claims.(*auth.CustomClaims); ok {
				instance = rl.apiGlobal
				key = userClaims.UUID()
				limitType = "user"
			}
		}

		ctx := c.Request.Context()
		state, err := instance.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next() // fail open
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(state.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(state.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(state.Reset, 10))

		if state.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), limitType).Inc()
			c.Header("Retry-After", strconv.FormatInt(state.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": state.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// AdminMiddleware applies the admin endpoint budget, keyed by the
// authenticated user when known and by IP otherwise.
func (rl *RateLimiter) AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if claims, exists := c.Get("claims"); exists {
			if userClaims, ok := claims.(*auth.CustomClaims); ok {
				key = userClaims.UUID()
			}
		}

		ctx := c.Request.Context()
		state, err := rl.apiAdmin.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		if state.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), "admin").Inc()
			c.Header("X-RateLimit-Retry-After", strconv.FormatInt(state.Reset, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": state.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// CheckWebSocket applies the per-IP upgrade limit. Returns false after
// writing the 429 response.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	state, err := rl.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return true // fail open
	}

	if state.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(state.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	return true
}

// CheckWebSocketUser applies the per-user upgrade limit; called once the
// token has been validated.
func (rl *RateLimiter) CheckWebSocketUser(ctx context.Context, userID string) error {
	state, err := rl.wsUser.Get(ctx, userID)
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return nil // fail open
	}

	if state.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "user").Inc()
		return fmt.Errorf("rate limit exceeded for user")
	}

	return nil
}
