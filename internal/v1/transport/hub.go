package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/metrics"
	"github.com/gridlands/pusher/internal/v1/ratelimit"
	"github.com/gridlands/pusher/internal/v1/types"
)

// Hub upgrades front and admin WebSocket requests and hands the resulting
// connections to the session layer. Room and space state lives in the
// multiplexer; the hub only owns sockets.
type Hub struct {
	session     types.SessionRouter
	adminRouter types.AdminRouter
	validator   types.TokenValidator
	rateLimiter *ratelimit.RateLimiter

	allowedOrigins []string
	batchInterval  time.Duration
	batchMaxSize   int

	mu      sync.Mutex
	clients map[*Client]struct{}
	admins  map[*AdminClient]struct{}
}

// HubConfig carries the upgrade-layer knobs.
type HubConfig struct {
	AllowedOrigins     []string
	BatchFlushInterval time.Duration
	BatchMaxSize       int
}

// NewHub creates a Hub. rateLimiter may be nil, in which case connection
// limits are not enforced.
func NewHub(session types.SessionRouter, adminRouter types.AdminRouter, validator types.TokenValidator, rateLimiter *ratelimit.RateLimiter, cfg HubConfig) *Hub {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return &Hub{
		session:        session,
		adminRouter:    adminRouter,
		validator:      validator,
		rateLimiter:    rateLimiter,
		allowedOrigins: origins,
		batchInterval:  cfg.BatchFlushInterval,
		batchMaxSize:   cfg.BatchMaxSize,
		clients:        make(map[*Client]struct{}),
		admins:         make(map[*AdminClient]struct{}),
	}
}

// ServeWs authenticates a player and upgrades the connection. The join
// itself runs after the pumps start so the back's answer can flow out.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return // response already written
	}

	tokenResult, err := h.extractToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}

	claims, err := h.authenticateUser(tokenResult.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if h.rateLimiter != nil {
		if err := h.rateLimiter.CheckWebSocketUser(c.Request.Context(), claims.UUID()); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
			return
		}
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	params, err := h.clientParamsFromRequest(c, claims)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgradeWebSocket(c, tokenResult)
	if err != nil {
		return
	}

	h.handleConnection(c.Request.Context(), conn, params)
}

func (h *Hub) handleConnection(ctx context.Context, conn wsConnection, params clientParams) {
	client := newClient(conn, h.session, params)
	client.onClose = func() { h.dropClient(client) }

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	metrics.IncConnection()

	logging.Info(ctx, "Client connected",
		zap.String("clientId", string(client.GetID())),
		zap.String("roomId", string(client.GetRoomID())))

	go client.writePump()
	go client.readPump()

	if err := h.session.HandleJoinRoom(ctx, client); err != nil {
		logging.Error(ctx, "Room join failed",
			zap.String("clientId", string(client.GetID())),
			zap.String("roomId", string(client.GetRoomID())),
			zap.Error(err))
		client.CloseWithReason(1011, "connection to the world lost")
	}
}

func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

// ServeAdminWs authenticates an admin console and attaches it to a room. The
// "admin" tag on the token is the whole authorization; the text protocol
// carries no further checks.
func (h *Hub) ServeAdminWs(c *gin.Context) {
	tokenResult, err := h.extractToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}

	claims, err := h.authenticateUser(tokenResult.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if !claims.HasTag("admin") {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin tag required"})
		return
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	roomID := types.RoomIdType(c.Param("roomId"))
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}

	conn, err := h.upgradeWebSocket(c, tokenResult)
	if err != nil {
		return
	}

	admin := newAdminClient(conn, h.adminRouter, types.ClientIdType(claims.UUID()), roomID)
	admin.onClose = func() { h.dropAdmin(admin) }

	h.mu.Lock()
	h.admins[admin] = struct{}{}
	h.mu.Unlock()

	logging.Info(c.Request.Context(), "Admin console connected",
		zap.String("adminId", string(admin.GetID())),
		zap.String("roomId", string(roomID)))

	go admin.writePump()
	go admin.readPump()

	if err := h.adminRouter.HandleAdminRoom(c.Request.Context(), admin, roomID); err != nil {
		logging.Error(c.Request.Context(), "Admin room attach failed",
			zap.String("roomId", string(roomID)), zap.Error(err))
		admin.Disconnect()
	}
}

func (h *Hub) dropAdmin(admin *AdminClient) {
	h.mu.Lock()
	delete(h.admins, admin)
	h.mu.Unlock()
}

// Shutdown closes every open socket. Session state is drained separately by
// the multiplexer's own Shutdown.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	admins := make([]*AdminClient, 0, len(h.admins))
	for admin := range h.admins {
		admins = append(admins, admin)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.CloseWithReason(1001, "server shutting down")
	}
	for _, admin := range admins {
		admin.Disconnect()
	}

	logging.Info(ctx, "All sockets closed",
		zap.Int("clients", len(clients)), zap.Int("admins", len(admins)))
	return nil
}
