package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/auth"
	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/types"
)

// tokenExtractionResult holds the extracted token and how it arrived, so the
// upgrade can echo the right subprotocol back.
type tokenExtractionResult struct {
	Token                  string
	FromHeader             bool
	HasAccessTokenProtocol bool
}

// extractToken pulls the room token out of the Sec-WebSocket-Protocol
// header. Browsers cannot set Authorization on a WebSocket upgrade, so the
// front smuggles the token as a subprotocol.
func (h *Hub) extractToken(c *gin.Context) (*tokenExtractionResult, error) {
	result := &tokenExtractionResult{}

	headerVal := c.GetHeader("Sec-WebSocket-Protocol")
	if headerVal != "" {
		for _, p := range strings.Split(headerVal, ",") {
			p = strings.TrimSpace(p)
			if p == "access_token" {
				result.HasAccessTokenProtocol = true
				continue
			}
			if p == "" {
				continue
			}
			// Any other part is a candidate token; keep the first that
			// validates.
			if result.Token == "" {
				if _, err := h.validator.ValidateToken(p); err == nil {
					result.Token = p
					result.FromHeader = true
				}
			}
		}
	}

	if result.Token == "" {
		logging.Warn(context.Background(), "No token provided in upgrade request")
		return nil, fmt.Errorf("token not provided")
	}

	return result, nil
}

// authenticateUser validates the token and extracts claims.
func (h *Hub) authenticateUser(token string) (*auth.CustomClaims, error) {
	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		logging.Warn(context.Background(), "Token validation failed", zap.Error(err))
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// validateOrigin checks if the request origin is in the allowed list.
// Requests without an Origin header are non-browser clients and pass.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(context.Background(), "Origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}

// clientParamsFromRequest merges token claims with the upgrade query
// parameters: roomId (required), name, spawn position, initial viewport,
// chatID and the avatar texture list.
func (h *Hub) clientParamsFromRequest(c *gin.Context, claims *auth.CustomClaims) (clientParams, error) {
	roomID := c.Query("roomId")
	if roomID == "" {
		return clientParams{}, fmt.Errorf("roomId is required")
	}

	name := c.Query("name")
	if name == "" {
		name = claims.Name
	}
	if name == "" {
		name = claims.UUID()
	}

	params := clientParams{
		ID:        types.ClientIdType(claims.UUID()),
		UUID:      claims.UUID(),
		Name:      types.DisplayNameType(name),
		Tags:      claims.Tags,
		CanEdit:   claims.CanEdit,
		IPAddress: c.ClientIP(),
		RoomID:    types.RoomIdType(roomID),
		Position: messages.PositionMessage{
			X: queryInt32(c, "x"),
			Y: queryInt32(c, "y"),
		},
		Viewport: messages.ViewportMessage{
			Left:   queryInt32(c, "left"),
			Top:    queryInt32(c, "top"),
			Right:  queryInt32(c, "right"),
			Bottom: queryInt32(c, "bottom"),
		},
		ChatID:             c.Query("chatID"),
		IsLogged:           claims.Email != "",
		BatchFlushInterval: h.batchInterval,
		BatchMaxSize:       h.batchMaxSize,
	}

	// characterTextures is a JSON array of {id, url}; a broken value loses
	// the avatar, not the connection.
	if raw := c.Query("characterTextures"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params.CharacterTextures); err != nil {
			logging.Warn(c.Request.Context(), "Ignoring malformed characterTextures parameter",
				zap.String("clientId", string(params.ID)), zap.Error(err))
			params.CharacterTextures = nil
		}
	}

	return params, nil
}

func queryInt32(c *gin.Context, key string) int32 {
	n, err := strconv.ParseInt(c.Query(key), 10, 32)
	if err != nil {
		return 0
	}
	return int32(n)
}

// upgradeWebSocket performs the WebSocket upgrade, echoing the subprotocol
// the token arrived on.
func (h *Hub) upgradeWebSocket(c *gin.Context, tokenResult *tokenExtractionResult) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	responseHeader := http.Header{}
	if tokenResult.FromHeader {
		if tokenResult.HasAccessTokenProtocol {
			responseHeader.Set("Sec-WebSocket-Protocol", "access_token")
		} else {
			responseHeader.Set("Sec-WebSocket-Protocol", tokenResult.Token)
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, responseHeader)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}

	return conn, nil
}
