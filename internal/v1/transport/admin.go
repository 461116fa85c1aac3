package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/types"
)

// Admin console text protocol. Frames are {"type": "<event>", "data": {...}}
// JSON objects; outbound events are MemberJoin, MemberLeave and Error.
type adminEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AdminClient is one admin console connection watching a room. The socket is
// authorized at upgrade time, so inbound commands run without further checks.
type AdminClient struct {
	conn    wsConnection
	router  types.AdminRouter
	onClose func()

	id     types.ClientIdType
	roomID types.RoomIdType

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	send      chan []byte
}

var _ types.AdminConn = (*AdminClient)(nil)

func newAdminClient(conn wsConnection, router types.AdminRouter, id types.ClientIdType, roomID types.RoomIdType) *AdminClient {
	return &AdminClient{
		conn:   conn,
		router: router,
		id:     id,
		roomID: roomID,
		send:   make(chan []byte, sendQueueSize),
	}
}

func (a *AdminClient) GetID() types.ClientIdType { return a.id }

// Send delivers one {type, data} frame to the console.
func (a *AdminClient) Send(event string, data any) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	payload, err := json.Marshal(data)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal admin event",
			zap.String("adminId", string(a.id)), zap.String("event", event), zap.Error(err))
		return
	}
	frame, err := json.Marshal(adminEnvelope{Type: event, Data: payload})
	if err != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logging.GetLogger().Debug("Admin send raced teardown", zap.String("adminId", string(a.id)))
		}
	}()

	select {
	case a.send <- frame:
	default:
		logging.Warn(context.Background(), "Admin send queue full, dropping event",
			zap.String("adminId", string(a.id)), zap.String("event", event))
	}
}

func (a *AdminClient) Disconnect() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.send)
	})
}

// Inbound command payloads.
type adminUserMessageData struct {
	UserUUID string `json:"userUuid"`
	Message  string `json:"message"`
	Type     string `json:"type,omitempty"`
}

type adminBanData struct {
	UserUUID string `json:"userUuid"`
	Message  string `json:"message"`
}

func (a *AdminClient) readPump() {
	defer func() {
		a.router.HandleAdminDisconnect(a)
		a.Disconnect()
		a.conn.Close()
		if a.onClose != nil {
			a.onClose()
		}
	}()

	for {
		messageType, data, err := a.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		a.dispatch(context.Background(), data)
	}
}

func (a *AdminClient) dispatch(ctx context.Context, frame []byte) {
	var env adminEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		a.Send("Error", map[string]string{"message": "malformed frame"})
		return
	}

	switch env.Type {
	case "user-message":
		var cmd adminUserMessageData
		if err := json.Unmarshal(env.Data, &cmd); err != nil || cmd.UserUUID == "" {
			a.Send("Error", map[string]string{"message": "invalid user-message command"})
			return
		}
		if err := a.router.HandleAdminUserMessage(ctx, a.roomID, cmd.UserUUID, cmd.Message, cmd.Type); err != nil {
			a.Send("Error", map[string]string{"message": "message could not be delivered"})
		}
	case "ban":
		var cmd adminBanData
		if err := json.Unmarshal(env.Data, &cmd); err != nil || cmd.UserUUID == "" {
			a.Send("Error", map[string]string{"message": "invalid ban command"})
			return
		}
		if err := a.router.HandleAdminBan(ctx, a.roomID, cmd.UserUUID, cmd.Message); err != nil {
			a.Send("Error", map[string]string{"message": "ban could not be applied"})
		}
	default:
		logging.Warn(ctx, "Unknown admin command", zap.String("type", env.Type))
		a.Send("Error", map[string]string{"message": "unknown command: " + env.Type})
	}
}

func (a *AdminClient) writePump() {
	defer a.conn.Close()

	for {
		data, ok := <-a.send
		if !ok {
			_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = a.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
		_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
