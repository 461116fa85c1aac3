package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/batch"
	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/metrics"
	"github.com/gridlands/pusher/internal/v1/types"
)

// wsConnection defines the WebSocket operations the pumps need, so tests can
// substitute an in-memory connection.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 256
)

// Client is one player's WebSocket connection. It carries the identity fields
// extracted at upgrade time and the per-connection routing state the session
// layer reads through types.ClientConn.
type Client struct {
	conn    wsConnection
	session types.SessionRouter
	emitter *batch.Emitter
	onClose func()

	// Immutable identity, set at upgrade time.
	id        types.ClientIdType
	uuid      string
	name      types.DisplayNameType
	tags      []string
	canEdit   bool
	ipAddress string
	roomID    types.RoomIdType
	position  messages.PositionMessage

	mu            sync.RWMutex
	userID        int32
	user          *messages.SpaceUser
	viewport      messages.ViewportMessage
	roomStream    types.RoomStream
	spaces        map[types.SpaceNameType]bool
	filters       map[types.SpaceNameType][]messages.SpaceFilter
	disconnecting bool
	closed        bool
	closeFrame    []byte

	closeOnce    sync.Once
	send         chan []byte
	prioritySend chan []byte
}

var _ types.ClientConn = (*Client)(nil)

// clientParams carries everything the upgrade handler extracted from the
// request: token claims plus query parameters.
type clientParams struct {
	ID                types.ClientIdType
	UUID              string
	Name              types.DisplayNameType
	Tags              []string
	CanEdit           bool
	IPAddress         string
	RoomID            types.RoomIdType
	Position          messages.PositionMessage
	Viewport          messages.ViewportMessage
	CharacterTextures []messages.CharacterTexture
	ChatID            string
	IsLogged          bool

	BatchFlushInterval time.Duration
	BatchMaxSize       int
}

// newClient wires the connection, the canonical SpaceUser record and the
// batch emitter. The user id stays zero until the back assigns one via
// roomJoinedMessage.
func newClient(conn wsConnection, session types.SessionRouter, p clientParams) *Client {
	c := &Client{
		conn:      conn,
		session:   session,
		id:        p.ID,
		uuid:      p.UUID,
		name:      p.Name,
		tags:      p.Tags,
		canEdit:   p.CanEdit,
		ipAddress: p.IPAddress,
		roomID:    p.RoomID,
		position:  p.Position,
		viewport:  p.Viewport,
		user: &messages.SpaceUser{
			UUID:              p.UUID,
			Name:              string(p.Name),
			PlayURI:           string(p.RoomID),
			Tags:              p.Tags,
			IsLogged:          p.IsLogged,
			ChatID:            p.ChatID,
			CharacterTextures: p.CharacterTextures,
		},
		spaces:       make(map[types.SpaceNameType]bool),
		filters:      make(map[types.SpaceNameType][]messages.SpaceFilter),
		send:         make(chan []byte, sendQueueSize),
		prioritySend: make(chan []byte, sendQueueSize),
	}
	c.emitter = batch.NewEmitter(p.BatchFlushInterval, p.BatchMaxSize, func(b *messages.BatchMessage) {
		c.SendMessage(b)
	})
	return c
}

// --- types.ClientConn identity ---

func (c *Client) GetID() types.ClientIdType      { return c.id }
func (c *Client) GetUUID() string                { return c.uuid }
func (c *Client) GetName() types.DisplayNameType { return c.name }
func (c *Client) GetTags() []string              { return c.tags }
func (c *Client) CanEdit() bool                  { return c.canEdit }
func (c *Client) GetIPAddress() string           { return c.ipAddress }
func (c *Client) GetRoomID() types.RoomIdType    { return c.roomID }

func (c *Client) GetPosition() messages.PositionMessage { return c.position }

func (c *Client) GetUserID() int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// SetUserID is called from the room-stream reader goroutine when the back
// assigns the session id.
func (c *Client) SetUserID(id int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = id
	c.user.ID = id
}

func (c *Client) GetSpaceUser() *messages.SpaceUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user.Clone()
}

func (c *Client) ApplySpaceUserUpdate(src *messages.SpaceUser, mask *messages.FieldMask) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return messages.ApplySpaceUserMask(c.user, src, mask)
}

func (c *Client) GetViewport() messages.ViewportMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewport
}

func (c *Client) SetViewport(v messages.ViewportMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport = v
}

func (c *Client) GetRoomStream() types.RoomStream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomStream
}

func (c *Client) SetRoomStream(s types.RoomStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomStream = s
}

func (c *Client) GetSpaces() []types.SpaceNameType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]types.SpaceNameType, 0, len(c.spaces))
	for name := range c.spaces {
		names = append(names, name)
	}
	return names
}

func (c *Client) AddSpace(name types.SpaceNameType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spaces[name] = true
}

func (c *Client) RemoveSpace(name types.SpaceNameType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.spaces, name)
}

func (c *Client) InSpace(name types.SpaceNameType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.spaces[name]
}

func (c *Client) GetSpaceFilters(space types.SpaceNameType) []messages.SpaceFilter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]messages.SpaceFilter(nil), c.filters[space]...)
}

func (c *Client) SetSpaceFilters(space types.SpaceNameType, filters []messages.SpaceFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters[space] = append([]messages.SpaceFilter(nil), filters...)
}

func (c *Client) ClearSpaceFilters(space types.SpaceNameType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.filters, space)
}

func (c *Client) IsDisconnecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disconnecting
}

// SetDisconnecting is sticky; once set every outbound send is dropped.
func (c *Client) SetDisconnecting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnecting = true
}

// --- outbound path ---

// SendMessage marshals the frame into its envelope and enqueues it. Error and
// answer frames ride the priority channel so a chatty zone cannot starve
// them.
func (c *Client) SendMessage(msg messages.Message) {
	c.mu.RLock()
	if c.closed || c.disconnecting {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	data, err := messages.Marshal(msg)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal outbound frame",
			zap.String("clientId", string(c.id)), zap.String("tag", msg.Tag()), zap.Error(err))
		return
	}

	// The channels may be closed by a concurrent Disconnect.
	defer func() {
		if r := recover(); r != nil {
			logging.GetLogger().Debug("Send raced client teardown", zap.String("clientId", string(c.id)))
		}
	}()

	switch msg.(type) {
	case *messages.ErrorMessage, *messages.AnswerMessage, *messages.RoomJoinedMessage:
		select {
		case c.prioritySend <- data:
		default:
			logging.Error(context.Background(), "Priority queue full, dropping frame",
				zap.String("clientId", string(c.id)), zap.String("tag", msg.Tag()))
		}
	default:
		select {
		case c.send <- data:
		default:
			logging.Warn(context.Background(), "Send queue full, dropping frame",
				zap.String("clientId", string(c.id)), zap.String("tag", msg.Tag()))
		}
	}
}

// SendError delivers an errorMessage frame.
func (c *Client) SendError(reason string) {
	c.SendMessage(&messages.ErrorMessage{Message: reason})
}

// Batch queues a sub-message on the client's coalescer.
func (c *Client) Batch(sub messages.BatchSub) {
	c.emitter.Add(sub)
}

// Disconnect tears the connection down. Closing the channels makes the
// writePump drain, send the close frame and close the socket.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.emitter.Close()
		close(c.send)
		close(c.prioritySend)
	})
}

// CloseWithReason closes the socket with a specific close code, used for the
// 1011 back-loss teardown.
func (c *Client) CloseWithReason(code int, reason string) {
	c.mu.Lock()
	c.closeFrame = websocket.FormatCloseMessage(code, reason)
	c.mu.Unlock()
	c.Disconnect()
}

// --- pumps ---

// readPump reads frames off the socket and hands them to the session router.
// It owns the disconnect path: when the read loop ends, for any reason, the
// session is told and the socket closed.
func (c *Client) readPump() {
	defer func() {
		c.session.HandleClientDisconnect(c)
		c.Disconnect()
		c.conn.Close()
		metrics.DecConnection()
		if c.onClose != nil {
			c.onClose()
		}
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.session.Route(context.Background(), c, data)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.prioritySend:
			if !ok {
				c.writeClose()
				return
			}
			if err := c.write(data); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				c.writeClose()
				return
			}
			if err := c.write(data); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.GetLogger().Debug("Write failed", zap.String("clientId", string(c.id)), zap.Error(err))
		return err
	}
	return nil
}

func (c *Client) writeClose() {
	c.mu.RLock()
	frame := c.closeFrame
	c.mu.RUnlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, frame)
}
