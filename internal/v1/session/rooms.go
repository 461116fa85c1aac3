package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/room"
	"github.com/gridlands/pusher/internal/v1/types"
)

// HandleJoinRoom connects a freshly upgraded client to its room: it dials the
// owning back, announces the client there, registers it in the local room and
// starts the goroutine that relays back frames to the socket.
func (m *Multiplexer) HandleJoinRoom(ctx context.Context, client types.ClientConn) error {
	roomID := client.GetRoomID()
	stream, err := m.back.JoinRoom(m.ctx, roomID)
	if err != nil {
		logging.Error(ctx, "Failed to open room stream",
			zap.String("room_id", string(roomID)),
			zap.String("client_id", string(client.GetID())),
			zap.Error(err),
		)
		return err
	}
	client.SetRoomStream(stream)

	if err := stream.Send(joinRoomFrame(client)); err != nil {
		_ = stream.Close()
		logging.Error(ctx, "Failed to announce client to back",
			zap.String("room_id", string(roomID)),
			zap.Error(err),
		)
		return err
	}

	r := m.getOrCreateRoom(ctx, roomID)
	r.Join(ctx, client)
	go m.readRoomStream(r, client, stream)
	go m.syncChatID(client)
	return nil
}

// syncChatID records the chat id the client connected with in the member
// directory. The join does not wait on the admin service.
func (m *Multiplexer) syncChatID(client types.ClientConn) {
	user := client.GetSpaceUser()
	if user.ChatID == "" {
		return
	}
	if err := m.adminAPI.UpdateChatID(m.ctx, user.UUID, user.ChatID); err != nil {
		logging.GetLogger().Debug("Chat id sync skipped",
			zap.String("client_id", string(client.GetID())),
			zap.Error(err),
		)
	}
}

// joinRoomFrame builds the first frame of a room stream from the identity the
// token and upgrade request established.
func joinRoomFrame(client types.ClientConn) *messages.JoinRoomMessage {
	user := client.GetSpaceUser()
	return &messages.JoinRoomMessage{
		RoomID:             string(client.GetRoomID()),
		UserUUID:           client.GetUUID(),
		Name:               string(client.GetName()),
		IPAddress:          client.GetIPAddress(),
		PositionMessage:    client.GetPosition(),
		Tags:               client.GetTags(),
		CharacterTextures:  user.CharacterTextures,
		VisitCardURL:       user.VisitCardURL,
		IsLogged:           user.IsLogged,
		AvailabilityStatus: user.AvailabilityStatus,
		CanEdit:            client.CanEdit(),
		ChatID:             user.ChatID,
	}
}

// readRoomStream relays back frames to one client until the stream ends. The
// roomJoinedMessage is intercepted to learn the back-assigned user id, and
// refreshRoomMessage is debounced per room; everything else forwards verbatim.
func (m *Multiplexer) readRoomStream(r *room.Room, client types.ClientConn, stream types.RoomStream) {
	for {
		msg, err := stream.Recv()
		if err != nil {
			if !client.IsDisconnecting() {
				logging.GetLogger().Warn("Room stream lost",
					zap.String("room_id", string(r.URL())),
					zap.String("client_id", string(client.GetID())),
					zap.Error(err),
				)
				client.CloseWithReason(1011, "connection to the world lost")
			}
			return
		}

		switch frame := msg.(type) {
		case *messages.RoomJoinedMessage:
			client.SetUserID(frame.CurrentUserID)
			client.SendMessage(frame)
			r.SetViewport(m.ctx, client, client.GetViewport())

		case *messages.RefreshRoomMessage:
			if r.NeedsUpdate(frame.VersionNumber) {
				client.SendMessage(frame)
			}

		default:
			client.SendMessage(msg)
		}
	}
}

// LeaveRoom withdraws a client from its room and closes its back stream.
// Safe to call for a client that never joined.
func (m *Multiplexer) LeaveRoom(ctx context.Context, client types.ClientConn) {
	roomID := client.GetRoomID()

	m.mu.Lock()
	r := m.rooms[roomID]
	m.mu.Unlock()

	if stream := client.GetRoomStream(); stream != nil {
		_ = stream.Close()
	}
	if r == nil {
		return
	}
	r.Leave(ctx, client)
	m.deleteRoomIfEmpty(r)
}

// forwardToBack relays a client frame on its room stream. A client whose
// stream is gone is mid-teardown; the frame is dropped.
func (m *Multiplexer) forwardToBack(ctx context.Context, client types.ClientConn, msg messages.RoomToBack) {
	stream := client.GetRoomStream()
	if stream == nil {
		return
	}
	if err := stream.Send(msg); err != nil {
		logging.Error(ctx, "Failed to forward frame to back",
			zap.String("client_id", string(client.GetID())),
			zap.String("tag", msg.Tag()),
			zap.Error(err),
		)
	}
}
