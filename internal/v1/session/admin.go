package session

import (
	"context"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/types"
)

// Moderation issued from game clients. Unlike the admin console socket these
// arrive on ordinary connections, so every operation re-checks the admin tag.
// Ban and targeted message frames from untagged clients are dropped without
// an answer; answering would tell an abuser which frames exist.

// EmitSendUserMessage relays an admin notice to one player of the sender's
// room.
func (m *Multiplexer) EmitSendUserMessage(ctx context.Context, client types.ClientConn, frame *messages.SendUserMessage) {
	if !hasTag(client, adminTag) {
		logging.Warn(ctx, "Dropping sendUserMessage from untagged client",
			zap.String("client_id", string(client.GetID())),
		)
		return
	}
	msgType := frame.Type
	if msgType == "" {
		msgType = "message"
	}
	err := m.back.SendAdminMessage(ctx, client.GetRoomID(), &messages.AdminMessage{
		Message:       frame.Message,
		RoomID:        string(client.GetRoomID()),
		RecipientUUID: frame.UserUUID,
		Type:          msgType,
	})
	if err != nil {
		logging.Error(ctx, "Failed to deliver admin message",
			zap.String("recipient_uuid", frame.UserUUID),
			zap.Error(err),
		)
		client.SendError("message could not be delivered")
	}
}

// EmitBan records a ban with the admin service and ejects the player through
// the back. The REST write may fail independently of the ejection; the back
// call still runs so the player is removed either way.
func (m *Multiplexer) EmitBan(ctx context.Context, client types.ClientConn, frame *messages.BanUserMessage) {
	if !hasTag(client, adminTag) {
		logging.Warn(ctx, "Dropping banUserMessage from untagged client",
			zap.String("client_id", string(client.GetID())),
		)
		return
	}
	roomID := client.GetRoomID()

	if err := m.adminAPI.BanUserByUUID(ctx, frame.UserUUID, string(roomID), frame.Name, frame.Message, client.GetUUID()); err != nil {
		logging.Error(ctx, "Failed to record ban with admin service",
			zap.String("banned_uuid", frame.UserUUID),
			zap.Error(err),
		)
	}

	err := m.back.Ban(ctx, roomID, &messages.BanMessage{
		Message:       frame.Message,
		Type:          "banned",
		RoomID:        string(roomID),
		RecipientUUID: frame.UserUUID,
	})
	if err != nil {
		logging.Error(ctx, "Failed to eject banned player",
			zap.String("banned_uuid", frame.UserUUID),
			zap.Error(err),
		)
		client.SendError("ban could not be applied")
	}
}

// EmitPlayGlobalMessage broadcasts an announcement to the sender's room, or
// to every room of the world when asked.
func (m *Multiplexer) EmitPlayGlobalMessage(ctx context.Context, client types.ClientConn, frame *messages.PlayGlobalMessage) {
	if !hasTag(client, adminTag) {
		client.SendError("you are not allowed to broadcast announcements")
		return
	}
	roomID := client.GetRoomID()

	if !frame.BroadcastToWorld {
		m.sendRoomAnnouncement(ctx, client, string(roomID), frame)
		return
	}

	rooms, err := m.adminAPI.GetUrlRoomsFromSameWorld(ctx, string(roomID))
	if err != nil {
		logging.Error(ctx, "Failed to enumerate world rooms for broadcast", zap.Error(err))
		client.SendError("world broadcast failed")
		return
	}
	for _, desc := range rooms {
		m.sendRoomAnnouncement(ctx, client, desc.RoomURL, frame)
	}
}

func (m *Multiplexer) sendRoomAnnouncement(ctx context.Context, client types.ClientConn, roomURL string, frame *messages.PlayGlobalMessage) {
	err := m.back.SendAdminMessageToRoom(ctx, &messages.AdminRoomMessage{
		Message: frame.Content,
		RoomID:  roomURL,
		Type:    frame.Type,
	})
	if err != nil {
		logging.Error(ctx, "Failed to announce to room",
			zap.String("room_id", roomURL),
			zap.Error(err),
		)
		client.SendError("announcement could not reach " + roomURL)
	}
}

// Admin console socket operations. The socket authenticated with the admin
// token at upgrade time, so no per-operation checks happen here.

// HandleAdminRoom subscribes a console to membership events of one room. The
// room is created when nobody is in it yet, so a console can watch an empty
// room fill up.
func (m *Multiplexer) HandleAdminRoom(ctx context.Context, admin types.AdminConn, roomID types.RoomIdType) error {
	r := m.getOrCreateRoom(ctx, roomID)
	r.WatchAdmin(admin)

	m.mu.Lock()
	watched, ok := m.adminRooms[admin.GetID()]
	if !ok {
		watched = set.New[types.RoomIdType]()
		m.adminRooms[admin.GetID()] = watched
	}
	watched.Insert(roomID)
	m.mu.Unlock()

	logging.Info(ctx, "Admin console watching room",
		zap.String("admin_id", string(admin.GetID())),
		zap.String("room_id", string(roomID)),
	)
	return nil
}

// HandleAdminUserMessage delivers a console notice to one player.
func (m *Multiplexer) HandleAdminUserMessage(ctx context.Context, roomID types.RoomIdType, userUUID, message, messageType string) error {
	if messageType == "" {
		messageType = "message"
	}
	return m.back.SendAdminMessage(ctx, roomID, &messages.AdminMessage{
		Message:       message,
		RoomID:        string(roomID),
		RecipientUUID: userUUID,
		Type:          messageType,
	})
}

// HandleAdminBan ejects a player on behalf of a console.
func (m *Multiplexer) HandleAdminBan(ctx context.Context, roomID types.RoomIdType, userUUID, message string) error {
	return m.back.Ban(ctx, roomID, &messages.BanMessage{
		Message:       message,
		Type:          "banned",
		RoomID:        string(roomID),
		RecipientUUID: userUUID,
	})
}

// HandleAdminDisconnect unsubscribes a closing console from every room it
// watched.
func (m *Multiplexer) HandleAdminDisconnect(admin types.AdminConn) {
	m.mu.Lock()
	watched := m.adminRooms[admin.GetID()]
	delete(m.adminRooms, admin.GetID())
	rooms := watched.UnsortedList()
	m.mu.Unlock()

	for _, roomID := range rooms {
		if r := m.Room(roomID); r != nil {
			r.UnwatchAdmin(admin)
			m.deleteRoomIfEmpty(r)
		}
	}
}
