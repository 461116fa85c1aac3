package session

import (
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/types"
)

// Zone event deliveries. Rooms compute who sees what; the multiplexer's only
// job here is translating zone frames into their client-bound form and
// handing them to the per-client batch emitter.

func (m *Multiplexer) OnUserEnters(client types.ClientConn, user *messages.UserDescriptor) {
	client.Batch(&messages.UserJoinedMessage{UserDescriptor: *user})
}

func (m *Multiplexer) OnUserMoves(client types.ClientConn, user *messages.UserDescriptor) {
	client.Batch(&messages.UserMovedMessage{UserID: user.UserID, Position: user.Position})
}

func (m *Multiplexer) OnUserLeaves(client types.ClientConn, userID int32) {
	client.Batch(&messages.UserLeftMessage{UserID: userID})
}

func (m *Multiplexer) OnGroupEnters(client types.ClientConn, group *messages.GroupDescriptor) {
	client.Batch(&messages.GroupUpdateMessage{GroupDescriptor: *group})
}

func (m *Multiplexer) OnGroupMoves(client types.ClientConn, group *messages.GroupDescriptor) {
	client.Batch(&messages.GroupUpdateMessage{GroupDescriptor: *group})
}

func (m *Multiplexer) OnGroupLeaves(client types.ClientConn, groupID int32) {
	client.Batch(&messages.GroupDeleteMessage{GroupID: groupID})
}

func (m *Multiplexer) OnEmote(client types.ClientConn, emote *messages.EmoteEventMessage) {
	client.Batch(emote)
}

func (m *Multiplexer) OnPlayerDetailsUpdated(client types.ClientConn, details *messages.PlayerDetailsUpdatedMessage) {
	client.Batch(details)
}

func (m *Multiplexer) OnError(client types.ClientConn, message string) {
	client.Batch(&messages.ErrorMessage{Message: message})
}
