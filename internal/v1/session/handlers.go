package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/metrics"
	"github.com/gridlands/pusher/internal/v1/types"
)

// adminTag grants the moderation operations of the front protocol.
const adminTag = "admin"

// Route decodes and dispatches one front WebSocket frame. Frames that fail to
// decode or name an unknown tag are answered with an error frame; the socket
// stays open.
func (m *Multiplexer) Route(ctx context.Context, client types.ClientConn, frame []byte) {
	msg, err := messages.UnmarshalClientToServer(frame)
	if err != nil {
		metrics.WebsocketEvents.WithLabelValues("unknown", "rejected").Inc()
		logging.Warn(ctx, "Rejecting undecodable frame",
			zap.String("client_id", string(client.GetID())),
			zap.Error(err),
		)
		client.SendError("unknown or malformed message")
		return
	}

	start := time.Now()
	m.dispatch(ctx, client, msg)
	metrics.MessageProcessingDuration.WithLabelValues(msg.Tag()).Observe(time.Since(start).Seconds())
	metrics.WebsocketEvents.WithLabelValues(msg.Tag(), "ok").Inc()
}

func (m *Multiplexer) dispatch(ctx context.Context, client types.ClientConn, msg messages.ClientToServer) {
	switch frame := msg.(type) {
	case *messages.UserMovesMessage:
		client.SetViewport(frame.Viewport)
		m.forwardToBack(ctx, client, frame)
		if r := m.Room(client.GetRoomID()); r != nil {
			r.SetViewport(ctx, client, frame.Viewport)
		}

	case *messages.ViewportMessage:
		client.SetViewport(*frame)
		if r := m.Room(client.GetRoomID()); r != nil {
			r.SetViewport(ctx, client, *frame)
		}

	case *messages.SetPlayerDetailsMessage:
		m.forwardToBack(ctx, client, frame)
		m.publishPlayerDetails(ctx, client, frame)

	case *messages.EmotePromptMessage:
		m.forwardToBack(ctx, client, frame)

	case *messages.VariableMessage:
		m.forwardToBack(ctx, client, frame)

	case *messages.EditMapCommandMessage:
		if !client.CanEdit() {
			client.SendError("you are not allowed to edit this map")
			return
		}
		m.forwardToBack(ctx, client, frame)

	case *messages.JoinSpaceMessage:
		if err := m.HandleJoinSpace(ctx, client, types.SpaceNameType(frame.SpaceName)); err != nil {
			client.SendError("could not join space " + frame.SpaceName)
		}

	case *messages.LeaveSpaceMessage:
		if err := m.HandleLeaveSpace(ctx, client, types.SpaceNameType(frame.SpaceName)); err != nil {
			client.SendError(err.Error())
		}

	case *messages.UpdateSpaceUserMessage:
		m.handleUpdateSpaceUser(ctx, client, frame)

	case *messages.UpdateSpaceMetadataMessage:
		sp, err := m.requireSpace(client, types.SpaceNameType(frame.SpaceName))
		if err != nil {
			client.SendError(err.Error())
			return
		}
		if err := sp.UpdateMetadata(frame.Metadata); err != nil {
			client.SendError("invalid space metadata")
		}

	case *messages.AddSpaceFilterMessage:
		sp, err := m.requireSpace(client, types.SpaceNameType(frame.SpaceName))
		if err != nil {
			client.SendError(err.Error())
			return
		}
		sp.HandleAddFilter(client, frame.Filter)

	case *messages.UpdateSpaceFilterMessage:
		sp, err := m.requireSpace(client, types.SpaceNameType(frame.SpaceName))
		if err != nil {
			client.SendError(err.Error())
			return
		}
		sp.HandleUpdateFilter(client, frame.Filter)

	case *messages.RemoveSpaceFilterMessage:
		sp, err := m.requireSpace(client, types.SpaceNameType(frame.SpaceName))
		if err != nil {
			client.SendError(err.Error())
			return
		}
		sp.HandleRemoveFilter(client, frame.FilterName)

	case *messages.PublicEvent:
		sp, err := m.requireSpace(client, types.SpaceNameType(frame.SpaceName))
		if err != nil {
			client.SendError(err.Error())
			return
		}
		if client.GetUserID() == 0 {
			client.SendError("events cannot be sent before the room join completed")
			return
		}
		frame.SenderUserID = client.GetUserID()
		if err := sp.ForwardPublicEvent(frame); err != nil {
			logging.Error(ctx, "Failed to forward public event",
				zap.String("space", frame.SpaceName),
				zap.Error(err),
			)
		}

	case *messages.PrivateEvent:
		sp, err := m.requireSpace(client, types.SpaceNameType(frame.SpaceName))
		if err != nil {
			client.SendError(err.Error())
			return
		}
		if client.GetUserID() == 0 {
			client.SendError("events cannot be sent before the room join completed")
			return
		}
		frame.SenderUserID = client.GetUserID()
		if err := sp.ForwardPrivateEvent(frame); err != nil {
			logging.Error(ctx, "Failed to forward private event",
				zap.String("space", frame.SpaceName),
				zap.Error(err),
			)
		}

	case *messages.KickOffMessage:
		m.handleKickOff(ctx, client, frame)

	case *messages.ReportPlayerMessage:
		m.handleReportPlayer(ctx, client, frame)

	case *messages.PlayGlobalMessage:
		m.EmitPlayGlobalMessage(ctx, client, frame)

	case *messages.SendUserMessage:
		m.EmitSendUserMessage(ctx, client, frame)

	case *messages.BanUserMessage:
		m.EmitBan(ctx, client, frame)

	case *messages.QueryMessage:
		m.handleQuery(ctx, client, frame)

	default:
		logging.Warn(ctx, "No handler for frame",
			zap.String("tag", msg.Tag()),
			zap.String("client_id", string(client.GetID())),
		)
		client.SendError("unknown or malformed message")
	}
}

// handleUpdateSpaceUser applies a client's update of its own record. Updates
// naming someone else's user id are a protocol violation and dropped.
func (m *Multiplexer) handleUpdateSpaceUser(ctx context.Context, client types.ClientConn, frame *messages.UpdateSpaceUserMessage) {
	sp, err := m.requireSpace(client, types.SpaceNameType(frame.SpaceName))
	if err != nil {
		client.SendError(err.Error())
		return
	}
	if frame.User == nil || frame.UpdateMask == nil {
		client.SendError("updateSpaceUserMessage requires user and updateMask")
		return
	}
	if frame.User.ID != client.GetUserID() {
		logging.Warn(ctx, "Dropping space user update for another user",
			zap.String("client_id", string(client.GetID())),
			zap.Int32("target_user_id", frame.User.ID),
		)
		return
	}
	if unknown := client.ApplySpaceUserUpdate(frame.User, frame.UpdateMask); len(unknown) > 0 {
		logging.Warn(ctx, "Space user update carries unknown paths",
			zap.Strings("paths", unknown),
		)
	}
	if err := sp.UpdateUser(frame.User, frame.UpdateMask); err != nil {
		logging.Error(ctx, "Failed to propagate space user update",
			zap.String("space", frame.SpaceName),
			zap.Error(err),
		)
	}
}

// handleKickOff forwards a kick to the back that owns the space. The effect
// lands when the back rebroadcasts the kick on the shared stream. A kick for
// a space this instance does not mirror is still routed to the owning back,
// so an admin here can eject a user watched only through another instance.
func (m *Multiplexer) handleKickOff(ctx context.Context, client types.ClientConn, frame *messages.KickOffMessage) {
	if !hasTag(client, adminTag) {
		client.SendError("you are not allowed to kick users")
		return
	}
	sp, err := m.requireSpace(client, types.SpaceNameType(frame.SpaceName))
	if err != nil {
		if !m.forwardUnknownKick {
			client.SendError(err.Error())
			return
		}
		logging.Warn(ctx, "Routing kick for an unwatched space to its back",
			zap.String("space", frame.SpaceName),
		)
		stream, err := m.spaceStreamFor(ctx, m.back.Index(frame.SpaceName))
		if err != nil {
			client.SendError("kick could not reach the space " + frame.SpaceName)
			return
		}
		if err := stream.Send(&messages.KickOffMessage{SpaceName: frame.SpaceName, UserID: frame.UserID}); err != nil {
			logging.Error(ctx, "Failed to forward kick",
				zap.String("space", frame.SpaceName),
				zap.Error(err),
			)
			client.SendError("kick could not reach the space " + frame.SpaceName)
		}
		return
	}
	if err := sp.KickOffUser(frame.UserID); err != nil {
		logging.Error(ctx, "Failed to forward kick",
			zap.String("space", frame.SpaceName),
			zap.Error(err),
		)
	}
}

// handleReportPlayer files an abuse report with the admin service. Report
// loss is tolerated; the reporter is told either way.
func (m *Multiplexer) handleReportPlayer(ctx context.Context, client types.ClientConn, frame *messages.ReportPlayerMessage) {
	err := m.adminAPI.ReportPlayer(ctx, frame.ReportedUserUUID, frame.ReportComment, client.GetUUID(), string(client.GetRoomID()))
	if err != nil {
		logging.Error(ctx, "Failed to file player report",
			zap.String("reported_uuid", frame.ReportedUserUUID),
			zap.Error(err),
		)
		client.SendError("report could not be filed, please try again later")
	}
}

func hasTag(client types.ClientConn, tag string) bool {
	for _, t := range client.GetTags() {
		if t == tag {
			return true
		}
	}
	return false
}
