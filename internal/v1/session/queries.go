package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/types"
)

// handleQuery answers the query kinds the gateway owns and forwards the rest
// to the room's back connection, which answers asynchronously on the room
// stream.
func (m *Multiplexer) handleQuery(ctx context.Context, client types.ClientConn, q *messages.QueryMessage) {
	switch query := q.Query.(type) {
	case *messages.RoomTagsQuery:
		// Tag lists are cosmetic; an unreachable admin service degrades to an
		// empty list instead of an error.
		tags, err := m.adminAPI.GetTagsList(ctx, string(client.GetRoomID()))
		if err != nil {
			logging.Warn(ctx, "Room tags query degraded", zap.Error(err))
			tags = []string{}
		}
		m.answer(client, q.ID, &messages.RoomTagsAnswer{Tags: tags})

	case *messages.EmbeddableWebsiteQuery:
		m.answer(client, q.ID, m.prober.Probe(ctx, query.URL))

	case *messages.RoomsFromSameWorldQuery:
		rooms, err := m.adminAPI.GetUrlRoomsFromSameWorld(ctx, string(client.GetRoomID()))
		if err != nil {
			m.answerError(client, q.ID, "could not list the rooms of this world")
			return
		}
		m.answer(client, q.ID, &messages.RoomsFromSameWorldAnswer{Rooms: rooms})

	case *messages.SearchMemberQuery:
		members, err := m.adminAPI.SearchMembers(ctx, string(client.GetRoomID()), query.SearchText)
		if err != nil {
			m.answerError(client, q.ID, "member search failed")
			return
		}
		m.answer(client, q.ID, &messages.SearchMemberAnswer{Members: members})

	case *messages.SearchTagsQuery:
		tags, err := m.adminAPI.SearchTags(ctx, string(client.GetRoomID()), query.SearchText)
		if err != nil {
			m.answerError(client, q.ID, "tag search failed")
			return
		}
		m.answer(client, q.ID, &messages.SearchTagsAnswer{Tags: tags})

	case *messages.GetMemberQuery:
		member, err := m.adminAPI.GetMember(ctx, query.UUID)
		if err != nil {
			m.answerError(client, q.ID, "member lookup failed")
			return
		}
		m.answer(client, q.ID, &messages.GetMemberAnswer{Member: member})

	case *messages.ChatMembersQuery:
		members, total, err := m.adminAPI.GetWorldChatMembers(ctx, string(client.GetRoomID()), query.SearchText, query.Page)
		if err != nil {
			m.answerError(client, q.ID, "chat member listing failed")
			return
		}
		m.answer(client, q.ID, &messages.ChatMembersAnswer{Members: members, Total: total})

	case *messages.OauthRefreshTokenQuery:
		token, err := m.adminAPI.RefreshOauthToken(ctx, query.Token)
		if err != nil {
			m.answerError(client, q.ID, "token refresh failed")
			return
		}
		m.answer(client, q.ID, &messages.OauthRefreshTokenAnswer{Token: token})

	default:
		// Queries the gateway does not know belong to the back; the answer
		// comes back on the room stream with the same id.
		m.forwardToBack(ctx, client, q)
	}
}

func (m *Multiplexer) answer(client types.ClientConn, id int32, a messages.Answer) {
	client.SendMessage(&messages.AnswerMessage{ID: id, Answer: a})
}

func (m *Multiplexer) answerError(client types.ClientConn, id int32, reason string) {
	m.answer(client, id, &messages.ErrorMessage{Message: reason})
}
