package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlands/pusher/internal/v1/messages"
)

func frame(t *testing.T, msg messages.Message) []byte {
	t.Helper()
	b, err := messages.Marshal(msg)
	require.NoError(t, err)
	return b
}

func TestRouteRejectsMalformedFrames(t *testing.T) {
	m, _, _ := newTestMux(t)
	a := NewMockClient("a", 1)

	m.Route(context.Background(), a, []byte(`{"no":"envelope"`))
	m.Route(context.Background(), a, []byte(`{"message":"noSuchMessage","data":{}}`))

	assert.Len(t, a.SentErrors(), 2)
	assert.False(t, a.Closed(), "protocol errors must not drop the socket")
}

func TestRouteForwardsMovement(t *testing.T) {
	m, back, _ := newTestMux(t)
	ctx := context.Background()

	a := NewMockClient("a", 1)
	require.NoError(t, m.HandleJoinRoom(ctx, a))

	m.Route(ctx, a, frame(t, &messages.UserMovesMessage{
		Position: messages.PositionMessage{X: 640, Y: 480},
		Viewport: messages.ViewportMessage{Left: 0, Top: 0, Right: 1280, Bottom: 720},
	}))

	sent := back.RoomStreams()[0].Sent()
	require.Len(t, sent, 2)
	moves, ok := sent[1].(*messages.UserMovesMessage)
	require.True(t, ok)
	assert.Equal(t, int32(640), moves.Position.X)
	assert.Equal(t, int32(1280), a.GetViewport().Right)

	m.HandleClientDisconnect(a)
}

func TestEditMapRequiresEditGrant(t *testing.T) {
	m, back, _ := newTestMux(t)
	ctx := context.Background()

	a := NewMockClient("a", 1)
	require.NoError(t, m.HandleJoinRoom(ctx, a))

	m.Route(ctx, a, frame(t, &messages.EditMapCommandMessage{ID: "c1", EditMapMessage: []byte(`{}`)}))
	assert.Len(t, back.RoomStreams()[0].Sent(), 1, "join frame only, the edit must be blocked")
	assert.Len(t, a.SentErrors(), 1)

	b := NewMockClient("b", 2)
	b.Editor = true
	require.NoError(t, m.HandleJoinRoom(ctx, b))
	m.Route(ctx, b, frame(t, &messages.EditMapCommandMessage{ID: "c2", EditMapMessage: []byte(`{}`)}))
	assert.Len(t, back.RoomStreams()[1].Sent(), 2)

	m.HandleClientDisconnect(a)
	m.HandleClientDisconnect(b)
}

func TestSpaceOperationsRequireMembership(t *testing.T) {
	m, _, _ := newTestMux(t)
	ctx := context.Background()
	a := NewMockClient("a", 1)

	m.Route(ctx, a, frame(t, &messages.UpdateSpaceMetadataMessage{SpaceName: "world/other", Metadata: "{}"}))
	m.Route(ctx, a, frame(t, &messages.PublicEvent{SpaceName: "world/other", SpaceEvent: []byte(`{}`)}))

	errs := a.SentErrors()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "world/other")
}

func TestPublicEventStampsSender(t *testing.T) {
	m, back, _ := newTestMux(t)
	ctx := context.Background()

	a := NewMockClient("a", 31)
	require.NoError(t, m.HandleJoinSpace(ctx, a, "world/megaphone"))

	m.Route(ctx, a, frame(t, &messages.PublicEvent{
		SpaceName:    "world/megaphone",
		SenderUserID: 999, // forged by the client, must be overwritten
		SpaceEvent:   []byte(`{"kind":"speak"}`),
	}))

	backID := back.Index("world/megaphone")
	var evt *messages.PublicEvent
	for _, msg := range back.SpaceStreams(backID)[0].Sent() {
		if e, ok := msg.(*messages.PublicEvent); ok {
			evt = e
		}
	}
	require.NotNil(t, evt)
	assert.Equal(t, int32(31), evt.SenderUserID)
}

func TestEventsRequireCompletedRoomJoin(t *testing.T) {
	m, back, _ := newTestMux(t)
	ctx := context.Background()

	// No user id yet: the space subscription works, but events have no
	// sender to stamp.
	a := NewMockClient("a", 0)
	require.NoError(t, m.HandleJoinSpace(ctx, a, "world/megaphone"))

	m.Route(ctx, a, frame(t, &messages.PublicEvent{
		SpaceName:  "world/megaphone",
		SpaceEvent: []byte(`{"kind":"speak"}`),
	}))
	m.Route(ctx, a, frame(t, &messages.PrivateEvent{
		SpaceName:      "world/megaphone",
		ReceiverUserID: 4,
		SpaceEvent:     []byte(`{"kind":"whisper"}`),
	}))

	assert.Len(t, a.SentErrors(), 2)
	backID := back.Index("world/megaphone")
	for _, msg := range back.SpaceStreams(backID)[0].Sent() {
		switch msg.(type) {
		case *messages.PublicEvent, *messages.PrivateEvent:
			t.Fatalf("event forwarded without a sender user id: %#v", msg)
		}
	}
}

func TestSpaceFiltersThroughRoute(t *testing.T) {
	m, back, _ := newTestMux(t)
	ctx := context.Background()

	a := NewMockClient("a", 1)
	require.NoError(t, m.HandleJoinSpace(ctx, a, "world/megaphone"))

	backID := back.Index("world/megaphone")
	back.SpaceStreams(backID)[0].Push(&messages.AddSpaceUserMessage{
		SpaceName: "world/megaphone",
		User:      &messages.SpaceUser{ID: 2, Name: "Bob"},
	})
	require.Eventually(t, func() bool {
		return m.Space("world/megaphone").UserCount() == 2
	}, testTimeout, testTick)

	// A name filter that excludes Bob produces a remove for him.
	m.Route(ctx, a, frame(t, &messages.AddSpaceFilterMessage{
		SpaceName: "world/megaphone",
		Filter:    messages.SpaceFilter{Name: "f1", Kind: messages.FilterNameContains, Value: "alice"},
	}))

	var removed []int32
	for _, msg := range a.Sent() {
		if rm, ok := msg.(*messages.RemoveSpaceUserMessage); ok {
			removed = append(removed, rm.UserID)
		}
	}
	assert.Contains(t, removed, int32(2))

	m.Route(ctx, a, frame(t, &messages.RemoveSpaceFilterMessage{
		SpaceName:  "world/megaphone",
		FilterName: "f1",
	}))
	assert.Empty(t, a.GetSpaceFilters("world/megaphone"))
}

func TestKickOffRequiresAdminTag(t *testing.T) {
	m, back, _ := newTestMux(t)
	ctx := context.Background()

	a := NewMockClient("a", 1)
	require.NoError(t, m.HandleJoinSpace(ctx, a, "world/megaphone"))

	m.Route(ctx, a, frame(t, &messages.KickOffMessage{SpaceName: "world/megaphone", UserID: "victim"}))
	assert.Len(t, a.SentErrors(), 1)

	mod := NewMockClient("mod", 2, "admin")
	require.NoError(t, m.HandleJoinSpace(ctx, mod, "world/megaphone"))
	m.Route(ctx, mod, frame(t, &messages.KickOffMessage{SpaceName: "world/megaphone", UserID: "victim"}))

	backID := back.Index("world/megaphone")
	found := false
	for _, msg := range back.SpaceStreams(backID)[0].Sent() {
		if kick, ok := msg.(*messages.KickOffMessage); ok && kick.UserID == "victim" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestKickForUnmirroredSpaceReachesItsBack(t *testing.T) {
	m, back, _ := newTestMux(t)
	ctx := context.Background()

	mod := NewMockClient("mod", 2, "admin")
	require.NoError(t, m.HandleJoinSpace(ctx, mod, "world/megaphone"))

	// The target space lives on a back this instance has no mirror for.
	m.Route(ctx, mod, frame(t, &messages.KickOffMessage{SpaceName: "world/elsewhere", UserID: "victim"}))

	assert.Empty(t, mod.SentErrors())
	backID := back.Index("world/elsewhere")
	streams := back.SpaceStreams(backID)
	require.NotEmpty(t, streams)
	found := false
	for _, msg := range streams[len(streams)-1].Sent() {
		if kick, ok := msg.(*messages.KickOffMessage); ok &&
			kick.SpaceName == "world/elsewhere" && kick.UserID == "victim" {
			found = true
		}
	}
	assert.True(t, found, "the kick must travel to the owning back")
}

func TestReportPlayerReachesAdminService(t *testing.T) {
	m, _, adminAPI := newTestMux(t)
	ctx := context.Background()
	a := NewMockClient("a", 1)

	m.Route(ctx, a, frame(t, &messages.ReportPlayerMessage{
		ReportedUserUUID: "offender-uuid",
		ReportComment:    "spamming",
	}))

	reports := adminAPI.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "offender-uuid", reports[0][0])
	assert.Equal(t, "spamming", reports[0][1])
	assert.Equal(t, a.GetUUID(), reports[0][2])
	assert.Empty(t, a.SentErrors())
}

func TestReportPlayerFailureTellsReporter(t *testing.T) {
	m, _, adminAPI := newTestMux(t)
	adminAPI.FailAll = true
	a := NewMockClient("a", 1)

	m.Route(context.Background(), a, frame(t, &messages.ReportPlayerMessage{
		ReportedUserUUID: "offender-uuid",
	}))

	assert.Len(t, a.SentErrors(), 1)
}

func TestBanFromClientRequiresAdminTag(t *testing.T) {
	m, back, adminAPI := newTestMux(t)
	ctx := context.Background()

	// Untagged: dropped without any answer.
	a := NewMockClient("a", 1)
	m.Route(ctx, a, frame(t, &messages.BanUserMessage{UserUUID: "victim", Message: "bye"}))
	assert.Empty(t, a.SentErrors())
	assert.Empty(t, back.Bans())
	assert.Empty(t, adminAPI.Banned())

	// Tagged: recorded with the admin service and ejected through the back.
	mod := NewMockClient("mod", 2, "admin")
	m.Route(ctx, mod, frame(t, &messages.BanUserMessage{UserUUID: "victim", Name: "Victim", Message: "bye"}))

	banned := adminAPI.Banned()
	require.Len(t, banned, 1)
	assert.Equal(t, "victim", banned[0][0])

	bans := back.Bans()
	require.Len(t, bans, 1)
	assert.Equal(t, "victim", bans[0].RecipientUUID)
	assert.Equal(t, "banned", bans[0].Type)
}

func TestBanStillEjectsWhenAdminServiceIsDown(t *testing.T) {
	m, back, adminAPI := newTestMux(t)
	adminAPI.FailAll = true

	mod := NewMockClient("mod", 2, "admin")
	m.Route(context.Background(), mod, frame(t, &messages.BanUserMessage{UserUUID: "victim", Message: "bye"}))

	require.Len(t, back.Bans(), 1)
}

func TestSendUserMessageRequiresAdminTag(t *testing.T) {
	m, back, _ := newTestMux(t)
	ctx := context.Background()

	a := NewMockClient("a", 1)
	m.Route(ctx, a, frame(t, &messages.SendUserMessage{UserUUID: "target", Message: "hello"}))
	assert.Empty(t, back.AdminMessages())

	mod := NewMockClient("mod", 2, "admin")
	m.Route(ctx, mod, frame(t, &messages.SendUserMessage{UserUUID: "target", Message: "hello"}))

	msgs := back.AdminMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "target", msgs[0].RecipientUUID)
	assert.Equal(t, "message", msgs[0].Type)
}

func TestPlayGlobalMessageRoomAndWorld(t *testing.T) {
	m, back, adminAPI := newTestMux(t)
	ctx := context.Background()
	adminAPI.WorldRooms = []messages.ShortMapDescription{
		{Name: "lobby", RoomURL: "https://play.example.com/@/org/world/lobby"},
		{Name: "office", RoomURL: "https://play.example.com/@/org/world/office"},
	}

	a := NewMockClient("a", 1)
	m.Route(ctx, a, frame(t, &messages.PlayGlobalMessage{Type: "message", Content: "hi"}))
	assert.Len(t, a.SentErrors(), 1, "untagged clients cannot broadcast")

	mod := NewMockClient("mod", 2, "admin")
	m.Route(ctx, mod, frame(t, &messages.PlayGlobalMessage{Type: "message", Content: "room only"}))
	require.Len(t, back.RoomMessages(), 1)
	assert.Equal(t, string(mod.GetRoomID()), back.RoomMessages()[0].RoomID)

	m.Route(ctx, mod, frame(t, &messages.PlayGlobalMessage{Type: "message", Content: "everyone", BroadcastToWorld: true}))
	require.Len(t, back.RoomMessages(), 3)
	assert.Equal(t, "https://play.example.com/@/org/world/lobby", back.RoomMessages()[1].RoomID)
}
