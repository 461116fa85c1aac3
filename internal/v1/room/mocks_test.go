package room

import (
	"context"
	"io"
	"sync"

	"github.com/stretchr/testify/assert"

	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/types"
)

// MockClient implements types.ClientConn for testing.
type MockClient struct {
	ID     types.ClientIdType
	UUID   string
	Name   types.DisplayNameType
	Tags   []string
	RoomID types.RoomIdType
	Editor bool

	mu            sync.Mutex
	userID        int32
	user          *messages.SpaceUser
	viewport      messages.ViewportMessage
	roomStream    types.RoomStream
	spaces        map[types.SpaceNameType]bool
	filters       map[types.SpaceNameType][]messages.SpaceFilter
	disconnecting bool
	disconnected  bool

	SentMessages []messages.Message
	Batched      []messages.BatchSub
	Errors       []string
	CloseCode    int
	CloseReason  string
}

func NewMockClient(id string, userID int32, tags ...string) *MockClient {
	return &MockClient{
		ID:      types.ClientIdType(id),
		UUID:    id + "-uuid",
		Name:    types.DisplayNameType(id),
		Tags:    tags,
		userID:  userID,
		user:    &messages.SpaceUser{ID: userID, UUID: id + "-uuid", Name: id, Tags: tags},
		spaces:  make(map[types.SpaceNameType]bool),
		filters: make(map[types.SpaceNameType][]messages.SpaceFilter),
	}
}

func (m *MockClient) GetID() types.ClientIdType      { return m.ID }
func (m *MockClient) GetUUID() string                { return m.UUID }
func (m *MockClient) GetName() types.DisplayNameType { return m.Name }
func (m *MockClient) GetTags() []string              { return m.Tags }
func (m *MockClient) CanEdit() bool                  { return m.Editor }
func (m *MockClient) GetIPAddress() string           { return "127.0.0.1" }
func (m *MockClient) GetRoomID() types.RoomIdType    { return m.RoomID }

func (m *MockClient) GetUserID() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

func (m *MockClient) SetUserID(id int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = id
	m.user.ID = id
}

func (m *MockClient) GetSpaceUser() *messages.SpaceUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user.Clone()
}

func (m *MockClient) ApplySpaceUserUpdate(src *messages.SpaceUser, mask *messages.FieldMask) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return messages.ApplySpaceUserMask(m.user, src, mask)
}

func (m *MockClient) GetPosition() messages.PositionMessage {
	return messages.PositionMessage{X: 100, Y: 100}
}

func (m *MockClient) GetViewport() messages.ViewportMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewport
}

func (m *MockClient) SetViewport(v messages.ViewportMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewport = v
}

func (m *MockClient) GetRoomStream() types.RoomStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomStream
}

func (m *MockClient) SetRoomStream(s types.RoomStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomStream = s
}

func (m *MockClient) GetSpaces() []types.SpaceNameType {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]types.SpaceNameType, 0, len(m.spaces))
	for name := range m.spaces {
		names = append(names, name)
	}
	return names
}

func (m *MockClient) AddSpace(name types.SpaceNameType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spaces[name] = true
}

func (m *MockClient) RemoveSpace(name types.SpaceNameType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.spaces, name)
}

func (m *MockClient) InSpace(name types.SpaceNameType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spaces[name]
}

func (m *MockClient) GetSpaceFilters(space types.SpaceNameType) []messages.SpaceFilter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]messages.SpaceFilter(nil), m.filters[space]...)
}

func (m *MockClient) SetSpaceFilters(space types.SpaceNameType, filters []messages.SpaceFilter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters[space] = append([]messages.SpaceFilter(nil), filters...)
}

func (m *MockClient) ClearSpaceFilters(space types.SpaceNameType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.filters, space)
}

func (m *MockClient) IsDisconnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnecting
}

func (m *MockClient) SetDisconnecting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnecting = true
}

func (m *MockClient) SendMessage(msg messages.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentMessages = append(m.SentMessages, msg)
}

func (m *MockClient) SendError(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, reason)
}

func (m *MockClient) Batch(sub messages.BatchSub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batched = append(m.Batched, sub)
}

func (m *MockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}

func (m *MockClient) CloseWithReason(code int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCode = code
	m.CloseReason = reason
	m.disconnected = true
}

// MockAdmin implements types.AdminConn and records events.
type MockAdmin struct {
	ID types.ClientIdType

	mu           sync.Mutex
	events       []adminEvent
	disconnected bool
}

type adminEvent struct {
	event string
	data  any
}

func NewMockAdmin(id string) *MockAdmin {
	return &MockAdmin{ID: types.ClientIdType(id)}
}

func (m *MockAdmin) GetID() types.ClientIdType { return m.ID }

func (m *MockAdmin) Send(event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, adminEvent{event: event, data: data})
}

func (m *MockAdmin) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}

func (m *MockAdmin) Events() []adminEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adminEvent(nil), m.events...)
}

// MockZoneStream delivers frames pushed by the test and unblocks on Close.
type MockZoneStream struct {
	frames    chan *messages.BatchToPusherMessage
	done      chan struct{}
	closeOnce sync.Once
}

func NewMockZoneStream() *MockZoneStream {
	return &MockZoneStream{
		frames: make(chan *messages.BatchToPusherMessage, 16),
		done:   make(chan struct{}),
	}
}

func (s *MockZoneStream) Recv() (*messages.BatchToPusherMessage, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return nil, io.EOF
	}
}

func (s *MockZoneStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *MockZoneStream) Push(subs ...messages.ZoneSub) {
	s.frames <- &messages.BatchToPusherMessage{Payload: subs}
}

func (s *MockZoneStream) IsClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// MockZoneDialer hands out MockZoneStreams and records every dial.
type MockZoneDialer struct {
	FailAll bool

	mu      sync.Mutex
	dials   []messages.Zone
	streams map[messages.Zone]*MockZoneStream
}

func NewMockZoneDialer() *MockZoneDialer {
	return &MockZoneDialer{streams: make(map[messages.Zone]*MockZoneStream)}
}

func (d *MockZoneDialer) ListenZone(_ context.Context, _ types.RoomIdType, zone messages.Zone) (types.ZoneStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailAll {
		return nil, assert.AnError
	}
	d.dials = append(d.dials, zone)
	s := NewMockZoneStream()
	d.streams[zone] = s
	return s, nil
}

func (d *MockZoneDialer) Dials() []messages.Zone {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]messages.Zone(nil), d.dials...)
}

func (d *MockZoneDialer) Stream(zone messages.Zone) *MockZoneStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[zone]
}

// zoneEvent is one recorded listener delivery.
type zoneEvent struct {
	kind     string
	clientID types.ClientIdType
	userID   int32
	groupID  int32
	user     *messages.UserDescriptor
	group    *messages.GroupDescriptor
	text     string
}

// recordingListener implements ZoneEventListener and records deliveries.
type recordingListener struct {
	mu     sync.Mutex
	events []zoneEvent
}

func (l *recordingListener) record(e zoneEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingListener) OnUserEnters(c types.ClientConn, u *messages.UserDescriptor) {
	l.record(zoneEvent{kind: "userEnters", clientID: c.GetID(), userID: u.UserID, user: u})
}

func (l *recordingListener) OnUserMoves(c types.ClientConn, u *messages.UserDescriptor) {
	l.record(zoneEvent{kind: "userMoves", clientID: c.GetID(), userID: u.UserID, user: u})
}

func (l *recordingListener) OnUserLeaves(c types.ClientConn, userID int32) {
	l.record(zoneEvent{kind: "userLeaves", clientID: c.GetID(), userID: userID})
}

func (l *recordingListener) OnGroupEnters(c types.ClientConn, g *messages.GroupDescriptor) {
	l.record(zoneEvent{kind: "groupEnters", clientID: c.GetID(), groupID: g.GroupID, group: g})
}

func (l *recordingListener) OnGroupMoves(c types.ClientConn, g *messages.GroupDescriptor) {
	l.record(zoneEvent{kind: "groupMoves", clientID: c.GetID(), groupID: g.GroupID, group: g})
}

func (l *recordingListener) OnGroupLeaves(c types.ClientConn, groupID int32) {
	l.record(zoneEvent{kind: "groupLeaves", clientID: c.GetID(), groupID: groupID})
}

func (l *recordingListener) OnEmote(c types.ClientConn, e *messages.EmoteEventMessage) {
	l.record(zoneEvent{kind: "emote", clientID: c.GetID(), userID: e.ActorUserID, text: e.Emote})
}

func (l *recordingListener) OnPlayerDetailsUpdated(c types.ClientConn, d *messages.PlayerDetailsUpdatedMessage) {
	l.record(zoneEvent{kind: "playerDetails", clientID: c.GetID(), userID: d.UserID})
}

func (l *recordingListener) OnError(c types.ClientConn, message string) {
	l.record(zoneEvent{kind: "error", clientID: c.GetID(), text: message})
}

func (l *recordingListener) all() []zoneEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]zoneEvent(nil), l.events...)
}

func (l *recordingListener) forClient(id types.ClientIdType) []zoneEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []zoneEvent
	for _, e := range l.events {
		if e.clientID == id {
			out = append(out, e)
		}
	}
	return out
}
