package session

import (
	"context"
	"hash/fnv"
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
		RoomID:  "https://play.example.com/@/org/world/map",
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

// Sent returns a snapshot of everything delivered to this client.
func (m *MockClient) Sent() []messages.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]messages.Message(nil), m.SentMessages...)
}

// SentErrors returns a snapshot of the error frames sent to this client.
func (m *MockClient) SentErrors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Errors...)
}

// Closed reports whether the client socket was torn down.
func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
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

// MockRoomStream delivers frames pushed by the test and records sends.
type MockRoomStream struct {
	mu        sync.Mutex
	sent      []messages.RoomToBack
	frames    chan messages.RoomFromBack
	done      chan struct{}
	closeOnce sync.Once
}

func NewMockRoomStream() *MockRoomStream {
	return &MockRoomStream{
		frames: make(chan messages.RoomFromBack, 16),
		done:   make(chan struct{}),
	}
}

func (s *MockRoomStream) Send(msg messages.RoomToBack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return assert.AnError
	default:
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *MockRoomStream) Recv() (messages.RoomFromBack, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return nil, io.EOF
	}
}

func (s *MockRoomStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *MockRoomStream) Push(msg messages.RoomFromBack) {
	s.frames <- msg
}

func (s *MockRoomStream) Sent() []messages.RoomToBack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]messages.RoomToBack(nil), s.sent...)
}

func (s *MockRoomStream) IsClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// MockSpaceStream delivers frames pushed by the test and records sends.
type MockSpaceStream struct {
	mu        sync.Mutex
	sent      []messages.SpaceToBack
	frames    chan messages.SpaceFromBack
	done      chan struct{}
	closeOnce sync.Once
}

func NewMockSpaceStream() *MockSpaceStream {
	return &MockSpaceStream{
		frames: make(chan messages.SpaceFromBack, 16),
		done:   make(chan struct{}),
	}
}

func (s *MockSpaceStream) Send(msg messages.SpaceToBack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return assert.AnError
	default:
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *MockSpaceStream) Recv() (messages.SpaceFromBack, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return nil, io.EOF
	}
}

func (s *MockSpaceStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *MockSpaceStream) Push(msg messages.SpaceFromBack) {
	s.frames <- msg
}

func (s *MockSpaceStream) Sent() []messages.SpaceToBack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]messages.SpaceToBack(nil), s.sent...)
}

func (s *MockSpaceStream) IsClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// MockZoneStream blocks on Recv until closed; the session tests never drive
// zone traffic, the room package covers that.
type MockZoneStream struct {
	done      chan struct{}
	closeOnce sync.Once
}

func NewMockZoneStream() *MockZoneStream {
	return &MockZoneStream{done: make(chan struct{})}
}

func (s *MockZoneStream) Recv() (*messages.BatchToPusherMessage, error) {
	<-s.done
	return nil, io.EOF
}

func (s *MockZoneStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// MockBackProvider implements types.BackProvider over a fixed pool size and
// records every dial and unary call.
type MockBackProvider struct {
	PoolSize     int
	FailJoinRoom bool
	FailWatch    bool
	FailUnary    bool

	mu           sync.Mutex
	roomStreams  []*MockRoomStream
	spaceStreams map[types.BackIdType][]*MockSpaceStream
	adminMsgs    []*messages.AdminMessage
	bans         []*messages.BanMessage
	roomMsgs     []*messages.AdminRoomMessage
}

func NewMockBackProvider(poolSize int) *MockBackProvider {
	return &MockBackProvider{
		PoolSize:     poolSize,
		spaceStreams: make(map[types.BackIdType][]*MockSpaceStream),
	}
}

func (b *MockBackProvider) Index(key string) types.BackIdType {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return types.BackIdType(h.Sum32() % uint32(b.PoolSize))
}

func (b *MockBackProvider) JoinRoom(_ context.Context, _ types.RoomIdType) (types.RoomStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailJoinRoom {
		return nil, assert.AnError
	}
	s := NewMockRoomStream()
	b.roomStreams = append(b.roomStreams, s)
	return s, nil
}

func (b *MockBackProvider) WatchSpace(_ context.Context, backID types.BackIdType) (types.SpaceStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWatch {
		return nil, assert.AnError
	}
	s := NewMockSpaceStream()
	b.spaceStreams[backID] = append(b.spaceStreams[backID], s)
	return s, nil
}

func (b *MockBackProvider) ListenZone(_ context.Context, _ types.RoomIdType, _ messages.Zone) (types.ZoneStream, error) {
	return NewMockZoneStream(), nil
}

func (b *MockBackProvider) SendAdminMessage(_ context.Context, _ types.RoomIdType, msg *messages.AdminMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailUnary {
		return assert.AnError
	}
	b.adminMsgs = append(b.adminMsgs, msg)
	return nil
}

func (b *MockBackProvider) Ban(_ context.Context, _ types.RoomIdType, msg *messages.BanMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailUnary {
		return assert.AnError
	}
	b.bans = append(b.bans, msg)
	return nil
}

func (b *MockBackProvider) SendAdminMessageToRoom(_ context.Context, msg *messages.AdminRoomMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailUnary {
		return assert.AnError
	}
	b.roomMsgs = append(b.roomMsgs, msg)
	return nil
}

func (b *MockBackProvider) RoomStreams() []*MockRoomStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*MockRoomStream(nil), b.roomStreams...)
}

func (b *MockBackProvider) SpaceStreams(backID types.BackIdType) []*MockSpaceStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*MockSpaceStream(nil), b.spaceStreams[backID]...)
}

func (b *MockBackProvider) SpaceStreamDials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, streams := range b.spaceStreams {
		n += len(streams)
	}
	return n
}

func (b *MockBackProvider) AdminMessages() []*messages.AdminMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*messages.AdminMessage(nil), b.adminMsgs...)
}

func (b *MockBackProvider) Bans() []*messages.BanMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*messages.BanMessage(nil), b.bans...)
}

func (b *MockBackProvider) RoomMessages() []*messages.AdminRoomMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*messages.AdminRoomMessage(nil), b.roomMsgs...)
}

// MockAdminAPI implements types.AdminAPI with canned data.
type MockAdminAPI struct {
	FailAll bool

	Tags       []string
	WorldRooms []messages.ShortMapDescription

	mu      sync.Mutex
	reports [][4]string
	banned  [][5]string
	chatIDs [][2]string
}

func (a *MockAdminAPI) fail() error {
	if a.FailAll {
		return assert.AnError
	}
	return nil
}

func (a *MockAdminAPI) ReportPlayer(_ context.Context, reportedUserUUID, comment, reporterUUID, roomURL string) error {
	if err := a.fail(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = append(a.reports, [4]string{reportedUserUUID, comment, reporterUUID, roomURL})
	return nil
}

func (a *MockAdminAPI) BanUserByUUID(_ context.Context, uuidToBan, playURI, name, message, byUserEmail string) error {
	if err := a.fail(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.banned = append(a.banned, [5]string{uuidToBan, playURI, name, message, byUserEmail})
	return nil
}

func (a *MockAdminAPI) GetTagsList(_ context.Context, _ string) ([]string, error) {
	if err := a.fail(); err != nil {
		return nil, err
	}
	return a.Tags, nil
}

func (a *MockAdminAPI) GetUrlRoomsFromSameWorld(_ context.Context, _ string) ([]messages.ShortMapDescription, error) {
	if err := a.fail(); err != nil {
		return nil, err
	}
	return a.WorldRooms, nil
}

func (a *MockAdminAPI) SearchMembers(_ context.Context, _, searchText string) ([]messages.Member, error) {
	if err := a.fail(); err != nil {
		return nil, err
	}
	return []messages.Member{{UUID: "m1", Name: searchText}}, nil
}

func (a *MockAdminAPI) SearchTags(_ context.Context, _, searchText string) ([]string, error) {
	if err := a.fail(); err != nil {
		return nil, err
	}
	return []string{searchText}, nil
}

func (a *MockAdminAPI) GetMember(_ context.Context, uuid string) (*messages.Member, error) {
	if err := a.fail(); err != nil {
		return nil, err
	}
	return &messages.Member{UUID: uuid, Name: "member"}, nil
}

func (a *MockAdminAPI) GetWorldChatMembers(_ context.Context, _, _ string, _ int32) ([]messages.ChatMember, int32, error) {
	if err := a.fail(); err != nil {
		return nil, 0, err
	}
	return []messages.ChatMember{{UUID: "m1", Name: "member"}}, 1, nil
}

func (a *MockAdminAPI) UpdateChatID(_ context.Context, uuid, chatID string) error {
	if err := a.fail(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chatIDs = append(a.chatIDs, [2]string{uuid, chatID})
	return nil
}

func (a *MockAdminAPI) RefreshOauthToken(_ context.Context, token string) (string, error) {
	if err := a.fail(); err != nil {
		return "", err
	}
	return token + "-refreshed", nil
}

func (a *MockAdminAPI) Reports() [][4]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][4]string(nil), a.reports...)
}

func (a *MockAdminAPI) Banned() [][5]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][5]string(nil), a.banned...)
}

func (a *MockAdminAPI) ChatIDs() [][2]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][2]string(nil), a.chatIDs...)
}

// MockProber answers every probe with a fixed verdict.
type MockProber struct {
	Embeddable bool
}

func (p *MockProber) Probe(_ context.Context, url string) *messages.EmbeddableWebsiteAnswer {
	return &messages.EmbeddableWebsiteAnswer{URL: url, State: true, Embeddable: p.Embeddable}
}
