package space

import (
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

// Sent returns a snapshot of everything delivered to this client.
func (m *MockClient) Sent() []messages.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]messages.Message(nil), m.SentMessages...)
}

// MockSpaceStream implements types.SpaceStream and records outbound frames.
type MockSpaceStream struct {
	FailSend bool

	mu     sync.Mutex
	sent   []messages.SpaceToBack
	closed bool
}

func (m *MockSpaceStream) Send(msg messages.SpaceToBack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSend || m.closed {
		return assert.AnError
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *MockSpaceStream) Recv() (messages.SpaceFromBack, error) {
	return nil, io.EOF
}

func (m *MockSpaceStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Sent returns a snapshot of everything forwarded to the back.
func (m *MockSpaceStream) Sent() []messages.SpaceToBack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]messages.SpaceToBack(nil), m.sent...)
}
