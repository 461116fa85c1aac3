package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gridlands/pusher/internal/v1/auth"
	"github.com/gridlands/pusher/internal/v1/types"
)

// fakeFrame is one recorded or injected WebSocket frame.
type fakeFrame struct {
	messageType int
	data        []byte
}

// fakeConn implements wsConnection in memory.
type fakeConn struct {
	mu        sync.Mutex
	writes    []fakeFrame
	inbound   chan fakeFrame
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan fakeFrame, 16),
		done:    make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-f.inbound:
		return frame.messageType, frame.data, nil
	case <-f.done:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return errors.New("connection closed")
	default:
	}
	f.writes = append(f.writes, fakeFrame{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeConn) push(messageType int, data []byte) {
	f.inbound <- fakeFrame{messageType: messageType, data: data}
}

func (f *fakeConn) written() []fakeFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeFrame(nil), f.writes...)
}

// stubSession records every call the transport makes into the session layer.
type stubSession struct {
	JoinErr error

	mu          sync.Mutex
	joined      []types.ClientConn
	routed      [][]byte
	disconnects []types.ClientConn
}

func (s *stubSession) HandleJoinRoom(_ context.Context, client types.ClientConn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.JoinErr != nil {
		return s.JoinErr
	}
	s.joined = append(s.joined, client)
	return nil
}

func (s *stubSession) Route(_ context.Context, _ types.ClientConn, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routed = append(s.routed, append([]byte(nil), frame...))
}

func (s *stubSession) HandleClientDisconnect(client types.ClientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects = append(s.disconnects, client)
}

func (s *stubSession) Joined() []types.ClientConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ClientConn(nil), s.joined...)
}

func (s *stubSession) Routed() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.routed...)
}

func (s *stubSession) Disconnects() []types.ClientConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ClientConn(nil), s.disconnects...)
}

// adminCall records one command routed off an admin socket.
type adminCall struct {
	kind     string
	roomID   types.RoomIdType
	userUUID string
	message  string
	msgType  string
}

// stubAdminRouter records admin socket traffic. GreetOnAttach makes
// HandleAdminRoom push a MemberJoin event, mimicking the member replay.
type stubAdminRouter struct {
	AttachErr     error
	GreetOnAttach bool

	mu          sync.Mutex
	attached    []types.AdminConn
	calls       []adminCall
	disconnects []types.AdminConn
}

func (s *stubAdminRouter) HandleAdminRoom(_ context.Context, admin types.AdminConn, roomID types.RoomIdType) error {
	s.mu.Lock()
	if s.AttachErr != nil {
		s.mu.Unlock()
		return s.AttachErr
	}
	s.attached = append(s.attached, admin)
	s.mu.Unlock()
	if s.GreetOnAttach {
		admin.Send("MemberJoin", map[string]string{"roomId": string(roomID)})
	}
	return nil
}

func (s *stubAdminRouter) HandleAdminUserMessage(_ context.Context, roomID types.RoomIdType, userUUID, message, messageType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, adminCall{kind: "user-message", roomID: roomID, userUUID: userUUID, message: message, msgType: messageType})
	return nil
}

func (s *stubAdminRouter) HandleAdminBan(_ context.Context, roomID types.RoomIdType, userUUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, adminCall{kind: "ban", roomID: roomID, userUUID: userUUID, message: message})
	return nil
}

func (s *stubAdminRouter) HandleAdminDisconnect(admin types.AdminConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects = append(s.disconnects, admin)
}

func (s *stubAdminRouter) Calls() []adminCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]adminCall(nil), s.calls...)
}

func (s *stubAdminRouter) Disconnects() []types.AdminConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AdminConn(nil), s.disconnects...)
}

// stubValidator accepts exactly the configured tokens.
type stubValidator struct {
	tokens map[string]*auth.CustomClaims
}

func (v *stubValidator) ValidateToken(tokenString string) (*auth.CustomClaims, error) {
	if claims, ok := v.tokens[tokenString]; ok {
		return claims, nil
	}
	return nil, errors.New("unknown token")
}
