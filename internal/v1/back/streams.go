package back

import (
	"context"
	"encoding/json"
	"sync"

	"google.golang.org/grpc"

	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/metrics"
)

// roomStream carries one client's room conversation. SendMsg is not safe for
// concurrent use, so sends serialize on sendMu; the single reader goroutine
// owns Recv.
type roomStream struct {
	stream    grpc.ClientStream
	cancel    context.CancelFunc
	sendMu    sync.Mutex
	closeOnce sync.Once
}

func (s *roomStream) Send(msg messages.RoomToBack) error {
	b, err := messages.Marshal(msg)
	if err != nil {
		return err
	}
	raw := json.RawMessage(b)
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.SendMsg(&raw)
}

func (s *roomStream) Recv() (messages.RoomFromBack, error) {
	var raw json.RawMessage
	if err := s.stream.RecvMsg(&raw); err != nil {
		return nil, err
	}
	return messages.UnmarshalRoomFromBack(raw)
}

func (s *roomStream) Close() error {
	s.closeOnce.Do(func() {
		metrics.BackStreams.WithLabelValues("room").Dec()
		s.cancel()
	})
	return nil
}

// spaceStream is the shared space conversation with one back.
type spaceStream struct {
	stream    grpc.ClientStream
	cancel    context.CancelFunc
	sendMu    sync.Mutex
	closeOnce sync.Once
}

func (s *spaceStream) Send(msg messages.SpaceToBack) error {
	b, err := messages.Marshal(msg)
	if err != nil {
		return err
	}
	raw := json.RawMessage(b)
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.SendMsg(&raw)
}

func (s *spaceStream) Recv() (messages.SpaceFromBack, error) {
	var raw json.RawMessage
	if err := s.stream.RecvMsg(&raw); err != nil {
		return nil, err
	}
	return messages.UnmarshalSpaceFromBack(raw)
}

func (s *spaceStream) Close() error {
	s.closeOnce.Do(func() {
		metrics.BackStreams.WithLabelValues("space").Dec()
		s.cancel()
	})
	return nil
}

// zoneStream is receive-only; the request went out before the handle was
// returned.
type zoneStream struct {
	stream    grpc.ClientStream
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *zoneStream) Recv() (*messages.BatchToPusherMessage, error) {
	var raw json.RawMessage
	if err := s.stream.RecvMsg(&raw); err != nil {
		return nil, err
	}
	return messages.UnmarshalZoneFrame(raw)
}

func (s *zoneStream) Close() error {
	s.closeOnce.Do(func() {
		metrics.BackStreams.WithLabelValues("zone").Dec()
		s.cancel()
	})
	return nil
}
