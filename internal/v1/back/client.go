package back

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/metrics"
	"github.com/gridlands/pusher/internal/v1/types"
)

// RPC surface of the back's RoomManager service.
const (
	joinRoomMethod               = "/pusher.RoomManager/joinRoom"
	watchSpaceMethod             = "/pusher.RoomManager/watchSpace"
	listenZoneMethod             = "/pusher.RoomManager/listenZone"
	sendAdminMessageMethod       = "/pusher.RoomManager/sendAdminMessage"
	banMethod                    = "/pusher.RoomManager/ban"
	sendAdminMessageToRoomMethod = "/pusher.RoomManager/sendAdminMessageToRoom"
)

var (
	joinRoomDesc   = &grpc.StreamDesc{StreamName: "joinRoom", ServerStreams: true, ClientStreams: true}
	watchSpaceDesc = &grpc.StreamDesc{StreamName: "watchSpace", ServerStreams: true, ClientStreams: true}
	listenZoneDesc = &grpc.StreamDesc{StreamName: "listenZone", ServerStreams: true}
)

// Client wraps one gRPC connection to a single back server.
type Client struct {
	addr string
	conn *grpc.ClientConn
}

// NewClient connects to a back server. The connection is lazy; gRPC dials on
// first use and reconnects on its own.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to back at %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn}, nil
}

// Addr returns the back address this client dials.
func (c *Client) Addr() string { return c.addr }

// Close tears down the underlying connection and every stream on it.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// JoinRoom opens one room conversation. The caller owns the stream and must
// Close it when the client leaves.
func (c *Client) JoinRoom(ctx context.Context) (types.RoomStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s, err := c.conn.NewStream(ctx, joinRoomDesc, joinRoomMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open room stream to %s: %w", c.addr, err)
	}
	metrics.BackStreams.WithLabelValues("room").Inc()
	return &roomStream{stream: s, cancel: cancel}, nil
}

// WatchSpace opens the space conversation with this back. The multiplexer
// shares one per back across all the spaces it hosts.
func (c *Client) WatchSpace(ctx context.Context) (types.SpaceStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s, err := c.conn.NewStream(ctx, watchSpaceDesc, watchSpaceMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open space stream to %s: %w", c.addr, err)
	}
	metrics.BackStreams.WithLabelValues("space").Inc()
	return &spaceStream{stream: s, cancel: cancel}, nil
}

// ListenZone subscribes to one (room, zone) cell. The request frame is sent
// and the send side half-closed before the stream is handed back.
func (c *Client) ListenZone(ctx context.Context, roomID types.RoomIdType, zone messages.Zone) (types.ZoneStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s, err := c.conn.NewStream(ctx, listenZoneDesc, listenZoneMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open zone stream to %s: %w", c.addr, err)
	}
	req := &messages.ZoneMessage{RoomID: string(roomID), X: zone.X, Y: zone.Y}
	if err := s.SendMsg(req); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to zone (%d,%d) of %s: %w", zone.X, zone.Y, roomID, err)
	}
	if err := s.CloseSend(); err != nil {
		cancel()
		return nil, err
	}
	metrics.BackStreams.WithLabelValues("zone").Inc()
	return &zoneStream{stream: s, cancel: cancel}, nil
}

// SendAdminMessage delivers a one-shot admin notice for a single user.
func (c *Client) SendAdminMessage(ctx context.Context, msg *messages.AdminMessage) error {
	return c.invoke(ctx, sendAdminMessageMethod, msg)
}

// Ban kicks a user out of the room and records the ban reason.
func (c *Client) Ban(ctx context.Context, msg *messages.BanMessage) error {
	return c.invoke(ctx, banMethod, msg)
}

// SendAdminMessageToRoom broadcasts an admin notice to everyone in a room.
func (c *Client) SendAdminMessageToRoom(ctx context.Context, msg *messages.AdminRoomMessage) error {
	return c.invoke(ctx, sendAdminMessageToRoomMethod, msg)
}

func (c *Client) invoke(ctx context.Context, method string, req any) error {
	var reply messages.EmptyMessage
	if err := c.conn.Invoke(ctx, method, req, &reply); err != nil {
		return fmt.Errorf("back %s: %s failed: %w", c.addr, method, err)
	}
	return nil
}

// CheckHealth probes the back's gRPC health service. The health RPC speaks
// protobuf, so the conn-wide JSON subtype is overridden for this one call.
func (c *Client) CheckHealth(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{}, grpc.CallContentSubtype("proto"))
	if err != nil {
		return fmt.Errorf("back %s health check failed: %w", c.addr, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("back %s is not serving: %s", c.addr, resp.GetStatus())
	}
	return nil
}
