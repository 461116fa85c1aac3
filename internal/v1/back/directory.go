package back

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/types"
)

// Directory is the back server pool. It memoizes one Client per configured
// address and routes keys onto them with a stable hash, so a room or space
// always lands on the same back for the lifetime of the process.
type Directory struct {
	addrs []string

	mu      sync.Mutex
	clients map[types.BackIdType]*Client
}

var _ types.BackProvider = (*Directory)(nil)

// NewDirectory builds the pool over the configured back addresses.
func NewDirectory(addrs []string) (*Directory, error) {
	if len(addrs) == 0 {
		return nil, errors.New("no back addresses configured")
	}
	return &Directory{
		addrs:   addrs,
		clients: make(map[types.BackIdType]*Client),
	}, nil
}

// Index maps a routing key onto a back id. FNV-1a keeps the mapping stable
// across calls and across pusher instances with the same address list.
func (d *Directory) Index(key string) types.BackIdType {
	h := fnv.New32a()
	h.Write([]byte(key))
	return types.BackIdType(h.Sum32() % uint32(len(d.addrs)))
}

// Client returns the memoized client for a back id, dialing it on first use.
func (d *Directory) Client(id types.BackIdType) (*Client, error) {
	if id < 0 || int(id) >= len(d.addrs) {
		return nil, fmt.Errorf("no back server with id %d", id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[id]; ok {
		return c, nil
	}
	c, err := NewClient(d.addrs[id])
	if err != nil {
		return nil, err
	}
	logging.GetLogger().Info("Connected to back server",
		zap.Int("back_id", int(id)),
		zap.String("addr", c.Addr()),
	)
	d.clients[id] = c
	return c, nil
}

// Addrs returns the configured back addresses in id order.
func (d *Directory) Addrs() []string {
	out := make([]string, len(d.addrs))
	copy(out, d.addrs)
	return out
}

// JoinRoom opens a room stream on the back that owns roomID.
func (d *Directory) JoinRoom(ctx context.Context, roomID types.RoomIdType) (types.RoomStream, error) {
	c, err := d.Client(d.Index(string(roomID)))
	if err != nil {
		return nil, err
	}
	return c.JoinRoom(ctx)
}

// WatchSpace opens the shared space stream to one back.
func (d *Directory) WatchSpace(ctx context.Context, backId types.BackIdType) (types.SpaceStream, error) {
	c, err := d.Client(backId)
	if err != nil {
		return nil, err
	}
	return c.WatchSpace(ctx)
}

// ListenZone subscribes to one zone cell on the back that owns roomID.
func (d *Directory) ListenZone(ctx context.Context, roomID types.RoomIdType, zone messages.Zone) (types.ZoneStream, error) {
	c, err := d.Client(d.Index(string(roomID)))
	if err != nil {
		return nil, err
	}
	return c.ListenZone(ctx, roomID, zone)
}

// SendAdminMessage routes a one-shot admin notice to the back owning roomID.
func (d *Directory) SendAdminMessage(ctx context.Context, roomID types.RoomIdType, msg *messages.AdminMessage) error {
	c, err := d.Client(d.Index(string(roomID)))
	if err != nil {
		return err
	}
	return c.SendAdminMessage(ctx, msg)
}

// Ban routes a ban order to the back owning roomID.
func (d *Directory) Ban(ctx context.Context, roomID types.RoomIdType, msg *messages.BanMessage) error {
	c, err := d.Client(d.Index(string(roomID)))
	if err != nil {
		return err
	}
	return c.Ban(ctx, msg)
}

// SendAdminMessageToRoom routes a room-wide admin notice by the room id
// carried in the message.
func (d *Directory) SendAdminMessageToRoom(ctx context.Context, msg *messages.AdminRoomMessage) error {
	c, err := d.Client(d.Index(msg.RoomID))
	if err != nil {
		return err
	}
	return c.SendAdminMessageToRoom(ctx, msg)
}

// CheckHealth probes every back that has been dialed so far. Backs that were
// never needed are not dialed just to probe them.
func (d *Directory) CheckHealth(ctx context.Context) error {
	d.mu.Lock()
	clients := make([]*Client, 0, len(d.clients))
	for _, c := range d.clients {
		clients = append(clients, c)
	}
	d.mu.Unlock()

	for _, c := range clients {
		if err := c.CheckHealth(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close tears down every dialed connection.
func (d *Directory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, c := range d.clients {
		if err := c.Close(); err != nil {
			logging.GetLogger().Warn("Failed to close back connection",
				zap.Int("back_id", int(id)),
				zap.Error(err),
			)
		}
		delete(d.clients, id)
	}
}
