// Package session implements the pusher's session multiplexer: the registry
// of rooms, spaces and shared back streams, and every operation a front
// client or admin console can perform against them.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/metrics"
	"github.com/gridlands/pusher/internal/v1/room"
	"github.com/gridlands/pusher/internal/v1/space"
	"github.com/gridlands/pusher/internal/v1/types"
)

// DefaultWatchdogTimeout is how long the shared space stream may go without a
// ping from the back before it is considered dead.
const DefaultWatchdogTimeout = 60 * time.Second

// WebsiteProber answers whether a URL may be embedded in an iframe.
type WebsiteProber interface {
	Probe(ctx context.Context, url string) *messages.EmbeddableWebsiteAnswer
}

// Multiplexer owns the three registries of the gateway: rooms, spaces and the
// shared per-back space streams. All map mutations happen under one mutex;
// rooms and spaces carry their own locks for their internal state.
type Multiplexer struct {
	back     types.BackProvider
	adminAPI types.AdminAPI
	prober   WebsiteProber

	watchdogTimeout time.Duration

	// forwardUnknownKick preserves the legacy behavior of relaying a kick
	// for a space this pusher does not mirror, so an admin on one pusher can
	// kick a user watched only by another.
	forwardUnknownKick bool

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	rooms        map[types.RoomIdType]*room.Room
	spaces       map[types.SpaceNameType]*space.Space
	spaceStreams map[types.BackIdType]*spaceStreamHandle
	adminRooms   map[types.ClientIdType]set.Set[types.RoomIdType]
}

var (
	_ types.SessionRouter = (*Multiplexer)(nil)
	_ types.AdminRouter   = (*Multiplexer)(nil)
	_ room.ZoneEventListener = (*Multiplexer)(nil)
)

// NewMultiplexer builds a multiplexer over the given back pool. adminAPI and
// prober may be backed by disabled implementations; the query handlers
// degrade per call. A watchdogTimeout of zero selects the default.
func NewMultiplexer(back types.BackProvider, adminAPI types.AdminAPI, prober WebsiteProber, watchdogTimeout time.Duration) *Multiplexer {
	if watchdogTimeout <= 0 {
		watchdogTimeout = DefaultWatchdogTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Multiplexer{
		back:               back,
		adminAPI:           adminAPI,
		prober:             prober,
		watchdogTimeout:    watchdogTimeout,
		forwardUnknownKick: true,
		ctx:                ctx,
		cancel:             cancel,
		rooms:              make(map[types.RoomIdType]*room.Room),
		spaces:             make(map[types.SpaceNameType]*space.Space),
		spaceStreams:       make(map[types.BackIdType]*spaceStreamHandle),
		adminRooms:         make(map[types.ClientIdType]set.Set[types.RoomIdType]),
	}
}

// RoomCount returns the number of live rooms.
func (m *Multiplexer) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// SpaceCount returns the number of live spaces.
func (m *Multiplexer) SpaceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spaces)
}

// SpaceStreamCount returns the number of shared back streams.
func (m *Multiplexer) SpaceStreamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spaceStreams)
}

// Room returns the live room for an id, or nil.
func (m *Multiplexer) Room(id types.RoomIdType) *room.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[id]
}

// Space returns the live space for a name, or nil.
func (m *Multiplexer) Space(name types.SpaceNameType) *space.Space {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spaces[name]
}

// getOrCreateRoom returns the room for an id, creating it on first join. The
// whole lookup-or-create runs under the registry mutex, so concurrent joins
// to the same room converge on one instance.
func (m *Multiplexer) getOrCreateRoom(ctx context.Context, roomID types.RoomIdType) *room.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[roomID]; ok {
		return r
	}
	logging.Info(ctx, "Creating room", zap.String("room_id", string(roomID)))
	r := room.NewRoom(m.ctx, roomID, m.back, m)
	m.rooms[roomID] = r
	metrics.ActiveRooms.Inc()
	return r
}

// deleteRoomIfEmpty removes and closes a room once its last client and admin
// console are gone.
func (m *Multiplexer) deleteRoomIfEmpty(r *room.Room) {
	m.mu.Lock()
	if !r.IsEmpty() || m.rooms[r.URL()] != r {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, r.URL())
	metrics.ActiveRooms.Dec()
	m.mu.Unlock()

	r.Close()
	logging.GetLogger().Info("Removed empty room", zap.String("room_id", string(r.URL())))
}

// requireSpace resolves a space a client operation names. The error lists the
// client's joined spaces, which is the first thing anyone debugging a client
// protocol mismatch wants to see.
func (m *Multiplexer) requireSpace(client types.ClientConn, name types.SpaceNameType) (*space.Space, error) {
	m.mu.Lock()
	sp := m.spaces[name]
	m.mu.Unlock()
	if sp == nil || !client.InSpace(name) {
		joined := client.GetSpaces()
		known := make([]string, 0, len(joined))
		for _, n := range joined {
			known = append(known, string(n))
		}
		return nil, fmt.Errorf("space %q is not joined by this client (joined spaces: %v)", name, known)
	}
	return sp, nil
}

// HandleClientDisconnect tears down everything a closing client still holds:
// its room membership, its room stream, and every space it watches.
func (m *Multiplexer) HandleClientDisconnect(client types.ClientConn) {
	client.SetDisconnecting()
	ctx := context.Background()
	m.LeaveRoom(ctx, client)
	m.LeaveSpaces(ctx, client)
}

// Shutdown closes every room, space and back stream. Called once at process
// exit, after the HTTP listener stopped accepting upgrades.
func (m *Multiplexer) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down session multiplexer")
	m.cancel()

	m.mu.Lock()
	rooms := make([]*room.Room, 0, len(m.rooms))
	for id, r := range m.rooms {
		rooms = append(rooms, r)
		delete(m.rooms, id)
		metrics.ActiveRooms.Dec()
	}
	for name := range m.spaces {
		delete(m.spaces, name)
		metrics.ActiveSpaces.Dec()
	}
	handles := make([]*spaceStreamHandle, 0, len(m.spaceStreams))
	for id, h := range m.spaceStreams {
		handles = append(handles, h)
		delete(m.spaceStreams, id)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
	for _, h := range handles {
		h.stopWatchdog()
		if h.stream != nil {
			_ = h.stream.Close()
		}
	}
	logging.Info(ctx, "Session multiplexer stopped",
		zap.Int("rooms_closed", len(rooms)),
		zap.Int("space_streams_closed", len(handles)),
	)
	return nil
}
