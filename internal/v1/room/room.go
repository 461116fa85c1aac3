// Package room tracks the clients of one game world, indexes their viewports
// on the zone grid, and fans back-originated zone events out to the clients
// that can see them.
package room

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/metrics"
	"github.com/gridlands/pusher/internal/v1/types"
)

// ZoneEventListener receives the per-client events a room computes from its
// zone streams. Deliveries target one client and must not block; the session
// layer funnels them into the client's batch emitter.
type ZoneEventListener interface {
	OnUserEnters(client types.ClientConn, user *messages.UserDescriptor)
	OnUserMoves(client types.ClientConn, user *messages.UserDescriptor)
	OnUserLeaves(client types.ClientConn, userID int32)
	OnGroupEnters(client types.ClientConn, group *messages.GroupDescriptor)
	OnGroupMoves(client types.ClientConn, group *messages.GroupDescriptor)
	OnGroupLeaves(client types.ClientConn, groupID int32)
	OnEmote(client types.ClientConn, emote *messages.EmoteEventMessage)
	OnPlayerDetailsUpdated(client types.ClientConn, details *messages.PlayerDetailsUpdatedMessage)
	OnError(client types.ClientConn, message string)
}

// AdminMember is the payload of MemberJoin and MemberLeave events on admin
// console sockets.
type AdminMember struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	IPAddress string `json:"ipAddress"`
	RoomID    string `json:"roomId"`
}

// Room is the pusher-side state of one game world: the connected clients,
// the zone grid they watch, the admin consoles observing membership, and the
// version number used to debounce refreshRoomMessage.
type Room struct {
	roomURL  types.RoomIdType
	dialer   types.ZoneDialer
	listener ZoneEventListener

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	clients     map[types.ClientIdType]types.ClientConn
	admins      map[types.ClientIdType]types.AdminConn
	clientZones map[types.ClientIdType]map[messages.Zone]struct{}
	zones       map[messages.Zone]*zone
	version     int32
}

// NewRoom creates the state for one room. Zone streams opened later inherit
// ctx, so cancelling it (via Close) tears all of them down.
func NewRoom(ctx context.Context, roomURL types.RoomIdType, dialer types.ZoneDialer, listener ZoneEventListener) *Room {
	rctx, cancel := context.WithCancel(ctx)
	return &Room{
		roomURL:     roomURL,
		dialer:      dialer,
		listener:    listener,
		ctx:         rctx,
		cancel:      cancel,
		clients:     make(map[types.ClientIdType]types.ClientConn),
		admins:      make(map[types.ClientIdType]types.AdminConn),
		clientZones: make(map[types.ClientIdType]map[messages.Zone]struct{}),
		zones:       make(map[messages.Zone]*zone),
	}
}

// URL returns the room's primary key.
func (r *Room) URL() types.RoomIdType { return r.roomURL }

// Join registers a client; joining twice is a no-op. Admin consoles watching
// the room are told about the new member.
func (r *Room) Join(ctx context.Context, client types.ClientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[client.GetID()]; ok {
		return
	}
	r.clients[client.GetID()] = client
	metrics.RoomClients.WithLabelValues(string(r.roomURL)).Inc()

	member := adminMember(r.roomURL, client)
	for _, admin := range r.admins {
		admin.Send("MemberJoin", member)
	}
	logging.Info(ctx, "Client joined room",
		zap.String("room_id", string(r.roomURL)),
		zap.String("client_id", string(client.GetID())),
	)
}

// Leave removes a client and its zone subscriptions; absent clients are a
// no-op.
func (r *Room) Leave(ctx context.Context, client types.ClientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := client.GetID()
	if _, ok := r.clients[id]; !ok {
		return
	}
	delete(r.clients, id)
	for key := range r.clientZones[id] {
		r.detachListenerLocked(id, key)
	}
	delete(r.clientZones, id)
	metrics.RoomClients.WithLabelValues(string(r.roomURL)).Dec()

	member := adminMember(r.roomURL, client)
	for _, admin := range r.admins {
		admin.Send("MemberLeave", member)
	}
	logging.Info(ctx, "Client left room",
		zap.String("room_id", string(r.roomURL)),
		zap.String("client_id", string(id)),
	)
}

// HasClient reports whether the client is registered in this room.
func (r *Room) HasClient(id types.ClientIdType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[id]
	return ok
}

// ClientCount returns the number of registered clients.
func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// WatchAdmin registers an admin console and replays the current member list.
func (r *Room) WatchAdmin(admin types.AdminConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins[admin.GetID()] = admin
	for _, client := range r.clients {
		admin.Send("MemberJoin", adminMember(r.roomURL, client))
	}
}

// UnwatchAdmin drops an admin console.
func (r *Room) UnwatchAdmin(admin types.AdminConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.admins, admin.GetID())
}

// IsEmpty reports whether no client and no admin console references the
// room anymore.
func (r *Room) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients) == 0 && len(r.admins) == 0
}

// NeedsUpdate reports whether version is newer than anything seen so far and
// records it. Replaying the same version reports false.
func (r *Room) NeedsUpdate(version int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if version <= r.version {
		return false
	}
	r.version = version
	return true
}

// Close cancels every zone stream and clears the registries. The multiplexer
// calls it exactly once, after removing the room from its map.
func (r *Room) Close() {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, z := range r.zones {
		if z.stream != nil {
			_ = z.stream.Close()
		}
		delete(r.zones, key)
	}
	r.clients = make(map[types.ClientIdType]types.ClientConn)
	r.admins = make(map[types.ClientIdType]types.AdminConn)
	r.clientZones = make(map[types.ClientIdType]map[messages.Zone]struct{})
	metrics.RoomClients.DeleteLabelValues(string(r.roomURL))
}

func adminMember(roomURL types.RoomIdType, client types.ClientConn) AdminMember {
	return AdminMember{
		UUID:      client.GetUUID(),
		Name:      string(client.GetName()),
		IPAddress: client.GetIPAddress(),
		RoomID:    string(roomURL),
	}
}
