package room

import (
	"context"

	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/types"
)

// ZoneSize is the edge of one grid cell, in map pixels. Viewports arrive in
// the same coordinate space.
const ZoneSize = 512

// zone mirrors the back's state for one grid cell while at least one client
// watches it. Descriptors stored here are replaced, never mutated, so
// pointers already handed to listeners stay stable.
type zone struct {
	key       messages.Zone
	users     map[int32]*messages.UserDescriptor
	groups    map[int32]*messages.GroupDescriptor
	listeners map[types.ClientIdType]types.ClientConn
	stream    types.ZoneStream
}

// zonesForViewport returns the grid cells a viewport rectangle overlaps.
func zonesForViewport(vp messages.ViewportMessage) map[messages.Zone]struct{} {
	zones := make(map[messages.Zone]struct{})
	if vp.Right < vp.Left || vp.Bottom < vp.Top {
		return zones
	}
	for x := vp.Left / ZoneSize; x <= vp.Right/ZoneSize; x++ {
		for y := vp.Top / ZoneSize; y <= vp.Bottom/ZoneSize; y++ {
			zones[messages.Zone{X: x, Y: y}] = struct{}{}
		}
	}
	return zones
}

// watchesLocked reports whether the client's zone set covers the cell.
func (r *Room) watchesLocked(id types.ClientIdType, key messages.Zone) bool {
	_, ok := r.clientZones[id][key]
	return ok
}

// SetViewport reindexes the client's zone set. Dropped zones emit leave
// events so the client forgets their entities; newly covered zones emit
// enter events for the mirrored state and start a zone stream on first
// watch.
func (r *Room) SetViewport(ctx context.Context, client types.ClientConn, vp messages.ViewportMessage) {
	client.SetViewport(vp)
	next := zonesForViewport(vp)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[client.GetID()]; !ok {
		return
	}
	prev := r.clientZones[client.GetID()]
	r.clientZones[client.GetID()] = next

	for key := range prev {
		if _, ok := next[key]; !ok {
			r.stopWatchingLocked(client, key)
		}
	}
	for key := range next {
		if _, ok := prev[key]; !ok {
			r.startWatchingLocked(ctx, client, key)
		}
	}
}

// ZoneCount returns the number of live zone streams.
func (r *Room) ZoneCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.zones)
}

func (r *Room) startWatchingLocked(ctx context.Context, client types.ClientConn, key messages.Zone) {
	z, ok := r.zones[key]
	if !ok {
		stream, err := r.dialer.ListenZone(r.ctx, r.roomURL, key)
		if err != nil {
			logging.Error(ctx, "Failed to open zone stream",
				zap.String("room_id", string(r.roomURL)),
				zap.Int32("zone_x", key.X),
				zap.Int32("zone_y", key.Y),
				zap.Error(err),
			)
			return
		}
		z = &zone{
			key:       key,
			users:     make(map[int32]*messages.UserDescriptor),
			groups:    make(map[int32]*messages.GroupDescriptor),
			listeners: make(map[types.ClientIdType]types.ClientConn),
			stream:    stream,
		}
		r.zones[key] = z
		go r.readZone(z)
	}
	z.listeners[client.GetID()] = client

	// Catch the new listener up on everything already in the cell.
	for _, user := range z.users {
		r.listener.OnUserEnters(client, user)
	}
	for _, group := range z.groups {
		r.listener.OnGroupEnters(client, group)
	}
}

func (r *Room) stopWatchingLocked(client types.ClientConn, key messages.Zone) {
	z, ok := r.zones[key]
	if !ok {
		return
	}
	for userID := range z.users {
		r.listener.OnUserLeaves(client, userID)
	}
	for groupID := range z.groups {
		r.listener.OnGroupLeaves(client, groupID)
	}
	r.detachListenerLocked(client.GetID(), key)
}

func (r *Room) detachListenerLocked(id types.ClientIdType, key messages.Zone) {
	z, ok := r.zones[key]
	if !ok {
		return
	}
	delete(z.listeners, id)
	if len(z.listeners) > 0 {
		return
	}
	if z.stream != nil {
		_ = z.stream.Close()
	}
	delete(r.zones, key)
}

// readZone consumes one zone stream until it closes. An unexpected close
// drops the zone entry so the next viewport covering it dials fresh.
func (r *Room) readZone(z *zone) {
	for {
		frame, err := z.stream.Recv()
		if err != nil {
			r.mu.Lock()
			active := r.zones[z.key] == z
			if active {
				delete(r.zones, z.key)
			}
			r.mu.Unlock()
			if active && r.ctx.Err() == nil {
				logging.GetLogger().Warn("Zone stream closed",
					zap.String("room_id", string(r.roomURL)),
					zap.Int32("zone_x", z.key.X),
					zap.Int32("zone_y", z.key.Y),
					zap.Error(err),
				)
			}
			return
		}
		for _, sub := range frame.Payload {
			r.dispatchZoneEvent(z, sub)
		}
	}
}

// dispatchZoneEvent applies one back event to the zone mirror and classifies
// it per listener: a user or group arriving from a zone the listener already
// watches is a move, otherwise an enter; one leaving toward a watched zone
// is silent (the destination zone announces it), otherwise a leave.
func (r *Room) dispatchZoneEvent(z *zone, sub messages.ZoneSub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.zones[z.key] != z {
		return
	}

	switch msg := sub.(type) {
	case *messages.UserJoinedZoneMessage:
		user := msg.UserDescriptor
		z.users[user.UserID] = &user
		for id, l := range z.listeners {
			if msg.FromZone != nil && r.watchesLocked(id, *msg.FromZone) {
				r.listener.OnUserMoves(l, &user)
			} else {
				r.listener.OnUserEnters(l, &user)
			}
		}

	case *messages.UserMovedMessage:
		user, ok := z.users[msg.UserID]
		if !ok {
			return
		}
		moved := *user
		moved.Position = msg.Position
		z.users[msg.UserID] = &moved
		for _, l := range z.listeners {
			r.listener.OnUserMoves(l, &moved)
		}

	case *messages.UserLeftZoneMessage:
		if _, ok := z.users[msg.UserID]; !ok {
			return
		}
		delete(z.users, msg.UserID)
		for id, l := range z.listeners {
			if msg.ToZone != nil && r.watchesLocked(id, *msg.ToZone) {
				continue
			}
			r.listener.OnUserLeaves(l, msg.UserID)
		}

	case *messages.GroupUpdateZoneMessage:
		group := msg.GroupDescriptor
		_, known := z.groups[group.GroupID]
		z.groups[group.GroupID] = &group
		for id, l := range z.listeners {
			if known || (msg.FromZone != nil && r.watchesLocked(id, *msg.FromZone)) {
				r.listener.OnGroupMoves(l, &group)
			} else {
				r.listener.OnGroupEnters(l, &group)
			}
		}

	case *messages.GroupLeftZoneMessage:
		if _, ok := z.groups[msg.GroupID]; !ok {
			return
		}
		delete(z.groups, msg.GroupID)
		for id, l := range z.listeners {
			if msg.ToZone != nil && r.watchesLocked(id, *msg.ToZone) {
				continue
			}
			r.listener.OnGroupLeaves(l, msg.GroupID)
		}

	case *messages.EmoteEventMessage:
		for _, l := range z.listeners {
			r.listener.OnEmote(l, msg)
		}

	case *messages.PlayerDetailsUpdatedMessage:
		if user, ok := z.users[msg.UserID]; ok && msg.Details != nil &&
			msg.Details.AvailabilityStatus != messages.AvailabilityStatusUnchanged {
			patched := *user
			patched.AvailabilityStatus = msg.Details.AvailabilityStatus
			z.users[msg.UserID] = &patched
		}
		for _, l := range z.listeners {
			r.listener.OnPlayerDetailsUpdated(l, msg)
		}

	case *messages.ErrorMessage:
		for _, l := range z.listeners {
			r.listener.OnError(l, msg.Message)
		}

	case *messages.UnknownMessage:
		logging.GetLogger().Debug("Dropping unknown zone event",
			zap.String("room_id", string(r.roomURL)),
			zap.String("tag", msg.MessageTag),
		)
	}
}
