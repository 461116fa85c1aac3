package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/metrics"
	"github.com/gridlands/pusher/internal/v1/space"
	"github.com/gridlands/pusher/internal/v1/types"
)

// HandleJoinSpace enrolls a client in a space, creating the local mirror and
// the shared back stream on first use. Joining a space twice is a no-op.
func (m *Multiplexer) HandleJoinSpace(ctx context.Context, client types.ClientConn, name types.SpaceNameType) error {
	if client.InSpace(name) {
		return nil
	}

	backID := m.back.Index(string(name))
	stream, err := m.spaceStreamFor(ctx, backID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	sp, ok := m.spaces[name]
	created := false
	if !ok {
		sp = space.NewSpace(name, backID, stream)
		m.spaces[name] = sp
		metrics.ActiveSpaces.Inc()
		created = true
	}
	m.mu.Unlock()

	if created {
		logging.Info(ctx, "Creating space",
			zap.String("space", string(name)),
			zap.Int("back_id", int(backID)),
		)
		if err := stream.Send(&messages.JoinSpaceMessage{SpaceName: string(name)}); err != nil {
			logging.Error(ctx, "Failed to subscribe space on back stream",
				zap.String("space", string(name)),
				zap.Error(err),
			)
		}
	}

	sp.AddClientWatcher(client)
	client.AddSpace(name)

	// A client that has not completed its room join yet has no user id; its
	// presence is published once the id arrives, via setPlayerDetails or a
	// fresh join.
	if userID := client.GetUserID(); userID != 0 {
		if err := sp.AddUser(client.GetSpaceUser()); err != nil {
			logging.Error(ctx, "Failed to publish space user",
				zap.String("space", string(name)),
				zap.Error(err),
			)
		}
	}

	if snapshot, err := sp.MetadataSnapshot(); err == nil && !client.IsDisconnecting() {
		client.SendMessage(snapshot)
	}
	return nil
}

// HandleLeaveSpace withdraws a client from one space.
func (m *Multiplexer) HandleLeaveSpace(ctx context.Context, client types.ClientConn, name types.SpaceNameType) error {
	sp, err := m.requireSpace(client, name)
	if err != nil {
		return err
	}
	m.detachFromSpace(ctx, client, sp)
	return nil
}

// LeaveSpaces withdraws a client from every space it still watches. Used on
// disconnect.
func (m *Multiplexer) LeaveSpaces(ctx context.Context, client types.ClientConn) {
	for _, name := range client.GetSpaces() {
		m.mu.Lock()
		sp := m.spaces[name]
		m.mu.Unlock()
		if sp == nil {
			client.RemoveSpace(name)
			continue
		}
		m.detachFromSpace(ctx, client, sp)
	}
}

func (m *Multiplexer) detachFromSpace(ctx context.Context, client types.ClientConn, sp *space.Space) {
	name := sp.Name()
	if userID := client.GetUserID(); userID != 0 {
		if err := sp.RemoveUser(userID); err != nil {
			logging.Error(ctx, "Failed to withdraw space user",
				zap.String("space", string(name)),
				zap.Error(err),
			)
		}
	}
	sp.RemoveClientWatcher(client)
	client.RemoveSpace(name)
	client.ClearSpaceFilters(name)
	m.deleteSpaceIfEmpty(sp)
}

// deleteSpaceIfEmpty removes a space once its last watcher left, and closes
// the shared stream once its last space is gone.
func (m *Multiplexer) deleteSpaceIfEmpty(sp *space.Space) {
	m.mu.Lock()
	if !sp.IsEmpty() || m.spaces[sp.Name()] != sp {
		m.mu.Unlock()
		return
	}
	delete(m.spaces, sp.Name())
	metrics.ActiveSpaces.Dec()

	streamInUse := false
	for _, other := range m.spaces {
		if other.BackID() == sp.BackID() {
			streamInUse = true
			break
		}
	}
	var h *spaceStreamHandle
	if !streamInUse {
		h = m.spaceStreams[sp.BackID()]
		delete(m.spaceStreams, sp.BackID())
	}
	m.mu.Unlock()

	logging.GetLogger().Info("Removed empty space", zap.String("space", string(sp.Name())))
	if h != nil {
		h.stopWatchdog()
		if h.stream != nil {
			_ = h.stream.Close()
		}
		logging.GetLogger().Info("Closed idle space stream", zap.Int("back_id", int(h.backID)))
	}
}

// publishPlayerDetails merges a client detail change into every space the
// client is in, so watchers on other maps follow along. The mask names only
// the fields whose value actually changed; re-sending the current value is
// not an update.
func (m *Multiplexer) publishPlayerDetails(ctx context.Context, client types.ClientConn, details *messages.SetPlayerDetailsMessage) {
	current := client.GetSpaceUser()
	paths := make([]string, 0, 2)
	update := &messages.SpaceUser{ID: client.GetUserID()}
	if details.AvailabilityStatus != messages.AvailabilityStatusUnchanged &&
		details.AvailabilityStatus != current.AvailabilityStatus {
		update.AvailabilityStatus = details.AvailabilityStatus
		paths = append(paths, "availabilityStatus")
	}
	if details.ChatID != "" && details.ChatID != current.ChatID {
		update.ChatID = details.ChatID
		paths = append(paths, "chatID")
	}
	if len(paths) == 0 {
		return
	}

	mask := &messages.FieldMask{Paths: paths}
	client.ApplySpaceUserUpdate(update, mask)

	for _, name := range client.GetSpaces() {
		m.mu.Lock()
		sp := m.spaces[name]
		m.mu.Unlock()
		if sp == nil {
			continue
		}
		if err := sp.UpdateUser(update, mask); err != nil {
			logging.Error(ctx, "Failed to propagate player details",
				zap.String("space", string(name)),
				zap.Error(err),
			)
		}
	}
}
