// Package space mirrors back-owned spaces and fans their events out to
// watching clients, honoring each watcher's visibility filters.
package space

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/types"
)

// Space is the local mirror of one space. Users and metadata converge through
// the shared back stream; watchers are the local clients that asked to hear
// about it.
type Space struct {
	name   types.SpaceNameType
	backID types.BackIdType
	stream types.SpaceStream

	mu       sync.RWMutex
	users    map[int32]*messages.SpaceUser
	metadata map[string]any
	watchers map[types.ClientIdType]types.ClientConn
}

// NewSpace creates the mirror for one space. The stream is the shared
// conversation with the back that owns it and never changes for the space's
// lifetime.
func NewSpace(name types.SpaceNameType, backID types.BackIdType, stream types.SpaceStream) *Space {
	return &Space{
		name:     name,
		backID:   backID,
		stream:   stream,
		users:    make(map[int32]*messages.SpaceUser),
		metadata: make(map[string]any),
		watchers: make(map[types.ClientIdType]types.ClientConn),
	}
}

// Name returns the fully qualified space name.
func (s *Space) Name() types.SpaceNameType { return s.name }

// BackID returns the id of the back server that owns this space.
func (s *Space) BackID() types.BackIdType { return s.backID }

// AddClientWatcher registers a client for notifications on this space.
func (s *Space) AddClientWatcher(client types.ClientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers[client.GetID()] = client
}

// RemoveClientWatcher drops a client from the notification set.
func (s *Space) RemoveClientWatcher(client types.ClientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers, client.GetID())
}

// Watchers returns a snapshot of the clients watching the space.
func (s *Space) Watchers() []types.ClientConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ClientConn, 0, len(s.watchers))
	for _, w := range s.watchers {
		out = append(out, w)
	}
	return out
}

// IsEmpty reports whether nobody watches the space anymore.
func (s *Space) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers) == 0
}

// UserCount returns the size of the user mirror.
func (s *Space) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// AddUser publishes a locally joined user: the mirror and local watchers see
// it immediately, the back relays it to every other pusher watching the
// space. Only the first registration of a user id is sent to the back.
func (s *Space) AddUser(user *messages.SpaceUser) error {
	s.mu.Lock()
	_, known := s.users[user.ID]
	s.addUserLocked(user.Clone())
	s.mu.Unlock()

	if known {
		return nil
	}
	return s.stream.Send(&messages.AddSpaceUserMessage{SpaceName: string(s.name), User: user.Clone()})
}

// LocalAddUser applies a remote-originated add to the mirror and fans it out.
func (s *Space) LocalAddUser(user *messages.SpaceUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addUserLocked(user.Clone())
}

func (s *Space) addUserLocked(user *messages.SpaceUser) {
	s.users[user.ID] = user
	msg := &messages.AddSpaceUserMessage{SpaceName: string(s.name), User: user.Clone()}
	for _, w := range s.watchers {
		if s.visibleTo(user, w) {
			w.SendMessage(msg)
		}
	}
}

// UpdateUser applies a client-originated update: mirror plus local watchers
// first, then the back so other pushers converge.
func (s *Space) UpdateUser(update *messages.SpaceUser, mask *messages.FieldMask) error {
	s.mu.Lock()
	s.updateUserLocked(update, mask)
	s.mu.Unlock()

	return s.stream.Send(&messages.UpdateSpaceUserMessage{
		SpaceName:  string(s.name),
		User:       update.Clone(),
		UpdateMask: mask,
	})
}

// LocalUpdateUser merges the masked fields of a remote update into the
// mirror and fans out the result.
func (s *Space) LocalUpdateUser(update *messages.SpaceUser, mask *messages.FieldMask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateUserLocked(update, mask)
}

// updateUserLocked translates the delivery per watcher: a user entering a
// watcher's filter set is announced as an add, one leaving it as a remove,
// and one staying visible as the original masked update.
func (s *Space) updateUserLocked(update *messages.SpaceUser, mask *messages.FieldMask) {
	current, ok := s.users[update.ID]
	if !ok {
		// An update for a user the mirror never saw; register it so state
		// converges.
		s.addUserLocked(update.Clone())
		return
	}

	before := current.Clone()
	if unknown := messages.ApplySpaceUserMask(current, update, mask); len(unknown) > 0 {
		logging.GetLogger().Warn("Ignoring unknown field mask paths",
			zap.String("space", string(s.name)),
			zap.Strings("paths", unknown),
		)
	}

	addMsg := &messages.AddSpaceUserMessage{SpaceName: string(s.name), User: current.Clone()}
	removeMsg := &messages.RemoveSpaceUserMessage{SpaceName: string(s.name), UserID: current.ID}
	updateMsg := &messages.UpdateSpaceUserMessage{SpaceName: string(s.name), User: update.Clone(), UpdateMask: mask}

	for _, w := range s.watchers {
		visBefore := s.visibleTo(before, w)
		visAfter := s.visibleTo(current, w)
		switch {
		case !visBefore && visAfter:
			w.SendMessage(addMsg)
		case visBefore && !visAfter:
			w.SendMessage(removeMsg)
		case visBefore && visAfter:
			w.SendMessage(updateMsg)
		}
	}
}

// RemoveUser withdraws a locally connected user and tells the back.
func (s *Space) RemoveUser(userID int32) error {
	s.mu.Lock()
	_, known := s.users[userID]
	s.removeUserLocked(userID)
	s.mu.Unlock()

	if !known {
		return nil
	}
	return s.stream.Send(&messages.LeaveSpaceMessage{SpaceName: string(s.name), UserID: userID})
}

// LocalRemoveUser applies a remote-originated removal.
func (s *Space) LocalRemoveUser(userID int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeUserLocked(userID)
}

func (s *Space) removeUserLocked(userID int32) {
	user, ok := s.users[userID]
	if !ok {
		return
	}
	delete(s.users, userID)
	msg := &messages.RemoveSpaceUserMessage{SpaceName: string(s.name), UserID: userID}
	for _, w := range s.watchers {
		if s.visibleTo(user, w) {
			w.SendMessage(msg)
		}
	}
}

// UpdateMetadata merges a client's delta without notifying local watchers;
// they hear about it through the back's rebroadcast. The delta is forwarded
// exactly as the client sent it.
func (s *Space) UpdateMetadata(metadataJSON string) error {
	meta, err := DecodeMetadata(metadataJSON)
	if err != nil {
		return err
	}
	s.LocalUpdateMetadata(meta, false)
	return s.stream.Send(&messages.UpdateSpaceMetadataMessage{SpaceName: string(s.name), Metadata: metadataJSON})
}

// LocalUpdateMetadata merge-overwrites top-level keys. With propagate set,
// every watcher receives the merged snapshot.
func (s *Space) LocalUpdateMetadata(meta map[string]any, propagate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range meta {
		s.metadata[k] = v
	}
	if !propagate {
		return
	}
	msg, err := s.metadataMessageLocked()
	if err != nil {
		logging.GetLogger().Error("Failed to serialize space metadata",
			zap.String("space", string(s.name)),
			zap.Error(err),
		)
		return
	}
	for _, w := range s.watchers {
		w.SendMessage(msg)
	}
}

// MetadataSnapshot returns the current metadata as a wire frame, used to
// greet a just-joined watcher.
func (s *Space) MetadataSnapshot() (*messages.UpdateSpaceMetadataMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadataMessageLocked()
}

func (s *Space) metadataMessageLocked() (*messages.UpdateSpaceMetadataMessage, error) {
	blob, err := json.Marshal(s.metadata)
	if err != nil {
		return nil, err
	}
	return &messages.UpdateSpaceMetadataMessage{SpaceName: string(s.name), Metadata: string(blob)}, nil
}

// SendPublicEvent fans an event out to every watcher.
func (s *Space) SendPublicEvent(evt *messages.PublicEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.watchers {
		w.SendMessage(evt)
	}
}

// SendPrivateEvent delivers an event to the addressed watcher only.
func (s *Space) SendPrivateEvent(evt *messages.PrivateEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.watchers {
		if w.GetUserID() == evt.ReceiverUserID {
			w.SendMessage(evt)
		}
	}
}

// ForwardPublicEvent relays a client's event to the back. Local watchers
// hear it when the back rebroadcasts to every pusher, origin included.
func (s *Space) ForwardPublicEvent(evt *messages.PublicEvent) error {
	return s.stream.Send(evt)
}

// ForwardPrivateEvent relays a client's addressed event to the back.
func (s *Space) ForwardPrivateEvent(evt *messages.PrivateEvent) error {
	return s.stream.Send(evt)
}

// KickOffUser forwards a kick to the back; the effect comes back on the
// shared stream once the back honors it.
func (s *Space) KickOffUser(userUUID string) error {
	return s.stream.Send(&messages.KickOffMessage{SpaceName: string(s.name), UserID: userUUID})
}

// EchoKickOff relays a back-originated kick command back to the back. The
// protocol expects the pusher to confirm the kick this way.
func (s *Space) EchoKickOff(msg *messages.KickOffMessage) error {
	return s.stream.Send(msg)
}

// NotifyMe unicasts a frame to one watcher.
func (s *Space) NotifyMe(client types.ClientConn, msg messages.Message) {
	client.SendMessage(msg)
}

// HandleAddFilter installs a filter for the client, idempotent by name, and
// emits the visibility diff against the client's previous filter set.
func (s *Space) HandleAddFilter(client types.ClientConn, filter messages.SpaceFilter) {
	old := client.GetSpaceFilters(s.name)
	for _, f := range old {
		if f.Name == filter.Name {
			return
		}
	}
	next := append(append([]messages.SpaceFilter(nil), old...), filter)
	s.applyFilters(client, old, next)
}

// HandleUpdateFilter replaces a filter by name. A name never installed is a
// client error: log and drop.
func (s *Space) HandleUpdateFilter(client types.ClientConn, filter messages.SpaceFilter) {
	old := client.GetSpaceFilters(s.name)
	idx := -1
	for i, f := range old {
		if f.Name == filter.Name {
			idx = i
			break
		}
	}
	if idx < 0 {
		logging.GetLogger().Warn("Update for a filter that was never added",
			zap.String("space", string(s.name)),
			zap.String("filter", filter.Name),
			zap.String("client_id", string(client.GetID())),
		)
		return
	}
	next := append([]messages.SpaceFilter(nil), old...)
	next[idx] = filter
	s.applyFilters(client, old, next)
}

// HandleRemoveFilter uninstalls a filter by name, idempotently.
func (s *Space) HandleRemoveFilter(client types.ClientConn, name string) {
	old := client.GetSpaceFilters(s.name)
	next := make([]messages.SpaceFilter, 0, len(old))
	for _, f := range old {
		if f.Name != name {
			next = append(next, f)
		}
	}
	if len(next) == len(old) {
		return
	}
	s.applyFilters(client, old, next)
}

// applyFilters swaps the client's filter set and emits adds for users that
// became visible and removes for users that dropped out.
func (s *Space) applyFilters(client types.ClientConn, old, next []messages.SpaceFilter) {
	client.SetSpaceFilters(s.name, next)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		visBefore := admits(old, user)
		visAfter := admits(next, user)
		switch {
		case !visBefore && visAfter:
			client.SendMessage(&messages.AddSpaceUserMessage{SpaceName: string(s.name), User: user.Clone()})
		case visBefore && !visAfter:
			client.SendMessage(&messages.RemoveSpaceUserMessage{SpaceName: string(s.name), UserID: user.ID})
		}
	}
}

// visibleTo reports whether the watcher's current filters admit the user.
func (s *Space) visibleTo(user *messages.SpaceUser, watcher types.ClientConn) bool {
	return admits(watcher.GetSpaceFilters(s.name), user)
}

// admits reports whether a filter set makes the user visible. No filters
// means everyone is.
func admits(filters []messages.SpaceFilter, user *messages.SpaceUser) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Matches(user) {
			return true
		}
	}
	return false
}

// DecodeMetadata parses the wire blob into a key map.
func DecodeMetadata(blob string) (map[string]any, error) {
	var meta map[string]any
	if err := json.Unmarshal([]byte(blob), &meta); err != nil {
		return nil, fmt.Errorf("invalid space metadata: %w", err)
	}
	return meta, nil
}
