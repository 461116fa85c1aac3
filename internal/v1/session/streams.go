package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/metrics"
	"github.com/gridlands/pusher/internal/v1/space"
	"github.com/gridlands/pusher/internal/v1/types"
)

// spaceStreamHandle memoizes one shared watchSpace stream. The handle is
// inserted into the registry before the dial happens, so concurrent joiners
// block on ready instead of dialing a second stream to the same back.
type spaceStreamHandle struct {
	backID types.BackIdType
	ready  chan struct{}

	// stream and err are written once, before ready closes.
	stream types.SpaceStream
	err    error

	mu       sync.Mutex
	watchdog *time.Timer
}

// resetWatchdog re-arms the liveness timer. Called at stream creation and on
// every ping from the back.
func (h *spaceStreamHandle) resetWatchdog(d time.Duration, expired func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchdog != nil {
		h.watchdog.Stop()
	}
	h.watchdog = time.AfterFunc(d, expired)
}

func (h *spaceStreamHandle) stopWatchdog() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchdog != nil {
		h.watchdog.Stop()
		h.watchdog = nil
	}
}

// spaceStreamFor returns the shared stream for a back, dialing it on first
// use. A failed dial removes the handle so the next caller retries.
func (m *Multiplexer) spaceStreamFor(ctx context.Context, backID types.BackIdType) (types.SpaceStream, error) {
	m.mu.Lock()
	if h, ok := m.spaceStreams[backID]; ok {
		m.mu.Unlock()
		<-h.ready
		return h.stream, h.err
	}
	h := &spaceStreamHandle{backID: backID, ready: make(chan struct{})}
	m.spaceStreams[backID] = h
	m.mu.Unlock()

	stream, err := m.back.WatchSpace(ctx, backID)
	h.stream, h.err = stream, err
	close(h.ready)

	if err != nil {
		m.mu.Lock()
		if m.spaceStreams[backID] == h {
			delete(m.spaceStreams, backID)
		}
		m.mu.Unlock()
		logging.Error(ctx, "Failed to open space stream",
			zap.Int("back_id", int(backID)),
			zap.Error(err),
		)
		return nil, err
	}

	logging.Info(ctx, "Opened shared space stream", zap.Int("back_id", int(backID)))
	h.resetWatchdog(m.watchdogTimeout, func() { m.watchdogExpired(h) })
	go m.readSpaceStream(h)
	return stream, nil
}

// watchdogExpired fires when the back went silent for the full timeout. It
// only closes the stream; the reader unblocks with an error and runs the
// shared teardown path.
func (m *Multiplexer) watchdogExpired(h *spaceStreamHandle) {
	metrics.WatchdogExpirations.WithLabelValues(backLabel(h.backID)).Inc()
	logging.GetLogger().Warn("Space stream watchdog expired, closing stream",
		zap.Int("back_id", int(h.backID)),
	)
	_ = h.stream.Close()
}

// readSpaceStream is the single reader of one shared stream. It dispatches
// every back-originated space frame to the local space mirrors and tears the
// stream down when it ends.
func (m *Multiplexer) readSpaceStream(h *spaceStreamHandle) {
	for {
		msg, err := h.stream.Recv()
		if err != nil {
			m.dropSpaceStream(h, err)
			return
		}
		m.dispatchSpaceFrame(h, msg)
	}
}

func (m *Multiplexer) dispatchSpaceFrame(h *spaceStreamHandle, msg messages.SpaceFromBack) {
	log := logging.GetLogger()
	switch frame := msg.(type) {
	case *messages.PingMessage:
		h.resetWatchdog(m.watchdogTimeout, func() { m.watchdogExpired(h) })
		if err := h.stream.Send(&messages.PongMessage{}); err != nil {
			log.Warn("Failed to answer space stream ping",
				zap.Int("back_id", int(h.backID)),
				zap.Error(err),
			)
		}

	case *messages.AddSpaceUserMessage:
		if sp := m.Space(types.SpaceNameType(frame.SpaceName)); sp != nil {
			sp.LocalAddUser(frame.User)
		}

	case *messages.UpdateSpaceUserMessage:
		if sp := m.Space(types.SpaceNameType(frame.SpaceName)); sp != nil {
			sp.LocalUpdateUser(frame.User, frame.UpdateMask)
		}

	case *messages.RemoveSpaceUserMessage:
		if sp := m.Space(types.SpaceNameType(frame.SpaceName)); sp != nil {
			sp.LocalRemoveUser(frame.UserID)
		}

	case *messages.UpdateSpaceMetadataMessage:
		sp := m.Space(types.SpaceNameType(frame.SpaceName))
		if sp == nil {
			return
		}
		meta, err := space.DecodeMetadata(frame.Metadata)
		if err != nil {
			log.Warn("Dropping space metadata that is not a JSON object",
				zap.String("space", frame.SpaceName),
				zap.Error(err),
			)
			return
		}
		sp.LocalUpdateMetadata(meta, false)

	case *messages.KickOffMessage:
		sp := m.Space(types.SpaceNameType(frame.SpaceName))
		if sp == nil {
			log.Debug("Kick for a space this instance does not mirror",
				zap.String("space", frame.SpaceName),
			)
			return
		}
		if err := sp.EchoKickOff(frame); err != nil {
			log.Warn("Failed to apply kick",
				zap.String("space", frame.SpaceName),
				zap.Error(err),
			)
		}

	case *messages.PublicEvent:
		if sp := m.Space(types.SpaceNameType(frame.SpaceName)); sp != nil {
			sp.SendPublicEvent(frame)
		}

	case *messages.PrivateEvent:
		if sp := m.Space(types.SpaceNameType(frame.SpaceName)); sp != nil {
			sp.SendPrivateEvent(frame)
		}

	case *messages.ErrorMessage:
		log.Warn("Space stream error frame",
			zap.Int("back_id", int(h.backID)),
			zap.String("message", frame.Message),
		)

	default:
		log.Debug("Ignoring space frame",
			zap.Int("back_id", int(h.backID)),
			zap.String("tag", msg.Tag()),
		)
	}
}

// dropSpaceStream runs once per stream, when its reader ends. It evicts every
// space mirrored over the dead stream; affected clients keep their room
// connection and re-enter spaces by joining again.
func (m *Multiplexer) dropSpaceStream(h *spaceStreamHandle, cause error) {
	h.stopWatchdog()
	_ = h.stream.Close()

	m.mu.Lock()
	if m.spaceStreams[h.backID] == h {
		delete(m.spaceStreams, h.backID)
	}
	lost := make([]*space.Space, 0)
	for name, sp := range m.spaces {
		if sp.BackID() == h.backID {
			lost = append(lost, sp)
			delete(m.spaces, name)
			metrics.ActiveSpaces.Dec()
		}
	}
	m.mu.Unlock()

	// Detach the watchers so a later joinSpaceMessage starts from scratch on
	// a fresh stream.
	for _, sp := range lost {
		for _, client := range sp.Watchers() {
			client.RemoveSpace(sp.Name())
			client.ClearSpaceFilters(sp.Name())
			sp.RemoveClientWatcher(client)
		}
	}

	logging.GetLogger().Warn("Space stream ended, evicting its spaces",
		zap.Int("back_id", int(h.backID)),
		zap.Int("spaces_lost", len(lost)),
		zap.Error(cause),
	)
}

func backLabel(id types.BackIdType) string {
	return strconv.Itoa(int(id))
}
