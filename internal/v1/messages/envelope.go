package messages

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire tags. These are shared with the front bundle and the back servers;
// renaming one is a protocol break.
const (
	TagJoinRoom             = "joinRoomMessage"
	TagRoomJoined           = "roomJoinedMessage"
	TagRefreshRoom          = "refreshRoomMessage"
	TagUserMoves            = "userMovesMessage"
	TagViewport             = "viewportMessage"
	TagSetPlayerDetails     = "setPlayerDetailsMessage"
	TagEmotePrompt          = "emotePromptMessage"
	TagVariable             = "variableMessage"
	TagEditMapCommand       = "editMapCommandMessage"
	TagReportPlayer         = "reportPlayerMessage"
	TagQuery                = "queryMessage"
	TagAnswer               = "answerMessage"
	TagError                = "errorMessage"
	TagBatch                = "batchMessage"
	TagWorldFullWarning     = "worldFullWarningMessage"
	TagTeleport             = "teleportMessage"
	TagJoinSpace            = "joinSpaceMessage"
	TagLeaveSpace           = "leaveSpaceMessage"
	TagWatchSpace           = "watchSpaceMessage"
	TagUnwatchSpace         = "unwatchSpaceMessage"
	TagAddSpaceUser         = "addSpaceUserMessage"
	TagUpdateSpaceUser      = "updateSpaceUserMessage"
	TagRemoveSpaceUser      = "removeSpaceUserMessage"
	TagUpdateSpaceMetadata  = "updateSpaceMetadataMessage"
	TagAddSpaceFilter       = "addSpaceFilterMessage"
	TagUpdateSpaceFilter    = "updateSpaceFilterMessage"
	TagRemoveSpaceFilter    = "removeSpaceFilterMessage"
	TagPublicEvent          = "publicEvent"
	TagPrivateEvent         = "privateEvent"
	TagKickOff              = "kickOffMessage"
	TagPing                 = "pingMessage"
	TagPong                 = "pongMessage"
	TagZone                 = "zoneMessage"
	TagBatchToPusher        = "batchToPusherMessage"
	TagUserJoinedZone       = "userJoinedZoneMessage"
	TagUserLeftZone         = "userLeftZoneMessage"
	TagGroupUpdateZone      = "groupUpdateZoneMessage"
	TagGroupLeftZone        = "groupLeftZoneMessage"
	TagUserJoined           = "userJoinedMessage"
	TagUserMoved            = "userMovedMessage"
	TagUserLeft             = "userLeftMessage"
	TagGroupUpdate          = "groupUpdateMessage"
	TagGroupDelete          = "groupDeleteMessage"
	TagEmoteEvent           = "emoteEventMessage"
	TagPlayerDetailsUpdated = "playerDetailsUpdatedMessage"
	TagSendUser             = "sendUserMessage"
	TagBanUser              = "banUserMessage"
)

var (
	// ErrBadEnvelope reports a frame that is not a {"message","data"} object.
	ErrBadEnvelope = errors.New("messages: malformed envelope")
	// ErrUnknownMessage reports a tag with no decoder in the target family.
	ErrUnknownMessage = errors.New("messages: unknown message tag")
)

// Message is implemented by every frame that travels inside a tagged
// envelope. Tag returns the wire tag the frame is addressed by.
type Message interface {
	Tag() string
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Marshal wraps m in its wire envelope.
func Marshal(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("messages: marshal %s: %w", m.Tag(), err)
	}
	return json.Marshal(envelope{Message: m.Tag(), Data: data})
}

func decodeEnvelope(b []byte) (string, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.Message == "" {
		return "", nil, fmt.Errorf("%w: missing message tag", ErrBadEnvelope)
	}
	return env.Message, env.Data, nil
}

func unknownTagError(tag string) error {
	return fmt.Errorf("%w: %q", ErrUnknownMessage, tag)
}

func decodeInto(tag string, data json.RawMessage, m Message) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("messages: decode %s: %w", tag, err)
	}
	return nil
}

// UnknownMessage preserves a frame whose tag has no decoder in the receiving
// family so it can be forwarded verbatim. It re-marshals to the exact payload
// it was decoded from.
type UnknownMessage struct {
	MessageTag string
	Data       json.RawMessage
}

func (m *UnknownMessage) Tag() string { return m.MessageTag }

func (m *UnknownMessage) MarshalJSON() ([]byte, error) {
	if len(m.Data) == 0 {
		return []byte("{}"), nil
	}
	return m.Data, nil
}

func (m *UnknownMessage) UnmarshalJSON(b []byte) error {
	m.Data = append(m.Data[:0], b...)
	return nil
}

// UnknownMessage can stand in for any family that forwards verbatim.
func (m *UnknownMessage) isServerToClient() {}
func (m *UnknownMessage) isRoomToBack()     {}
func (m *UnknownMessage) isRoomFromBack()   {}
func (m *UnknownMessage) isSpaceFromBack()  {}
func (m *UnknownMessage) isZoneSub()        {}
func (m *UnknownMessage) isQuery()          {}
func (m *UnknownMessage) isAnswer()         {}
