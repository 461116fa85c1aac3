package messages

import "encoding/json"

// ServerToClient frames leave on the front WebSocket. Unknown tags decode to
// UnknownMessage because most of this family is forwarded verbatim from the
// back.
type ServerToClient interface {
	Message
	isServerToClient()
}

// RoomJoinedMessage is the back's acknowledgement of a join. CurrentUserID is
// the numeric id the back assigned to this client for the session.
type RoomJoinedMessage struct {
	CurrentUserID int32           `json:"currentUserId"`
	Tags          []string        `json:"tags,omitempty"`
	CanEdit       bool            `json:"canEdit,omitempty"`
	Variables     json.RawMessage `json:"variables,omitempty"`
}

func (*RoomJoinedMessage) Tag() string       { return TagRoomJoined }
func (*RoomJoinedMessage) isServerToClient() {}
func (*RoomJoinedMessage) isRoomFromBack()   {}

// RefreshRoomMessage tells clients the map was republished. The pusher only
// forwards it when the version is newer than the one the room already saw.
type RefreshRoomMessage struct {
	RoomID        string `json:"roomId,omitempty"`
	VersionNumber int32  `json:"versionNumber"`
	TimeToRefresh int32  `json:"timeToRefresh,omitempty"`
}

func (*RefreshRoomMessage) Tag() string       { return TagRefreshRoom }
func (*RefreshRoomMessage) isServerToClient() {}
func (*RefreshRoomMessage) isRoomFromBack()   {}

// ErrorMessage is the universal error frame.
type ErrorMessage struct {
	Message string `json:"message"`
}

func (*ErrorMessage) Tag() string       { return TagError }
func (*ErrorMessage) isServerToClient() {}
func (*ErrorMessage) isRoomFromBack()   {}
func (*ErrorMessage) isSpaceFromBack()  {}
func (*ErrorMessage) isZoneSub()        {}
func (*ErrorMessage) isBatchSub()       {}
func (*ErrorMessage) isAnswer()         {}

// WorldFullWarningMessage warns that the world is close to capacity.
type WorldFullWarningMessage struct{}

func (*WorldFullWarningMessage) Tag() string       { return TagWorldFullWarning }
func (*WorldFullWarningMessage) isServerToClient() {}
func (*WorldFullWarningMessage) isRoomFromBack()   {}

// TeleportMessage moves the client to another map.
type TeleportMessage struct {
	Map string `json:"map"`
}

func (*TeleportMessage) Tag() string       { return TagTeleport }
func (*TeleportMessage) isServerToClient() {}
func (*TeleportMessage) isRoomFromBack()   {}

// AddSpaceUserMessage announces a user that became visible to the recipient.
// On the back stream it also publishes a locally joined user to the pool.
type AddSpaceUserMessage struct {
	SpaceName string     `json:"spaceName"`
	User      *SpaceUser `json:"user"`
}

func (*AddSpaceUserMessage) Tag() string       { return TagAddSpaceUser }
func (*AddSpaceUserMessage) isServerToClient() {}
func (*AddSpaceUserMessage) isSpaceFromBack()  {}
func (*AddSpaceUserMessage) isSpaceToBack()    {}

// UpdateSpaceUserMessage carries a partial user update; only the fields named
// by UpdateMask are meaningful.
type UpdateSpaceUserMessage struct {
	SpaceName  string     `json:"spaceName"`
	User       *SpaceUser `json:"user"`
	UpdateMask *FieldMask `json:"updateMask"`
}

func (*UpdateSpaceUserMessage) Tag() string       { return TagUpdateSpaceUser }
func (*UpdateSpaceUserMessage) isClientToServer() {}
func (*UpdateSpaceUserMessage) isSpaceToBack()    {}
func (*UpdateSpaceUserMessage) isSpaceFromBack()  {}
func (*UpdateSpaceUserMessage) isServerToClient() {}

// RemoveSpaceUserMessage announces a user that left or became invisible.
type RemoveSpaceUserMessage struct {
	SpaceName string `json:"spaceName"`
	UserID    int32  `json:"userId"`
}

func (*RemoveSpaceUserMessage) Tag() string       { return TagRemoveSpaceUser }
func (*RemoveSpaceUserMessage) isServerToClient() {}
func (*RemoveSpaceUserMessage) isSpaceFromBack()  {}

// BatchMessage coalesces zone sub-messages into one frame.
type BatchMessage struct {
	Event   string     `json:"event,omitempty"`
	Payload []BatchSub `json:"payload"`
}

func (*BatchMessage) Tag() string       { return TagBatch }
func (*BatchMessage) isServerToClient() {}

func (m *BatchMessage) MarshalJSON() ([]byte, error) {
	subs := make([]json.RawMessage, 0, len(m.Payload))
	for _, sub := range m.Payload {
		b, err := Marshal(sub)
		if err != nil {
			return nil, err
		}
		subs = append(subs, b)
	}
	return json.Marshal(struct {
		Event   string            `json:"event,omitempty"`
		Payload []json.RawMessage `json:"payload"`
	}{m.Event, subs})
}

func (m *BatchMessage) UnmarshalJSON(b []byte) error {
	var wire struct {
		Event   string            `json:"event"`
		Payload []json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	m.Event = wire.Event
	m.Payload = m.Payload[:0]
	for _, raw := range wire.Payload {
		sub, err := UnmarshalBatchSub(raw)
		if err != nil {
			return err
		}
		m.Payload = append(m.Payload, sub)
	}
	return nil
}

var serverToClientRegistry = map[string]func() ServerToClient{
	TagRoomJoined:          func() ServerToClient { return &RoomJoinedMessage{} },
	TagRefreshRoom:         func() ServerToClient { return &RefreshRoomMessage{} },
	TagError:               func() ServerToClient { return &ErrorMessage{} },
	TagWorldFullWarning:    func() ServerToClient { return &WorldFullWarningMessage{} },
	TagTeleport:            func() ServerToClient { return &TeleportMessage{} },
	TagAddSpaceUser:        func() ServerToClient { return &AddSpaceUserMessage{} },
	TagUpdateSpaceUser:     func() ServerToClient { return &UpdateSpaceUserMessage{} },
	TagRemoveSpaceUser:     func() ServerToClient { return &RemoveSpaceUserMessage{} },
	TagUpdateSpaceMetadata: func() ServerToClient { return &UpdateSpaceMetadataMessage{} },
	TagPublicEvent:         func() ServerToClient { return &PublicEvent{} },
	TagPrivateEvent:        func() ServerToClient { return &PrivateEvent{} },
	TagKickOff:             func() ServerToClient { return &KickOffMessage{} },
	TagVariable:            func() ServerToClient { return &VariableMessage{} },
	TagBatch:               func() ServerToClient { return &BatchMessage{} },
	TagAnswer:              func() ServerToClient { return &AnswerMessage{} },
}

// UnmarshalServerToClient decodes one client-bound frame. Used by tests and
// tooling; unknown tags come back as UnknownMessage.
func UnmarshalServerToClient(b []byte) (ServerToClient, error) {
	tag, data, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	newMsg, ok := serverToClientRegistry[tag]
	if !ok {
		return &UnknownMessage{MessageTag: tag, Data: data}, nil
	}
	m := newMsg()
	if err := decodeInto(tag, data, m); err != nil {
		return nil, err
	}
	return m, nil
}
