package messages

import "encoding/json"

// ZoneMessage is the single request frame of a listenZone stream.
type ZoneMessage struct {
	RoomID string `json:"roomId"`
	X      int32  `json:"x"`
	Y      int32  `json:"y"`
}

func (*ZoneMessage) Tag() string { return TagZone }

// ZoneSub is a sub-message inside a batchToPusherMessage on a zone stream.
type ZoneSub interface {
	Message
	isZoneSub()
}

// BatchSub is a sub-message inside a client-bound batchMessage.
type BatchSub interface {
	Message
	isBatchSub()
}

// BatchToPusherMessage is the zone stream's frame: every event of one back
// tick for one zone, in order.
type BatchToPusherMessage struct {
	Payload []ZoneSub `json:"payload"`
}

func (*BatchToPusherMessage) Tag() string { return TagBatchToPusher }

func (m *BatchToPusherMessage) MarshalJSON() ([]byte, error) {
	subs := make([]json.RawMessage, 0, len(m.Payload))
	for _, sub := range m.Payload {
		b, err := Marshal(sub)
		if err != nil {
			return nil, err
		}
		subs = append(subs, b)
	}
	return json.Marshal(struct {
		Payload []json.RawMessage `json:"payload"`
	}{subs})
}

func (m *BatchToPusherMessage) UnmarshalJSON(b []byte) error {
	var wire struct {
		Payload []json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	m.Payload = m.Payload[:0]
	for _, raw := range wire.Payload {
		sub, err := UnmarshalZoneSub(raw)
		if err != nil {
			return err
		}
		m.Payload = append(m.Payload, sub)
	}
	return nil
}

// UserJoinedZoneMessage announces a user now inside the zone. FromZone names
// the zone the user came from, or nil when the user appeared (connected or
// teleported).
type UserJoinedZoneMessage struct {
	UserDescriptor
	FromZone *Zone `json:"fromZone,omitempty"`
}

func (*UserJoinedZoneMessage) Tag() string { return TagUserJoinedZone }
func (*UserJoinedZoneMessage) isZoneSub()  {}

// UserMovedMessage reports a position change inside a zone.
type UserMovedMessage struct {
	UserID   int32           `json:"userId"`
	Position PositionMessage `json:"position"`
}

func (*UserMovedMessage) Tag() string { return TagUserMoved }
func (*UserMovedMessage) isZoneSub()  {}
func (*UserMovedMessage) isBatchSub() {}

// UserLeftZoneMessage announces a user that left the zone. ToZone names the
// destination, or nil when the user disconnected.
type UserLeftZoneMessage struct {
	UserID int32 `json:"userId"`
	ToZone *Zone `json:"toZone,omitempty"`
}

func (*UserLeftZoneMessage) Tag() string { return TagUserLeftZone }
func (*UserLeftZoneMessage) isZoneSub()  {}

// GroupUpdateZoneMessage announces a proximity group created, moved into, or
// changed inside the zone.
type GroupUpdateZoneMessage struct {
	GroupDescriptor
	FromZone *Zone `json:"fromZone,omitempty"`
}

func (*GroupUpdateZoneMessage) Tag() string { return TagGroupUpdateZone }
func (*GroupUpdateZoneMessage) isZoneSub()  {}

// GroupLeftZoneMessage announces a group that left the zone.
type GroupLeftZoneMessage struct {
	GroupID int32 `json:"groupId"`
	ToZone  *Zone `json:"toZone,omitempty"`
}

func (*GroupLeftZoneMessage) Tag() string { return TagGroupLeftZone }
func (*GroupLeftZoneMessage) isZoneSub()  {}

// EmoteEventMessage reports an emote played by a user in the zone.
type EmoteEventMessage struct {
	ActorUserID int32  `json:"actorUserId"`
	Emote       string `json:"emote"`
}

func (*EmoteEventMessage) Tag() string { return TagEmoteEvent }
func (*EmoteEventMessage) isZoneSub()  {}
func (*EmoteEventMessage) isBatchSub() {}

// PlayerDetailsUpdatedMessage reports detail changes for a user in the zone.
type PlayerDetailsUpdatedMessage struct {
	UserID  int32                    `json:"userId"`
	Details *SetPlayerDetailsMessage `json:"details"`
}

func (*PlayerDetailsUpdatedMessage) Tag() string { return TagPlayerDetailsUpdated }
func (*PlayerDetailsUpdatedMessage) isZoneSub()  {}
func (*PlayerDetailsUpdatedMessage) isBatchSub() {}

// UserJoinedMessage is the client-bound form of a zone enter.
type UserJoinedMessage struct {
	UserDescriptor
}

func (*UserJoinedMessage) Tag() string { return TagUserJoined }
func (*UserJoinedMessage) isBatchSub() {}

// UserLeftMessage is the client-bound form of a zone leave.
type UserLeftMessage struct {
	UserID int32 `json:"userId"`
}

func (*UserLeftMessage) Tag() string { return TagUserLeft }
func (*UserLeftMessage) isBatchSub() {}

// GroupUpdateMessage is the client-bound form of a group enter or move.
type GroupUpdateMessage struct {
	GroupDescriptor
}

func (*GroupUpdateMessage) Tag() string { return TagGroupUpdate }
func (*GroupUpdateMessage) isBatchSub() {}

// GroupDeleteMessage is the client-bound form of a group leave.
type GroupDeleteMessage struct {
	GroupID int32 `json:"groupId"`
}

func (*GroupDeleteMessage) Tag() string { return TagGroupDelete }
func (*GroupDeleteMessage) isBatchSub() {}

// UnmarshalZoneFrame decodes one frame of a zone stream. The back only ever
// sends batchToPusherMessage frames there.
func UnmarshalZoneFrame(b []byte) (*BatchToPusherMessage, error) {
	tag, data, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	if tag != TagBatchToPusher {
		return nil, unknownTagError(tag)
	}
	m := &BatchToPusherMessage{}
	if err := decodeInto(tag, data, m); err != nil {
		return nil, err
	}
	return m, nil
}

var zoneSubRegistry = map[string]func() ZoneSub{
	TagUserJoinedZone:       func() ZoneSub { return &UserJoinedZoneMessage{} },
	TagUserMoved:            func() ZoneSub { return &UserMovedMessage{} },
	TagUserLeftZone:         func() ZoneSub { return &UserLeftZoneMessage{} },
	TagGroupUpdateZone:      func() ZoneSub { return &GroupUpdateZoneMessage{} },
	TagGroupLeftZone:        func() ZoneSub { return &GroupLeftZoneMessage{} },
	TagEmoteEvent:           func() ZoneSub { return &EmoteEventMessage{} },
	TagPlayerDetailsUpdated: func() ZoneSub { return &PlayerDetailsUpdatedMessage{} },
	TagError:                func() ZoneSub { return &ErrorMessage{} },
}

// UnmarshalZoneSub decodes one zone sub-message; unknown tags come back as
// UnknownMessage and are dropped by the zone reader.
func UnmarshalZoneSub(b []byte) (ZoneSub, error) {
	tag, data, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	newMsg, ok := zoneSubRegistry[tag]
	if !ok {
		return &UnknownMessage{MessageTag: tag, Data: data}, nil
	}
	m := newMsg()
	if err := decodeInto(tag, data, m); err != nil {
		return nil, err
	}
	return m, nil
}

var batchSubRegistry = map[string]func() BatchSub{
	TagUserJoined:           func() BatchSub { return &UserJoinedMessage{} },
	TagUserMoved:            func() BatchSub { return &UserMovedMessage{} },
	TagUserLeft:             func() BatchSub { return &UserLeftMessage{} },
	TagGroupUpdate:          func() BatchSub { return &GroupUpdateMessage{} },
	TagGroupDelete:          func() BatchSub { return &GroupDeleteMessage{} },
	TagEmoteEvent:           func() BatchSub { return &EmoteEventMessage{} },
	TagPlayerDetailsUpdated: func() BatchSub { return &PlayerDetailsUpdatedMessage{} },
	TagVariable:             func() BatchSub { return &VariableMessage{} },
	TagError:                func() BatchSub { return &ErrorMessage{} },
}

// UnmarshalBatchSub decodes one client-bound batch sub-message.
func UnmarshalBatchSub(b []byte) (BatchSub, error) {
	tag, data, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	newMsg, ok := batchSubRegistry[tag]
	if !ok {
		return nil, unknownTagError(tag)
	}
	m := newMsg()
	if err := decodeInto(tag, data, m); err != nil {
		return nil, err
	}
	return m, nil
}
