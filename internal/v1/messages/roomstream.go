package messages

// RoomToBack frames travel pusher→back on a client's joinRoom stream.
type RoomToBack interface {
	Message
	isRoomToBack()
}

// RoomFromBack frames travel back→pusher on a client's joinRoom stream.
// Most are forwarded to the client untouched, so decoding is lenient.
type RoomFromBack interface {
	Message
	isRoomFromBack()
}

// JoinRoomMessage is the first frame on every room stream and announces one
// client to the back.
type JoinRoomMessage struct {
	RoomID             string             `json:"roomId"`
	UserUUID           string             `json:"userUuid"`
	Name               string             `json:"name"`
	IPAddress          string             `json:"ipAddress,omitempty"`
	PositionMessage    PositionMessage    `json:"positionMessage"`
	Tags               []string           `json:"tags,omitempty"`
	CharacterTextures  []CharacterTexture `json:"characterTextures,omitempty"`
	CompanionTexture   *CharacterTexture  `json:"companionTexture,omitempty"`
	VisitCardURL       string             `json:"visitCardUrl,omitempty"`
	IsLogged           bool               `json:"isLogged"`
	AvailabilityStatus AvailabilityStatus `json:"availabilityStatus,omitempty"`
	CanEdit            bool               `json:"canEdit,omitempty"`
	ChatID             string             `json:"chatID,omitempty"`
}

func (*JoinRoomMessage) Tag() string   { return TagJoinRoom }
func (*JoinRoomMessage) isRoomToBack() {}

var roomToBackRegistry = map[string]func() RoomToBack{
	TagJoinRoom:         func() RoomToBack { return &JoinRoomMessage{} },
	TagUserMoves:        func() RoomToBack { return &UserMovesMessage{} },
	TagSetPlayerDetails: func() RoomToBack { return &SetPlayerDetailsMessage{} },
	TagEmotePrompt:      func() RoomToBack { return &EmotePromptMessage{} },
	TagVariable:         func() RoomToBack { return &VariableMessage{} },
	TagEditMapCommand:   func() RoomToBack { return &EditMapCommandMessage{} },
	TagQuery:            func() RoomToBack { return &QueryMessage{} },
}

// UnmarshalRoomToBack decodes one pusher→back room frame. Used by tests that
// stand in for a back server.
func UnmarshalRoomToBack(b []byte) (RoomToBack, error) {
	tag, data, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	newMsg, ok := roomToBackRegistry[tag]
	if !ok {
		return nil, unknownTagError(tag)
	}
	m := newMsg()
	if err := decodeInto(tag, data, m); err != nil {
		return nil, err
	}
	return m, nil
}

var roomFromBackRegistry = map[string]func() RoomFromBack{
	TagRoomJoined:       func() RoomFromBack { return &RoomJoinedMessage{} },
	TagRefreshRoom:      func() RoomFromBack { return &RefreshRoomMessage{} },
	TagError:            func() RoomFromBack { return &ErrorMessage{} },
	TagAnswer:           func() RoomFromBack { return &AnswerMessage{} },
	TagWorldFullWarning: func() RoomFromBack { return &WorldFullWarningMessage{} },
	TagTeleport:         func() RoomFromBack { return &TeleportMessage{} },
	TagVariable:         func() RoomFromBack { return &VariableMessage{} },
}

// UnmarshalRoomFromBack decodes one back→pusher room frame. Unknown tags come
// back as UnknownMessage so the forward stays verbatim.
func UnmarshalRoomFromBack(b []byte) (RoomFromBack, error) {
	tag, data, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	newMsg, ok := roomFromBackRegistry[tag]
	if !ok {
		return &UnknownMessage{MessageTag: tag, Data: data}, nil
	}
	m := newMsg()
	if err := decodeInto(tag, data, m); err != nil {
		return nil, err
	}
	return m, nil
}
