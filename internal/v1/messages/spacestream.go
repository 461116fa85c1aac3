package messages

// SpaceToBack frames travel pusher→back on the shared watchSpace stream.
// Every payload names its space because one stream serves all spaces of a
// back.
type SpaceToBack interface {
	Message
	isSpaceToBack()
}

// SpaceFromBack frames travel back→pusher on the shared watchSpace stream.
type SpaceFromBack interface {
	Message
	isSpaceFromBack()
}

// PingMessage is the back's liveness probe on the space stream.
type PingMessage struct{}

func (*PingMessage) Tag() string      { return TagPing }
func (*PingMessage) isSpaceFromBack() {}

// PongMessage answers a ping.
type PongMessage struct{}

func (*PongMessage) Tag() string    { return TagPong }
func (*PongMessage) isSpaceToBack() {}

var spaceToBackRegistry = map[string]func() SpaceToBack{
	TagJoinSpace:           func() SpaceToBack { return &JoinSpaceMessage{} },
	TagLeaveSpace:          func() SpaceToBack { return &LeaveSpaceMessage{} },
	TagAddSpaceUser:        func() SpaceToBack { return &AddSpaceUserMessage{} },
	TagUpdateSpaceUser:     func() SpaceToBack { return &UpdateSpaceUserMessage{} },
	TagUpdateSpaceMetadata: func() SpaceToBack { return &UpdateSpaceMetadataMessage{} },
	TagPong:                func() SpaceToBack { return &PongMessage{} },
	TagKickOff:             func() SpaceToBack { return &KickOffMessage{} },
	TagPublicEvent:         func() SpaceToBack { return &PublicEvent{} },
	TagPrivateEvent:        func() SpaceToBack { return &PrivateEvent{} },
}

// UnmarshalSpaceToBack decodes one pusher→back space frame. Used by tests
// that stand in for a back server.
func UnmarshalSpaceToBack(b []byte) (SpaceToBack, error) {
	tag, data, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	newMsg, ok := spaceToBackRegistry[tag]
	if !ok {
		return nil, unknownTagError(tag)
	}
	m := newMsg()
	if err := decodeInto(tag, data, m); err != nil {
		return nil, err
	}
	return m, nil
}

var spaceFromBackRegistry = map[string]func() SpaceFromBack{
	TagAddSpaceUser:        func() SpaceFromBack { return &AddSpaceUserMessage{} },
	TagUpdateSpaceUser:     func() SpaceFromBack { return &UpdateSpaceUserMessage{} },
	TagRemoveSpaceUser:     func() SpaceFromBack { return &RemoveSpaceUserMessage{} },
	TagUpdateSpaceMetadata: func() SpaceFromBack { return &UpdateSpaceMetadataMessage{} },
	TagPing:                func() SpaceFromBack { return &PingMessage{} },
	TagKickOff:             func() SpaceFromBack { return &KickOffMessage{} },
	TagPublicEvent:         func() SpaceFromBack { return &PublicEvent{} },
	TagPrivateEvent:        func() SpaceFromBack { return &PrivateEvent{} },
	TagError:               func() SpaceFromBack { return &ErrorMessage{} },
}

// UnmarshalSpaceFromBack decodes one back→pusher space frame. Unknown tags
// come back as UnknownMessage; the dispatch loop logs and drops them.
func UnmarshalSpaceFromBack(b []byte) (SpaceFromBack, error) {
	tag, data, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	newMsg, ok := spaceFromBackRegistry[tag]
	if !ok {
		return &UnknownMessage{MessageTag: tag, Data: data}, nil
	}
	m := newMsg()
	if err := decodeInto(tag, data, m); err != nil {
		return nil, err
	}
	return m, nil
}
