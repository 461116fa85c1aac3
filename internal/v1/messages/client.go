package messages

import "encoding/json"

// ClientToServer frames arrive on the front WebSocket. Decoding is strict:
// a tag outside this family is a protocol violation by the client.
type ClientToServer interface {
	Message
	isClientToServer()
}

// UserMovesMessage reports a position change together with the viewport the
// client sees, so the zone index can follow the camera.
type UserMovesMessage struct {
	Position PositionMessage `json:"position"`
	Viewport ViewportMessage `json:"viewport"`
}

func (*UserMovesMessage) Tag() string       { return TagUserMoves }
func (*UserMovesMessage) isClientToServer() {}
func (*UserMovesMessage) isRoomToBack()     {}

// ViewportMessage is the visible rectangle in map pixels.
type ViewportMessage struct {
	Left   int32 `json:"left"`
	Top    int32 `json:"top"`
	Right  int32 `json:"right"`
	Bottom int32 `json:"bottom"`
}

func (*ViewportMessage) Tag() string       { return TagViewport }
func (*ViewportMessage) isClientToServer() {}

// SetPlayerDetailsMessage carries partial player detail changes. Absent
// fields mean "unchanged".
type SetPlayerDetailsMessage struct {
	AvailabilityStatus AvailabilityStatus `json:"availabilityStatus,omitempty"`
	ChatID             string             `json:"chatID,omitempty"`
	OutlineColor       *uint32            `json:"outlineColor,omitempty"`
	ShowVoiceIndicator *bool              `json:"showVoiceIndicator,omitempty"`
}

func (*SetPlayerDetailsMessage) Tag() string       { return TagSetPlayerDetails }
func (*SetPlayerDetailsMessage) isClientToServer() {}
func (*SetPlayerDetailsMessage) isRoomToBack()     {}

// JoinSpaceMessage enrolls the sender in a space. On the back stream it is a
// pure subscribe: the pusher sends it once per space and publishes user
// presence separately with addSpaceUserMessage.
type JoinSpaceMessage struct {
	SpaceName string `json:"spaceName"`
}

func (*JoinSpaceMessage) Tag() string       { return TagJoinSpace }
func (*JoinSpaceMessage) isClientToServer() {}
func (*JoinSpaceMessage) isSpaceToBack()    {}

// LeaveSpaceMessage withdraws the sender from a space. UserID is filled by
// the pusher on the way to the back.
type LeaveSpaceMessage struct {
	SpaceName string `json:"spaceName"`
	UserID    int32  `json:"userId,omitempty"`
}

func (*LeaveSpaceMessage) Tag() string       { return TagLeaveSpace }
func (*LeaveSpaceMessage) isClientToServer() {}
func (*LeaveSpaceMessage) isSpaceToBack()    {}

// UpdateSpaceMetadataMessage replaces or extends space metadata. Metadata is
// a JSON object serialized as a string, exactly as it travels on the wire.
type UpdateSpaceMetadataMessage struct {
	SpaceName string `json:"spaceName"`
	Metadata  string `json:"metadata"`
}

func (*UpdateSpaceMetadataMessage) Tag() string       { return TagUpdateSpaceMetadata }
func (*UpdateSpaceMetadataMessage) isClientToServer() {}
func (*UpdateSpaceMetadataMessage) isSpaceToBack()    {}
func (*UpdateSpaceMetadataMessage) isSpaceFromBack()  {}
func (*UpdateSpaceMetadataMessage) isServerToClient() {}

// AddSpaceFilterMessage installs a visibility filter for the sender.
type AddSpaceFilterMessage struct {
	SpaceName string      `json:"spaceName"`
	Filter    SpaceFilter `json:"filter"`
}

func (*AddSpaceFilterMessage) Tag() string       { return TagAddSpaceFilter }
func (*AddSpaceFilterMessage) isClientToServer() {}

// UpdateSpaceFilterMessage replaces an installed filter, matched by name.
type UpdateSpaceFilterMessage struct {
	SpaceName string      `json:"spaceName"`
	Filter    SpaceFilter `json:"filter"`
}

func (*UpdateSpaceFilterMessage) Tag() string       { return TagUpdateSpaceFilter }
func (*UpdateSpaceFilterMessage) isClientToServer() {}

// RemoveSpaceFilterMessage uninstalls a filter by name.
type RemoveSpaceFilterMessage struct {
	SpaceName  string `json:"spaceName"`
	FilterName string `json:"filterName"`
}

func (*RemoveSpaceFilterMessage) Tag() string       { return TagRemoveSpaceFilter }
func (*RemoveSpaceFilterMessage) isClientToServer() {}

// PublicEvent is an opaque payload fanned out to every watcher of a space.
// SenderUserID is stamped by the pusher, never trusted from the client.
type PublicEvent struct {
	SpaceName    string          `json:"spaceName"`
	SenderUserID int32           `json:"senderUserId,omitempty"`
	SpaceEvent   json.RawMessage `json:"spaceEvent"`
}

func (*PublicEvent) Tag() string       { return TagPublicEvent }
func (*PublicEvent) isClientToServer() {}
func (*PublicEvent) isSpaceToBack()    {}
func (*PublicEvent) isSpaceFromBack()  {}
func (*PublicEvent) isServerToClient() {}

// PrivateEvent is an opaque payload addressed to a single space user.
type PrivateEvent struct {
	SpaceName      string          `json:"spaceName"`
	SenderUserID   int32           `json:"senderUserId,omitempty"`
	ReceiverUserID int32           `json:"receiverUserId"`
	SpaceEvent     json.RawMessage `json:"spaceEvent"`
}

func (*PrivateEvent) Tag() string       { return TagPrivateEvent }
func (*PrivateEvent) isClientToServer() {}
func (*PrivateEvent) isSpaceToBack()    {}
func (*PrivateEvent) isSpaceFromBack()  {}
func (*PrivateEvent) isServerToClient() {}

// KickOffMessage ejects a user (by UUID) from a space. The back rebroadcasts
// it to every watching pusher, which is how the origin learns it took effect.
type KickOffMessage struct {
	SpaceName string `json:"spaceName"`
	UserID    string `json:"userId"`
}

func (*KickOffMessage) Tag() string       { return TagKickOff }
func (*KickOffMessage) isClientToServer() {}
func (*KickOffMessage) isSpaceToBack()    {}
func (*KickOffMessage) isSpaceFromBack()  {}
func (*KickOffMessage) isServerToClient() {}

// EmotePromptMessage asks the back to play an emote for the sender.
type EmotePromptMessage struct {
	Emote string `json:"emote"`
}

func (*EmotePromptMessage) Tag() string       { return TagEmotePrompt }
func (*EmotePromptMessage) isClientToServer() {}
func (*EmotePromptMessage) isRoomToBack()     {}

// VariableMessage sets or reports a shared room variable.
type VariableMessage struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

func (*VariableMessage) Tag() string       { return TagVariable }
func (*VariableMessage) isClientToServer() {}
func (*VariableMessage) isRoomToBack()     {}
func (*VariableMessage) isRoomFromBack()   {}
func (*VariableMessage) isServerToClient() {}
func (*VariableMessage) isBatchSub()       {}

// EditMapCommandMessage carries a map edit command; only clients whose token
// grants canEdit may issue one.
type EditMapCommandMessage struct {
	ID             string          `json:"id"`
	EditMapMessage json.RawMessage `json:"editMapMessage"`
}

func (*EditMapCommandMessage) Tag() string       { return TagEditMapCommand }
func (*EditMapCommandMessage) isClientToServer() {}
func (*EditMapCommandMessage) isRoomToBack()     {}

// ReportPlayerMessage files an abuse report against another player.
type ReportPlayerMessage struct {
	ReportedUserUUID string `json:"reportedUserUuid"`
	ReportComment    string `json:"reportComment"`
}

func (*ReportPlayerMessage) Tag() string       { return TagReportPlayer }
func (*ReportPlayerMessage) isClientToServer() {}

// PlayGlobalMessage broadcasts an announcement to the sender's room, or to
// every room of the world when BroadcastToWorld is set. Requires the "admin"
// tag.
type PlayGlobalMessage struct {
	Type             string `json:"type"`
	Content          string `json:"content"`
	BroadcastToWorld bool   `json:"broadcastToWorld,omitempty"`
}

const TagPlayGlobal = "playGlobalMessage"

func (*PlayGlobalMessage) Tag() string       { return TagPlayGlobal }
func (*PlayGlobalMessage) isClientToServer() {}

// SendUserMessage delivers an admin notice to one player, wherever they are in
// the world. Requires the "admin" tag.
type SendUserMessage struct {
	UserUUID string `json:"userUuid"`
	Message  string `json:"message"`
	Type     string `json:"type,omitempty"`
}

func (*SendUserMessage) Tag() string       { return TagSendUser }
func (*SendUserMessage) isClientToServer() {}

// BanUserMessage ejects a player from the room and records the ban. Requires
// the "admin" tag.
type BanUserMessage struct {
	UserUUID string `json:"userUuid"`
	Name     string `json:"name,omitempty"`
	Message  string `json:"message"`
}

func (*BanUserMessage) Tag() string       { return TagBanUser }
func (*BanUserMessage) isClientToServer() {}

var clientToServerRegistry = map[string]func() ClientToServer{
	TagUserMoves:           func() ClientToServer { return &UserMovesMessage{} },
	TagViewport:            func() ClientToServer { return &ViewportMessage{} },
	TagSetPlayerDetails:    func() ClientToServer { return &SetPlayerDetailsMessage{} },
	TagJoinSpace:           func() ClientToServer { return &JoinSpaceMessage{} },
	TagLeaveSpace:          func() ClientToServer { return &LeaveSpaceMessage{} },
	TagUpdateSpaceMetadata: func() ClientToServer { return &UpdateSpaceMetadataMessage{} },
	TagUpdateSpaceUser:     func() ClientToServer { return &UpdateSpaceUserMessage{} },
	TagAddSpaceFilter:      func() ClientToServer { return &AddSpaceFilterMessage{} },
	TagUpdateSpaceFilter:   func() ClientToServer { return &UpdateSpaceFilterMessage{} },
	TagRemoveSpaceFilter:   func() ClientToServer { return &RemoveSpaceFilterMessage{} },
	TagPublicEvent:         func() ClientToServer { return &PublicEvent{} },
	TagPrivateEvent:        func() ClientToServer { return &PrivateEvent{} },
	TagKickOff:             func() ClientToServer { return &KickOffMessage{} },
	TagEmotePrompt:         func() ClientToServer { return &EmotePromptMessage{} },
	TagVariable:            func() ClientToServer { return &VariableMessage{} },
	TagEditMapCommand:      func() ClientToServer { return &EditMapCommandMessage{} },
	TagReportPlayer:        func() ClientToServer { return &ReportPlayerMessage{} },
	TagPlayGlobal:          func() ClientToServer { return &PlayGlobalMessage{} },
	TagSendUser:            func() ClientToServer { return &SendUserMessage{} },
	TagBanUser:             func() ClientToServer { return &BanUserMessage{} },
	TagQuery:               func() ClientToServer { return &QueryMessage{} },
}

// UnmarshalClientToServer decodes one front WebSocket frame.
func UnmarshalClientToServer(b []byte) (ClientToServer, error) {
	tag, data, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	newMsg, ok := clientToServerRegistry[tag]
	if !ok {
		return nil, unknownTagError(tag)
	}
	m := newMsg()
	if err := decodeInto(tag, data, m); err != nil {
		return nil, err
	}
	return m, nil
}
