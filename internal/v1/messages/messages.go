// Package messages defines the tagged message tree shared by the front
// WebSocket protocol and the back gRPC streams. Every frame travels inside a
// JSON envelope of the form {"message": "<tag>", "data": {...}}; the tag
// strings are part of the wire contract and must not change.
package messages

import "strings"

// AvailabilityStatus mirrors the numeric status enum used by clients.
// Zero means "unchanged" and is never broadcast.
type AvailabilityStatus int32

const (
	AvailabilityStatusUnchanged AvailabilityStatus = iota
	AvailabilityStatusOnline
	AvailabilityStatusSilent
	AvailabilityStatusAway
	AvailabilityStatusJitsi
	AvailabilityStatusBBB
	AvailabilityStatusDenyProximityMeeting
	AvailabilityStatusSpeaker
	AvailabilityStatusBusy
	AvailabilityStatusDoNotDisturb
	AvailabilityStatusBackInAMoment
)

// CharacterTexture identifies one layer of a user's avatar.
type CharacterTexture struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// SpaceUser is the canonical record of one user inside a space. The pusher
// mutates it only through field-mask merges so that partial updates from the
// back and from clients compose deterministically.
type SpaceUser struct {
	ID                 int32              `json:"id"`
	UUID               string             `json:"uuid"`
	Name               string             `json:"name"`
	PlayURI            string             `json:"playUri"`
	Color              string             `json:"color,omitempty"`
	RoomName           string             `json:"roomName,omitempty"`
	IsLogged           bool               `json:"isLogged"`
	AvailabilityStatus AvailabilityStatus `json:"availabilityStatus"`
	Tags               []string           `json:"tags"`
	CameraState        bool               `json:"cameraState"`
	MicrophoneState    bool               `json:"microphoneState"`
	ScreenSharingState bool               `json:"screenSharingState"`
	MegaphoneState     bool               `json:"megaphoneState"`
	ChatID             string             `json:"chatID,omitempty"`
	VisitCardURL       string             `json:"visitCardUrl,omitempty"`
	CharacterTextures  []CharacterTexture `json:"characterTextures,omitempty"`
}

// Clone returns a deep copy so that per-space records never alias the
// client's canonical record.
func (u *SpaceUser) Clone() *SpaceUser {
	if u == nil {
		return nil
	}
	cp := *u
	if u.Tags != nil {
		cp.Tags = append([]string(nil), u.Tags...)
	}
	if u.CharacterTextures != nil {
		cp.CharacterTextures = append([]CharacterTexture(nil), u.CharacterTextures...)
	}
	return &cp
}

// HasTag reports whether the user carries the given tag.
func (u *SpaceUser) HasTag(tag string) bool {
	for _, t := range u.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// FilterKind selects the predicate a SpaceFilter applies.
type FilterKind string

const (
	FilterEverybody    FilterKind = "everybody"
	FilterNameContains FilterKind = "nameContains"
	FilterTag          FilterKind = "tag"
)

// SpaceFilter restricts which space users a watcher sees. A watcher with no
// filters sees everyone; with filters, a user is visible when any filter
// matches.
type SpaceFilter struct {
	Name  string     `json:"filterName"`
	Kind  FilterKind `json:"kind"`
	Value string     `json:"value,omitempty"`
}

// Matches reports whether the filter admits the given user.
func (f SpaceFilter) Matches(u *SpaceUser) bool {
	if u == nil {
		return false
	}
	switch f.Kind {
	case FilterEverybody:
		return true
	case FilterNameContains:
		return strings.Contains(strings.ToLower(u.Name), strings.ToLower(f.Value))
	case FilterTag:
		return u.HasTag(f.Value)
	default:
		return false
	}
}

// PositionMessage is a user position on the map.
type PositionMessage struct {
	X         int32  `json:"x"`
	Y         int32  `json:"y"`
	Direction string `json:"direction,omitempty"`
	Moving    bool   `json:"moving,omitempty"`
}

// PointMessage is a bare coordinate, used for group centers.
type PointMessage struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

// Zone identifies one cell of the fixed map grid.
type Zone struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

// UserDescriptor is the pusher-side mirror of a user inside a zone, built
// from userJoinedZoneMessage frames and kept current by moves and detail
// updates.
type UserDescriptor struct {
	UserID             int32              `json:"userId"`
	UserUUID           string             `json:"userUuid,omitempty"`
	Name               string             `json:"name"`
	Position           PositionMessage    `json:"position"`
	AvailabilityStatus AvailabilityStatus `json:"availabilityStatus,omitempty"`
	VisitCardURL       string             `json:"visitCardUrl,omitempty"`
	CharacterTextures  []CharacterTexture `json:"characterTextures,omitempty"`
}

// GroupDescriptor is the pusher-side mirror of a proximity group inside a
// zone.
type GroupDescriptor struct {
	GroupID   int32        `json:"groupId"`
	Position  PointMessage `json:"position"`
	GroupSize int32        `json:"groupSize,omitempty"`
	Locked    bool         `json:"locked,omitempty"`
}

// Member is an admin-side directory record returned by member queries.
type Member struct {
	UUID         string `json:"uuid"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	VisitCardURL string `json:"visitCardUrl,omitempty"`
	ChatID       string `json:"chatID,omitempty"`
}

// ChatMember is the lighter record returned by world chat member queries.
type ChatMember struct {
	UUID   string   `json:"uuid"`
	Name   string   `json:"wokaName"`
	ChatID string   `json:"chatId,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}
