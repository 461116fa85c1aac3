package types

import (
	"context"

	"github.com/gridlands/pusher/internal/v1/auth"
	"github.com/gridlands/pusher/internal/v1/messages"
)

// --- Core Domain Types ---

// ClientIdType represents a unique identifier for a client connection.
type ClientIdType string

// RoomIdType is the full room URL, e.g. "https://play.example.com/@/org/world/room".
type RoomIdType string

// SpaceNameType is a fully qualified space name, e.g. "world/megaphone".
type SpaceNameType string

// BackIdType is the index of a back server in the configured pool.
type BackIdType int

// DisplayNameType represents the human-readable name for a client.
type DisplayNameType string

// --- Shared Interfaces ---

// TokenValidator defines the interface for JWT token authentication services.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// RoomStream is one client's bidirectional conversation with the back server
// that owns the client's room.
type RoomStream interface {
	Send(msg messages.RoomToBack) error
	Recv() (messages.RoomFromBack, error)
	Close() error
}

// SpaceStream is the single shared conversation with one back server carrying
// every space that hashes to it.
type SpaceStream interface {
	Send(msg messages.SpaceToBack) error
	Recv() (messages.SpaceFromBack, error)
	Close() error
}

// ZoneStream delivers the back's event batches for one (room, zone) cell.
type ZoneStream interface {
	Recv() (*messages.BatchToPusherMessage, error)
	Close() error
}

// ZoneDialer opens zone subscriptions. Split out of BackProvider so the room
// package only sees the one call it needs.
type ZoneDialer interface {
	ListenZone(ctx context.Context, roomID RoomIdType, zone messages.Zone) (ZoneStream, error)
}

// BackProvider defines the interface for the back server pool.
type BackProvider interface {
	ZoneDialer
	// Index maps a routing key onto a back id; stable for the process lifetime.
	Index(key string) BackIdType
	JoinRoom(ctx context.Context, roomID RoomIdType) (RoomStream, error)
	WatchSpace(ctx context.Context, backId BackIdType) (SpaceStream, error)
	SendAdminMessage(ctx context.Context, roomID RoomIdType, msg *messages.AdminMessage) error
	Ban(ctx context.Context, roomID RoomIdType, msg *messages.BanMessage) error
	SendAdminMessageToRoom(ctx context.Context, msg *messages.AdminRoomMessage) error
}

// AdminAPI defines the interface for the admin REST service. Every call may
// fail when the circuit breaker is open; callers degrade per method.
type AdminAPI interface {
	ReportPlayer(ctx context.Context, reportedUserUUID, comment, reporterUUID, roomURL string) error
	BanUserByUUID(ctx context.Context, uuidToBan, playURI, name, message, byUserEmail string) error
	GetTagsList(ctx context.Context, roomURL string) ([]string, error)
	GetUrlRoomsFromSameWorld(ctx context.Context, roomURL string) ([]messages.ShortMapDescription, error)
	SearchMembers(ctx context.Context, playURI, searchText string) ([]messages.Member, error)
	SearchTags(ctx context.Context, playURI, searchText string) ([]string, error)
	GetMember(ctx context.Context, uuid string) (*messages.Member, error)
	GetWorldChatMembers(ctx context.Context, playURI, searchText string, page int32) ([]messages.ChatMember, int32, error)
	UpdateChatID(ctx context.Context, uuid, chatID string) error
	RefreshOauthToken(ctx context.Context, token string) (string, error)
}

// ClientConn defines the behavior required from a WebSocket client.
// This allows the session, room and space packages to interact with clients
// without depending on the transport package.
type ClientConn interface {
	GetID() ClientIdType
	GetUUID() string
	GetName() DisplayNameType
	GetTags() []string
	CanEdit() bool
	GetIPAddress() string

	GetRoomID() RoomIdType
	GetUserID() int32
	SetUserID(id int32)

	// GetSpaceUser returns a deep copy of the canonical record; mutations go
	// through ApplySpaceUserUpdate so concurrent readers never see a torn
	// record.
	GetSpaceUser() *messages.SpaceUser
	ApplySpaceUserUpdate(src *messages.SpaceUser, mask *messages.FieldMask) []string

	// GetPosition is the spawn position carried on the upgrade request; the
	// back takes over position tracking after the join.
	GetPosition() messages.PositionMessage

	GetViewport() messages.ViewportMessage
	SetViewport(v messages.ViewportMessage)

	GetRoomStream() RoomStream
	SetRoomStream(s RoomStream)

	GetSpaces() []SpaceNameType
	AddSpace(name SpaceNameType)
	RemoveSpace(name SpaceNameType)
	InSpace(name SpaceNameType) bool

	GetSpaceFilters(space SpaceNameType) []messages.SpaceFilter
	SetSpaceFilters(space SpaceNameType, filters []messages.SpaceFilter)
	ClearSpaceFilters(space SpaceNameType)

	IsDisconnecting() bool
	SetDisconnecting()

	SendMessage(msg messages.Message)
	SendError(reason string)
	Batch(sub messages.BatchSub)

	Disconnect()
	CloseWithReason(code int, reason string)
}

// AdminConn defines the behavior required from an admin console socket.
type AdminConn interface {
	GetID() ClientIdType
	Send(event string, data any)
	Disconnect()
}

// SessionRouter defines the session operations the transport layer needs.
type SessionRouter interface {
	HandleJoinRoom(ctx context.Context, client ClientConn) error
	Route(ctx context.Context, client ClientConn, frame []byte)
	HandleClientDisconnect(client ClientConn)
}

// AdminRouter defines the session operations the admin socket needs. The
// socket is authenticated with an admin token at upgrade time, so the command
// methods perform no further authorization.
type AdminRouter interface {
	HandleAdminRoom(ctx context.Context, admin AdminConn, roomID RoomIdType) error
	HandleAdminUserMessage(ctx context.Context, roomID RoomIdType, userUUID, message, messageType string) error
	HandleAdminBan(ctx context.Context, roomID RoomIdType, userUUID, message string) error
	HandleAdminDisconnect(admin AdminConn)
}
