package messages

// Payloads of the unary RoomManager RPCs. These travel as bare JSON bodies,
// not inside the {"message","data"} envelope.

// AdminMessage delivers an admin notice to one user in one room.
type AdminMessage struct {
	Message       string `json:"message"`
	RoomID        string `json:"roomId"`
	RecipientUUID string `json:"recipientUuid"`
	Type          string `json:"type"`
}

// BanMessage bans one user from one room.
type BanMessage struct {
	Message       string `json:"message"`
	Type          string `json:"type"`
	RoomID        string `json:"roomId"`
	RecipientUUID string `json:"recipientUuid"`
}

// AdminRoomMessage delivers an admin notice to every user of one room.
type AdminRoomMessage struct {
	Message string `json:"message"`
	RoomID  string `json:"roomId"`
	Type    string `json:"type"`
}

// EmptyMessage is the reply of the unary RPCs.
type EmptyMessage struct{}
