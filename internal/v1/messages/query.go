package messages

import "encoding/json"

// Query kinds answered by the gateway itself. Every other kind is forwarded
// verbatim to the room's back connection.
const (
	TagRoomTagsQuery          = "roomTagsQuery"
	TagEmbeddableWebsiteQuery = "embeddableWebsiteQuery"
	TagRoomsFromSameWorld     = "roomsFromSameWorldQuery"
	TagSearchMemberQuery      = "searchMemberQuery"
	TagSearchTagsQuery        = "searchTagsQuery"
	TagGetMemberQuery         = "getMemberQuery"
	TagChatMembersQuery       = "chatMembersQuery"
	TagOauthRefreshTokenQuery = "oauthRefreshTokenQuery"
)

const (
	TagRoomTagsAnswer           = "roomTagsAnswer"
	TagEmbeddableWebsiteAnswer  = "embeddableWebsiteAnswer"
	TagRoomsFromSameWorldAnswer = "roomsFromSameWorldAnswer"
	TagSearchMemberAnswer       = "searchMemberAnswer"
	TagSearchTagsAnswer         = "searchTagsAnswer"
	TagGetMemberAnswer          = "getMemberAnswer"
	TagChatMembersAnswer        = "chatMembersAnswer"
	TagOauthRefreshTokenAnswer  = "oauthRefreshTokenAnswer"
)

// Query is the payload of a QueryMessage.
type Query interface {
	Message
	isQuery()
}

// Answer is the payload of an AnswerMessage.
type Answer interface {
	Message
	isAnswer()
}

// QueryMessage carries a request/response query from a client. The ID is
// chosen by the client and echoed on the answer.
type QueryMessage struct {
	ID    int32
	Query Query
}

func (*QueryMessage) Tag() string       { return TagQuery }
func (*QueryMessage) isClientToServer() {}
func (*QueryMessage) isRoomToBack()     {}

func (m *QueryMessage) MarshalJSON() ([]byte, error) {
	query, err := Marshal(m.Query)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ID    int32           `json:"id"`
		Query json.RawMessage `json:"query"`
	}{m.ID, query})
}

func (m *QueryMessage) UnmarshalJSON(b []byte) error {
	var wire struct {
		ID    int32           `json:"id"`
		Query json.RawMessage `json:"query"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	query, err := UnmarshalQuery(wire.Query)
	if err != nil {
		return err
	}
	m.ID = wire.ID
	m.Query = query
	return nil
}

// AnswerMessage carries the reply to a QueryMessage, matched by ID.
type AnswerMessage struct {
	ID     int32
	Answer Answer
}

func (*AnswerMessage) Tag() string       { return TagAnswer }
func (*AnswerMessage) isServerToClient() {}
func (*AnswerMessage) isRoomFromBack()   {}

func (m *AnswerMessage) MarshalJSON() ([]byte, error) {
	answer, err := Marshal(m.Answer)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ID     int32           `json:"id"`
		Answer json.RawMessage `json:"answer"`
	}{m.ID, answer})
}

func (m *AnswerMessage) UnmarshalJSON(b []byte) error {
	var wire struct {
		ID     int32           `json:"id"`
		Answer json.RawMessage `json:"answer"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	answer, err := UnmarshalAnswer(wire.Answer)
	if err != nil {
		return err
	}
	m.ID = wire.ID
	m.Answer = answer
	return nil
}

// RoomTagsQuery asks for the tags granting access to the current room.
type RoomTagsQuery struct{}

func (*RoomTagsQuery) Tag() string { return TagRoomTagsQuery }
func (*RoomTagsQuery) isQuery()    {}

type RoomTagsAnswer struct {
	Tags []string `json:"tags"`
}

func (*RoomTagsAnswer) Tag() string { return TagRoomTagsAnswer }
func (*RoomTagsAnswer) isAnswer()   {}

// EmbeddableWebsiteQuery asks whether a URL may be shown inside an iframe.
type EmbeddableWebsiteQuery struct {
	URL string `json:"url"`
}

func (*EmbeddableWebsiteQuery) Tag() string { return TagEmbeddableWebsiteQuery }
func (*EmbeddableWebsiteQuery) isQuery()    {}

type EmbeddableWebsiteAnswer struct {
	URL        string `json:"url"`
	State      bool   `json:"state"`
	Embeddable bool   `json:"embeddable"`
	Message    string `json:"message,omitempty"`
}

func (*EmbeddableWebsiteAnswer) Tag() string { return TagEmbeddableWebsiteAnswer }
func (*EmbeddableWebsiteAnswer) isAnswer()   {}

// RoomsFromSameWorldQuery asks for the sibling rooms of the current world.
type RoomsFromSameWorldQuery struct{}

func (*RoomsFromSameWorldQuery) Tag() string { return TagRoomsFromSameWorld }
func (*RoomsFromSameWorldQuery) isQuery()    {}

type ShortMapDescription struct {
	Name     string `json:"name"`
	RoomURL  string `json:"roomUrl"`
	WamURL   string `json:"wamUrl,omitempty"`
	ThumbURL string `json:"thumbUrl,omitempty"`
}

type RoomsFromSameWorldAnswer struct {
	Rooms []ShortMapDescription `json:"rooms"`
}

func (*RoomsFromSameWorldAnswer) Tag() string { return TagRoomsFromSameWorldAnswer }
func (*RoomsFromSameWorldAnswer) isAnswer()   {}

// SearchMemberQuery looks up world members by display name.
type SearchMemberQuery struct {
	SearchText string `json:"searchText"`
}

func (*SearchMemberQuery) Tag() string { return TagSearchMemberQuery }
func (*SearchMemberQuery) isQuery()    {}

type SearchMemberAnswer struct {
	Members []Member `json:"members"`
}

func (*SearchMemberAnswer) Tag() string { return TagSearchMemberAnswer }
func (*SearchMemberAnswer) isAnswer()   {}

// SearchTagsQuery looks up member tags by prefix.
type SearchTagsQuery struct {
	SearchText string `json:"searchText"`
}

func (*SearchTagsQuery) Tag() string { return TagSearchTagsQuery }
func (*SearchTagsQuery) isQuery()    {}

type SearchTagsAnswer struct {
	Tags []string `json:"tags"`
}

func (*SearchTagsAnswer) Tag() string { return TagSearchTagsAnswer }
func (*SearchTagsAnswer) isAnswer()   {}

// GetMemberQuery fetches one member by UUID.
type GetMemberQuery struct {
	UUID string `json:"uuid"`
}

func (*GetMemberQuery) Tag() string { return TagGetMemberQuery }
func (*GetMemberQuery) isQuery()    {}

type GetMemberAnswer struct {
	Member *Member `json:"member"`
}

func (*GetMemberAnswer) Tag() string { return TagGetMemberAnswer }
func (*GetMemberAnswer) isAnswer()   {}

// ChatMembersQuery pages through the chat member list of the world.
type ChatMembersQuery struct {
	SearchText string `json:"searchText"`
	Page       int32  `json:"page"`
}

func (*ChatMembersQuery) Tag() string { return TagChatMembersQuery }
func (*ChatMembersQuery) isQuery()    {}

type ChatMembersAnswer struct {
	Members []ChatMember `json:"members"`
	Total   int32        `json:"total"`
}

func (*ChatMembersAnswer) Tag() string { return TagChatMembersAnswer }
func (*ChatMembersAnswer) isAnswer()   {}

// OauthRefreshTokenQuery exchanges a refresh token for a fresh access token.
type OauthRefreshTokenQuery struct {
	Token string `json:"token"`
}

func (*OauthRefreshTokenQuery) Tag() string { return TagOauthRefreshTokenQuery }
func (*OauthRefreshTokenQuery) isQuery()    {}

type OauthRefreshTokenAnswer struct {
	Token   string `json:"token"`
	Message string `json:"message,omitempty"`
}

func (*OauthRefreshTokenAnswer) Tag() string { return TagOauthRefreshTokenAnswer }
func (*OauthRefreshTokenAnswer) isAnswer()   {}

var queryRegistry = map[string]func() Query{
	TagRoomTagsQuery:          func() Query { return &RoomTagsQuery{} },
	TagEmbeddableWebsiteQuery: func() Query { return &EmbeddableWebsiteQuery{} },
	TagRoomsFromSameWorld:     func() Query { return &RoomsFromSameWorldQuery{} },
	TagSearchMemberQuery:      func() Query { return &SearchMemberQuery{} },
	TagSearchTagsQuery:        func() Query { return &SearchTagsQuery{} },
	TagGetMemberQuery:         func() Query { return &GetMemberQuery{} },
	TagChatMembersQuery:       func() Query { return &ChatMembersQuery{} },
	TagOauthRefreshTokenQuery: func() Query { return &OauthRefreshTokenQuery{} },
}

// UnmarshalQuery decodes a query payload. Unknown kinds come back as
// UnknownMessage so the caller can forward them untouched.
func UnmarshalQuery(b []byte) (Query, error) {
	tag, data, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	newMsg, ok := queryRegistry[tag]
	if !ok {
		return &UnknownMessage{MessageTag: tag, Data: data}, nil
	}
	m := newMsg()
	if err := decodeInto(tag, data, m); err != nil {
		return nil, err
	}
	return m, nil
}

var answerRegistry = map[string]func() Answer{
	TagRoomTagsAnswer:           func() Answer { return &RoomTagsAnswer{} },
	TagEmbeddableWebsiteAnswer:  func() Answer { return &EmbeddableWebsiteAnswer{} },
	TagRoomsFromSameWorldAnswer: func() Answer { return &RoomsFromSameWorldAnswer{} },
	TagSearchMemberAnswer:       func() Answer { return &SearchMemberAnswer{} },
	TagSearchTagsAnswer:         func() Answer { return &SearchTagsAnswer{} },
	TagGetMemberAnswer:          func() Answer { return &GetMemberAnswer{} },
	TagChatMembersAnswer:        func() Answer { return &ChatMembersAnswer{} },
	TagOauthRefreshTokenAnswer:  func() Answer { return &OauthRefreshTokenAnswer{} },
	TagError:                    func() Answer { return &ErrorMessage{} },
}

// UnmarshalAnswer decodes an answer payload. Unknown kinds come back as
// UnknownMessage so back-originated answers reach the client untouched.
func UnmarshalAnswer(b []byte) (Answer, error) {
	tag, data, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	newMsg, ok := answerRegistry[tag]
	if !ok {
		return &UnknownMessage{MessageTag: tag, Data: data}, nil
	}
	m := newMsg()
	if err := decodeInto(tag, data, m); err != nil {
		return nil, err
	}
	return m, nil
}
