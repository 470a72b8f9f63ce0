package wire

import (
	"encoding/json"

	"github.com/sambigeara/messagecat/pkg/types"
)

type RequestType int

const (
	TypeUnknown RequestType = iota
	TypeAuthenticate
	TypeGetUser
	TypeGetFriendship
	TypeGetFriendRequests
	TypeGetChat
	TypeGetChatInvite
	TypeGetPublicKey
	TypeGetMessageQueue
	TypeAddUser
	TypeAddChat
	TypeAddListenRule
	TypeRemoveListenRule
	TypeAcceptFriendRequest
	TypeDeclineFriendRequest
	TypeAcceptChatInvite
	TypeDeclineChatInvite
	TypeSendMessage
	TypeSendFriendRequest
	TypeSendChatInvite
)

var typeNames = map[RequestType]string{
	TypeAuthenticate:         "Authenticate",
	TypeGetUser:              "GetUser",
	TypeGetFriendship:        "GetFriendship",
	TypeGetFriendRequests:    "GetFriendRequests",
	TypeGetChat:              "GetChat",
	TypeGetChatInvite:        "GetChatInvite",
	TypeGetPublicKey:         "GetPublicKey",
	TypeGetMessageQueue:      "GetMessageQueue",
	TypeAddUser:              "AddUser",
	TypeAddChat:              "AddChat",
	TypeAddListenRule:        "AddListenRule",
	TypeRemoveListenRule:     "RemoveListenRule",
	TypeAcceptFriendRequest:  "AcceptFriendRequest",
	TypeDeclineFriendRequest: "DeclineFriendRequest",
	TypeAcceptChatInvite:     "AcceptChatInvite",
	TypeDeclineChatInvite:    "DeclineChatInvite",
	TypeSendMessage:          "SendMessage",
	TypeSendFriendRequest:    "SendFriendRequest",
	TypeSendChatInvite:       "SendChatInvite",
}

var typesByName = func() map[string]RequestType {
	m := make(map[string]RequestType, len(typeNames))
	for t, n := range typeNames {
		m[n] = t
	}
	return m
}()

func ParseRequestType(s string) RequestType {
	return typesByName[s]
}

func (t RequestType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "Unknown"
}

func (t RequestType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON maps unrecognised names to TypeUnknown rather than failing,
// so a newer client's request still decodes and can be answered with null.
func (t *RequestType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = ParseRequestType(s)
	return nil
}

// Request is the decrypted envelope of every client message. Notifications
// pushed to listeners carry the triggering request plus the matched rule id.
type Request struct {
	Data      json.RawMessage `json:"data,omitempty"`
	KeyPair   *types.KeyPair  `json:"keyPair,omitempty"`
	Selector  string          `json:"selector,omitempty"`
	Type      RequestType     `json:"type"`
	TriggerID int64           `json:"triggerID,omitempty"`
}

func NewRequest(t RequestType, data any) (Request, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Request{}, err
	}
	return Request{Type: t, Data: b}, nil
}

const (
	Done   = "done"
	Failed = "failed"
)

var NullResponse = json.RawMessage(`null`)
