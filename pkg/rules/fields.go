package rules

import (
	"strings"

	"github.com/sambigeara/messagecat/pkg/wire"
)

var (
	friendRequestFields = []string{"friendRequestID", "senderID", "recipientID", "timeSent"}
	chatInviteFields    = []string{"chatInviteID", "chatID", "senderID", "recipientID", "timeSent", "privateKeyID"}
)

// listenable maps each request type that can trigger notifications to the
// payload fields a rule may constrain.
var listenable = map[wire.RequestType][]string{
	wire.TypeAddChat:              {"chatID", "name", "description", "publicKeyID"},
	wire.TypeSendMessage:          {"senderID", "chatID", "timeSent", "content"},
	wire.TypeSendFriendRequest:    friendRequestFields,
	wire.TypeAcceptFriendRequest:  friendRequestFields,
	wire.TypeDeclineFriendRequest: friendRequestFields,
	wire.TypeSendChatInvite:       chatInviteFields,
	wire.TypeAcceptChatInvite:     chatInviteFields,
	wire.TypeDeclineChatInvite:    chatInviteFields,
}

// resolveField returns the payload path for name, matching case-insensitively
// so "ChatID" and "chatID" both resolve.
func resolveField(t wire.RequestType, name string) (string, bool) {
	fields, ok := listenable[t]
	if !ok {
		return "", false
	}
	for _, f := range fields {
		if strings.EqualFold(f, name) {
			return f, true
		}
	}
	return "", false
}

func Listenable(t wire.RequestType) bool {
	_, ok := listenable[t]
	return ok
}
