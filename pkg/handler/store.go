package handler

import (
	"context"

	"github.com/sambigeara/messagecat/pkg/types"
)

// Store is the relational store a Handler reads and mutates.
type Store interface {
	UserByID(ctx context.Context, id int) (types.User, error)
	UserByUsername(ctx context.Context, username string) (types.User, error)
	UsersByDisplayName(ctx context.Context, prefix string) ([]types.User, error)
	AddUser(ctx context.Context, u types.User) (types.User, error)

	FriendshipByID(ctx context.Context, id int) (types.Friendship, error)
	FriendshipsByUserID(ctx context.Context, userID int) ([]types.Friendship, error)
	FriendshipBetween(ctx context.Context, userID, friendID int) (types.Friendship, error)

	FriendRequestByID(ctx context.Context, id int) (types.FriendRequest, error)
	FriendRequestsBySender(ctx context.Context, senderID int) ([]types.FriendRequest, error)
	FriendRequestsByRecipient(ctx context.Context, recipientID int) ([]types.FriendRequest, error)
	AddFriendRequest(ctx context.Context, r types.FriendRequest) (types.FriendRequest, error)
	DeleteFriendRequest(ctx context.Context, id int) error
	AcceptFriendRequest(ctx context.Context, r types.FriendRequest, now int64) (bool, error)

	ChatByID(ctx context.Context, id int) (types.Chat, error)
	ChatByPublicKeyID(ctx context.Context, keyID int) (types.Chat, error)
	AddChat(ctx context.Context, c types.Chat) (types.Chat, error)
	DeleteChat(ctx context.Context, id int) error

	ChatInviteByID(ctx context.Context, id int) (types.ChatInvite, error)
	ChatInvitesBySender(ctx context.Context, senderID int) ([]types.ChatInvite, error)
	ChatInvitesByRecipient(ctx context.Context, recipientID int) ([]types.ChatInvite, error)
	ChatInvitesUsingKey(ctx context.Context, keyID int) (int, error)
	AddChatInvite(ctx context.Context, i types.ChatInvite) (types.ChatInvite, error)
	DeleteChatInvite(ctx context.Context, id int) error
}
