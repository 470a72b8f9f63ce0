package types

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

type User struct {
	Username           string `json:"username,omitempty"`
	Password           string `json:"password,omitempty"`
	DisplayName        string `json:"displayName,omitempty"`
	ProfilePicturePath string `json:"profilePicturePath,omitempty"`
	UserID             int    `json:"userID"`
	DateCreated        int64  `json:"dateCreated,omitempty"`
}

// Public returns a copy of u safe to send to a client.
func (u User) Public() User {
	u.Password = ""
	return u
}

type Friendship struct {
	FriendshipID    int   `json:"friendshipID"`
	UserID          int   `json:"userID"`
	FriendID        int   `json:"friendID"`
	DateEstablished int64 `json:"dateEstablished,omitempty"`
}

type FriendRequest struct {
	FriendRequestID int   `json:"friendRequestID"`
	SenderID        int   `json:"senderID"`
	RecipientID     int   `json:"recipientID"`
	TimeSent        int64 `json:"timeSent"`
}

type Chat struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	ChatID      int    `json:"chatID"`
	PublicKeyID int    `json:"publicKeyID"`
}

type ChatInvite struct {
	ChatInviteID int   `json:"chatInviteID"`
	ChatID       int   `json:"chatID"`
	SenderID     int   `json:"senderID"`
	RecipientID  int   `json:"recipientID"`
	TimeSent     int64 `json:"timeSent"`
	PrivateKeyID int   `json:"privateKeyID"`
}

type Message struct {
	Content  string `json:"content"`
	SenderID int    `json:"senderID"`
	ChatID   int    `json:"chatID"`
	TimeSent int64  `json:"timeSent"`
}

// KeyPair holds either half of an asymmetric key, or both.
type KeyPair struct {
	Public  []byte `json:"pub,omitempty"`
	Private []byte `json:"pri,omitempty"`
}

// ID derives a stable key id from the pair's contents.
func (k KeyPair) ID() int {
	d := xxhash.New()
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(k.Public))) //nolint:gosec
	_, _ = d.Write(n[:])
	_, _ = d.Write(k.Public)
	_, _ = d.Write(k.Private)
	return int(int32(d.Sum64())) //nolint:gosec
}

func (k KeyPair) PublicOnly() KeyPair {
	return KeyPair{Public: append([]byte(nil), k.Public...)}
}

func (k KeyPair) Clone() KeyPair {
	return KeyPair{
		Public:  append([]byte(nil), k.Public...),
		Private: append([]byte(nil), k.Private...),
	}
}
