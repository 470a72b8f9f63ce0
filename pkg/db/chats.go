package db

import (
	"context"

	"github.com/sambigeara/messagecat/pkg/types"
)

const (
	chatColumns       = "chat_id, name, description, public_key_id"
	chatInviteColumns = "chat_invite_id, chat_id, sender_id, recipient_id, time_sent, private_key_id"
)

func scanChat(row scanner) (types.Chat, error) {
	var c types.Chat
	err := row.Scan(&c.ChatID, &c.Name, &c.Description, &c.PublicKeyID)
	return c, err
}

func scanChatInvite(row scanner) (types.ChatInvite, error) {
	var i types.ChatInvite
	err := row.Scan(&i.ChatInviteID, &i.ChatID, &i.SenderID, &i.RecipientID, &i.TimeSent, &i.PrivateKeyID)
	return i, err
}

func (s *Store) ChatByID(ctx context.Context, id int) (types.Chat, error) {
	return queryOne(ctx, s, scanChat, "SELECT "+chatColumns+" FROM chats WHERE chat_id = ?", id)
}

func (s *Store) ChatByPublicKeyID(ctx context.Context, keyID int) (types.Chat, error) {
	return queryOne(ctx, s, scanChat, "SELECT "+chatColumns+" FROM chats WHERE public_key_id = ?", keyID)
}

func (s *Store) AddChat(ctx context.Context, c types.Chat) (types.Chat, error) {
	id, err := s.insert(ctx,
		"INSERT INTO chats (name, description, public_key_id) VALUES (?, ?, ?)",
		c.Name, c.Description, c.PublicKeyID)
	if err != nil {
		return types.Chat{}, err
	}
	c.ChatID = id
	return c, nil
}

func (s *Store) DeleteChat(ctx context.Context, id int) error {
	return s.deleteOne(ctx, "DELETE FROM chats WHERE chat_id = ?", id)
}

func (s *Store) ChatInviteByID(ctx context.Context, id int) (types.ChatInvite, error) {
	return queryOne(ctx, s, scanChatInvite, "SELECT "+chatInviteColumns+" FROM chat_invites WHERE chat_invite_id = ?", id)
}

func (s *Store) ChatInvitesBySender(ctx context.Context, senderID int) ([]types.ChatInvite, error) {
	return queryAll(ctx, s, scanChatInvite,
		"SELECT "+chatInviteColumns+" FROM chat_invites WHERE sender_id = ? ORDER BY chat_invite_id", senderID)
}

func (s *Store) ChatInvitesByRecipient(ctx context.Context, recipientID int) ([]types.ChatInvite, error) {
	return queryAll(ctx, s, scanChatInvite,
		"SELECT "+chatInviteColumns+" FROM chat_invites WHERE recipient_id = ? ORDER BY chat_invite_id", recipientID)
}

func (s *Store) ChatInvites(ctx context.Context) ([]types.ChatInvite, error) {
	return queryAll(ctx, s, scanChatInvite, "SELECT "+chatInviteColumns+" FROM chat_invites ORDER BY chat_invite_id")
}

func (s *Store) AddChatInvite(ctx context.Context, i types.ChatInvite) (types.ChatInvite, error) {
	id, err := s.insert(ctx,
		"INSERT INTO chat_invites (chat_id, sender_id, recipient_id, time_sent, private_key_id) VALUES (?, ?, ?, ?, ?)",
		i.ChatID, i.SenderID, i.RecipientID, i.TimeSent, i.PrivateKeyID)
	if err != nil {
		return types.ChatInvite{}, err
	}
	i.ChatInviteID = id
	return i, nil
}

func (s *Store) DeleteChatInvite(ctx context.Context, id int) error {
	return s.deleteOne(ctx, "DELETE FROM chat_invites WHERE chat_invite_id = ?", id)
}

// ChatInvitesUsingKey counts the invites that reference a stored private key.
func (s *Store) ChatInvitesUsingKey(ctx context.Context, keyID int) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_invites WHERE private_key_id = ?", keyID).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}
