package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sambigeara/messagecat/pkg/types"
)

const (
	friendshipColumns    = "friendship_id, user_id, friend_id, date_established"
	friendRequestColumns = "friend_request_id, sender_id, recipient_id, time_sent"
)

func scanFriendship(row scanner) (types.Friendship, error) {
	var f types.Friendship
	err := row.Scan(&f.FriendshipID, &f.UserID, &f.FriendID, &f.DateEstablished)
	return f, err
}

func scanFriendRequest(row scanner) (types.FriendRequest, error) {
	var r types.FriendRequest
	err := row.Scan(&r.FriendRequestID, &r.SenderID, &r.RecipientID, &r.TimeSent)
	return r, err
}

func (s *Store) FriendshipByID(ctx context.Context, id int) (types.Friendship, error) {
	return queryOne(ctx, s, scanFriendship, "SELECT "+friendshipColumns+" FROM friendships WHERE friendship_id = ?", id)
}

func (s *Store) FriendshipsByUserID(ctx context.Context, userID int) ([]types.Friendship, error) {
	return queryAll(ctx, s, scanFriendship,
		"SELECT "+friendshipColumns+" FROM friendships WHERE user_id = ? ORDER BY friendship_id", userID)
}

func (s *Store) FriendshipBetween(ctx context.Context, userID, friendID int) (types.Friendship, error) {
	return queryOne(ctx, s, scanFriendship,
		"SELECT "+friendshipColumns+" FROM friendships WHERE user_id = ? AND friend_id = ?", userID, friendID)
}

func (s *Store) FriendRequestByID(ctx context.Context, id int) (types.FriendRequest, error) {
	return queryOne(ctx, s, scanFriendRequest,
		"SELECT "+friendRequestColumns+" FROM friend_requests WHERE friend_request_id = ?", id)
}

func (s *Store) FriendRequestsBySender(ctx context.Context, senderID int) ([]types.FriendRequest, error) {
	return queryAll(ctx, s, scanFriendRequest,
		"SELECT "+friendRequestColumns+" FROM friend_requests WHERE sender_id = ? ORDER BY friend_request_id", senderID)
}

func (s *Store) FriendRequestsByRecipient(ctx context.Context, recipientID int) ([]types.FriendRequest, error) {
	return queryAll(ctx, s, scanFriendRequest,
		"SELECT "+friendRequestColumns+" FROM friend_requests WHERE recipient_id = ? ORDER BY friend_request_id", recipientID)
}

func (s *Store) FriendRequests(ctx context.Context) ([]types.FriendRequest, error) {
	return queryAll(ctx, s, scanFriendRequest,
		"SELECT "+friendRequestColumns+" FROM friend_requests ORDER BY friend_request_id")
}

func (s *Store) AddFriendRequest(ctx context.Context, r types.FriendRequest) (types.FriendRequest, error) {
	id, err := s.insert(ctx,
		"INSERT INTO friend_requests (sender_id, recipient_id, time_sent) VALUES (?, ?, ?)",
		r.SenderID, r.RecipientID, r.TimeSent)
	if err != nil {
		return types.FriendRequest{}, err
	}
	r.FriendRequestID = id
	return r, nil
}

func (s *Store) DeleteFriendRequest(ctx context.Context, id int) error {
	return s.deleteOne(ctx, "DELETE FROM friend_requests WHERE friend_request_id = ?", id)
}

// AcceptFriendRequest records a friendship in both directions and retires the
// request in one transaction. It reports false when the pair were already
// friends, in which case nothing new is inserted.
func (s *Store) AcceptFriendRequest(ctx context.Context, r types.FriendRequest, now int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	err = tx.QueryRowContext(ctx,
		"SELECT friendship_id FROM friendships WHERE user_id = ? AND friend_id = ?",
		r.SenderID, r.RecipientID).Scan(&existing)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, "DELETE FROM friend_requests WHERE friend_request_id = ?", r.FriendRequestID); err != nil {
			return false, classify(err)
		}
		return false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return false, classify(err)
	}

	for _, pair := range [][2]int{{r.SenderID, r.RecipientID}, {r.RecipientID, r.SenderID}} {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO friendships (user_id, friend_id, date_established) VALUES (?, ?, ?)",
			pair[0], pair[1], now); err != nil {
			return false, fmt.Errorf("insert friendship: %w", classify(err))
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM friend_requests WHERE friend_request_id = ?", r.FriendRequestID); err != nil {
		return false, classify(err)
	}
	return true, tx.Commit()
}
