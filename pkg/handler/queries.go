package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/sambigeara/messagecat/pkg/auth"
	"github.com/sambigeara/messagecat/pkg/db"
	"github.com/sambigeara/messagecat/pkg/types"
	"github.com/sambigeara/messagecat/pkg/wire"
)

func selector(req wire.Request) string {
	return strings.ToLower(req.Selector)
}

// one maps a single-record lookup to a response: the record, or null when
// it does not exist or the store failed.
func one[T any](s *session, op string, v T, err error, present func(T) any) (any, any, error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil, nil, nil
	case err != nil:
		return failed(s, op, err, nil)
	}
	if present != nil {
		return present(v), nil, nil
	}
	return v, nil, nil
}

func many[T any](s *session, op string, vs []T, err error) (any, any, error) {
	if err != nil {
		return failed(s, op, err, nil)
	}
	return vs, nil, nil
}

func publicUser(u types.User) any { return u.Public() }

func (h *Handler) authenticate(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	creds, err := decode[types.User](req)
	if err != nil {
		return nil, nil, err
	}

	u, err := h.deps.DB.UserByUsername(ctx, creds.Username)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return wire.Failed, nil, nil
	case err != nil:
		return failed(s, "authenticate", err, wire.Failed)
	}

	if !auth.CheckPassword(u.Password, creds.Password) {
		s.log.Debugw("authentication failed", "username", creds.Username)
		return wire.Failed, nil, nil
	}

	pub := u.Public()
	s.user = &pub
	s.log = s.log.With("user", u.UserID)
	s.log.Debug("authenticated")
	return pub, nil, nil
}

func (h *Handler) getUser(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	q, err := decode[types.User](req)
	if err != nil {
		return nil, nil, err
	}

	switch selector(req) {
	case "id":
		u, err := h.deps.DB.UserByID(ctx, q.UserID)
		return one(s, "getUser", u, err, publicUser)
	case "username":
		u, err := h.deps.DB.UserByUsername(ctx, q.Username)
		return one(s, "getUser", u, err, publicUser)
	case "displayname":
		users, err := h.deps.DB.UsersByDisplayName(ctx, q.DisplayName)
		if err != nil {
			return failed(s, "getUser", err, nil)
		}
		out := make([]types.User, len(users))
		for i, u := range users {
			out[i] = u.Public()
		}
		return out, nil, nil
	default:
		return nil, nil, errUnknownSelector
	}
}

func (h *Handler) getFriendship(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	q, err := decode[types.Friendship](req)
	if err != nil {
		return nil, nil, err
	}

	switch selector(req) {
	case "id":
		f, err := h.deps.DB.FriendshipByID(ctx, q.FriendshipID)
		return one(s, "getFriendship", f, err, nil)
	case "userid":
		fs, err := h.deps.DB.FriendshipsByUserID(ctx, q.UserID)
		return many(s, "getFriendship", fs, err)
	case "userid&friendid":
		f, err := h.deps.DB.FriendshipBetween(ctx, q.UserID, q.FriendID)
		return one(s, "getFriendship", f, err, nil)
	default:
		return nil, nil, errUnknownSelector
	}
}

func (h *Handler) getFriendRequests(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	q, err := decode[types.FriendRequest](req)
	if err != nil {
		return nil, nil, err
	}

	switch selector(req) {
	case "senderid":
		rs, err := h.deps.DB.FriendRequestsBySender(ctx, q.SenderID)
		return many(s, "getFriendRequests", rs, err)
	case "recipientid":
		rs, err := h.deps.DB.FriendRequestsByRecipient(ctx, q.RecipientID)
		return many(s, "getFriendRequests", rs, err)
	default:
		return nil, nil, errUnknownSelector
	}
}

func (h *Handler) getChat(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	q, err := decode[types.Chat](req)
	if err != nil {
		return nil, nil, err
	}
	c, err := h.deps.DB.ChatByID(ctx, q.ChatID)
	return one(s, "getChat", c, err, nil)
}

func (h *Handler) getChatInvite(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	q, err := decode[types.ChatInvite](req)
	if err != nil {
		return nil, nil, err
	}

	switch selector(req) {
	case "id":
		i, err := h.deps.DB.ChatInviteByID(ctx, q.ChatInviteID)
		return one(s, "getChatInvite", i, err, nil)
	case "senderid":
		is, err := h.deps.DB.ChatInvitesBySender(ctx, q.SenderID)
		return many(s, "getChatInvite", is, err)
	case "recipientid":
		is, err := h.deps.DB.ChatInvitesByRecipient(ctx, q.RecipientID)
		return many(s, "getChatInvite", is, err)
	default:
		return nil, nil, errUnknownSelector
	}
}

// getPublicKey never releases private key material.
func (h *Handler) getPublicKey(_ context.Context, _ *session, req wire.Request) (any, any, error) {
	id, err := decode[int](req)
	if err != nil {
		return nil, nil, err
	}
	kp, ok := h.deps.Keys.Get(id)
	if !ok || len(kp.Public) == 0 {
		return nil, nil, nil
	}
	return kp.PublicOnly(), nil, nil
}

func (h *Handler) getMessageQueue(_ context.Context, _ *session, req wire.Request) (any, any, error) {
	chatID, err := decode[int](req)
	if err != nil {
		return nil, nil, err
	}
	q, ok := h.deps.Messages.Get(chatID)
	if !ok {
		return nil, nil, nil
	}
	return q, nil, nil
}
