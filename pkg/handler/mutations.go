package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/sambigeara/messagecat/pkg/auth"
	"github.com/sambigeara/messagecat/pkg/db"
	"github.com/sambigeara/messagecat/pkg/rules"
	"github.com/sambigeara/messagecat/pkg/store"
	"github.com/sambigeara/messagecat/pkg/types"
	"github.com/sambigeara/messagecat/pkg/wire"
)

func (h *Handler) addUser(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	u, err := decode[types.User](req)
	if err != nil {
		return nil, nil, err
	}
	if u.Username == "" || u.DisplayName == "" {
		return nil, nil, fmt.Errorf("%w: username and displayName required", errBadPayload)
	}

	hash, err := auth.HashPassword(u.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errBadPayload, err)
	}
	u.Password = hash
	u.UserID = 0
	u.DateCreated = h.nowMillis()

	created, err := h.deps.DB.AddUser(ctx, u)
	switch {
	case errors.Is(err, db.ErrConflict):
		s.log.Debugw("user already exists", "username", u.Username)
		return nil, nil, nil
	case err != nil:
		return failed(s, "addUser", err, nil)
	}
	return created.Public(), nil, nil
}

// addChat stores the chat's public key, inserts the chat and creates its
// message ring, undoing earlier steps if a later one fails. A key already
// bound to a chat is refused.
func (h *Handler) addChat(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	c, err := decode[types.Chat](req)
	if err != nil {
		return nil, nil, err
	}
	if req.KeyPair == nil || len(req.KeyPair.Public) == 0 {
		return nil, nil, fmt.Errorf("%w: missing chat public key", errBadPayload)
	}

	pub := req.KeyPair.PublicOnly()
	keyID := pub.ID()

	h.deps.Keys.LockRefs()
	defer h.deps.Keys.UnlockRefs()

	existed := h.deps.Keys.Has(keyID)
	if existed {
		other, err := h.deps.DB.ChatByPublicKeyID(ctx, keyID)
		switch {
		case err == nil:
			s.log.Debugw("chat key already in use", "key", keyID, "chat", other.ChatID)
			return nil, nil, nil
		case !errors.Is(err, db.ErrNotFound):
			return failed(s, "addChat: lookup key", err, nil)
		}
	} else if _, err := h.deps.Keys.Add(pub); err != nil {
		return failed(s, "addChat: store key", err, nil)
	}
	release := func() {
		if !existed {
			h.releaseKey(s, keyID)
		}
	}

	c.ChatID = 0
	c.PublicKeyID = keyID
	created, err := h.deps.DB.AddChat(ctx, c)
	if err != nil {
		release()
		return failed(s, "addChat", err, nil)
	}

	if err := h.deps.Messages.Create(created.ChatID); err != nil {
		if derr := h.deps.DB.DeleteChat(ctx, created.ChatID); derr != nil {
			s.log.Warnw("roll back chat", "chat", created.ChatID, "err", derr)
		}
		release()
		return failed(s, "addChat: create message queue", err, nil)
	}

	return created, created, nil
}

func (h *Handler) addListenRule(_ context.Context, s *session, req wire.Request) (any, any, error) {
	d, err := decode[rules.Descriptor](req)
	if err != nil {
		return nil, nil, err
	}

	id, err := h.deps.Rules.Register(s, d)
	if err != nil {
		s.log.Debugw("listen rule rejected", "err", err)
		return wire.Failed, nil, nil
	}
	s.log.Debugw("listen rule added", "rule", id, "type", d.Type.String())
	return id, nil, nil
}

func (h *Handler) removeListenRule(_ context.Context, s *session, req wire.Request) (any, any, error) {
	id, err := decode[int64](req)
	if err != nil {
		return nil, nil, err
	}
	if !h.deps.Rules.Unregister(id, s) {
		return wire.Failed, nil, nil
	}
	return wire.Done, nil, nil
}

// acceptFriendRequest is idempotent: accepting a request whose friendship
// already exists reports done without inserting another.
func (h *Handler) acceptFriendRequest(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	q, err := decode[types.FriendRequest](req)
	if err != nil {
		return nil, nil, err
	}

	fr, err := h.deps.DB.FriendRequestByID(ctx, q.FriendRequestID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		if q.RecipientID != s.userID() {
			return wire.Failed, nil, nil
		}
		if _, err := h.deps.DB.FriendshipBetween(ctx, q.SenderID, q.RecipientID); err == nil {
			return wire.Done, nil, nil
		}
		return wire.Failed, nil, nil
	case err != nil:
		return failed(s, "acceptFriendRequest", err, wire.Failed)
	}

	if fr.RecipientID != s.userID() {
		return wire.Failed, nil, nil
	}

	if _, err := h.deps.DB.AcceptFriendRequest(ctx, fr, h.nowMillis()); err != nil {
		return failed(s, "acceptFriendRequest", err, wire.Failed)
	}
	return wire.Done, fr, nil
}

func (h *Handler) declineFriendRequest(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	q, err := decode[types.FriendRequest](req)
	if err != nil {
		return nil, nil, err
	}

	fr, err := h.deps.DB.FriendRequestByID(ctx, q.FriendRequestID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return wire.Failed, nil, nil
	case err != nil:
		return failed(s, "declineFriendRequest", err, wire.Failed)
	}
	if fr.RecipientID != s.userID() {
		return wire.Failed, nil, nil
	}

	if err := h.deps.DB.DeleteFriendRequest(ctx, fr.FriendRequestID); err != nil {
		return failed(s, "declineFriendRequest", err, wire.Failed)
	}
	return wire.Done, fr, nil
}

func (h *Handler) acceptChatInvite(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	inv, kp, resp := h.retireChatInvite(ctx, s, req, "acceptChatInvite")
	if resp != nil {
		return resp, nil, nil
	}
	return kp, inv, nil
}

func (h *Handler) declineChatInvite(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	inv, _, resp := h.retireChatInvite(ctx, s, req, "declineChatInvite")
	if resp != nil {
		return resp, nil, nil
	}
	return wire.Done, inv, nil
}

// retireChatInvite deletes an invite addressed to the session's user along
// with its private key. The key is only removed once no other invite refers
// to it, and is restored if the invite cannot be deleted. A non-nil resp is
// the failure to send back.
func (h *Handler) retireChatInvite(ctx context.Context, s *session, req wire.Request, op string) (types.ChatInvite, types.KeyPair, any) {
	q, err := decode[types.ChatInvite](req)
	if err != nil {
		s.log.Debugw("bad payload", "op", op, "err", err)
		return types.ChatInvite{}, types.KeyPair{}, wire.Failed
	}

	inv, err := h.deps.DB.ChatInviteByID(ctx, q.ChatInviteID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return inv, types.KeyPair{}, wire.Failed
	case err != nil:
		s.log.Warnw("request failed", "op", op, "err", err)
		return inv, types.KeyPair{}, wire.Failed
	}
	if inv.RecipientID != s.userID() {
		return inv, types.KeyPair{}, wire.Failed
	}

	h.deps.Keys.LockRefs()
	defer h.deps.Keys.UnlockRefs()

	kp, ok := h.deps.Keys.Get(inv.PrivateKeyID)
	if !ok {
		s.log.Warnw("invite key missing", "op", op, "invite", inv.ChatInviteID, "key", inv.PrivateKeyID)
		return inv, types.KeyPair{}, wire.Failed
	}

	refs, err := h.deps.DB.ChatInvitesUsingKey(ctx, inv.PrivateKeyID)
	if err != nil {
		s.log.Warnw("request failed", "op", op, "err", err)
		return inv, types.KeyPair{}, wire.Failed
	}

	removed := false
	if refs <= 1 {
		if err := h.deps.Keys.Remove(inv.PrivateKeyID); err != nil {
			s.log.Warnw("remove invite key", "op", op, "err", err)
			return inv, types.KeyPair{}, wire.Failed
		}
		removed = true
	}

	if err := h.deps.DB.DeleteChatInvite(ctx, inv.ChatInviteID); err != nil {
		s.log.Warnw("delete invite", "op", op, "err", err)
		if removed {
			if perr := h.deps.Keys.Put(inv.PrivateKeyID, kp); perr != nil {
				s.log.Errorw("restore invite key", "key", inv.PrivateKeyID, "err", perr)
			}
		}
		return inv, types.KeyPair{}, wire.Failed
	}
	return inv, kp, nil
}

func (h *Handler) sendMessage(_ context.Context, s *session, req wire.Request) (any, any, error) {
	m, err := decode[types.Message](req)
	if err != nil {
		return nil, nil, err
	}
	m.SenderID = s.userID()
	if m.TimeSent == 0 {
		m.TimeSent = h.nowMillis()
	}

	if err := h.deps.Messages.Push(m); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.log.Debugw("message for unknown chat", "chat", m.ChatID)
			return wire.Failed, nil, nil
		}
		return failed(s, "sendMessage", err, wire.Failed)
	}
	return wire.Done, m, nil
}

func (h *Handler) sendFriendRequest(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	fr, err := decode[types.FriendRequest](req)
	if err != nil {
		return nil, nil, err
	}
	fr.FriendRequestID = 0
	fr.SenderID = s.userID()
	if fr.TimeSent == 0 {
		fr.TimeSent = h.nowMillis()
	}
	if fr.RecipientID == fr.SenderID {
		return wire.Failed, nil, nil
	}

	if _, err := h.deps.DB.UserByID(ctx, fr.RecipientID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return wire.Failed, nil, nil
		}
		return failed(s, "sendFriendRequest", err, wire.Failed)
	}
	if _, err := h.deps.DB.FriendshipBetween(ctx, fr.SenderID, fr.RecipientID); err == nil {
		return wire.Failed, nil, nil
	}

	created, err := h.deps.DB.AddFriendRequest(ctx, fr)
	if err != nil {
		return failed(s, "sendFriendRequest", err, wire.Failed)
	}
	return wire.Done, created, nil
}

// sendChatInvite stores the chat's private key for the recipient to collect
// and records the invite. The key is removed again if the invite cannot be
// recorded.
func (h *Handler) sendChatInvite(ctx context.Context, s *session, req wire.Request) (any, any, error) {
	inv, err := decode[types.ChatInvite](req)
	if err != nil {
		return nil, nil, err
	}
	if req.KeyPair == nil || len(req.KeyPair.Private) == 0 {
		return wire.Failed, nil, nil
	}

	inv.ChatInviteID = 0
	inv.SenderID = s.userID()
	if inv.TimeSent == 0 {
		inv.TimeSent = h.nowMillis()
	}

	if _, err := h.deps.DB.ChatByID(ctx, inv.ChatID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return wire.Failed, nil, nil
		}
		return failed(s, "sendChatInvite", err, wire.Failed)
	}
	if _, err := h.deps.DB.UserByID(ctx, inv.RecipientID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return wire.Failed, nil, nil
		}
		return failed(s, "sendChatInvite", err, wire.Failed)
	}

	kp := *req.KeyPair
	keyID := kp.ID()

	h.deps.Keys.LockRefs()
	defer h.deps.Keys.UnlockRefs()

	existed := h.deps.Keys.Has(keyID)
	if !existed {
		if err := h.deps.Keys.Put(keyID, kp); err != nil {
			return failed(s, "sendChatInvite: store key", err, wire.Failed)
		}
	}

	inv.PrivateKeyID = keyID
	created, err := h.deps.DB.AddChatInvite(ctx, inv)
	if err != nil {
		if !existed {
			h.releaseKey(s, keyID)
		}
		return failed(s, "sendChatInvite", err, wire.Failed)
	}
	return wire.Done, created, nil
}

func (h *Handler) releaseKey(s *session, keyID int) {
	if err := h.deps.Keys.Remove(keyID); err != nil {
		s.log.Warnw("release key", "key", keyID, "err", err)
	}
}
