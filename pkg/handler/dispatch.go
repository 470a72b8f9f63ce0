package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sambigeara/messagecat/pkg/wire"
)

var (
	errUnknownSelector = errors.New("unknown selector")
	errBadPayload      = errors.New("malformed payload")
)

// requestFunc serves one request. It returns the response value and, for a
// committed mutation, the record to forward to matching listen rules.
type requestFunc func(h *Handler, ctx context.Context, s *session, req wire.Request) (resp any, event any, err error)

type route struct {
	fn   requestFunc
	open bool
}

var routes = map[wire.RequestType]route{
	wire.TypeAuthenticate:         {fn: (*Handler).authenticate, open: true},
	wire.TypeAddUser:              {fn: (*Handler).addUser, open: true},
	wire.TypeGetUser:              {fn: (*Handler).getUser},
	wire.TypeGetFriendship:        {fn: (*Handler).getFriendship},
	wire.TypeGetFriendRequests:    {fn: (*Handler).getFriendRequests},
	wire.TypeGetChat:              {fn: (*Handler).getChat},
	wire.TypeGetChatInvite:        {fn: (*Handler).getChatInvite},
	wire.TypeGetPublicKey:         {fn: (*Handler).getPublicKey},
	wire.TypeGetMessageQueue:      {fn: (*Handler).getMessageQueue},
	wire.TypeAddChat:              {fn: (*Handler).addChat},
	wire.TypeAddListenRule:        {fn: (*Handler).addListenRule},
	wire.TypeRemoveListenRule:     {fn: (*Handler).removeListenRule},
	wire.TypeAcceptFriendRequest:  {fn: (*Handler).acceptFriendRequest},
	wire.TypeDeclineFriendRequest: {fn: (*Handler).declineFriendRequest},
	wire.TypeAcceptChatInvite:     {fn: (*Handler).acceptChatInvite},
	wire.TypeDeclineChatInvite:    {fn: (*Handler).declineChatInvite},
	wire.TypeSendMessage:          {fn: (*Handler).sendMessage},
	wire.TypeSendFriendRequest:    {fn: (*Handler).sendFriendRequest},
	wire.TypeSendChatInvite:       {fn: (*Handler).sendChatInvite},
}

// dispatch returns the encoded response for req. A non-nil error is a
// protocol violation and the connection must be closed.
func (h *Handler) dispatch(ctx context.Context, s *session, req wire.Request) (json.RawMessage, error) {
	h.deps.Metrics.RecordRequest(req.Type.String())

	rt, ok := routes[req.Type]
	if !ok {
		s.log.Debugw("unknown request type")
		return wire.NullResponse, nil
	}
	if !rt.open && !s.authenticated() {
		s.log.Debugw("unauthenticated request", "type", req.Type.String())
		return wire.NullResponse, nil
	}

	resp, event, err := rt.fn(h, ctx, s, req)
	switch {
	case errors.Is(err, errUnknownSelector):
		return nil, fmt.Errorf("%w %q for %s", err, req.Selector, req.Type)
	case errors.Is(err, errBadPayload):
		s.log.Debugw("bad payload", "type", req.Type.String(), "err", err)
		return wire.NullResponse, nil
	case err != nil:
		return nil, err
	}

	if event != nil {
		h.notify(s, req.Type, event)
	}

	b, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return b, nil
}

func (h *Handler) notify(s *session, t wire.RequestType, event any) {
	req, err := wire.NewRequest(t, event)
	if err != nil {
		s.log.Warnw("encode notification", "type", t.String(), "err", err)
		return
	}
	h.deps.Rules.Evaluate(req)
}

func decode[T any](req wire.Request) (T, error) {
	var v T
	if len(req.Data) == 0 {
		return v, fmt.Errorf("%w: empty", errBadPayload)
	}
	if err := json.Unmarshal(req.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %w", errBadPayload, err)
	}
	return v, nil
}

// failed logs a store error and answers with the given response.
func failed(s *session, op string, err error, resp any) (any, any, error) {
	s.log.Warnw("request failed", "op", op, "err", err)
	return resp, nil, nil
}
