package rules

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambigeara/messagecat/pkg/types"
	"github.com/sambigeara/messagecat/pkg/wire"
)

type recorder struct {
	err error
	got []wire.Request
	mu  sync.Mutex
}

func (r *recorder) Notify(req wire.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, req)
	return nil
}

func sendMessage(t *testing.T, chatID int) wire.Request {
	t.Helper()
	req, err := wire.NewRequest(wire.TypeSendMessage, types.Message{SenderID: 2, ChatID: chatID, Content: "hi"})
	require.NoError(t, err)
	return req
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestFieldMatch(t *testing.T) {
	reg := NewRegistry(nil)
	a := &recorder{}

	id, err := reg.Register(a, Descriptor{Type: wire.TypeSendMessage, Field: "ChatID", Value: raw("7")})
	require.NoError(t, err)

	assert.Equal(t, 1, reg.Evaluate(sendMessage(t, 7)))
	assert.Equal(t, 0, reg.Evaluate(sendMessage(t, 8)))

	require.Len(t, a.got, 1)
	assert.Equal(t, id, a.got[0].TriggerID)
	assert.Equal(t, wire.TypeSendMessage, a.got[0].Type)
}

func TestValueSetAndTypeOnly(t *testing.T) {
	reg := NewRegistry(nil)
	set := &recorder{}
	all := &recorder{}
	other := &recorder{}

	_, err := reg.Register(set, Descriptor{Type: wire.TypeSendMessage, Field: "chatID", Values: []json.RawMessage{raw("1"), raw(`"3"`)}})
	require.NoError(t, err)
	_, err = reg.Register(all, Descriptor{Type: wire.TypeSendMessage})
	require.NoError(t, err)
	_, err = reg.Register(other, Descriptor{Type: wire.TypeSendFriendRequest})
	require.NoError(t, err)

	for _, chat := range []int{1, 2, 3} {
		reg.Evaluate(sendMessage(t, chat))
	}

	assert.Len(t, set.got, 2)
	assert.Len(t, all.got, 3)
	assert.Empty(t, other.got)
}

func TestRegisterRejects(t *testing.T) {
	reg := NewRegistry(nil)
	owner := &recorder{}

	tests := []struct {
		name string
		d    Descriptor
		err  error
	}{
		{"not listenable", Descriptor{Type: wire.TypeGetUser}, ErrNotListenable},
		{"unknown field", Descriptor{Type: wire.TypeSendMessage, Field: "colour", Value: raw("1")}, ErrUnknownField},
		{"field without values", Descriptor{Type: wire.TypeSendMessage, Field: "chatID"}, ErrNoValues},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Register(owner, tt.d)
			require.ErrorIs(t, err, tt.err)
		})
	}
	assert.Equal(t, 0, reg.Len())
}

func TestIDsNeverReused(t *testing.T) {
	reg := NewRegistry(nil)
	owner := &recorder{}

	first, err := reg.Register(owner, Descriptor{Type: wire.TypeSendMessage})
	require.NoError(t, err)
	require.True(t, reg.Unregister(first, owner))

	second, err := reg.Register(owner, Descriptor{Type: wire.TypeSendMessage})
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestUnregisterRequiresOwner(t *testing.T) {
	reg := NewRegistry(nil)
	a, b := &recorder{}, &recorder{}

	id, err := reg.Register(a, Descriptor{Type: wire.TypeSendMessage})
	require.NoError(t, err)

	assert.False(t, reg.Unregister(id, b))
	assert.False(t, reg.Unregister(id+100, a))
	assert.True(t, reg.Unregister(id, a))
	assert.Equal(t, 0, reg.Len())
}

func TestUnregisterAll(t *testing.T) {
	reg := NewRegistry(nil)
	a, b := &recorder{}, &recorder{}

	for range 3 {
		_, err := reg.Register(a, Descriptor{Type: wire.TypeSendMessage})
		require.NoError(t, err)
	}
	_, err := reg.Register(b, Descriptor{Type: wire.TypeSendMessage})
	require.NoError(t, err)

	assert.Equal(t, 3, reg.UnregisterAll(a))
	assert.Equal(t, 1, reg.Len())

	reg.Evaluate(sendMessage(t, 1))
	assert.Empty(t, a.got)
	assert.Len(t, b.got, 1)
}

func TestFailedDeliveryDoesNotStopOthers(t *testing.T) {
	reg := NewRegistry(nil)
	broken := &recorder{err: errors.New("closed")}
	ok := &recorder{}

	_, err := reg.Register(broken, Descriptor{Type: wire.TypeSendMessage})
	require.NoError(t, err)
	_, err = reg.Register(ok, Descriptor{Type: wire.TypeSendMessage})
	require.NoError(t, err)

	assert.Equal(t, 1, reg.Evaluate(sendMessage(t, 1)))
	assert.Len(t, ok.got, 1)
}

func TestNotificationStripsKeyMaterial(t *testing.T) {
	reg := NewRegistry(nil)
	a := &recorder{}
	_, err := reg.Register(a, Descriptor{Type: wire.TypeSendChatInvite})
	require.NoError(t, err)

	req, err := wire.NewRequest(wire.TypeSendChatInvite, types.ChatInvite{ChatID: 1})
	require.NoError(t, err)
	req.KeyPair = &types.KeyPair{Private: []byte("secret")}

	reg.Evaluate(req)
	require.Len(t, a.got, 1)
	assert.Nil(t, a.got[0].KeyPair)
}
