package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambigeara/messagecat/internal/testutil/memlisten"
	"github.com/sambigeara/messagecat/pkg/client"
	"github.com/sambigeara/messagecat/pkg/config"
	"github.com/sambigeara/messagecat/pkg/ring"
	"github.com/sambigeara/messagecat/pkg/rules"
	"github.com/sambigeara/messagecat/pkg/seal"
	"github.com/sambigeara/messagecat/pkg/types"
	"github.com/sambigeara/messagecat/pkg/wire"
)

func testConfig(workers int) *config.Config {
	oneShot := time.Duration(0)
	return &config.Config{
		Workers:       workers,
		QueueCapacity: 16,
		ManagerTick:   5 * time.Millisecond,
		SweepInterval: &oneShot,
	}
}

func startServer(t *testing.T, cfg *config.Config) string {
	t.Helper()

	srv, err := New(cfg, t.TempDir())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
		_ = srv.Close()
	})
	return ln.Addr().String()
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func call(t *testing.T, c *client.Client, typ wire.RequestType, data any, opts ...client.RequestOption) json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := c.Call(ctx, typ, data, opts...)
	require.NoError(t, err)
	return raw
}

func callInto[T any](t *testing.T, c *client.Client, typ wire.RequestType, data any, opts ...client.RequestOption) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(call(t, c, typ, data, opts...), &v))
	return v
}

func signUp(t *testing.T, c *client.Client, username, password, display string) types.User {
	t.Helper()
	u := callInto[types.User](t, c, wire.TypeAddUser, types.User{Username: username, Password: password, DisplayName: display})
	require.NotZero(t, u.UserID)
	return u
}

func login(t *testing.T, c *client.Client, username, password string) types.User {
	t.Helper()
	return callInto[types.User](t, c, wire.TypeAuthenticate, types.User{Username: username, Password: password})
}

func TestAuthenticate(t *testing.T) {
	addr := startServer(t, testConfig(2))
	c := dial(t, addr)

	created := signUp(t, c, "12345", "Oogle", "Herman")
	assert.Empty(t, created.Password)

	raw := call(t, c, wire.TypeAuthenticate, types.User{Username: "12345", Password: "12345"})
	assert.JSONEq(t, `"failed"`, string(raw))

	raw = call(t, c, wire.TypeAuthenticate, types.User{Username: "12345", Password: "Oogle"})
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.NotContains(t, got, "password")

	u := login(t, c, "12345", "Oogle")
	assert.Equal(t, created, u)
}

func TestAddUserDuplicate(t *testing.T) {
	addr := startServer(t, testConfig(1))
	c := dial(t, addr)

	signUp(t, c, "alice", "pw", "Alice")
	raw := call(t, c, wire.TypeAddUser, types.User{Username: "alice", Password: "pw", DisplayName: "Another"})
	assert.JSONEq(t, `null`, string(raw))
	raw = call(t, c, wire.TypeAddUser, types.User{Username: "alice2", Password: "pw", DisplayName: "Alice"})
	assert.JSONEq(t, `null`, string(raw))
}

func TestUnauthenticatedRequestsAnswerNull(t *testing.T) {
	addr := startServer(t, testConfig(1))
	c := dial(t, addr)

	for _, typ := range []wire.RequestType{wire.TypeGetChat, wire.TypeSendMessage, wire.TypeGetPublicKey} {
		raw := call(t, c, typ, map[string]int{"chatID": 1})
		assert.JSONEq(t, `null`, string(raw), typ.String())
	}
}

func TestGetUserByDisplayNamePrefix(t *testing.T) {
	addr := startServer(t, testConfig(1))
	c := dial(t, addr)

	herman := signUp(t, c, "12345", "Oogle", "Herman")
	signUp(t, c, "bob", "pw", "Bob")
	login(t, c, "12345", "Oogle")

	users := callInto[[]types.User](t, c, wire.TypeGetUser, types.User{DisplayName: "Her"}, client.WithSelector("displayName"))
	assert.Equal(t, []types.User{herman}, users)

	byID := callInto[types.User](t, c, wire.TypeGetUser, types.User{UserID: herman.UserID}, client.WithSelector("id"))
	assert.Equal(t, herman, byID)
	assert.Empty(t, byID.Password)
}

func TestUnknownSelectorClosesConnection(t *testing.T) {
	addr := startServer(t, testConfig(1))
	c := dial(t, addr)
	signUp(t, c, "a", "pw", "A")
	login(t, c, "a", "pw")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := wire.NewRequest(wire.TypeGetUser, types.User{Username: "a"})
	require.NoError(t, err)
	req.Selector = "shoeSize"

	_, err = c.Do(ctx, req)
	require.Error(t, err)

	// The only handler is free again for the next connection.
	next := dial(t, addr)
	raw := call(t, next, wire.TypeAuthenticate, types.User{Username: "a", Password: "pw"})
	assert.Contains(t, string(raw), `"username":"a"`)
}

func TestListenRuleNotifiesSubscriber(t *testing.T) {
	addr := startServer(t, testConfig(2))
	a := dial(t, addr)
	b := dial(t, addr)

	signUp(t, a, "a", "pw", "A")
	signUp(t, b, "b", "pw", "B")
	login(t, a, "a", "pw")
	login(t, b, "b", "pw")

	chatKeys, err := seal.Box{}.GenerateKeyPair()
	require.NoError(t, err)
	chat := callInto[types.Chat](t, a, wire.TypeAddChat, types.Chat{Name: "general"}, client.WithKeyPair(chatKeys))
	require.NotZero(t, chat.ChatID)
	otherKeys, err := seal.Box{}.GenerateKeyPair()
	require.NoError(t, err)
	other := callInto[types.Chat](t, a, wire.TypeAddChat, types.Chat{Name: "random"}, client.WithKeyPair(otherKeys))

	value, err := json.Marshal(chat.ChatID)
	require.NoError(t, err)
	ruleID := callInto[int64](t, a, wire.TypeAddListenRule, rules.Descriptor{Type: wire.TypeSendMessage, Field: "ChatID", Value: value})
	require.Positive(t, ruleID)

	raw := call(t, b, wire.TypeSendMessage, types.Message{ChatID: other.ChatID, Content: "elsewhere"})
	assert.JSONEq(t, `"done"`, string(raw))
	raw = call(t, b, wire.TypeSendMessage, types.Message{ChatID: chat.ChatID, Content: "hello"})
	assert.JSONEq(t, `"done"`, string(raw))

	select {
	case n := <-a.Notifications():
		assert.Equal(t, wire.TypeSendMessage, n.Type)
		assert.Equal(t, ruleID, n.TriggerID)
		var m types.Message
		require.NoError(t, json.Unmarshal(n.Data, &m))
		assert.Equal(t, "hello", m.Content)
		assert.Equal(t, chat.ChatID, m.ChatID)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}

	select {
	case n := <-a.Notifications():
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(100 * time.Millisecond):
	}

	q := callInto[*ring.MessageQueue](t, b, wire.TypeGetMessageQueue, chat.ChatID)
	require.Equal(t, 1, q.Len())

	raw = call(t, b, wire.TypeRemoveListenRule, ruleID)
	assert.JSONEq(t, `"failed"`, string(raw))
	raw = call(t, a, wire.TypeRemoveListenRule, ruleID)
	assert.JSONEq(t, `"done"`, string(raw))
}

func TestAcceptFriendRequestIdempotent(t *testing.T) {
	addr := startServer(t, testConfig(2))
	a := dial(t, addr)
	b := dial(t, addr)

	ua := signUp(t, a, "a", "pw", "A")
	ub := signUp(t, b, "b", "pw", "B")
	login(t, a, "a", "pw")
	login(t, b, "b", "pw")

	raw := call(t, a, wire.TypeSendFriendRequest, types.FriendRequest{RecipientID: ub.UserID})
	assert.JSONEq(t, `"done"`, string(raw))

	reqs := callInto[[]types.FriendRequest](t, b, wire.TypeGetFriendRequests, types.FriendRequest{RecipientID: ub.UserID}, client.WithSelector("recipientID"))
	require.Len(t, reqs, 1)
	assert.Equal(t, ua.UserID, reqs[0].SenderID)

	// Only the recipient may accept.
	raw = call(t, a, wire.TypeAcceptFriendRequest, reqs[0])
	assert.JSONEq(t, `"failed"`, string(raw))

	for range 2 {
		raw = call(t, b, wire.TypeAcceptFriendRequest, reqs[0])
		assert.JSONEq(t, `"done"`, string(raw))
	}

	fs := callInto[[]types.Friendship](t, a, wire.TypeGetFriendship, types.Friendship{UserID: ua.UserID}, client.WithSelector("userID"))
	require.Len(t, fs, 1)
	assert.Equal(t, ub.UserID, fs[0].FriendID)

	between := callInto[types.Friendship](t, b, wire.TypeGetFriendship,
		types.Friendship{UserID: ub.UserID, FriendID: ua.UserID}, client.WithSelector("userID&FriendID"))
	assert.Equal(t, ua.UserID, between.FriendID)
}

func TestChatInviteRetiresKey(t *testing.T) {
	addr := startServer(t, testConfig(2))
	a := dial(t, addr)
	b := dial(t, addr)

	signUp(t, a, "a", "pw", "A")
	ub := signUp(t, b, "b", "pw", "B")
	login(t, a, "a", "pw")
	login(t, b, "b", "pw")

	chatKeys, err := seal.Box{}.GenerateKeyPair()
	require.NoError(t, err)
	chat := callInto[types.Chat](t, a, wire.TypeAddChat, types.Chat{Name: "secret"}, client.WithKeyPair(chatKeys))

	pub := callInto[types.KeyPair](t, b, wire.TypeGetPublicKey, chat.PublicKeyID)
	assert.Equal(t, chatKeys.Public, pub.Public)
	assert.Empty(t, pub.Private)

	invKey := types.KeyPair{Private: chatKeys.Private}
	raw := call(t, a, wire.TypeSendChatInvite, types.ChatInvite{ChatID: chat.ChatID, RecipientID: ub.UserID}, client.WithKeyPair(invKey))
	assert.JSONEq(t, `"done"`, string(raw))

	invites := callInto[[]types.ChatInvite](t, b, wire.TypeGetChatInvite, types.ChatInvite{RecipientID: ub.UserID}, client.WithSelector("recipientID"))
	require.Len(t, invites, 1)

	// The private key is never served as a public key.
	raw = call(t, b, wire.TypeGetPublicKey, invites[0].PrivateKeyID)
	assert.JSONEq(t, `null`, string(raw))

	got := callInto[types.KeyPair](t, b, wire.TypeAcceptChatInvite, invites[0])
	assert.Equal(t, chatKeys.Private, got.Private)

	raw = call(t, b, wire.TypeAcceptChatInvite, invites[0])
	assert.JSONEq(t, `"failed"`, string(raw))

	remaining := callInto[[]types.ChatInvite](t, b, wire.TypeGetChatInvite, types.ChatInvite{RecipientID: ub.UserID}, client.WithSelector("recipientID"))
	assert.Empty(t, remaining)
}

func TestAdmitRejectsWhenQueueFull(t *testing.T) {
	cfg := testConfig(1)
	cfg.QueueCapacity = 1
	srv, err := New(cfg, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	first, firstPeer := net.Pipe()
	second, secondPeer := net.Pipe()
	defer firstPeer.Close()
	defer secondPeer.Close()

	srv.admit(context.Background(), first)
	srv.admit(context.Background(), second)

	assert.Equal(t, 1, srv.queue.Len())

	_ = secondPeer.SetReadDeadline(time.Now().Add(time.Second))
	_, err = secondPeer.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestAdmitGivesUpOnLockedQueueAtShutdown(t *testing.T) {
	srv, err := New(testConfig(1), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	srv.queue.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	conn, peer := net.Pipe()
	defer peer.Close()
	srv.admit(ctx, conn)
	assert.Equal(t, 0, srv.queue.Len())
}

func TestServeInMemory(t *testing.T) {
	srv, err := New(testConfig(1), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	ln := memlisten.New("mem")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, err := ln.Dial(dialCtx)
	require.NoError(t, err)

	c, err := client.New(conn)
	require.NoError(t, err)
	defer c.Close()

	u := signUp(t, c, "mem", "pw", "Mem")
	assert.Equal(t, u, login(t, c, "mem", "pw"))

	cancel()
	require.NoError(t, <-done)
}
