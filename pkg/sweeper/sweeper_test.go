package sweeper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambigeara/messagecat/pkg/db"
	"github.com/sambigeara/messagecat/pkg/store"
	"github.com/sambigeara/messagecat/pkg/types"
)

type fixture struct {
	db   *db.Store
	keys *store.KeyStore
	a, b types.User
	chat types.Chat
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	d, err := db.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	keys, err := store.OpenKeyStore(dir)
	require.NoError(t, err)

	a, err := d.AddUser(ctx, types.User{Username: "a", Password: "x", DisplayName: "A"})
	require.NoError(t, err)
	b, err := d.AddUser(ctx, types.User{Username: "b", Password: "x", DisplayName: "B"})
	require.NoError(t, err)
	chat, err := d.AddChat(ctx, types.Chat{Name: "c", PublicKeyID: 1})
	require.NoError(t, err)

	return &fixture{db: d, keys: keys, a: a, b: b, chat: chat}
}

func (f *fixture) invite(t *testing.T, sent time.Time, key types.KeyPair) types.ChatInvite {
	t.Helper()
	id, err := f.keys.Add(key)
	require.NoError(t, err)
	inv, err := f.db.AddChatInvite(context.Background(), types.ChatInvite{
		ChatID: f.chat.ChatID, SenderID: f.a.UserID, RecipientID: f.b.UserID,
		TimeSent: sent.UnixMilli(), PrivateKeyID: id,
	})
	require.NoError(t, err)
	return inv
}

func TestSweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	now := time.Now()
	old := now.Add(-DefaultTTL - time.Hour)

	_, err := f.db.AddFriendRequest(ctx, types.FriendRequest{SenderID: f.a.UserID, RecipientID: f.b.UserID, TimeSent: old.UnixMilli()})
	require.NoError(t, err)
	fresh, err := f.db.AddFriendRequest(ctx, types.FriendRequest{SenderID: f.b.UserID, RecipientID: f.a.UserID, TimeSent: now.UnixMilli()})
	require.NoError(t, err)

	expired := f.invite(t, old, types.KeyPair{Private: []byte("old-key")})
	kept := f.invite(t, now, types.KeyPair{Private: []byte("new-key")})

	s := New(f.db, f.keys, DefaultTTL, 0, nil)
	s.now = func() time.Time { return now }

	res := s.Sweep(ctx)
	assert.Equal(t, Result{FriendRequests: 1, ChatInvites: 1, Keys: 1}, res)

	reqs, err := f.db.FriendRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.FriendRequest{fresh}, reqs)

	invs, err := f.db.ChatInvites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.ChatInvite{kept}, invs)

	assert.False(t, f.keys.Has(expired.PrivateKeyID))
	assert.True(t, f.keys.Has(kept.PrivateKeyID))
}

func TestSweepKeepsSharedKey(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	now := time.Now()
	shared := types.KeyPair{Private: []byte("shared")}

	expired := f.invite(t, now.Add(-DefaultTTL-time.Minute), shared)
	f.invite(t, now, shared)

	s := New(f.db, f.keys, DefaultTTL, 0, nil)
	s.now = func() time.Time { return now }

	res := s.Sweep(ctx)
	assert.Equal(t, 1, res.ChatInvites)
	assert.Equal(t, 0, res.Keys)
	assert.True(t, f.keys.Has(expired.PrivateKeyID))
}

func TestRunOneShotReturns(t *testing.T) {
	f := setup(t)
	s := New(f.db, f.keys, DefaultTTL, 0, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("one-shot sweeper did not return")
	}
}
