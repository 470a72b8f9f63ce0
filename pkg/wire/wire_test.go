package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambigeara/messagecat/pkg/seal"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadFrameTooLarge(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)

	_, err := ReadFrame(bytes.NewReader(header[:]))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestRequestTypeJSON(t *testing.T) {
	b, err := json.Marshal(Request{Type: TypeSendMessage, Data: json.RawMessage(`{"chatID":7}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"SendMessage","data":{"chatID":7}}`, string(b))

	var r Request
	require.NoError(t, json.Unmarshal([]byte(`{"type":"Frobnicate"}`), &r))
	assert.Equal(t, TypeUnknown, r.Type)

	for typ, name := range typeNames {
		assert.Equal(t, typ, ParseRequestType(name))
	}
}

func TestHandshakeAndChannel(t *testing.T) {
	srvConn, cliConn := net.Pipe()
	defer srvConn.Close()
	defer cliConn.Close()

	p := seal.Box{}
	srvKeys, err := p.GenerateKeyPair()
	require.NoError(t, err)
	cliKeys, err := p.GenerateKeyPair()
	require.NoError(t, err)

	type result struct {
		peer []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		peer, err := AcceptHandshake(srvConn, srvKeys)
		done <- result{peer, err}
	}()

	srvPub, err := InitiateHandshake(cliConn, cliKeys)
	require.NoError(t, err)
	assert.Equal(t, srvKeys.Public, srvPub)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, cliKeys.Public, res.peer)

	srv := NewChannel(srvConn, p, srvKeys, res.peer)
	cli := NewChannel(cliConn, p, cliKeys, srvPub)

	go func() { _ = cli.Send(Request{Type: TypeGetChat, Data: json.RawMessage(`{"chatID":1}`)}) }()

	b, err := srv.Receive()
	require.NoError(t, err)
	var req Request
	require.NoError(t, json.Unmarshal(b, &req))
	assert.Equal(t, TypeGetChat, req.Type)
}

func TestHandshakeRejectsMissingKey(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{}`)))

	_, err := readPublicKey(&buf)
	require.ErrorIs(t, err, ErrBadHandshake)
}
