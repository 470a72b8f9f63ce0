package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sambigeara/messagecat/pkg/seal"
	"github.com/sambigeara/messagecat/pkg/types"
)

var ErrBadHandshake = errors.New("malformed handshake")

// Channel exchanges frames encrypted to the peer's public key and decrypted
// with the local key pair. Writes are serialised; reads are not.
type Channel struct {
	rw       io.ReadWriter
	provider seal.Provider
	own      types.KeyPair
	peer     []byte
	mu       sync.Mutex
}

func NewChannel(rw io.ReadWriter, provider seal.Provider, own types.KeyPair, peerPublic []byte) *Channel {
	return &Channel{rw: rw, provider: provider, own: own, peer: peerPublic}
}

func (c *Channel) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return c.SendRaw(b)
}

func (c *Channel) SendRaw(b []byte) error {
	ct, err := c.provider.Encrypt(c.peer, b)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return WriteFrame(c.rw, ct)
}

func (c *Channel) Receive() ([]byte, error) {
	ct, err := ReadFrame(c.rw)
	if err != nil {
		return nil, err
	}
	return c.provider.Decrypt(c.own, ct)
}

// AcceptHandshake sends the local public key and then reads the peer's.
func AcceptHandshake(rw io.ReadWriter, own types.KeyPair) ([]byte, error) {
	if err := sendPublicKey(rw, own); err != nil {
		return nil, err
	}
	return readPublicKey(rw)
}

// InitiateHandshake reads the server's public key and then sends the local one.
func InitiateHandshake(rw io.ReadWriter, own types.KeyPair) ([]byte, error) {
	peer, err := readPublicKey(rw)
	if err != nil {
		return nil, err
	}
	if err := sendPublicKey(rw, own); err != nil {
		return nil, err
	}
	return peer, nil
}

func sendPublicKey(w io.Writer, own types.KeyPair) error {
	b, err := json.Marshal(own.PublicOnly())
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

func readPublicKey(r io.Reader) ([]byte, error) {
	b, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}

	var kp types.KeyPair
	if err := json.Unmarshal(b, &kp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadHandshake, err)
	}
	if len(kp.Public) == 0 {
		return nil, fmt.Errorf("%w: missing public key", ErrBadHandshake)
	}
	return kp.Public, nil
}
