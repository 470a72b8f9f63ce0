package seal

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/sambigeara/messagecat/pkg/types"
)

const keySize = 32

var (
	ErrDecrypt    = errors.New("decrypt failed")
	ErrInvalidKey = errors.New("invalid key length")
)

// Provider performs per-message asymmetric encryption.
type Provider interface {
	GenerateKeyPair() (types.KeyPair, error)
	Encrypt(peerPublic []byte, msg []byte) ([]byte, error)
	Decrypt(own types.KeyPair, ciphertext []byte) ([]byte, error)
}

// Box seals each message to the recipient's curve25519 key with an
// ephemeral sender key, so no session state is kept.
type Box struct{}

func (Box) GenerateKeyPair() (types.KeyPair, error) {
	pub, pri, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return types.KeyPair{}, fmt.Errorf("generate key: %w", err)
	}
	return types.KeyPair{Public: pub[:], Private: pri[:]}, nil
}

func (Box) Encrypt(peerPublic, msg []byte) ([]byte, error) {
	pub, err := toKey(peerPublic)
	if err != nil {
		return nil, err
	}
	out, err := box.SealAnonymous(nil, msg, pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return out, nil
}

func (Box) Decrypt(own types.KeyPair, ciphertext []byte) ([]byte, error) {
	pub, err := toKey(own.Public)
	if err != nil {
		return nil, err
	}
	pri, err := toKey(own.Private)
	if err != nil {
		return nil, err
	}
	out, ok := box.OpenAnonymous(nil, ciphertext, pub, pri)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}

func toKey(b []byte) (*[keySize]byte, error) {
	if len(b) != keySize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKey, len(b))
	}
	var k [keySize]byte
	copy(k[:], b)
	return &k, nil
}
