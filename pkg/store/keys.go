package store

import (
	"path/filepath"
	"sync"

	"github.com/sambigeara/messagecat/pkg/types"
)

const keysFileName = "keys.json"

// KeyStore holds chat key material by key id.
type KeyStore struct {
	*Snapshot[types.KeyPair]
	refs sync.Mutex
}

func OpenKeyStore(dir string, opts ...Option) (*KeyStore, error) {
	s, err := Open[types.KeyPair]("keys", filepath.Join(dir, keysFileName), opts...)
	if err != nil {
		return nil, err
	}
	return &KeyStore{Snapshot: s}, nil
}

// Add stores kp under its derived id and returns that id.
func (k *KeyStore) Add(kp types.KeyPair) (int, error) {
	id := kp.ID()
	if err := k.Put(id, kp); err != nil {
		return 0, err
	}
	return id, nil
}

// LockRefs serialises sequences that count the records referring to a key
// and then add or remove it. Hold it across both steps.
func (k *KeyStore) LockRefs() { k.refs.Lock() }

func (k *KeyStore) UnlockRefs() { k.refs.Unlock() }
