package kvs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/sessionkeeper/internal/util"
	"github.com/jmcleod/sessionkeeper/storage"
)

var errSealerDestroyed = errors.New("sealer destroyed")

// Sealer encrypts entry values with AES-256-GCM. Each value is bound to
// its backend and key, so a sealed entry moved elsewhere fails to open.
// The key is kept in a memguard enclave between uses.
type Sealer struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// NewSealer returns a Sealer using a copy of the 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != util.AESKeySize {
		return nil, fmt.Errorf("sealer key must be exactly %d bytes, got %d", util.AESKeySize, len(key))
	}
	// NewEnclave wipes its argument.
	return &Sealer{enclave: memguard.NewEnclave(util.CopyBytes(key))}, nil
}

// NewSealerFromPassphrase derives the sealing key from a passphrase with argon2id.
func NewSealerFromPassphrase(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("sealer passphrase must not be empty")
	}
	key, err := util.DeriveKey(passphrase, salt, util.DefaultArgon2idParams())
	if err != nil {
		return nil, fmt.Errorf("deriving sealer key: %w", err)
	}
	defer util.WipeBytes(key)
	return NewSealer(key)
}

// Destroy drops the key. Later seal and open calls fail.
func (s *Sealer) Destroy() {
	s.mu.Lock()
	s.enclave = nil
	s.mu.Unlock()
}

func (s *Sealer) withKey(fn func(key []byte) error) error {
	s.mu.RLock()
	enclave := s.enclave
	s.mu.RUnlock()
	if enclave == nil {
		return errSealerDestroyed
	}
	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

func (s *Sealer) seal(env *storage.Envelope, aad []byte) error {
	return s.withKey(func(key []byte) error {
		return env.Seal(key, aad)
	})
}

func (s *Sealer) open(env *storage.Envelope, aad []byte) (json.RawMessage, error) {
	var raw json.RawMessage
	err := s.withKey(func(key []byte) error {
		var err error
		raw, err = env.Open(key, aad)
		return err
	})
	return raw, err
}
