package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmcleod/sessionkeeper/internal/util"
)

const (
	// EnvelopeVersion is the current envelope format.
	EnvelopeVersion = 1

	// SchemePlain stores the value as JSON inside the envelope.
	SchemePlain = "plain"
	// SchemeAESGCM stores the value sealed as nonce || ciphertext.
	SchemeAESGCM = "aes256gcm"

	gcmNonceSize = 12
)

// Envelope is the stored form of an entry: the value, when it was written,
// and an optional time-to-live. WrittenAt and TTL are in nanoseconds.
type Envelope struct {
	Ver        int             `json:"ver"`
	Value      json.RawMessage `json:"value,omitempty"`
	WrittenAt  int64           `json:"written_at"`
	TTL        int64           `json:"ttl,omitempty"`
	Scheme     string          `json:"scheme"`
	Nonce      []byte          `json:"nonce,omitempty"`
	Ciphertext []byte          `json:"ciphertext,omitempty"`
}

// NewEnvelope wraps an encoded value. A ttl of zero means the entry never
// expires; a negative ttl makes it expired from the start.
func NewEnvelope(value json.RawMessage, writtenAt time.Time, ttl time.Duration) *Envelope {
	return &Envelope{
		Ver:       EnvelopeVersion,
		Value:     value,
		WrittenAt: writtenAt.UnixNano(),
		TTL:       int64(ttl),
		Scheme:    SchemePlain,
	}
}

// Expired reports whether the entry is logically absent at now.
// An entry is still live at exactly WrittenAt + TTL.
func (e *Envelope) Expired(now time.Time) bool {
	if e.TTL == 0 {
		return false
	}
	return now.UnixNano()-e.WrittenAt > e.TTL
}

// Seal encrypts the value in place with the given key, binding it to aad.
func (e *Envelope) Seal(key, aad []byte) error {
	if e.Scheme != SchemePlain {
		return fmt.Errorf("envelope already sealed with scheme %s", e.Scheme)
	}
	cipher, err := util.EncryptAESWithAAD(e.Value, key, aad)
	if err != nil {
		return err
	}
	// util.EncryptAESWithAAD returns nonce || ciphertext.
	e.Nonce = cipher[:gcmNonceSize]
	e.Ciphertext = cipher[gcmNonceSize:]
	e.Value = nil
	e.Scheme = SchemeAESGCM
	return nil
}

// Sealed reports whether the value is encrypted.
func (e *Envelope) Sealed() bool {
	return e.Scheme == SchemeAESGCM
}

// Open returns the decrypted value of a sealed envelope.
func (e *Envelope) Open(key, aad []byte) (json.RawMessage, error) {
	if !e.Sealed() {
		return e.Value, nil
	}
	full := make([]byte, len(e.Nonce)+len(e.Ciphertext))
	copy(full, e.Nonce)
	copy(full[len(e.Nonce):], e.Ciphertext)

	plain, err := util.DecryptAESWithAAD(full, key, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	return plain, nil
}

// EncodeEnvelope serializes e for a Driver.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses data written by EncodeEnvelope. Any malformed input
// yields an error matching ErrCorrupted.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	if e.Ver != EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrCorrupted, e.Ver)
	}
	switch e.Scheme {
	case SchemePlain:
		if len(e.Value) == 0 {
			return nil, fmt.Errorf("%w: empty value", ErrCorrupted)
		}
	case SchemeAESGCM:
		if len(e.Nonce) != gcmNonceSize || len(e.Ciphertext) == 0 {
			return nil, fmt.Errorf("%w: malformed sealed value", ErrCorrupted)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported envelope scheme %q", ErrCorrupted, e.Scheme)
	}
	return &e, nil
}
