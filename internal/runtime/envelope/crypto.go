package envelope

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
)

// Cipher encrypts message bodies before they leave the node.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// Sealer is an XChaCha20-Poly1305 Cipher. Ciphertexts carry their random
// nonce as a prefix.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a 32 byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) == 0 {
		return nil, errspkg.ErrEncryptionKeyRequired
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(ciphertext) < ns+s.aead.Overhead() {
		return nil, errspkg.ErrCiphertextTooShort
	}
	plain, err := s.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt message: %w", err)
	}
	return plain, nil
}

// Encrypt seals the envelope body in place and sets Encrypted.
func Encrypt(env *Envelope, c Cipher) error {
	if c == nil {
		return errspkg.ErrEncryptionKeyRequired
	}
	raw, err := env.Body()
	if err != nil {
		return err
	}
	sealed, err := c.Seal(raw)
	if err != nil {
		return err
	}
	env.SetBody(sealed)
	env.Encrypted = true
	return nil
}

// Payload is a decoded body ready to be handed to a unit.
type Payload struct {
	// Raw is the plaintext body.
	Raw []byte
	// Value is the parsed JSON document for application/json bodies and the
	// body text otherwise.
	Value any
}

// Decode turns the base64 buffer back into a payload. Encrypted bodies are
// opened before the content type is considered.
func Decode(env *Envelope, c Cipher) (Payload, error) {
	raw, err := env.Body()
	if err != nil {
		return Payload{}, err
	}
	if env.Encrypted {
		if c == nil {
			return Payload{}, errspkg.ErrEncryptionKeyRequired
		}
		if raw, err = c.Open(raw); err != nil {
			return Payload{}, err
		}
	}
	if !env.IsJSON() {
		return Payload{Raw: raw, Value: string(raw)}, nil
	}
	if len(raw) == 0 {
		return Payload{Raw: raw, Value: map[string]any{}}, nil
	}
	v, err := jsoncodec.DecodeValue(raw)
	if err != nil {
		return Payload{}, fmt.Errorf("parse json body: %w", err)
	}
	return Payload{Raw: raw, Value: v}, nil
}
