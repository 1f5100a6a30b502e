package brtkv

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// chachaSealer implements leafstore.Sealer with XChaCha20-Poly1305,
// grounded on the teacher's BTree.encrypt/decrypt (same cipher
// construction via chacha20poly1305.NewX). The teacher takes the nonce as
// a caller-supplied argument on every call; leafstore.Sealer has no room
// for one, so Seal generates a fresh random nonce per call and prepends
// it to the returned ciphertext, and Open reads it back off the front.
type chachaSealer struct {
	aead cipher.AEAD
}

// newSealer builds a Sealer from a 32-byte key, or returns nil (meaning
// "store values unencrypted") when key is empty.
func newSealer(key []byte) (*chachaSealer, error) {
	if len(key) == 0 {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("brtkv: build sealer: %w", err)
	}
	return &chachaSealer{aead: aead}, nil
}

func (s *chachaSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("brtkv: generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, plaintext, nil)
	return out, nil
}

func (s *chachaSealer) Open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("brtkv: sealed value shorter than nonce")
	}
	return s.aead.Open(nil, sealed[:n], sealed[n:], nil)
}
