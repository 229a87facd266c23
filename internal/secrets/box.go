// Package secrets seals provider keys at rest with NaCl secretbox.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var (
	ErrNoSecret  = errors.New("secret key not configured")
	ErrUnsealing = errors.New("sealed value cannot be opened")
)

type Box struct {
	key [32]byte
}

// NewBox derives the sealing key from the configured secret.
func NewBox(secret string) (*Box, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Box{key: sha256.Sum256([]byte(secret))}, nil
}

// Seal returns nonce || ciphertext.
func (b *Box) Seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &b.key), nil
}

func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrUnsealing
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrUnsealing
	}
	return out, nil
}
