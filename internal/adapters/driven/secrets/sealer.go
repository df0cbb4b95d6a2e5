package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure Sealer implements the interface.
var _ driven.Sealer = (*Sealer)(nil)

// KeySize is the secretbox key length.
const KeySize = 32

const nonceSize = 24

// ErrDecrypt is returned when a sealed blob fails authentication.
var ErrDecrypt = errors.New("sealed credentials: decryption failed")

// Sealer seals with secretbox. The nonce is prefixed to the ciphertext.
type Sealer struct {
	key [KeySize]byte
}

// NewSealer creates a Sealer for key.
func NewSealer(key [KeySize]byte) *Sealer {
	return &Sealer{key: key}
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}

// GenerateKey returns a random hex-encoded key.
func GenerateKey() (string, error) {
	var key [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(key[:]), nil
}

// ParseKey decodes a hex-encoded key.
func ParseKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return key, fmt.Errorf("decoding key: %w", err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("key is %d bytes, want %d", len(raw), KeySize)
	}
	copy(key[:], raw)
	return key, nil
}

// LoadKeyFile reads a hex-encoded key from path.
func LoadKeyFile(path string) ([KeySize]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [KeySize]byte{}, fmt.Errorf("reading key file: %w", err)
	}
	return ParseKey(string(data))
}

// WriteKeyFile creates a new key file readable only by the owner.
// It refuses to overwrite an existing file.
func WriteKeyFile(path string) error {
	key, err := GenerateKey()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating key file: %w", err)
	}
	if _, err := f.WriteString(key + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("writing key file: %w", err)
	}
	return f.Close()
}
