// Package cryptox encrypts email addresses at rest. Tokens are
// XChaCha20-Poly1305 sealed, nonce-prefixed and base64url encoded behind a
// version tag so stored values can be told apart from legacy plaintext.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// TokenPrefix tags every value produced by Encrypt.
const TokenPrefix = "v1:"

// MinSecretLen is the minimum decoded length of the configured secret.
const MinSecretLen = 32

const hkdfInfo = "inscriptions email v1"

var (
	// ErrDecryption is wrapped by every Decrypt failure.
	ErrDecryption = errors.New("decryption failed")
	// ErrInvalidKey is returned by NewCipher for unusable secrets.
	ErrInvalidKey = errors.New("invalid encryption key")
)

// Cipher seals and opens email tokens. It is immutable and safe for
// concurrent use.
type Cipher struct {
	key []byte
}

// NewCipher derives the AEAD key from a base64 secret (standard or URL
// alphabet, padded or not) that decodes to at least MinSecretLen bytes.
func NewCipher(secret string) (*Cipher, error) {
	raw, err := decodeSecret(strings.TrimSpace(secret))
	if err != nil {
		return nil, err
	}
	if len(raw) < MinSecretLen {
		return nil, fmt.Errorf("%w: decoded secret is %d bytes, need at least %d", ErrInvalidKey, len(raw), MinSecretLen)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("%w: derive: %v", ErrInvalidKey, err)
	}
	return &Cipher{key: key}, nil
}

func decodeSecret(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidKey)
	}
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding, base64.RawURLEncoding,
		base64.StdEncoding, base64.RawStdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: secret is not valid base64", ErrInvalidKey)
}

// Encrypt returns a fresh token for plaintext. Two calls with the same input
// yield different tokens.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("create aead: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt with the same key.
func (c *Cipher) Decrypt(token string) (string, error) {
	if !IsToken(token) {
		return "", fmt.Errorf("%w: missing %q prefix", ErrDecryption, TokenPrefix)
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, TokenPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrDecryption, err)
	}
	if len(b) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", fmt.Errorf("%w: token too short", ErrDecryption)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("%w: create aead: %v", ErrDecryption, err)
	}
	nonce, ct := b[:chacha20poly1305.NonceSizeX], b[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(plain), nil
}

// IsToken reports whether s carries the token prefix. It says nothing about
// whether s decrypts.
func IsToken(s string) bool { return strings.HasPrefix(s, TokenPrefix) }

// GenerateKey returns a new random secret suitable for NewCipher.
func GenerateKey() (string, error) {
	b := make([]byte, MinSecretLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
