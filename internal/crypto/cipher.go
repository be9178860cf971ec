package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// minCiphertextLength is the shortest base64 string a sealed value can have:
// a 12-byte nonce plus a 16-byte tag plus at least one byte of payload.
const minCiphertextLength = 40

// Cipher encrypts message content at rest using AES-256-GCM.
// Sealed values are base64 strings of [nonce][ciphertext][tag], so they fit in
// text columns next to rows written before encryption was turned on.
type Cipher struct {
	aead    cipher.AEAD
	hashKey []byte
}

// NewCipher creates a Cipher from a base64-encoded 32-byte master key.
func NewCipher(base64Key string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (256 bits), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	hashKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte("verygoodmail/hash")), hashKey); err != nil {
		return nil, fmt.Errorf("failed to derive hash key: %w", err)
	}

	return &Cipher{aead: aead, hashKey: hashKey}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
// The empty string is returned unchanged so optional fields stay empty.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Anything that does not look like
// ciphertext, fails authentication, or opens to an empty string is returned as
// is: rows stored before encryption was enabled must still read back.
func (c *Cipher) Decrypt(value string) string {
	if !looksEncrypted(value) {
		return value
	}

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return value
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return value
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil || len(plaintext) == 0 {
		return value
	}

	return string(plaintext)
}

// Hash returns a deterministic keyed digest (hex HMAC-SHA256) of value.
// Equal inputs hash equally, which makes it usable for lookups over encrypted columns.
func (c *Cipher) Hash(value string) string {
	mac := hmac.New(sha256.New, c.hashKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

func looksEncrypted(value string) bool {
	if len(value) < minCiphertextLength || len(value)%4 != 0 {
		return false
	}

	for i := 0; i < len(value); i++ {
		ch := value[i]
		switch {
		case ch >= 'A' && ch <= 'Z', ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
		case ch == '+', ch == '/', ch == '=':
		default:
			return false
		}
	}

	return true
}
