package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/imnothoan/verygoodmail/internal/crypto"
)

// TestEncryptionKey is a fixed 32-byte key (bytes 0..31), base64 encoded.
var TestEncryptionKey = func() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}()

// GetTestCipher returns a cipher keyed with TestEncryptionKey.
func GetTestCipher(t *testing.T) *crypto.Cipher {
	t.Helper()

	cipher, err := crypto.NewCipher(TestEncryptionKey)
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}
	return cipher
}
