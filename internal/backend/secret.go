package backend

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// DecryptVendorKey recovers the plaintext provider API key from a
// VendorKey.EncryptedKey, which the admin backend stores as
// base64(nonce || ciphertext) under AES-256-GCM. masterKey is the
// process-wide ENCRYPTION_KEY; it is hashed with SHA-256 to derive a
// 32-byte AES key regardless of the configured string's length.
//
// No pack dependency offers symmetric secret decryption (the teacher's own
// use of crypto is bcrypt for password hashing, a one-way primitive that
// cannot serve this two-way case), so this is stdlib crypto/aes +
// crypto/cipher.
func DecryptVendorKey(masterKey, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("backend: decode vendor key: %w", err)
	}

	key := sha256.Sum256([]byte(masterKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("backend: build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("backend: build gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("backend: vendor key ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("backend: decrypt vendor key: %w", err)
	}
	return string(plaintext), nil
}
