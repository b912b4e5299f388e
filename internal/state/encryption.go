package state

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// EncryptionKeyEnvVar holds the passphrase that seals snapshots at
// rest. The AES-256 key is derived from it by SHA-256, so passphrases
// of any length work.
const EncryptionKeyEnvVar = "STACKFORM_STATE_ENCRYPTION_KEY"

// sealHeader marks a sealed snapshot file. Everything after it is the
// base64-encoded nonce plus AES-GCM ciphertext.
const sealHeader = "# stackform sealed state v1\n"

// IsEncrypted reports whether the content is a sealed snapshot.
func IsEncrypted(content []byte) bool {
	return bytes.HasPrefix(content, []byte(sealHeader))
}

// Encrypt seals the content with the key derived from the environment
// passphrase. Without a passphrase the content passes through as is.
func Encrypt(content []byte) ([]byte, error) {
	gcm, configured, err := cipherFromEnv()
	if err != nil {
		return nil, err
	}
	if !configured {
		return content, nil
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, content, nil)
	return []byte(sealHeader + base64.StdEncoding.EncodeToString(sealed) + "\n"), nil
}

// Decrypt unseals sealed content; plain content passes through.
func Decrypt(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}

	gcm, configured, err := cipherFromEnv()
	if err != nil {
		return nil, err
	}
	if !configured {
		return nil, fmt.Errorf("state is encrypted but %s is not set", EncryptionKeyEnvVar)
	}

	encoded := strings.TrimSpace(strings.TrimPrefix(string(content), sealHeader))
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("sealed state is not valid base64: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed state is truncated")
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal state, the key may be wrong: %w", err)
	}
	return plain, nil
}

// cipherFromEnv builds the AEAD from the environment passphrase.
// configured is false when no passphrase is set.
func cipherFromEnv() (gcm cipher.AEAD, configured bool, err error) {
	passphrase := os.Getenv(EncryptionKeyEnvVar)
	if passphrase == "" {
		return nil, false, nil
	}

	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, false, fmt.Errorf("failed to initialize state cipher: %w", err)
	}
	gcm, err = cipher.NewGCM(block)
	if err != nil {
		return nil, false, fmt.Errorf("failed to initialize state cipher: %w", err)
	}
	return gcm, true, nil
}
