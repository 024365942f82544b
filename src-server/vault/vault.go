// The `vault` package keeps calendar-source credentials encrypted at rest.
// Plaintext only exists transiently inside a sync run and must never be
// logged.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Vault is the opaque encrypt/decrypt capability the sync core consumes.
// Both operations are pure; neither logs its inputs.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AESVault implements Vault with AES-256-GCM. Each Encrypt uses a fresh
// random nonce prepended to the ciphertext; the whole blob is base64 for
// storage. Safe for concurrent use.
type AESVault struct {
	key []byte
}

var _ Vault = (*AESVault)(nil)

// NewAESVault derives a 32-byte AES key from the passphrase with PBKDF2.
func NewAESVault(passphrase string) (*AESVault, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("NewAESVault: passphrase is blank")
	}

	// static salt keeps derivation deterministic across restarts
	salt := []byte("davsync-vault-salt")
	key := pbkdf2.Key([]byte(passphrase), salt, 10000, 32, sha256.New)

	return &AESVault{key: key}, nil
}

func (v *AESVault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("(*AESVault).Encrypt: can't create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("(*AESVault).Encrypt: can't create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("(*AESVault).Encrypt: can't create nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (v *AESVault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("(*AESVault).Decrypt: can't decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("(*AESVault).Decrypt: can't create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("(*AESVault).Decrypt: can't create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("(*AESVault).Decrypt: ciphertext shorter than nonce")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("(*AESVault).Decrypt: can't decrypt: %w", err)
	}
	return string(plaintext), nil
}
