// Package crypto protects the API tokens stored in backend profiles.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// EnvKey overrides the keychain-held key (development and tests)
const EnvKey = "DOCRAG_ENCRYPTION_KEY"

var (
	encryptionKey []byte

	// ErrNotInitialized is returned before InitEncryption succeeded
	ErrNotInitialized = errors.New("encryption not initialized")
)

// InitEncryption loads the AES-256 key, preferring DOCRAG_ENCRYPTION_KEY over
// the OS keychain. A key that is not valid base64 of 32 bytes is hashed down
// to 32 bytes.
func InitEncryption() error {
	if keyString := os.Getenv(EnvKey); keyString != "" {
		encryptionKey = deriveKey(keyString)
		return nil
	}

	key, err := GenerateOrLoadKey()
	if err != nil {
		return fmt.Errorf("failed to initialize encryption from keystore: %w", err)
	}

	encryptionKey = key
	return nil
}

func deriveKey(keyString string) []byte {
	keyBytes, err := base64.StdEncoding.DecodeString(keyString)
	if err != nil {
		keyBytes = []byte(keyString)
	}
	if len(keyBytes) == 32 {
		return keyBytes
	}
	hash := sha256.Sum256(keyBytes)
	return hash[:]
}

// IsInitialized checks if encryption has been initialized
func IsInitialized() bool {
	return len(encryptionKey) > 0
}

func newGCM() (cipher.AEAD, error) {
	if len(encryptionKey) == 0 {
		return nil, ErrNotInitialized
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with AES-256-GCM and returns base64(nonce|ciphertext)
func Encrypt(plaintext string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt
func Decrypt(ciphertextB64 string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// EncryptToken encrypts an API token for storage. An empty token stays empty
// so profiles without authentication need no key.
func EncryptToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	return Encrypt(token)
}

// DecryptToken decrypts a stored API token; empty input yields an empty token
func DecryptToken(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}
	return Decrypt(encrypted)
}

// MaskToken renders a token for display, keeping only the last four characters
func MaskToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}
