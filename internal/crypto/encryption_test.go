package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestMain(m *testing.M) {
	testKey := make([]byte, 32)
	_, _ = rand.Read(testKey)
	os.Setenv(EnvKey, base64.StdEncoding.EncodeToString(testKey))

	if err := InitEncryption(); err != nil {
		panic("Failed to initialize encryption for tests: " + err.Error())
	}

	code := m.Run()

	os.Unsetenv(EnvKey)
	os.Exit(code)
}

func TestEncryptDecrypt(t *testing.T) {
	t.Run("Should round-trip a token", func(t *testing.T) {
		encrypted, err := Encrypt("sk-live-123456")
		require.NoError(t, err)
		assert.NotEqual(t, "sk-live-123456", encrypted)

		decrypted, err := Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, "sk-live-123456", decrypted)
	})

	t.Run("Should use a fresh nonce per call", func(t *testing.T) {
		a, err := Encrypt("same")
		require.NoError(t, err)
		b, err := Encrypt("same")
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
	})

	t.Run("Should reject invalid base64", func(t *testing.T) {
		_, err := Decrypt("invalid-base64-data!!!")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode base64")
	})

	t.Run("Should reject ciphertext shorter than the nonce", func(t *testing.T) {
		_, err := Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ciphertext too short")
	})

	t.Run("Should reject tampered ciphertext", func(t *testing.T) {
		encrypted, err := Encrypt("token")
		require.NoError(t, err)

		raw, _ := base64.StdEncoding.DecodeString(encrypted)
		raw[len(raw)-1] ^= 0xff

		_, err = Decrypt(base64.StdEncoding.EncodeToString(raw))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decrypt")
	})
}

func TestTokenHelpers(t *testing.T) {
	t.Run("Should keep empty tokens empty", func(t *testing.T) {
		enc, err := EncryptToken("")
		require.NoError(t, err)
		assert.Empty(t, enc)

		dec, err := DecryptToken("")
		require.NoError(t, err)
		assert.Empty(t, dec)
	})

	t.Run("Should round-trip non-empty tokens", func(t *testing.T) {
		enc, err := EncryptToken("abc")
		require.NoError(t, err)

		dec, err := DecryptToken(enc)
		require.NoError(t, err)
		assert.Equal(t, "abc", dec)
	})

	t.Run("Should mask all but the last four characters", func(t *testing.T) {
		assert.Equal(t, "****5678", MaskToken("12345678"))
		assert.Equal(t, "***", MaskToken("abc"))
		assert.Equal(t, "", MaskToken(""))
	})
}

func TestInitEncryption(t *testing.T) {
	t.Run("Should hash raw string keys to 32 bytes", func(t *testing.T) {
		oldKey := encryptionKey
		t.Cleanup(func() { encryptionKey = oldKey })

		t.Setenv(EnvKey, "not-base64-raw-key")
		require.NoError(t, InitEncryption())
		assert.Len(t, encryptionKey, 32)
	})

	t.Run("Should load the key from the keychain when no env key is set", func(t *testing.T) {
		oldKey := encryptionKey
		t.Cleanup(func() { encryptionKey = oldKey })

		keyring.MockInit()
		t.Setenv(EnvKey, "")

		require.NoError(t, InitEncryption())
		first := append([]byte(nil), encryptionKey...)
		assert.True(t, IsKeyStored())

		require.NoError(t, InitEncryption())
		assert.Equal(t, first, encryptionKey, "second init should reuse the stored key")

		require.NoError(t, DeleteKey())
		assert.False(t, IsKeyStored())
	})

	t.Run("Should fail when not initialized", func(t *testing.T) {
		oldKey := encryptionKey
		t.Cleanup(func() { encryptionKey = oldKey })
		encryptionKey = nil

		_, err := Encrypt("x")
		assert.ErrorIs(t, err, ErrNotInitialized)
	})
}
