package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"chatcourier/internal/constants"
)

const (
	encryptionEnabledEnvVar = "CHATCOURIER_ENABLE_ENCRYPTION"
	encryptionSecretEnvVar  = "CHATCOURIER_ENCRYPTION_SECRET"

	minSecretLength = 16
)

// encryptor provides optional at-rest encryption for sensitive columns
// (payloads, replies, reminder text). Content hashes stay plaintext so the
// UNIQUE dedup constraint keeps working.
type encryptor struct {
	gcm     cipher.AEAD
	enabled bool
}

func newEncryptor() (*encryptor, error) {
	if strings.ToLower(os.Getenv(encryptionEnabledEnvVar)) != "true" {
		return &encryptor{enabled: false}, nil
	}

	secret := os.Getenv(encryptionSecretEnvVar)
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("%s must be at least %d characters when encryption is enabled", encryptionSecretEnvVar, minSecretLength)
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), constants.EncryptionIterations, constants.EncryptionKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm, enabled: true}, nil
}

func (e *encryptor) encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (e *encryptor) decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(data) < e.gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:e.gcm.NonceSize()], data[e.gcm.NonceSize():]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// encryptIfEnabled returns the value unchanged when encryption is off.
func (e *encryptor) encryptIfEnabled(value string) (string, error) {
	if !e.enabled {
		return value, nil
	}
	return e.encrypt(value)
}

// decryptIfEnabled tolerates plaintext rows written before encryption was
// turned on: when decoding or decryption fails, the stored value is returned
// as-is.
func (e *encryptor) decryptIfEnabled(value string) (string, error) {
	if !e.enabled {
		return value, nil
	}
	decrypted, err := e.decrypt(value)
	if err != nil {
		return value, nil
	}
	return decrypted, nil
}
