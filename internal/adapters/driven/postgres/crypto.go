package postgres

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// secretVersion is the version byte for the encrypted blob format.
	secretVersion = 0x01

	nonceSize = 12
	keySize   = 32

	keyInfo = "callbridge/provider-token-secrets/v1"
)

var (
	// ErrInvalidKeySize is returned when the encryption key is not 32 bytes.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")

	// ErrInvalidBlobSize is returned when the encrypted blob is too small.
	ErrInvalidBlobSize = errors.New("encrypted blob is too small")

	// ErrUnsupportedVersion is returned when the blob version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported secret blob version")

	// ErrDecryptionFailed is returned on a wrong key, corrupted data, or a blob
	// read back under a different owner than it was sealed for.
	ErrDecryptionFailed = errors.New("failed to decrypt secret blob")
)

// tokenSecrets is the encrypted part of a token row.
type tokenSecrets struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// DeriveKey stretches a configured secret into an AES-256 key with HKDF-SHA256.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidKeySize)
	}
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// SecretEncryptor seals token secrets with AES-256-GCM.
// Blob format: version(1) || nonce(12) || ciphertext(N). The owner key is
// bound as additional data so a blob cannot be moved to another user's row.
type SecretEncryptor struct {
	gcm cipher.AEAD
}

// NewSecretEncryptor creates a new encryptor with the given 32-byte key.
func NewSecretEncryptor(key []byte) (*SecretEncryptor, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &SecretEncryptor{gcm: gcm}, nil
}

// Seal encrypts secrets for the given owner.
func (e *SecretEncryptor) Seal(secrets tokenSecrets, owner string) ([]byte, error) {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return nil, fmt.Errorf("marshal secrets: %w", err)
	}

	blob := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+e.gcm.Overhead())
	blob[0] = secretVersion
	if _, err := rand.Read(blob[1 : 1+nonceSize]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return e.gcm.Seal(blob, blob[1:1+nonceSize], plaintext, []byte(owner)), nil
}

// Open decrypts a blob sealed for owner.
func (e *SecretEncryptor) Open(blob []byte, owner string) (tokenSecrets, error) {
	var secrets tokenSecrets

	if len(blob) < 1+nonceSize+e.gcm.Overhead() {
		return secrets, ErrInvalidBlobSize
	}
	if blob[0] != secretVersion {
		return secrets, fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, blob[0])
	}

	plaintext, err := e.gcm.Open(nil, blob[1:1+nonceSize], blob[1+nonceSize:], []byte(owner))
	if err != nil {
		return secrets, ErrDecryptionFailed
	}

	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return secrets, fmt.Errorf("unmarshal secrets: %w", err)
	}
	return secrets, nil
}
