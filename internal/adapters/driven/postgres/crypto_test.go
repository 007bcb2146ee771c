package postgres

import (
	"bytes"
	"errors"
	"testing"
)

func testEncryptor(t *testing.T) *SecretEncryptor {
	t.Helper()
	key, err := DeriveKey("test-encryption-secret")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	enc, err := NewSecretEncryptor(key)
	if err != nil {
		t.Fatalf("NewSecretEncryptor: %v", err)
	}
	return enc
}

func TestSecretEncryptor_RoundTrip(t *testing.T) {
	enc := testEncryptor(t)
	original := tokenSecrets{AccessToken: "at-abc", RefreshToken: "rt-xyz"}

	blob, err := enc.Seal(original, "user-1|goto")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if blob[0] != secretVersion {
		t.Errorf("version byte: got %d, want %d", blob[0], secretVersion)
	}
	if bytes.Contains(blob, []byte("at-abc")) {
		t.Error("blob contains plaintext token")
	}

	got, err := enc.Open(blob, "user-1|goto")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != original {
		t.Errorf("got %+v, want %+v", got, original)
	}
}

func TestSecretEncryptor_UniqueNonces(t *testing.T) {
	enc := testEncryptor(t)
	a, _ := enc.Seal(tokenSecrets{AccessToken: "same"}, "o")
	b, _ := enc.Seal(tokenSecrets{AccessToken: "same"}, "o")
	if bytes.Equal(a, b) {
		t.Error("expected different blobs for the same plaintext")
	}
}

func TestSecretEncryptor_OwnerBinding(t *testing.T) {
	enc := testEncryptor(t)
	blob, _ := enc.Seal(tokenSecrets{AccessToken: "at"}, "user-1|goto")

	if _, err := enc.Open(blob, "user-2|goto"); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed for a foreign owner, got %v", err)
	}
}

func TestSecretEncryptor_WrongKey(t *testing.T) {
	enc := testEncryptor(t)
	blob, _ := enc.Seal(tokenSecrets{AccessToken: "at"}, "o")

	otherKey, _ := DeriveKey("another-secret")
	other, _ := NewSecretEncryptor(otherKey)
	if _, err := other.Open(blob, "o"); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestSecretEncryptor_InvalidBlobs(t *testing.T) {
	enc := testEncryptor(t)
	blob, _ := enc.Seal(tokenSecrets{AccessToken: "at"}, "o")

	if _, err := enc.Open(blob[:5], "o"); !errors.Is(err, ErrInvalidBlobSize) {
		t.Errorf("expected ErrInvalidBlobSize, got %v", err)
	}

	bad := append([]byte{}, blob...)
	bad[0] = 0x7f
	if _, err := enc.Open(bad, "o"); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}

	tampered := append([]byte{}, blob...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := enc.Open(tampered, "o"); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestSecretEncryptor_InvalidKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 64} {
		if _, err := NewSecretEncryptor(make([]byte, size)); !errors.Is(err, ErrInvalidKeySize) {
			t.Errorf("size %d: expected ErrInvalidKeySize, got %v", size, err)
		}
	}
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey("secret")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	b, _ := DeriveKey("secret")
	c, _ := DeriveKey("secret2")

	if len(a) != keySize {
		t.Errorf("expected %d-byte key, got %d", keySize, len(a))
	}
	if !bytes.Equal(a, b) {
		t.Error("derivation must be deterministic")
	}
	if bytes.Equal(a, c) {
		t.Error("different secrets must give different keys")
	}
	if _, err := DeriveKey(""); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("expected error for empty secret, got %v", err)
	}
}
