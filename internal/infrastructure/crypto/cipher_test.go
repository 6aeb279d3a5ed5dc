package crypto

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	cipher, err := NewAEADCipher(key)
	if err != nil {
		t.Fatalf("NewAEADCipher failed: %v", err)
	}

	plaintext := []byte(`{"grade":95,"student":"u1"}`)
	sealed, err := cipher.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("ciphertext contains plaintext")
	}

	opened, err := cipher.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Error("round trip mismatch")
	}

	// Same plaintext seals to different bytes (random nonce).
	sealed2, _ := cipher.Encrypt(plaintext)
	if bytes.Equal(sealed, sealed2) {
		t.Error("nonce reuse: identical ciphertexts")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	key, _ := GenerateKey()
	cipher, _ := NewAEADCipher(key)

	sealed, _ := cipher.Encrypt([]byte("attendance record"))
	sealed[len(sealed)-1] ^= 0x01

	if _, err := cipher.Decrypt(sealed); err == nil {
		t.Error("tampered ciphertext accepted")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	c1, _ := NewAEADCipher(key1)
	c2, _ := NewAEADCipher(key2)

	sealed, _ := c1.Encrypt([]byte("secret"))
	if _, err := c2.Decrypt(sealed); err == nil {
		t.Error("wrong key accepted")
	}
}

func TestDecryptRejectsShortInput(t *testing.T) {
	key, _ := GenerateKey()
	cipher, _ := NewAEADCipher(key)

	if _, err := cipher.Decrypt([]byte("short")); err == nil {
		t.Error("short ciphertext accepted")
	}
}

func TestNewAEADCipherRejectsBadKey(t *testing.T) {
	if _, err := NewAEADCipher([]byte("too short")); err == nil {
		t.Error("short key accepted")
	}
}

func TestKeyPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")

	key1, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateKey failed: %v", err)
	}
	if len(key1) != KeySize {
		t.Fatalf("key length = %d, want %d", len(key1), KeySize)
	}

	// Second load returns the same key.
	key2, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("second LoadOrCreateKey failed: %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("key changed between loads")
	}
}
