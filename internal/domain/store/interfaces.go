package store

import "time"

// Backend is the durable backing medium for persistent entries. A minimal
// in-memory implementation suffices for ephemeral deployments; production
// uses the BadgerDB backend.
type Backend interface {
	// Get returns the stored bytes for a key. The boolean reports
	// whether the key exists.
	Get(key string) ([]byte, bool, error)

	// Set stores bytes under a key, replacing any previous value.
	Set(key string, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys lists stored keys with the given prefix.
	Keys(prefix string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// Clock supplies the current time. Injectable so expiration logic is
// testable without real time passing.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Cipher encrypts entry payloads at rest. Implementations must be
// authenticated; the chacha20poly1305 implementation lives in
// infrastructure/crypto.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}
