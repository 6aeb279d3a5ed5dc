// Package integrity computes content checksums used to detect accidental
// corruption of stored state. Checksums are not a security control.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SerializationError indicates a value could not be serialized for
// checksumming or storage. Treated as a caller bug, not retried.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization failed: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Checksum returns a deterministic SHA-256 hex digest of the value.
// The value is canonicalized before hashing: it is round-tripped through
// JSON so that struct field order and map iteration order do not affect
// the digest (encoding/json emits map keys sorted).
func Checksum(value any) (string, error) {
	data, err := Canonical(value)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Canonical returns the canonical JSON encoding of a value.
// Two values that are deep-equal after JSON round-tripping always
// produce identical bytes.
func Canonical(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}

	// Round-trip through an untyped tree so structs and maps collapse to
	// the same representation with sorted keys.
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, &SerializationError{Err: err}
	}

	canonical, err := json.Marshal(tree)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}

	return canonical, nil
}

// Verify recomputes the checksum of value and compares it to want.
// Returns false on any serialization failure.
func Verify(value any, want string) bool {
	got, err := Checksum(value)
	if err != nil {
		return false
	}
	return got == want
}
