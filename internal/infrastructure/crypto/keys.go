package crypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StoredKey is the on-disk key format.
type StoredKey struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// SaveKey stores a key at path with owner-only permissions.
func SaveKey(key []byte, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	stored := StoredKey{
		Type: "xchacha20poly1305",
		Key:  base64.StdEncoding.EncodeToString(key),
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize key: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// LoadKey loads a key from file with permission validation.
func LoadKey(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat key file: %w", err)
	}

	// Key files readable by group or world are rejected.
	if info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("key file %s has too-open permissions %v, want 0600", path, info.Mode().Perm())
	}

	data, err := os.ReadFile(path) // #nosec G304 - path comes from the app data directory
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	var stored StoredKey
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}

	key, err := base64.StdEncoding.DecodeString(stored.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// LoadOrCreateKey loads the key at path, generating and saving a new one
// if the file does not exist.
func LoadOrCreateKey(path string) ([]byte, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		key, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := SaveKey(key, path); err != nil {
			return nil, err
		}
		return key, nil
	}
	return LoadKey(path)
}
