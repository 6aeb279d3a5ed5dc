// Package snapshot reads and writes compressed state snapshots used for
// backup and restore of exported state.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// CompressionType defines the compression algorithm used.
type CompressionType byte

const (
	CompressionNone CompressionType = 0x00
	CompressionZstd CompressionType = 0x01
)

// compressionThreshold is the minimum size for compression (1KB).
const compressionThreshold = 1024

// compressionRatio is the minimum reduction to keep a compressed frame.
const compressionRatio = 0.8

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
	}
}

// Pack frames data, compressing when large enough and beneficial.
// Frame format: [1 byte type][4 bytes original size][payload]
func Pack(data []byte) []byte {
	if len(data) < compressionThreshold {
		return frame(CompressionNone, data, len(data))
	}

	compressed := encoder.EncodeAll(data, nil)
	if float64(len(compressed)) < float64(len(data))*compressionRatio {
		return frame(CompressionZstd, compressed, len(data))
	}
	return frame(CompressionNone, data, len(data))
}

// Unpack reverses Pack.
func Unpack(framed []byte) ([]byte, error) {
	if len(framed) < 5 {
		return nil, fmt.Errorf("snapshot too short: %d bytes", len(framed))
	}

	ctype := CompressionType(framed[0])
	origSize := binary.BigEndian.Uint32(framed[1:5])
	payload := framed[5:]

	switch ctype {
	case CompressionNone:
		return payload, nil
	case CompressionZstd:
		data, err := decoder.DecodeAll(payload, make([]byte, 0, origSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompression failed: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown compression type 0x%02x", byte(ctype))
	}
}

func frame(ctype CompressionType, payload []byte, origSize int) []byte {
	out := make([]byte, 5+len(payload))
	out[0] = byte(ctype)
	binary.BigEndian.PutUint32(out[1:5], uint32(origSize))
	copy(out[5:], payload)
	return out
}

// WriteFile packs an exported state map into a snapshot file.
func WriteFile(path string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	if err := os.WriteFile(path, Pack(raw), 0600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// ReadFile loads a snapshot file back into a state map.
func ReadFile(path string) (map[string]any, error) {
	framed, err := os.ReadFile(path) // #nosec G304 - path chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	raw, err := Unpack(framed)
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return data, nil
}
