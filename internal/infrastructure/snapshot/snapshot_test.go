package snapshot

import (
	"bytes"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestPackSmallDataUncompressed(t *testing.T) {
	data := []byte("small payload")
	framed := Pack(data)

	if CompressionType(framed[0]) != CompressionNone {
		t.Errorf("small payload was compressed")
	}

	out, err := Unpack(framed)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("round trip mismatch")
	}
}

func TestPackLargeDataCompressed(t *testing.T) {
	// Highly repetitive, well past the threshold.
	data := []byte(strings.Repeat("classroom state entry ", 200))
	framed := Pack(data)

	if CompressionType(framed[0]) != CompressionZstd {
		t.Error("compressible payload was not compressed")
	}
	if len(framed) >= len(data) {
		t.Errorf("framed size %d not smaller than original %d", len(framed), len(data))
	}

	out, err := Unpack(framed)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("round trip mismatch")
	}
}

func TestUnpackRejectsGarbage(t *testing.T) {
	if _, err := Unpack([]byte{0x01}); err == nil {
		t.Error("short frame accepted")
	}
	if _, err := Unpack([]byte{0xff, 0, 0, 0, 0, 1, 2}); err == nil {
		t.Error("unknown compression type accepted")
	}
}

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.snap")

	state := map[string]any{
		"user:u1":  map[string]any{"name": "Kim", "role": "teacher"},
		"class:c1": map[string]any{"code": "MATH101"},
	}

	if err := WriteFile(path, state); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !reflect.DeepEqual(got, state) {
		t.Errorf("got %v, want %v", got, state)
	}
}
