package store

import (
	"bytes"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"edusync/internal/infrastructure/storage/memory"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// xorCipher is a toy symmetric cipher for tests.
type xorCipher struct{ key byte }

func (c xorCipher) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ c.key
	}
	return out, nil
}

func (c xorCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	return c.Encrypt(ciphertext)
}

// failingBackend rejects all writes.
type failingBackend struct{ memory.Backend }

func (b *failingBackend) Set(key string, value []byte) error {
	return errors.New("disk full")
}

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour // keep the sweep out of the way
	}
	s := New(cfg)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	s := newTestStore(t, Config{})

	value := map[string]any{"name": "Kim", "score": float64(92)}
	if _, err := s.Store("student:1", value, Options{UserID: "t1"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := s.Retrieve("student:1")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if !reflect.DeepEqual(got, value) {
		t.Errorf("got %v, want %v", got, value)
	}

	got, err = s.Retrieve("student:missing")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing key, got %v", got)
	}
}

func TestStoreVersionIncrements(t *testing.T) {
	s := newTestStore(t, Config{})

	for i := 1; i <= 3; i++ {
		entry, err := s.Store("k", i, Options{})
		if err != nil {
			t.Fatalf("Store #%d failed: %v", i, err)
		}
		if entry.Metadata.Version != int64(i) {
			t.Errorf("write #%d: version = %d, want %d", i, entry.Metadata.Version, i)
		}
	}

	entry, _ := s.Peek("k")
	if entry.Metadata.Checksum == "" {
		t.Error("expected checksum to be set")
	}
}

func TestStoreCreatedAtPreserved(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, Config{Clock: clock})

	first, err := s.Store("k", "a", Options{})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	clock.Advance(time.Minute)
	second, err := s.Store("k", "b", Options{})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if !second.Metadata.CreatedAt.Equal(first.Metadata.CreatedAt) {
		t.Error("CreatedAt changed on rewrite")
	}
	if !second.Metadata.UpdatedAt.After(first.Metadata.UpdatedAt) {
		t.Error("UpdatedAt did not advance")
	}
}

func TestStorePersistentSurvivesRestart(t *testing.T) {
	backend := memory.New()

	s1 := newTestStore(t, Config{Backend: backend})
	value := map[string]any{"title": "Algebra", "capacity": float64(30)}
	if _, err := s1.Store("class:1", value, Options{Persistent: true}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	s1.Close()

	s2 := newTestStore(t, Config{Backend: backend})
	got, err := s2.Retrieve("class:1")
	if err != nil {
		t.Fatalf("Retrieve after restart failed: %v", err)
	}
	if !reflect.DeepEqual(got, value) {
		t.Errorf("got %v, want %v", got, value)
	}

	entry, ok := s2.Peek("class:1")
	if !ok {
		t.Fatal("entry not cached after backend load")
	}
	if entry.Metadata.Version != 1 {
		t.Errorf("version = %d, want 1", entry.Metadata.Version)
	}
}

func TestStoreEncryptedAtRest(t *testing.T) {
	backend := memory.New()
	cipher := xorCipher{key: 0x5a}

	s1 := newTestStore(t, Config{Backend: backend, Cipher: cipher})
	if _, err := s1.Store("secret", "grade data", Options{Persistent: true, Encrypted: true}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// The backend must never see the plaintext.
	raw, ok, _ := backend.Get("entry:secret")
	if !ok {
		t.Fatal("entry not persisted")
	}
	if bytes.Contains(raw, []byte("grade data")) {
		t.Error("plaintext leaked into the backend")
	}
	s1.Close()

	s2 := newTestStore(t, Config{Backend: backend, Cipher: cipher})
	got, err := s2.Retrieve("secret")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if got != "grade data" {
		t.Errorf("got %v, want %q", got, "grade data")
	}
}

func TestStoreEncryptedWithoutCipher(t *testing.T) {
	s := newTestStore(t, Config{Backend: memory.New()})

	_, err := s.Store("k", "v", Options{Persistent: true, Encrypted: true})
	if err == nil {
		t.Fatal("expected error without cipher")
	}
	if _, err := s.Retrieve("k"); err != nil {
		t.Fatalf("failed write must leave store readable: %v", err)
	}
}

func TestStoreUpdateConflict(t *testing.T) {
	s := newTestStore(t, Config{})

	if _, err := s.Store("k", 1, Options{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	_, err := s.Update("k", func(current any) any {
		// A competing writer lands between read and commit.
		if _, err := s.Store("k", 99, Options{}); err != nil {
			t.Fatalf("competing Store failed: %v", err)
		}
		return 2
	}, Options{})

	if !IsConflict(err) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, _ := s.Retrieve("k")
	if got != 99 {
		t.Errorf("losing update must not apply: got %v, want 99", got)
	}
}

func TestStoreUpdateFromAbsent(t *testing.T) {
	s := newTestStore(t, Config{})

	entry, err := s.Update("counter", func(current any) any {
		if current != nil {
			t.Errorf("expected nil current for absent key, got %v", current)
		}
		return 1
	}, Options{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if entry.Metadata.Version != 1 {
		t.Errorf("version = %d, want 1", entry.Metadata.Version)
	}
}

func TestStoreUpdateOnExpiredKey(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, Config{Clock: clock})

	if _, err := s.Store("tmp", 5, Options{ExpiresAt: clock.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	clock.Advance(2 * time.Minute)

	// The expired entry is still in the map; Update must see the key as
	// absent, not report a phantom conflict against the dead version.
	entry, err := s.Update("tmp", func(current any) any {
		if current != nil {
			t.Errorf("expected nil current for expired key, got %v", current)
		}
		return 6
	}, Options{})
	if err != nil {
		t.Fatalf("Update on expired key failed: %v", err)
	}
	if entry.Metadata.Version != 1 {
		t.Errorf("version = %d, want 1", entry.Metadata.Version)
	}
	if got, _ := s.Retrieve("tmp"); got != 6 {
		t.Errorf("got %v, want 6", got)
	}
}

func TestStoreCorruptionDetectedOnRead(t *testing.T) {
	s := newTestStore(t, Config{})

	if _, err := s.Store("grade:1", "A", Options{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Flip the data behind the checksum's back.
	entry, ok := s.Peek("grade:1")
	if !ok {
		t.Fatal("entry missing")
	}
	entry.Data = "F"

	got, err := s.Retrieve("grade:1")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if got != "F" {
		t.Errorf("corrupted read returned %v, want the stored data", got)
	}
	if s.Stats().Corruptions != 1 {
		t.Errorf("corruptions = %d, want 1", s.Stats().Corruptions)
	}

	// Every corrupted read counts.
	s.Retrieve("grade:1")
	if s.Stats().Corruptions != 2 {
		t.Errorf("corruptions = %d, want 2", s.Stats().Corruptions)
	}
}

func TestStoreLazyExpiration(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, Config{Clock: clock})

	opts := Options{ExpiresAt: clock.Now().Add(time.Minute)}
	if _, err := s.Store("tmp", "v", opts); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if got, _ := s.Retrieve("tmp"); got != "v" {
		t.Fatalf("got %v before expiry, want v", got)
	}

	clock.Advance(2 * time.Minute)
	if got, _ := s.Retrieve("tmp"); got != nil {
		t.Errorf("expected nil after expiry, got %v", got)
	}
	if _, ok := s.Peek("tmp"); ok {
		t.Error("expired entry still present after lazy eviction")
	}
}

func TestStoreSweepEvictsExpired(t *testing.T) {
	clock := newFakeClock()
	backend := memory.New()
	s := newTestStore(t, Config{Clock: clock, Backend: backend})

	opts := Options{Persistent: true, ExpiresAt: clock.Now().Add(time.Minute)}
	if _, err := s.Store("tmp", "v", opts); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := s.Store("keep", "v", Options{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	clock.Advance(2 * time.Minute)
	s.sweepOnce()

	stats := s.Stats()
	if stats.Entries != 1 {
		t.Errorf("entries = %d, want 1", stats.Entries)
	}
	if stats.SweepEvictions != 1 {
		t.Errorf("sweep evictions = %d, want 1", stats.SweepEvictions)
	}
	if _, ok, _ := backend.Get("entry:tmp"); ok {
		t.Error("expired entry not removed from backend")
	}

	// A second sweep over the same state is a no-op.
	s.sweepOnce()
	if s.Stats().SweepEvictions != 1 {
		t.Error("sweep eviction counted twice for one entry")
	}
}

func TestStoreListeners(t *testing.T) {
	s := newTestStore(t, Config{})

	var got []any
	unsubscribe := s.Subscribe("k", func(data any) {
		got = append(got, data)
	})

	s.Store("k", "a", Options{})
	s.Store("other", "x", Options{}) // different key, no notification
	s.Remove("k")

	want := []any{"a", nil}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}

	unsubscribe()
	s.Store("k", "b", Options{})
	if len(got) != 2 {
		t.Error("listener fired after unsubscribe")
	}
}

func TestStoreRemoveMissingIsNoop(t *testing.T) {
	s := newTestStore(t, Config{})

	fired := false
	s.Subscribe("ghost", func(data any) { fired = true })

	if err := s.Remove("ghost"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if fired {
		t.Error("listener fired for removal of a missing key")
	}
}

func TestStoreBackendFailureLeavesStateUntouched(t *testing.T) {
	s := newTestStore(t, Config{Backend: &failingBackend{}})

	if _, err := s.Store("k", "old", Options{}); err != nil {
		t.Fatalf("memory-only Store failed: %v", err)
	}

	fired := false
	s.Subscribe("k", func(data any) { fired = true })

	_, err := s.Store("k", "new", Options{Persistent: true})
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}

	if got, _ := s.Retrieve("k"); got != "old" {
		t.Errorf("failed write mutated state: got %v", got)
	}
	if fired {
		t.Error("listener fired for a failed write")
	}
}

func TestStoreKeysMergesBackend(t *testing.T) {
	backend := memory.New()

	s1 := newTestStore(t, Config{Backend: backend})
	s1.Store("b", 1, Options{Persistent: true})
	s1.Close()

	s2 := newTestStore(t, Config{Backend: backend})
	s2.Store("a", 2, Options{})

	keys, err := s2.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	want := []string{"a", "b"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func TestStoreClosed(t *testing.T) {
	s := New(Config{SweepInterval: time.Hour})
	s.Close()

	if _, err := s.Store("k", "v", Options{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Store after Close: got %v, want ErrClosed", err)
	}
	if _, err := s.Retrieve("k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Retrieve after Close: got %v, want ErrClosed", err)
	}

	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
