package badger

import (
	"fmt"
	"os"
	"reflect"
	"testing"
	"time"

	"edusync/internal/domain/audit"
)

func newTestBackend(t *testing.T, name string) *Backend {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "edusync-badger-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	b, err := Open(tmpDir, name)
	if err != nil {
		t.Fatalf("failed to open backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBackendSetGet(t *testing.T) {
	b := newTestBackend(t, "state")

	if err := b.Set("entry:user:1", []byte(`{"name":"Kim"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok, err := b.Get("entry:user:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
	if string(value) != `{"name":"Kim"}` {
		t.Errorf("got %s", value)
	}

	_, ok, err = b.Get("entry:missing")
	if err != nil {
		t.Fatalf("Get missing failed: %v", err)
	}
	if ok {
		t.Error("missing key reported as existing")
	}
}

func TestBackendDelete(t *testing.T) {
	b := newTestBackend(t, "state")

	b.Set("entry:k", []byte("v"))
	if err := b.Delete("entry:k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := b.Get("entry:k"); ok {
		t.Error("key still present after delete")
	}

	// Deleting a missing key is not an error.
	if err := b.Delete("entry:missing"); err != nil {
		t.Errorf("Delete of missing key failed: %v", err)
	}
}

func TestBackendKeys(t *testing.T) {
	b := newTestBackend(t, "state")

	b.Set("entry:a", []byte("1"))
	b.Set("entry:b", []byte("2"))
	b.Set("other:c", []byte("3"))

	keys, err := b.Keys("entry:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	want := []string{"entry:a", "entry:b"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func newTestSink(t *testing.T, maxKeep int64) (*AuditSink, *Backend) {
	t.Helper()
	b := newTestBackend(t, "audit")
	sink := NewAuditSink(b.DB(), 0, maxKeep)
	return sink, b
}

func auditEntry(id string, ts time.Time, userID, action string) *audit.Entry {
	return &audit.Entry{
		ID:        id,
		Timestamp: ts,
		UserID:    userID,
		UserRole:  "teacher",
		Action:    action,
		Resource:  "assignment",
		Success:   true,
	}
}

func TestAuditSinkPersistsEntries(t *testing.T) {
	sink, _ := newTestSink(t, 0)

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		entry := auditEntry(fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Second), "u1", "grade_update")
		if err := sink.Append(entry); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// Close drains the buffer and flushes.
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	count, err := sink.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}

	entries, err := sink.Query(audit.Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("query returned %d entries, want 5", len(entries))
	}
	// Time-ordered keys mean oldest first.
	if entries[0].ID != "e0" || entries[4].ID != "e4" {
		t.Errorf("entries out of order: first=%s last=%s", entries[0].ID, entries[4].ID)
	}
}

func TestAuditSinkQueryFilters(t *testing.T) {
	sink, _ := newTestSink(t, 0)

	base := time.Now().Add(-time.Minute)
	sink.Append(auditEntry("e1", base, "u1", "grade_update"))
	sink.Append(auditEntry("e2", base.Add(time.Second), "u2", "submit"))
	sink.Close()

	byUser, err := sink.Query(audit.Filter{UserID: "u2"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(byUser) != 1 || byUser[0].ID != "e2" {
		t.Errorf("user filter returned %v", byUser)
	}

	byTime, err := sink.Query(audit.Filter{From: base.Add(500 * time.Millisecond)})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(byTime) != 1 || byTime[0].ID != "e2" {
		t.Errorf("time filter returned %v", byTime)
	}
}

func TestAuditSinkTrimsToMaxKeep(t *testing.T) {
	sink, _ := newTestSink(t, 3)

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 10; i++ {
		sink.Append(auditEntry(fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Second), "u1", "view"))
	}
	sink.Close()

	count, err := sink.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	// The newest entries survive.
	entries, _ := sink.Query(audit.Filter{})
	if entries[0].ID != "e7" {
		t.Errorf("oldest surviving entry = %s, want e7", entries[0].ID)
	}
}

func TestAuditSinkCompact(t *testing.T) {
	sink, _ := newTestSink(t, 0)

	base := time.Now().Add(-2 * time.Hour)
	sink.Append(auditEntry("old", base, "u1", "view"))
	sink.Append(auditEntry("new", time.Now().Add(-time.Minute), "u1", "view"))
	sink.Close()

	deleted, err := sink.Compact(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	entries, _ := sink.Query(audit.Filter{})
	if len(entries) != 1 || entries[0].ID != "new" {
		t.Errorf("remaining entries = %v", entries)
	}
}
