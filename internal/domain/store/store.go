// Package store implements the durable key-value store at the heart of
// the state core. Entries carry an ownership and integrity envelope
// (owner, timestamps, monotonic version, checksum), optionally expire,
// and are optionally persisted encrypted to a pluggable backend.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"edusync/internal/domain/integrity"
)

// DefaultSweepInterval is how often the background sweep evicts expired
// entries. Lazy expiration on read is the other eviction path; both are
// idempotent.
const DefaultSweepInterval = 30 * time.Second

const entryPrefix = "entry:"

// Listener receives the new data for a key after a committed write, or
// nil after a removal.
type Listener func(data any)

// Config configures a Store.
type Config struct {
	// Backend persists entries stored with Options.Persistent. May be
	// nil, in which case all entries are memory-only.
	Backend Backend
	// Cipher seals persisted payloads for entries stored with
	// Options.Encrypted. Required if encrypted entries are used.
	Cipher Cipher
	// Clock defaults to the system clock.
	Clock Clock
	// Logger defaults to the standard logrus logger.
	Logger *logrus.Logger
	// SweepInterval defaults to DefaultSweepInterval.
	SweepInterval time.Duration
}

// Stats reports store counters.
type Stats struct {
	Entries        int   `json:"entries"`
	Persistent     int   `json:"persistent"`
	Corruptions    int64 `json:"corruptions"`
	SweepEvictions int64 `json:"sweepEvictions"`
}

// Store is a mutex-guarded key-value store with per-key listeners and a
// periodic expiration sweep.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	listeners map[string]map[string]Listener // key -> listenerID -> fn

	backend Backend
	cipher  Cipher
	clock   Clock
	log     *logrus.Logger

	corruptions int64
	evictions   int64
	closed      bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a store and starts its expiration sweep.
func New(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		entries:   make(map[string]*Entry),
		listeners: make(map[string]map[string]Listener),
		backend:   cfg.Backend,
		cipher:    cfg.Cipher,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go s.sweep(ctx, cfg.SweepInterval)

	return s
}

// Close stops the expiration sweep. It does not close the backend, which
// is owned by the composition root.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}

// Store writes a full entry for a key. The write is atomic: either the
// entry is committed to memory (and backend, when persistent) and
// listeners fire, or a StorageError is returned and nothing changed.
func (s *Store) Store(key string, data any, opts Options) (*Entry, error) {
	s.mu.Lock()
	entry, err := s.storeLocked(key, data, opts, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	fns := s.listenersFor(key)
	s.mu.Unlock()

	notify(fns, data)
	return entry, nil
}

// Update applies fn to the current value (nil when absent) and stores the
// result. The commit is guarded by a compare-and-swap on the entry
// version: if another writer has moved the key since the read, ErrConflict
// is returned and fn's result is discarded.
func (s *Store) Update(key string, fn func(current any) any, opts Options) (*Entry, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	var current any
	var version int64
	if e, ok := s.entries[key]; ok && !e.Expired(s.clock.Now()) {
		current = e.Data
		version = e.Metadata.Version
	}
	s.mu.RUnlock()

	// fn runs outside the lock; it may be arbitrarily slow.
	next := fn(current)

	s.mu.Lock()
	entry, err := s.storeLocked(key, next, opts, &version)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	fns := s.listenersFor(key)
	s.mu.Unlock()

	notify(fns, next)
	return entry, nil
}

// storeLocked builds and commits an entry. Callers hold the write lock.
// When expectVersion is non-nil the commit fails with ErrConflict unless
// the current version still matches.
func (s *Store) storeLocked(key string, data any, opts Options, expectVersion *int64) (*Entry, error) {
	if s.closed {
		return nil, ErrClosed
	}

	prev := s.entries[key]
	if prev != nil && prev.Expired(s.clock.Now()) {
		// Past its expiry but not yet evicted: the key counts as absent,
		// matching what a read would report.
		prev = nil
	}
	var prevVersion int64
	if prev != nil {
		prevVersion = prev.Metadata.Version
	}
	if expectVersion != nil && prevVersion != *expectVersion {
		return nil, ErrConflict
	}

	checksum, err := integrity.Checksum(data)
	if err != nil {
		return nil, &StorageError{Op: "store", Key: key, Err: err}
	}

	now := s.clock.Now()
	createdAt := now
	if prev != nil {
		createdAt = prev.Metadata.CreatedAt
	}

	entry := &Entry{
		ID:   key,
		Data: data,
		Metadata: Metadata{
			CreatedAt:  createdAt,
			UpdatedAt:  now,
			ExpiresAt:  opts.ExpiresAt,
			UserID:     opts.UserID,
			Role:       opts.Role,
			Persistent: opts.Persistent,
			Encrypted:  opts.Encrypted,
			Version:    prevVersion + 1,
			Checksum:   checksum,
		},
	}

	// Backend first: if the durable write fails, the in-memory map is
	// untouched and no listener fires.
	if opts.Persistent && s.backend != nil {
		encoded, err := s.encode(entry)
		if err != nil {
			return nil, &StorageError{Op: "store", Key: key, Err: err}
		}
		if err := s.backend.Set(entryPrefix+key, encoded); err != nil {
			return nil, &StorageError{Op: "store", Key: key, Err: err}
		}
	}

	s.entries[key] = entry
	return entry, nil
}

// Retrieve returns the data for a key, or nil when absent. A durable copy
// not yet in memory (e.g. after a restart) is loaded first. Expired
// entries are evicted lazily and reported as absent. A checksum mismatch
// is logged as a corruption warning; the data is still returned.
func (s *Store) Retrieve(key string) (any, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if ok {
		if entry.Expired(s.clock.Now()) {
			s.evict(key)
			return nil, nil
		}
		s.verifyChecksum(entry)
		return entry.Data, nil
	}

	if s.backend == nil {
		return nil, nil
	}
	return s.loadFromBackend(key)
}

// loadFromBackend pulls a persisted entry into memory.
func (s *Store) loadFromBackend(key string) (any, error) {
	raw, ok, err := s.backend.Get(entryPrefix + key)
	if err != nil {
		return nil, &StorageError{Op: "retrieve", Key: key, Err: err}
	}
	if !ok {
		return nil, nil
	}

	entry, err := s.decode(raw)
	if err != nil {
		return nil, &StorageError{Op: "retrieve", Key: key, Err: err}
	}

	if entry.Expired(s.clock.Now()) {
		// Idempotent: the sweep may race this delete harmlessly.
		_ = s.backend.Delete(entryPrefix + key)
		return nil, nil
	}

	s.verifyChecksum(entry)

	s.mu.Lock()
	// Another goroutine may have loaded or rewritten the key meanwhile;
	// the in-memory copy wins.
	if existing, ok := s.entries[key]; ok {
		s.mu.Unlock()
		return existing.Data, nil
	}
	s.entries[key] = entry
	s.mu.Unlock()

	return entry.Data, nil
}

// Remove deletes a key from memory and backend and notifies listeners
// with nil. Removing a missing key is a no-op.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	if s.backend != nil {
		if err := s.backend.Delete(entryPrefix + key); err != nil {
			s.mu.Unlock()
			return &StorageError{Op: "remove", Key: key, Err: err}
		}
	}

	_, existed := s.entries[key]
	delete(s.entries, key)
	fns := s.listenersFor(key)
	s.mu.Unlock()

	if existed {
		notify(fns, nil)
	}
	return nil
}

// Subscribe registers a per-key listener and returns its unsubscribe
// function. Listeners are invoked synchronously after a commit.
func (s *Store) Subscribe(key string, fn Listener) func() {
	id := uuid.NewString()

	s.mu.Lock()
	if s.listeners[key] == nil {
		s.listeners[key] = make(map[string]Listener)
	}
	s.listeners[key][id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if fns, ok := s.listeners[key]; ok {
			delete(fns, id)
			if len(fns) == 0 {
				delete(s.listeners, key)
			}
		}
	}
}

// Peek returns the in-memory entry envelope without touching expiration
// or the backend. Mostly useful for metadata inspection.
func (s *Store) Peek(key string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok || entry.Expired(s.clock.Now()) {
		return nil, false
	}
	return entry, true
}

// Keys lists all live keys, merged from memory and backend, sorted.
func (s *Store) Keys() ([]string, error) {
	now := s.clock.Now()
	seen := make(map[string]struct{})

	s.mu.RLock()
	for key, entry := range s.entries {
		if !entry.Expired(now) {
			seen[key] = struct{}{}
		}
	}
	s.mu.RUnlock()

	if s.backend != nil {
		backendKeys, err := s.backend.Keys(entryPrefix)
		if err != nil {
			return nil, &StorageError{Op: "keys", Err: err}
		}
		for _, bk := range backendKeys {
			seen[bk[len(entryPrefix):]] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats returns store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	persistent := 0
	for _, e := range s.entries {
		if e.Metadata.Persistent {
			persistent++
		}
	}
	return Stats{
		Entries:        len(s.entries),
		Persistent:     persistent,
		Corruptions:    s.corruptions,
		SweepEvictions: s.evictions,
	}
}

// sweep periodically evicts expired entries as an eager backstop to lazy
// expiration on read.
func (s *Store) sweep(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Store) sweepOnce() {
	now := s.clock.Now()

	s.mu.RLock()
	var expired []string
	for key, entry := range s.entries {
		if entry.Expired(now) {
			expired = append(expired, key)
		}
	}
	s.mu.RUnlock()

	for _, key := range expired {
		if s.evict(key) {
			s.mu.Lock()
			s.evictions++
			s.mu.Unlock()
		}
	}

	if len(expired) > 0 {
		s.log.WithField("count", len(expired)).Debug("expired entries swept")
	}
}

// evict removes a key if it is still expired. Idempotent: the lazy read
// path and the sweep may both call it for the same key.
func (s *Store) evict(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.Expired(s.clock.Now()) {
		return false
	}

	delete(s.entries, key)
	if s.backend != nil && entry.Metadata.Persistent {
		_ = s.backend.Delete(entryPrefix + key)
	}
	return true
}

// verifyChecksum logs a corruption warning when the stored checksum no
// longer matches the data. The read still succeeds; callers needing
// strict integrity must check explicitly.
func (s *Store) verifyChecksum(entry *Entry) {
	if integrity.Verify(entry.Data, entry.Metadata.Checksum) {
		return
	}

	s.mu.Lock()
	s.corruptions++
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"key":     entry.ID,
		"version": entry.Metadata.Version,
	}).Warn("checksum mismatch, possible corruption")
}

// listenersFor snapshots the listener set for a key. Callers hold a lock;
// the returned slice is invoked after release so a listener may safely
// re-enter the store.
func (s *Store) listenersFor(key string) []Listener {
	fns := make([]Listener, 0, len(s.listeners[key]))
	for _, fn := range s.listeners[key] {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []Listener, data any) {
	for _, fn := range fns {
		fn(data)
	}
}

// persistedEntry is the backend encoding of an entry. Encrypted entries
// carry the sealed payload instead of plaintext data.
type persistedEntry struct {
	ID       string          `json:"id"`
	Metadata Metadata        `json:"metadata"`
	Data     json.RawMessage `json:"data,omitempty"`
	Sealed   []byte          `json:"sealed,omitempty"`
}

func (s *Store) encode(entry *Entry) ([]byte, error) {
	raw, err := json.Marshal(entry.Data)
	if err != nil {
		return nil, &integrity.SerializationError{Err: err}
	}

	pe := persistedEntry{ID: entry.ID, Metadata: entry.Metadata}
	if entry.Metadata.Encrypted {
		if s.cipher == nil {
			return nil, &integrity.SerializationError{Err: errNoCipher}
		}
		sealed, err := s.cipher.Encrypt(raw)
		if err != nil {
			return nil, err
		}
		pe.Sealed = sealed
	} else {
		pe.Data = raw
	}

	return json.Marshal(pe)
}

func (s *Store) decode(raw []byte) (*Entry, error) {
	var pe persistedEntry
	if err := json.Unmarshal(raw, &pe); err != nil {
		return nil, err
	}

	payload := []byte(pe.Data)
	if pe.Metadata.Encrypted {
		if s.cipher == nil {
			return nil, errNoCipher
		}
		plain, err := s.cipher.Decrypt(pe.Sealed)
		if err != nil {
			return nil, err
		}
		payload = plain
	}

	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, err
	}

	return &Entry{ID: pe.ID, Data: data, Metadata: pe.Metadata}, nil
}
