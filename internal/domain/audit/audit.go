// Package audit keeps an append-only log of user actions, independent of
// the state store: an audit write never rolls back a state write and vice
// versa. Logging failures are swallowed so observability never
// destabilizes the operation it describes.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxEntries bounds the in-memory log; oldest entries are trimmed
// first.
const DefaultMaxEntries = 1000

// Entry is one recorded user action.
type Entry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	UserID       string         `json:"userId"`
	UserRole     string         `json:"userRole"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// Sink persists entries asynchronously. Implementations cap their own
// retention; the BadgerDB sink lives in infrastructure/storage/badger.
type Sink interface {
	Append(entry *Entry) error
	Close() error
}

// Config configures a Log.
type Config struct {
	// MaxEntries defaults to DefaultMaxEntries.
	MaxEntries int
	// Sink may be nil for a purely in-memory log.
	Sink Sink
	// Logger defaults to the standard logrus logger.
	Logger *logrus.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Log is the in-memory audit log with optional durable sink.
type Log struct {
	mu         sync.RWMutex
	entries    []*Entry
	maxEntries int
	sink       Sink
	log        *logrus.Logger
	now        func() time.Time
}

// NewLog creates an audit log.
func NewLog(cfg Config) *Log {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Log{
		entries:    make([]*Entry, 0, cfg.MaxEntries),
		maxEntries: cfg.MaxEntries,
		sink:       cfg.Sink,
		log:        cfg.Logger,
		now:        cfg.Now,
	}
}

// Log appends an entry. Never fails outward: sink errors are logged and
// dropped so the business operation being described proceeds.
func (l *Log) Log(userID, role, action, resource, resourceID string, details map[string]any, success bool, errMsg string) *Entry {
	entry := &Entry{
		ID:           uuid.NewString(),
		Timestamp:    l.now(),
		UserID:       userID,
		UserRole:     role,
		Action:       action,
		Resource:     resource,
		ResourceID:   resourceID,
		Details:      details,
		Success:      success,
		ErrorMessage: errMsg,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.Append(entry); err != nil {
			l.log.WithError(err).Warn("audit sink append failed")
		}
	}
	return entry
}

// Seed replaces the in-memory window, used to rehydrate from a durable
// sink on startup. Entries must be in chronological order; anything
// beyond MaxEntries is trimmed oldest-first. Seeded entries are not
// re-appended to the sink.
func (l *Log) Seed(entries []*Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(entries) > l.maxEntries {
		entries = entries[len(entries)-l.maxEntries:]
	}
	l.entries = append(l.entries[:0], entries...)
}

// Filter selects entries for Query and ExportCSV. Zero fields match
// everything.
type Filter struct {
	UserID   string
	UserRole string
	Action   string
	Resource string
	// Success filters by outcome when non-nil.
	Success *bool
	From    time.Time
	To      time.Time
	Limit   int
	Offset  int
}

func (f Filter) matches(entry *Entry) bool {
	if f.UserID != "" && entry.UserID != f.UserID {
		return false
	}
	if f.UserRole != "" && entry.UserRole != f.UserRole {
		return false
	}
	if f.Action != "" && entry.Action != f.Action {
		return false
	}
	if f.Resource != "" && entry.Resource != f.Resource {
		return false
	}
	if f.Success != nil && entry.Success != *f.Success {
		return false
	}
	if !f.From.IsZero() && entry.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && entry.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Query returns matching entries newest-first with pagination. A linear
// scan is fine: the log is bounded.
func (l *Log) Query(filter Filter) []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []*Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if filter.matches(l.entries[i]) {
			matched = append(matched, l.entries[i])
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}

// Len returns the number of in-memory entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Close flushes the sink.
func (l *Log) Close() error {
	if l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// snapshot copies the entries slice for lock-free aggregation.
func (l *Log) snapshot() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
