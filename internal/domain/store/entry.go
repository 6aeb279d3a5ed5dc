package store

import "time"

// Entry is a stored value plus its metadata envelope. The store is the
// sole owner of Entry objects and the only writer to the backing medium.
type Entry struct {
	ID       string   `json:"id"`
	Data     any      `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// Metadata describes one stored entry.
type Metadata struct {
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	Role       string    `json:"role,omitempty"`
	Persistent bool      `json:"persistent"`
	Encrypted  bool      `json:"encrypted"`
	// Version increases by exactly one on each successive write to the
	// same key.
	Version int64 `json:"version"`
	// Checksum is the canonical hash of Data at write time. A mismatch
	// on read signals corruption; it is logged, never fatal.
	Checksum string `json:"checksum"`
}

// Expired reports whether the entry is past its expiration at the given
// instant. Entries without an expiration never expire.
func (e *Entry) Expired(now time.Time) bool {
	return !e.Metadata.ExpiresAt.IsZero() && now.After(e.Metadata.ExpiresAt)
}

// Options control a single store operation.
type Options struct {
	// Persistent entries are written to the durable backend and survive
	// restarts.
	Persistent bool
	// Encrypted entries have their payload encrypted at rest.
	Encrypted bool
	// ExpiresAt sets an absolute expiration. Zero means never.
	ExpiresAt time.Time
	// UserID and Role identify the caller. The store trusts them.
	UserID string
	Role   string
}
