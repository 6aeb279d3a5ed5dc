package badger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"edusync/internal/domain/audit"
)

const (
	// Key prefix for audit entries.
	// Format: audit:{timestamp_ns}:{entryID}
	prefixAudit = "audit:"

	// Default buffer size for async writes.
	defaultAuditBufferSize = 1000

	// Batch flush interval.
	auditFlushInterval = time.Second

	// Batch size that triggers an early flush.
	auditBatchSize = 100
)

// AuditSink implements audit.Sink using BadgerDB. Writes are buffered
// and flushed asynchronously so audit logging never blocks the business
// operation it describes.
type AuditSink struct {
	db      *badger.DB
	buffer  chan *audit.Entry
	done    chan struct{}
	wg      sync.WaitGroup
	maxKeep int64
}

// NewAuditSink creates a BadgerDB-backed audit sink. maxKeep caps the
// persisted entry count (0 = unbounded); the cap is enforced after each
// flush.
func NewAuditSink(db *badger.DB, bufferSize int, maxKeep int64) *AuditSink {
	if bufferSize <= 0 {
		bufferSize = defaultAuditBufferSize
	}

	sink := &AuditSink{
		db:      db,
		buffer:  make(chan *audit.Entry, bufferSize),
		done:    make(chan struct{}),
		maxKeep: maxKeep,
	}

	sink.wg.Add(1)
	go sink.writer()

	return sink
}

// auditKey generates the key for an entry.
func auditKey(entry *audit.Entry) []byte {
	ts := entry.Timestamp.UnixNano()
	return []byte(fmt.Sprintf("%s%020d:%s", prefixAudit, ts, entry.ID))
}

// Append queues an entry for asynchronous persistence. Returns
// immediately; a full buffer drops the entry with an error.
func (s *AuditSink) Append(entry *audit.Entry) error {
	select {
	case s.buffer <- entry:
		return nil
	default:
		return fmt.Errorf("audit buffer full, entry dropped")
	}
}

// writer runs in a goroutine and batches writes to BadgerDB.
func (s *AuditSink) writer() {
	defer s.wg.Done()

	batch := make([]*audit.Entry, 0, auditBatchSize)
	ticker := time.NewTicker(auditFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		wb := s.db.NewWriteBatch()
		for _, entry := range batch {
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			_ = wb.Set(auditKey(entry), data)
		}
		_ = wb.Flush()
		batch = batch[:0]

		if s.maxKeep > 0 {
			s.trimTo(s.maxKeep)
		}
	}

	for {
		select {
		case entry := <-s.buffer:
			batch = append(batch, entry)
			if len(batch) >= auditBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			// Drain remaining entries
			close(s.buffer)
			for entry := range s.buffer {
				batch = append(batch, entry)
			}
			flush()
			return
		}
	}
}

// Query retrieves persisted entries matching the filter, oldest first.
func (s *AuditSink) Query(filter audit.Filter) ([]*audit.Entry, error) {
	var entries []*audit.Entry

	startTime := filter.From
	endTime := filter.To
	if startTime.IsZero() {
		startTime = time.Unix(0, 0)
	}
	if endTime.IsZero() {
		endTime = time.Now().Add(time.Hour) // Include clock-skewed entries
	}

	startKey := []byte(fmt.Sprintf("%s%020d", prefixAudit, startTime.UnixNano()))
	endKey := []byte(fmt.Sprintf("%s%020d", prefixAudit, endTime.UnixNano()))

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixAudit)
		it := txn.NewIterator(opts)
		defer it.Close()

		count := 0
		for it.Seek(startKey); it.Valid(); it.Next() {
			if filter.Limit > 0 && count >= filter.Limit {
				break
			}

			item := it.Item()
			if bytes.Compare(item.Key(), endKey) > 0 {
				break
			}

			err := item.Value(func(val []byte) error {
				var entry audit.Entry
				if err := json.Unmarshal(val, &entry); err != nil {
					return nil // Skip invalid entries
				}

				if filter.UserID != "" && entry.UserID != filter.UserID {
					return nil
				}
				if filter.Action != "" && entry.Action != filter.Action {
					return nil
				}
				if filter.Success != nil && entry.Success != *filter.Success {
					return nil
				}

				entries = append(entries, &entry)
				count++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return entries, WrapError(err)
}

// Count returns the number of persisted entries.
func (s *AuditSink) Count() (int64, error) {
	var count int64

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixAudit)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})

	return count, WrapError(err)
}

// Compact removes entries older than the given time. Returns the number
// of deleted entries.
func (s *AuditSink) Compact(before time.Time) (int64, error) {
	endKey := []byte(fmt.Sprintf("%s%020d", prefixAudit, before.UnixNano()))

	var keysToDelete [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixAudit)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			if bytes.Compare(key, endKey) >= 0 {
				break
			}
			keysToDelete = append(keysToDelete, append([]byte{}, key...))
		}
		return nil
	})
	if err != nil {
		return 0, WrapError(err)
	}

	return s.deleteKeys(keysToDelete)
}

// trimTo deletes oldest entries until at most max remain.
func (s *AuditSink) trimTo(max int64) {
	count, err := s.Count()
	if err != nil || count <= max {
		return
	}
	excess := count - max

	var keysToDelete [][]byte
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixAudit)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && int64(len(keysToDelete)) < excess; it.Next() {
			keysToDelete = append(keysToDelete, append([]byte{}, it.Item().Key()...))
		}
		return nil
	})

	_, _ = s.deleteKeys(keysToDelete)
}

func (s *AuditSink) deleteKeys(keys [][]byte) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()

	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			return 0, WrapError(err)
		}
	}
	if err := batch.Flush(); err != nil {
		return 0, WrapError(err)
	}
	return int64(len(keys)), nil
}

// Close flushes pending entries and stops the writer.
func (s *AuditSink) Close() error {
	close(s.done)
	s.wg.Wait()
	return nil
}
