package state

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"edusync/internal/domain/integrity"
	"edusync/internal/domain/schema"
	"edusync/internal/domain/store"
)

// historyKey is the reserved store key mirroring recent changes for
// restart recovery. Reserved "sys:" keys are excluded from export.
const historyKey = "sys:history"

// mirrorLimit caps the persisted change window. The in-memory ring may
// be larger; the durable copy is best-effort.
const mirrorLimit = 100

// schemaPrefixes maps key prefixes to the schema validated on write.
// Keys outside these prefixes skip validation.
var schemaPrefixes = map[string]string{
	"user":       schema.SchemaUser,
	"class":      schema.SchemaClass,
	"assignment": schema.SchemaAssignment,
}

// Options control one SetState call.
type Options struct {
	Persistent bool
	Encrypted  bool
	ExpiresAt  time.Time
	// Validate runs the schema check selected by key prefix before any
	// write. A validation failure leaves state untouched.
	Validate bool
	UserID   string
	Role     string
	Metadata map[string]any
}

// Config configures a Manager.
type Config struct {
	Store     *store.Store
	Validator *schema.Validator
	// Bus defaults to NoopBus.
	Bus ChangeBus
	// Logger defaults to the standard logrus logger.
	Logger *logrus.Logger
	// HistorySize defaults to DefaultHistorySize.
	HistorySize int
}

// Manager is the global state manager. It owns the subscription registry
// and the change history; storage is delegated to the entry store.
type Manager struct {
	store     *store.Store
	validator *schema.Validator
	bus       ChangeBus
	log       *logrus.Logger
	originID  string

	mu   sync.RWMutex
	subs map[string]*subscription

	history *history
}

// NewManager creates a state manager.
func NewManager(cfg Config) *Manager {
	if cfg.Bus == nil {
		cfg.Bus = NoopBus{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &Manager{
		store:     cfg.Store,
		validator: cfg.Validator,
		bus:       cfg.Bus,
		log:       cfg.Logger,
		originID:  uuid.NewString(),
		subs:      make(map[string]*subscription),
		history:   newHistory(cfg.HistorySize),
	}
}

// Start recovers the persisted change history and connects the change
// bus. Safe to skip for short-lived managers.
func (m *Manager) Start(ctx context.Context) error {
	m.recoverHistory()
	return m.bus.Subscribe(ctx, m.applyRemote)
}

// SetState validates (when requested) and persists a value, records a
// StateChange and notifies matching subscribers synchronously. On
// validation failure a *schema.ValidationError is returned before any
// write occurs.
func (m *Manager) SetState(ctx context.Context, key string, value any, opts Options) error {
	if opts.Validate {
		if schemaName, ok := schemaFor(key); ok {
			// The result cache is keyed by value content, never by state
			// key: consecutive writes to one key carry different values.
			cacheKey := ""
			if sum, err := integrity.Checksum(value); err == nil {
				cacheKey = schemaName + ":" + sum
			}
			result := m.validator.Validate(value, schemaName, cacheKey)
			if err := result.Err(schemaName); err != nil {
				return err
			}
			for _, w := range result.Warnings {
				m.log.WithFields(logrus.Fields{"key": key, "warning": w}).Debug("validation warning")
			}
		}
	}

	oldValue, err := m.store.Retrieve(key)
	if err != nil {
		return err
	}

	if _, err := m.store.Store(key, value, store.Options{
		Persistent: opts.Persistent,
		Encrypted:  opts.Encrypted,
		ExpiresAt:  opts.ExpiresAt,
		UserID:     opts.UserID,
		Role:       opts.Role,
	}); err != nil {
		return err
	}

	action := ActionUpdate
	if oldValue == nil {
		action = ActionCreate
	}

	m.record(ctx, &StateChange{
		Key:       key,
		OldValue:  oldValue,
		NewValue:  value,
		Timestamp: time.Now(),
		UserID:    opts.UserID,
		Action:    action,
		Metadata:  opts.Metadata,
		Origin:    m.originID,
	})
	return nil
}

// GetState returns the current value for a key, or nil when absent.
func (m *Manager) GetState(key string) (any, error) {
	return m.store.Retrieve(key)
}

// UpdateState applies fn to the current value and stores the result. The
// recorded change carries the exact value the reducer saw; a concurrent
// writer moving the key between read and commit surfaces
// store.ErrConflict.
func (m *Manager) UpdateState(ctx context.Context, key string, fn func(current any) any, opts Options) error {
	var oldValue, newValue any
	if _, err := m.store.Update(key, func(current any) any {
		oldValue = current
		newValue = fn(current)
		return newValue
	}, store.Options{
		Persistent: opts.Persistent,
		Encrypted:  opts.Encrypted,
		ExpiresAt:  opts.ExpiresAt,
		UserID:     opts.UserID,
		Role:       opts.Role,
	}); err != nil {
		return err
	}

	m.record(ctx, &StateChange{
		Key:       key,
		OldValue:  oldValue,
		NewValue:  newValue,
		Timestamp: time.Now(),
		UserID:    opts.UserID,
		Action:    ActionUpdate,
		Metadata:  opts.Metadata,
		Origin:    m.originID,
	})
	return nil
}

// RemoveState deletes a key and records a delete change. Removing a
// missing key is a no-op and records nothing.
func (m *Manager) RemoveState(ctx context.Context, key, userID string) error {
	oldValue, err := m.store.Retrieve(key)
	if err != nil {
		return err
	}
	if err := m.store.Remove(key); err != nil {
		return err
	}
	if oldValue == nil {
		return nil
	}

	m.record(ctx, &StateChange{
		Key:       key,
		OldValue:  oldValue,
		Timestamp: time.Now(),
		UserID:    userID,
		Action:    ActionDelete,
		Origin:    m.originID,
	})
	return nil
}

// Subscribe registers a handler for keys matching pattern: the key
// itself or any key under "pattern:". Returns the subscription id.
func (m *Manager) Subscribe(pattern string, handler ChangeHandler, opts SubscribeOptions) string {
	sub := &subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		handler: handler,
		opts:    opts,
	}
	m.register(sub)
	return sub.id
}

// SubscribeRegexp registers a handler for keys matching re. Patterns are
// compiled RE2, so pathological backtracking cannot occur.
func (m *Manager) SubscribeRegexp(re *regexp.Regexp, handler ChangeHandler, opts SubscribeOptions) string {
	sub := &subscription{
		id:      uuid.NewString(),
		pattern: re.String(),
		re:      re,
		handler: handler,
		opts:    opts,
	}
	m.register(sub)
	return sub.id
}

func (m *Manager) register(sub *subscription) {
	m.mu.Lock()
	m.subs[sub.id] = sub
	m.mu.Unlock()

	if sub.opts.Immediate {
		m.replay(sub)
	}
}

// replay delivers one synthetic create change per currently matching
// key to a new immediate subscriber.
func (m *Manager) replay(sub *subscription) {
	keys, err := m.store.Keys()
	if err != nil {
		m.log.WithError(err).Warn("immediate replay: listing keys failed")
		return
	}

	for _, key := range keys {
		if strings.HasPrefix(key, "sys:") || !sub.matches(key) {
			continue
		}
		value, err := m.store.Retrieve(key)
		if err != nil || value == nil {
			continue
		}
		sub.handler(&StateChange{
			Key:       key,
			NewValue:  value,
			Timestamp: time.Now(),
			Action:    ActionCreate,
			Metadata:  map[string]any{"replay": true},
			Origin:    m.originID,
		})
	}
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
}

// ClearSubscriptions drops all non-persistent subscriptions.
func (m *Manager) ClearSubscriptions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.subs {
		if !sub.opts.Persistent {
			delete(m.subs, id)
		}
	}
}

// Subscriptions lists registered subscriptions.
func (m *Manager) Subscriptions() []SubscriptionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]SubscriptionInfo, 0, len(m.subs))
	for _, sub := range m.subs {
		infos = append(infos, SubscriptionInfo{
			ID:         sub.id,
			Pattern:    sub.pattern,
			Regexp:     sub.re != nil,
			Persistent: sub.opts.Persistent,
			Role:       sub.opts.Role,
		})
	}
	return infos
}

// History returns recorded changes newest-first, optionally filtered by
// key and bounded by limit (0 = no limit).
func (m *Manager) History(key string, limit int) []*StateChange {
	return m.history.list(key, limit)
}

// HistoryLen returns the number of recorded changes.
func (m *Manager) HistoryLen() int {
	return m.history.size()
}

// Export returns a key-to-value snapshot, optionally restricted to
// entries owned by userID. Reserved keys are excluded.
func (m *Manager) Export(userID string) (map[string]any, error) {
	keys, err := m.store.Keys()
	if err != nil {
		return nil, err
	}

	out := make(map[string]any)
	for _, key := range keys {
		if strings.HasPrefix(key, "sys:") {
			continue
		}
		value, err := m.store.Retrieve(key)
		if err != nil || value == nil {
			continue
		}
		if userID != "" {
			entry, ok := m.store.Peek(key)
			if !ok || entry.Metadata.UserID != userID {
				continue
			}
		}
		out[key] = value
	}
	return out, nil
}

// Import bulk-writes a key-to-value snapshot as persistent entries.
// Values are not validated: this is a trusted-input path and validation
// is the caller's responsibility.
func (m *Manager) Import(ctx context.Context, data map[string]any, userID string) error {
	for key, value := range data {
		if err := m.SetState(ctx, key, value, Options{
			Persistent: true,
			UserID:     userID,
		}); err != nil {
			return fmt.Errorf("import %q: %w", key, err)
		}
	}
	return nil
}

// record appends a change to history, mirrors the recent window, fans
// out to matching local subscribers and publishes to the change bus.
func (m *Manager) record(ctx context.Context, change *StateChange) {
	m.history.append(change)
	m.mirror()
	m.fanout(change)

	if !change.Remote {
		if err := m.bus.Publish(ctx, change); err != nil {
			m.log.WithError(err).WithField("key", change.Key).Warn("change bus publish failed")
		}
	}
}

// mirror persists the recent change window through the store.
// Best-effort: a failed mirror is logged and never fails the mutation.
func (m *Manager) mirror() {
	recent := m.history.recent(mirrorLimit)
	if _, err := m.store.Store(historyKey, recent, store.Options{Persistent: true}); err != nil {
		m.log.WithError(err).Debug("history mirror failed")
	}
}

// recoverHistory seeds the ring from the persisted mirror.
func (m *Manager) recoverHistory() {
	raw, err := m.store.Retrieve(historyKey)
	if err != nil || raw == nil {
		return
	}

	// The mirror round-trips through untyped JSON; re-decode it.
	data, err := json.Marshal(raw)
	if err != nil {
		return
	}
	var changes []*StateChange
	if err := json.Unmarshal(data, &changes); err != nil {
		m.log.WithError(err).Warn("history recovery failed, starting empty")
		return
	}
	m.history.seed(changes)
}

// fanout synchronously invokes matching subscribers.
func (m *Manager) fanout(change *StateChange) {
	m.mu.RLock()
	var handlers []ChangeHandler
	for _, sub := range m.subs {
		if sub.matches(change.Key) {
			handlers = append(handlers, sub.handler)
		}
	}
	m.mu.RUnlock()

	for _, handler := range handlers {
		handler(change)
	}
}

// applyRemote applies a change arriving over the bus to the local store
// and re-notifies local subscribers. Our own changes echo back with our
// origin id and are skipped.
func (m *Manager) applyRemote(change *StateChange) {
	if change.Origin == m.originID {
		return
	}
	change.Remote = true

	switch change.Action {
	case ActionDelete:
		if err := m.store.Remove(change.Key); err != nil {
			m.log.WithError(err).WithField("key", change.Key).Warn("remote delete failed")
			return
		}
	default:
		if _, err := m.store.Store(change.Key, change.NewValue, store.Options{
			UserID: change.UserID,
		}); err != nil {
			m.log.WithError(err).WithField("key", change.Key).Warn("remote write failed")
			return
		}
	}

	m.history.append(change)
	m.fanout(change)
}

// schemaFor returns the schema name validated for a key, selected by the
// key prefix before the first colon.
func schemaFor(key string) (string, bool) {
	prefix, _, ok := strings.Cut(key, ":")
	if !ok {
		return "", false
	}
	name, ok := schemaPrefixes[prefix]
	return name, ok
}
