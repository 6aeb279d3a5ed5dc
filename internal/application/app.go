package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"edusync/internal/domain/audit"
	"edusync/internal/domain/schema"
	"edusync/internal/domain/state"
	"edusync/internal/domain/store"
	"edusync/internal/infrastructure/bus"
	"edusync/internal/infrastructure/crypto"
	badgerstore "edusync/internal/infrastructure/storage/badger"
)

// App is the main application orchestrator. It owns every component of
// the sync core and injects them into each other; nothing here is a
// package-level singleton.
type App struct {
	mu sync.RWMutex

	// Configuration
	config *Config
	log    *logrus.Logger

	// Infrastructure
	backend   *badgerstore.Backend
	auditDB   *badgerstore.Backend
	auditSink *badgerstore.AuditSink
	changeBus state.ChangeBus

	// Domain services
	entryStore *store.Store
	validator  *schema.Validator
	manager    *state.Manager
	auditLog   *audit.Log

	// State
	running bool
	cancel  context.CancelFunc
}

// New creates an unstarted application.
func New(cfg *Config) (*App, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	// 0700: the data dir may contain an encryption key
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	return &App{
		config: cfg,
		log:    log,
	}, nil
}

// Start opens storage and wires every component together.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("app is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// 1. Open storage. State entries and audit records live in separate
	// databases so audit retention never competes with state GC.
	backend, err := badgerstore.Open(a.config.DataDir, "state")
	if err != nil {
		return fmt.Errorf("failed to open state storage: %w", err)
	}
	a.backend = backend

	auditDB, err := badgerstore.Open(a.config.DataDir, "audit")
	if err != nil {
		a.closeStorage()
		return fmt.Errorf("failed to open audit storage: %w", err)
	}
	a.auditDB = auditDB

	// 2. Encryption key, created on first run
	var cipher store.Cipher
	if a.config.Encrypt {
		key, err := crypto.LoadOrCreateKey(filepath.Join(a.config.DataDir, "key.json"))
		if err != nil {
			a.closeStorage()
			return fmt.Errorf("failed to load encryption key: %w", err)
		}
		cipher, err = crypto.NewAEADCipher(key)
		if err != nil {
			a.closeStorage()
			return fmt.Errorf("failed to create cipher: %w", err)
		}
	}

	// 3. Entry store and schema validator
	a.entryStore = store.New(store.Config{
		Backend:       backend,
		Cipher:        cipher,
		Logger:        a.log,
		SweepInterval: a.config.SweepInterval,
	})

	a.validator = schema.NewValidator(schema.WithCacheTTL(a.config.CacheTTL))

	// 4. Change bus. Redis is optional: without it the manager runs
	// single-process and still works.
	a.changeBus = state.NoopBus{}
	if a.config.RedisAddr != "" {
		redisBus, err := bus.NewRedisBus(ctx, bus.Config{
			Addr:     a.config.RedisAddr,
			Password: a.config.RedisPassword,
			DB:       a.config.RedisDB,
			Channel:  a.config.RedisChannel,
			Logger:   a.log,
		})
		if err != nil {
			a.log.WithError(err).Warn("change bus unavailable, running single-process")
		} else {
			a.changeBus = redisBus
		}
	}

	// 5. State manager
	a.manager = state.NewManager(state.Config{
		Store:       a.entryStore,
		Validator:   a.validator,
		Bus:         a.changeBus,
		Logger:      a.log,
		HistorySize: a.config.HistorySize,
	})
	if err := a.manager.Start(ctx); err != nil {
		a.closeStorage()
		return fmt.Errorf("failed to start state manager: %w", err)
	}

	// 6. Audit log with durable sink
	a.auditSink = badgerstore.NewAuditSink(auditDB.DB(), 0, a.config.AuditPersistMax)
	a.auditLog = audit.NewLog(audit.Config{
		MaxEntries: a.config.AuditMaxEntries,
		Sink:       a.auditSink,
		Logger:     a.log,
	})

	// Rehydrate the in-memory audit window from the sink, mirroring how
	// the state manager recovers its history.
	if persisted, err := a.auditSink.Query(audit.Filter{}); err != nil {
		a.log.WithError(err).Warn("audit rehydration failed")
	} else {
		a.auditLog.Seed(persisted)
	}

	a.running = true
	a.log.WithField("data_dir", a.config.DataDir).Info("edusync started")
	return nil
}

// Stop shuts components down in reverse dependency order.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false

	if a.cancel != nil {
		a.cancel()
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.auditLog != nil {
		record(a.auditLog.Close())
	}
	if a.changeBus != nil {
		record(a.changeBus.Close())
	}
	if a.entryStore != nil {
		record(a.entryStore.Close())
	}
	a.closeStorage()

	a.log.Info("edusync stopped")
	return firstErr
}

func (a *App) closeStorage() {
	if a.auditDB != nil {
		_ = a.auditDB.Close()
		a.auditDB = nil
	}
	if a.backend != nil {
		_ = a.backend.Close()
		a.backend = nil
	}
}

// Status holds a point-in-time snapshot of the running core.
type Status struct {
	Running      bool   `json:"running"`
	DataDir      string `json:"data_dir"`
	Encrypted    bool   `json:"encrypted"`
	BusConnected bool   `json:"bus_connected"`

	StateKeys      int   `json:"state_keys"`
	PersistentKeys int   `json:"persistent_keys"`
	HistoryLength  int   `json:"history_length"`
	AuditEntries   int   `json:"audit_entries"`
	StorageBytes   int64 `json:"storage_bytes"`
}

// GetStatus returns the current application status.
func (a *App) GetStatus() *Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	status := &Status{
		Running:   a.running,
		DataDir:   a.config.DataDir,
		Encrypted: a.config.Encrypt,
	}

	if _, ok := a.changeBus.(state.NoopBus); a.changeBus != nil && !ok {
		status.BusConnected = true
	}

	if a.entryStore != nil {
		stats := a.entryStore.Stats()
		status.StateKeys = stats.Entries
		status.PersistentKeys = stats.Persistent
	}

	if a.manager != nil {
		status.HistoryLength = a.manager.HistoryLen()
	}

	if a.auditLog != nil {
		status.AuditEntries = a.auditLog.Len()
	}

	if a.backend != nil {
		lsm, vlog := a.backend.Size()
		status.StorageBytes = lsm + vlog
	}

	return status
}

// State returns the state manager.
func (a *App) State() *state.Manager {
	return a.manager
}

// Store returns the entry store.
func (a *App) Store() *store.Store {
	return a.entryStore
}

// Validator returns the schema validator.
func (a *App) Validator() *schema.Validator {
	return a.validator
}

// Audit returns the audit log.
func (a *App) Audit() *audit.Log {
	return a.auditLog
}

// AuditSink returns the durable audit sink for query and maintenance.
func (a *App) AuditSink() *badgerstore.AuditSink {
	return a.auditSink
}

// Backend returns the state storage backend.
func (a *App) Backend() *badgerstore.Backend {
	return a.backend
}

// Config returns the application config.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *logrus.Logger {
	return a.log
}
