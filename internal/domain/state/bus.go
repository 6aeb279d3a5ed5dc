package state

import "context"

// ChangeBus propagates state changes between independent manager
// instances (other processes, other hosts). An optional capability: the
// core never assumes one is available, and remote changes arrive
// eventually consistent with local writes.
type ChangeBus interface {
	// Publish broadcasts a change to all other instances.
	Publish(ctx context.Context, change *StateChange) error

	// Subscribe registers a handler for changes from other instances.
	// The handler may be called from any goroutine.
	Subscribe(ctx context.Context, handler ChangeHandler) error

	// Close releases bus resources.
	Close() error
}

// NoopBus is the single-process bus: publishes vanish, no remote changes
// ever arrive.
type NoopBus struct{}

func (NoopBus) Publish(context.Context, *StateChange) error    { return nil }
func (NoopBus) Subscribe(context.Context, ChangeHandler) error { return nil }
func (NoopBus) Close() error                                   { return nil }
