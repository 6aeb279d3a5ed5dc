// Package state provides the global state manager: validated writes,
// pattern subscriptions, bounded change history, bulk export/import and
// optional cross-process change propagation.
package state

import "time"

// Action describes one key transition.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// StateChange describes one create/update/delete transition for a key.
// Produced exactly once per successful local mutation.
type StateChange struct {
	Key       string         `json:"key"`
	OldValue  any            `json:"oldValue,omitempty"`
	NewValue  any            `json:"newValue,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"userId,omitempty"`
	Action    Action         `json:"action"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Origin identifies the manager instance that produced the change,
	// so remote copies of our own changes are skipped.
	Origin string `json:"origin,omitempty"`
	// Remote marks changes received over the change bus. Remote changes
	// are eventually consistent with local writes, never linearizable.
	Remote bool `json:"-"`
}
