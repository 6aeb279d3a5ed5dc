package state

import (
	"regexp"
	"strings"
)

// ChangeHandler receives state changes matching a subscription.
type ChangeHandler func(change *StateChange)

// SubscribeOptions configure a subscription.
type SubscribeOptions struct {
	// Immediate replays one synthetic create change per currently
	// matching key, synchronously, before Subscribe returns.
	Immediate bool
	// Persistent subscriptions survive ClearSubscriptions, which UI
	// surfaces call between view switches.
	Persistent bool
	// Role records the subscriber's role, for diagnostics.
	Role string
}

// subscription matches keys by exact name, prefix or regular expression.
type subscription struct {
	id      string
	pattern string
	re      *regexp.Regexp
	handler ChangeHandler
	opts    SubscribeOptions
}

// matches reports whether the subscription covers a key. A string
// pattern matches the key itself, any key under "pattern:", or by
// prefix when it ends with "*"; a regexp pattern matches via
// MatchString.
func (s *subscription) matches(key string) bool {
	if s.re != nil {
		return s.re.MatchString(key)
	}
	if prefix, ok := strings.CutSuffix(s.pattern, "*"); ok {
		return strings.HasPrefix(key, prefix)
	}
	return key == s.pattern || strings.HasPrefix(key, s.pattern+":")
}

// SubscriptionInfo describes a registered subscription.
type SubscriptionInfo struct {
	ID         string `json:"id"`
	Pattern    string `json:"pattern"`
	Regexp     bool   `json:"regexp"`
	Persistent bool   `json:"persistent"`
	Role       string `json:"role,omitempty"`
}
