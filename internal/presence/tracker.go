// Package presence provides the concurrency-safe online-user registry.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/collabhub/messaging-platform/pkg/metrics"
)

// Handle is the connection handle bound to an online identity. The tracker
// only needs to close a replaced connection.
type Handle interface {
	Close() error
}

// Notifier receives presence transitions for broadcast. The NATS broadcaster
// implements it; notifications happen outside the registry lock.
type Notifier interface {
	PresenceChanged(identity string, online bool, onlineSet []string, lastSeen time.Time)
}

type entry struct {
	handle Handle
}

// Tracker maps identity -> live connection. One active connection per
// identity: a second registration replaces (and closes) the first. lastSeen
// is retained after disconnect.
type Tracker struct {
	mu       sync.RWMutex
	entries  map[string]entry
	lastSeen map[string]time.Time
	notifier Notifier
}

// NewTracker creates an empty registry. notifier may be nil.
func NewTracker(notifier Notifier) *Tracker {
	return &Tracker{
		entries:  make(map[string]entry),
		lastSeen: make(map[string]time.Time),
		notifier: notifier,
	}
}

// Register inserts or replaces the identity's connection and broadcasts the
// online transition with the full online set.
func (t *Tracker) Register(identity string, handle Handle) {
	now := time.Now()

	t.mu.Lock()
	previous, existed := t.entries[identity]
	t.entries[identity] = entry{handle: handle}
	t.lastSeen[identity] = now
	onlineSet := t.onlineSetLocked()
	t.mu.Unlock()

	if existed && previous.handle != nil && previous.handle != handle {
		_ = previous.handle.Close()
	}

	metrics.OnlineUsers.Set(float64(len(onlineSet)))
	if t.notifier != nil {
		t.notifier.PresenceChanged(identity, true, onlineSet, now)
	}
}

// Unregister stamps lastSeen, removes the entry and broadcasts the offline
// transition. Unknown identities are a no-op.
func (t *Tracker) Unregister(identity string) {
	now := time.Now()

	t.mu.Lock()
	_, existed := t.entries[identity]
	if existed {
		delete(t.entries, identity)
		t.lastSeen[identity] = now
	}
	onlineSet := t.onlineSetLocked()
	t.mu.Unlock()

	if !existed {
		return
	}

	metrics.OnlineUsers.Set(float64(len(onlineSet)))
	if t.notifier != nil {
		t.notifier.PresenceChanged(identity, false, onlineSet, now)
	}
}

// UnregisterIf removes identity only while handle is still its current
// connection. A connection that was replaced by a newer registration must not
// knock the newer one offline when it finally unwinds.
func (t *Tracker) UnregisterIf(identity string, handle Handle) {
	t.mu.RLock()
	current, ok := t.entries[identity]
	t.mu.RUnlock()
	if !ok || current.handle != handle {
		return
	}
	t.Unregister(identity)
}

// IsOnline reports whether identity holds a live connection. Read on every
// append, so the critical section stays minimal.
func (t *Tracker) IsOnline(identity string) bool {
	t.mu.RLock()
	_, ok := t.entries[identity]
	t.mu.RUnlock()
	return ok
}

// Query returns the current online-id set.
func (t *Tracker) Query() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onlineSetLocked()
}

// LastSeen returns when identity last connected or disconnected. The second
// result is false for identities never seen.
func (t *Tracker) LastSeen(identity string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.lastSeen[identity]
	return ts, ok
}

// Handle returns the live connection handle for identity, if any.
func (t *Tracker) Handle(identity string) (Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[identity]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

func (t *Tracker) onlineSetLocked() []string {
	set := make([]string, 0, len(t.entries))
	for id := range t.entries {
		set = append(set, id)
	}
	sort.Strings(set)
	return set
}
