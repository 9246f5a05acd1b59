// Package presence maintains the online/offline status of known users from
// channel events and an initial snapshot.
package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShaileshJadav2732/chatsync/models"
)

// Tracker owns the userID -> OnlineStatus map. No client-side timeouts are
// applied; staleness is the server's responsibility to push offline on
// disconnect.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]models.OnlineStatus
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewTracker(log *zap.SugaredLogger) *Tracker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Tracker{
		statuses: make(map[string]models.OnlineStatus),
		log:      log,
		now:      time.Now,
	}
}

// ApplySnapshot replaces the map wholesale so no stale entries from a
// previous session survive.
func (t *Tracker) ApplySnapshot(list []models.OnlineStatus) {
	next := make(map[string]models.OnlineStatus, len(list))
	for _, s := range list {
		next[s.UserID] = s
	}
	t.mu.Lock()
	t.statuses = next
	t.mu.Unlock()
	t.log.Debugw("presence snapshot applied", "users", len(list))
}

// SetOnline merges an incremental online transition. Unknown user ids are
// inserted, not rejected.
func (t *Tracker) SetOnline(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.statuses[userID]
	s.UserID = userID
	s.IsOnline = true
	t.statuses[userID] = s
}

// SetOffline merges an incremental offline transition and stamps LastSeen.
func (t *Tracker) SetOffline(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := t.now()
	s := t.statuses[userID]
	s.UserID = userID
	s.IsOnline = false
	s.LastSeen = &seen
	t.statuses[userID] = s
}

// IsOnline returns false for any user id not present in the map; absence is
// not an error.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.statuses[userID].IsOnline
}

// Status returns the tracked entry for a user, if any.
func (t *Tracker) Status(userID string) (models.OnlineStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.statuses[userID]
	return s, ok
}

// Clear drops every entry. Called on disconnect so nobody reads as online
// until a fresh snapshot arrives post-reconnect.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.statuses = make(map[string]models.OnlineStatus)
	t.mu.Unlock()
}

// Len reports how many users are tracked.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.statuses)
}
