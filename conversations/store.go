// Package conversations lists, caches and ranks the signed-in user's
// conversations and computes their unread state.
package conversations

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShaileshJadav2732/chatsync/history"
	"github.com/ShaileshJadav2732/chatsync/models"
)

// Lister is the slice of the history API the store pulls from.
type Lister interface {
	Conversations(ctx context.Context, q history.ConversationQuery) (history.ConversationPage, error)
}

// Filter narrows a List pull.
type Filter struct {
	Search     string
	UnreadOnly bool
}

// Store caches conversations by id. Fetch results merge into the cache
// rather than replacing it; live-channel-derived fields newer than the
// fetch are preserved. Display order is whatever the history API returns;
// the store never re-sorts locally.
type Store struct {
	api    Lister
	log    *zap.SugaredLogger
	selfID string

	mu     sync.RWMutex
	byID   map[string]*models.Conversation
	order  []string
	openID string // localOverride: the open conversation is the read one
}

func NewStore(api Lister, selfID string, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{
		api:    api,
		log:    log,
		selfID: selfID,
		byID:   make(map[string]*models.Conversation),
	}
}

// List pulls one page from the history API and merges it into the cache.
// The returned slice reflects the merged state of the fetched page, in API
// order. Fetch errors are returned for the caller's retry affordance.
func (s *Store) List(ctx context.Context, f Filter, page, limit int) ([]models.Conversation, bool, error) {
	res, err := s.api.Conversations(ctx, history.ConversationQuery{
		Page:       page,
		Limit:      limit,
		Search:     f.Search,
		UnreadOnly: f.UnreadOnly,
	})
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	out := make([]models.Conversation, 0, len(res.Data))
	for _, fetched := range res.Data {
		merged := s.mergeLocked(fetched)
		out = append(out, *merged)
	}
	s.mu.Unlock()
	return out, res.Pagination.HasMore, nil
}

// mergeLocked updates a known conversation in place, keeping its slot in
// the display order, or appends an unknown one.
func (s *Store) mergeLocked(fetched models.Conversation) *models.Conversation {
	cur, ok := s.byID[fetched.ID]
	if !ok {
		cp := fetched
		s.byID[fetched.ID] = &cp
		s.order = append(s.order, fetched.ID)
		return &cp
	}

	// a live delivery may have advanced lastMessage past this fetch
	if cur.LastMessage != nil &&
		(fetched.LastMessage == nil || cur.LastMessage.CreatedAt.After(fetched.LastMessage.CreatedAt)) {
		fetched.LastMessage = cur.LastMessage
	}
	if cur.UpdatedAt.After(fetched.UpdatedAt) {
		fetched.UpdatedAt = cur.UpdatedAt
	}
	// a fetched lastReadAt can be older than one we advanced optimistically
	for i := range fetched.Participants {
		if prev, ok := findParticipant(cur.Participants, fetched.Participants[i].User.ID); ok {
			if later(prev.LastReadAt, fetched.Participants[i].LastReadAt) {
				fetched.Participants[i].LastReadAt = prev.LastReadAt
			}
		}
	}
	*cur = fetched
	return cur
}

// ApplyIncomingMessage advances the conversation's lastMessage pointer when
// the delivery is newer than the stored one. Unknown conversations are a
// no-op; the list is refreshed from the API on the next pull, not patched
// incrementally.
func (s *Store) ApplyIncomingMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byID[msg.ConversationID]
	if !ok {
		s.log.Debugw("message for unfetched conversation ignored", "conversation", msg.ConversationID)
		return
	}
	if conv.LastMessage != nil && !msg.CreatedAt.After(conv.LastMessage.CreatedAt) {
		return
	}
	conv.LastMessage = &models.LastMessage{
		ID:        msg.ID,
		SenderID:  msg.Sender.ID,
		Excerpt:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if msg.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.CreatedAt
	}
}

// AdvanceReadMarker moves a participant's lastReadAt forward. Monotonic:
// an older timestamp never wins.
func (s *Store) AdvanceReadMarker(receipt models.ReadReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byID[receipt.ConversationID]
	if !ok {
		return
	}
	for i := range conv.Participants {
		p := &conv.Participants[i]
		if p.User.ID != receipt.UserID {
			continue
		}
		if p.LastReadAt == nil || receipt.ReadAt.After(*p.LastReadAt) {
			at := receipt.ReadAt
			p.LastReadAt = &at
		}
		return
	}
}

// SetOpen records which conversation the user is looking at. The open state
// is the read state, before any network round-trip completes.
func (s *Store) SetOpen(conversationID string) {
	s.mu.Lock()
	s.openID = conversationID
	s.mu.Unlock()
}

// ClearOpen drops the open-conversation override.
func (s *Store) ClearOpen() {
	s.SetOpen("")
}

// OpenID returns the currently open conversation id, if any.
func (s *Store) OpenID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openID
}

// UnreadFor computes the displayed unread state for one conversation.
func (s *Store) UnreadFor(conv models.Conversation) int {
	s.mu.RLock()
	open := s.openID
	s.mu.RUnlock()
	return Unread(conv, s.selfID, open)
}

// Unread is the pure function behind the unread display: 0 for the open
// conversation regardless of server-computed staleness, otherwise 1 iff
// the last message is strictly newer than the local participant's read
// marker (or the marker is absent). Binary because the source of truth
// tracks a timestamp, not a count.
func Unread(conv models.Conversation, selfID, openID string) int {
	if conv.ID == openID {
		return 0
	}
	if conv.LastMessage == nil {
		return 0
	}
	self, ok := findParticipant(conv.Participants, selfID)
	if !ok || self.LastReadAt == nil {
		return 1
	}
	if conv.LastMessage.CreatedAt.After(*self.LastReadAt) {
		return 1
	}
	return 0
}

// Get returns a copy of the cached conversation.
func (s *Store) Get(conversationID string) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.byID[conversationID]
	if !ok {
		return models.Conversation{}, false
	}
	return *conv, true
}

// All returns copies of every cached conversation in display order.
func (s *Store) All() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Clear empties the cache, for the disconnect boundary.
func (s *Store) Clear() {
	s.mu.Lock()
	s.byID = make(map[string]*models.Conversation)
	s.order = nil
	s.mu.Unlock()
}

// OtherParticipant is the two-party read: the participant whose user id
// differs from selfID.
func OtherParticipant(conv models.Conversation, selfID string) (models.Participant, bool) {
	for _, p := range conv.Participants {
		if p.User.ID != selfID {
			return p, true
		}
	}
	return models.Participant{}, false
}

// Others generalizes OtherParticipant to N parties.
func Others(conv models.Conversation, selfID string) []models.Participant {
	out := make([]models.Participant, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		if p.User.ID != selfID {
			out = append(out, p)
		}
	}
	return out
}

func findParticipant(ps []models.Participant, userID string) (models.Participant, bool) {
	for _, p := range ps {
		if p.User.ID == userID {
			return p, true
		}
	}
	return models.Participant{}, false
}

// later reports whether a is a strictly later marker than b.
func later(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}
