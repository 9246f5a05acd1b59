// Package messages holds the message history for the one open conversation,
// merging paged fetch results with live channel deliveries.
package messages

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShaileshJadav2732/chatsync/apperrors"
	"github.com/ShaileshJadav2732/chatsync/history"
	"github.com/ShaileshJadav2732/chatsync/models"
)

// Fetcher is the slice of the history API the stream pulls pages from.
type Fetcher interface {
	Messages(ctx context.Context, q history.MessageQuery) (history.MessagePage, error)
}

// MarkReadFunc advances the server-side read marker for a conversation.
type MarkReadFunc func(ctx context.Context, conversationID string) error

// Stream is scoped to the currently open conversation. Opening a different
// conversation discards the window wholesale; windows are never merged
// across conversations.
type Stream struct {
	api      Fetcher
	markRead MarkReadFunc
	log      *zap.SugaredLogger

	mu         sync.RWMutex
	convID     string
	items      []models.Message
	hasMore    bool
	markedRead bool // one mark-as-read per became-open transition
}

func NewStream(api Fetcher, markRead MarkReadFunc, log *zap.SugaredLogger) *Stream {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if markRead == nil {
		markRead = func(context.Context, string) error { return nil }
	}
	return &Stream{api: api, markRead: markRead, log: log}
}

// Open points the stream at a conversation and discards any previous
// window.
func (s *Stream) Open(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convID = conversationID
	s.items = nil
	s.hasMore = false
	s.markedRead = false
}

// Close detaches the stream from its conversation.
func (s *Stream) Close() {
	s.Open("")
}

// ConversationID returns the id of the open conversation, if any.
func (s *Stream) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.convID
}

// LoadPage fetches one history page. Page 1 replaces the window; later
// pages prepend older messages to the front, preserving ascending order
// overall. Returns whether more (older) history remains.
func (s *Stream) LoadPage(ctx context.Context, page, limit int) (bool, error) {
	s.mu.RLock()
	convID := s.convID
	s.mu.RUnlock()
	if convID == "" {
		return false, nil
	}

	res, err := s.api.Messages(ctx, history.MessageQuery{
		ConversationID: convID,
		Page:           page,
		Limit:          limit,
	})
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.convID != convID {
		// the open conversation changed while the fetch was in flight
		return false, nil
	}
	if page <= 1 {
		s.items = append([]models.Message{}, res.Data...)
	} else {
		merged := make([]models.Message, 0, len(res.Data)+len(s.items))
		merged = append(merged, res.Data...)
		for _, m := range s.items {
			if !containsID(res.Data, m.ID) {
				merged = append(merged, m)
			}
		}
		s.items = merged
	}
	s.hasMore = res.Pagination.HasMore
	return res.Pagination.HasMore, nil
}

// AppendLive merges one channel delivery. A message whose id is already in
// the window replaces the existing copy in place, so an optimistic local send
// echoed by the server never appears twice. Deliveries for other
// conversations are ignored.
func (s *Stream) AppendLive(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ConversationID != s.convID || s.convID == "" {
		return
	}
	for i := range s.items {
		if s.items[i].ID == msg.ID {
			s.items[i] = msg
			return
		}
	}
	s.items = append(s.items, msg)
}

// ApplyEdit replaces a message's content and stamps editedAt. Unknown ids
// are a benign no-op: the message fell outside the loaded window.
func (s *Stream) ApplyEdit(messageID, newContent string, editedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == messageID {
			s.items[i].Content = newContent
			at := editedAt
			s.items[i].EditedAt = &at
			return
		}
	}
	s.log.Debugw("edit for message outside window", "message", messageID, "reason", apperrors.ErrMutationConflict)
}

// ApplyDelete removes a message from the visible window upon server
// confirmation. Unknown ids are a benign no-op.
func (s *Stream) ApplyDelete(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == messageID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
	s.log.Debugw("delete for message outside window", "message", messageID, "reason", apperrors.ErrMutationConflict)
}

// MarkConversationRead triggers the read-receipt flow once per became-open
// transition; repeat calls while the conversation stays open are no-ops.
// A failed mark produces no user-visible error and is never rolled back.
func (s *Stream) MarkConversationRead(ctx context.Context) {
	s.mu.Lock()
	if s.convID == "" || s.markedRead {
		s.mu.Unlock()
		return
	}
	s.markedRead = true
	convID := s.convID
	s.mu.Unlock()

	if err := s.markRead(ctx, convID); err != nil {
		// the UI-is-truth-while-open invariant wins; the next list refresh
		// reconciles from the server's authoritative lastReadAt
		s.log.Warnw("mark-as-read failed", "conversation", convID, "error", err)
	}
}

// Messages returns a copy of the window, ascending by createdAt.
func (s *Stream) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message{}, s.items...)
}

// Len reports the window length.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// HasMore reports whether older history remains to pull.
func (s *Stream) HasMore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasMore
}

func containsID(msgs []models.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
