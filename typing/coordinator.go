// Package typing derives local typing state with debounce and tracks remote
// typing state with per-(conversation,user) expiry.
package typing

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShaileshJadav2732/chatsync/channel"
	"github.com/ShaileshJadav2732/chatsync/models"
)

const (
	// DefaultIdleTimeout is the quiet period after the last keystroke before
	// typing:stop is published.
	DefaultIdleTimeout = 2 * time.Second
	// DefaultRemoteTTL expires a remote typing:start that never gets a
	// matching typing:stop.
	DefaultRemoteTTL = 10 * time.Second
)

// PublishFunc emits one event on the channel. Best-effort; the coordinator
// never inspects a result.
type PublishFunc func(event string, payload any)

type localState struct {
	active bool
	timer  Timer
}

type remoteState struct {
	userName string
	timer    Timer
}

// Coordinator owns both sides of the typing indicator. One debounce timer
// per conversation; the timer is cancelled and re-armed atomically on every
// keystroke.
type Coordinator struct {
	publish  PublishFunc
	sched    Scheduler
	log      *zap.SugaredLogger
	selfID   string
	selfName string
	idle     time.Duration
	ttl      time.Duration

	mu     sync.Mutex
	closed bool
	local  map[string]*localState
	remote map[string]map[string]*remoteState // conversationID -> userID
}

type Options struct {
	SelfID      string
	SelfName    string
	Publish     PublishFunc
	Scheduler   Scheduler
	Logger      *zap.SugaredLogger
	IdleTimeout time.Duration
	RemoteTTL   time.Duration
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Scheduler == nil {
		opts.Scheduler = WallClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.RemoteTTL <= 0 {
		opts.RemoteTTL = DefaultRemoteTTL
	}
	if opts.Publish == nil {
		opts.Publish = func(string, any) {}
	}
	return &Coordinator{
		publish:  opts.Publish,
		sched:    opts.Scheduler,
		log:      opts.Logger,
		selfID:   opts.SelfID,
		selfName: opts.SelfName,
		idle:     opts.IdleTimeout,
		ttl:      opts.RemoteTTL,
		local:    make(map[string]*localState),
		remote:   make(map[string]map[string]*remoteState),
	}
}

// OnLocalInput is called on every keystroke with the current compose text.
// The first call since idle publishes typing:start; every call re-arms the
// idle timer. Empty content publishes typing:stop immediately without
// waiting for the debounce window.
func (c *Coordinator) OnLocalInput(conversationID, content string) {
	if content == "" {
		c.stopLocal(conversationID, true)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	st := c.local[conversationID]
	if st == nil {
		st = &localState{}
		c.local[conversationID] = st
	}
	first := !st.active
	st.active = true
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = c.sched.AfterFunc(c.idle, func() { c.stopLocal(conversationID, true) })
	c.mu.Unlock()

	if first {
		c.publish(channel.EventTypingStart, c.indicator(conversationID, true))
	}
}

// StopLocal cancels the debounce for one conversation without publishing,
// for when the conversation view is torn down.
func (c *Coordinator) StopLocal(conversationID string) {
	c.stopLocal(conversationID, false)
}

func (c *Coordinator) stopLocal(conversationID string, announce bool) {
	c.mu.Lock()
	st := c.local[conversationID]
	wasActive := st != nil && st.active
	if st != nil {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(c.local, conversationID)
	}
	c.mu.Unlock()

	if announce && wasActive {
		c.publish(channel.EventTypingStop, c.indicator(conversationID, false))
	}
}

func (c *Coordinator) indicator(conversationID string, typing bool) models.TypingIndicator {
	return models.TypingIndicator{
		ConversationID: conversationID,
		UserID:         c.selfID,
		UserName:       c.selfName,
		IsTyping:       typing,
	}
}

// HandleRemoteStart upserts a remote indicator and re-arms its expiry.
// Events echoing the local user are ignored.
func (c *Coordinator) HandleRemoteStart(ind models.TypingIndicator) {
	if ind.UserID == c.selfID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	users := c.remote[ind.ConversationID]
	if users == nil {
		users = make(map[string]*remoteState)
		c.remote[ind.ConversationID] = users
	}
	st := users[ind.UserID]
	if st == nil {
		st = &remoteState{}
		users[ind.UserID] = st
	}
	st.userName = ind.UserName
	if st.timer != nil {
		st.timer.Stop()
	}
	convID, userID := ind.ConversationID, ind.UserID
	st.timer = c.sched.AfterFunc(c.ttl, func() { c.expireRemote(convID, userID) })
}

// HandleRemoteStop removes a remote indicator.
func (c *Coordinator) HandleRemoteStop(ind models.TypingIndicator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeRemoteLocked(ind.ConversationID, ind.UserID)
}

func (c *Coordinator) expireRemote(conversationID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Debugw("remote typing indicator expired", "conversation", conversationID, "user", userID)
	c.removeRemoteLocked(conversationID, userID)
}

func (c *Coordinator) removeRemoteLocked(conversationID, userID string) {
	users := c.remote[conversationID]
	if users == nil {
		return
	}
	if st := users[userID]; st != nil && st.timer != nil {
		st.timer.Stop()
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(c.remote, conversationID)
	}
}

// IsAnyoneTyping reports whether at least one indicator matches the
// conversation with a user other than excludingUserID.
func (c *Coordinator) IsAnyoneTyping(conversationID, excludingUserID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for userID := range c.remote[conversationID] {
		if userID != excludingUserID {
			return true
		}
	}
	return false
}

// TypingUsers lists the active remote indicators for a conversation.
func (c *Coordinator) TypingUsers(conversationID string) []models.TypingIndicator {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := c.remote[conversationID]
	out := make([]models.TypingIndicator, 0, len(users))
	for userID, st := range users {
		out = append(out, models.TypingIndicator{
			ConversationID: conversationID,
			UserID:         userID,
			UserName:       st.userName,
			IsTyping:       true,
		})
	}
	return out
}

// ClearRemote drops all remote indicators, for the disconnect boundary.
func (c *Coordinator) ClearRemote() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for convID, users := range c.remote {
		for userID, st := range users {
			if st.timer != nil {
				st.timer.Stop()
			}
			delete(users, userID)
		}
		delete(c.remote, convID)
	}
}

// Close cancels every outstanding timer without publishing. A stale
// typing:stop must not fire after the view is gone.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for convID, st := range c.local {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(c.local, convID)
	}
	for convID, users := range c.remote {
		for userID, st := range users {
			if st.timer != nil {
				st.timer.Stop()
			}
			delete(users, userID)
		}
		delete(c.remote, convID)
	}
}
