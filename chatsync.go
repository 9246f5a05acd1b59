// Package chatsync is the real-time messaging synchronization core for the
// donation platform's web client. It keeps the conversation list, unread
// state, per-conversation message history, presence and typing indicators
// consistent across one bidirectional event channel and the request/response
// history API, for a single connected client.
package chatsync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShaileshJadav2732/chatsync/apperrors"
	"github.com/ShaileshJadav2732/chatsync/channel"
	"github.com/ShaileshJadav2732/chatsync/conversations"
	"github.com/ShaileshJadav2732/chatsync/history"
	"github.com/ShaileshJadav2732/chatsync/internal/identity"
	"github.com/ShaileshJadav2732/chatsync/messages"
	"github.com/ShaileshJadav2732/chatsync/models"
	"github.com/ShaileshJadav2732/chatsync/presence"
	"github.com/ShaileshJadav2732/chatsync/receipts"
	"github.com/ShaileshJadav2732/chatsync/typing"
)

type Config struct {
	ChannelURL     string
	HistoryBaseURL string
	SessionToken   string
	Logger         *zap.SugaredLogger

	TypingIdle      time.Duration // default 2s
	RemoteTypingTTL time.Duration // default 10s
	PublishRate     int
	PageLimit       int // default 50
}

type sub struct {
	event string
	id    int
}

// Client wires the sync core together. The channel is the sole event source
// feeding presence, typing, the conversation store and the message stream;
// bulk state comes from the history API.
type Client struct {
	log  *zap.SugaredLogger
	self models.User

	Channel       *channel.Connection
	History       *history.Client
	Presence      *presence.Tracker
	Typing        *typing.Coordinator
	Conversations *conversations.Store
	Stream        *messages.Stream
	Receipts      *receipts.Reconciler

	token     string
	pageLimit int
	subs      []sub
}

func New(cfg Config) (*Client, error) {
	claims, err := identity.FromToken(cfg.SessionToken)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 50
	}

	hist := history.NewClient(history.Options{
		BaseURL:      cfg.HistoryBaseURL,
		SessionToken: cfg.SessionToken,
		Logger:       log,
	})
	conn := channel.New(channel.Options{
		URL:         cfg.ChannelURL,
		Logger:      log,
		PublishRate: cfg.PublishRate,
	})
	store := conversations.NewStore(hist, claims.UserID, log)
	rec := receipts.NewReconciler(hist, store, claims.UserID, log)
	strm := messages.NewStream(hist, func(ctx context.Context, conversationID string) error {
		rec.ConversationOpened(ctx, conversationID)
		return nil
	}, log)
	typ := typing.NewCoordinator(typing.Options{
		SelfID:      claims.UserID,
		SelfName:    claims.Name,
		Publish:     conn.Publish,
		Logger:      log,
		IdleTimeout: cfg.TypingIdle,
		RemoteTTL:   cfg.RemoteTypingTTL,
	})

	c := &Client{
		log: log,
		self: models.User{
			ID:   claims.UserID,
			Name: claims.Name,
			Role: models.Role(claims.Role),
		},
		Channel:       conn,
		History:       hist,
		Presence:      presence.NewTracker(log),
		Typing:        typ,
		Conversations: store,
		Stream:        strm,
		Receipts:      rec,
		token:         cfg.SessionToken,
		pageLimit:     cfg.PageLimit,
	}
	c.wire()
	return c, nil
}

// wire registers the core's channel handlers. Handlers decode the payload
// and hand it to the owning component; they never block.
func (c *Client) wire() {
	c.on(channel.EventMessageNew, func(raw json.RawMessage) {
		var msg models.Message
		if !c.decode(channel.EventMessageNew, raw, &msg) {
			return
		}
		c.Conversations.ApplyIncomingMessage(msg)
		c.Stream.AppendLive(msg)
	})
	c.on(channel.EventMessageRead, func(raw json.RawMessage) {
		var rr models.ReadReceipt
		if !c.decode(channel.EventMessageRead, raw, &rr) {
			return
		}
		c.Receipts.HandleRemoteReceipt(rr)
	})
	c.on(channel.EventUserOnline, func(raw json.RawMessage) {
		var st models.OnlineStatus
		if !c.decode(channel.EventUserOnline, raw, &st) {
			return
		}
		c.Presence.SetOnline(st.UserID)
	})
	c.on(channel.EventUserOffline, func(raw json.RawMessage) {
		var st models.OnlineStatus
		if !c.decode(channel.EventUserOffline, raw, &st) {
			return
		}
		c.Presence.SetOffline(st.UserID)
	})
	c.on(channel.EventOnlineList, func(raw json.RawMessage) {
		var list []models.OnlineStatus
		if !c.decode(channel.EventOnlineList, raw, &list) {
			return
		}
		c.Presence.ApplySnapshot(list)
	})
	c.on(channel.EventTypingStart, func(raw json.RawMessage) {
		var ind models.TypingIndicator
		if !c.decode(channel.EventTypingStart, raw, &ind) {
			return
		}
		c.Typing.HandleRemoteStart(ind)
	})
	c.on(channel.EventTypingStop, func(raw json.RawMessage) {
		var ind models.TypingIndicator
		if !c.decode(channel.EventTypingStop, raw, &ind) {
			return
		}
		c.Typing.HandleRemoteStop(ind)
	})

	// the disconnect boundary: presence and remote typing are stale the
	// moment the channel leaves the connected state, whether the drop is
	// terminal or the supervisor is already re-dialing. Fresh state arrives
	// only with the post-reconnect snapshot.
	c.Channel.OnStateChange(func(s channel.State) {
		if s != channel.StateConnected {
			c.Presence.Clear()
			c.Typing.ClearRemote()
		}
	})
}

func (c *Client) on(event string, h channel.Handler) {
	id := c.Channel.Subscribe(event, h)
	c.subs = append(c.subs, sub{event: event, id: id})
}

func (c *Client) decode(event string, raw json.RawMessage, out any) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		c.log.Debugw("dropping undecodable event payload", "event", event, "error", err)
		return false
	}
	return true
}

// Self is the signed-in user as derived from the session token.
func (c *Client) Self() models.User { return c.self }

// Connect attaches the channel. Connection failures surface through
// OnConnectionError, never through a returned error.
func (c *Client) Connect(ctx context.Context) {
	c.Channel.Connect(ctx, c.token)
}

// Disconnect tears the channel down; derived state is cleared.
func (c *Client) Disconnect() {
	c.Channel.Disconnect()
}

// OnConnectionError registers a callback for normalized connection failures.
func (c *Client) OnConnectionError(fn func(*apperrors.ConnectionError)) {
	c.Channel.OnError(fn)
}

// OnStateChange registers a connectivity callback for the presentation
// layer's degrade decisions.
func (c *Client) OnStateChange(fn func(channel.State)) {
	c.Channel.OnStateChange(fn)
}

// ListConversations pulls one page of the conversation list and merges it
// into the cache.
func (c *Client) ListConversations(ctx context.Context, f conversations.Filter, page int) ([]models.Conversation, bool, error) {
	return c.Conversations.List(ctx, f, page, c.pageLimit)
}

// OpenConversation makes conversationID the open one: joins its room, marks
// it read (optimistically, before the network resolves) and loads the first
// history page. The fetch error, if any, is returned for the caller's retry
// affordance; the open/read transition is not rolled back.
func (c *Client) OpenConversation(ctx context.Context, conversationID string) error {
	prev := c.Stream.ConversationID()
	if prev == conversationID {
		return nil
	}
	if prev != "" {
		c.Typing.StopLocal(prev)
		c.Channel.LeaveRoom(prev)
	}
	c.Stream.Open(conversationID)
	c.Channel.JoinRoom(conversationID)
	c.Stream.MarkConversationRead(ctx)
	_, err := c.Stream.LoadPage(ctx, 1, c.pageLimit)
	return err
}

// CloseConversation leaves the open conversation and discards its window.
func (c *Client) CloseConversation() {
	convID := c.Stream.ConversationID()
	if convID == "" {
		return
	}
	c.Typing.StopLocal(convID)
	c.Channel.LeaveRoom(convID)
	c.Stream.Close()
	c.Receipts.ConversationClosed()
}

// LoadOlder pulls one more (older) page into the open conversation's
// window. Returns whether more history remains.
func (c *Client) LoadOlder(ctx context.Context, page int) (bool, error) {
	return c.Stream.LoadPage(ctx, page, c.pageLimit)
}

// SendMessage posts through the history API and merges the authoritative
// copy into the window; the channel echo deduplicates against it by the
// client-stamped id. On failure nothing is appended; the caller shows the
// error and keeps the compose input for retry.
func (c *Client) SendMessage(ctx context.Context, req history.SendRequest) (models.Message, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	msg, err := c.History.Send(ctx, req)
	if err != nil {
		return models.Message{}, err
	}
	c.Conversations.ApplyIncomingMessage(msg)
	c.Stream.AppendLive(msg)
	return msg, nil
}

// EditMessage edits through the history API and applies the result to the
// window on confirmation.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (models.Message, error) {
	msg, err := c.History.EditMessage(ctx, messageID, content)
	if err != nil {
		return models.Message{}, err
	}
	editedAt := time.Now()
	if msg.EditedAt != nil {
		editedAt = *msg.EditedAt
	}
	c.Stream.ApplyEdit(messageID, msg.Content, editedAt)
	return msg, nil
}

// DeleteMessage deletes through the history API and removes the message
// from the visible window on confirmation.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	if err := c.History.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	c.Stream.ApplyDelete(messageID)
	return nil
}

// OnLocalInput forwards a compose keystroke for the open conversation into
// the typing debounce.
func (c *Client) OnLocalInput(content string) {
	convID := c.Stream.ConversationID()
	if convID == "" {
		return
	}
	c.Typing.OnLocalInput(convID, content)
}

// UnreadFor is the displayed unread state for one conversation.
func (c *Client) UnreadFor(conv models.Conversation) int {
	return c.Conversations.UnreadFor(conv)
}

// IsOnline reports a user's presence; false for unknown users.
func (c *Client) IsOnline(userID string) bool {
	return c.Presence.IsOnline(userID)
}

// IsAnyoneTyping reports whether someone other than self is typing in a
// conversation.
func (c *Client) IsAnyoneTyping(conversationID string) bool {
	return c.Typing.IsAnyoneTyping(conversationID, c.self.ID)
}

// Close detaches every handler, cancels typing timers and tears the channel
// down.
func (c *Client) Close() {
	for _, s := range c.subs {
		c.Channel.Unsubscribe(s.event, s.id)
	}
	c.subs = nil
	c.Typing.Close()
	c.Channel.Disconnect()
}
