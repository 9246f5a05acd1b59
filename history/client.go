// Package history is the request/response client for the paginated reads
// and mutations the channel does not carry: conversation list, message
// pages, send/edit/delete, mark-as-read.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShaileshJadav2732/chatsync/apperrors"
	"github.com/ShaileshJadav2732/chatsync/models"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	base  string
	token string
	http  *http.Client
	log   *zap.SugaredLogger
}

type Options struct {
	BaseURL      string
	SessionToken string
	HTTPClient   *http.Client
	Logger       *zap.SugaredLogger
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				MaxIdleConns:    16,
				IdleConnTimeout: 90 * time.Second,
			},
		}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		base:  strings.TrimRight(opts.BaseURL, "/"),
		token: opts.SessionToken,
		http:  hc,
		log:   log,
	}
}

type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total,omitempty"`
	HasMore bool `json:"has_more"`
}

type ConversationQuery struct {
	Page       int
	Limit      int
	Search     string
	UnreadOnly bool
}

type ConversationPage struct {
	Data       []models.Conversation `json:"data"`
	Pagination Pagination            `json:"pagination"`
}

type MessageQuery struct {
	ConversationID string
	Page           int
	Limit          int
	Before         *time.Time
}

type MessagePage struct {
	Data       []models.Message `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

type SendRequest struct {
	// ID is the client-generated message id; the server echoes it back on
	// the channel so the delivery deduplicates against the local copy.
	ID             string              `json:"id,omitempty"`
	ConversationID string              `json:"conversation_id,omitempty"`
	RecipientID    string              `json:"recipient_id"`
	Content        string              `json:"content"`
	Type           models.MessageType  `json:"type"`
	ReplyTo        string              `json:"reply_to,omitempty"`
	Attachments    []models.Attachment `json:"attachments,omitempty"`
}

type successBody struct {
	Success bool `json:"success"`
}

// Conversations pulls one page of the signed-in user's conversation list.
// Not retried automatically; the caller owns the retry affordance.
func (c *Client) Conversations(ctx context.Context, q ConversationQuery) (ConversationPage, error) {
	vals := url.Values{}
	vals.Set("page", strconv.Itoa(q.Page))
	vals.Set("limit", strconv.Itoa(q.Limit))
	if q.Search != "" {
		vals.Set("search", q.Search)
	}
	if q.UnreadOnly {
		vals.Set("unread_only", "true")
	}
	var page ConversationPage
	if err := c.get(ctx, "/conversations?"+vals.Encode(), &page); err != nil {
		return ConversationPage{}, err
	}
	return page, nil
}

// Messages pulls one page of a conversation's history, oldest first within
// the page.
func (c *Client) Messages(ctx context.Context, q MessageQuery) (MessagePage, error) {
	vals := url.Values{}
	vals.Set("page", strconv.Itoa(q.Page))
	vals.Set("limit", strconv.Itoa(q.Limit))
	if q.Before != nil {
		vals.Set("before", q.Before.UTC().Format(time.RFC3339Nano))
	}
	path := fmt.Sprintf("/conversations/%s/messages?%s", url.PathEscape(q.ConversationID), vals.Encode())
	var page MessagePage
	if err := c.get(ctx, path, &page); err != nil {
		return MessagePage{}, err
	}
	return page, nil
}

// Send posts a new message and returns the authoritative server copy.
func (c *Client) Send(ctx context.Context, req SendRequest) (models.Message, error) {
	var out struct {
		Data models.Message `json:"data"`
	}
	if err := c.mutate(ctx, http.MethodPost, "/messages", req, &out); err != nil {
		return models.Message{}, err
	}
	return out.Data, nil
}

// MarkConversationRead advances the server-side lastReadAt for the local
// participant to now.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/conversations/%s/read", url.PathEscape(conversationID))
	var out successBody
	return c.mutate(ctx, http.MethodPatch, path, nil, &out)
}

// EditMessage replaces a message's content and returns the updated copy.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (models.Message, error) {
	body := map[string]string{"content": content}
	var out struct {
		Data models.Message `json:"data"`
	}
	path := "/messages/" + url.PathEscape(messageID)
	if err := c.mutate(ctx, http.MethodPatch, path, body, &out); err != nil {
		return models.Message{}, err
	}
	return out.Data, nil
}

// DeleteMessage removes a message server-side.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	var out successBody
	return c.mutate(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, &out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return &apperrors.FetchError{Kind: apperrors.KindNetwork, Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &apperrors.FetchError{Kind: apperrors.KindNetwork, Err: err}
	}
	defer drain(resp.Body)

	if resp.StatusCode >= 400 {
		return &apperrors.FetchError{
			Kind:   apperrors.KindServer,
			Status: resp.StatusCode,
			Err:    errors.New(readErrorMessage(resp.Body)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &apperrors.FetchError{Kind: apperrors.KindServer, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func (c *Client) mutate(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &apperrors.SendError{Kind: apperrors.KindValidation, Err: err}
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return &apperrors.SendError{Kind: apperrors.KindNetwork, Err: err}
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &apperrors.SendError{Kind: apperrors.KindNetwork, Err: err}
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return &apperrors.SendError{
			Kind:   apperrors.KindServer,
			Status: resp.StatusCode,
			Err:    errors.New(readErrorMessage(resp.Body)),
		}
	case resp.StatusCode >= 400:
		// e.g. "recipient not found"; final, never auto-retried
		return &apperrors.SendError{
			Kind:   apperrors.KindValidation,
			Status: resp.StatusCode,
			Err:    errors.New(readErrorMessage(resp.Body)),
		}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &apperrors.SendError{Kind: apperrors.KindServer, Status: resp.StatusCode, Err: err}
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
}

// readErrorMessage extracts the server's error string, falling back to the
// raw body.
func readErrorMessage(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	var shaped struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &shaped); err == nil {
		if shaped.Error != "" {
			return shaped.Error
		}
		if shaped.Message != "" {
			return shaped.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

// drain consumes the rest of the body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	_ = body.Close()
}
