package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShaileshJadav2732/chatsync/apperrors"
	"github.com/ShaileshJadav2732/chatsync/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Options{BaseURL: srv.URL, SessionToken: "tok-123"})
	return c, srv
}

func TestConversationsQueryAndAuth(t *testing.T) {
	var gotAuth, gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "/conversations", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ConversationPage{
			Data:       []models.Conversation{{ID: "c1"}},
			Pagination: Pagination{Page: 2, HasMore: true},
		})
	})

	page, err := c.Conversations(context.Background(), ConversationQuery{
		Page: 2, Limit: 10, Search: "well", UnreadOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Contains(t, gotQuery, "page=2")
	assert.Contains(t, gotQuery, "limit=10")
	assert.Contains(t, gotQuery, "search=well")
	assert.Contains(t, gotQuery, "unread_only=true")
	require.Len(t, page.Data, 1)
	assert.True(t, page.Pagination.HasMore)
}

func TestMessagesPath(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/c1/messages", r.URL.Path)
		_ = json.NewEncoder(w).Encode(MessagePage{
			Data:       []models.Message{{ID: "m1", ConversationID: "c1"}},
			Pagination: Pagination{HasMore: false},
		})
	})
	page, err := c.Messages(context.Background(), MessageQuery{ConversationID: "c1", Page: 1, Limit: 50})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "m1", page.Data[0].ID)
}

func TestFetchServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"db down"}`, http.StatusInternalServerError)
	})
	_, err := c.Conversations(context.Background(), ConversationQuery{Page: 1, Limit: 10})
	var fe *apperrors.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, apperrors.KindServer, fe.Kind)
	assert.Equal(t, http.StatusInternalServerError, fe.Status)
	assert.Contains(t, fe.Err.Error(), "db down")
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // refuse connections
	c := NewClient(Options{BaseURL: srv.URL, SessionToken: "tok"})
	_, err := c.Conversations(context.Background(), ConversationQuery{Page: 1, Limit: 10})
	var fe *apperrors.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, apperrors.KindNetwork, fe.Kind)
	assert.Zero(t, fe.Status)
}

func TestSendCarriesClientID(t *testing.T) {
	var got SendRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]models.Message{"data": {
			ID:             got.ID,
			ConversationID: "c1",
			Content:        got.Content,
			CreatedAt:      time.Now().UTC(),
		}})
	})

	msg, err := c.Send(context.Background(), SendRequest{
		ID:          "client-id-1",
		RecipientID: "org1",
		Content:     "thank you!",
		Type:        models.MessageTypeText,
	})
	require.NoError(t, err)
	assert.Equal(t, "client-id-1", got.ID)
	assert.Equal(t, "client-id-1", msg.ID)
}

func TestSendValidationError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"recipient not found"}`, http.StatusUnprocessableEntity)
	})
	_, err := c.Send(context.Background(), SendRequest{RecipientID: "ghost", Content: "hi"})
	var se *apperrors.SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, apperrors.KindValidation, se.Kind)
	assert.Contains(t, se.Err.Error(), "recipient not found")
	assert.False(t, apperrors.IsRetryable(err))
}

func TestSendServerErrorIsRetryable(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusBadGateway)
	})
	_, err := c.Send(context.Background(), SendRequest{RecipientID: "org1", Content: "hi"})
	var se *apperrors.SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, apperrors.KindServer, se.Kind)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestMarkConversationRead(t *testing.T) {
	var method, path string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	})
	require.NoError(t, c.MarkConversationRead(context.Background(), "c1"))
	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "/conversations/c1/read", path)
}

func TestEditAndDelete(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			assert.Equal(t, "/messages/m1", r.URL.Path)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			now := time.Now().UTC()
			_ = json.NewEncoder(w).Encode(map[string]models.Message{"data": {
				ID: "m1", Content: body["content"], EditedAt: &now,
			}})
		case http.MethodDelete:
			assert.Equal(t, "/messages/m2", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})

	msg, err := c.EditMessage(context.Background(), "m1", "better words")
	require.NoError(t, err)
	assert.Equal(t, "better words", msg.Content)
	require.NotNil(t, msg.EditedAt)

	require.NoError(t, c.DeleteMessage(context.Background(), "m2"))
}

func TestContextCancellation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Conversations(ctx, ConversationQuery{Page: 1, Limit: 10})
	var fe *apperrors.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, apperrors.KindNetwork, fe.Kind)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
