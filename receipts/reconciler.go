// Package receipts advances the local participant's read marker and
// propagates read state between the channel and the conversation cache.
package receipts

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ShaileshJadav2732/chatsync/conversations"
	"github.com/ShaileshJadav2732/chatsync/models"
)

// Marker is the mark-as-read slice of the history API.
type Marker interface {
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// Reconciler applies the open-is-read policy: the local display flips to
// read before the network call resolves, and a failed call never rolls it
// back.
type Reconciler struct {
	marker Marker
	store  *conversations.Store
	log    *zap.SugaredLogger
	selfID string
	now    func() time.Time
}

func NewReconciler(marker Marker, store *conversations.Store, selfID string, log *zap.SugaredLogger) *Reconciler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reconciler{
		marker: marker,
		store:  store,
		log:    log,
		selfID: selfID,
		now:    time.Now,
	}
}

// ConversationOpened makes conversationID the open one. The unread override
// and the optimistic local read marker are applied immediately; only then
// is the server told.
func (r *Reconciler) ConversationOpened(ctx context.Context, conversationID string) {
	r.store.SetOpen(conversationID)
	r.store.AdvanceReadMarker(models.ReadReceipt{
		ConversationID: conversationID,
		UserID:         r.selfID,
		ReadAt:         r.now(),
	})
	if err := r.marker.MarkConversationRead(ctx, conversationID); err != nil {
		// not rolled back; the next full list refresh reconciles from the
		// server's authoritative lastReadAt
		r.log.Warnw("mark-as-read failed", "conversation", conversationID, "error", err)
	}
}

// ConversationClosed drops the open-conversation override.
func (r *Reconciler) ConversationClosed() {
	r.store.ClearOpen()
}

// HandleRemoteReceipt consumes a message:read channel event. Receipts from
// other participants update display-only state (delivery checkmarks via the
// cached participant markers); they never touch the local user's own
// lastReadAt unless the event is the server echo of our own mark, in which
// case the monotonic advance makes it a no-op or a forward move.
func (r *Reconciler) HandleRemoteReceipt(receipt models.ReadReceipt) {
	r.store.AdvanceReadMarker(receipt)
}
