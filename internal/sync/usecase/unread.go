package usecase

import (
	"context"
	"sync"

	"github.com/ahmadnk31/gsm-sync/internal/shared/errors"
	"github.com/ahmadnk31/gsm-sync/internal/shared/logger"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/repository"
)

// UnreadAggregator derives per-conversation unread counters from message events
// instead of storing full rows. A message counts as unread when is_read is
// false and the sender is not the viewer.
//
// Each counted message is tracked by id, so replaying an event the aggregator
// has already absorbed changes nothing. Counters are rebuilt from a full scan
// on every (re)connect and adjusted incrementally in between. They never go
// negative.
type UnreadAggregator struct {
	mu       sync.RWMutex
	viewerID string
	counts   map[string]int
	unread   map[string]string // message id -> conversation id it is counted in
	store    repository.StoreGateway
	log      logger.Logger
}

// NewUnreadAggregator creates an aggregator for one viewer.
func NewUnreadAggregator(viewerID string, store repository.StoreGateway, log logger.Logger) *UnreadAggregator {
	return &UnreadAggregator{
		viewerID: viewerID,
		counts:   make(map[string]int),
		unread:   make(map[string]string),
		store:    store,
		log:      log.WithComponent("unread-aggregator"),
	}
}

// OnMessageEvent adjusts the conversation counter for one message event and
// returns the conversation id with the applied delta (0 when nothing changed).
//
// An update with an unknown prior state adjusts nothing: without the old row a
// false-to-true read transition cannot be distinguished from a no-op, and the
// next resync rebuild corrects any drift.
func (a *UnreadAggregator) OnMessageEvent(event model.ChangeEvent) (string, int) {
	if event.Entity != model.KindChatMessage {
		return "", 0
	}

	switch event.Kind {
	case model.ChangeInsert:
		msg, ok := event.After.(*model.ChatMessage)
		if !ok {
			return "", 0
		}
		if msg.SenderID != a.viewerID && !msg.IsRead {
			return msg.ConversationID, a.track(msg.ID, msg.ConversationID)
		}
		return msg.ConversationID, 0

	case model.ChangeUpdate:
		after, ok := event.After.(*model.ChatMessage)
		if !ok {
			return "", 0
		}
		before, ok := event.Before.(*model.ChatMessage)
		if !ok {
			// Unknown prior state: no inferred transition.
			return after.ConversationID, 0
		}
		if after.SenderID != a.viewerID && !before.IsRead && after.IsRead {
			return after.ConversationID, a.untrack(after.ID)
		}
		return after.ConversationID, 0

	case model.ChangeDelete:
		msg, ok := event.Before.(*model.ChatMessage)
		if !ok {
			return "", 0
		}
		if msg.SenderID != a.viewerID && !msg.IsRead {
			return msg.ConversationID, a.untrack(msg.ID)
		}
		return msg.ConversationID, 0
	}

	return "", 0
}

// track counts a message once. A message id that is already counted is a
// replayed delivery and contributes nothing.
func (a *UnreadAggregator) track(messageID, conversationID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, seen := a.unread[messageID]; seen {
		return 0
	}
	a.unread[messageID] = conversationID
	a.counts[conversationID]++
	return 1
}

// untrack removes a counted message. Messages the aggregator never counted
// (or already removed) leave the counter untouched.
func (a *UnreadAggregator) untrack(messageID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	conversationID, seen := a.unread[messageID]
	if !seen {
		return 0
	}
	delete(a.unread, messageID)

	next := a.counts[conversationID] - 1
	if next <= 0 {
		delete(a.counts, conversationID)
	} else {
		a.counts[conversationID] = next
	}
	return -1
}

// Rebuild recomputes every counter from a full message scan (resync).
func (a *UnreadAggregator) Rebuild(messages []model.TrackedEntity) {
	counts := make(map[string]int)
	unread := make(map[string]string)
	for _, e := range messages {
		msg, ok := e.(*model.ChatMessage)
		if !ok {
			continue
		}
		if msg.SenderID != a.viewerID && !msg.IsRead {
			if _, seen := unread[msg.ID]; seen {
				continue
			}
			unread[msg.ID] = msg.ConversationID
			counts[msg.ConversationID]++
		}
	}

	a.mu.Lock()
	a.counts = counts
	a.unread = unread
	a.mu.Unlock()
}

// Count returns the unread counter for a conversation.
func (a *UnreadAggregator) Count(conversationID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.counts[conversationID]
}

// Counts returns a snapshot of all non-zero counters.
func (a *UnreadAggregator) Counts() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

// MarkRead issues the bulk mark-read mutation for the conversation, scoped to
// exclude the viewer's own messages, then zeroes the counter. The counter is
// only touched after the store confirms: cache writes are never optimistic.
func (a *UnreadAggregator) MarkRead(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.NewValidationError("conversation id is required")
	}

	changed, err := a.store.BulkMarkRead(ctx, conversationID, a.viewerID)
	if err != nil {
		return errors.NewMutationRejectedError("bulk mark-read failed").WithCause(err).
			WithDetail("conversation_id", conversationID)
	}

	a.mu.Lock()
	delete(a.counts, conversationID)
	for id, conv := range a.unread {
		if conv == conversationID {
			delete(a.unread, id)
		}
	}
	a.mu.Unlock()

	a.log.WithFields(map[string]interface{}{
		"conversation_id": conversationID,
		"rows_changed":    changed,
	}).Debug("Conversation marked read")

	return nil
}
