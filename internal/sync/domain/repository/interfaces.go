package repository

import (
	"context"

	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"
)

// StoreGateway is the boundary to the relational data store. The sync layer
// never mutates its caches from these calls directly; confirmed mutation
// responses re-enter through the reconciler as authoritative Update events.
type StoreGateway interface {
	// FetchAll performs the full resync read for one entity kind. The read is
	// scoped server-side: owned rows only for a standard viewer, unscoped for
	// an admin (the admin's "mine" projection is derived client-side).
	FetchAll(ctx context.Context, kind model.EntityKind, scope model.ViewScope) ([]model.TrackedEntity, error)

	// Mutate applies a patch to one row and returns the updated row. Callers
	// treat the returned row as an authoritative Update event even if the
	// change feed has not delivered it yet.
	Mutate(ctx context.Context, kind model.EntityKind, id string, patch map[string]interface{}) (model.TrackedEntity, error)

	// BulkMarkRead marks every unread message in the conversation as read,
	// excluding messages sent by excludeSenderID. Returns the number of rows
	// changed.
	BulkMarkRead(ctx context.Context, conversationID, excludeSenderID string) (int64, error)
}

// Subscription is one logical change-feed channel for a tracked entity kind.
type Subscription interface {
	// Events delivers raw change payloads in arrival order while connected.
	// Delivery is at-least-once; nothing is replayed across a disconnect.
	Events() <-chan model.RawChange

	// Resyncs signals after every successful connect, including the first.
	// Consumers must complete a full resynchronization fetch before trusting
	// incremental application again.
	Resyncs() <-chan struct{}

	// Close tears the subscription down and stops reconnect attempts.
	Close() error
}

// ChangeFeed opens subscriptions against the backend's change feed.
type ChangeFeed interface {
	Subscribe(ctx context.Context, kind model.EntityKind) (Subscription, error)
}

// EventJournal is a bounded local record of applied events, used to absorb
// events that raced a resync. Replay since a token is at-least-once.
type EventJournal interface {
	Append(ctx context.Context, kind model.EntityKind, raw model.RawChange) (model.ResumeToken, error)
	ReadSince(ctx context.Context, kind model.EntityKind, token model.ResumeToken) ([]model.RawChange, error)
	Trim(ctx context.Context, kind model.EntityKind, maxLen int64) error
}
