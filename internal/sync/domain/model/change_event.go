package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ahmadnk31/gsm-sync/internal/shared/errors"
)

// ChangeKind classifies a row-level change.
type ChangeKind string

// ResumeToken marks a position in the event journal. Replaying from a token
// re-delivers events at least once; application is idempotent so replay is safe.
type ResumeToken string

const (
	// ChangeInsert signifies a new row was created.
	ChangeInsert ChangeKind = "insert"
	// ChangeUpdate signifies an existing row was modified.
	ChangeUpdate ChangeKind = "update"
	// ChangeDelete signifies a row was removed.
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is a normalized row-level change for one tracked entity.
//
// Invariants:
//   - Insert carries After only.
//   - Delete carries Before, or just EntityID when the feed omits the old row.
//   - Update carries After always; Before may be nil when the transport omitted
//     the old snapshot, which means "unknown prior state", not "no prior state".
//     Consumers must not infer a transition from a nil Before.
type ChangeEvent struct {
	Kind     ChangeKind
	Entity   EntityKind
	EntityID string
	Before   TrackedEntity
	After    TrackedEntity
	// Timestamp is when the change was committed, as reported by the feed.
	Timestamp time.Time
}

// RawChange is the wire shape of a change-feed payload before normalization.
// The framing itself belongs to the feed collaborator; this is only the envelope
// the sync layer understands.
type RawChange struct {
	Kind      string          `json:"kind"`
	Entity    string          `json:"entityKind"`
	ID        string          `json:"id,omitempty"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Normalize classifies a raw payload into a ChangeEvent. It is a pure function:
// no side effects, no logging. Callers log and discard on error; a malformed
// payload never halts the stream.
func Normalize(raw RawChange) (ChangeEvent, error) {
	kind, err := parseChangeKind(raw.Kind)
	if err != nil {
		return ChangeEvent{}, err
	}

	entityKind := EntityKind(raw.Entity)
	if !entityKind.IsValid() {
		return ChangeEvent{}, errors.NewMalformedEventError(
			fmt.Sprintf("unrecognized entity kind %q", raw.Entity)).WithCause(errors.ErrUnknownEntityKind)
	}

	event := ChangeEvent{
		Kind:      kind,
		Entity:    entityKind,
		Timestamp: raw.Timestamp,
	}

	if len(raw.Before) > 0 {
		before, err := decodeEntity(entityKind, raw.Before)
		if err != nil {
			return ChangeEvent{}, errors.NewMalformedEventError("undecodable before snapshot").WithCause(err)
		}
		event.Before = before
	}
	if len(raw.After) > 0 {
		after, err := decodeEntity(entityKind, raw.After)
		if err != nil {
			return ChangeEvent{}, errors.NewMalformedEventError("undecodable after snapshot").WithCause(err)
		}
		event.After = after
	}

	switch kind {
	case ChangeInsert:
		if event.After == nil {
			return ChangeEvent{}, errors.NewMalformedEventError("insert without after snapshot").WithCause(errors.ErrMalformedEvent)
		}
		event.Before = nil
		event.EntityID = event.After.EntityID()

	case ChangeUpdate:
		if event.After == nil {
			return ChangeEvent{}, errors.NewMalformedEventError("update without after snapshot").WithCause(errors.ErrMalformedEvent)
		}
		// Some transports omit the old row on update. A nil Before is "unknown",
		// and must not be fabricated here.
		if event.Before != nil && event.Before.EntityID() != event.After.EntityID() {
			return ChangeEvent{}, errors.NewMalformedEventError("update before/after id mismatch").WithCause(errors.ErrMalformedEvent)
		}
		event.EntityID = event.After.EntityID()

	case ChangeDelete:
		if event.Before != nil {
			event.EntityID = event.Before.EntityID()
		} else if raw.ID != "" {
			event.EntityID = raw.ID
		} else {
			return ChangeEvent{}, errors.NewMalformedEventError("delete without before snapshot or id").WithCause(errors.ErrMalformedEvent)
		}
		event.After = nil
	}

	return event, nil
}

// parseChangeKind maps feed spellings onto ChangeKind. Both the Postgres-style
// (INSERT/UPDATE/DELETE) and document-style (created/updated/deleted) spellings
// appear in the wild, so both are accepted.
func parseChangeKind(kind string) (ChangeKind, error) {
	switch strings.ToLower(kind) {
	case "insert", "created", "added":
		return ChangeInsert, nil
	case "update", "updated", "modified":
		return ChangeUpdate, nil
	case "delete", "deleted", "removed":
		return ChangeDelete, nil
	}
	return "", errors.NewMalformedEventError(
		fmt.Sprintf("unrecognized change kind %q", kind)).WithCause(errors.ErrUnknownChangeKind)
}

// decodeEntity unmarshals a snapshot into the concrete type for the kind.
func decodeEntity(kind EntityKind, data json.RawMessage) (TrackedEntity, error) {
	switch kind {
	case KindBooking:
		var b Booking
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return &b, nil
	case KindChatMessage:
		var m ChatMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	case KindQuoteRequest:
		var q QuoteRequest
		if err := json.Unmarshal(data, &q); err != nil {
			return nil, err
		}
		return &q, nil
	}
	return nil, errors.ErrUnknownEntityKind
}

// StatusChanged reports whether the event is an update whose status field moved
// between two known values. A nil Before always reports false: an unknown prior
// state is never treated as a transition.
func (e ChangeEvent) StatusChanged() bool {
	if e.Kind != ChangeUpdate || e.Before == nil || e.After == nil {
		return false
	}
	return e.Before.StatusValue() != e.After.StatusValue()
}

// UpdateFromEntity builds the authoritative Update event for a confirmed mutation
// response. The store's returned row is trusted even if the stream has not yet
// delivered the corresponding change.
func UpdateFromEntity(before, after TrackedEntity) ChangeEvent {
	return ChangeEvent{
		Kind:      ChangeUpdate,
		Entity:    after.Kind(),
		EntityID:  after.EntityID(),
		Before:    before,
		After:     after,
		Timestamp: time.Now(),
	}
}
