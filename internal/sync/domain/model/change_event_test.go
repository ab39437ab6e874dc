package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ahmadnk31/gsm-sync/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestNormalizeInsert(t *testing.T) {
	raw := RawChange{
		Kind:      "insert",
		Entity:    "bookings",
		After:     mustJSON(t, &Booking{ID: "b1", OwnerID: "u1", Status: BookingPending}),
		Timestamp: time.Now(),
	}

	event, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, ChangeInsert, event.Kind)
	assert.Equal(t, KindBooking, event.Entity)
	assert.Equal(t, "b1", event.EntityID)
	assert.Nil(t, event.Before)
	require.NotNil(t, event.After)
	assert.Equal(t, "pending", event.After.StatusValue())
}

func TestNormalizeAcceptsAlternateSpellings(t *testing.T) {
	after := mustJSON(t, &Booking{ID: "b1", OwnerID: "u1"})

	cases := map[string]ChangeKind{
		"INSERT":   ChangeInsert,
		"created":  ChangeInsert,
		"added":    ChangeInsert,
		"UPDATE":   ChangeUpdate,
		"modified": ChangeUpdate,
		"DELETE":   ChangeDelete,
		"removed":  ChangeDelete,
	}

	for spelling, want := range cases {
		raw := RawChange{Kind: spelling, Entity: "bookings", After: after}
		if want == ChangeDelete {
			raw.After = nil
			raw.Before = after
		}
		event, err := Normalize(raw)
		require.NoError(t, err, "spelling %q", spelling)
		assert.Equal(t, want, event.Kind, "spelling %q", spelling)
	}
}

func TestNormalizeRejectsUnknownChangeKind(t *testing.T) {
	_, err := Normalize(RawChange{Kind: "truncate", Entity: "bookings"})
	require.Error(t, err)
	assert.True(t, errors.IsMalformedEvent(err))
}

func TestNormalizeRejectsUnknownEntityKind(t *testing.T) {
	_, err := Normalize(RawChange{Kind: "insert", Entity: "invoices"})
	require.Error(t, err)
	assert.True(t, errors.IsMalformedEvent(err))
}

func TestNormalizeInsertRequiresAfter(t *testing.T) {
	_, err := Normalize(RawChange{Kind: "insert", Entity: "bookings"})
	require.Error(t, err)
	assert.True(t, errors.IsMalformedEvent(err))
}

func TestNormalizeUpdateWithoutBeforeIsUnknownPriorState(t *testing.T) {
	raw := RawChange{
		Kind:   "update",
		Entity: "bookings",
		After:  mustJSON(t, &Booking{ID: "b1", OwnerID: "u1", Status: BookingConfirmed}),
	}

	event, err := Normalize(raw)
	require.NoError(t, err)

	assert.Nil(t, event.Before, "omitted old row stays nil, never fabricated")
	assert.Equal(t, "b1", event.EntityID)
	assert.False(t, event.StatusChanged(), "unknown prior state is never a transition")
}

func TestNormalizeUpdateRejectsIDMismatch(t *testing.T) {
	raw := RawChange{
		Kind:   "update",
		Entity: "bookings",
		Before: mustJSON(t, &Booking{ID: "b1", OwnerID: "u1"}),
		After:  mustJSON(t, &Booking{ID: "b2", OwnerID: "u1"}),
	}

	_, err := Normalize(raw)
	require.Error(t, err)
	assert.True(t, errors.IsMalformedEvent(err))
}

func TestNormalizeDeleteFromBeforeSnapshot(t *testing.T) {
	raw := RawChange{
		Kind:   "delete",
		Entity: "chat_messages",
		Before: mustJSON(t, &ChatMessage{ID: "m1", OwnerID: "u1", ConversationID: "c1"}),
	}

	event, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "m1", event.EntityID)
	assert.Nil(t, event.After)
	require.NotNil(t, event.Before)
}

func TestNormalizeDeleteFallsBackToID(t *testing.T) {
	event, err := Normalize(RawChange{Kind: "delete", Entity: "bookings", ID: "b9"})
	require.NoError(t, err)

	assert.Equal(t, "b9", event.EntityID)
	assert.Nil(t, event.Before)
}

func TestNormalizeDeleteWithoutIdentityFails(t *testing.T) {
	_, err := Normalize(RawChange{Kind: "delete", Entity: "bookings"})
	require.Error(t, err)
	assert.True(t, errors.IsMalformedEvent(err))
}

func TestNormalizeRejectsUndecodableSnapshot(t *testing.T) {
	_, err := Normalize(RawChange{
		Kind:   "insert",
		Entity: "bookings",
		After:  json.RawMessage(`{"status": 42`),
	})
	require.Error(t, err)
	assert.True(t, errors.IsMalformedEvent(err))
}

func TestStatusChanged(t *testing.T) {
	before := &Booking{ID: "b1", Status: BookingPending}
	after := &Booking{ID: "b1", Status: BookingConfirmed}

	changed := ChangeEvent{Kind: ChangeUpdate, Entity: KindBooking, Before: before, After: after}
	assert.True(t, changed.StatusChanged())

	same := ChangeEvent{Kind: ChangeUpdate, Entity: KindBooking, Before: before, After: before}
	assert.False(t, same.StatusChanged())

	unknown := ChangeEvent{Kind: ChangeUpdate, Entity: KindBooking, After: after}
	assert.False(t, unknown.StatusChanged())

	insert := ChangeEvent{Kind: ChangeInsert, Entity: KindBooking, After: after}
	assert.False(t, insert.StatusChanged())
}

func TestChatMessageStatusValue(t *testing.T) {
	unread := &ChatMessage{ID: "m1", IsRead: false}
	read := &ChatMessage{ID: "m1", IsRead: true}

	assert.Equal(t, "unread", unread.StatusValue())
	assert.Equal(t, "read", read.StatusValue())
}

func TestViewScopeValidate(t *testing.T) {
	assert.NoError(t, ViewScope{Role: RoleAdmin, ViewerID: "a1"}.Validate())
	assert.NoError(t, ViewScope{Role: RoleStandard, ViewerID: "u1"}.Validate())
	assert.Error(t, ViewScope{Role: RoleAdmin}.Validate())
	assert.Error(t, ViewScope{Role: "superuser", ViewerID: "u1"}.Validate())
}

func TestViewScopeOwns(t *testing.T) {
	scope := ViewScope{Role: RoleStandard, ViewerID: "u1"}

	assert.True(t, scope.Owns(&Booking{ID: "b1", OwnerID: "u1"}))
	assert.False(t, scope.Owns(&Booking{ID: "b2", OwnerID: "u2"}))
	assert.False(t, scope.Owns(nil))
}
