package usecase

import (
	"testing"
	"time"

	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminScope() model.ViewScope {
	return model.ViewScope{Role: model.RoleAdmin, ViewerID: "admin-1"}
}

func standardScope(viewerID string) model.ViewScope {
	return model.ViewScope{Role: model.RoleStandard, ViewerID: viewerID}
}

func booking(id, owner string, status model.BookingStatus) *model.Booking {
	return &model.Booking{
		ID:        id,
		OwnerID:   owner,
		Status:    status,
		CreatedAt: time.Now(),
	}
}

func insertEvent(e model.TrackedEntity) model.ChangeEvent {
	return model.ChangeEvent{
		Kind:     model.ChangeInsert,
		Entity:   e.Kind(),
		EntityID: e.EntityID(),
		After:    e,
	}
}

func updateEvent(before, after model.TrackedEntity) model.ChangeEvent {
	return model.ChangeEvent{
		Kind:     model.ChangeUpdate,
		Entity:   after.Kind(),
		EntityID: after.EntityID(),
		Before:   before,
		After:    after,
	}
}

func deleteEvent(before model.TrackedEntity) model.ChangeEvent {
	return model.ChangeEvent{
		Kind:     model.ChangeDelete,
		Entity:   before.Kind(),
		EntityID: before.EntityID(),
		Before:   before,
	}
}

func TestViewReconcilerInsertPrepends(t *testing.T) {
	r := NewViewReconciler(model.KindBooking, adminScope(), &MockLogger{})

	_, err := r.Apply(insertEvent(booking("b1", "u1", model.BookingPending)))
	require.NoError(t, err)
	_, err = r.Apply(insertEvent(booking("b2", "u2", model.BookingPending)))
	require.NoError(t, err)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b2", all[0].EntityID(), "newest insert should be first")
	assert.Equal(t, "b1", all[1].EntityID())
}

func TestViewReconcilerInsertIsIdempotent(t *testing.T) {
	r := NewViewReconciler(model.KindBooking, adminScope(), &MockLogger{})

	b := booking("b1", "u1", model.BookingPending)
	_, err := r.Apply(insertEvent(b))
	require.NoError(t, err)
	_, err = r.Apply(insertEvent(b))
	require.NoError(t, err)

	assert.Equal(t, 1, r.Len(), "re-delivered insert must not duplicate the row")
	assert.Len(t, r.All(), 1)
}

func TestViewReconcilerUpdateReplacesByIdentity(t *testing.T) {
	r := NewViewReconciler(model.KindBooking, adminScope(), &MockLogger{})

	_, err := r.Apply(insertEvent(booking("b1", "u1", model.BookingPending)))
	require.NoError(t, err)
	_, err = r.Apply(insertEvent(booking("b2", "u2", model.BookingPending)))
	require.NoError(t, err)

	updated := booking("b1", "u1", model.BookingConfirmed)
	_, err = r.Apply(updateEvent(booking("b1", "u1", model.BookingPending), updated))
	require.NoError(t, err)

	all := r.All()
	require.Len(t, all, 2)
	// Position is preserved; only the row content changes.
	assert.Equal(t, "b2", all[0].EntityID())
	assert.Equal(t, "b1", all[1].EntityID())
	assert.Equal(t, "confirmed", all[1].StatusValue())
}

func TestViewReconcilerUpdateForUnknownIDIsNoOp(t *testing.T) {
	r := NewViewReconciler(model.KindBooking, adminScope(), &MockLogger{})

	delta, err := r.Apply(updateEvent(nil, booking("ghost", "u1", model.BookingConfirmed)))
	require.NoError(t, err)

	assert.False(t, delta.AllChanged)
	assert.Equal(t, 0, r.Len(), "an update must never fabricate a row")
}

func TestViewReconcilerDeleteRemovesByIdentity(t *testing.T) {
	r := NewViewReconciler(model.KindBooking, adminScope(), &MockLogger{})

	b := booking("b1", "u1", model.BookingPending)
	_, err := r.Apply(insertEvent(b))
	require.NoError(t, err)

	_, err = r.Apply(deleteEvent(b))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())

	// Re-delivered delete of an absent id is a no-op.
	delta, err := r.Apply(deleteEvent(b))
	require.NoError(t, err)
	assert.False(t, delta.AllChanged)
}

func TestViewReconcilerStandardScopeTracksOwnedOnly(t *testing.T) {
	r := NewViewReconciler(model.KindBooking, standardScope("u1"), &MockLogger{})

	_, err := r.Apply(insertEvent(booking("b1", "u1", model.BookingPending)))
	require.NoError(t, err)
	_, err = r.Apply(insertEvent(booking("b2", "someone-else", model.BookingPending)))
	require.NoError(t, err)

	assert.Nil(t, r.All(), "standard scope has no unfiltered projection")
	mine := r.Mine()
	require.Len(t, mine, 1)
	assert.Equal(t, "b1", mine[0].EntityID())
}

func TestViewReconcilerAdminMineIsSubsetOfAll(t *testing.T) {
	scope := adminScope()
	r := NewViewReconciler(model.KindBooking, scope, &MockLogger{})

	_, err := r.Apply(insertEvent(booking("b1", scope.ViewerID, model.BookingPending)))
	require.NoError(t, err)
	_, err = r.Apply(insertEvent(booking("b2", "u2", model.BookingPending)))
	require.NoError(t, err)

	// The admin's own booking moves through its lifecycle.
	_, err = r.Apply(updateEvent(
		booking("b1", scope.ViewerID, model.BookingPending),
		booking("b1", scope.ViewerID, model.BookingConfirmed)))
	require.NoError(t, err)

	all := r.All()
	mine := r.Mine()
	require.Len(t, all, 2)
	require.Len(t, mine, 1)

	allByID := map[string]model.TrackedEntity{}
	for _, e := range all {
		allByID[e.EntityID()] = e
	}
	for _, e := range mine {
		inAll, ok := allByID[e.EntityID()]
		require.True(t, ok, "every owned row must appear in the unfiltered projection")
		assert.Equal(t, inAll.StatusValue(), e.StatusValue(), "projections must agree on row content")
	}
}

func TestViewReconcilerRejectsWrongKind(t *testing.T) {
	r := NewViewReconciler(model.KindChatMessage, adminScope(), &MockLogger{})

	_, err := r.Apply(insertEvent(booking("b1", "u1", model.BookingPending)))
	assert.Error(t, err)
}

func TestViewReconcilerResetClearsStale(t *testing.T) {
	r := NewViewReconciler(model.KindBooking, adminScope(), &MockLogger{})

	r.MarkStale()
	assert.True(t, r.IsStale())

	r.Reset([]model.TrackedEntity{
		booking("b1", "u1", model.BookingPending),
		booking("b2", "u2", model.BookingConfirmed),
	})

	assert.False(t, r.IsStale())
	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b1", all[0].EntityID(), "reset preserves fetch order")
}

func TestViewReconcilerReplayedEventsConvergeToSameState(t *testing.T) {
	events := []model.ChangeEvent{
		insertEvent(booking("b1", "u1", model.BookingPending)),
		insertEvent(booking("b2", "u2", model.BookingPending)),
		updateEvent(booking("b1", "u1", model.BookingPending), booking("b1", "u1", model.BookingReady)),
		deleteEvent(booking("b2", "u2", model.BookingPending)),
	}

	once := NewViewReconciler(model.KindBooking, adminScope(), &MockLogger{})
	twice := NewViewReconciler(model.KindBooking, adminScope(), &MockLogger{})

	for _, e := range events {
		_, err := once.Apply(e)
		require.NoError(t, err)
	}
	// Deliver every event twice, in order.
	for _, e := range events {
		_, err := twice.Apply(e)
		require.NoError(t, err)
		_, err = twice.Apply(e)
		require.NoError(t, err)
	}

	require.Equal(t, once.Len(), twice.Len())
	onceAll := once.All()
	twiceAll := twice.All()
	require.Len(t, twiceAll, len(onceAll))
	for i := range onceAll {
		assert.Equal(t, onceAll[i].EntityID(), twiceAll[i].EntityID())
		assert.Equal(t, onceAll[i].StatusValue(), twiceAll[i].StatusValue())
	}
}
