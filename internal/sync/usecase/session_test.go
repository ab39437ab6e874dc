package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ahmadnk31/gsm-sync/internal/shared/errors"
	"github.com/ahmadnk31/gsm-sync/internal/shared/eventbus"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionConfig() SessionConfig {
	return SessionConfig{
		ResyncInitialBackoff: 10 * time.Millisecond,
		ResyncMaxBackoff:     50 * time.Millisecond,
		JournalMaxLen:        100,
	}
}

func rawInsert(t *testing.T, e model.TrackedEntity) model.RawChange {
	t.Helper()
	after, err := json.Marshal(e)
	require.NoError(t, err)
	return model.RawChange{
		Kind:      "insert",
		Entity:    string(e.Kind()),
		After:     after,
		Timestamp: time.Now(),
	}
}

func rawUpdate(t *testing.T, before, after model.TrackedEntity) model.RawChange {
	t.Helper()
	raw := model.RawChange{
		Kind:      "update",
		Entity:    string(after.Kind()),
		Timestamp: time.Now(),
	}
	var err error
	raw.After, err = json.Marshal(after)
	require.NoError(t, err)
	if before != nil {
		raw.Before, err = json.Marshal(before)
		require.NoError(t, err)
	}
	return raw
}

func startSession(t *testing.T, scope model.ViewScope, feed *MockChangeFeed, store *MockStoreGateway) *SyncSession {
	t.Helper()
	session := NewSyncSession(scope, feed, store, NewMemoryJournal(), eventbus.NewEventBus(&MockLogger{}), testSessionConfig(), &MockLogger{})
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(session.Stop)
	return session
}

func waitForView(t *testing.T, session *SyncSession, kind model.EntityKind, check func(ViewSnapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		snapshot, err := session.GetView(kind)
		if err != nil {
			return false
		}
		return check(snapshot)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionResyncPopulatesView(t *testing.T) {
	feed := NewMockChangeFeed()
	store := &MockStoreGateway{
		FetchAllFn: func(ctx context.Context, kind model.EntityKind, scope model.ViewScope) ([]model.TrackedEntity, error) {
			if kind == model.KindBooking {
				return []model.TrackedEntity{booking("b1", "u1", model.BookingPending)}, nil
			}
			return nil, nil
		},
	}

	session := startSession(t, adminScope(), feed, store)

	feed.Sub(model.KindBooking).SignalResync()

	waitForView(t, session, model.KindBooking, func(s ViewSnapshot) bool {
		return len(s.All) == 1 && !s.Stale
	})
}

func TestSessionAppliesStreamedEvents(t *testing.T) {
	feed := NewMockChangeFeed()
	session := startSession(t, adminScope(), feed, &MockStoreGateway{})

	sub := feed.Sub(model.KindBooking)
	sub.SignalResync()
	waitForView(t, session, model.KindBooking, func(s ViewSnapshot) bool { return !s.Stale })

	sub.EventsCh <- rawInsert(t, booking("b1", "u1", model.BookingPending))
	waitForView(t, session, model.KindBooking, func(s ViewSnapshot) bool {
		return len(s.All) == 1 && s.All[0].EntityID() == "b1"
	})

	sub.EventsCh <- rawUpdate(t,
		booking("b1", "u1", model.BookingPending),
		booking("b1", "u1", model.BookingConfirmed))
	waitForView(t, session, model.KindBooking, func(s ViewSnapshot) bool {
		return len(s.All) == 1 && s.All[0].StatusValue() == "confirmed"
	})
}

func TestSessionDiscardsMalformedEvents(t *testing.T) {
	feed := NewMockChangeFeed()
	session := startSession(t, adminScope(), feed, &MockStoreGateway{})

	sub := feed.Sub(model.KindBooking)

	// Unknown change kind, then insert without a row, then a valid insert.
	// The stream must survive the garbage.
	sub.EventsCh <- model.RawChange{Kind: "truncate", Entity: "bookings"}
	sub.EventsCh <- model.RawChange{Kind: "insert", Entity: "bookings"}
	sub.EventsCh <- rawInsert(t, booking("b1", "u1", model.BookingPending))

	waitForView(t, session, model.KindBooking, func(s ViewSnapshot) bool {
		return len(s.All) == 1 && s.All[0].EntityID() == "b1"
	})
}

func TestSessionFailedResyncMarksViewStale(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	feed := NewMockChangeFeed()
	store := &MockStoreGateway{
		FetchAllFn: func(ctx context.Context, kind model.EntityKind, scope model.ViewScope) ([]model.TrackedEntity, error) {
			if failing.Load() {
				return nil, fmt.Errorf("store unavailable")
			}
			return []model.TrackedEntity{booking("b1", "u1", model.BookingPending)}, nil
		},
	}

	session := startSession(t, adminScope(), feed, store)

	feed.Sub(model.KindBooking).SignalResync()
	waitForView(t, session, model.KindBooking, func(s ViewSnapshot) bool { return s.Stale })

	// The session keeps retrying on its own backoff and recovers once the
	// store comes back.
	failing.Store(false)
	waitForView(t, session, model.KindBooking, func(s ViewSnapshot) bool {
		return !s.Stale && len(s.All) == 1
	})
}

func TestSessionReconnectMidFetchRestartsResync(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32

	feed := NewMockChangeFeed()
	store := &MockStoreGateway{
		FetchAllFn: func(ctx context.Context, kind model.EntityKind, scope model.ViewScope) ([]model.TrackedEntity, error) {
			if calls.Add(1) == 1 {
				// First fetch hangs until the test releases it, simulating a
				// slow snapshot read that a reconnect overtakes.
				select {
				case <-release:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return []model.TrackedEntity{booking("b1", "u1", model.BookingReady)}, nil
		},
	}

	session := startSession(t, adminScope(), feed, store)

	sub := feed.Sub(model.KindBooking)
	sub.SignalResync()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	sub.SignalResync()
	close(release)

	waitForView(t, session, model.KindBooking, func(s ViewSnapshot) bool {
		return !s.Stale && len(s.All) == 1
	})
	assert.GreaterOrEqual(t, calls.Load(), int32(2), "the stale fetch must be abandoned and restarted")
}

func TestSessionStopRejectsReads(t *testing.T) {
	feed := NewMockChangeFeed()
	session := NewSyncSession(adminScope(), feed, &MockStoreGateway{}, nil, nil, testSessionConfig(), &MockLogger{})
	require.NoError(t, session.Start(context.Background()))

	session.Stop()

	_, err := session.GetView(model.KindBooking)
	assert.ErrorIs(t, err, errors.ErrSessionClosed)
	_, err = session.GetUnreadCount("c1")
	assert.ErrorIs(t, err, errors.ErrSessionClosed)
}

func TestSessionStartTwiceFails(t *testing.T) {
	feed := NewMockChangeFeed()
	session := startSession(t, adminScope(), feed, &MockStoreGateway{})

	assert.ErrorIs(t, session.Start(context.Background()), errors.ErrSessionAlreadyActive)
}

func TestSessionRejectsInvalidScope(t *testing.T) {
	session := NewSyncSession(model.ViewScope{Role: "superuser"}, NewMockChangeFeed(), &MockStoreGateway{}, nil, nil, testSessionConfig(), &MockLogger{})
	assert.Error(t, session.Start(context.Background()))
}

func TestSessionMutateAppliesConfirmedRow(t *testing.T) {
	feed := NewMockChangeFeed()
	store := &MockStoreGateway{
		FetchAllFn: func(ctx context.Context, kind model.EntityKind, scope model.ViewScope) ([]model.TrackedEntity, error) {
			if kind == model.KindBooking {
				return []model.TrackedEntity{booking("b1", "u1", model.BookingPending)}, nil
			}
			return nil, nil
		},
		MutateFn: func(ctx context.Context, kind model.EntityKind, id string, patch map[string]interface{}) (model.TrackedEntity, error) {
			return booking(id, "u1", model.BookingConfirmed), nil
		},
	}

	session := startSession(t, adminScope(), feed, store)
	feed.Sub(model.KindBooking).SignalResync()
	waitForView(t, session, model.KindBooking, func(s ViewSnapshot) bool { return len(s.All) == 1 })

	updated, err := session.Mutate(context.Background(), model.KindBooking, "b1", map[string]interface{}{"status": "confirmed"})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", updated.StatusValue())

	// The confirmed row is authoritative; the cache reflects it immediately.
	snapshot, err := session.GetView(model.KindBooking)
	require.NoError(t, err)
	require.Len(t, snapshot.All, 1)
	assert.Equal(t, "confirmed", snapshot.All[0].StatusValue())
}

func TestSessionMutateWrapsStoreFailure(t *testing.T) {
	feed := NewMockChangeFeed()
	store := &MockStoreGateway{
		MutateFn: func(ctx context.Context, kind model.EntityKind, id string, patch map[string]interface{}) (model.TrackedEntity, error) {
			return nil, fmt.Errorf("write conflict")
		},
	}

	session := startSession(t, adminScope(), feed, store)

	_, err := session.Mutate(context.Background(), model.KindBooking, "b1", map[string]interface{}{"status": "confirmed"})
	require.Error(t, err)
	assert.True(t, errors.IsMutationRejected(err))
}

func TestSessionUnreadFlowsThroughMessageEvents(t *testing.T) {
	feed := NewMockChangeFeed()
	session := startSession(t, standardScope("u1"), feed, &MockStoreGateway{})

	sub := feed.Sub(model.KindChatMessage)
	sub.EventsCh <- rawInsert(t, message("m1", "c1", "admin-1", false))
	sub.EventsCh <- rawInsert(t, message("m2", "c1", "admin-1", false))

	require.Eventually(t, func() bool {
		count, err := session.GetUnreadCount("c1")
		return err == nil && count == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionPublishesFeedReconnectedOnResyncSignal(t *testing.T) {
	feed := NewMockChangeFeed()
	store := &MockStoreGateway{}
	bus := eventbus.NewEventBus(&MockLogger{})

	reconnected := make(chan string, 1)
	bus.Subscribe(eventbus.EventTypeFeedReconnected, func(ctx context.Context, event eventbus.Event) error {
		kind, _ := event.Data().(string)
		reconnected <- kind
		return nil
	})

	session := NewSyncSession(standardScope("u1"), feed, store, nil, bus, testSessionConfig(), &MockLogger{})
	require.NoError(t, session.Start(context.Background()))
	defer session.Stop()

	feed.Sub(model.KindBooking).SignalResync()

	select {
	case kind := <-reconnected:
		assert.Equal(t, string(model.KindBooking), kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a feed reconnect event on the bus")
	}
}

func TestSessionNotifiesThroughBus(t *testing.T) {
	feed := NewMockChangeFeed()
	store := &MockStoreGateway{}
	session := NewSyncSession(adminScope(), feed, store, nil, eventbus.NewEventBus(&MockLogger{}), testSessionConfig(), &MockLogger{})

	received := make(chan model.Notification, 1)
	session.OnNotification(func(n model.Notification) { received <- n })

	require.NoError(t, session.Start(context.Background()))
	defer session.Stop()

	feed.Sub(model.KindBooking).EventsCh <- rawInsert(t, booking("b1", "u1", model.BookingPending))

	select {
	case n := <-received:
		assert.Equal(t, "new booking", n.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a dispatched notification")
	}
}
