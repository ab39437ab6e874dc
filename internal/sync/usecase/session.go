package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/ahmadnk31/gsm-sync/internal/shared/errors"
	"github.com/ahmadnk31/gsm-sync/internal/shared/eventbus"
	"github.com/ahmadnk31/gsm-sync/internal/shared/logger"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/repository"

	"github.com/google/uuid"
)

// SessionConfig tunes the resync retry behavior. The transport reconnect
// backoff lives in the feed adapter; this backoff is independent of it.
type SessionConfig struct {
	ResyncInitialBackoff time.Duration
	ResyncMaxBackoff     time.Duration
	JournalMaxLen        int64
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ResyncInitialBackoff: 500 * time.Millisecond,
		ResyncMaxBackoff:     30 * time.Second,
		JournalMaxLen:        10000,
	}
}

// kindState is the per-entity-kind machinery of one session: a subscription, a
// reconciler, and the journal position of the last applied event.
type kindState struct {
	sub        repository.Subscription
	reconciler *ViewReconciler

	mu        sync.Mutex
	lastToken model.ResumeToken
}

// ViewSnapshot is the read-only view handed to the presentation layer.
type ViewSnapshot struct {
	All   []model.TrackedEntity `json:"all,omitempty"`
	Mine  []model.TrackedEntity `json:"mine"`
	Stale bool                  `json:"stale"`
}

// SyncSession owns the client-resident caches for one viewer. Start opens one
// subscription per tracked entity kind, each drained by its own consumer loop;
// Stop tears everything down atomically. A session-epoch token is checked
// before every event application, so no event for a closed session is ever
// applied after cancellation begins.
type SyncSession struct {
	scope   model.ViewScope
	feed    repository.ChangeFeed
	store   repository.StoreGateway
	journal repository.EventJournal
	bus     *eventbus.EventBus
	cfg     SessionConfig
	log     logger.Logger

	mu         sync.Mutex
	epoch      string
	cancel     context.CancelFunc
	started    bool
	kinds      map[model.EntityKind]*kindState
	dispatcher *Dispatcher
	unread     *UnreadAggregator
	wg         sync.WaitGroup
}

// NewSyncSession creates a session for one viewer scope. The journal may be
// nil; resync then relies on the idempotence of event application alone.
func NewSyncSession(
	scope model.ViewScope,
	feed repository.ChangeFeed,
	store repository.StoreGateway,
	journal repository.EventJournal,
	bus *eventbus.EventBus,
	cfg SessionConfig,
	log logger.Logger,
) *SyncSession {
	return &SyncSession{
		scope:   scope,
		feed:    feed,
		store:   store,
		journal: journal,
		bus:     bus,
		cfg:     cfg,
		log: log.WithComponent("sync-session").WithFields(map[string]interface{}{
			"viewer_id": scope.ViewerID,
			"role":      string(scope.Role),
		}),
	}
}

// Start validates the scope, opens one subscription per tracked kind and
// spawns the consumer loops. The initial full fetch happens on each loop's
// first resync signal, delivered by the feed on successful connect.
func (s *SyncSession) Start(ctx context.Context) error {
	if err := s.scope.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.ErrSessionAlreadyActive
	}

	dispatcher, err := NewDispatcher(s.scope, DefaultPolicies(), s.bus, s.log)
	if err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	s.epoch = uuid.NewString()
	s.cancel = cancel
	s.dispatcher = dispatcher
	s.unread = NewUnreadAggregator(s.scope.ViewerID, s.store, s.log)
	s.kinds = make(map[model.EntityKind]*kindState, len(model.TrackedKinds()))

	for _, kind := range model.TrackedKinds() {
		sub, err := s.feed.Subscribe(sessionCtx, kind)
		if err != nil {
			cancel()
			s.closeSubscriptionsLocked()
			return errors.NewTransportError("failed to open change feed subscription").
				WithCause(err).WithDetail("entity_kind", string(kind))
		}
		s.kinds[kind] = &kindState{
			sub:        sub,
			reconciler: NewViewReconciler(kind, s.scope, s.log),
		}
	}

	s.started = true
	epoch := s.epoch
	for kind, state := range s.kinds {
		s.wg.Add(1)
		go s.consumeLoop(sessionCtx, epoch, kind, state)
	}

	s.log.WithFields(map[string]interface{}{"epoch": epoch}).Info("Sync session started")
	return nil
}

// Stop cancels all subscriptions atomically. The epoch is rotated before the
// loops are cancelled so any event already in flight fails the epoch check.
func (s *SyncSession) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.epoch = uuid.NewString()
	cancel := s.cancel
	s.closeSubscriptionsLocked()
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	if s.bus != nil {
		s.bus.PublishAndForget(context.Background(), eventbus.NewBasicEventWithSource(
			eventbus.EventTypeSessionClosed, s.scope.ViewerID, "sync-session"))
	}
	s.log.Info("Sync session stopped")
}

func (s *SyncSession) closeSubscriptionsLocked() {
	for kind, state := range s.kinds {
		if state.sub == nil {
			continue
		}
		if err := state.sub.Close(); err != nil {
			s.log.WithFields(map[string]interface{}{"entity_kind": string(kind)}).
				Warnf("Failed to close subscription: %v", err)
		}
	}
}

// currentEpoch returns the live epoch token.
func (s *SyncSession) currentEpoch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// consumeLoop drains one subscription to completion, one event at a time, in
// arrival order. This is the only goroutine that mutates the kind's reconciler
// through the feed path, which is what keeps per-id ordering and idempotence
// tractable.
func (s *SyncSession) consumeLoop(ctx context.Context, epoch string, kind model.EntityKind, state *kindState) {
	defer s.wg.Done()

	log := s.log.WithFields(map[string]interface{}{"entity_kind": string(kind)})

	for {
		select {
		case <-ctx.Done():
			return

		case <-state.sub.Resyncs():
			s.publishViewState(ctx, eventbus.EventTypeFeedReconnected, kind)
			s.runResync(ctx, epoch, kind, state, log)

		case raw, ok := <-state.sub.Events():
			if !ok {
				return
			}
			s.applyRaw(ctx, epoch, kind, state, raw, log)
		}
	}
}

// applyRaw normalizes and applies one raw payload. Malformed payloads are
// logged and discarded; they never halt the stream.
func (s *SyncSession) applyRaw(ctx context.Context, epoch string, kind model.EntityKind, state *kindState, raw model.RawChange, log logger.Logger) {
	if s.currentEpoch() != epoch {
		log.Debug("Dropping event for stale session epoch")
		return
	}

	event, err := model.Normalize(raw)
	if err != nil {
		log.Warnf("Discarding malformed change event: %v", err)
		return
	}

	if s.journal != nil {
		if token, err := s.journal.Append(ctx, kind, raw); err != nil {
			log.Warnf("Failed to journal event: %v", err)
		} else {
			state.mu.Lock()
			state.lastToken = token
			state.mu.Unlock()
		}
	}

	s.applyEvent(ctx, event, state, log)
}

// applyEvent routes a normalized event through the reconciler, the unread
// aggregator, and the dispatcher, in that order.
func (s *SyncSession) applyEvent(ctx context.Context, event model.ChangeEvent, state *kindState, log logger.Logger) {
	if _, err := state.reconciler.Apply(event); err != nil {
		log.Warnf("Failed to apply change event %s: %v", event.EntityID, err)
		return
	}

	if event.Entity == model.KindChatMessage {
		s.unread.OnMessageEvent(event)
	}

	if _, err := s.dispatcher.Evaluate(ctx, event); err != nil {
		log.Warnf("Notification evaluation failed for %s: %v", event.EntityID, err)
	}
}

// runResync performs the full resynchronization fetch after a (re)connect and
// retries on its own backoff until it succeeds or the session ends. A second
// connect-drop arriving while a fetch is in flight aborts the stale fetch and
// restarts it; two resyncs are never merged.
func (s *SyncSession) runResync(ctx context.Context, epoch string, kind model.EntityKind, state *kindState, log logger.Logger) {
	backoff := s.cfg.ResyncInitialBackoff
	if backoff <= 0 {
		backoff = DefaultSessionConfig().ResyncInitialBackoff
	}

	for {
		if s.currentEpoch() != epoch {
			return
		}

		type fetchResult struct {
			entities []model.TrackedEntity
			err      error
		}
		resultCh := make(chan fetchResult, 1)
		fetchCtx, cancelFetch := context.WithCancel(ctx)
		go func() {
			entities, err := s.store.FetchAll(fetchCtx, kind, s.scope)
			resultCh <- fetchResult{entities: entities, err: err}
		}()

		select {
		case <-ctx.Done():
			cancelFetch()
			return

		case <-state.sub.Resyncs():
			// The transport dropped and reconnected again mid-fetch. The
			// in-flight result is stale; restart the resync from scratch.
			cancelFetch()
			log.Info("Restarting resync after mid-fetch reconnect")
			backoff = s.cfg.ResyncInitialBackoff
			continue

		case res := <-resultCh:
			cancelFetch()
			if res.err != nil {
				state.reconciler.MarkStale()
				s.publishViewState(ctx, eventbus.EventTypeViewStale, kind)
				log.Warnf("Resync fetch failed, view marked stale: %v", res.err)

				select {
				case <-ctx.Done():
					return
				case <-state.sub.Resyncs():
					backoff = s.cfg.ResyncInitialBackoff
					continue
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > s.cfg.ResyncMaxBackoff {
					backoff = s.cfg.ResyncMaxBackoff
				}
				continue
			}

			if s.currentEpoch() != epoch {
				return
			}

			state.reconciler.Reset(res.entities)
			if kind == model.KindChatMessage {
				s.unread.Rebuild(res.entities)
			}
			s.replayJournal(ctx, epoch, kind, state, log)
			s.publishViewState(ctx, eventbus.EventTypeViewResynced, kind)
			log.WithFields(map[string]interface{}{"rows": len(res.entities)}).Info("Resync complete")
			return
		}
	}
}

// replayJournal re-applies journaled events recorded before the disconnect.
// Events that duplicate post-resync state are absorbed by idempotence.
func (s *SyncSession) replayJournal(ctx context.Context, epoch string, kind model.EntityKind, state *kindState, log logger.Logger) {
	if s.journal == nil {
		return
	}

	state.mu.Lock()
	token := state.lastToken
	state.mu.Unlock()

	raws, err := s.journal.ReadSince(ctx, kind, token)
	if err != nil {
		log.Warnf("Journal replay failed: %v", err)
		return
	}

	for _, raw := range raws {
		if s.currentEpoch() != epoch {
			return
		}
		event, err := model.Normalize(raw)
		if err != nil {
			continue
		}
		s.applyEvent(ctx, event, state, log)
	}

	if s.cfg.JournalMaxLen > 0 {
		if err := s.journal.Trim(ctx, kind, s.cfg.JournalMaxLen); err != nil {
			log.Debugf("Journal trim failed: %v", err)
		}
	}
}

func (s *SyncSession) publishViewState(ctx context.Context, eventType string, kind model.EntityKind) {
	if s.bus == nil {
		return
	}
	s.bus.PublishAndForget(ctx, eventbus.NewBasicEventWithSource(eventType, string(kind), "sync-session"))
}

// GetView returns a read-only snapshot of the collections for one entity kind.
// The "all" projection is present only for an admin scope.
func (s *SyncSession) GetView(kind model.EntityKind) (ViewSnapshot, error) {
	s.mu.Lock()
	state, ok := s.kinds[kind]
	started := s.started
	s.mu.Unlock()

	if !started || !ok {
		return ViewSnapshot{}, errors.ErrSessionClosed
	}

	return ViewSnapshot{
		All:   state.reconciler.All(),
		Mine:  state.reconciler.Mine(),
		Stale: state.reconciler.IsStale(),
	}, nil
}

// GetUnreadCount returns the derived unread counter for a conversation.
func (s *SyncSession) GetUnreadCount(conversationID string) (int, error) {
	s.mu.Lock()
	unread := s.unread
	started := s.started
	s.mu.Unlock()

	if !started || unread == nil {
		return 0, errors.ErrSessionClosed
	}
	return unread.Count(conversationID), nil
}

// MarkRead zeroes the conversation counter after the store confirms the bulk
// mark-read mutation.
func (s *SyncSession) MarkRead(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	unread := s.unread
	started := s.started
	s.mu.Unlock()

	if !started || unread == nil {
		return errors.ErrSessionClosed
	}
	return unread.MarkRead(ctx, conversationID)
}

// Mutate forwards a patch to the data store and, on success, applies the
// returned row as an authoritative Update event without waiting for the
// stream to deliver it. The cache is never written before the store confirms.
func (s *SyncSession) Mutate(ctx context.Context, kind model.EntityKind, id string, patch map[string]interface{}) (model.TrackedEntity, error) {
	s.mu.Lock()
	state, ok := s.kinds[kind]
	started := s.started
	epoch := s.epoch
	s.mu.Unlock()

	if !started || !ok {
		return nil, errors.ErrSessionClosed
	}

	updated, err := s.store.Mutate(ctx, kind, id, patch)
	if err != nil {
		return nil, errors.NewMutationRejectedError("store mutation failed").
			WithCause(err).WithDetail("entity_id", id)
	}

	if s.currentEpoch() != epoch {
		return updated, nil
	}

	before, _ := state.reconciler.Get(id)
	event := model.UpdateFromEntity(before, updated)
	s.applyEvent(ctx, event, state, s.log.WithFields(map[string]interface{}{"entity_kind": string(kind)}))

	return updated, nil
}

// OnNotification registers a callback for dispatched notifications.
func (s *SyncSession) OnNotification(handler func(model.Notification)) {
	if s.bus == nil {
		return
	}
	s.bus.Subscribe(eventbus.EventTypeNotificationDispatched, func(ctx context.Context, event eventbus.Event) error {
		if n, ok := event.Data().(model.Notification); ok {
			handler(n)
		}
		return nil
	})
}

// Scope returns the viewer scope the session is bound to.
func (s *SyncSession) Scope() model.ViewScope {
	return s.scope
}
