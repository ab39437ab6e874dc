// Centralized test helpers for sync usecase tests.
// Place all shared mocks and helpers here to avoid redeclaration errors.
package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahmadnk31/gsm-sync/internal/shared/logger"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/repository"
)

// MockLogger returns Logger interface for WithFields, WithContext, WithComponent
type MockLogger struct{}

func (m *MockLogger) Info(args ...interface{})                  {}
func (m *MockLogger) Error(args ...interface{})                 {}
func (m *MockLogger) Debug(args ...interface{})                 {}
func (m *MockLogger) Warn(args ...interface{})                  {}
func (m *MockLogger) Fatal(args ...interface{})                 {}
func (m *MockLogger) Debugf(format string, args ...interface{}) {}
func (m *MockLogger) Infof(format string, args ...interface{})  {}
func (m *MockLogger) Warnf(format string, args ...interface{})  {}
func (m *MockLogger) Errorf(format string, args ...interface{}) {}
func (m *MockLogger) Fatalf(format string, args ...interface{}) {}

func (m *MockLogger) WithFields(fields map[string]interface{}) logger.Logger { return m }
func (m *MockLogger) WithContext(ctx context.Context) logger.Logger          { return m }
func (m *MockLogger) WithComponent(component string) logger.Logger           { return m }

// MockStoreGateway is a configurable in-memory StoreGateway.
type MockStoreGateway struct {
	mu sync.Mutex

	FetchAllFn     func(ctx context.Context, kind model.EntityKind, scope model.ViewScope) ([]model.TrackedEntity, error)
	MutateFn       func(ctx context.Context, kind model.EntityKind, id string, patch map[string]interface{}) (model.TrackedEntity, error)
	BulkMarkReadFn func(ctx context.Context, conversationID, excludeSenderID string) (int64, error)

	FetchAllCalls     int
	BulkMarkReadCalls int
}

func (m *MockStoreGateway) FetchAll(ctx context.Context, kind model.EntityKind, scope model.ViewScope) ([]model.TrackedEntity, error) {
	m.mu.Lock()
	m.FetchAllCalls++
	m.mu.Unlock()
	if m.FetchAllFn != nil {
		return m.FetchAllFn(ctx, kind, scope)
	}
	return nil, nil
}

func (m *MockStoreGateway) Mutate(ctx context.Context, kind model.EntityKind, id string, patch map[string]interface{}) (model.TrackedEntity, error) {
	if m.MutateFn != nil {
		return m.MutateFn(ctx, kind, id, patch)
	}
	return nil, fmt.Errorf("mutate not configured")
}

func (m *MockStoreGateway) BulkMarkRead(ctx context.Context, conversationID, excludeSenderID string) (int64, error) {
	m.mu.Lock()
	m.BulkMarkReadCalls++
	m.mu.Unlock()
	if m.BulkMarkReadFn != nil {
		return m.BulkMarkReadFn(ctx, conversationID, excludeSenderID)
	}
	return 0, nil
}

// MockSubscription is a channel-backed Subscription driven by tests.
type MockSubscription struct {
	EventsCh  chan model.RawChange
	ResyncsCh chan struct{}

	closeOnce sync.Once
	Closed    chan struct{}
}

func NewMockSubscription() *MockSubscription {
	return &MockSubscription{
		EventsCh:  make(chan model.RawChange, 16),
		ResyncsCh: make(chan struct{}, 1),
		Closed:    make(chan struct{}),
	}
}

func (s *MockSubscription) Events() <-chan model.RawChange { return s.EventsCh }
func (s *MockSubscription) Resyncs() <-chan struct{}       { return s.ResyncsCh }

func (s *MockSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.Closed) })
	return nil
}

// SignalResync mimics the feed's connect signal without blocking.
func (s *MockSubscription) SignalResync() {
	select {
	case s.ResyncsCh <- struct{}{}:
	default:
	}
}

// MockChangeFeed hands out one MockSubscription per entity kind.
type MockChangeFeed struct {
	mu   sync.Mutex
	Subs map[model.EntityKind]*MockSubscription
}

func NewMockChangeFeed() *MockChangeFeed {
	return &MockChangeFeed{Subs: make(map[model.EntityKind]*MockSubscription)}
}

func (f *MockChangeFeed) Subscribe(ctx context.Context, kind model.EntityKind) (repository.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := NewMockSubscription()
	f.Subs[kind] = sub
	return sub, nil
}

func (f *MockChangeFeed) Sub(kind model.EntityKind) *MockSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Subs[kind]
}

// MemoryJournal is an append-only in-memory EventJournal.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[model.EntityKind][]model.RawChange
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[model.EntityKind][]model.RawChange)}
}

func (j *MemoryJournal) Append(ctx context.Context, kind model.EntityKind, raw model.RawChange) (model.ResumeToken, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[kind] = append(j.entries[kind], raw)
	return model.ResumeToken(fmt.Sprintf("%d", len(j.entries[kind]))), nil
}

func (j *MemoryJournal) ReadSince(ctx context.Context, kind model.EntityKind, token model.ResumeToken) ([]model.RawChange, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var since int
	if token != "" {
		fmt.Sscanf(string(token), "%d", &since)
	}
	all := j.entries[kind]
	if since >= len(all) {
		return nil, nil
	}
	out := make([]model.RawChange, len(all)-since)
	copy(out, all[since:])
	return out, nil
}

func (j *MemoryJournal) Trim(ctx context.Context, kind model.EntityKind, maxLen int64) error {
	return nil
}
