package usecase

import (
	"fmt"
	"sync"

	"github.com/ahmadnk31/gsm-sync/internal/shared/errors"
	"github.com/ahmadnk31/gsm-sync/internal/shared/logger"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"
)

// ViewReconciler applies change events to the in-memory collection for one
// entity kind bound to one viewer session.
//
// Storage is a single index keyed by entity id plus an insertion-order list.
// The admin's "all" and "mine" are projections computed on read, so the
// mine-subset-of-all invariant holds by construction and cannot drift.
//
// Mutation happens only on the session's consumer loop; the lock exists so the
// presentation layer can take snapshots concurrently. Apply is idempotent:
// replaying a delivered event leaves the collection unchanged.
type ViewReconciler struct {
	mu       sync.RWMutex
	kind     model.EntityKind
	scope    model.ViewScope
	entities map[string]model.TrackedEntity
	order    []string
	stale    bool
	log      logger.Logger
}

// ViewDelta reports which projections an event touched.
type ViewDelta struct {
	Kind        model.ChangeKind
	EntityID    string
	MineChanged bool
	AllChanged  bool
}

// NewViewReconciler creates a reconciler for one entity kind and viewer scope.
func NewViewReconciler(kind model.EntityKind, scope model.ViewScope, log logger.Logger) *ViewReconciler {
	return &ViewReconciler{
		kind:     kind,
		scope:    scope,
		entities: make(map[string]model.TrackedEntity),
		log:      log.WithComponent("view-reconciler").WithFields(map[string]interface{}{"entity_kind": string(kind)}),
	}
}

// Apply routes one normalized event into the collection.
//
// Insert prepends; a re-delivered insert of a known id replaces in place.
// Update replaces by identity, never by position, in every projection that
// currently contains the id. Delete removes by identity; deleting an absent id
// is a no-op. A standard viewer stores owned rows only.
func (r *ViewReconciler) Apply(event model.ChangeEvent) (ViewDelta, error) {
	if event.Entity != r.kind {
		return ViewDelta{}, errors.NewDomainError(
			fmt.Sprintf("event for %s routed to %s reconciler", event.Entity, r.kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delta := ViewDelta{Kind: event.Kind, EntityID: event.EntityID}

	switch event.Kind {
	case model.ChangeInsert:
		if !r.tracks(event.After) {
			return delta, nil
		}
		if _, exists := r.entities[event.EntityID]; !exists {
			r.order = append([]string{event.EntityID}, r.order...)
		}
		r.entities[event.EntityID] = event.After
		delta.AllChanged = true
		delta.MineChanged = r.scope.Owns(event.After)

	case model.ChangeUpdate:
		// Replace by identity only where the id is already present. A row that
		// was never fetched is recovered by resync, not fabricated here.
		if _, exists := r.entities[event.EntityID]; !exists {
			return delta, nil
		}
		r.entities[event.EntityID] = event.After
		delta.AllChanged = true
		delta.MineChanged = r.scope.Owns(event.After)

	case model.ChangeDelete:
		if _, exists := r.entities[event.EntityID]; !exists {
			return delta, nil
		}
		owned := r.scope.Owns(r.entities[event.EntityID])
		delete(r.entities, event.EntityID)
		r.order = removeID(r.order, event.EntityID)
		delta.AllChanged = true
		delta.MineChanged = owned

	default:
		return ViewDelta{}, errors.NewMalformedEventError(
			fmt.Sprintf("unhandled change kind %q", event.Kind)).WithCause(errors.ErrUnknownChangeKind)
	}

	return delta, nil
}

// tracks reports whether this scope stores the entity at all.
func (r *ViewReconciler) tracks(e model.TrackedEntity) bool {
	if e == nil {
		return false
	}
	if r.scope.IsAdmin() {
		return true
	}
	return r.scope.Owns(e)
}

// Reset replaces the collection contents from a full resync fetch and clears
// the stale flag. Order of the fetched slice is preserved.
func (r *ViewReconciler) Reset(entities []model.TrackedEntity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make(map[string]model.TrackedEntity, len(entities))
	r.order = make([]string, 0, len(entities))
	for _, e := range entities {
		if e == nil || !r.tracks(e) {
			continue
		}
		if _, exists := r.entities[e.EntityID()]; !exists {
			r.order = append(r.order, e.EntityID())
		}
		r.entities[e.EntityID()] = e
	}
	r.stale = false
}

// MarkStale flags the collection as degraded after a failed resync. Readers
// surface the flag instead of silently showing possibly wrong data.
func (r *ViewReconciler) MarkStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale = true
}

// IsStale reports whether the collection is pending a successful resync.
func (r *ViewReconciler) IsStale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stale
}

// All returns the unfiltered projection in order. Only an admin scope maintains
// it; for a standard scope it returns nil.
func (r *ViewReconciler) All() []model.TrackedEntity {
	if !r.scope.IsAdmin() {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.TrackedEntity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entities[id])
	}
	return out
}

// Mine returns the owned projection in order, derived on read.
func (r *ViewReconciler) Mine() []model.TrackedEntity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.TrackedEntity, 0, len(r.order))
	for _, id := range r.order {
		if e := r.entities[id]; r.scope.Owns(e) {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the cached entity for an id, if present.
func (r *ViewReconciler) Get(id string) (model.TrackedEntity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	return e, ok
}

// Len returns the number of cached rows.
func (r *ViewReconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

func removeID(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
