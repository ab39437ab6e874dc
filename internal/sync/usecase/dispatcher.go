package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ahmadnk31/gsm-sync/internal/shared/errors"
	"github.com/ahmadnk31/gsm-sync/internal/shared/eventbus"
	"github.com/ahmadnk31/gsm-sync/internal/shared/logger"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
)

// NotificationPolicy gates which state transitions alert the viewer. The
// condition is a CEL expression evaluated against the event and scope.
type NotificationPolicy struct {
	Name      string
	Role      model.Role
	Entity    model.EntityKind
	Change    model.ChangeKind
	Condition string
	// KeyField is the changed field the de-duplication key is built from.
	KeyField string
	// Template is the user-facing message; "{status}" is replaced with the
	// new value of KeyField.
	Template string
	Global   bool
}

// DefaultPolicies is the policy table for the storefront.
//
// Admin edits are self-authored, so admin update events never notify the admin.
func DefaultPolicies() []NotificationPolicy {
	return []NotificationPolicy{
		{
			Name:      "admin-new-booking",
			Role:      model.RoleAdmin,
			Entity:    model.KindBooking,
			Change:    model.ChangeInsert,
			Condition: "true",
			KeyField:  "status",
			Template:  "new booking",
			Global:    true,
		},
		{
			Name:      "admin-new-quote-request",
			Role:      model.RoleAdmin,
			Entity:    model.KindQuoteRequest,
			Change:    model.ChangeInsert,
			Condition: "true",
			KeyField:  "status",
			Template:  "new quote request",
			Global:    true,
		},
		{
			Name:      "owner-booking-status-changed",
			Role:      model.RoleStandard,
			Entity:    model.KindBooking,
			Change:    model.ChangeUpdate,
			Condition: "before != null && before.status != after.status && after.owner_id == viewer_id",
			KeyField:  "status",
			Template:  "status changed to {status}",
		},
		{
			Name:      "owner-quote-status-changed",
			Role:      model.RoleStandard,
			Entity:    model.KindQuoteRequest,
			Change:    model.ChangeUpdate,
			Condition: "before != null && before.status != after.status && after.owner_id == viewer_id",
			KeyField:  "status",
			Template:  "quote status changed to {status}",
		},
	}
}

type compiledPolicy struct {
	policy  NotificationPolicy
	program cel.Program
}

// Dispatcher evaluates events against the policy table and emits at most one
// notification per (entity id, changed field, new value) for the viewer. It
// never mutates the collections; its only side effect is publishing onto the
// event bus.
type Dispatcher struct {
	mu       sync.Mutex
	scope    model.ViewScope
	policies []compiledPolicy
	seen     map[model.NotificationKey]struct{}
	bus      *eventbus.EventBus
	log      logger.Logger
}

// NewDispatcher compiles the policy table for one viewer scope.
func NewDispatcher(scope model.ViewScope, policies []NotificationPolicy, bus *eventbus.EventBus, log logger.Logger) (*Dispatcher, error) {
	env, err := createPolicyEnvironment()
	if err != nil {
		return nil, errors.NewInternalError("failed to create policy environment").WithCause(err)
	}

	compiled := make([]compiledPolicy, 0, len(policies))
	for _, p := range policies {
		program, err := compilePolicyCondition(env, p.Condition)
		if err != nil {
			return nil, errors.NewInternalError(
				fmt.Sprintf("failed to compile policy %q", p.Name)).WithCause(err)
		}
		compiled = append(compiled, compiledPolicy{policy: p, program: program})
	}

	return &Dispatcher{
		scope:    scope,
		policies: compiled,
		seen:     make(map[model.NotificationKey]struct{}),
		bus:      bus,
		log:      log.WithComponent("dispatcher"),
	}, nil
}

// createPolicyEnvironment declares the variables available to policy conditions.
func createPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Declarations(
			decls.NewVar("role", decls.String),
			decls.NewVar("viewer_id", decls.String),
			decls.NewVar("kind", decls.String),
			decls.NewVar("before", decls.Dyn), // null when the prior state is unknown
			decls.NewVar("after", decls.Dyn),
		),
	)
}

// compilePolicyCondition compiles a CEL condition string into a program.
func compilePolicyCondition(env *cel.Env, condition string) (cel.Program, error) {
	ast, issues := env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

// Evaluate runs the event through the policy table. It returns the emitted
// notification, or nil when no policy matched or the transition was already
// notified (duplicate delivery, resync replay).
func (d *Dispatcher) Evaluate(ctx context.Context, event model.ChangeEvent) (*model.Notification, error) {
	for _, cp := range d.policies {
		if cp.policy.Role != d.scope.Role || cp.policy.Entity != event.Entity || cp.policy.Change != event.Kind {
			continue
		}

		matched, err := d.evaluateCondition(cp.program, event)
		if err != nil {
			d.log.WithFields(map[string]interface{}{
				"policy":    cp.policy.Name,
				"entity_id": event.EntityID,
			}).Warnf("Policy condition evaluation failed: %v", err)
			continue
		}
		if !matched {
			continue
		}

		key := model.NotificationKey{
			EntityID: event.EntityID,
			Field:    cp.policy.KeyField,
			NewValue: keyFieldValue(event, cp.policy.KeyField),
		}

		d.mu.Lock()
		if _, dup := d.seen[key]; dup {
			d.mu.Unlock()
			d.log.WithFields(map[string]interface{}{
				"policy": cp.policy.Name,
				"key":    key.String(),
			}).Debug("Suppressed duplicate notification")
			return nil, nil
		}
		d.seen[key] = struct{}{}
		d.mu.Unlock()

		notification := model.Notification{
			Key:       key,
			Entity:    event.Entity,
			ViewerID:  d.scope.ViewerID,
			Message:   strings.ReplaceAll(cp.policy.Template, "{status}", key.NewValue),
			Global:    cp.policy.Global,
			EmittedAt: time.Now(),
		}

		if d.bus != nil {
			if err := d.bus.Publish(ctx, eventbus.NewBasicEventWithSource(
				eventbus.EventTypeNotificationDispatched, notification, "dispatcher")); err != nil {
				d.log.Errorf("Failed to publish notification %s: %v", key.String(), err)
			}
		}

		return &notification, nil
	}

	return nil, nil
}

// evaluateCondition evaluates one compiled condition against the event.
func (d *Dispatcher) evaluateCondition(program cel.Program, event model.ChangeEvent) (bool, error) {
	vars := map[string]interface{}{
		"role":      string(d.scope.Role),
		"viewer_id": d.scope.ViewerID,
		"kind":      string(event.Entity),
	}

	if event.Before != nil {
		vars["before"] = event.Before.Fields()
	} else {
		vars["before"] = nil
	}
	if event.After != nil {
		vars["after"] = event.After.Fields()
	} else {
		vars["after"] = nil
	}

	out, _, err := program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy condition did not return a boolean")
	}
	return result, nil
}

// keyFieldValue extracts the new value of the keyed field from the event.
func keyFieldValue(event model.ChangeEvent, field string) string {
	if event.After == nil {
		return ""
	}
	if field == "status" {
		return event.After.StatusValue()
	}
	if v, ok := event.After.Fields()[field]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
