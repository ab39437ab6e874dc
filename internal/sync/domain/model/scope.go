package model

import "github.com/ahmadnk31/gsm-sync/internal/shared/errors"

// Role determines which collections a viewer session maintains.
type Role string

const (
	// RoleAdmin maintains a global "all" collection plus a personal "mine" view.
	RoleAdmin Role = "admin"
	// RoleStandard maintains only "mine": rows the viewer owns.
	RoleStandard Role = "standard"
)

// ViewScope is the (role, viewer) pair that routes events into collections.
type ViewScope struct {
	Role     Role   `json:"role"`
	ViewerID string `json:"viewer_id"`
}

// Validate checks the scope is usable for a session.
func (s ViewScope) Validate() error {
	if s.ViewerID == "" {
		return errors.NewValidationError("view scope requires a viewer id")
	}
	if s.Role != RoleAdmin && s.Role != RoleStandard {
		return errors.NewValidationError("view scope requires role admin or standard")
	}
	return nil
}

// IsAdmin reports whether the scope carries the global view.
func (s ViewScope) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// Owns reports whether the entity belongs to the viewer.
func (s ViewScope) Owns(e TrackedEntity) bool {
	return e != nil && e.Owner() == s.ViewerID
}
