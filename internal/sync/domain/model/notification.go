package model

import (
	"fmt"
	"time"
)

// NotificationKey identifies a state transition for de-duplication. The same
// transition delivered twice (resync replay, duplicate delivery) maps to the
// same key and is suppressed the second time.
type NotificationKey struct {
	EntityID string `json:"entity_id"`
	Field    string `json:"field"`
	NewValue string `json:"new_value"`
}

// String renders the key in a stable form usable as a map or stream key.
func (k NotificationKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.EntityID, k.Field, k.NewValue)
}

// Notification is a user-visible alert produced by the side-effect dispatcher.
type Notification struct {
	Key       NotificationKey `json:"key"`
	Entity    EntityKind      `json:"entity_kind"`
	ViewerID  string          `json:"viewer_id"`
	Message   string          `json:"message"`
	Global    bool            `json:"global"`
	EmittedAt time.Time       `json:"emitted_at"`
}
