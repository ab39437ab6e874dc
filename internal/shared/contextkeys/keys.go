package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "gsm-sync context key " + string(c)
}

// ViewerIDKey is the key for the acting viewer's user ID in context.Context
const ViewerIDKey = contextKey("viewerID")

// SessionIDKey is the key for the sync session ID in context.Context
const SessionIDKey = contextKey("sessionID")

// RequestIDKey is the key for the request ID in context.Context
const RequestIDKey = contextKey("requestID")

// ComponentKey is the key for the emitting component name in context.Context
const ComponentKey = contextKey("component")

// EntityKindKey is the key for the tracked entity kind in context.Context
const EntityKindKey = contextKey("entityKind")
