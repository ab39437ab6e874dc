package model

import "time"

// EntityKind identifies a tracked entity collection.
type EntityKind string

const (
	// KindBooking is a repair booking placed by a customer.
	KindBooking EntityKind = "bookings"
	// KindChatMessage is a single message inside a support conversation.
	KindChatMessage EntityKind = "chat_messages"
	// KindQuoteRequest is a customer request for a repair quote.
	KindQuoteRequest EntityKind = "quote_requests"
)

// TrackedKinds lists every entity kind the sync layer follows. One feed
// subscription and one consumer loop exist per kind per session.
func TrackedKinds() []EntityKind {
	return []EntityKind{KindBooking, KindChatMessage, KindQuoteRequest}
}

// IsValid reports whether the kind is one of the tracked kinds.
func (k EntityKind) IsValid() bool {
	switch k {
	case KindBooking, KindChatMessage, KindQuoteRequest:
		return true
	}
	return false
}

// TrackedEntity is a data-store row synchronized into client-side state.
// OwnerID is write-once: no update ever moves an entity between owners.
type TrackedEntity interface {
	// EntityID returns the opaque unique key of the row.
	EntityID() string
	// Owner returns the ID of the user the row belongs to.
	Owner() string
	// StatusValue returns the current value of the mutable status field.
	StatusValue() string
	// Kind returns the entity kind.
	Kind() EntityKind
	// Fields returns a map projection of the row for policy evaluation.
	Fields() map[string]interface{}
}

// BookingStatus is the lifecycle state of a repair booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingInRepair  BookingStatus = "in_repair"
	BookingReady     BookingStatus = "ready"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is a device repair appointment.
type Booking struct {
	ID          string        `json:"id" bson:"_id"`
	OwnerID     string        `json:"owner_id" bson:"owner_id"`
	Status      BookingStatus `json:"status" bson:"status"`
	DeviceBrand string        `json:"device_brand" bson:"device_brand"`
	DeviceModel string        `json:"device_model" bson:"device_model"`
	Issue       string        `json:"issue" bson:"issue"`
	QuotedPrice float64       `json:"quoted_price" bson:"quoted_price"`
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" bson:"updated_at"`
}

func (b *Booking) EntityID() string    { return b.ID }
func (b *Booking) Owner() string       { return b.OwnerID }
func (b *Booking) StatusValue() string { return string(b.Status) }
func (b *Booking) Kind() EntityKind    { return KindBooking }

func (b *Booking) Fields() map[string]interface{} {
	return map[string]interface{}{
		"id":           b.ID,
		"owner_id":     b.OwnerID,
		"status":       string(b.Status),
		"device_brand": b.DeviceBrand,
		"device_model": b.DeviceModel,
		"issue":        b.Issue,
		"quoted_price": b.QuotedPrice,
	}
}

// ChatMessage is a message inside a support conversation. Read state is mutable;
// everything else is written once at insert.
type ChatMessage struct {
	ID             string    `json:"id" bson:"_id"`
	OwnerID        string    `json:"owner_id" bson:"owner_id"`
	ConversationID string    `json:"conversation_id" bson:"conversation_id"`
	SenderID       string    `json:"sender_id" bson:"sender_id"`
	Body           string    `json:"body" bson:"body"`
	IsRead         bool      `json:"is_read" bson:"is_read"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

func (m *ChatMessage) EntityID() string { return m.ID }
func (m *ChatMessage) Owner() string    { return m.OwnerID }
func (m *ChatMessage) Kind() EntityKind { return KindChatMessage }

// StatusValue maps read state onto the generic status field.
func (m *ChatMessage) StatusValue() string {
	if m.IsRead {
		return "read"
	}
	return "unread"
}

func (m *ChatMessage) Fields() map[string]interface{} {
	return map[string]interface{}{
		"id":              m.ID,
		"owner_id":        m.OwnerID,
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
		"is_read":         m.IsRead,
		"status":          m.StatusValue(),
	}
}

// QuoteStatus is the lifecycle state of a quote request.
type QuoteStatus string

const (
	QuotePending  QuoteStatus = "pending"
	QuoteQuoted   QuoteStatus = "quoted"
	QuoteAccepted QuoteStatus = "accepted"
	QuoteDeclined QuoteStatus = "declined"
)

// QuoteRequest is a customer request for a repair price quote.
type QuoteRequest struct {
	ID          string      `json:"id" bson:"_id"`
	OwnerID     string      `json:"owner_id" bson:"owner_id"`
	Status      QuoteStatus `json:"status" bson:"status"`
	DeviceBrand string      `json:"device_brand" bson:"device_brand"`
	DeviceModel string      `json:"device_model" bson:"device_model"`
	Issue       string      `json:"issue" bson:"issue"`
	QuotedPrice float64     `json:"quoted_price" bson:"quoted_price"`
	AdminNotes  string      `json:"admin_notes" bson:"admin_notes"`
	CreatedAt   time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" bson:"updated_at"`
}

func (q *QuoteRequest) EntityID() string    { return q.ID }
func (q *QuoteRequest) Owner() string       { return q.OwnerID }
func (q *QuoteRequest) StatusValue() string { return string(q.Status) }
func (q *QuoteRequest) Kind() EntityKind    { return KindQuoteRequest }

func (q *QuoteRequest) Fields() map[string]interface{} {
	return map[string]interface{}{
		"id":           q.ID,
		"owner_id":     q.OwnerID,
		"status":       string(q.Status),
		"device_brand": q.DeviceBrand,
		"device_model": q.DeviceModel,
		"issue":        q.Issue,
		"quoted_price": q.QuotedPrice,
		"admin_notes":  q.AdminNotes,
	}
}
