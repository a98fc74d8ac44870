package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketMessageAdded  EventType = "ticket_message_added"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketAgentAssigned EventType = "ticket_agent_assigned"
)

// Event represents a domain event emitted by ticket operations.
type Event struct {
	ID           string      `json:"id"`
	Type         EventType   `json:"type"`
	TrackingCode string      `json:"tracking_code"`
	Timestamp    time.Time   `json:"timestamp"`
	Payload      interface{} `json:"payload"`
}

// NewEvent builds an event with a fresh id and timestamp.
func NewEvent(eventType EventType, trackingCode string, payload interface{}) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		TrackingCode: trackingCode,
		Timestamp:    time.Now(),
		Payload:      payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Subject  string                `json:"subject"`
	Category string                `json:"category"`
	Priority domain.TicketPriority `json:"priority"`
}

// MessageAddedPayload payload.
type MessageAddedPayload struct {
	MessageID   string            `json:"message_id"`
	Author      domain.AuthorRole `json:"author"`
	BodyPreview string            `json:"body_preview"`
}

// StatusChangedPayload payload.
type StatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// AgentAssignedPayload payload.
type AgentAssignedPayload struct {
	Agent string `json:"agent"`
}
