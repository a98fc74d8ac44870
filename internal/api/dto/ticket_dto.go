package dto

import (
	"time"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// TicketPayload is the wire form of a ticket snapshot.
type TicketPayload struct {
	TrackingCode    string                 `json:"tracking_code"`
	Subject         string                 `json:"subject"`
	Category        string                 `json:"category"`
	Priority        domain.TicketPriority  `json:"priority"`
	Status          domain.TicketStatus    `json:"status"`
	AssignedAgent   *string                `json:"assigned_agent,omitempty"`
	ResolutionNotes *string                `json:"resolution_notes,omitempty"`
	Communications  []CommunicationPayload `json:"communications"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// CommunicationPayload is one thread entry on the wire.
type CommunicationPayload struct {
	ID        string            `json:"id"`
	Author    domain.AuthorRole `json:"author"`
	Body      string            `json:"body"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewTicketPayload maps a snapshot to its wire form.
func NewTicketPayload(t *domain.Ticket) TicketPayload {
	comms := make([]CommunicationPayload, 0, len(t.Communications))
	for _, c := range t.Communications {
		comms = append(comms, CommunicationPayload{
			ID:        c.ID,
			Author:    c.Author,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	return TicketPayload{
		TrackingCode:    t.TrackingCode,
		Subject:         t.Subject,
		Category:        t.Category,
		Priority:        t.Priority,
		Status:          t.Status,
		AssignedAgent:   t.AssignedAgent,
		ResolutionNotes: t.ResolutionNotes,
		Communications:  comms,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

// ToDomain maps the wire form to a snapshot. The thread is re-sorted
// locally so ordering never depends on the backend.
func (p TicketPayload) ToDomain() *domain.Ticket {
	comms := make([]domain.Communication, 0, len(p.Communications))
	for _, c := range p.Communications {
		comms = append(comms, domain.Communication{
			ID:        c.ID,
			Author:    c.Author,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	domain.SortCommunications(comms)
	return &domain.Ticket{
		TrackingCode:    p.TrackingCode,
		Subject:         p.Subject,
		Category:        p.Category,
		Priority:        p.Priority,
		Status:          p.Status,
		AssignedAgent:   p.AssignedAgent,
		ResolutionNotes: p.ResolutionNotes,
		Communications:  comms,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// ReplyRequest payload.
type ReplyRequest struct {
	Body string `json:"body"`
}

// StatusUpdateRequest payload.
type StatusUpdateRequest struct {
	Status          domain.TicketStatus `json:"status"`
	ResolutionNotes *string             `json:"resolution_notes,omitempty"`
}

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Subject  string                `json:"subject"`
	Category string                `json:"category"`
	Priority domain.TicketPriority `json:"priority"`
	Body     string                `json:"body"`
}
