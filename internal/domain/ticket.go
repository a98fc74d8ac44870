package domain

import (
	"sort"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// Ticket is a point-in-time snapshot of a support request as served by the
// backend. The tracking code is the stable identity; everything else is
// replaced wholesale when a fresh snapshot arrives.
type Ticket struct {
	TrackingCode    string
	Subject         string
	Category        string
	Priority        TicketPriority
	Status          TicketStatus
	AssignedAgent   *string
	ResolutionNotes *string
	Communications  []Communication
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy. Snapshots handed out to callers must never
// alias the stored one, otherwise a later rollback would not be exact.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	out := *t
	if t.AssignedAgent != nil {
		agent := *t.AssignedAgent
		out.AssignedAgent = &agent
	}
	if t.ResolutionNotes != nil {
		notes := *t.ResolutionNotes
		out.ResolutionNotes = &notes
	}
	out.Communications = make([]Communication, len(t.Communications))
	copy(out.Communications, t.Communications)
	return &out
}

// WithReply returns a clone with the communication inserted in thread order
// and the given status applied. The receiver is left untouched.
func (t *Ticket) WithReply(c Communication, status TicketStatus) *Ticket {
	out := t.Clone()
	out.Communications = insertOrdered(out.Communications, c)
	out.Status = status
	out.UpdatedAt = c.CreatedAt
	return out
}

// StatusAfterReply yields the status a requester reply implies: an OPEN
// ticket moves to IN_PROGRESS, anything else keeps its current status.
func (t *Ticket) StatusAfterReply() TicketStatus {
	if t.Status == TicketStatusOpen {
		return TicketStatusInProgress
	}
	return t.Status
}

// AcceptsReplies reports whether new communications may be added. Resolved
// and closed tickets are read-only.
func (t *Ticket) AcceptsReplies() bool {
	return t.Status != TicketStatusResolved && t.Status != TicketStatusClosed
}

// PendingReply returns the unconfirmed communication, if any.
func (t *Ticket) PendingReply() *Communication {
	for i := range t.Communications {
		if t.Communications[i].Pending {
			return &t.Communications[i]
		}
	}
	return nil
}

// HasPendingReply reports whether a communication is still awaiting
// confirmation from the backend.
func (t *Ticket) HasPendingReply() bool {
	return t.PendingReply() != nil
}

var allowedTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:       {TicketStatusInProgress, TicketStatusClosed},
	TicketStatusInProgress: {TicketStatusResolved, TicketStatusClosed},
	TicketStatusResolved:   {TicketStatusInProgress, TicketStatusClosed},
	TicketStatusClosed:     {},
}

// IsValidTransition reports whether a status change is allowed.
func IsValidTransition(current, next TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// SortCommunications orders a thread by creation time, breaking ties by id
// so the order is total and stable across refetches.
func SortCommunications(list []Communication) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func insertOrdered(list []Communication, c Communication) []Communication {
	idx := sort.Search(len(list), func(i int) bool {
		if list[i].CreatedAt.Equal(c.CreatedAt) {
			return list[i].ID > c.ID
		}
		return list[i].CreatedAt.After(c.CreatedAt)
	})
	list = append(list, Communication{})
	copy(list[idx+1:], list[idx:])
	list[idx] = c
	return list
}
