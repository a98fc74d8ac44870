// Package push abstracts the server-push channel that tells clients a
// ticket changed. Delivery is at-least-once and unordered; events carry no
// payload beyond identity, so consumers treat them purely as invalidation
// triggers.
package push

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates supported event identifiers.
type Kind string

const (
	KindMessageAdded  Kind = "ticket_message_added"
	KindStatusChanged Kind = "ticket_status_changed"
	KindAgentAssigned Kind = "ticket_agent_assigned"
	// KindResync is synthesized client-side after a transport reconnect to
	// force one reconciliation for events that may have been missed.
	KindResync Kind = "ticket_resync"
)

// Event notifies subscribers that a ticket changed on the backend.
type Event struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	TrackingCode string    `json:"tracking_code"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewEvent builds an event with a fresh id and timestamp.
func NewEvent(kind Kind, trackingCode string) Event {
	return Event{
		ID:           uuid.NewString(),
		Kind:         kind,
		TrackingCode: trackingCode,
		OccurredAt:   time.Now(),
	}
}

// ResyncEvent builds the synthetic event emitted after a reconnect.
func ResyncEvent(topic string) Event {
	return NewEvent(KindResync, CodeFromTopic(topic))
}

const topicPrefix = "ticket."

// TicketTopic returns the per-ticket topic events are published on.
func TicketTopic(trackingCode string) string {
	return topicPrefix + trackingCode
}

// CodeFromTopic extracts the tracking code from a per-ticket topic.
func CodeFromTopic(topic string) string {
	return strings.TrimPrefix(topic, topicPrefix)
}

// Subscription is a live event stream for one topic. Events() is closed
// when the subscription ends, whether by Close or by transport failure;
// consumers resubscribe on closure.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Transport opens topic subscriptions against a concrete broker.
type Transport interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Publisher emits events. Implemented by the same brokers that implement
// Transport; the stub backend is the only producer in this repo.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}
