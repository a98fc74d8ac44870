package stub

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/push"
)

// Announcer forwards domain events to the push transport so connected
// clients learn about changes they did not make themselves. The domain
// event id is reused as the push event id; a broker that redelivers will
// therefore be deduplicated client-side.
type Announcer struct {
	publisher push.Publisher
	logger    *zap.Logger
}

// NewAnnouncer subscribes to every domain event and returns the bridge.
func NewAnnouncer(dispatcher events.Dispatcher, publisher push.Publisher, logger *zap.Logger) *Announcer {
	a := &Announcer{publisher: publisher, logger: logger.Named("announcer")}
	dispatcher.SubscribeAll(a.handle)
	return a
}

func (a *Announcer) handle(ctx context.Context, ev events.Event) error {
	kind, ok := kindFor(ev.Type)
	if !ok {
		return nil
	}
	pushEvent := push.Event{
		ID:           ev.ID,
		Kind:         kind,
		TrackingCode: ev.TrackingCode,
		OccurredAt:   ev.Timestamp,
	}
	if err := a.publisher.Publish(ctx, pushEvent); err != nil {
		a.logger.Warn("push publish failed",
			zap.String("tracking_code", ev.TrackingCode),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return err
	}
	a.logger.Debug("change announced",
		zap.String("tracking_code", ev.TrackingCode),
		zap.String("kind", string(kind)))
	return nil
}

// kindFor maps domain event types onto push kinds. Creation events have no
// subscribers yet (nobody can observe a ticket before its code exists), so
// they are not announced.
func kindFor(t events.EventType) (push.Kind, bool) {
	switch t {
	case events.EventTicketMessageAdded:
		return push.KindMessageAdded, true
	case events.EventTicketStatusChanged:
		return push.KindStatusChanged, true
	case events.EventTicketAgentAssigned:
		return push.KindAgentAssigned, true
	default:
		return "", false
	}
}
