package stub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
)

const autoReplyBody = "Thanks for the update. An agent is looking into it and will follow up here."

// AutoResponder plays the part of a support agent: every requester message
// schedules one staff reply after a configurable delay. The reply goes
// through the regular state mutation path, so observers receive the same
// out-of-band push a human agent would have caused.
type AutoResponder struct {
	state  *State
	delay  time.Duration
	agent  string
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup
}

// NewAutoResponder subscribes to message events and returns the responder.
func NewAutoResponder(state *State, dispatcher events.Dispatcher, cfg config.StubConfig, logger *zap.Logger) *AutoResponder {
	r := &AutoResponder{
		state:  state,
		delay:  cfg.AutoReplyDelay(),
		agent:  "Sam Agent",
		logger: logger.Named("autoreply"),
		quit:   make(chan struct{}),
	}
	dispatcher.Subscribe(events.EventTicketMessageAdded, r.handle)
	return r
}

func (r *AutoResponder) handle(ctx context.Context, ev events.Event) error {
	payload, ok := ev.Payload.(events.MessageAddedPayload)
	if !ok || payload.Author != domain.AuthorRequester {
		return nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.respond(ev.TrackingCode)
	return nil
}

func (r *AutoResponder) respond(trackingCode string) {
	defer r.wg.Done()

	timer := time.NewTimer(r.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.quit:
		return
	}

	if _, err := r.state.AddReply(context.Background(), trackingCode, domain.AuthorStaff, r.agent, autoReplyBody); err != nil {
		// The ticket may have been closed while the reply was waiting.
		r.logger.Warn("auto reply skipped", zap.String("tracking_code", trackingCode), zap.Error(err))
		return
	}
	r.logger.Info("auto reply posted", zap.String("tracking_code", trackingCode))
}

// Close cancels pending replies and waits for in-flight ones to finish.
func (r *AutoResponder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.quit)
	r.mu.Unlock()

	r.wg.Wait()
}
