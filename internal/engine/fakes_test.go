package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/store"
	"github.com/spec-kit/ticket-sync/pkg/util"
)

// fakeBackend implements api.Client over an in-memory ticket table. When a
// gate channel is set the corresponding call reports entry on the entered
// channel and then blocks until the test feeds the gate, which lets tests
// pin a call open at a known point. FetchTicket snapshots its response
// before waiting, so gated tests can tell which server state a given fetch
// observed.
type fakeBackend struct {
	mu       sync.Mutex
	tickets  map[string]*domain.Ticket
	replySeq int

	fetchCalls    int
	replyCalls    int
	fetchFailures int
	replyErr      error

	fetchGate    chan struct{}
	fetchEntered chan string
	replyGate    chan struct{}
	replyEntered chan string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{tickets: make(map[string]*domain.Ticket)}
}

func (f *fakeBackend) seed(t *domain.Ticket) {
	f.mu.Lock()
	f.tickets[t.TrackingCode] = t.Clone()
	f.mu.Unlock()
}

// addStaffReply appends a confirmed staff entry, the way an agent console
// would change the ticket behind the client's back.
func (f *fakeBackend) addStaffReply(code, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tickets[code]
	f.replySeq++
	reply := domain.Communication{
		ID:        fmt.Sprintf("msg-%03d", f.replySeq),
		Author:    domain.AuthorStaff,
		Body:      body,
		CreatedAt: time.Now(),
	}
	f.tickets[code] = t.WithReply(reply, t.Status)
}

func (f *fakeBackend) setStatus(code string, status domain.TicketStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.tickets[code].Clone()
	next.Status = status
	f.tickets[code] = next
}

func (f *fakeBackend) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func (f *fakeBackend) replies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replyCalls
}

func (f *fakeBackend) failFetches(n int) {
	f.mu.Lock()
	f.fetchFailures = n
	f.mu.Unlock()
}

func (f *fakeBackend) gateFetches() {
	f.mu.Lock()
	f.fetchGate = make(chan struct{})
	f.fetchEntered = make(chan string, 8)
	f.mu.Unlock()
}

func (f *fakeBackend) gateReplies() {
	f.mu.Lock()
	f.replyGate = make(chan struct{})
	f.replyEntered = make(chan string, 8)
	f.mu.Unlock()
}

func (f *fakeBackend) FetchTicket(ctx context.Context, code string) (*domain.Ticket, error) {
	f.mu.Lock()
	f.fetchCalls++
	snap := f.tickets[code].Clone()
	fail := f.fetchFailures > 0
	if fail {
		f.fetchFailures--
	}
	gate, entered := f.fetchGate, f.fetchEntered
	f.mu.Unlock()

	if entered != nil {
		entered <- code
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, util.NewUnavailable("backend unavailable", nil)
	}
	if snap == nil {
		return nil, util.NewNotFound("ticket", map[string]any{"tracking_code": code})
	}
	return snap, nil
}

func (f *fakeBackend) PostReply(ctx context.Context, code, body string) error {
	f.mu.Lock()
	gate, entered := f.replyGate, f.replyEntered
	f.mu.Unlock()

	if entered != nil {
		entered <- code
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.replyCalls++
	if f.replyErr != nil {
		return f.replyErr
	}
	t := f.tickets[code]
	if t == nil {
		return util.NewNotFound("ticket", map[string]any{"tracking_code": code})
	}
	if !t.AcceptsReplies() {
		return util.NewConflict("ticket no longer accepts replies", nil)
	}
	f.replySeq++
	reply := domain.Communication{
		ID:        fmt.Sprintf("msg-%03d", f.replySeq),
		Author:    domain.AuthorRequester,
		Body:      body,
		CreatedAt: time.Now(),
	}
	f.tickets[code] = t.WithReply(reply, t.StatusAfterReply())
	return nil
}

// noticeRecorder collects engine notices for later assertions.
type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) record(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *noticeRecorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

func openTicket(code string) *domain.Ticket {
	opened := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Ticket{
		TrackingCode: code,
		Subject:      "Cannot access my account",
		Category:     "account",
		Priority:     domain.TicketPriorityHigh,
		Status:       domain.TicketStatusOpen,
		Communications: []domain.Communication{
			{
				ID:        "msg-000",
				Author:    domain.AuthorRequester,
				Body:      "I get an invalid credentials error since this morning.",
				CreatedAt: opened,
			},
		},
		CreatedAt: opened,
		UpdatedAt: opened,
	}
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		RefetchRetryBackoffMS: 1,
		ResubscribeBackoffMS:  1,
		EventDedupWindow:      64,
	}
}

func testDeps(f *fakeBackend) (Dependencies, *store.Store) {
	st := store.New(0, 0, zap.NewNop())
	return Dependencies{Client: f, Store: st, Logger: zap.NewNop()}, st
}
