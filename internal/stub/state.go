// Package stub is an in-memory stand-in for the real ticket service. It
// serves the same wire format the sync client consumes, publishes the same
// push events the production backend would, and keeps every byte of state
// in process so demos and tests need no external infrastructure.
package stub

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/auth"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
	apperrors "github.com/spec-kit/ticket-sync/pkg/util"
)

// Account is a seeded login. The stub keeps no registration flow; the
// demo dataset is the whole user base.
type Account struct {
	Email        string
	Name         string
	PasswordHash string
	Role         domain.AuthorRole
}

// TicketInput describes ticket creation payload.
type TicketInput struct {
	Subject  string
	Category string
	Priority domain.TicketPriority
	Body     string
}

// State owns the stub's tickets and accounts. Mutations publish domain
// events after the lock is released, so event handlers may call back into
// the state.
type State struct {
	mu       sync.Mutex
	tickets  map[string]*domain.Ticket
	accounts map[string]Account

	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewState constructs empty stub state.
func NewState(dispatcher events.Dispatcher, logger *zap.Logger) *State {
	return &State{
		tickets:    make(map[string]*domain.Ticket),
		accounts:   make(map[string]Account),
		dispatcher: dispatcher,
		logger:     logger.Named("stub_state"),
	}
}

// SeedDemoData installs the demo accounts and tickets: a requester and a
// staff login, the well-known ticket T-100 with an empty thread, and one
// generated ticket with some history. Returns the seeded tracking codes.
func (s *State) SeedDemoData(bcryptCost int) ([]string, error) {
	requesterHash, err := auth.HashPassword("password123", bcryptCost)
	if err != nil {
		return nil, err
	}
	staffHash, err := auth.HashPassword("password123", bcryptCost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	agent := "Sam Agent"
	inProgress := &domain.Ticket{
		TrackingCode:  generateTrackingCode(),
		Subject:       "Invoice totals are wrong",
		Category:      "billing",
		Priority:      domain.TicketPriorityMedium,
		Status:        domain.TicketStatusInProgress,
		AssignedAgent: &agent,
		Communications: []domain.Communication{
			{
				ID:        generateMessageID(),
				Author:    domain.AuthorRequester,
				Body:      "The March invoice shows last month's totals.",
				CreatedAt: now.Add(-2 * time.Hour),
			},
			{
				ID:        generateMessageID(),
				Author:    domain.AuthorStaff,
				Body:      "Thanks for the report, pulling the billing run now.",
				CreatedAt: now.Add(-90 * time.Minute),
			},
		},
		CreatedAt: now.Add(-2 * time.Hour),
		UpdatedAt: now.Add(-90 * time.Minute),
	}

	s.mu.Lock()
	s.accounts["requester@example.com"] = Account{
		Email:        "requester@example.com",
		Name:         "Dana Requester",
		PasswordHash: requesterHash,
		Role:         domain.AuthorRequester,
	}
	s.accounts["agent@example.com"] = Account{
		Email:        "agent@example.com",
		Name:         agent,
		PasswordHash: staffHash,
		Role:         domain.AuthorStaff,
	}
	s.tickets["T-100"] = &domain.Ticket{
		TrackingCode:   "T-100",
		Subject:        "Cannot access my account",
		Category:       "account",
		Priority:       domain.TicketPriorityHigh,
		Status:         domain.TicketStatusOpen,
		Communications: []domain.Communication{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.tickets[inProgress.TrackingCode] = inProgress
	s.mu.Unlock()

	return []string{"T-100", inProgress.TrackingCode}, nil
}

// Authenticate verifies credentials and returns the matching account.
func (s *State) Authenticate(email, password string) (Account, error) {
	s.mu.Lock()
	account, ok := s.accounts[strings.ToLower(strings.TrimSpace(email))]
	s.mu.Unlock()
	if !ok {
		return Account{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if err := auth.ComparePassword(account.PasswordHash, password); err != nil {
		return Account{}, apperrors.NewUnauthorized("invalid credentials")
	}
	return account, nil
}

// GetTicket returns a snapshot of the ticket. The copy never aliases the
// stored one.
func (s *State) GetTicket(trackingCode string) (*domain.Ticket, error) {
	s.mu.Lock()
	ticket := s.tickets[trackingCode]
	var snapshot *domain.Ticket
	if ticket != nil {
		snapshot = ticket.Clone()
	}
	s.mu.Unlock()
	if snapshot == nil {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"tracking_code": trackingCode})
	}
	return snapshot, nil
}

// CreateTicket opens a new ticket with the given opening message.
func (s *State) CreateTicket(ctx context.Context, author domain.AuthorRole, input TicketInput) (*domain.Ticket, error) {
	subject := strings.TrimSpace(input.Subject)
	body := strings.TrimSpace(input.Body)
	if subject == "" || body == "" {
		return nil, apperrors.NewValidationError("subject and body required", nil)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}

	now := time.Now()
	ticket := &domain.Ticket{
		TrackingCode: generateTrackingCode(),
		Subject:      subject,
		Category:     strings.TrimSpace(input.Category),
		Priority:     priority,
		Status:       domain.TicketStatusOpen,
		Communications: []domain.Communication{{
			ID:        generateMessageID(),
			Author:    author,
			Body:      body,
			CreatedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.tickets[ticket.TrackingCode] = ticket
	snapshot := ticket.Clone()
	s.mu.Unlock()

	s.publish(ctx, events.NewEvent(events.EventTicketCreated, ticket.TrackingCode, events.TicketCreatedPayload{
		Subject:  ticket.Subject,
		Category: ticket.Category,
		Priority: ticket.Priority,
	}))
	s.logger.Info("ticket created", zap.String("tracking_code", ticket.TrackingCode))
	return snapshot, nil
}

// AddReply appends a communication to the thread. Requester replies move
// OPEN tickets to IN_PROGRESS and are refused once the ticket is resolved
// or closed; staff replies are refused only on closed tickets and claim
// the ticket when it has no assigned agent yet.
func (s *State) AddReply(ctx context.Context, trackingCode string, author domain.AuthorRole, authorName, body string) (domain.Communication, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Communication{}, apperrors.NewValidationError("body required", nil)
	}

	var evs []events.Event

	s.mu.Lock()
	ticket, ok := s.tickets[trackingCode]
	if !ok {
		s.mu.Unlock()
		return domain.Communication{}, apperrors.NewNotFound("ticket", map[string]any{"tracking_code": trackingCode})
	}
	switch author {
	case domain.AuthorRequester:
		if !ticket.AcceptsReplies() {
			s.mu.Unlock()
			return domain.Communication{}, apperrors.NewConflict("ticket no longer accepts replies", map[string]any{"status": ticket.Status})
		}
	case domain.AuthorStaff:
		if ticket.Status == domain.TicketStatusClosed {
			s.mu.Unlock()
			return domain.Communication{}, apperrors.NewConflict("ticket is closed", nil)
		}
	default:
		s.mu.Unlock()
		return domain.Communication{}, apperrors.NewValidationError("unknown author role", nil)
	}

	msg := domain.Communication{
		ID:        generateMessageID(),
		Author:    author,
		Body:      body,
		CreatedAt: time.Now(),
	}
	status := ticket.Status
	if author == domain.AuthorRequester {
		status = ticket.StatusAfterReply()
	}
	updated := ticket.WithReply(msg, status)
	if author == domain.AuthorStaff && updated.AssignedAgent == nil && authorName != "" {
		agent := authorName
		updated.AssignedAgent = &agent
		evs = append(evs, events.NewEvent(events.EventTicketAgentAssigned, trackingCode, events.AgentAssignedPayload{Agent: agent}))
	}
	s.tickets[trackingCode] = updated
	s.mu.Unlock()

	evs = append(evs, events.NewEvent(events.EventTicketMessageAdded, trackingCode, events.MessageAddedPayload{
		MessageID:   msg.ID,
		Author:      msg.Author,
		BodyPreview: bodyPreview(msg.Body, 120),
	}))
	s.publish(ctx, evs...)
	return msg, nil
}

// UpdateStatus applies a staff status change, enforcing the transition
// table. Resolution notes are recorded when provided.
func (s *State) UpdateStatus(ctx context.Context, trackingCode string, next domain.TicketStatus, notes *string) (*domain.Ticket, error) {
	s.mu.Lock()
	ticket, ok := s.tickets[trackingCode]
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.NewNotFound("ticket", map[string]any{"tracking_code": trackingCode})
	}
	if !domain.IsValidTransition(ticket.Status, next) {
		from := ticket.Status
		s.mu.Unlock()
		return nil, apperrors.NewConflict("status transition not allowed", map[string]any{
			"from": from,
			"to":   next,
		})
	}

	old := ticket.Status
	updated := ticket.Clone()
	updated.Status = next
	updated.UpdatedAt = time.Now()
	if notes != nil {
		trimmed := strings.TrimSpace(*notes)
		updated.ResolutionNotes = &trimmed
	}
	s.tickets[trackingCode] = updated
	snapshot := updated.Clone()
	s.mu.Unlock()

	s.publish(ctx, events.NewEvent(events.EventTicketStatusChanged, trackingCode, events.StatusChangedPayload{
		OldStatus: old,
		NewStatus: next,
	}))
	s.logger.Info("status changed",
		zap.String("tracking_code", trackingCode),
		zap.String("from", string(old)),
		zap.String("to", string(next)))
	return snapshot, nil
}

func (s *State) publish(ctx context.Context, evs ...events.Event) {
	if s.dispatcher == nil {
		return
	}
	for _, ev := range evs {
		_ = s.dispatcher.Publish(ctx, ev)
	}
}

func generateTrackingCode() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func generateMessageID() string {
	return "msg-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func bodyPreview(body string, max int) string {
	if len(body) <= max {
		return body
	}
	if max <= 3 {
		return body[:max]
	}
	return body[:max-3] + "..."
}
