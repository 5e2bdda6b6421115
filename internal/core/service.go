package core

import (
	"context"
	"errors"
	"time"

	"ticketcore/pkg/domain"
)

// Service exposes the ticket operations consumed by the HTTP layer. One
// instance is shared by every worker of a profile; it holds no ticket state
// of its own.
type Service struct {
	store   domain.Store
	metrics MetricsRecorder
}

// ServiceOption configures optional service collaborators.
type ServiceOption func(*Service)

// WithMetricsRecorder wires a metrics recorder into the service.
func WithMetricsRecorder(rec MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		metrics: NoopMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.Store {
	return s.store
}

func (s *Service) observe(ctx context.Context, operation string, started time.Time, err error) {
	s.metrics.Observe(ctx, operation, err == nil, time.Since(started))
}

// TicketUpdate carries the partial fields of one update request. Nil fields
// are left untouched; a non-nil empty Assignee clears the assignment.
type TicketUpdate struct {
	Title       *string
	Description *string
	Status      *domain.TicketStatus
	Priority    *domain.TicketPriority
	Assignee    *string
}

// Mutator renders the partial update as a store mutator.
func (u TicketUpdate) Mutator() domain.Mutator {
	return func(t *domain.Ticket) error {
		if u.Title != nil {
			t.Title = *u.Title
		}
		if u.Description != nil {
			t.Description = *u.Description
		}
		if u.Status != nil {
			t.Status = *u.Status
		}
		if u.Priority != nil {
			t.Priority = *u.Priority
		}
		if u.Assignee != nil {
			if *u.Assignee == "" {
				t.Assignee = nil
			} else {
				v := *u.Assignee
				t.Assignee = &v
			}
		}
		return nil
	}
}

// CreateTicket persists a new ticket. The stored record is returned with its
// store-assigned id and timestamps.
func (s *Service) CreateTicket(ctx context.Context, t domain.Ticket) (created domain.Ticket, err error) {
	defer func(started time.Time) { s.observe(ctx, "create_ticket", started, err) }(time.Now())
	created, err = s.store.CreateTicket(ctx, t)
	return created, translateRuleError(err)
}

// GetTicket fetches one ticket by id.
func (s *Service) GetTicket(ctx context.Context, id string) (t domain.Ticket, err error) {
	defer func(started time.Time) { s.observe(ctx, "get_ticket", started, err) }(time.Now())
	return s.store.GetTicket(ctx, id)
}

// ListTickets returns one page of the filtered iteration.
func (s *Service) ListTickets(ctx context.Context, filter domain.TicketFilter, page domain.Page) (out domain.TicketPage, err error) {
	defer func(started time.Time) { s.observe(ctx, "list_tickets", started, err) }(time.Now())
	return s.store.ListTickets(ctx, filter, page)
}

// UpdateTicket applies the partial update and returns the stored result.
func (s *Service) UpdateTicket(ctx context.Context, id string, update TicketUpdate) (t domain.Ticket, err error) {
	defer func(started time.Time) { s.observe(ctx, "update_ticket", started, err) }(time.Now())
	t, err = s.store.UpdateTicket(ctx, id, update.Mutator())
	return t, translateRuleError(err)
}

// DeleteTicket removes the ticket. Deleting an absent id fails with
// NotFoundError on every call.
func (s *Service) DeleteTicket(ctx context.Context, id string) (err error) {
	defer func(started time.Time) { s.observe(ctx, "delete_ticket", started, err) }(time.Now())
	return s.store.DeleteTicket(ctx, id)
}

// Health reports whether the backing store is reachable.
func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// translateRuleError converts blocking rule results into the caller-facing
// conflict type so the HTTP layer never inspects rule internals.
func translateRuleError(err error) error {
	if err == nil {
		return nil
	}
	var rve domain.RuleViolationError
	if errors.As(err, &rve) {
		for _, v := range rve.Result.Violations {
			if v.Severity == domain.SeverityBlock {
				return domain.ConflictError{ID: v.EntityID, Reason: v.Message}
			}
		}
	}
	return err
}
