// Package memory provides an in-memory implementation of the ticket store
// used for tests and ephemeral environments.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ticketcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.Store = (*Store)(nil)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory: store is closed")

// Store holds all ticket state behind one mutex. Every returned record is a
// clone so callers can never mutate stored state in place.
type Store struct {
	mu      sync.RWMutex
	tickets map[string]domain.Ticket
	engine  *domain.RulesEngine
	nowFn   func() time.Time
	closed  bool
}

// NewStore constructs an empty store evaluating the supplied rules engine on
// every write. A nil engine skips rule evaluation.
func NewStore(engine *domain.RulesEngine) *Store {
	return &Store{
		tickets: make(map[string]domain.Ticket),
		engine:  engine,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock, for tests that pin timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

func (s *Store) newID() string {
	return uuid.NewString()
}

func (s *Store) evaluate(ctx context.Context, changes []domain.Change) error {
	if s.engine == nil {
		return nil
	}
	res, err := s.engine.Evaluate(ctx, changes)
	if err != nil {
		return err
	}
	if res.HasBlocking() {
		return domain.RuleViolationError{Result: res}
	}
	return nil
}

// CreateTicket implements domain.Store.
func (s *Store) CreateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error) {
	t.Normalize()
	if err := t.Validate(); err != nil {
		return domain.Ticket{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Ticket{}, ErrClosed
	}

	t.ID = s.newID()
	now := s.nowFn()
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := s.evaluate(ctx, []domain.Change{{Entity: domain.EntityTicket, Action: domain.ActionCreate, After: t.Clone()}}); err != nil {
		return domain.Ticket{}, err
	}
	s.tickets[t.ID] = t.Clone()
	return t.Clone(), nil
}

// GetTicket implements domain.Store.
func (s *Store) GetTicket(_ context.Context, id string) (domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.Ticket{}, ErrClosed
	}
	t, ok := s.tickets[id]
	if !ok {
		return domain.Ticket{}, domain.NotFoundError{Entity: domain.EntityTicket, ID: id}
	}
	return t.Clone(), nil
}

// ListTickets implements domain.Store.
func (s *Store) ListTickets(_ context.Context, filter domain.TicketFilter, page domain.Page) (domain.TicketPage, error) {
	if err := filter.Validate(); err != nil {
		return domain.TicketPage{}, err
	}
	cursor, err := domain.DecodeCursor(page.Cursor)
	if err != nil {
		return domain.TicketPage{}, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return domain.TicketPage{}, ErrClosed
	}
	matching := make([]domain.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if filter.Matches(t) {
			matching = append(matching, t.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matching, func(i, j int) bool {
		if matching[i].CreatedAt.Equal(matching[j].CreatedAt) {
			return matching[i].ID < matching[j].ID
		}
		return matching[i].CreatedAt.Before(matching[j].CreatedAt)
	})

	limit := page.EffectiveLimit()
	out := domain.TicketPage{Tickets: make([]domain.Ticket, 0, limit)}
	for _, t := range matching {
		if !cursor.Zero() && !cursor.After(t) {
			continue
		}
		if len(out.Tickets) == limit {
			out.NextCursor = domain.EncodeCursor(domain.Cursor{
				CreatedAt: out.Tickets[limit-1].CreatedAt,
				ID:        out.Tickets[limit-1].ID,
			})
			return out, nil
		}
		out.Tickets = append(out.Tickets, t)
	}
	return out, nil
}

// UpdateTicket implements domain.Store. Same-id updates serialize on the
// store mutex; the mutator runs against a clone so a failed update leaves
// the stored record untouched.
func (s *Store) UpdateTicket(ctx context.Context, id string, mutate domain.Mutator) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Ticket{}, ErrClosed
	}

	current, ok := s.tickets[id]
	if !ok {
		return domain.Ticket{}, domain.NotFoundError{Entity: domain.EntityTicket, ID: id}
	}
	before := current.Clone()
	next := current.Clone()
	if err := mutate(&next); err != nil {
		return domain.Ticket{}, err
	}
	next.ID = id
	next.CreatedAt = before.CreatedAt
	if err := next.Validate(); err != nil {
		return domain.Ticket{}, err
	}
	next.UpdatedAt = s.nowFn()

	if err := s.evaluate(ctx, []domain.Change{{Entity: domain.EntityTicket, Action: domain.ActionUpdate, Before: before, After: next.Clone()}}); err != nil {
		return domain.Ticket{}, err
	}
	s.tickets[id] = next.Clone()
	return next.Clone(), nil
}

// DeleteTicket implements domain.Store.
func (s *Store) DeleteTicket(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	current, ok := s.tickets[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityTicket, ID: id}
	}
	if err := s.evaluate(ctx, []domain.Change{{Entity: domain.EntityTicket, Action: domain.ActionDelete, Before: current.Clone()}}); err != nil {
		return err
	}
	delete(s.tickets, id)
	return nil
}

// Ping implements domain.Store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close implements domain.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len reports the number of stored tickets, for tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tickets)
}
