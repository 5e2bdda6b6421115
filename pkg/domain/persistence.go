package domain

import "context"

// Mutator applies a partial update to a ticket inside the store's write
// path. Implementations must treat the pointer as scratch state: the store
// re-validates and re-clocks the record after the mutator returns.
type Mutator func(*Ticket) error

// Store is the capability interface over the shared document store. One
// implementation is injected into every worker; it must be safe for
// concurrent use and must never cache ticket state outside the store itself.
//
// All methods may block on store I/O and honor ctx cancellation, with the
// caveat that a write abandoned by the caller may still land (the caller is
// told "timeout", never "rolled back").
type Store interface {
	// CreateTicket validates, clocks, assigns a store-unique id, and
	// persists the record. The input id is ignored; ids are store-assigned.
	CreateTicket(ctx context.Context, t Ticket) (Ticket, error)
	// GetTicket returns the record or NotFoundError.
	GetTicket(ctx context.Context, id string) (Ticket, error)
	// ListTickets returns one page of the CreatedAt-ascending iteration
	// over tickets matching the filter. No cross-page snapshot is
	// guaranteed.
	ListTickets(ctx context.Context, filter TicketFilter, page Page) (TicketPage, error)
	// UpdateTicket applies the mutator to the current record, re-validates
	// the full result including the status transition graph, refreshes
	// UpdatedAt, and persists. Same-id updates are serialized.
	UpdateTicket(ctx context.Context, id string, mutate Mutator) (Ticket, error)
	// DeleteTicket removes the record; NotFoundError when absent, on every
	// call, so a repeated delete is distinguishable from a no-op.
	DeleteTicket(ctx context.Context, id string) error
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}
