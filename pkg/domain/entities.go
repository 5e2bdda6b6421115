// Package domain defines the persistent ticket entity, value types, error
// taxonomy, and rule evaluation primitives used by ticketcore.
package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// EntityTicket identifies a ticket record in Change entries and persistence
// buckets. The store holds exactly one collection.
const EntityTicket EntityType = "ticket"

// TicketStatus represents the canonical ticket workflow states.
type TicketStatus string

// Canonical ticket statuses. Transitions between them are restricted to a
// directed graph enforced by the rules engine.
const (
	StatusOpen       TicketStatus = "open"
	StatusInProgress TicketStatus = "in_progress"
	StatusClosed     TicketStatus = "closed"
	StatusReopened   TicketStatus = "reopened"
)

// TicketPriority enumerates ticket urgency levels.
type TicketPriority string

// Canonical ticket priorities.
const (
	PriorityLow    TicketPriority = "low"
	PriorityMedium TicketPriority = "medium"
	PriorityHigh   TicketPriority = "high"
)

const (
	// MaxTitleLength bounds ticket titles in runes.
	MaxTitleLength = 200
	// MaxDescriptionLength bounds ticket descriptions in runes.
	MaxDescriptionLength = 5000
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ticket represents one unit of reported work tracked by the system.
type Ticket struct {
	Base
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      TicketStatus   `json:"status"`
	Priority    TicketPriority `json:"priority"`
	Assignee    *string        `json:"assignee,omitempty"`
}

// ValidStatus reports whether s is a member of the status enum.
func ValidStatus(s TicketStatus) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed, StatusReopened:
		return true
	}
	return false
}

// ValidPriority reports whether p is a member of the priority enum.
func ValidPriority(p TicketPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Normalize applies creation defaults to zero-valued enum fields.
func (t *Ticket) Normalize() {
	if t.Status == "" {
		t.Status = StatusOpen
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
}

// Validate checks field constraints shared by create and update paths.
func (t Ticket) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(t.Title) > MaxTitleLength {
		return ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", MaxTitleLength)}
	}
	if utf8.RuneCountInString(t.Description) > MaxDescriptionLength {
		return ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", MaxDescriptionLength)}
	}
	if !ValidStatus(t.Status) {
		return ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", t.Status)}
	}
	if !ValidPriority(t.Priority) {
		return ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", t.Priority)}
	}
	return nil
}

// Clone returns a deep copy of the ticket.
func (t Ticket) Clone() Ticket {
	out := t
	if t.Assignee != nil {
		v := *t.Assignee
		out.Assignee = &v
	}
	return out
}

// TicketFilter constrains list queries. Nil fields match everything.
type TicketFilter struct {
	Status   *TicketStatus
	Assignee *string
	Priority *TicketPriority
}

// Validate rejects filters referencing unknown enum members before any store
// access happens.
func (f TicketFilter) Validate() error {
	if f.Status != nil && !ValidStatus(*f.Status) {
		return ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *f.Status)}
	}
	if f.Priority != nil && !ValidPriority(*f.Priority) {
		return ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", *f.Priority)}
	}
	return nil
}

// Matches reports whether the ticket satisfies every set filter field.
func (f TicketFilter) Matches(t Ticket) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	if f.Assignee != nil {
		if t.Assignee == nil || *t.Assignee != *f.Assignee {
			return false
		}
	}
	return true
}

// Page bounds one list fetch. Cursor is opaque to callers; an empty cursor
// starts from the beginning. Limit 0 applies DefaultPageLimit.
type Page struct {
	Cursor string
	Limit  int
}

// Pagination bounds shared by every backend.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// EffectiveLimit clamps the requested page size into the supported range.
func (p Page) EffectiveLimit() int {
	if p.Limit <= 0 {
		return DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		return MaxPageLimit
	}
	return p.Limit
}

// TicketPage is one finite slice of a list iteration. NextCursor is empty
// when the matching set was exhausted at the time of the fetch.
type TicketPage struct {
	Tickets    []Ticket `json:"tickets"`
	NextCursor string   `json:"next_cursor,omitempty"`
}
