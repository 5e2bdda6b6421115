// Package postgres provides the Postgres-backed ticket store used by the
// production profile. Multiple worker processes share one database; same-id
// mutations serialize on row locks so records are never torn.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"ticketcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.Store = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/ticketcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists tickets in a single per-row table.
type Store struct {
	db     *sql.DB
	engine *domain.RulesEngine
	nowFn  func() time.Time
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN) and applies the schema.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{
		db:     db,
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SetNowFunc overrides the clock, for tests that pin timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) { s.nowFn = fn }

// DB exposes the underlying handle for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tickets (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			priority    TEXT NOT NULL,
			assignee    TEXT,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate tickets: %w", err)
	}
	for _, ddl := range []string{
		`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_assignee ON tickets(assignee)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_created ON tickets(created_at, id)`,
	} {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migrate index: %w", err)
		}
	}
	return nil
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

// CreateTicket implements domain.Store. The primary-key constraint backs the
// store-wide id uniqueness guarantee across worker processes.
func (s *Store) CreateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error) {
	t.Normalize()
	if err := t.Validate(); err != nil {
		return domain.Ticket{}, err
	}
	t.ID = uuid.NewString()
	now := s.nowFn()
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := s.evaluate(ctx, []domain.Change{{Entity: domain.EntityTicket, Action: domain.ActionCreate, After: t.Clone()}}); err != nil {
		return domain.Ticket{}, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, title, description, status, priority, assignee, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.Assignee, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("insert ticket: %w", err)
	}
	return t, nil
}

// GetTicket implements domain.Store.
func (s *Store) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, priority, assignee, created_at, updated_at
		FROM tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Ticket{}, domain.NotFoundError{Entity: domain.EntityTicket, ID: id}
		}
		return domain.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// ListTickets implements domain.Store.
func (s *Store) ListTickets(ctx context.Context, filter domain.TicketFilter, page domain.Page) (domain.TicketPage, error) {
	if err := filter.Validate(); err != nil {
		return domain.TicketPage{}, err
	}
	cursor, err := domain.DecodeCursor(page.Cursor)
	if err != nil {
		return domain.TicketPage{}, err
	}

	query := `SELECT id, title, description, status, priority, assignee, created_at, updated_at FROM tickets WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Status != nil {
		query += " AND status = " + arg(string(*filter.Status))
	}
	if filter.Priority != nil {
		query += " AND priority = " + arg(string(*filter.Priority))
	}
	if filter.Assignee != nil {
		query += " AND assignee = " + arg(*filter.Assignee)
	}
	if !cursor.Zero() {
		query += fmt.Sprintf(" AND (created_at, id) > (%s, %s)", arg(cursor.CreatedAt.UTC()), arg(cursor.ID))
	}
	limit := page.EffectiveLimit()
	query += " ORDER BY created_at, id LIMIT " + arg(limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.TicketPage{}, fmt.Errorf("list tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out domain.TicketPage
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return domain.TicketPage{}, fmt.Errorf("scan ticket: %w", err)
		}
		out.Tickets = append(out.Tickets, t)
	}
	if err := rows.Err(); err != nil {
		return domain.TicketPage{}, fmt.Errorf("iterate tickets: %w", err)
	}
	if len(out.Tickets) > limit {
		out.Tickets = out.Tickets[:limit]
		last := out.Tickets[limit-1]
		out.NextCursor = domain.EncodeCursor(domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return out, nil
}

// UpdateTicket implements domain.Store. SELECT ... FOR UPDATE holds the row
// lock until commit, serializing same-id mutations across all workers of
// both profiles.
func (s *Store) UpdateTicket(ctx context.Context, id string, mutate domain.Mutator) (domain.Ticket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `
		SELECT id, title, description, status, priority, assignee, created_at, updated_at
		FROM tickets WHERE id = $1 FOR UPDATE`, id)
	before, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Ticket{}, domain.NotFoundError{Entity: domain.EntityTicket, ID: id}
		}
		return domain.Ticket{}, fmt.Errorf("load ticket: %w", err)
	}

	next := before.Clone()
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

	_, err = tx.ExecContext(ctx, `
		UPDATE tickets SET title = $1, description = $2, status = $3, priority = $4, assignee = $5, updated_at = $6
		WHERE id = $7`,
		next.Title, next.Description, string(next.Status), string(next.Priority), next.Assignee, next.UpdatedAt, id)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("update ticket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Ticket{}, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return next, nil
}

// DeleteTicket implements domain.Store.
func (s *Store) DeleteTicket(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `
		SELECT id, title, description, status, priority, assignee, created_at, updated_at
		FROM tickets WHERE id = $1 FOR UPDATE`, id)
	before, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFoundError{Entity: domain.EntityTicket, ID: id}
		}
		return fmt.Errorf("load ticket: %w", err)
	}
	if err := s.evaluate(ctx, []domain.Change{{Entity: domain.EntityTicket, Action: domain.ActionDelete, Before: before}}); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tickets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Ping implements domain.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements domain.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (domain.Ticket, error) {
	var (
		t                domain.Ticket
		status, priority string
		assignee         sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &assignee, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Ticket{}, err
	}
	t.Status = domain.TicketStatus(status)
	t.Priority = domain.TicketPriority(priority)
	if assignee.Valid {
		v := assignee.String
		t.Assignee = &v
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
