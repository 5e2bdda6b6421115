// Package sqlite provides a SQLite-backed ticket store for the development
// profile and single-host deployments. Every mutation runs inside a database
// transaction so concurrent workers sharing the file never observe torn
// records.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"ticketcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.Store = (*Store)(nil)

// timeLayout is RFC3339 with fixed nanosecond width so stored timestamps
// sort lexicographically in the same order they sort temporally.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const defaultPath = "ticketcore.db"

// Store persists tickets in a single per-row table.
type Store struct {
	db     *sql.DB
	engine *domain.RulesEngine
	nowFn  func() time.Time
}

// NewStore opens (or creates) the database file and applies the schema.
// Connections run in WAL mode with a busy timeout and open transactions as
// immediate write transactions, so concurrent same-id mutations queue for
// the write lock instead of failing with SQLITE_BUSY.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{
		db:     db,
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// dsn appends the per-connection options: BEGIN IMMEDIATE for transactions
// so writers take the write lock up front, a busy timeout so a second writer
// waits for it rather than erroring, and WAL so readers never block on
// writers.
func dsn(path string) string {
	return "file:" + path + "?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// SetNowFunc overrides the clock, for tests that pin timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) { s.nowFn = fn }

// DB exposes the underlying handle for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			priority    TEXT NOT NULL,
			assignee    TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_tickets_assignee ON tickets(assignee);
		CREATE INDEX IF NOT EXISTS idx_tickets_created ON tickets(created_at, id);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
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

// CreateTicket implements domain.Store.
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.Assignee,
		t.CreatedAt.Format(timeLayout), t.UpdatedAt.Format(timeLayout))
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("insert ticket: %w", err)
	}
	return t, nil
}

// GetTicket implements domain.Store.
func (s *Store) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, priority, assignee, created_at, updated_at
		FROM tickets WHERE id = ?`, id)
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

	query := `SELECT id, title, description, status, priority, assignee, created_at, updated_at FROM tickets WHERE 1=1`
	var args []any
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Priority != nil {
		query += " AND priority = ?"
		args = append(args, string(*filter.Priority))
	}
	if filter.Assignee != nil {
		query += " AND assignee = ?"
		args = append(args, *filter.Assignee)
	}
	if !cursor.Zero() {
		query += " AND (created_at > ? OR (created_at = ? AND id > ?))"
		mark := cursor.CreatedAt.UTC().Format(timeLayout)
		args = append(args, mark, mark, cursor.ID)
	}
	limit := page.EffectiveLimit()
	query += " ORDER BY created_at, id LIMIT ?"
	args = append(args, limit+1)

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

// UpdateTicket implements domain.Store. The read-modify-write runs inside a
// database transaction so concurrent same-id updates serialize at the store.
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
		FROM tickets WHERE id = ?`, id)
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
		UPDATE tickets SET title = ?, description = ?, status = ?, priority = ?, assignee = ?, updated_at = ?
		WHERE id = ?`,
		next.Title, next.Description, string(next.Status), string(next.Priority), next.Assignee,
		next.UpdatedAt.Format(timeLayout), id)
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
		FROM tickets WHERE id = ?`, id)
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
	if _, err := tx.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, id); err != nil {
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
		t                  domain.Ticket
		status, priority   string
		assignee           sql.NullString
		createdAt, updated string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &assignee, &createdAt, &updated); err != nil {
		return domain.Ticket{}, err
	}
	t.Status = domain.TicketStatus(status)
	t.Priority = domain.TicketPriority(priority)
	if assignee.Valid {
		v := assignee.String
		t.Assignee = &v
	}
	var err error
	if t.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return domain.Ticket{}, fmt.Errorf("created_at: %w", err)
	}
	if t.UpdatedAt, err = parseStoredTime(updated); err != nil {
		return domain.Ticket{}, fmt.Errorf("updated_at: %w", err)
	}
	return t, nil
}

func parseStoredTime(raw string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
