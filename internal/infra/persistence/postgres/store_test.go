package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"ticketcore/pkg/domain"
)

// stubConn is a minimal database/sql/driver implementation recording
// statements and serving canned rows, in place of a live Postgres server.
type stubConn struct {
	execs []string
	rows  map[string][][]driver.Value // keyed by a substring of the query
}

type stubConnector struct{ conn *stubConn }

func (c stubConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c stubConnector) Driver() driver.Driver                        { return stubDriver{} }

type stubDriver struct{}

func (stubDriver) Open(string) (driver.Conn, error) { return &stubConn{}, nil }

func (c *stubConn) Prepare(query string) (driver.Stmt, error) {
	return &stubStmt{conn: c, query: query}, nil
}
func (c *stubConn) Close() error              { return nil }
func (c *stubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubStmt struct {
	conn  *stubConn
	query string
}

func (s *stubStmt) Close() error  { return nil }
func (s *stubStmt) NumInput() int { return -1 }

func (s *stubStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.conn.execs = append(s.conn.execs, s.query)
	return driver.RowsAffected(1), nil
}

func (s *stubStmt) Query(args []driver.Value) (driver.Rows, error) {
	for key, rows := range s.conn.rows {
		if strings.Contains(s.query, key) {
			return &stubRows{data: rows}, nil
		}
	}
	return &stubRows{}, nil
}

type stubRows struct {
	data [][]driver.Value
	pos  int
}

func (r *stubRows) Columns() []string {
	return []string{"id", "title", "description", "status", "priority", "assignee", "created_at", "updated_at"}
}
func (r *stubRows) Close() error { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}

func newStubDB() (*sql.DB, *stubConn) {
	conn := &stubConn{rows: make(map[string][][]driver.Value)}
	return sql.OpenDB(stubConnector{conn: conn}), conn
}

func TestNewStoreAppliesSchema(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	if _, err := NewStore(context.Background(), "", domain.NewRulesEngine()); err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	var sawTable, sawIndex bool
	for _, stmt := range conn.execs {
		upper := strings.ToUpper(stmt)
		if strings.Contains(upper, "CREATE TABLE") {
			sawTable = true
		}
		if strings.Contains(upper, "CREATE INDEX") {
			sawIndex = true
		}
	}
	if !sawTable || !sawIndex {
		t.Fatalf("expected schema DDL, got execs: %v", conn.execs)
	}
}

func TestNewStorePropagatesOpenError(t *testing.T) {
	boom := errors.New("no route to host")
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, boom })
	defer restore()

	if _, err := NewStore(context.Background(), "", domain.NewRulesEngine()); !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestCreateTicketInserts(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	pinned := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return pinned })

	created, err := store.CreateTicket(context.Background(), domain.Ticket{Title: "replica lag"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Status != domain.StatusOpen || !created.CreatedAt.Equal(pinned) {
		t.Fatalf("create result: %+v", created)
	}

	var sawInsert bool
	for _, stmt := range conn.execs {
		if strings.Contains(strings.ToUpper(stmt), "INSERT INTO TICKETS") {
			sawInsert = true
		}
	}
	if !sawInsert {
		t.Fatalf("expected INSERT, got execs: %v", conn.execs)
	}
}

func TestCreateTicketValidatesBeforeInsert(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	execsBefore := len(conn.execs)

	_, err = store.CreateTicket(context.Background(), domain.Ticket{})
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(conn.execs) != execsBefore {
		t.Fatal("invalid ticket must be rejected before any statement executes")
	}
}

func TestGetTicketNotFound(t *testing.T) {
	db, _ := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	_, err = store.GetTicket(context.Background(), "absent")
	var nferr domain.NotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nferr.ID != "absent" {
		t.Fatalf("not found id = %q", nferr.ID)
	}
}

func TestGetTicketScansRow(t *testing.T) {
	db, conn := newStubDB()
	created := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)
	conn.rows["FROM tickets WHERE id"] = [][]driver.Value{
		{"t-1", "stuck queue", "consumer wedged", "in_progress", "high", "ada", created, created.Add(time.Minute)},
	}
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	got, err := store.GetTicket(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "t-1" || got.Status != domain.StatusInProgress || got.Priority != domain.PriorityHigh {
		t.Fatalf("scanned ticket: %+v", got)
	}
	if got.Assignee == nil || *got.Assignee != "ada" {
		t.Fatalf("assignee: %+v", got.Assignee)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %s", got.CreatedAt)
	}
}

func TestUpdateTicketNotFound(t *testing.T) {
	db, _ := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	_, err = store.UpdateTicket(context.Background(), "absent", func(*domain.Ticket) error { return nil })
	var nferr domain.NotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
