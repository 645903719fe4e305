package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

// step is one expected statement.  match is a substring of the SQL; a step
// with columns answers a query, otherwise it answers an exec.
type step struct {
	match    string
	columns  []string
	rows     [][]driver.Value
	affected int64
	lastID   int64
	err      error
}

// executed records a statement the repository sent.
type executed struct {
	query string
	args  []driver.Value
}

// script is a database/sql driver that answers statements in order.
type script struct {
	t *testing.T

	mu        sync.Mutex
	steps     []step
	pos       int
	log       []executed
	commitErr error
	commits   int
	rollbacks int
}

func newScript(t *testing.T, steps ...step) (*script, *sql.DB) {
	t.Helper()
	s := &script{t: t, steps: steps}
	db := sql.OpenDB(s)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return s, db
}

func (s *script) Connect(context.Context) (driver.Conn, error) { return &scriptConn{s: s}, nil }
func (s *script) Driver() driver.Driver                       { return scriptDriver{} }

type scriptDriver struct{}

func (scriptDriver) Open(string) (driver.Conn, error) { return nil, errors.New("use the connector") }

// next consumes the next step, failing the test when query does not match.
func (s *script) next(query string, args []driver.NamedValue) (step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	s.log = append(s.log, executed{query: query, args: vals})
	if s.pos >= len(s.steps) {
		s.t.Errorf("unexpected statement: %s", query)
		return step{}, errors.New("unexpected statement")
	}
	st := s.steps[s.pos]
	s.pos++
	if !strings.Contains(query, st.match) {
		s.t.Errorf("statement %d: want %q, got %s", s.pos, st.match, query)
		return step{}, errors.New("unexpected statement")
	}
	return st, st.err
}

// done asserts that every scripted step ran.
func (s *script) done() {
	s.t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos != len(s.steps) {
		s.t.Errorf("ran %d of %d scripted statements", s.pos, len(s.steps))
	}
}

type scriptConn struct{ s *script }

func (c *scriptConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements are not scripted")
}
func (c *scriptConn) Close() error              { return nil }
func (c *scriptConn) Begin() (driver.Tx, error) { return scriptTx{s: c.s}, nil }

func (c *scriptConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	st, err := c.s.next(query, args)
	if err != nil {
		return nil, err
	}
	return scriptResult{affected: st.affected, lastID: st.lastID}, nil
}

func (c *scriptConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	st, err := c.s.next(query, args)
	if err != nil {
		return nil, err
	}
	return &scriptRows{columns: st.columns, rows: st.rows}, nil
}

type scriptTx struct{ s *script }

func (tx scriptTx) Commit() error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.commits++
	return tx.s.commitErr
}

func (tx scriptTx) Rollback() error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.rollbacks++
	return nil
}

type scriptResult struct{ affected, lastID int64 }

func (r scriptResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r scriptResult) RowsAffected() (int64, error) { return r.affected, nil }

type scriptRows struct {
	columns []string
	rows    [][]driver.Value
	pos     int
}

func (r *scriptRows) Columns() []string { return r.columns }
func (r *scriptRows) Close() error      { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}
