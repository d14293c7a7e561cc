// Package sqlsink stores history events in a SQL table shared by the sqlite
// and postgres sinks, which only contribute a driver and a Dialect.
package sqlsink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/keepr/internal/history"
	"github.com/loykin/keepr/internal/state"
)

// Table is the name of the history table.
const Table = "app_history"

var columns = []string{"timestamp", "event", "name", "from_status", "status", "pid", "restarts", "exit_code", "error"}

// Dialect captures what differs between SQL backends.
type Dialect struct {
	Driver    string // database/sql driver name
	Timestamp string // column type of event times
	Now       string // default expression for the timestamp column
	// Bind returns the placeholder of the n-th argument, starting at 1.
	Bind func(n int) string
}

// Sink writes one row per event.
type Sink struct {
	db      *sql.DB
	dialect Dialect
	insert  string
}

// Open connects with d's driver, creates the table when missing and returns
// the sink. tune, if non-nil, adjusts the pool before the first query.
func Open(ctx context.Context, d Dialect, dsn string, tune func(*sql.DB)) (*Sink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("empty " + d.Driver + " DSN")
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if tune != nil {
		tune(db)
	}
	s := &Sink{db: db, dialect: d, insert: insertStmt(d)}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s schema: %w", d.Driver, err)
	}
	return s, nil
}

func insertStmt(d Dialect) string {
	binds := make([]string, len(columns))
	for i := range columns {
		binds[i] = d.Bind(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)", Table, strings.Join(columns, ", "), strings.Join(binds, ", "))
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + Table + `(
			timestamp ` + s.dialect.Timestamp + ` NOT NULL DEFAULT ` + s.dialect.Now + `,
			event TEXT NOT NULL,
			name TEXT NOT NULL,
			from_status TEXT NOT NULL,
			status TEXT NOT NULL,
			pid INTEGER NOT NULL,
			restarts INTEGER NOT NULL,
			exit_code INTEGER NOT NULL,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_` + Table + `_name ON ` + Table + `(name, timestamp)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	r := e.Record
	var errText sql.NullString
	if r.LastError != "" {
		errText = sql.NullString{String: r.LastError, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.insert,
		e.OccurredAt.UTC(), string(e.Type), r.Name, string(e.From), string(r.Status),
		r.PID, r.Restarts, r.LastExitCode, errText)
	return err
}

// Recent returns up to limit events of app, newest first.
func (s *Sink) Recent(ctx context.Context, app string, limit int) ([]history.Event, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE name = %s ORDER BY timestamp DESC LIMIT %s",
		strings.Join(columns, ", "), Table, s.dialect.Bind(1), s.dialect.Bind(2))
	rows, err := s.db.QueryContext(ctx, q, app, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e             history.Event
			at            time.Time
			typ, from, st string
			errText       sql.NullString
		)
		if err := rows.Scan(&at, &typ, &e.Record.Name, &from, &st,
			&e.Record.PID, &e.Record.Restarts, &e.Record.LastExitCode, &errText); err != nil {
			return nil, err
		}
		e.OccurredAt = at.UTC()
		e.Type = history.EventType(typ)
		e.From = state.Status(from)
		e.Record.Status = state.Status(st)
		e.Record.LastError = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error { return s.db.Close() }
