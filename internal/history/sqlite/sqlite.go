package sqlite

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/keepr/internal/history/sqlsink"
)

var dialect = sqlsink.Dialect{
	Driver:    "sqlite",
	Timestamp: "TIMESTAMP",
	Now:       "(CURRENT_TIMESTAMP)",
	Bind:      func(int) string { return "?" },
}

// Sink writes history events to a SQLite file.
type Sink struct {
	*sqlsink.Sink
}

// New opens the database named by dsn:
//   - "sqlite:///path/to/file.db" or "/path/to/file.db"
//   - "sqlite://:memory:" or ":memory:"
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	// one connection keeps :memory: alive and serializes writers
	s, err := sqlsink.Open(context.Background(), dialect, dsn, func(db *sql.DB) { db.SetMaxOpenConns(1) })
	if err != nil {
		return nil, err
	}
	return &Sink{Sink: s}, nil
}
