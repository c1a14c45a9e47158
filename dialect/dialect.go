package dialect

import (
	"context"
	"database/sql/driver"
)

// Dialect names supported by the runtime.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite3"
	Postgres = "postgres"
)

// ExecQuerier wraps the two database operations the runtime needs.
type ExecQuerier interface {
	// Exec executes a statement. v is nil or a *sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query runs a query that returns rows. v is a *sql.Rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the store execution boundary consumed by the query and
// update pipelines.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps the Exec and Query operations in a transaction.
type Tx interface {
	ExecQuerier
	driver.Tx
}

// SupportsReturning reports whether the dialect can return generated
// values from INSERT and UPDATE statements.
func SupportsReturning(name string) bool {
	return name == Postgres || name == SQLite
}
