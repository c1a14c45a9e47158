// Package dialect defines the store execution boundary of the runtime.
//
// The query and update pipelines only depend on the Driver interface:
// given a statement and its arguments, execute it and return either a
// result (row count, last insert id) or a row stream. Concrete drivers
// live in sub-packages.
//
//	drv, err := sql.Open(dialect.SQLite, "file:ducks.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
// # Dialects
//
//   - Postgres: generated values are read with RETURNING
//   - SQLite: generated values are read with RETURNING
//   - MySQL: generated keys are read with LAST_INSERT_ID and a select-back
//
// # Sub-packages
//
//   - dialect/sql: database/sql backed Driver, statistics and debug wrappers
//   - dialect/sql/sqlerr: classification of driver errors
//   - dialect/sql/schema: model tables, table creation and store validation
package dialect
