// Package sql provides a database/sql backed implementation of
// dialect.Driver together with statistics collection.
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stats := sql.NewStatsDriver(drv, sql.WithSlowThreshold(50*time.Millisecond))
package sql
