package sql

import (
	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/trace"
)

// OpenTraced opens a database whose statements are recorded as spans of
// tp. Driver errors of type driver.ErrSkip are not recorded.
func OpenTraced(dialect, source string, tp trace.TracerProvider) (*Driver, error) {
	db, err := otelsql.Open(driverName(dialect), source,
		otelsql.WithTracerProvider(tp),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
	)
	if err != nil {
		return nil, err
	}
	return NewDriver(dialect, Conn{db}), nil
}
