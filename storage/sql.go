package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/syssam/veloxrt/dialect"
	"github.com/syssam/veloxrt/dialect/sql"
	"github.com/syssam/veloxrt/dialect/sql/sqlerr"
	"github.com/syssam/veloxrt/metadata"
)

// SQLSource scans entity tables through a dialect.Driver.
type SQLSource struct {
	drv dialect.ExecQuerier
	ph  sq.PlaceholderFormat
}

// NewSQLSource returns a source reading through drv using the
// placeholder format of the named dialect.
func NewSQLSource(drv dialect.ExecQuerier, name string) *SQLSource {
	return &SQLSource{drv: drv, ph: Placeholder(name)}
}

// Placeholder returns the squirrel placeholder format of a dialect.
func Placeholder(name string) sq.PlaceholderFormat {
	if name == dialect.Postgres {
		return sq.Dollar
	}
	return sq.Question
}

// SelectQuery builds the statement that reads every row of et. Columns
// are selected in property ordinal order, secondary tables of split
// entities are joined on the key.
func SelectQuery(et *metadata.EntityType, ph sq.PlaceholderFormat) (string, []any, error) {
	tables := et.Tables()
	alias := make(map[string]string, len(tables))
	for i, t := range tables {
		alias[t] = fmt.Sprintf("t%d", i)
	}
	cols := make([]string, len(et.Properties()))
	for i, p := range et.Properties() {
		cols[i] = alias[et.TableOf(p)] + "." + p.Column
	}
	b := sq.Select(cols...).From(qualify(et.Schema, tables[0]) + " AS t0").PlaceholderFormat(ph)
	for _, t := range tables[1:] {
		on := ""
		for i, k := range et.Key() {
			if i > 0 {
				on += " AND "
			}
			on += fmt.Sprintf("t0.%s = %s.%s", k.Column, alias[t], k.Column)
		}
		b = b.LeftJoin(fmt.Sprintf("%s AS %s ON %s", qualify(et.Schema, t), alias[t], on))
	}
	return b.ToSql()
}

func qualify(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}

// Rows runs the select statement of et.
func (s *SQLSource) Rows(ctx context.Context, et *metadata.EntityType) (Rows, error) {
	query, args, err := SelectQuery(et, s.ph)
	if err != nil {
		return nil, err
	}
	rows := &sql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return nil, sqlerr.Wrap("query", err)
	}
	return &sqlRows{rows: rows, n: len(et.Properties())}, nil
}

type sqlRows struct {
	rows *sql.Rows
	n    int
}

func (r *sqlRows) Next(ctx context.Context) (ValueReader, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, false, sqlerr.Wrap("query", err)
		}
		return nil, false, nil
	}
	values, err := sql.ScanValues(r.rows, r.n)
	if err != nil {
		return nil, false, sqlerr.Wrap("scan", err)
	}
	return Row(values), true, nil
}

func (r *sqlRows) Close() error {
	return r.rows.Close()
}
