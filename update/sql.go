package update

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/dialect"
	"github.com/syssam/veloxrt/metadata"
)

type stmtKind uint8

const (
	// execRows executes and checks the affected row count.
	execRows stmtKind = iota
	// queryReturning reads one row of generated values per command.
	queryReturning
	// execSelectBack executes a single command and reads generated
	// values with a follow-up SELECT.
	execSelectBack
)

type statement struct {
	kind     stmtKind
	query    string
	args     []any
	commands []*ModificationCommand
}

// statements renders the SQL of a batch. Values are read from the
// entries when the batch is rendered, after earlier batches propagated
// their generated keys.
func statements(b *ModificationCommandBatch, name string, ph sq.PlaceholderFormat) ([]statement, error) {
	cmds := b.commands
	if len(cmds) == 0 {
		return nil, nil
	}
	returning := dialect.SupportsReturning(name)
	if cmds[0].state == veloxrt.Added && !b.RequiresResultPropagation() && len(cmds[0].WriteColumns()) > 0 {
		st, err := insertRows(cmds, ph)
		if err != nil {
			return nil, err
		}
		return []statement{st}, nil
	}
	out := make([]statement, 0, len(cmds))
	for _, c := range cmds {
		var (
			query string
			args  []any
			err   error
		)
		switch c.state {
		case veloxrt.Added:
			query, args, err = insertCommand(c, name, ph, returning)
		case veloxrt.Modified:
			query, args, err = updateCommand(c, ph, returning)
		case veloxrt.Deleted:
			query, args, err = deleteCommand(c, ph)
		default:
			err = &veloxrt.InvalidStateError{Entity: c.Type(), State: c.state}
		}
		if err != nil {
			return nil, fmt.Errorf("update: render %s: %w", c, err)
		}
		kind := execRows
		if c.RequiresResultPropagation() {
			kind = execSelectBack
			if returning {
				kind = queryReturning
			}
		}
		out = append(out, statement{kind: kind, query: query, args: args, commands: []*ModificationCommand{c}})
	}
	return out, nil
}

// insertRows renders one multi-row INSERT for commands without
// generated values.
func insertRows(cmds []*ModificationCommand, ph sq.PlaceholderFormat) (statement, error) {
	cols := columnNames(cmds[0].WriteColumns())
	b := sq.Insert(qualify(cmds[0].schema, cmds[0].table)).Columns(cols...).PlaceholderFormat(ph)
	for _, c := range cmds {
		values, err := currentValues(c.WriteColumns())
		if err != nil {
			return statement{}, err
		}
		b = b.Values(values...)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return statement{}, err
	}
	return statement{kind: execRows, query: query, args: args, commands: cmds}, nil
}

func insertCommand(c *ModificationCommand, name string, ph sq.PlaceholderFormat, returning bool) (string, []any, error) {
	table := qualify(c.schema, c.table)
	writes := c.WriteColumns()
	var (
		query string
		args  []any
	)
	if len(writes) == 0 {
		query = "INSERT INTO " + table + " DEFAULT VALUES"
		if name == dialect.MySQL {
			query = "INSERT INTO " + table + " () VALUES ()"
		}
	} else {
		values, err := currentValues(writes)
		if err != nil {
			return "", nil, err
		}
		query, args, err = sq.Insert(table).Columns(columnNames(writes)...).Values(values...).PlaceholderFormat(ph).ToSql()
		if err != nil {
			return "", nil, err
		}
	}
	if returning && c.RequiresResultPropagation() {
		query += " RETURNING " + strings.Join(columnNames(c.ReadColumns()), ", ")
	}
	return query, args, nil
}

func updateCommand(c *ModificationCommand, ph sq.PlaceholderFormat, returning bool) (string, []any, error) {
	b := sq.Update(qualify(c.schema, c.table)).PlaceholderFormat(ph)
	for _, cm := range c.WriteColumns() {
		v, err := metadata.Normalize(cm.Value())
		if err != nil {
			return "", nil, err
		}
		b = b.Set(cm.column, v)
	}
	where, err := conditions(c)
	if err != nil {
		return "", nil, err
	}
	b = b.Where(where)
	if returning && c.RequiresResultPropagation() {
		b = b.Suffix("RETURNING " + strings.Join(columnNames(c.ReadColumns()), ", "))
	}
	return b.ToSql()
}

func deleteCommand(c *ModificationCommand, ph sq.PlaceholderFormat) (string, []any, error) {
	where, err := conditions(c)
	if err != nil {
		return "", nil, err
	}
	return sq.Delete(qualify(c.schema, c.table)).Where(where).PlaceholderFormat(ph).ToSql()
}

// selectBack reads the generated columns of a row identified by key.
func selectBack(c *ModificationCommand, key map[string]any, cols []*ColumnModification, ph sq.PlaceholderFormat) (string, []any, error) {
	where := sq.And{}
	for _, cm := range c.columns {
		if v, ok := key[cm.column]; ok && cm.key {
			where = append(where, sq.Eq{cm.column: v})
		}
	}
	return sq.Select(columnNames(cols)...).From(qualify(c.schema, c.table)).Where(where).PlaceholderFormat(ph).ToSql()
}

// conditions compares condition columns with their original values.
func conditions(c *ModificationCommand) (sq.And, error) {
	where := sq.And{}
	for _, cm := range c.ConditionColumns() {
		v, err := metadata.Normalize(cm.OriginalValue())
		if err != nil {
			return nil, err
		}
		where = append(where, sq.Eq{cm.column: v})
	}
	if len(where) == 0 {
		return nil, fmt.Errorf("%s has no condition columns", c)
	}
	return where, nil
}

func currentValues(cols []*ColumnModification) ([]any, error) {
	values := make([]any, len(cols))
	for i, cm := range cols {
		v, err := metadata.Normalize(cm.Value())
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", cm.column, err)
		}
		values[i] = v
	}
	return values, nil
}

func columnNames(cols []*ColumnModification) []string {
	names := make([]string, len(cols))
	for i, cm := range cols {
		names[i] = cm.column
	}
	return names
}

func normalized(cm *ColumnModification) (any, error) {
	if cm.condition {
		return metadata.Normalize(cm.OriginalValue())
	}
	return metadata.Normalize(cm.Value())
}
