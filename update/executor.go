package update

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	sq "github.com/Masterminds/squirrel"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/diagnostics"
	"github.com/syssam/veloxrt/dialect"
	"github.com/syssam/veloxrt/dialect/sql"
	"github.com/syssam/veloxrt/dialect/sql/sqlerr"
	"github.com/syssam/veloxrt/storage"
)

// BatchExecutor executes command batches sequentially on one connection
// or transaction. Generated values of a batch are copied into entries
// only after every statement of the batch succeeded.
type BatchExecutor struct {
	drv          dialect.ExecQuerier
	dialect      string
	ph           sq.PlaceholderFormat
	emitter      *diagnostics.Emitter
	logger       *slog.Logger
	onPropagated func(context.Context, Entry) error
	before       func(context.Context, *ModificationCommandBatch) error
}

// ExecutorOption configures a BatchExecutor.
type ExecutorOption func(*BatchExecutor)

// WithEmitter sets the diagnostics emitter.
func WithEmitter(e *diagnostics.Emitter) ExecutorOption {
	return func(x *BatchExecutor) { x.emitter = e }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(x *BatchExecutor) { x.logger = l }
}

// OnPropagated registers a hook called for every entry that received
// generated values, after the batch succeeded.
func OnPropagated(f func(context.Context, Entry) error) ExecutorOption {
	return func(x *BatchExecutor) { x.onPropagated = f }
}

// BeforeBatch registers a hook called before a batch executes. An error
// aborts execution.
func BeforeBatch(f func(context.Context, *ModificationCommandBatch) error) ExecutorOption {
	return func(x *BatchExecutor) { x.before = f }
}

// NewBatchExecutor returns an executor for drv speaking the named dialect.
func NewBatchExecutor(drv dialect.ExecQuerier, name string, opts ...ExecutorOption) *BatchExecutor {
	x := &BatchExecutor{
		drv:     drv,
		dialect: name,
		ph:      storage.Placeholder(name),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs every batch in order and returns the number of affected
// rows. Execution stops at the first error.
func (x *BatchExecutor) Execute(ctx context.Context, batches iter.Seq2[*ModificationCommandBatch, error]) (int64, error) {
	var total int64
	for batch, err := range batches {
		if err != nil {
			return total, err
		}
		n, err := x.ExecuteBatch(ctx, batch)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ExecuteBatch runs one batch.
func (x *BatchExecutor) ExecuteBatch(ctx context.Context, batch *ModificationCommandBatch) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if x.before != nil {
		if err := x.before(ctx, batch); err != nil {
			return 0, err
		}
	}
	ev := diagnostics.Event{
		ID:       x.emitter.NextID(),
		Table:    batch.TableName(),
		Op:       batch.EntityState().Verb(),
		Commands: batch.Len(),
	}
	start := x.emitter.Now()
	ev.Kind, ev.Time = diagnostics.BatchExecuting, start
	x.emitter.Emit(ctx, ev)

	rows, results, err := x.run(ctx, batch)
	if err == nil {
		err = x.propagate(ctx, batch, results)
	}
	ev.Time = x.emitter.Now()
	ev.Duration = ev.Time.Sub(start)
	if err != nil {
		ev.Kind, ev.Err = diagnostics.Error, err
		x.emitter.Emit(ctx, ev)
		return 0, err
	}
	ev.Kind, ev.Rows = diagnostics.BatchExecuted, rows
	x.emitter.Emit(ctx, ev)
	x.logger.DebugContext(ctx, "executed batch", "batch", batch.String(), "commands", batch.Len(), "rows", rows)
	return rows, nil
}

// run executes the statements of a batch and collects generated values
// per command without applying them.
func (x *BatchExecutor) run(ctx context.Context, batch *ModificationCommandBatch) (int64, map[*ModificationCommand][]any, error) {
	stmts, err := statements(batch, x.dialect, x.ph)
	if err != nil {
		return 0, nil, err
	}
	var (
		total   int64
		results = make(map[*ModificationCommand][]any)
	)
	for _, st := range stmts {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		c := st.commands[0]
		var n int64
		switch st.kind {
		case execRows:
			n, err = x.exec(ctx, st, int64(len(st.commands)))
		case queryReturning:
			var values []any
			values, err = x.queryOne(ctx, c, st.query, st.args, len(c.ReadColumns()))
			results[c], n = values, 1
		case execSelectBack:
			var values []any
			values, err = x.execSelectBack(ctx, st)
			results[c], n = values, 1
		}
		if err != nil {
			return 0, nil, veloxrt.NewMutationError(c.table, c.state, err)
		}
		total += n
	}
	return total, results, nil
}

// exec runs st and checks the affected row count. MySQL counts changed
// rows unless the DSN sets clientFoundRows=true, so an update writing
// unchanged values reports a conflict without it.
func (x *BatchExecutor) exec(ctx context.Context, st statement, expected int64) (int64, error) {
	var res sql.Result
	if err := x.drv.Exec(ctx, st.query, st.args, &res); err != nil {
		return 0, sqlerr.Wrap(st.commands[0].state.Verb(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, veloxrt.NewStoreError("rows affected", err)
	}
	if n != expected {
		return 0, &veloxrt.ConcurrencyError{Table: st.commands[0].table, Expected: expected, Actual: n}
	}
	return n, nil
}

// queryOne runs a statement that must return exactly one row of n values.
func (x *BatchExecutor) queryOne(ctx context.Context, c *ModificationCommand, query string, args []any, n int) ([]any, error) {
	rows := &sql.Rows{}
	if err := x.drv.Query(ctx, query, args, rows); err != nil {
		return nil, sqlerr.Wrap(c.state.Verb(), err)
	}
	defer rows.Close()
	var (
		values []any
		count  int64
	)
	for rows.Next() {
		count++
		if count > 1 {
			continue
		}
		v, err := sql.ScanValues(rows, n)
		if err != nil {
			return nil, sqlerr.Wrap("scan", err)
		}
		values = v
	}
	if err := rows.Err(); err != nil {
		return nil, sqlerr.Wrap(c.state.Verb(), err)
	}
	if count != 1 {
		return nil, &veloxrt.ConcurrencyError{Table: c.table, Expected: 1, Actual: count}
	}
	return values, nil
}

// execSelectBack runs a single-row statement on a dialect without
// RETURNING. A store-generated integer key is taken from LastInsertId;
// remaining generated columns are selected by key.
func (x *BatchExecutor) execSelectBack(ctx context.Context, st statement) ([]any, error) {
	c := st.commands[0]
	var res sql.Result
	if err := x.drv.Exec(ctx, st.query, st.args, &res); err != nil {
		return nil, sqlerr.Wrap(c.state.Verb(), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, veloxrt.NewStoreError("rows affected", err)
	}
	if affected != 1 {
		return nil, &veloxrt.ConcurrencyError{Table: c.table, Expected: 1, Actual: affected}
	}
	reads := c.ReadColumns()
	values := make([]any, len(reads))
	key := make(map[string]any)
	var rest []*ColumnModification
	for i, cm := range reads {
		if cm.key {
			id, err := res.LastInsertId()
			if err != nil {
				return nil, veloxrt.NewStoreError("last insert id", err)
			}
			values[i], key[cm.column] = id, id
			continue
		}
		rest = append(rest, cm)
	}
	for _, cm := range c.columns {
		if _, ok := key[cm.column]; !ok && cm.key {
			v, err := normalized(cm)
			if err != nil {
				return nil, err
			}
			key[cm.column] = v
		}
	}
	if len(rest) == 0 {
		return values, nil
	}
	query, args, err := selectBack(c, key, rest, x.ph)
	if err != nil {
		return nil, err
	}
	got, err := x.queryOne(ctx, c, query, args, len(rest))
	if err != nil {
		return nil, err
	}
	j := 0
	for i, cm := range reads {
		if !cm.key {
			values[i] = got[j]
			j++
		}
	}
	return values, nil
}

// propagate applies generated values once the whole batch succeeded.
func (x *BatchExecutor) propagate(ctx context.Context, batch *ModificationCommandBatch, results map[*ModificationCommand][]any) error {
	for _, c := range batch.commands {
		values, ok := results[c]
		if !ok {
			continue
		}
		if err := c.PropagateResults(values); err != nil {
			return err
		}
		if x.onPropagated == nil {
			continue
		}
		for _, e := range c.entries {
			if err := x.onPropagated(ctx, e); err != nil {
				return fmt.Errorf("update: propagate %s: %w", c, err)
			}
		}
	}
	return nil
}
