package storage

import (
	"context"
	"iter"
	"sync"

	"github.com/syssam/veloxrt/metadata"
)

// Rows iterates the rows of one scan. Next is the single point where a
// scan waits for the store.
type Rows interface {
	Next(ctx context.Context) (ValueReader, bool, error)
	Close() error
}

// Source produces the rows of an entity type in property ordinal order.
type Source interface {
	Rows(ctx context.Context, et *metadata.EntityType) (Rows, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, et *metadata.EntityType) (Rows, error)

// Rows calls f(ctx, et).
func (f SourceFunc) Rows(ctx context.Context, et *metadata.EntityType) (Rows, error) {
	return f(ctx, et)
}

// All adapts Rows to a sequence. The rows are closed when the sequence
// ends or the consumer stops.
func All(ctx context.Context, rows Rows) iter.Seq2[ValueReader, error] {
	return func(yield func(ValueReader, error) bool) {
		defer rows.Close()
		for {
			r, ok, err := rows.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok || !yield(r, nil) {
				return
			}
		}
	}
}

// Collect reads every remaining row into snapshots and closes rows.
func Collect(ctx context.Context, rows Rows) ([]Row, error) {
	var out []Row
	for r, err := range All(ctx, rows) {
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot(r))
	}
	return out, nil
}

// MemorySource keeps entity rows in memory. It is safe for concurrent use.
type MemorySource struct {
	mu     sync.RWMutex
	tables map[string][]Row
}

// NewMemorySource returns an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{tables: make(map[string][]Row)}
}

// Add appends rows for the named entity type.
func (s *MemorySource) Add(entity string, rows ...Row) *MemorySource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[entity] = append(s.tables[entity], rows...)
	return s
}

// Rows returns a cursor over a copy of the current rows of et.
func (s *MemorySource) Rows(ctx context.Context, et *metadata.EntityType) (Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	rows := append([]Row(nil), s.tables[et.Name]...)
	s.mu.RUnlock()
	return &SliceRows{rows: rows}, nil
}

// SliceRows is a Rows over a slice.
type SliceRows struct {
	rows   []Row
	pos    int
	closed bool
}

// NewSliceRows returns Rows over the given rows.
func NewSliceRows(rows ...Row) *SliceRows {
	return &SliceRows{rows: rows}
}

// Next returns the next row. Cancellation is checked before each row.
func (r *SliceRows) Next(ctx context.Context) (ValueReader, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if r.closed || r.pos >= len(r.rows) {
		return nil, false, nil
	}
	row := r.rows[r.pos]
	r.pos++
	return row, true, nil
}

// Close stops the iteration.
func (r *SliceRows) Close() error {
	r.closed = true
	return nil
}
