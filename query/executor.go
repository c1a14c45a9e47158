package query

import (
	"github.com/syssam/veloxrt/linq"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/query/plan"
	"github.com/syssam/veloxrt/querymodel"
)

// Executor runs a query compiled for synchronous execution. It holds no
// execution state and may be shared.
type Executor struct {
	plan  plan.Node
	shape querymodel.OutputShape
	seq   seqFn[linq.Seq[any]]
	term  termFn
}

// AsyncExecutor runs a query compiled for asynchronous execution.
type AsyncExecutor struct {
	plan  plan.Node
	shape querymodel.OutputShape
	seq   seqFn[linq.AsyncSeq[any]]
	term  termFn
}

// Compile compiles a query model into a synchronous executor. Result
// entities are tracked when tracking is set and the model does not opt
// out.
func Compile(model *metadata.Model, qm *querymodel.QueryModel, tracking bool) (*Executor, error) {
	root, seq, term, err := compile[linq.Seq[any]](syncOps{}, model, qm, tracking)
	if err != nil {
		return nil, err
	}
	return &Executor{plan: root, shape: qm.OutputShape(), seq: seq, term: term}, nil
}

// CompileAsync compiles a query model into an asynchronous executor.
func CompileAsync(model *metadata.Model, qm *querymodel.QueryModel, tracking bool) (*AsyncExecutor, error) {
	root, seq, term, err := compile[linq.AsyncSeq[any]](asyncOps{}, model, qm, tracking)
	if err != nil {
		return nil, err
	}
	return &AsyncExecutor{plan: root, shape: qm.OutputShape(), seq: seq, term: term}, nil
}

func compile[S any](ops seqOps[S], model *metadata.Model, qm *querymodel.QueryModel, tracking bool) (plan.Node, seqFn[S], termFn, error) {
	root, _, err := compilePlan(model, qm, tracking, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	c := &compiler[S]{ops: ops}
	if qm.OutputShape().Shape == querymodel.ShapeSequence {
		seq, err := c.sequence(root)
		return root, seq, nil, err
	}
	term, err := c.terminal(root)
	return root, nil, term, err
}

// Plan returns the compiled plan.
func (e *Executor) Plan() plan.Node { return e.plan }

// Shape returns the output shape of the query.
func (e *Executor) Shape() querymodel.OutputShape { return e.shape }

// Enumerate returns the results of the query. A scalar query yields its
// single value.
func (e *Executor) Enumerate(qc *QueryContext) linq.Seq[any] {
	if e.term != nil {
		return func(yield func(any, error) bool) {
			v, err := e.term(qc, &scope{})
			yield(v, err)
		}
	}
	return syncOps{}.lazy(func() (linq.Seq[any], error) {
		return e.seq(qc, &scope{})
	})
}

// Run executes the query. Sequences are collected into a []any.
func (e *Executor) Run(qc *QueryContext) (any, error) {
	if e.term != nil {
		return e.term(qc, &scope{})
	}
	return linq.ToSlice(e.Enumerate(qc))
}

// Plan returns the compiled plan.
func (e *AsyncExecutor) Plan() plan.Node { return e.plan }

// Shape returns the output shape of the query.
func (e *AsyncExecutor) Shape() querymodel.OutputShape { return e.shape }

// Enumerate returns the results of the query. A scalar query yields its
// single value.
func (e *AsyncExecutor) Enumerate(qc *QueryContext) linq.AsyncSeq[any] {
	return asyncOps{}.lazy(func() (linq.AsyncSeq[any], error) {
		if e.term != nil {
			v, err := e.term(qc, &scope{})
			if err != nil {
				return nil, err
			}
			return linq.AsyncFromSlice([]any{v}), nil
		}
		return e.seq(qc, &scope{})
	})
}

// Run executes the query with the context of qc. Sequences are collected
// into a []any.
func (e *AsyncExecutor) Run(qc *QueryContext) (any, error) {
	if e.term != nil {
		return e.term(qc, &scope{})
	}
	return linq.ToSliceAsync(e.Enumerate(qc))(qc.ctx)
}
