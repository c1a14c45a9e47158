package query

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"reflect"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/diagnostics"
	"github.com/syssam/veloxrt/linq"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/query/plan"
	"github.com/syssam/veloxrt/querymodel"
	"github.com/syssam/veloxrt/storage"
	"github.com/syssam/veloxrt/tracking"
)

// Provider compiles and executes query models against a row source.
// Compiled executors are cached by the canonical text of the model.
type Provider struct {
	model    *metadata.Model
	source   storage.Source
	sm       *tracking.StateManager
	cache    veloxrt.PlanCache
	group    singleflight.Group
	emitter  *diagnostics.Emitter
	policy   veloxrt.Policy
	logger   *slog.Logger
	tracking bool
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithStateManager resolves identities against sm and tracks results in
// it.
func WithStateManager(sm *tracking.StateManager) ProviderOption {
	return func(p *Provider) { p.sm = sm }
}

// WithPlanCache sets the compiled query cache. A nil cache disables
// caching.
func WithPlanCache(c veloxrt.PlanCache) ProviderOption {
	return func(p *Provider) { p.cache = c }
}

// WithEmitter sets the diagnostics emitter.
func WithEmitter(e *diagnostics.Emitter) ProviderOption {
	return func(p *Provider) { p.emitter = e }
}

// WithPolicy sets the policy evaluated before a query is compiled.
func WithPolicy(policy veloxrt.Policy) ProviderOption {
	return func(p *Provider) { p.policy = policy }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// WithTracking sets whether query results are tracked by default.
func WithTracking(enabled bool) ProviderOption {
	return func(p *Provider) { p.tracking = enabled }
}

// NewProvider returns a provider reading rows of model entities from
// source.
func NewProvider(model *metadata.Model, source storage.Source, opts ...ProviderOption) *Provider {
	p := &Provider{
		model:    model,
		source:   source,
		cache:    NewPlanCache(DefaultCacheSize),
		logger:   slog.Default(),
		tracking: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) tracks() bool {
	return p.tracking && p.sm != nil
}

// Compile returns the synchronous executor of qm.
func (p *Provider) Compile(ctx context.Context, qm *querymodel.QueryModel) (*Executor, error) {
	v, err := p.compile(ctx, qm, false, func(tracking bool) (any, plan.Node, error) {
		e, err := Compile(p.model, qm, tracking)
		if err != nil {
			return nil, nil, err
		}
		return e, e.plan, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Executor), nil
}

// CompileAsync returns the asynchronous executor of qm.
func (p *Provider) CompileAsync(ctx context.Context, qm *querymodel.QueryModel) (*AsyncExecutor, error) {
	v, err := p.compile(ctx, qm, true, func(tracking bool) (any, plan.Node, error) {
		e, err := CompileAsync(p.model, qm, tracking)
		if err != nil {
			return nil, nil, err
		}
		return e, e.plan, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*AsyncExecutor), nil
}

func (p *Provider) compile(ctx context.Context, qm *querymodel.QueryModel, async bool, build func(bool) (any, plan.Node, error)) (any, error) {
	if qm == nil {
		return nil, errors.New("query: nil query model")
	}
	if p.policy != nil {
		if err := p.policy.EvalQuery(ctx, qm); err != nil {
			return nil, veloxrt.NewPrivacyError(strings.Join(qm.EntityTypes(), ","), "query", err)
		}
	}
	text := qm.String()
	key := veloxrt.NewCacheKey(text, async, p.tracks())
	if p.cache != nil {
		if e, ok := p.cache.Get(key); ok {
			return e, nil
		}
	}
	v, err, _ := p.group.Do(key.String(), func() (any, error) {
		if p.cache != nil {
			if e, ok := p.cache.Get(key); ok {
				return e, nil
			}
		}
		start := p.emitter.Now()
		e, root, err := build(p.tracks())
		if err != nil {
			return nil, err
		}
		printed := plan.Format(root)
		p.logger.DebugContext(ctx, "query compiled", "query", text, "async", async, "plan", printed)
		p.emitter.Emit(ctx, diagnostics.Event{
			Kind:     diagnostics.QueryCompiled,
			ID:       p.emitter.NextID(),
			Duration: p.emitter.Now().Sub(start),
			Query:    printed,
		})
		if p.cache != nil {
			p.cache.Add(key, e)
		}
		return e, nil
	})
	return v, err
}

// newContext returns the context of one execution with a fresh buffer.
func (p *Provider) newContext(ctx context.Context, params map[string]any) *QueryContext {
	return NewQueryContext(ctx, p.source, NewQueryBuffer(p.sm), params)
}

// Execute runs qm and returns its result: a []any for sequences, the
// value otherwise.
func (p *Provider) Execute(ctx context.Context, qm *querymodel.QueryModel, params map[string]any) (any, error) {
	e, err := p.Compile(ctx, qm)
	if err != nil {
		return nil, err
	}
	v, err := e.Run(p.newContext(ctx, params))
	return v, translate(qm, err)
}

// ExecuteScalar runs a query ending in a scalar result operator.
func (p *Provider) ExecuteScalar(ctx context.Context, qm *querymodel.QueryModel, params map[string]any) (any, error) {
	if s := qm.OutputShape().Shape; s != querymodel.ShapeScalar {
		return nil, fmt.Errorf("query: ExecuteScalar on a %s query", s)
	}
	return p.Execute(ctx, qm, params)
}

// ExecuteSingle runs a query ending in First, Last or Single. Empty
// results are nil for the OrDefault forms and ErrEmptySequence
// otherwise.
func (p *Provider) ExecuteSingle(ctx context.Context, qm *querymodel.QueryModel, params map[string]any) (any, error) {
	if s := qm.OutputShape().Shape; s != querymodel.ShapeSingle {
		return nil, fmt.Errorf("query: ExecuteSingle on a %s query", s)
	}
	return p.Execute(ctx, qm, params)
}

// ExecuteCollection returns the results of qm. Every range over the
// sequence executes the query again.
func (p *Provider) ExecuteCollection(ctx context.Context, qm *querymodel.QueryModel, params map[string]any) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		e, err := p.Compile(ctx, qm)
		if err != nil {
			yield(nil, err)
			return
		}
		for v, err := range e.Enumerate(p.newContext(ctx, params)) {
			if err != nil {
				yield(nil, translate(qm, err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// ExecuteCollectionAsync returns the results of qm as an asynchronous
// sequence. Every enumerator executes the query again with the context
// of its first MoveNext.
func (p *Provider) ExecuteCollectionAsync(qm *querymodel.QueryModel, params map[string]any) linq.AsyncSeq[any] {
	return linq.AsyncFunc(func() (func(context.Context) (any, bool, error), func() error) {
		var en linq.AsyncEnumerator[any]
		return func(ctx context.Context) (any, bool, error) {
				if en == nil {
					e, err := p.CompileAsync(ctx, qm)
					if err != nil {
						return nil, false, err
					}
					en = e.Enumerate(p.newContext(ctx, params))()
				}
				ok, err := en.MoveNext(ctx)
				if err != nil || !ok {
					return nil, false, translate(qm, err)
				}
				return en.Current(), true, nil
			}, func() error {
				if en == nil {
					return nil
				}
				return en.Close()
			}
	})
}

// ExecuteAsync returns a task running qm asynchronously.
func (p *Provider) ExecuteAsync(qm *querymodel.QueryModel, params map[string]any) linq.Task[any] {
	return func(ctx context.Context) (any, error) {
		e, err := p.CompileAsync(ctx, qm)
		if err != nil {
			return nil, err
		}
		v, err := e.Run(p.newContext(ctx, params))
		return v, translate(qm, err)
	}
}

// translate wraps errors raised while iterating. Store errors,
// cancellation and already wrapped errors pass through.
func translate(qm *querymodel.QueryModel, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case veloxrt.IsStoreError(err), veloxrt.IsQueryError(err):
		return err
	}
	entity := ""
	if qm.MainFrom != nil {
		entity = qm.MainFrom.Entity
		if entity == "" {
			entity = qm.MainFrom.Name
		}
	}
	return veloxrt.NewQueryError(entity, "iterate", err)
}

// ToSlice collects a result sequence into a []T.
func ToSlice[T any](seq iter.Seq2[any, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		t, err := as[T](v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ToSliceAsync returns a task collecting a result sequence into a []T.
func ToSliceAsync[T any](seq linq.AsyncSeq[any]) linq.Task[[]T] {
	return func(ctx context.Context) ([]T, error) {
		var out []T
		err := linq.ForEachAsync(seq, func(v any) (bool, error) {
			t, err := as[T](v)
			if err != nil {
				return false, err
			}
			out = append(out, t)
			return true, nil
		})(ctx)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Scalar converts the result of Execute to T. nil is the zero value.
func Scalar[T any](v any, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	return as[T](v)
}

func as[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	rv, err := metadata.Convert(v, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	return rv.Interface().(T), nil
}
