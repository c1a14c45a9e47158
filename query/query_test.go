package query_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/diagnostics"
	"github.com/syssam/veloxrt/internal/testmodel"
	"github.com/syssam/veloxrt/linq"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/query"
	"github.com/syssam/veloxrt/query/plan"
	qm "github.com/syssam/veloxrt/querymodel"
	"github.com/syssam/veloxrt/storage"
	"github.com/syssam/veloxrt/tracking"
)

func source() *storage.MemorySource {
	return storage.NewMemorySource().
		Add("Blog",
			storage.Row{int64(1), "Go"},
			storage.Row{int64(2), "Rust"},
			storage.Row{int64(3), "Zig"},
		).
		Add("Post",
			storage.Row{int64(10), int64(1), "generics", int64(5)},
			storage.Row{int64(11), int64(1), "iterators", int64(3)},
			storage.Row{int64(12), int64(2), "borrowck", int64(4)},
		)
}

func newProvider(t *testing.T, opts ...query.ProviderOption) (*query.Provider, *metadata.Model) {
	t.Helper()
	m := testmodel.Model()
	return query.NewProvider(m, source(), opts...), m
}

func prop(source, name string) qm.Expr { return qm.Prop(qm.Ref(source), name) }

func execute(t *testing.T, p *query.Provider, model *qm.QueryModel, params map[string]any) []any {
	t.Helper()
	v, err := p.Execute(context.Background(), model, params)
	require.NoError(t, err)
	items, ok := v.([]any)
	require.True(t, ok, "got %T", v)
	return items
}

func titles(t *testing.T, items []any) []string {
	t.Helper()
	out := make([]string, len(items))
	for i, v := range items {
		switch v := v.(type) {
		case *testmodel.Blog:
			out[i] = v.Title
		case *testmodel.Post:
			out[i] = v.Title
		case string:
			out[i] = v
		default:
			t.Fatalf("unexpected element %T", v)
		}
	}
	return out
}

func TestExecuteCollection(t *testing.T) {
	p, _ := newProvider(t)
	tests := []struct {
		name  string
		model *qm.QueryModel
		want  []string
	}{
		{
			name:  "scan",
			model: qm.From("b", "Blog").Model(),
			want:  []string{"Go", "Rust", "Zig"},
		},
		{
			name: "where orderby",
			model: qm.From("b", "Blog").
				Where(qm.GT(prop("b", "ID"), qm.Const(1))).
				OrderBy(prop("b", "Title"), true).
				Model(),
			want: []string{"Zig", "Rust"},
		},
		{
			name: "cross join",
			model: qm.From("b", "Blog").
				FromEntity("p", "Post").
				Where(qm.Eq(prop("p", "BlogID"), prop("b", "ID"))).
				Select(prop("p", "Title")).
				Model(),
			want: []string{"generics", "iterators", "borrowck"},
		},
		{
			name: "join",
			model: qm.From("b", "Blog").
				Join("p", "Post", prop("b", "ID"), prop("p", "BlogID")).
				Where(qm.GTE(qm.Property(qm.Ref("p"), "Rating"), qm.Const(4))).
				Select(prop("p", "Title")).
				Model(),
			want: []string{"generics", "borrowck"},
		},
		{
			name: "exists sub-query",
			model: qm.From("b", "Blog").
				Where(qm.Query(qm.From("p", "Post").
					Where(qm.And(
						qm.Eq(prop("p", "BlogID"), prop("b", "ID")),
						qm.GT(qm.Property(qm.Ref("p"), "Rating"), qm.Const(4)),
					)).
					Any())).
				Select(prop("b", "Title")).
				Model(),
			want: []string{"Go"},
		},
		{
			name: "sub-query source",
			model: qm.FromExpr("x", qm.Query(qm.From("p", "Post").
				Where(qm.GT(prop("p", "ID"), qm.Const(10))).
				Model())).
				Select(prop("x", "Title")).
				Model(),
			want: []string{"iterators", "borrowck"},
		},
		{
			name: "ordered projection",
			model: qm.From("b", "Blog").
				Select(prop("b", "Title")).
				OrderBy(qm.It(), true).
				Ordered().
				Model(),
			want: []string{"Zig", "Rust", "Go"},
		},
		{
			name: "skip take",
			model: qm.From("b", "Blog").
				OrderBy(prop("b", "ID"), false).
				Skip(qm.Param("skip")).
				Take(qm.Param("take")).
				Model(),
			want: []string{"Rust"},
		},
		{
			name: "negative take",
			model: qm.From("b", "Blog").
				Take(qm.Const(-1)).
				Model(),
			want: []string{},
		},
		{
			name: "default if empty",
			model: qm.From("b", "Blog").
				Where(qm.GT(prop("b", "ID"), qm.Const(10))).
				Select(prop("b", "Title")).
				DefaultIfEmpty(qm.Const("none")).
				Model(),
			want: []string{"none"},
		},
		{
			name: "client function",
			model: qm.From("b", "Blog").
				Where(qm.Func("short", func(args ...any) (any, error) {
					return len(args[0].(string)) <= 3, nil
				}, prop("b", "Title"))).
				Model(),
			want: []string{"Go", "Zig"},
		},
	}
	params := map[string]any{"skip": 1, "take": int64(1)}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, titles(t, execute(t, p, tt.model, params)))
		})
	}
}

func TestIdentityResolution(t *testing.T) {
	p, _ := newProvider(t)
	items := execute(t, p, qm.From("p", "Post").
		Join("b", "Blog", prop("p", "BlogID"), prop("b", "ID")).
		Select(qm.NewRecord(qm.F("Post", qm.Ref("p")), qm.F("Blog", qm.Ref("b")))).
		Model(), nil)
	require.Len(t, items, 3)
	first, _ := items[0].(*qm.Record).Get("Blog")
	second, _ := items[1].(*qm.Record).Get("Blog")
	third, _ := items[2].(*qm.Record).Get("Blog")
	assert.Same(t, first, second, "rows of one key materialize one entity")
	assert.NotSame(t, first, third)
	assert.Equal(t, "Go", first.(*testmodel.Blog).Title)
}

func TestGroupJoin(t *testing.T) {
	p, _ := newProvider(t)
	items := execute(t, p, qm.From("b", "Blog").
		GroupJoin("p", "Post", prop("b", "ID"), prop("p", "BlogID"), "ps").
		Select(qm.NewRecord(
			qm.F("Title", prop("b", "Title")),
			qm.F("Posts", qm.Query(qm.FromExpr("x", qm.Ref("ps")).Count())),
		)).
		Model(), nil)
	got := make(map[string]any)
	for _, v := range items {
		rec := v.(*qm.Record)
		title, _ := rec.Get("Title")
		n, _ := rec.Get("Posts")
		got[title.(string)] = n
	}
	assert.Equal(t, map[string]any{"Go": 2, "Rust": 1, "Zig": 0}, got)
}

func TestSubQueryProjection(t *testing.T) {
	p, _ := newProvider(t)
	items := execute(t, p, qm.From("b", "Blog").
		Where(qm.Eq(prop("b", "ID"), qm.Const(1))).
		Select(qm.NewRecord(
			qm.F("Title", prop("b", "Title")),
			qm.F("Posts", qm.Query(qm.From("p", "Post").
				Where(qm.Eq(prop("p", "BlogID"), prop("b", "ID"))).
				Select(prop("p", "Title")).
				Model())),
		)).
		Model(), nil)
	require.Len(t, items, 1)
	posts, ok := items[0].(*qm.Record).Get("Posts")
	require.True(t, ok)
	q, ok := posts.(*query.Queryable)
	require.True(t, ok, "got %T", posts)
	got, err := q.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, []any{"generics", "iterators"}, got)
	again, err := q.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestResultOperators(t *testing.T) {
	p, _ := newProvider(t)
	posts := func() *qm.Builder { return qm.From("p", "Post") }
	ids := func() *qm.Builder { return posts().Select(prop("p", "ID")) }
	tests := []struct {
		name  string
		model *qm.QueryModel
		want  any
	}{
		{"count", posts().Count(), 3},
		{"long count", posts().LongCount(), int64(3)},
		{"any", posts().Where(qm.GT(prop("p", "ID"), qm.Const(11))).Any(), true},
		{"any empty", posts().Where(qm.GT(prop("p", "ID"), qm.Const(99))).Any(), false},
		{"all", posts().All(qm.GT(prop("p", "ID"), qm.Const(9))), true},
		{"all item", posts().All(qm.LT(qm.Prop(qm.It(), "ID"), qm.Const(12))), false},
		{"sum", ids().Sum(), 33},
		{"sum expression", posts().Select(qm.Add(prop("p", "ID"), qm.Const(1))).Sum(), int64(36)},
		{"min", ids().Min(), 10},
		{"max string", posts().Select(prop("p", "Title")).Max(), "iterators"},
		{"average", ids().Average(), 11.0},
		{"first", posts().OrderBy(prop("p", "ID"), true).Select(prop("p", "Title")).First(false), "borrowck"},
		{"first or default", posts().Where(qm.GT(prop("p", "ID"), qm.Const(99))).First(true), nil},
		{"last", ids().Last(false), 12},
		{"single", ids().Where(qm.Eq(prop("p", "ID"), qm.Const(11))).Single(false), 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Execute(context.Background(), tt.model, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResultOperatorErrors(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()

	_, err := p.ExecuteSingle(ctx, qm.From("p", "Post").Single(false), nil)
	assert.True(t, veloxrt.IsNotSingular(err))
	assert.True(t, veloxrt.IsQueryError(err))

	_, err = p.ExecuteSingle(ctx, qm.From("p", "Post").Where(qm.GT(prop("p", "ID"), qm.Const(99))).First(false), nil)
	assert.ErrorIs(t, err, veloxrt.ErrEmptySequence)

	_, err = p.ExecuteScalar(ctx, qm.From("p", "Post").Where(qm.GT(prop("p", "ID"), qm.Const(99))).Select(prop("p", "ID")).Min(), nil)
	assert.ErrorIs(t, err, veloxrt.ErrEmptySequence)

	_, err = p.ExecuteScalar(ctx, qm.From("p", "Post").Model(), nil)
	assert.Error(t, err)

	_, err = p.Execute(ctx, qm.From("p", "Post").Take(qm.Param("n")).Model(), nil)
	assert.True(t, veloxrt.IsQueryError(err), "missing parameters fail the execution")
}

func TestAggregateSelection(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()
	tests := []struct {
		model *qm.QueryModel
		label string
	}{
		{qm.From("p", "Post").Select(prop("p", "ID")).Sum(), "Sum[int]"},
		{qm.From("p", "Post").Select(qm.Const(1.5)).Average(), "Average[float64]"},
		{qm.From("p", "Post").Select(qm.Add(prop("p", "ID"), qm.Const(1))).Max(), "Max[any]"},
	}
	for _, tt := range tests {
		e, err := p.Compile(ctx, tt.model)
		require.NoError(t, err)
		assert.Equal(t, tt.label, plan.Label(e.Plan()))
	}
}

func TestDistinctAndGroup(t *testing.T) {
	p, _ := newProvider(t)
	items := execute(t, p, qm.From("p", "Post").Select(prop("p", "BlogID")).Distinct().Model(), nil)
	assert.Equal(t, []any{1, 2}, items)

	items = execute(t, p, qm.From("p", "Post").GroupBy(prop("p", "BlogID"), prop("p", "Title")).Model(), nil)
	require.Len(t, items, 2)
	g := items[0].(*query.Grouping)
	assert.Equal(t, 1, g.Key)
	assert.Equal(t, []any{"generics", "iterators"}, g.Items)
	g = items[1].(*query.Grouping)
	assert.Equal(t, 2, g.Key)
	assert.Equal(t, []any{"borrowck"}, g.Items)

	items = execute(t, p, qm.From("p", "Post").GroupBy(qm.Property(qm.Ref("p"), "Rating"), nil).Model(), nil)
	require.Len(t, items, 3)
	g = items[2].(*query.Grouping)
	assert.Equal(t, 4, g.Key)
	assert.Equal(t, "borrowck", g.Items[0].(*testmodel.Post).Title)
}

func TestInclude(t *testing.T) {
	p, _ := newProvider(t)
	t.Run("collection", func(t *testing.T) {
		items := execute(t, p, qm.From("b", "Blog").
			Where(qm.Eq(prop("b", "ID"), qm.Const(1))).
			Include("Posts").
			Model(), nil)
		require.Len(t, items, 1)
		blog := items[0].(*testmodel.Blog)
		require.Len(t, blog.Posts, 2)
		assert.Equal(t, "generics", blog.Posts[0].Title)
		for _, post := range blog.Posts {
			assert.Same(t, blog, post.Blog, "inverse navigation is fixed up")
		}
	})
	t.Run("reference", func(t *testing.T) {
		items := execute(t, p, qm.From("p", "Post").Include("Blog").Model(), nil)
		require.Len(t, items, 3)
		posts := make([]*testmodel.Post, len(items))
		for i, v := range items {
			posts[i] = v.(*testmodel.Post)
			require.NotNil(t, posts[i].Blog)
		}
		assert.Same(t, posts[0].Blog, posts[1].Blog)
		assert.Equal(t, "Rust", posts[2].Blog.Title)
		assert.Len(t, posts[0].Blog.Posts, 2)
	})
	t.Run("path", func(t *testing.T) {
		items := execute(t, p, qm.From("p", "Post").
			Where(qm.Eq(prop("p", "ID"), qm.Const(12))).
			Include("Blog", "Posts").
			Model(), nil)
		require.Len(t, items, 1)
		post := items[0].(*testmodel.Post)
		require.Len(t, post.Blog.Posts, 1)
		assert.Same(t, post, post.Blog.Posts[0])
	})
	t.Run("no match", func(t *testing.T) {
		items := execute(t, p, qm.From("b", "Blog").
			Where(qm.Eq(prop("b", "ID"), qm.Const(3))).
			Include("Posts").
			Model(), nil)
		require.Len(t, items, 1)
		assert.Empty(t, items[0].(*testmodel.Blog).Posts)
	})
}

func TestBindingErrors(t *testing.T) {
	p, _ := newProvider(t)
	tests := []struct {
		name  string
		model *qm.QueryModel
	}{
		{"unknown entity", qm.From("x", "Nope").Model()},
		{"unknown source", qm.From("b", "Blog").Where(qm.Eq(prop("x", "ID"), qm.Const(1))).Model()},
		{"unknown property", qm.From("b", "Blog").Select(prop("b", "Name")).Model()},
		{"navigation member", qm.From("p", "Post").Select(prop("p", "Blog")).Model()},
		{"shadow member", qm.From("p", "Post").Select(prop("p", "Rating")).Model()},
		{"item before projection", qm.From("p", "Post").Where(qm.Prop(qm.It(), "ID")).Model()},
		{"unknown navigation", qm.From("p", "Post").Include("Author").Model()},
		{"include on values", qm.From("p", "Post").Select(prop("p", "Title")).Include("Blog").Model()},
		{"join inner key outer source", qm.From("b", "Blog").Join("p", "Post", prop("b", "ID"), prop("b", "ID")).Model()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Compile(context.Background(), tt.model)
			require.Error(t, err)
			assert.True(t, veloxrt.IsBindingError(err), "got %v", err)
		})
	}
}

type fakeOperator struct{ qm.Count }

func (fakeOperator) Kind() qm.OperatorKind { return qm.OperatorKind(99) }

func TestUnsupportedOperator(t *testing.T) {
	p, _ := newProvider(t)
	_, err := p.Compile(context.Background(), qm.From("p", "Post").Apply(&fakeOperator{}).Model())
	require.Error(t, err)
	assert.True(t, veloxrt.IsUnsupportedOperator(err))

	_, err = p.Compile(context.Background(), qm.From("p", "Post").Apply(&qm.Count{}).Take(qm.Const(1)).Model())
	assert.Error(t, err, "sequence operators cannot follow a scalar")
}

func TestTracking(t *testing.T) {
	m := testmodel.Model()
	sm := tracking.NewStateManager(m)
	p := query.NewProvider(m, source(), query.WithStateManager(sm))
	ctx := context.Background()

	blogs, err := query.ToSlice[*testmodel.Blog](p.ExecuteCollection(ctx, qm.From("b", "Blog").Model(), nil))
	require.NoError(t, err)
	require.Len(t, blogs, 3)
	assert.Len(t, sm.Entries(), 3)
	for _, b := range blogs {
		e, ok := sm.Entry(b)
		require.True(t, ok)
		assert.Equal(t, veloxrt.Unchanged, e.State())
	}

	blogs[0].Title = "Golang"
	again, err := query.ToSlice[*testmodel.Blog](p.ExecuteCollection(ctx, qm.From("b", "Blog").Model(), nil))
	require.NoError(t, err)
	assert.Same(t, blogs[0], again[0], "tracked entities are returned again")
	assert.Equal(t, "Golang", again[0].Title, "client changes are kept")

	_, err = p.Execute(ctx, qm.From("p", "Post").AsNoTracking().Model(), nil)
	require.NoError(t, err)
	assert.Len(t, sm.Entries(), 3, "no-tracking queries attach nothing")

	posts, err := query.ToSlice[*testmodel.Post](p.ExecuteCollection(ctx, qm.From("p", "Post").Include("Blog").Model(), nil))
	require.NoError(t, err)
	assert.Len(t, sm.Entries(), 6)
	assert.Same(t, blogs[0], posts[0].Blog)
	e, ok := sm.Entry(posts[0])
	require.True(t, ok)
	assert.Equal(t, 5, e.CurrentValue(m.FindEntityType("Post").FindProperty("Rating")))

	items := execute(t, p, qm.From("p", "Post").
		Where(qm.GT(qm.Property(qm.Ref("p"), "Rating"), qm.Const(3))).
		Select(qm.Property(qm.Ref("p"), "Rating")).
		Model(), nil)
	assert.Equal(t, []any{5, 4}, items)
}

func TestSyncAsyncEquivalence(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()
	models := []*qm.QueryModel{
		qm.From("b", "Blog").OrderBy(prop("b", "Title"), true).Select(prop("b", "Title")).Model(),
		qm.From("b", "Blog").
			Join("p", "Post", prop("b", "ID"), prop("p", "BlogID")).
			Select(qm.NewRecord(qm.F("Blog", prop("b", "Title")), qm.F("Post", prop("p", "Title")))).
			Model(),
		qm.From("b", "Blog").
			GroupJoin("p", "Post", prop("b", "ID"), prop("p", "BlogID"), "ps").
			Select(qm.NewRecord(qm.F("Title", prop("b", "Title")), qm.F("Posts", qm.Query(qm.FromExpr("x", qm.Ref("ps")).Count())))).
			Model(),
		qm.From("p", "Post").Select(prop("p", "BlogID")).Distinct().Skip(qm.Const(1)).Model(),
		qm.From("p", "Post").Select(prop("p", "ID")).Sum(),
		qm.From("p", "Post").Where(qm.GT(prop("p", "ID"), qm.Const(10))).Count(),
		qm.From("p", "Post").OrderBy(prop("p", "ID"), true).Select(prop("p", "Title")).First(false),
	}
	for _, model := range models {
		t.Run(model.String(), func(t *testing.T) {
			want, err := p.Execute(ctx, model, nil)
			require.NoError(t, err)
			got, err := linq.Block(ctx, p.ExecuteAsync(model, nil))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	model := qm.From("b", "Blog").Select(prop("b", "Title")).Model()
	got, err := query.ToSliceAsync[string](p.ExecuteCollectionAsync(model, nil))(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "Rust", "Zig"}, got)
}

func TestCancellation(t *testing.T) {
	p, _ := newProvider(t)
	model := qm.From("b", "Blog").Model()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Execute(ctx, model, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, veloxrt.IsQueryError(err))

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	e := p.ExecuteCollectionAsync(model, nil)()
	ok, err := e.MoveNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	cancel()
	ok, err = e.MoveNext(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, e.Close())
}

func TestErrorTranslation(t *testing.T) {
	m := testmodel.Model()
	ctx := context.Background()
	errBoom := errors.New("boom")

	p := query.NewProvider(m, source())
	_, err := p.Execute(ctx, qm.From("b", "Blog").
		Select(qm.Func("fail", func(...any) (any, error) { return nil, errBoom }, prop("b", "ID"))).
		Model(), nil)
	assert.True(t, veloxrt.IsQueryError(err))
	assert.ErrorIs(t, err, errBoom)

	failing := storage.SourceFunc(func(context.Context, *metadata.EntityType) (storage.Rows, error) {
		return nil, veloxrt.NewStoreError("select", errBoom)
	})
	p = query.NewProvider(m, failing)
	for _, err := range p.ExecuteCollection(ctx, qm.From("b", "Blog").Model(), nil) {
		require.Error(t, err)
		assert.True(t, veloxrt.IsStoreError(err))
		assert.False(t, veloxrt.IsQueryError(err), "store errors pass through")
	}
}

func TestPlanCache(t *testing.T) {
	var compiled []diagnostics.Event
	emitter := diagnostics.NewEmitter([]diagnostics.Listener{
		diagnostics.ListenerFunc(func(_ context.Context, e diagnostics.Event) {
			compiled = append(compiled, e)
		}),
	})
	cache := query.NewPlanCache(8)
	p, _ := newProvider(t, query.WithPlanCache(cache), query.WithEmitter(emitter))
	ctx := context.Background()
	build := func() *qm.QueryModel {
		return qm.From("b", "Blog").Where(qm.GT(prop("b", "ID"), qm.Param("min"))).Model()
	}

	first, err := p.Compile(ctx, build())
	require.NoError(t, err)
	second, err := p.Compile(ctx, build())
	require.NoError(t, err)
	assert.Same(t, first, second)
	_, err = p.CompileAsync(ctx, build())
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())

	require.Len(t, compiled, 2)
	assert.Equal(t, diagnostics.QueryCompiled, compiled[0].Kind)
	assert.True(t, strings.Contains(compiled[0].Query, "Scan b: Blog"), compiled[0].Query)

	items := execute(t, p, build(), map[string]any{"min": 2})
	assert.Equal(t, []string{"Zig"}, titles(t, items))
}

type denyPolicy struct{}

var errDenied = errors.New("denied")

func (denyPolicy) EvalQuery(context.Context, veloxrt.Query) error { return errDenied }

func (denyPolicy) EvalMutation(context.Context, veloxrt.Mutation) error { return nil }

func TestPolicy(t *testing.T) {
	p, _ := newProvider(t, query.WithPolicy(denyPolicy{}))
	_, err := p.Execute(context.Background(), qm.From("b", "Blog").Model(), nil)
	assert.ErrorIs(t, err, errDenied)
	assert.True(t, veloxrt.IsPrivacyError(err))
}

func TestScalar(t *testing.T) {
	p, _ := newProvider(t)
	n, err := query.Scalar[int64](p.Execute(context.Background(), qm.From("b", "Blog").Count(), nil))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
