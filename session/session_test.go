package session_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/config"
	"github.com/syssam/veloxrt/dialect"
	"github.com/syssam/veloxrt/dialect/sql"
	"github.com/syssam/veloxrt/internal/testmodel"
	"github.com/syssam/veloxrt/privacy"
	qm "github.com/syssam/veloxrt/querymodel"
	"github.com/syssam/veloxrt/session"
	"github.com/syssam/veloxrt/storage"
)

func quiet() session.Option {
	return session.WithLogger(slog.New(slog.DiscardHandler))
}

func newMockSession(t *testing.T, opts ...session.Option) (*session.Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	drv := sql.OpenDB(dialect.SQLite, db)
	s, err := session.New(testmodel.Model(), append([]session.Option{session.WithDriver(drv), quiet()}, opts...)...)
	require.NoError(t, err)
	return s, mock
}

func memorySession(t *testing.T) *session.Session {
	t.Helper()
	src := storage.NewMemorySource().
		Add("Blog",
			storage.Row{int64(1), "Go"},
			storage.Row{int64(2), "Rust"},
			storage.Row{int64(3), "Zig"},
		).
		Add("Post",
			storage.Row{int64(10), int64(1), "generics", int64(5)},
		)
	s, err := session.New(testmodel.Model(), session.WithSource(src), quiet())
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	t.Run("requires a model", func(t *testing.T) {
		_, err := session.New(nil, session.WithSource(storage.NewMemorySource()), quiet())
		assert.True(t, veloxrt.IsValidationError(err))
	})
	t.Run("requires a driver or a source", func(t *testing.T) {
		_, err := session.New(testmodel.Model(), quiet())
		require.Error(t, err)
	})
	t.Run("invalid options", func(t *testing.T) {
		opts := config.Default()
		opts.MaxBatchSize = 0
		_, err := session.New(testmodel.Model(), session.WithSource(storage.NewMemorySource()), session.WithOptions(opts))
		var verr *config.ValidationError
		require.ErrorAs(t, err, &verr)
	})
	t.Run("metrics", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := session.New(testmodel.Model(), session.WithSource(storage.NewMemorySource()), session.WithMetrics(reg), quiet())
		require.NoError(t, err)
		_, err = session.New(testmodel.Model(), session.WithSource(storage.NewMemorySource()), session.WithMetrics(reg), quiet())
		require.Error(t, err, "collectors are registered once per registry")
	})
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	s := memorySession(t)

	v, err := s.Find(ctx, "Blog", 2)
	require.NoError(t, err)
	blog := v.(*testmodel.Blog)
	assert.Equal(t, "Rust", blog.Title)
	e, ok := s.Entry(blog)
	require.True(t, ok)
	assert.Equal(t, veloxrt.Unchanged, e.State())

	again, err := s.Find(ctx, "Blog", int64(2))
	require.NoError(t, err)
	assert.Same(t, blog, again)

	items, err := session.ToSlice[*testmodel.Blog](ctx, s, qm.From("b", "Blog").Model(), nil)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Same(t, blog, items[1], "queries resolve to the found instance")

	missing, err := s.Find(ctx, "Blog", 42)
	require.NoError(t, err)
	assert.Nil(t, missing)
	_, err = s.Get(ctx, "Blog", 42)
	require.True(t, veloxrt.IsNotFound(err))
	assert.EqualError(t, err, "veloxrt: Blog not found (id=42)")
	got, err := s.Get(ctx, "Blog", 2)
	require.NoError(t, err)
	assert.Same(t, blog, got)

	_, err = s.Find(ctx, "Author", 1)
	var berr *veloxrt.BindingError
	assert.ErrorAs(t, err, &berr)
}

func TestFindMany(t *testing.T) {
	ctx := context.Background()
	s := memorySession(t)

	values, err := s.FindMany(ctx, "Blog", 3, 1, 9, 3)
	require.NoError(t, err)
	require.Len(t, values, 4)
	assert.Equal(t, "Zig", values[0].(*testmodel.Blog).Title)
	assert.Equal(t, "Go", values[1].(*testmodel.Blog).Title)
	assert.Nil(t, values[2])
	assert.Same(t, values[0], values[3])

	post, err := s.Find(ctx, "Post", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, post.(*testmodel.Post).BlogID)

	t.Run("tracked key", func(t *testing.T) {
		s := memorySession(t)
		blog := &testmodel.Blog{ID: 2, Title: "Rust"}
		require.NoError(t, s.Attach(blog))
		blog.ID = 7
		values, err := s.FindMany(ctx, "Blog", 2, 1)
		require.NoError(t, err)
		require.Len(t, values, 2)
		assert.Same(t, blog, values[0], "tracked entities are matched by their tracked key")
		assert.Equal(t, "Go", values[1].(*testmodel.Blog).Title)
	})
}

func TestSaveChangesInsert(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockSession(t)
	blog := &testmodel.Blog{Title: "go"}
	require.NoError(t, s.Add(blog))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO blogs (title) VALUES (?) RETURNING id")).
		WithArgs("go").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	n, err := s.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 42, blog.ID)
	e, _ := s.Entry(blog)
	assert.Equal(t, veloxrt.Unchanged, e.State())
	assert.False(t, e.HasTemporaryKey())

	found, err := s.Find(ctx, "Blog", 42)
	require.NoError(t, err)
	assert.Same(t, blog, found, "saved entities are found without a query")

	n, err = s.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChangesAsync(t *testing.T) {
	s, mock := newMockSession(t)
	require.NoError(t, s.Add(&testmodel.Alpha{ID: 1}))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO A (id) VALUES (?)")).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := s.SaveChangesAsync()(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChangesRollback(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk I/O error")

	t.Run("rolled back", func(t *testing.T) {
		s, mock := newMockSession(t)
		blog := &testmodel.Blog{Title: "go"}
		require.NoError(t, s.Add(blog))
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO blogs").WillReturnError(boom)
		mock.ExpectRollback()

		_, err := s.SaveChanges(ctx)
		require.ErrorIs(t, err, boom)
		e, _ := s.Entry(blog)
		assert.Equal(t, veloxrt.Added, e.State(), "entries keep their state")
		assert.True(t, e.HasTemporaryKey())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback failed", func(t *testing.T) {
		s, mock := newMockSession(t)
		require.NoError(t, s.Add(&testmodel.Blog{Title: "go"}))
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO blogs").WillReturnError(boom)
		mock.ExpectRollback().WillReturnError(errors.New("connection reset"))

		_, err := s.SaveChanges(ctx)
		require.ErrorIs(t, err, boom)
		var rerr *veloxrt.RollbackError
		require.ErrorAs(t, err, &rerr)
		assert.Contains(t, rerr.Error(), "connection reset")
	})

	t.Run("begin failed", func(t *testing.T) {
		s, mock := newMockSession(t)
		require.NoError(t, s.Add(&testmodel.Blog{Title: "go"}))
		mock.ExpectBegin().WillReturnError(boom)

		_, err := s.SaveChanges(ctx)
		require.ErrorIs(t, err, boom)
	})
}

func TestSaveChangesPolicy(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockSession(t, session.WithPolicy(privacy.Policy{
		Mutation: privacy.MutationPolicy{privacy.DenyMutationOperationRule(veloxrt.Deleted)},
	}))
	blog := &testmodel.Blog{ID: 1, Title: "go"}
	require.NoError(t, s.Attach(blog))
	require.NoError(t, s.Remove(blog))

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.SaveChanges(ctx)
	require.ErrorIs(t, err, privacy.Deny)
	assert.True(t, veloxrt.IsPrivacyError(err))
	assert.Contains(t, err.Error(), "delete of Blog is not allowed")
	e, _ := s.Entry(blog)
	assert.Equal(t, veloxrt.Deleted, e.State())
	require.NoError(t, mock.ExpectationsWereMet())

	t.Run("allowed by context", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM blogs WHERE (id = ?)")).
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		n, err := s.SaveChanges(privacy.DecisionContext(ctx, privacy.Allow))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		_, tracked := s.Entry(blog)
		assert.False(t, tracked, "deleted entities are detached")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithoutDriver(t *testing.T) {
	s := memorySession(t)
	require.NoError(t, s.Add(&testmodel.Blog{Title: "go"}))
	_, err := s.SaveChanges(context.Background())
	require.Error(t, err)
	_, err = s.ValidateSchema(context.Background())
	require.Error(t, err)
	require.Error(t, s.CreateSchema(context.Background()))
}

func TestSQLite(t *testing.T) {
	ctx := context.Background()
	model := testmodel.Model()
	s, err := session.Open(model, "file:"+filepath.Join(t.TempDir(), "blog.db"), quiet())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.CreateSchema(ctx))
	result, err := s.ValidateSchema(ctx)
	require.NoError(t, err)
	require.False(t, result.HasErrors(), result.String())

	blog := &testmodel.Blog{Title: "Go"}
	post := &testmodel.Post{Title: "generics", Blog: blog}
	blog.Posts = []*testmodel.Post{post}
	require.NoError(t, s.Add(post))
	require.NoError(t, s.Add(blog))
	n, err := s.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NotZero(t, blog.ID)
	require.NotZero(t, post.ID)
	assert.Equal(t, blog.ID, post.BlogID, "the generated key is propagated to the dependent")

	// A fresh session reads the saved graph back.
	s2, err := session.New(model, session.WithDriver(s.Driver()), quiet())
	require.NoError(t, err)
	blogs, err := session.ToSlice[*testmodel.Blog](ctx, s2, qm.From("b", "Blog").Include("Posts").Model(), nil)
	require.NoError(t, err)
	require.Len(t, blogs, 1)
	loaded := blogs[0]
	assert.NotSame(t, blog, loaded)
	assert.Equal(t, "Go", loaded.Title)
	require.Len(t, loaded.Posts, 1)
	assert.Equal(t, "generics", loaded.Posts[0].Title)
	assert.Same(t, loaded, loaded.Posts[0].Blog)

	found, err := s2.Find(ctx, "Post", post.ID)
	require.NoError(t, err)
	assert.Same(t, loaded.Posts[0], found)

	loaded.Title = "Go 1.24"
	require.NoError(t, s2.Remove(loaded.Posts[0]))
	n, err = s2.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := session.Scalar[int](ctx, s2, qm.From("p", "Post").Count(), nil)
	require.NoError(t, err)
	assert.Zero(t, count)
	title, err := session.Scalar[string](ctx, s2, qm.From("b", "Blog").Select(qm.Prop(qm.Ref("b"), "Title")).First(false), nil)
	require.NoError(t, err)
	assert.Equal(t, "Go 1.24", title)

	gone, err := s2.Find(ctx, "Post", post.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
