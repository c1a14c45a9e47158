package query_test

import (
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/internal/testmodel"
	"github.com/syssam/veloxrt/query"
	"github.com/syssam/veloxrt/storage"
	"github.com/syssam/veloxrt/tracking"
)

func rows(rs ...storage.Row) iter.Seq2[storage.ValueReader, error] {
	return func(yield func(storage.ValueReader, error) bool) {
		for _, r := range rs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func TestQueryBufferGetEntity(t *testing.T) {
	m := testmodel.Model()
	blog := m.FindEntityType("Blog")
	b := query.NewQueryBuffer(nil)

	first, err := b.GetEntity(blog, storage.Row{int64(1), "Go"})
	require.NoError(t, err)
	second, err := b.GetEntity(blog, storage.Row{int32(1), "stale"})
	require.NoError(t, err)
	assert.Same(t, first, second, "one instance per key")
	assert.Equal(t, "Go", first.(*testmodel.Blog).Title)

	other, err := b.GetEntity(blog, storage.Row{int64(2), "Rust"})
	require.NoError(t, err)
	assert.NotSame(t, first, other)

	_, err = b.GetEntity(blog, storage.Row{nil, "null"})
	assert.True(t, veloxrt.IsNullKey(err))
}

func TestQueryBufferPropertyValues(t *testing.T) {
	m := testmodel.Model()
	post := m.FindEntityType("Post")
	rating := post.FindProperty("Rating")
	sm := tracking.NewStateManager(m)
	b := query.NewQueryBuffer(sm)

	p, err := b.GetEntity(post, storage.Row{int64(1), int64(1), "hello", int64(7)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.GetPropertyValue(p, rating), "untracked entities read the buffered row")

	tracked, err := b.StartTracking(p)
	require.NoError(t, err)
	assert.Same(t, p, tracked)
	_, err = b.StartTracking(p)
	require.NoError(t, err)
	assert.Len(t, sm.Entries(), 1, "StartTracking is idempotent")

	e, ok := sm.Entry(p)
	require.True(t, ok)
	require.NoError(t, e.SetCurrentValue(rating, 9))
	assert.Equal(t, 9, b.GetPropertyValue(p, rating), "tracked entities read the entry")

	again, err := query.NewQueryBuffer(sm).GetEntity(post, storage.Row{int64(1), int64(1), "other", int64(0)})
	require.NoError(t, err)
	assert.Same(t, p, again, "tracked entities win over new rows")
}

func TestQueryBufferInclude(t *testing.T) {
	m := testmodel.Model()
	blogs, posts := m.FindEntityType("Blog"), m.FindEntityType("Post")

	t.Run("collection", func(t *testing.T) {
		b := query.NewQueryBuffer(nil)
		v, err := b.GetEntity(blogs, storage.Row{int64(1), "Go"})
		require.NoError(t, err)
		blog := v.(*testmodel.Blog)
		nav := blogs.FindNavigation("Posts")
		related := rows(
			storage.Row{int64(10), int64(1), "a", nil},
			storage.Row{int64(11), int64(2), "b", nil},
			storage.Row{int64(12), int64(1), "c", nil},
		)
		require.NoError(t, b.Include(blog, nav, related))
		require.Len(t, blog.Posts, 2)
		assert.Equal(t, "a", blog.Posts[0].Title)
		assert.Equal(t, "c", blog.Posts[1].Title)
		assert.Same(t, blog, blog.Posts[1].Blog)

		require.NoError(t, b.Include(blog, nav, related))
		assert.Len(t, blog.Posts, 2, "including twice does not duplicate")
	})

	t.Run("reference takes the first match", func(t *testing.T) {
		b := query.NewQueryBuffer(nil)
		v, err := b.GetEntity(posts, storage.Row{int64(10), int64(1), "a", nil})
		require.NoError(t, err)
		post := v.(*testmodel.Post)
		related := rows(
			storage.Row{int64(2), "other"},
			storage.Row{int64(1), "first"},
			storage.Row{int64(1), "second"},
		)
		require.NoError(t, b.Include(post, posts.FindNavigation("Blog"), related))
		require.NotNil(t, post.Blog)
		assert.Equal(t, "first", post.Blog.Title)
		assert.Equal(t, []*testmodel.Post{post}, post.Blog.Posts)
	})

	t.Run("no match", func(t *testing.T) {
		b := query.NewQueryBuffer(nil)
		v, err := b.GetEntity(posts, storage.Row{int64(10), int64(5), "a", nil})
		require.NoError(t, err)
		post := v.(*testmodel.Post)
		require.NoError(t, b.Include(post, posts.FindNavigation("Blog"), rows(storage.Row{int64(1), "Go"})))
		assert.Nil(t, post.Blog)
	})

	t.Run("tracking follows includes", func(t *testing.T) {
		sm := tracking.NewStateManager(m)
		b := query.NewQueryBuffer(sm)
		v, err := b.GetEntity(blogs, storage.Row{int64(1), "Go"})
		require.NoError(t, err)
		require.NoError(t, b.Include(v, blogs.FindNavigation("Posts"), rows(
			storage.Row{int64(10), int64(1), "a", int64(1)},
			storage.Row{int64(11), int64(1), "b", int64(2)},
		)))
		_, err = b.StartTracking(v)
		require.NoError(t, err)
		assert.Len(t, sm.Entries(), 3)
	})
}
