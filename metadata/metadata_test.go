package metadata_test

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxrt/internal/testmodel"
	"github.com/syssam/veloxrt/metadata"
)

func TestModel(t *testing.T) {
	m := testmodel.Model()

	t.Run("Lookup", func(t *testing.T) {
		duck := m.FindEntityType("Duck")
		require.NotNil(t, duck)
		assert.Equal(t, "ducks", duck.Table)
		assert.Same(t, duck, m.EntityTypeOf(&testmodel.Duck{}))
		assert.Nil(t, m.EntityTypeOf(testmodel.Duck{}))
		assert.Nil(t, m.EntityTypeOf(nil))
		assert.Nil(t, m.FindEntityType("Goose"))
		assert.True(t, duck.Owns(&testmodel.Duck{}))
		assert.False(t, duck.Owns(&testmodel.Blog{}))
		assert.Same(t, m, duck.Model())
	})

	t.Run("Properties", func(t *testing.T) {
		duck := m.FindEntityType("Duck")
		names := make([]string, 0)
		for i, p := range duck.Properties() {
			assert.Equal(t, i, p.Index())
			names = append(names, p.Name)
		}
		assert.Equal(t, []string{"ID", "Name", "Quacks", "Token"}, names)
		id := duck.FindProperty("ID")
		assert.True(t, id.IsKey())
		assert.True(t, id.GeneratedOnAdd())
		assert.False(t, id.GeneratedOnUpdate())
		token := duck.FindProperty("Token")
		assert.True(t, token.GeneratedOnUpdate())
		assert.True(t, token.ConcurrencyToken)
		assert.Equal(t, "Duck.Token", token.String())
		assert.Equal(t, "name", duck.FindProperty("Name").Column)
	})

	t.Run("Key", func(t *testing.T) {
		alpha := m.FindEntityType("Alpha")
		require.Len(t, alpha.Key(), 1)
		assert.False(t, alpha.Key()[0].GeneratedOnAdd())
		tag := m.FindEntityType("Tag")
		assert.IsType(t, metadata.UUIDGenerator{}, tag.Key()[0].Generator)
	})

	t.Run("ForeignKey", func(t *testing.T) {
		post, blog := m.FindEntityType("Post"), m.FindEntityType("Blog")
		require.Len(t, post.ForeignKeys(), 1)
		fk := post.ForeignKeys()[0]
		assert.Same(t, blog, fk.Principal)
		assert.Equal(t, []*metadata.Property{post.FindProperty("BlogID")}, fk.Properties)
		assert.Equal(t, "Post(BlogID) -> Blog", fk.String())
		assert.Equal(t, []*metadata.ForeignKey{fk}, blog.ReferencingForeignKeys())
		assert.Equal(t, "blog_id", post.FindProperty("BlogID").Column)

		nav := post.FindNavigation("Blog")
		require.NotNil(t, nav)
		assert.True(t, nav.IsDependentToPrincipal())
		inverse := nav.Inverse()
		require.NotNil(t, inverse)
		assert.True(t, inverse.Collection)
		assert.Same(t, nav, inverse.Inverse())
		assert.Nil(t, post.FindNavigation("Comments"))
	})

	t.Run("Shadow", func(t *testing.T) {
		rating := m.FindEntityType("Post").FindProperty("Rating")
		require.NotNil(t, rating)
		assert.True(t, rating.Shadow)
		assert.Nil(t, rating.Get(&testmodel.Post{}))
		assert.Error(t, rating.Set(&testmodel.Post{}, 3))
	})

	t.Run("Splitting", func(t *testing.T) {
		customer := m.FindEntityType("Customer")
		assert.Equal(t, []string{"customers", "customer_details"}, customer.Tables())
		bio := customer.FindProperty("Bio")
		assert.Equal(t, "customer_details", customer.TableOf(bio))
		main := customer.PropertiesIn("customers")
		assert.Equal(t, "ID", main[0].Name)
		assert.Equal(t, "Name", main[1].Name)
		details := customer.PropertiesIn("customer_details")
		require.Len(t, details, 2)
		assert.Equal(t, "ID", details[0].Name)
		assert.Equal(t, "Bio", details[1].Name)
	})
}

func TestPropertyAccess(t *testing.T) {
	m := testmodel.Model()
	duck := m.FindEntityType("Duck")
	d := duck.New().(*testmodel.Duck)

	require.NoError(t, duck.FindProperty("ID").Set(d, int64(7)))
	require.NoError(t, duck.FindProperty("Name").Set(d, []byte("Daffy")))
	require.NoError(t, duck.FindProperty("Quacks").Set(d, "3"))
	require.NoError(t, duck.FindProperty("Token").Set(d, nil))
	assert.Equal(t, testmodel.Duck{ID: 7, Name: "Daffy", Quacks: 3}, *d)
	assert.Equal(t, 7, duck.FindProperty("ID").Get(d))
	assert.Error(t, duck.FindProperty("Quacks").Set(d, struct{}{}))
	assert.True(t, duck.FindProperty("Token").IsDefault(d.Token))
	assert.False(t, duck.FindProperty("ID").IsDefault(d.ID))
	assert.Equal(t, 0, duck.FindProperty("Quacks").Zero())
}

func TestNavigationAccess(t *testing.T) {
	m := testmodel.Model()
	post, blog := m.FindEntityType("Post"), m.FindEntityType("Blog")
	b := &testmodel.Blog{ID: 1}
	p1, p2 := &testmodel.Post{ID: 1}, &testmodel.Post{ID: 2}

	ref := post.FindNavigation("Blog")
	require.NoError(t, ref.Set(p1, b))
	assert.Same(t, b, ref.Get(p1))
	assert.Equal(t, []any{b}, ref.Items(p1))
	assert.Error(t, ref.Set(p1, p2))

	coll := blog.FindNavigation("Posts")
	require.NoError(t, coll.Add(b, p1))
	require.NoError(t, coll.Add(b, p1))
	require.NoError(t, coll.Add(b, p2))
	assert.Equal(t, []*testmodel.Post{p1, p2}, b.Posts)
	assert.True(t, coll.Contains(b, p2))
	assert.Error(t, coll.Set(b, p1))
	assert.Nil(t, coll.Get(b))

	coll.Remove(b, p1)
	assert.Equal(t, []*testmodel.Post{p2}, b.Posts)
	ref.Remove(p1, b)
	assert.Nil(t, p1.Blog)
}

func TestConvert(t *testing.T) {
	type Score int
	tests := []struct {
		name string
		in   any
		to   reflect.Type
		want any
	}{
		{"Nil", nil, reflect.TypeFor[string](), ""},
		{"IntWidth", int64(5), reflect.TypeFor[int32](), int32(5)},
		{"Named", int64(5), reflect.TypeFor[Score](), Score(5)},
		{"BytesToString", []byte("x"), reflect.TypeFor[string](), "x"},
		{"StringToBytes", "x", reflect.TypeFor[[]byte](), []byte("x")},
		{"IntToBool", int64(1), reflect.TypeFor[bool](), true},
		{"StringToFloat", "1.5", reflect.TypeFor[float64](), 1.5},
		{"Pointer", "x", reflect.TypeFor[*string](), func() *string { s := "x"; return &s }()},
		{"UUID", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", reflect.TypeFor[uuid.UUID](), uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := metadata.Convert(tt.in, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Interface())
		})
	}

	_, err := metadata.Convert(int64(65), reflect.TypeFor[string]())
	assert.Error(t, err)
	_, err = metadata.Convert("abc", reflect.TypeFor[int]())
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	v, err := metadata.Normalize(id)
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)
	v, err = metadata.Normalize((*int)(nil))
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = metadata.Normalize(3)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestBuilderErrors(t *testing.T) {
	type NoKey struct{ Name string }
	type Child struct {
		ID       int
		ParentID int
	}

	t.Run("MissingKey", func(t *testing.T) {
		b := metadata.NewBuilder()
		metadata.Entity[NoKey](b)
		_, err := b.Build()
		assert.ErrorContains(t, err, "has no key")
	})

	t.Run("UnknownProperty", func(t *testing.T) {
		b := metadata.NewBuilder()
		metadata.Entity[Child](b).Property("Nope")
		_, err := b.Build()
		assert.ErrorContains(t, err, `no property "Nope"`)
	})

	t.Run("UnknownRelationType", func(t *testing.T) {
		b := metadata.NewBuilder()
		metadata.Entity[Child](b)
		b.Relate(metadata.Relation{Dependent: "Child", Principal: "Parent", ForeignKey: []string{"ParentID"}})
		_, err := b.Build()
		assert.ErrorContains(t, err, "unknown entity type")
	})

	t.Run("MissingNavigation", func(t *testing.T) {
		b := metadata.NewBuilder()
		metadata.Entity[Child](b)
		b.Relate(metadata.Relation{Dependent: "Child", Principal: "Child", ForeignKey: []string{"ParentID"}, Navigation: "Parent"})
		_, err := b.Build()
		assert.ErrorContains(t, err, "navigation Child.Parent does not exist")
	})

	t.Run("KeyArity", func(t *testing.T) {
		b := metadata.NewBuilder()
		metadata.Entity[Child](b)
		b.Relate(metadata.Relation{Dependent: "Child", Principal: "Child", ForeignKey: []string{"ParentID", "ID"}})
		_, err := b.Build()
		assert.ErrorContains(t, err, "2 foreign key properties")
	})

	t.Run("Duplicate", func(t *testing.T) {
		b := metadata.NewBuilder()
		metadata.Entity[Child](b)
		metadata.Entity[Child](b)
		_, err := b.Build()
		assert.ErrorContains(t, err, "declared twice")
	})
}

func TestUUIDGenerator(t *testing.T) {
	m := testmodel.Model()
	key := m.FindEntityType("Tag").Key()[0]
	v, err := key.Generator.Next(key)
	require.NoError(t, err)
	assert.IsType(t, uuid.UUID{}, v)

	str := &metadata.Property{Name: "Code", Type: reflect.TypeFor[string]()}
	v, err = metadata.UUIDGenerator{}.Next(str)
	require.NoError(t, err)
	assert.Len(t, v, 36)
}
