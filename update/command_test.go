package update_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/internal/testmodel"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/tracking"
	"github.com/syssam/veloxrt/update"
)

type role struct {
	column                         string
	key, condition, read, write bool
}

func roles(c *update.ModificationCommand) []role {
	var out []role
	for _, cm := range c.ColumnModifications() {
		out = append(out, role{cm.ColumnName(), cm.IsKey(), cm.IsCondition(), cm.IsRead(), cm.IsWrite()})
	}
	return out
}

func TestAddEntryRoles(t *testing.T) {
	m := testmodel.Model()

	t.Run("AddedStoreGenerated", func(t *testing.T) {
		sm := tracking.NewStateManager(m)
		e := track(t, sm, veloxrt.Added, &testmodel.Duck{Name: "Daffy", Quacks: 3})
		c := update.NewModificationCommand("ducks", "", nil)
		require.NoError(t, c.AddEntry(e))
		assert.Equal(t, []role{
			{"id", true, false, true, false},
			{"name", false, false, false, true},
			{"quacks", false, false, false, true},
			{"token", false, false, true, false},
		}, roles(c))
		assert.True(t, c.RequiresResultPropagation())
		assert.Equal(t, []string{"Name", "Quacks"}, c.Fields())
		assert.Equal(t, "INSERT ducks", c.String())
	})

	t.Run("AddedClientKey", func(t *testing.T) {
		sm := tracking.NewStateManager(m)
		e := track(t, sm, veloxrt.Added, &testmodel.Alpha{ID: 4})
		c := update.NewModificationCommand("A", "", nil)
		require.NoError(t, c.AddEntry(e))
		assert.Equal(t, []role{{"id", true, false, false, true}}, roles(c))
		assert.False(t, c.RequiresResultPropagation())
	})

	t.Run("Modified", func(t *testing.T) {
		sm := tracking.NewStateManager(m)
		d := &testmodel.Duck{ID: 7, Name: "Daffy", Quacks: 3, Token: []byte("v1")}
		e := track(t, sm, veloxrt.Unchanged, d)
		set(t, e, "Quacks", 4)
		c := update.NewModificationCommand("ducks", "", nil)
		require.NoError(t, c.AddEntry(e))
		assert.Equal(t, []role{
			{"id", true, true, false, false},
			{"quacks", false, false, false, true},
			{"token", false, true, true, false},
		}, roles(c))
		assert.True(t, c.RequiresResultPropagation())
		old, ok := c.OldField("Quacks")
		require.True(t, ok)
		assert.Equal(t, 3, old)
		cur, ok := c.Field("Quacks")
		require.True(t, ok)
		assert.Equal(t, 4, cur)
	})

	t.Run("Deleted", func(t *testing.T) {
		sm := tracking.NewStateManager(m)
		e := track(t, sm, veloxrt.Deleted, &testmodel.Duck{ID: 7, Token: []byte("v1")})
		c := update.NewModificationCommand("ducks", "", nil)
		require.NoError(t, c.AddEntry(e))
		assert.Equal(t, []role{
			{"id", true, true, false, false},
			{"token", false, true, false, false},
		}, roles(c))
		assert.False(t, c.RequiresResultPropagation())
	})

	t.Run("InvalidState", func(t *testing.T) {
		sm := tracking.NewStateManager(m)
		e := track(t, sm, veloxrt.Unchanged, &testmodel.Alpha{ID: 1})
		c := update.NewModificationCommand("A", "", nil)
		err := c.AddEntry(e)
		assert.True(t, veloxrt.IsInvalidState(err))
		assert.ErrorContains(t, err, "invalid entity state Unchanged")
	})
}

func TestColumnRolesExclusive(t *testing.T) {
	m := testmodel.Model()
	sm := tracking.NewStateManager(m)
	added := track(t, sm, veloxrt.Added, &testmodel.Duck{Name: "a"})
	modified := track(t, sm, veloxrt.Unchanged, &testmodel.Duck{ID: 2, Name: "b"})
	set(t, modified, "Name", "c")
	deleted := track(t, sm, veloxrt.Deleted, &testmodel.Duck{ID: 3})
	customer := track(t, sm, veloxrt.Added, &testmodel.Customer{Name: "n", Bio: "b"})

	p := update.NewCommandBatchPreparer()
	for b, err := range p.BatchCommands(entries(added, modified, deleted, customer)) {
		require.NoError(t, err)
		for _, c := range b.Commands() {
			for _, cm := range c.ColumnModifications() {
				assert.False(t, cm.IsRead() && cm.IsWrite(), "%s.%s", c.TableName(), cm.ColumnName())
			}
			if c.EntityState() == veloxrt.Deleted {
				assert.False(t, c.RequiresResultPropagation())
			}
		}
	}
}

func TestRequiresResultPropagation(t *testing.T) {
	m := testmodel.Model()
	sm := tracking.NewStateManager(m)
	post := track(t, sm, veloxrt.Unchanged, &testmodel.Post{ID: 1, BlogID: 1, Title: "a"})
	set(t, post, "Title", "b")
	tests := []struct {
		name  string
		entry *tracking.Entry
		table string
		want  bool
	}{
		{"DeletedDuck", track(t, sm, veloxrt.Deleted, &testmodel.Duck{ID: 9}), "ducks", false},
		{"AddedDuck", track(t, sm, veloxrt.Added, &testmodel.Duck{}), "ducks", true},
		{"AddedAlpha", track(t, sm, veloxrt.Added, &testmodel.Alpha{ID: 9}), "A", false},
		{"ModifiedPost", post, "posts", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := update.NewModificationCommand(tt.table, "", nil)
			require.NoError(t, c.AddEntry(tt.entry))
			assert.Equal(t, tt.want, c.RequiresResultPropagation())
		})
	}
}

func TestColumnModificationValues(t *testing.T) {
	m := testmodel.Model()
	sm := tracking.NewStateManager(m)
	post := track(t, sm, veloxrt.Unchanged, &testmodel.Post{ID: 1, BlogID: 1, Title: "a"})
	rating := m.FindEntityType("Post").FindProperty("Rating")
	require.NoError(t, post.SetCurrentValue(rating, 5))

	var params update.ParameterNameGenerator
	cm := update.NewColumnModification(post, rating, &params, false, true, false, true)
	assert.Equal(t, 5, cm.Value())
	assert.Equal(t, 5, cm.OriginalValue(), "never snapshotted, falls back to the current value")
	assert.Equal(t, "@p0", cm.ParameterName())
	assert.Equal(t, "@p1", cm.OriginalParameterName())
	require.NoError(t, cm.SetValue(6))
	assert.Equal(t, 6, post.CurrentValue(rating))

	title := update.NewColumnModification(post, m.FindEntityType("Post").FindProperty("Title"), &params, false, true, false, false)
	require.NoError(t, title.SetValue("b"))
	assert.Equal(t, "a", title.OriginalValue())
	assert.Equal(t, "b", title.Value())
	assert.Empty(t, title.ParameterName())
	assert.Equal(t, "@p2", title.OriginalParameterName())

	assert.Panics(t, func() {
		update.NewColumnModification(post, rating, &params, false, false, true, true)
	})
}

type (
	vehicle struct {
		ID   int
		Name string
	}
	engine struct {
		ID    int
		Power int
	}
)

func TestAddEntryUnion(t *testing.T) {
	b := metadata.NewBuilder()
	metadata.Entity[vehicle](b).Table("vehicles").Property("ID", metadata.Generated(metadata.Never))
	metadata.Entity[engine](b).Table("vehicles").Property("ID", metadata.Generated(metadata.Never))
	m, err := b.Build()
	require.NoError(t, err)

	sm := tracking.NewStateManager(m)
	v := track(t, sm, veloxrt.Added, &vehicle{ID: 1, Name: "van"})
	e := track(t, sm, veloxrt.Added, &engine{ID: 1, Power: 90})

	c := update.NewModificationCommand("vehicles", "", nil)
	require.NoError(t, c.AddEntry(v))
	require.NoError(t, c.AddEntry(e))
	var cols []string
	for _, cm := range c.ColumnModifications() {
		cols = append(cols, cm.ColumnName())
	}
	assert.Equal(t, []string{"id", "name", "power"}, cols)
	assert.Len(t, c.Entries(), 2)

	batches := commandOrder(t, update.NewCommandBatchPreparer().BatchCommands(entries(v, e)))
	assert.Equal(t, []string{"INSERT vehicles"}, batches, "entries sharing a row share a command")
}
