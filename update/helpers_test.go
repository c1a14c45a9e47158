package update_test

import (
	"iter"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/tracking"
	"github.com/syssam/veloxrt/update"
)

func track(t *testing.T, sm *tracking.StateManager, state veloxrt.EntityState, entity any) *tracking.Entry {
	t.Helper()
	e, err := sm.Track(entity, state)
	require.NoError(t, err)
	return e
}

func entries(es ...*tracking.Entry) []update.Entry {
	out := make([]update.Entry, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

func relationships(sm *tracking.StateManager) update.Relationships {
	wrap := func(e *tracking.Entry) update.Entry {
		if e == nil {
			return nil
		}
		return e
	}
	return update.RelationshipFuncs{
		Current: func(dep update.Entry, fk *metadata.ForeignKey) update.Entry {
			return wrap(sm.Principal(dep.(*tracking.Entry), fk))
		},
		Original: func(dep update.Entry, fk *metadata.ForeignKey) update.Entry {
			return wrap(sm.OriginalPrincipal(dep.(*tracking.Entry), fk))
		},
	}
}

func commandOrder(t *testing.T, batches iter.Seq2[*update.ModificationCommandBatch, error]) []string {
	t.Helper()
	var out []string
	for b, err := range batches {
		require.NoError(t, err)
		for _, c := range b.Commands() {
			out = append(out, c.String())
		}
	}
	return out
}

func set(t *testing.T, e *tracking.Entry, name string, v any) {
	t.Helper()
	require.NoError(t, e.SetCurrentValue(e.EntityType().FindProperty(name), v))
}
