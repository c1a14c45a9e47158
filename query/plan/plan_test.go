package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/veloxrt/internal/testmodel"
	"github.com/syssam/veloxrt/query/plan"
	"github.com/syssam/veloxrt/querymodel"
)

func TestFormat(t *testing.T) {
	m := testmodel.Model()
	blog, post := m.FindEntityType("Blog"), m.FindEntityType("Post")
	b := plan.Slot{Name: "b", Index: 0}
	p := plan.Slot{Name: "p", Index: 1}

	root := &plan.Take{
		Count: &plan.Param{Name: "n"},
		Input: &plan.Project{
			Selector: &plan.Slot{Name: "p", Index: 1},
			Input: &plan.Filter{
				Predicate: &plan.Binary{
					Op:    querymodel.OpGT,
					Left:  &plan.Read{Slot: p, Property: post.FindProperty("ID")},
					Right: &plan.Const{Value: 3},
				},
				Input: &plan.Join{
					Input:    &plan.Scan{Source: "b", Entity: blog},
					Inner:    &plan.Scan{Source: "p", Entity: post, Slot: 1},
					OuterKey: &plan.Read{Slot: b, Property: blog.FindProperty("ID")},
					InnerKey: &plan.Read{Slot: p, Property: post.FindProperty("BlogID")},
					Slot:     1,
				},
			},
		},
	}
	assert.Equal(t, `Take @n
  Project p@0.1
    Filter (p@0.1[0:ID] > 3)
      Join p on b@0.0[0:ID] equals p@0.1[1:BlogID]
        Scan b: Blog
        Scan p: Post`, plan.Format(root))

	agg := &plan.Aggregate{
		Op:        querymodel.KindAll,
		Predicate: &plan.Field{Target: &plan.Current{}, Name: "Title"},
		Input:     &plan.Scan{Source: "b", Entity: blog},
	}
	assert.Equal(t, "All $it.Title", plan.Label(agg))
	assert.Equal(t, "FirstOrDefault", plan.Label(&plan.Aggregate{Op: querymodel.KindFirst, OrDefault: true}))
	assert.Equal(t, `new {A = "x", B = !IsNull(@v)}`, plan.ExprString(&plan.Record{
		Names:  []string{"A", "B"},
		Values: []plan.Expr{&plan.Const{Value: "x"}, &plan.Not{Operand: &plan.IsNull{Operand: &plan.Param{Name: "v"}}}},
	}))
}
