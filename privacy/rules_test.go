package privacy_test

import (
	"context"
	"testing"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/privacy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewerContext(t *testing.T) {
	viewer := &privacy.SimpleViewer{UserID: "user-123", Roles: []string{"admin"}, TenantID: "t1"}
	ctx := privacy.WithViewer(context.Background(), viewer)

	got := privacy.ViewerFromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "user-123", got.GetID())
	assert.Equal(t, []string{"admin"}, got.GetRoles())
	assert.Equal(t, "t1", got.GetTenantID())

	assert.Nil(t, privacy.ViewerFromContext(context.Background()))

	type wrongKey struct{}
	assert.Nil(t, privacy.ViewerFromContext(context.WithValue(context.Background(), wrongKey{}, "not a viewer")))
}

func TestDenyIfNoViewer(t *testing.T) {
	rule := privacy.DenyIfNoViewer()

	assert.ErrorIs(t, rule.EvalQuery(context.Background(), &mockQuery{}), privacy.Deny)
	assert.ErrorIs(t, rule.EvalMutation(context.Background(), &mockMutation{}), privacy.Deny)

	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "1"})
	assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), privacy.Skip)
	assert.ErrorIs(t, rule.EvalMutation(ctx, &mockMutation{}), privacy.Skip)
}

func TestHasAnyRole(t *testing.T) {
	tests := []struct {
		name   string
		viewer privacy.Viewer
		rule   privacy.QueryMutationRule
		want   error
	}{
		{name: "no_viewer", rule: privacy.HasRole("admin"), want: privacy.Skip},
		{name: "role_granted", viewer: &privacy.SimpleViewer{Roles: []string{"admin"}}, rule: privacy.HasRole("admin"), want: privacy.Allow},
		{name: "role_missing", viewer: &privacy.SimpleViewer{Roles: []string{"user"}}, rule: privacy.HasRole("admin"), want: privacy.Skip},
		{name: "any_granted", viewer: &privacy.SimpleViewer{Roles: []string{"moderator"}}, rule: privacy.HasAnyRole("admin", "moderator"), want: privacy.Allow},
		{name: "none_granted", viewer: &privacy.SimpleViewer{Roles: []string{"user"}}, rule: privacy.HasAnyRole("admin", "moderator"), want: privacy.Skip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.viewer != nil {
				ctx = privacy.WithViewer(ctx, tt.viewer)
			}
			assert.ErrorIs(t, tt.rule.EvalQuery(ctx, &mockQuery{}), tt.want)
			assert.ErrorIs(t, tt.rule.EvalMutation(ctx, &mockMutation{}), tt.want)
		})
	}
}

func TestIsOwner(t *testing.T) {
	rule := privacy.IsOwner("AuthorID")
	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "42"})

	tests := []struct {
		name string
		m    *mockMutation
		want error
	}{
		{
			name: "insert_by_owner",
			m:    &mockMutation{op: veloxrt.Added, fields: map[string]any{"AuthorID": int64(42)}},
			want: privacy.Allow,
		},
		{
			name: "insert_by_other",
			m:    &mockMutation{op: veloxrt.Added, fields: map[string]any{"AuthorID": int64(7)}},
			want: privacy.Skip,
		},
		{
			name: "update_compares_original",
			m: &mockMutation{
				op:     veloxrt.Modified,
				fields: map[string]any{"AuthorID": "42"},
				old:    map[string]any{"AuthorID": "7"},
			},
			want: privacy.Skip,
		},
		{
			name: "delete_by_owner",
			m:    &mockMutation{op: veloxrt.Deleted, old: map[string]any{"AuthorID": []byte("42")}},
			want: privacy.Allow,
		},
		{
			name: "property_absent",
			m:    &mockMutation{op: veloxrt.Added},
			want: privacy.Skip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, rule.EvalMutation(ctx, tt.m), tt.want)
		})
	}

	assert.ErrorIs(t, rule.EvalMutation(context.Background(), tests[0].m), privacy.Skip)
}

func TestOwnerQueryRule(t *testing.T) {
	rule := privacy.OwnerQueryRule()

	assert.ErrorIs(t, rule.EvalQuery(context.Background(), &mockQuery{}), privacy.Deny)
	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "1"})
	assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), privacy.Skip)
}

func TestTenantRule(t *testing.T) {
	rule := privacy.TenantRule("TenantID")
	m := func(tenant string) *mockMutation {
		return &mockMutation{op: veloxrt.Added, typ: "Blog", fields: map[string]any{"TenantID": tenant}}
	}

	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "1", TenantID: "a"})
	assert.ErrorIs(t, rule.EvalMutation(ctx, m("a")), privacy.Allow)

	err := rule.EvalMutation(ctx, m("b"))
	require.ErrorIs(t, err, privacy.Deny)
	assert.Contains(t, err.Error(), "tenant mismatch on Blog")

	noTenant := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "1"})
	assert.ErrorIs(t, rule.EvalMutation(noTenant, m("b")), privacy.Skip)
	assert.ErrorIs(t, rule.EvalMutation(context.Background(), m("b")), privacy.Skip)
	assert.ErrorIs(t, rule.EvalMutation(ctx, &mockMutation{op: veloxrt.Added}), privacy.Skip)
}

func TestTenantQueryRule(t *testing.T) {
	rule := privacy.TenantQueryRule()

	assert.ErrorIs(t, rule.EvalQuery(context.Background(), &mockQuery{}), privacy.Deny)

	noTenant := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "1"})
	err := rule.EvalQuery(noTenant, &mockQuery{})
	require.ErrorIs(t, err, privacy.Deny)
	assert.Contains(t, err.Error(), "tenant required")

	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "1", TenantID: "a"})
	assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), privacy.Skip)
}

func TestIntegratedPolicyChain(t *testing.T) {
	policy := privacy.Policies{
		privacy.Policy{
			Query: privacy.QueryPolicy{
				privacy.DenyIfNoViewer(),
				privacy.AlwaysAllowRule(),
			},
			Mutation: privacy.MutationPolicy{
				privacy.DenyIfNoViewer(),
				privacy.HasRole("admin"),
				privacy.OnEntityType(privacy.AlwaysAllowRule(), "Comment"),
				privacy.IsOwner("AuthorID"),
				privacy.AlwaysDenyRule(),
			},
		},
	}
	post := func(author string) *mockMutation {
		return &mockMutation{op: veloxrt.Added, typ: "Post", fields: map[string]any{"AuthorID": author}}
	}

	t.Run("unauthenticated", func(t *testing.T) {
		assert.ErrorIs(t, policy.EvalQuery(context.Background(), &mockQuery{}), privacy.Deny)
		assert.ErrorIs(t, policy.EvalMutation(context.Background(), post("1")), privacy.Deny)
	})

	t.Run("admin", func(t *testing.T) {
		ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "9", Roles: []string{"admin"}})
		assert.NoError(t, policy.EvalMutation(ctx, post("1")))
	})

	t.Run("owner", func(t *testing.T) {
		ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "1"})
		assert.NoError(t, policy.EvalQuery(ctx, &mockQuery{}))
		assert.NoError(t, policy.EvalMutation(ctx, post("1")))
		assert.ErrorIs(t, policy.EvalMutation(ctx, post("2")), privacy.Deny)
	})

	t.Run("entity_scoped", func(t *testing.T) {
		ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "1"})
		assert.NoError(t, policy.EvalMutation(ctx, &mockMutation{op: veloxrt.Added, typ: "Comment"}))
	})
}
