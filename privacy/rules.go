package privacy

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/veloxrt"
)

// Viewer represents the authenticated user on whose behalf queries and
// changes are made.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
	// GetTenantID returns the viewer's tenant, or "" when not applicable.
	GetTenantID() string
}

type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext retrieves the viewer from the context, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic implementation of the Viewer interface.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string { return v.UserID }

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string { return v.Roles }

// GetTenantID returns the tenant ID.
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// DenyIfNoViewer returns a rule that denies access if no viewer is
// present in the context.
//
//	privacy.Policy{
//	    Mutation: privacy.MutationPolicy{
//	        privacy.DenyIfNoViewer(),
//	        privacy.HasRole("admin"),
//	        privacy.AlwaysDenyRule(),
//	    },
//	}
func DenyIfNoViewer() QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("veloxrt/privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule that allows access if the viewer has the role,
// and skips otherwise.
func HasRole(role string) QueryMutationRule {
	return HasAnyRole(role)
}

// HasAnyRole returns a rule that allows access if the viewer has any of
// the roles, and skips otherwise.
func HasAnyRole(roles ...string) QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		granted := viewer.GetRoles()
		for _, role := range roles {
			if slices.Contains(granted, role) {
				return Allow
			}
		}
		return Skip
	})
}

// IsOwner returns a mutation rule that allows the command when the value
// of the property equals the viewer's ID. Deletes and updates compare the
// originally loaded value, so ownership cannot be claimed by rewriting it.
func IsOwner(property string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m veloxrt.Mutation) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		value, ok := ownerValue(m, property)
		if !ok {
			return Skip
		}
		if stringify(value) == viewer.GetID() {
			return Allow
		}
		return Skip
	})
}

// OwnerQueryRule returns a query rule denying queries made without a
// viewer. Row filtering itself is left to the query.
func OwnerQueryRule() QueryRule {
	return QueryRuleFunc(func(ctx context.Context, _ veloxrt.Query) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("veloxrt/privacy: viewer required for owner-filtered query")
		}
		return Skip
	})
}

// TenantRule returns a mutation rule that allows the command when the
// property matches the viewer's tenant and denies it otherwise.
func TenantRule(property string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m veloxrt.Mutation) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || viewer.GetTenantID() == "" {
			return Skip
		}
		value, ok := ownerValue(m, property)
		if !ok {
			return Skip
		}
		if stringify(value) == viewer.GetTenantID() {
			return Allow
		}
		return Denyf("veloxrt/privacy: tenant mismatch on %s", m.Type())
	})
}

// TenantQueryRule returns a query rule that denies queries made without
// a viewer or tenant.
func TenantQueryRule() QueryRule {
	return QueryRuleFunc(func(ctx context.Context, _ veloxrt.Query) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Denyf("veloxrt/privacy: viewer required for tenant-filtered query")
		}
		if viewer.GetTenantID() == "" {
			return Denyf("veloxrt/privacy: tenant required")
		}
		return Skip
	})
}

func ownerValue(m veloxrt.Mutation, property string) (any, bool) {
	if m.Op() != veloxrt.Added {
		if v, ok := m.OldField(property); ok {
			return v, true
		}
	}
	return m.Field(property)
}

func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
