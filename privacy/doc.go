// Package privacy provides rule and policy types evaluated by the runtime
// before a compiled query runs and before each modification command is
// executed by SaveChanges.
//
// A rule returns one of three decisions:
//
//   - Allow: grants access and stops evaluation
//   - Deny: denies access and stops evaluation
//   - Skip: passes the decision to the next rule
//
// Rules are grouped into policies:
//
//	policy := privacy.Policy{
//	    Query: privacy.QueryPolicy{
//	        privacy.DenyIfNoViewer(),
//	        privacy.AlwaysAllowRule(),
//	    },
//	    Mutation: privacy.MutationPolicy{
//	        privacy.DenyIfNoViewer(),
//	        privacy.HasRole("admin"),
//	        privacy.DenyMutationOperationRule(veloxrt.Deleted),
//	        privacy.IsOwner("AuthorID"),
//	        privacy.AlwaysDenyRule(),
//	    },
//	}
//	s := session.New(model, source, session.WithPolicy(policy))
//
// Mutation rules see a command through veloxrt.Mutation: its entity state,
// target type and table, and the new and original property values.
//
// The viewer is stored in the context:
//
//	ctx := privacy.WithViewer(ctx, &privacy.SimpleViewer{
//	    UserID: "user-123",
//	    Roles:  []string{"user"},
//	})
//	err := s.SaveChanges(ctx)
//
// A denied query or save returns the rule's error, which wraps Deny.
package privacy
