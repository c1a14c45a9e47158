package privacy

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/syssam/veloxrt"
)

// Policy decision sentinel errors. Rules return them, possibly wrapped,
// and callers test for them with errors.Is.
var (
	// Allow terminates the evaluation with an allow decision.
	Allow = errors.New("veloxrt/privacy: allow rule")

	// Deny terminates the evaluation with a deny decision.
	Deny = errors.New("veloxrt/privacy: deny rule")

	// Skip passes the decision to the next rule.
	Skip = errors.New("veloxrt/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() QueryMutationRule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() QueryMutationRule {
	return fixedDecision{Deny}
}

// ContextQueryMutationRule creates a query/mutation rule from a context
// evaluation function. Returning nil is equivalent to returning Skip.
func ContextQueryMutationRule(eval func(context.Context) error) QueryMutationRule {
	return contextDecision{eval}
}

type (
	// QueryRule decides whether a compiled query may run.
	QueryRule interface {
		EvalQuery(context.Context, veloxrt.Query) error
	}

	// QueryPolicy combines multiple query rules into a single policy.
	QueryPolicy []QueryRule

	// MutationRule decides whether a modification command may be executed.
	MutationRule interface {
		EvalMutation(context.Context, veloxrt.Mutation) error
	}

	// MutationPolicy combines multiple mutation rules into a single policy.
	MutationPolicy []MutationRule

	// QueryMutationRule is an interface which groups query and mutation rules.
	QueryMutationRule interface {
		QueryRule
		MutationRule
	}
)

// QueryRuleFunc type is an adapter which allows the use of
// ordinary functions as query rules.
type QueryRuleFunc func(context.Context, veloxrt.Query) error

// EvalQuery returns f(ctx, q).
func (f QueryRuleFunc) EvalQuery(ctx context.Context, q veloxrt.Query) error {
	return f(ctx, q)
}

// MutationRuleFunc type is an adapter which allows the use of
// ordinary functions as mutation rules.
type MutationRuleFunc func(context.Context, veloxrt.Mutation) error

// EvalMutation returns f(ctx, m).
func (f MutationRuleFunc) EvalMutation(ctx context.Context, m veloxrt.Mutation) error {
	return f(ctx, m)
}

// OnMutationOperation evaluates the given rule only for commands in the
// given entity state.
func OnMutationOperation(rule MutationRule, op veloxrt.EntityState) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m veloxrt.Mutation) error {
		if m.Op().Is(op) {
			return rule.EvalMutation(ctx, m)
		}
		return Skip
	})
}

// DenyMutationOperationRule returns a rule denying specified mutation operation.
func DenyMutationOperationRule(op veloxrt.EntityState) MutationRule {
	rule := MutationRuleFunc(func(_ context.Context, m veloxrt.Mutation) error {
		return Denyf("veloxrt/privacy: %s of %s is not allowed", m.Op().Verb(), m.Type())
	})
	return OnMutationOperation(rule, op)
}

// AllowMutationOperationRule returns a rule allowing specified mutation operation.
func AllowMutationOperationRule(op veloxrt.EntityState) MutationRule {
	rule := MutationRuleFunc(func(context.Context, veloxrt.Mutation) error {
		return Allow
	})
	return OnMutationOperation(rule, op)
}

// OnEntityType scopes a rule to the given entity types. Queries match
// when they read any of the types; mutations match on their target type.
func OnEntityType(rule QueryMutationRule, types ...string) QueryMutationRule {
	return entityRule{rule: rule, types: types}
}

type entityRule struct {
	rule  QueryMutationRule
	types []string
}

func (r entityRule) EvalQuery(ctx context.Context, q veloxrt.Query) error {
	for _, t := range q.EntityTypes() {
		if slices.Contains(r.types, t) {
			return r.rule.EvalQuery(ctx, q)
		}
	}
	return Skip
}

func (r entityRule) EvalMutation(ctx context.Context, m veloxrt.Mutation) error {
	if slices.Contains(r.types, m.Type()) {
		return r.rule.EvalMutation(ctx, m)
	}
	return Skip
}

// Policy groups query and mutation policies.
type Policy struct {
	Query    QueryPolicy
	Mutation MutationPolicy
}

// EvalQuery forwards evaluation to the query policy.
func (p Policy) EvalQuery(ctx context.Context, q veloxrt.Query) error {
	return p.Query.EvalQuery(ctx, q)
}

// EvalMutation forwards evaluation to the mutation policy.
func (p Policy) EvalMutation(ctx context.Context, m veloxrt.Mutation) error {
	return p.Mutation.EvalMutation(ctx, m)
}

// NewPolicies combines the non-nil policies into a single policy.
func NewPolicies(policies ...veloxrt.Policy) veloxrt.Policy {
	ps := make(Policies, 0, len(policies))
	for _, p := range policies {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return ps
}

// Policies combines multiple policies into a single policy. An Allow
// from any policy ends the evaluation with a nil error.
type Policies []veloxrt.Policy

// EvalQuery evaluates the query policies.
func (policies Policies) EvalQuery(ctx context.Context, q veloxrt.Query) error {
	return policies.eval(ctx, func(policy veloxrt.Policy) error {
		return policy.EvalQuery(ctx, q)
	})
}

// EvalMutation evaluates the mutation policies.
func (policies Policies) EvalMutation(ctx context.Context, m veloxrt.Mutation) error {
	return policies.eval(ctx, func(policy veloxrt.Policy) error {
		return policy.EvalMutation(ctx, m)
	})
}

func (policies Policies) eval(ctx context.Context, eval func(veloxrt.Policy) error) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, policy := range policies {
		switch decision := eval(policy); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// EvalQuery evaluates a query against a query policy.
func (policies QueryPolicy) EvalQuery(ctx context.Context, q veloxrt.Query) error {
	for _, policy := range policies {
		switch decision := policy.EvalQuery(ctx, q); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// EvalMutation evaluates a mutation against a mutation policy.
func (policies MutationPolicy) EvalMutation(ctx context.Context, m veloxrt.Mutation) error {
	for _, policy := range policies {
		switch decision := policy.EvalMutation(ctx, m); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

type decisionCtxKey struct{}

// DecisionContext returns a copy of parent carrying a decision that
// short-circuits every Policies evaluation made with it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalQuery(context.Context, veloxrt.Query) error {
	return f.decision
}

func (f fixedDecision) EvalMutation(context.Context, veloxrt.Mutation) error {
	return f.decision
}

type contextDecision struct {
	eval func(context.Context) error
}

func (c contextDecision) EvalQuery(ctx context.Context, _ veloxrt.Query) error {
	return c.eval(ctx)
}

func (c contextDecision) EvalMutation(ctx context.Context, _ veloxrt.Mutation) error {
	return c.eval(ctx)
}

var (
	_ QueryMutationRule = entityRule{}
	_ veloxrt.Policy    = Policy{}
	_ veloxrt.Policy    = Policies(nil)
)
