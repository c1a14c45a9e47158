package update

import (
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/identity"
	"github.com/syssam/veloxrt/metadata"
)

// CommandBatchPreparer orders the commands of one save operation and
// groups them into batches.
type CommandBatchPreparer struct {
	limits   BatchLimits
	rel      Relationships
	newBatch func(BatchLimits) *ModificationCommandBatch
	keys     *identity.KeyFactory
	logger   *slog.Logger
}

// PreparerOption configures a CommandBatchPreparer.
type PreparerOption func(*CommandBatchPreparer)

// WithLimits sets the batch limits.
func WithLimits(l BatchLimits) PreparerOption {
	return func(p *CommandBatchPreparer) { p.limits = l.withDefaults() }
}

// WithRelationships sets the principal resolver. By default principals
// are matched by key values among the entries being saved.
func WithRelationships(r Relationships) PreparerOption {
	return func(p *CommandBatchPreparer) { p.rel = r }
}

// WithBatchFactory overrides batch construction.
func WithBatchFactory(f func(BatchLimits) *ModificationCommandBatch) PreparerOption {
	return func(p *CommandBatchPreparer) { p.newBatch = f }
}

// WithPreparerLogger sets the logger.
func WithPreparerLogger(l *slog.Logger) PreparerOption {
	return func(p *CommandBatchPreparer) { p.logger = l }
}

// NewCommandBatchPreparer returns a preparer.
func NewCommandBatchPreparer(opts ...PreparerOption) *CommandBatchPreparer {
	p := &CommandBatchPreparer{
		limits:   BatchLimits{}.withDefaults(),
		newBatch: NewModificationCommandBatch,
		keys:     identity.NewKeyFactory(identity.SentinelNullKeys),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BatchCommands returns the batches for entries in dependency order.
// Batches are built on demand: the next batch is not constructed until
// the consumer asks for it.
func (p *CommandBatchPreparer) BatchCommands(entries []Entry) iter.Seq2[*ModificationCommandBatch, error] {
	return func(yield func(*ModificationCommandBatch, error) bool) {
		g, err := p.graph(entries)
		if err != nil {
			yield(nil, err)
			return
		}
		order, err := g.sort()
		if err != nil {
			yield(nil, err)
			return
		}
		var (
			batch   *ModificationCommandBatch
			members []int
		)
		for _, v := range order {
			c := g.nodes[v]
			if batch != nil && !dependsOn(g, members, v) && batch.TryAdd(c) {
				members = append(members, v)
				continue
			}
			if batch != nil && !yield(batch, nil) {
				return
			}
			batch = p.newBatch(p.limits)
			batch.TryAdd(c)
			members = append(members[:0], v)
		}
		if batch != nil {
			yield(batch, nil)
		}
	}
}

func dependsOn(g *graph, members []int, v int) bool {
	for _, m := range members {
		if g.has(m, v) {
			return true
		}
	}
	return false
}

// commands converts entries into commands, one per entry and table.
// Entries of the same state sharing a row share a command.
func (p *CommandBatchPreparer) commands(entries []Entry) ([]*ModificationCommand, map[Entry][]int, error) {
	var (
		params = &ParameterNameGenerator{}
		cmds   []*ModificationCommand
		of     = make(map[Entry][]int, len(entries))
		shared = make(map[string]int)
	)
	for _, e := range entries {
		if !e.State().IsModification() {
			return nil, nil, &veloxrt.InvalidStateError{Entity: e.EntityType().Name, State: e.State()}
		}
		et := e.EntityType()
		key, err := p.keys.KeyOf(et, et.Key(), e.CurrentValue)
		if err != nil {
			return nil, nil, err
		}
		row := ""
		if !hasDefaultStoreKey(e) {
			row = rowID(e)
		}
		for _, table := range et.Tables() {
			id := strings.Join([]string{et.Schema, table, e.State().String(), row}, "\x00")
			if i, ok := shared[id]; ok && row != "" {
				if err := cmds[i].AddEntry(e); err != nil {
					return nil, nil, err
				}
				of[e] = append(of[e], i)
				continue
			}
			c := NewModificationCommand(table, et.Schema, params)
			if err := c.AddEntry(e); err != nil {
				return nil, nil, err
			}
			if c.empty() {
				continue
			}
			c.key, c.ordinal = key, len(cmds)
			shared[id] = len(cmds)
			of[e] = append(of[e], len(cmds))
			cmds = append(cmds, c)
		}
	}
	return cmds, of, nil
}

// graph builds the dependency graph of the commands of entries.
func (p *CommandBatchPreparer) graph(entries []Entry) (*graph, error) {
	cmds, of, err := p.commands(entries)
	if err != nil {
		return nil, err
	}
	rel := p.rel
	if rel == nil {
		rel = NewValueRelationships(entries)
	}
	g := newGraph(cmds)
	link := func(from, to Entry, breakable bool) {
		for _, a := range of[from] {
			for _, b := range of[to] {
				g.add(a, b, breakable)
			}
		}
	}
	for _, e := range entries {
		own := of[e]
		for i := 1; i < len(own); i++ {
			switch e.State() {
			case veloxrt.Added:
				g.add(own[0], own[i], false)
			case veloxrt.Deleted:
				g.add(own[i], own[0], false)
			}
		}
		for _, fk := range e.EntityType().ForeignKeys() {
			switch e.State() {
			case veloxrt.Added, veloxrt.Modified:
				principal := rel.Principal(e, fk)
				if tracked(of, principal, e) && isInsertOrUpdate(principal) {
					link(principal, e, false)
				}
				if e.State() != veloxrt.Modified {
					continue
				}
				old := rel.OriginalPrincipal(e, fk)
				if !tracked(of, old, e) || old == principal {
					continue
				}
				if old.State() == veloxrt.Deleted {
					// The update removes the last reference to the old
					// principal, so the delete follows it.
					link(e, old, false)
				} else if isInsertOrUpdate(old) {
					link(old, e, true)
				}
			case veloxrt.Deleted:
				principal := rel.OriginalPrincipal(e, fk)
				if tracked(of, principal, e) && principal.State() == veloxrt.Deleted {
					link(e, principal, false)
				}
			}
		}
	}
	if err := g.breakCycles(); err != nil {
		return nil, err
	}
	p.logger.Debug("prepared modification commands", "entries", len(entries), "commands", len(cmds))
	return g, nil
}

func tracked(of map[Entry][]int, e, self Entry) bool {
	if e == nil || e == self {
		return false
	}
	_, ok := of[e]
	return ok
}

func isInsertOrUpdate(e Entry) bool {
	return e.State() == veloxrt.Added || e.State() == veloxrt.Modified
}

// rowID identifies the row of an entry independently of its entity type.
func rowID(e Entry) string {
	var b strings.Builder
	for _, p := range e.EntityType().Key() {
		v, err := metadata.Normalize(e.CurrentValue(p))
		if err != nil {
			v = e.CurrentValue(p)
		}
		fmt.Fprintf(&b, "%s=%v;", p.Column, v)
	}
	return b.String()
}
