package session

import (
	"context"
	"errors"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/dialect"
	"github.com/syssam/veloxrt/linq"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/tracking"
	"github.com/syssam/veloxrt/update"
)

// SaveChanges writes the tracked changes in one transaction and returns
// the number of affected rows. On success Added and Modified entities
// become Unchanged and Deleted ones are detached; on failure the
// transaction is rolled back and every entry keeps its state.
func (s *Session) SaveChanges(ctx context.Context) (int64, error) {
	if s.drv == nil {
		return 0, errors.New("session: saving changes requires a driver")
	}
	if err := s.sm.DetectChanges(); err != nil {
		return 0, err
	}
	changes := s.sm.Changes()
	if len(changes) == 0 {
		return 0, nil
	}
	entries := make([]update.Entry, len(changes))
	states := make([]veloxrt.EntityState, len(changes))
	for i, e := range changes {
		entries[i], states[i] = e, e.State()
	}

	preparer := update.NewCommandBatchPreparer(
		update.WithLimits(s.opts.Limits()),
		update.WithRelationships(relationships(s.sm)),
		update.WithPreparerLogger(s.logger),
	)
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return 0, veloxrt.NewStoreError("begin", err)
	}
	executor := update.NewBatchExecutor(tx, s.drv.Dialect(),
		update.WithEmitter(s.emitter),
		update.WithExecutorLogger(s.logger),
		update.BeforeBatch(s.authorize),
		update.OnPropagated(func(_ context.Context, e update.Entry) error {
			return s.sm.FixupDependents(e.(*tracking.Entry))
		}),
	)
	rows, err := executor.Execute(ctx, preparer.BatchCommands(entries))
	if err != nil {
		return 0, rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, veloxrt.NewStoreError("commit", err)
	}
	if err := s.sm.AcceptChanges(); err != nil {
		return rows, err
	}
	s.refresh(changes, states)
	s.logger.DebugContext(ctx, "saved changes", "entries", len(changes), "rows", rows)
	return rows, nil
}

// SaveChangesAsync returns a task running SaveChanges.
func (s *Session) SaveChangesAsync() linq.Task[int64] {
	return s.SaveChanges
}

// authorize evaluates the mutation policy for every command of a batch.
func (s *Session) authorize(ctx context.Context, batch *update.ModificationCommandBatch) error {
	if s.policy == nil {
		return nil
	}
	for _, c := range batch.Commands() {
		if err := s.policy.EvalMutation(ctx, c); err != nil {
			return veloxrt.NewPrivacyError(c.Type(), c.Op().Verb(), err)
		}
	}
	return nil
}

// rollback calls tx.Rollback and wraps the given error with the
// rollback error if occurred.
func rollback(tx dialect.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		return errors.Join(err, &veloxrt.RollbackError{Err: rerr})
	}
	return err
}

// refresh updates the Find caches after a save: inserted entities become
// findable by their new keys, deleted ones are forgotten.
func (s *Session) refresh(changes []*tracking.Entry, states []veloxrt.EntityState) {
	for i, e := range changes {
		l, ok := s.loaders[e.EntityType().Name]
		if !ok {
			continue
		}
		switch states[i] {
		case veloxrt.Added:
			l.Prime(e.Key(), e.Entity())
		case veloxrt.Deleted:
			if !e.Key().IsZero() {
				l.Clear(e.Key())
			}
		}
	}
}

// relationships resolves principals through the state manager.
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
