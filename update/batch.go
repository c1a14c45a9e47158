package update

import (
	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/dialect"
)

// Batch limit defaults.
const (
	DefaultMaxBatchSize       = 100
	DefaultMaxStatementLength = 1 << 16
)

// BatchLimits bounds the commands grouped into one batch.
type BatchLimits struct {
	Dialect            string
	MaxBatchSize       int
	MaxStatementLength int
}

func (l BatchLimits) withDefaults() BatchLimits {
	if l.MaxBatchSize <= 0 {
		l.MaxBatchSize = DefaultMaxBatchSize
	}
	if l.MaxStatementLength <= 0 {
		l.MaxStatementLength = DefaultMaxStatementLength
	}
	return l
}

// ModificationCommandBatch is a group of commands of the same shape
// executed in one round of statements.
type ModificationCommandBatch struct {
	limits   BatchLimits
	commands []*ModificationCommand
	length   int
}

// NewModificationCommandBatch returns an empty batch.
func NewModificationCommandBatch(limits BatchLimits) *ModificationCommandBatch {
	return &ModificationCommandBatch{limits: limits.withDefaults()}
}

// Commands returns the commands of the batch in execution order.
func (b *ModificationCommandBatch) Commands() []*ModificationCommand { return b.commands }

// Len returns the number of commands.
func (b *ModificationCommandBatch) Len() int { return len(b.commands) }

// TableName returns the table shared by the commands.
func (b *ModificationCommandBatch) TableName() string {
	if len(b.commands) == 0 {
		return ""
	}
	return b.commands[0].table
}

// EntityState returns the state shared by the commands.
func (b *ModificationCommandBatch) EntityState() veloxrt.EntityState {
	if len(b.commands) == 0 {
		return veloxrt.Detached
	}
	return b.commands[0].state
}

// RequiresResultPropagation reports whether any command reads values.
func (b *ModificationCommandBatch) RequiresResultPropagation() bool {
	for _, c := range b.commands {
		if c.RequiresResultPropagation() {
			return true
		}
	}
	return false
}

// TryAdd appends c if it is compatible with the batch. An empty batch
// accepts any command.
func (b *ModificationCommandBatch) TryAdd(c *ModificationCommand) bool {
	n := estimateLength(c)
	if len(b.commands) > 0 {
		first := b.commands[0]
		switch {
		case len(b.commands) >= b.limits.MaxBatchSize:
			return false
		case first.shape() != c.shape():
			return false
		case c.RequiresResultPropagation() && !dialect.SupportsReturning(b.limits.Dialect):
			return false
		case b.length+n > b.limits.MaxStatementLength:
			return false
		}
	}
	b.commands = append(b.commands, c)
	b.length += n
	return true
}

func (b *ModificationCommandBatch) String() string {
	if len(b.commands) == 0 {
		return "empty batch"
	}
	return b.commands[0].String()
}

// estimateLength approximates the SQL text a command contributes.
func estimateLength(c *ModificationCommand) int {
	n := 24 + len(c.schema) + len(c.table)
	for _, cm := range c.columns {
		n += len(cm.column) + 6
	}
	return n
}
