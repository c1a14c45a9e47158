package diagnostics

import (
	"context"
	"log/slog"
)

// SlogListener logs events. Errors are logged at error level, everything
// else at debug level.
type SlogListener struct {
	Logger *slog.Logger
}

// NewSlogListener returns a listener logging to l.
func NewSlogListener(l *slog.Logger) *SlogListener {
	return &SlogListener{Logger: l}
}

// OnEvent implements Listener.
func (s *SlogListener) OnEvent(ctx context.Context, e Event) {
	switch e.Kind {
	case QueryCompiled:
		s.Logger.DebugContext(ctx, "query compiled", "plan", e.Query, "duration", e.Duration)
	case BatchExecuting:
		s.Logger.DebugContext(ctx, "executing batch", "id", e.ID, "table", e.Table, "op", e.Op, "commands", e.Commands)
	case BatchExecuted:
		s.Logger.DebugContext(ctx, "batch executed", "id", e.ID, "table", e.Table, "op", e.Op, "rows", e.Rows, "duration", e.Duration)
	case Error:
		s.Logger.ErrorContext(ctx, "operation failed", "id", e.ID, "table", e.Table, "op", e.Op, "error", e.Err)
	}
}
