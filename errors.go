package veloxrt

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("veloxrt: entity not found")

	// ErrNotSingular is returned when a query that expects exactly one result
	// returns zero or multiple results.
	ErrNotSingular = errors.New("veloxrt: sequence not singular")

	// ErrEmptySequence is returned by First, Last, Single and the numeric
	// aggregates when the source sequence has no elements and no default
	// was requested.
	ErrEmptySequence = errors.New("veloxrt: sequence contains no elements")

	// ErrCompiled is returned when a query model visitor is used after
	// it produced an executor.
	ErrCompiled = errors.New("veloxrt: visitor already compiled")
)

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("veloxrt: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("veloxrt: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError with the key that was searched for.
func NewNotFoundError(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError represents an error when a query expects a singular result
// but receives zero or multiple results.
type NotSingularError struct {
	label string
	count int
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	if e.count >= 0 {
		return fmt.Sprintf("veloxrt: %s not singular (got %d results, expected 1)", e.label, e.count)
	}
	return fmt.Sprintf("veloxrt: %s not singular", e.label)
}

// Is reports whether the target error matches NotSingularError.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// Count returns the number of results, or -1 if unknown.
func (e *NotSingularError) Count() int {
	return e.count
}

// NewNotSingularError returns a new NotSingularError. A negative count
// means the exact number of results is unknown.
func NewNotSingularError(label string, count int) *NotSingularError {
	return &NotSingularError{label: label, count: count}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// BindingError is returned at compile time when a query expression
// references a query source or member the metadata model cannot resolve.
type BindingError struct {
	Source string // Query source or entity type name
	Member string // Member name, empty when the source itself is unknown
	Reason string
}

// Error returns the error string.
func (e *BindingError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("veloxrt: cannot bind %s.%s: %s", e.Source, e.Member, e.Reason)
	}
	return fmt.Sprintf("veloxrt: cannot bind %s: %s", e.Source, e.Reason)
}

// NewBindingError returns a new BindingError.
func NewBindingError(source, member, reason string) *BindingError {
	return &BindingError{Source: source, Member: member, Reason: reason}
}

// IsBindingError returns true if the error is a BindingError.
func IsBindingError(err error) bool {
	var e *BindingError
	return errors.As(err, &e)
}

// UnsupportedOperatorError is returned when a result operator has no
// registered handler.
type UnsupportedOperatorError struct {
	Operator string
}

// Error returns the error string.
func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("veloxrt: result operator %s is not supported", e.Operator)
}

// IsUnsupportedOperator returns true if the error is an UnsupportedOperatorError.
func IsUnsupportedOperator(err error) bool {
	var e *UnsupportedOperatorError
	return errors.As(err, &e)
}

// InvalidStateError is returned when an entry in a state that cannot
// produce a modification command is handed to the update pipeline.
type InvalidStateError struct {
	Entity string
	State  EntityState
}

// Error returns the error string.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("veloxrt: invalid entity state %s for a modification command on %s", e.State, e.Entity)
}

// IsInvalidState returns true if the error is an InvalidStateError.
func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

// ConcurrencyError reports a row-count mismatch during batch execution,
// typically an optimistic concurrency conflict.
type ConcurrencyError struct {
	Table    string
	Expected int64
	Actual   int64
}

// Error returns the error string.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("veloxrt: concurrency conflict on %s: expected %d rows, got %d", e.Table, e.Expected, e.Actual)
}

// IsConcurrencyError returns true if the error is a ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var e *ConcurrencyError
	return errors.As(err, &e)
}

// StoreError marks an error that originated in the backing store.
// Store errors pass through query exception interception unchanged.
type StoreError struct {
	Op  string
	Err error
}

// Error returns the error string.
func (e *StoreError) Error() string {
	return fmt.Sprintf("veloxrt: store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err as a StoreError. Already wrapped errors are
// returned as is.
func NewStoreError(op string, err error) error {
	if err == nil || IsStoreError(err) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError returns true if the error is a StoreError.
func IsStoreError(err error) bool {
	var e *StoreError
	return errors.As(err, &e)
}

// CycleError is returned when the command dependency graph contains a
// cycle that cannot be broken by reparenting.
type CycleError struct {
	Commands []string
}

// Error returns the error string.
func (e *CycleError) Error() string {
	return fmt.Sprintf("veloxrt: unresolvable dependency cycle between commands: %s", strings.Join(e.Commands, " -> "))
}

// IsCycleError returns true if the error is a CycleError.
func IsCycleError(err error) bool {
	var e *CycleError
	return errors.As(err, &e)
}

// NullKeyError is returned when an entity key is built from a null
// primary key value and the null key policy rejects it.
type NullKeyError struct {
	Entity   string
	Property string
}

// Error returns the error string.
func (e *NullKeyError) Error() string {
	return fmt.Sprintf("veloxrt: null value for key property %s.%s", e.Entity, e.Property)
}

// IsNullKey returns true if the error is a NullKeyError.
func IsNullKey(err error) bool {
	var e *NullKeyError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("veloxrt: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// ValidationError represents an invalid option or field value.
type ValidationError struct {
	Name string
	Err  error
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("veloxrt: invalid %s: %s", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError returns a new ValidationError for the given name.
func NewValidationError(name string, err error) *ValidationError {
	return &ValidationError{Name: name, Err: err}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("veloxrt: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "veloxrt: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("veloxrt: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	switch len(filtered) {
	case 0:
		return nil
	case 1:
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

// QueryError wraps a runtime fault raised while a query was iterated,
// for example a materialization or conversion failure.
type QueryError struct {
	Entity string
	Op     string
	Err    error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("veloxrt: querying %s (%s): %v", e.Entity, e.Op, e.Err)
	}
	return fmt.Sprintf("veloxrt: querying %s: %v", e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError returns a new QueryError.
func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	var e *QueryError
	return errors.As(err, &e)
}

// MutationError wraps an error raised while executing a modification
// command against the store.
type MutationError struct {
	Table string
	Op    EntityState
	Err   error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("veloxrt: %s %s: %v", e.Op.Verb(), e.Table, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// NewMutationError returns a new MutationError.
func NewMutationError(table string, op EntityState, err error) *MutationError {
	return &MutationError{Table: table, Op: op, Err: err}
}

// IsMutationError returns true if the error is a MutationError.
func IsMutationError(err error) bool {
	var e *MutationError
	return errors.As(err, &e)
}

// PrivacyError represents a privacy policy violation.
type PrivacyError struct {
	Entity string
	Op     string
	Err    error
}

// Error returns the error string.
func (e *PrivacyError) Error() string {
	return fmt.Sprintf("veloxrt: privacy denied %s on %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the policy decision.
func (e *PrivacyError) Unwrap() error {
	return e.Err
}

// NewPrivacyError returns a new PrivacyError.
func NewPrivacyError(entity, op string, err error) *PrivacyError {
	return &PrivacyError{Entity: entity, Op: op, Err: err}
}

// IsPrivacyError returns true if the error is a PrivacyError.
func IsPrivacyError(err error) bool {
	var e *PrivacyError
	return errors.As(err, &e)
}
