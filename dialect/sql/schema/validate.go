package schema

import (
	"context"
	"fmt"
	"strings"

	atlas "ariga.io/atlas/sql/schema"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/dialect/sql"
	"github.com/syssam/veloxrt/metadata"
)

// ValidationError describes a mismatch between the model and the store.
type ValidationError struct {
	Table   string
	Column  string
	Message string
	// Breaking reports that reads or writes of the table will fail.
	Breaking bool
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the results of schema validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// HasBreakingChanges returns true if there are any breaking mismatches.
func (r *ValidationResult) HasBreakingChanges() bool {
	for _, e := range r.Errors {
		if e.Breaking {
			return true
		}
	}
	for _, w := range r.Warnings {
		if w.Breaking {
			return true
		}
	}
	return false
}

// Err returns the errors of the result as one error, or nil.
func (r *ValidationResult) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return veloxrt.NewAggregateError(errs...)
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	write := func(title string, errs []*ValidationError) {
		if len(errs) == 0 {
			return
		}
		sb.WriteString(title)
		sb.WriteString(":\n")
		for _, e := range errs {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			if e.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	write("Errors", r.Errors)
	write("Warnings", r.Warnings)
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

func (r *ValidationResult) add(err *ValidationError, warn bool) {
	if warn {
		r.Warnings = append(r.Warnings, err)
	} else {
		r.Errors = append(r.Errors, err)
	}
}

// AllowUnmappedColumns reports required store columns the model does not
// write as warnings instead of errors.
func AllowUnmappedColumns() Option {
	return func(o *options) {
		o.allowUnmapped = true
	}
}

// AllowNullMismatch reports NOT NULL columns of nullable properties as
// warnings instead of errors.
func AllowNullMismatch() Option {
	return func(o *options) {
		o.allowNullMismatch = true
	}
}

// Validate inspects the database behind drv and reports where it cannot
// hold the model: missing tables and columns are breaking errors.
//
// Example:
//
//	result, err := schema.Validate(ctx, drv, model)
//	if err != nil {
//	    return err
//	}
//	if result.HasBreakingChanges() {
//	    log.Fatal("schema mismatch:", result)
//	}
func Validate(ctx context.Context, drv *sql.Driver, model *metadata.Model, opts ...Option) (*ValidationResult, error) {
	o := buildOptions(opts)
	desired, err := Tables(model, drv.Dialect(), opts...)
	if err != nil {
		return nil, err
	}
	d, err := open(drv)
	if err != nil {
		return nil, err
	}
	current, err := inspect(ctx, d, o.schema, desired)
	if err != nil {
		return nil, fmt.Errorf("schema: inspect: %w", err)
	}
	return ValidateTables(current.Tables, desired, opts...), nil
}

// ValidateTables compares the inspected tables with the tables of a
// model.
func ValidateTables(current, desired []*atlas.Table, opts ...Option) *ValidationResult {
	cfg := buildOptions(opts)
	result := &ValidationResult{}
	currentMap := make(map[string]*atlas.Table, len(current))
	for _, t := range current {
		currentMap[t.Name] = t
	}
	for _, t := range desired {
		cur, ok := currentMap[t.Name]
		if !ok {
			result.add(&ValidationError{Table: t.Name, Message: "table does not exist", Breaking: true}, false)
			continue
		}
		validateTable(cur, t, cfg, result)
	}
	return result
}

func validateTable(current, desired *atlas.Table, cfg *options, result *ValidationResult) {
	for _, dc := range desired.Columns {
		cc, ok := current.Column(dc.Name)
		if !ok {
			result.add(&ValidationError{
				Table:    desired.Name,
				Column:   dc.Name,
				Message:  "column does not exist",
				Breaking: true,
			}, false)
			continue
		}
		switch {
		case dc.Type.Null && !cc.Type.Null && cc.Default == nil && !isPrimaryKey(current, cc):
			result.add(&ValidationError{
				Table:   desired.Name,
				Column:  dc.Name,
				Message: "column is NOT NULL but the model may write NULL",
			}, cfg.allowNullMismatch)
		case !dc.Type.Null && cc.Type.Null && !isPrimaryKey(current, cc):
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   desired.Name,
				Column:  dc.Name,
				Message: "column accepts NULL but the property does not",
			})
		}
	}
	for _, cc := range current.Columns {
		if _, ok := desired.Column(cc.Name); ok || cc.Type.Null || cc.Default != nil || isPrimaryKey(current, cc) {
			continue
		}
		result.add(&ValidationError{
			Table:    current.Name,
			Column:   cc.Name,
			Message:  "NOT NULL column without default is not mapped, inserts will fail",
			Breaking: true,
		}, cfg.allowUnmapped)
	}
	if current.PrimaryKey == nil {
		result.Warnings = append(result.Warnings, &ValidationError{
			Table:   current.Name,
			Message: "table has no primary key",
		})
	}
}

func isPrimaryKey(t *atlas.Table, c *atlas.Column) bool {
	if t.PrimaryKey == nil {
		return false
	}
	for _, p := range t.PrimaryKey.Parts {
		if p.C != nil && p.C.Name == c.Name {
			return true
		}
	}
	return false
}
