// Package sqlerr classifies errors returned by SQL drivers.
package sqlerr

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/syssam/veloxrt"
)

// Kind is the class of a constraint violation.
type Kind uint8

// Constraint violation kinds.
const (
	None Kind = iota
	Unique
	ForeignKey
	Check
	NotNull
)

var kindNames = [...]string{
	None:       "none",
	Unique:     "unique",
	ForeignKey: "foreign key",
	Check:      "check",
	NotNull:    "not null",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlBadNull           = 1048
	mysqlDuplicateEntry    = 1062
	mysqlForeignKeyParent  = 1451
	mysqlForeignKeyChild   = 1452
	mysqlCheckConstraint   = 3819
	sqliteConstraintUnique = 2067
	sqlitePrimaryKey       = 1555
	sqliteForeignKey       = 787
	sqliteCheck            = 275
	sqliteNotNull          = 1299
)

// sqlStateError is implemented by drivers exposing SQLSTATE codes (pgx).
type sqlStateError interface {
	SQLState() string
}

// extendedCoder is implemented by modernc.org/sqlite errors.
type extendedCoder interface {
	Code() int
}

// Classify returns the constraint kind of err, or None.
func Classify(err error) Kind {
	if err == nil {
		return None
	}
	if e, ok := asError[*pq.Error](err); ok {
		return fromSQLState(string(e.Code))
	}
	if e, ok := asError[*mysql.MySQLError](err); ok {
		return fromMySQL(e.Number)
	}
	if e, ok := asError[sqlStateError](err); ok {
		if k := fromSQLState(e.SQLState()); k != None {
			return k
		}
	}
	if e, ok := asError[extendedCoder](err); ok {
		switch e.Code() {
		case sqliteConstraintUnique, sqlitePrimaryKey:
			return Unique
		case sqliteForeignKey:
			return ForeignKey
		case sqliteCheck:
			return Check
		case sqliteNotNull:
			return NotNull
		}
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "Error 1062", "violates unique constraint", "UNIQUE constraint failed"):
		return Unique
	case containsAny(msg, "Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"):
		return ForeignKey
	case containsAny(msg, "Error 3819", "violates check constraint", "CHECK constraint failed"):
		return Check
	case containsAny(msg, "Error 1048", "violates not-null constraint", "NOT NULL constraint failed"):
		return NotNull
	}
	return None
}

func fromSQLState(code string) Kind {
	switch code {
	case pgUniqueViolation:
		return Unique
	case pgForeignKeyViolation:
		return ForeignKey
	case pgCheckViolation:
		return Check
	case pgNotNullViolation:
		return NotNull
	}
	return None
}

func fromMySQL(n uint16) Kind {
	switch n {
	case mysqlDuplicateEntry:
		return Unique
	case mysqlForeignKeyParent, mysqlForeignKeyChild:
		return ForeignKey
	case mysqlCheckConstraint:
		return Check
	case mysqlBadNull:
		return NotNull
	}
	return None
}

// IsUniqueConstraintError reports if the error resulted from a uniqueness constraint violation.
func IsUniqueConstraintError(err error) bool { return Classify(err) == Unique }

// IsForeignKeyConstraintError reports if the error resulted from a foreign-key constraint violation.
func IsForeignKeyConstraintError(err error) bool { return Classify(err) == ForeignKey }

// IsCheckConstraintError reports if the error resulted from a check constraint violation.
func IsCheckConstraintError(err error) bool { return Classify(err) == Check }

// Wrap converts constraint violations into veloxrt.ConstraintError and
// marks every other error as store originated.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if k := Classify(err); k != None {
		return veloxrt.NewStoreError(op, veloxrt.NewConstraintError(k.String(), err))
	}
	return veloxrt.NewStoreError(op, err)
}

// asError attempts to extract an error implementing T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	if errors.As(err, &target) {
		return target, true
	}
	return target, false
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
