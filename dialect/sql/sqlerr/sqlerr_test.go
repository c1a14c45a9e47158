package sqlerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxrt"
)

type sqliteErr struct{ code int }

func (e sqliteErr) Error() string { return fmt.Sprintf("sqlite error %d", e.code) }
func (e sqliteErr) Code() int     { return e.code }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"Nil", nil, None},
		{"PostgresUnique", &pq.Error{Code: "23505"}, Unique},
		{"PostgresForeignKey", &pq.Error{Code: "23503"}, ForeignKey},
		{"PostgresCheck", &pq.Error{Code: "23514"}, Check},
		{"PostgresNotNull", &pq.Error{Code: "23502"}, NotNull},
		{"PostgresOther", &pq.Error{Code: "40001"}, None},
		{"MySQLDuplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, Unique},
		{"MySQLParentRow", &mysql.MySQLError{Number: 1451}, ForeignKey},
		{"MySQLChildRow", &mysql.MySQLError{Number: 1452}, ForeignKey},
		{"MySQLCheck", &mysql.MySQLError{Number: 3819}, Check},
		{"SQLiteUnique", sqliteErr{2067}, Unique},
		{"SQLitePrimaryKey", sqliteErr{1555}, Unique},
		{"SQLiteForeignKey", sqliteErr{787}, ForeignKey},
		{"SQLiteFallback", errors.New("constraint failed: UNIQUE constraint failed: ducks.name"), Unique},
		{"Wrapped", fmt.Errorf("dialect/sql: exec: %w", &pq.Error{Code: "23505"}), Unique},
		{"StringForeignKey", errors.New(`insert violates foreign key constraint "fk"`), ForeignKey},
		{"Other", errors.New("connection refused"), None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsUniqueConstraintError(&pq.Error{Code: "23505"}))
	assert.True(t, IsForeignKeyConstraintError(&mysql.MySQLError{Number: 1452}))
	assert.True(t, IsCheckConstraintError(errors.New("CHECK constraint failed: quacks")))
	assert.False(t, IsUniqueConstraintError(nil))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("exec", nil))

	cause := &pq.Error{Code: "23505"}
	err := Wrap("exec", cause)
	require.True(t, veloxrt.IsStoreError(err))
	assert.True(t, veloxrt.IsConstraintError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "constraint failed: unique")

	plain := errors.New("broken pipe")
	err = Wrap("query", plain)
	assert.True(t, veloxrt.IsStoreError(err))
	assert.False(t, veloxrt.IsConstraintError(err))
	assert.Equal(t, "unknown", Kind(42).String())
}
