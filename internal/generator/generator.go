// Package generator emits per-dialect SQL for the DDL dispatcher. Generators
// are pure: they never touch the database.
package generator

import (
	"strings"

	"github.com/schemalign/schemalign/internal/schema"
)

// Generator is the per-dialect statement emitter consumed by the dispatcher.
// Operations return the ordered statement batch implementing the change, or
// nil when the dialect cannot express it.
type Generator interface {
	CreateTableSQL(t *schema.Table) []string
	CreateStructureSQL(s *schema.Structure) []string
	DropTableSQL(table string) []string
	RenameTableSQL(table, newName string) []string

	AddFieldSQL(table string, f *schema.Field) []string
	DropFieldSQL(table, field string) []string
	AlterFieldSQL(table string, f *schema.Field) []string
	ModifyDefaultSQL(table string, f *schema.Field) []string
	RenameFieldSQL(table string, f *schema.Field, newName string) []string

	AddKeySQL(table string, k *schema.Key) []string
	DropKeySQL(table string, k *schema.Key) []string
	RenameKeySQL(table string, k *schema.Key, newName string) []string

	AddIndexSQL(table string, idx *schema.Index) []string
	DropIndexSQL(table, index string) []string
	RenameIndexSQL(table string, idx *schema.Index, newName string) []string

	ResetSequenceSQL(table string) []string

	// DefaultValue is the effective default of a declared field: the explicit
	// default when present, the dialect's implicit default for NOT NULL
	// character columns otherwise, nil when the column has none.
	DefaultValue(f *schema.Field) *string

	// FormattedDefault renders the effective default as a SQL literal.
	FormattedDefault(f *schema.Field) string

	// CharLengthSQL is the dialect expression for the character length of a
	// column, used in data probes.
	CharLengthSQL(column string) string

	// IdentifierFor derives the canonical name of a constraint or index on
	// the given columns.
	IdentifierFor(table string, cols []string, suffix string) string

	// PrimaryKeyName is the fixed name of primary keys for dialects that
	// have one (e.g. MySQL's PRIMARY); empty when names are derived.
	PrimaryKeyName() string

	Prefix() string

	// EndedStatements terminates each statement for the dialect. Used only
	// when embedding SQL into human-readable problem descriptions.
	EndedStatements(stmts []string) []string
}

// namer holds the naming rules shared by all dialects.
type namer struct {
	prefix string
	maxLen int
}

// IdentifierFor builds "<prefix><table>_<col-abbrevs>_<suffix>", trimming the
// column part when the result would exceed the dialect's identifier limit.
func (n namer) IdentifierFor(table string, cols []string, suffix string) string {
	var abbrevs []string
	for _, c := range cols {
		abbrevs = append(abbrevs, abbrev(c, 3))
	}
	colPart := strings.Join(abbrevs, "")

	name := n.prefix + table + "_" + colPart
	if suffix != "" {
		name += "_" + suffix
	}
	for len(name) > n.maxLen && len(colPart) > 1 {
		colPart = colPart[:len(colPart)-1]
		name = n.prefix + table + "_" + colPart
		if suffix != "" {
			name += "_" + suffix
		}
	}
	return name
}

func abbrev(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ended appends the given terminator to each statement.
func ended(stmts []string, term string) []string {
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s + term
	}
	return out
}

// quoteSQLString renders a single-quoted SQL string literal.
func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// isNumericType reports whether defaults of the type render unquoted.
func isNumericType(ft schema.FieldType) bool {
	switch ft {
	case schema.Integer, schema.Number, schema.Float:
		return true
	}
	return false
}

// implicit empty-string default for NOT NULL character columns.
var emptyDefault = ""

// defaultValue implements the shared effective-default rule.
func defaultValue(f *schema.Field) *string {
	if f.Default != nil {
		return f.Default
	}
	if f.NotNull && (f.Type == schema.Char || f.Type == schema.Text) {
		return &emptyDefault
	}
	return nil
}

// formattedDefault implements the shared literal rendering over defaultValue.
func formattedDefault(f *schema.Field) string {
	dv := defaultValue(f)
	if dv == nil {
		return "NULL"
	}
	if isNumericType(f.Type) {
		if *dv == "" {
			return "0"
		}
		return *dv
	}
	return quoteSQLString(*dv)
}
