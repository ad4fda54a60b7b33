// Package adapter abstracts live-database introspection and statement
// execution for the alignment engine. Table names on this interface are
// always unprefixed; each implementation applies the configured prefix.
package adapter

import (
	"context"
	"errors"

	"github.com/schemalign/schemalign/internal/schema"
)

// Meta type codes reported by live column introspection.
const (
	MetaInteger  byte = 'I'
	MetaCounter  byte = 'R'
	MetaNumber   byte = 'N'
	MetaFloat    byte = 'F'
	MetaChar     byte = 'C'
	MetaText     byte = 'X'
	MetaBinary   byte = 'B'
	MetaTime     byte = 'T'
	MetaDatetime byte = 'D'
)

// typesMap normalises meta type codes to declared field types.
var typesMap = map[byte]schema.FieldType{
	MetaInteger:  schema.Integer,
	MetaCounter:  schema.Integer,
	MetaNumber:   schema.Number,
	MetaFloat:    schema.Number,
	MetaChar:     schema.Char,
	MetaText:     schema.Text,
	MetaBinary:   schema.Binary,
	MetaTime:     schema.Timestamp,
	MetaDatetime: schema.Datetime,
}

// FieldTypeOf maps a live column's meta type to the declared type family it
// compares against. Unknown codes return "" .
func FieldTypeOf(meta byte) schema.FieldType {
	return typesMap[meta]
}

// MetaTypeOf is the reverse mapping used in diagnostics: the first meta code
// whose family matches the given declared type, or 0 when the type has no
// single live representation.
func MetaTypeOf(ft schema.FieldType) byte {
	switch ft {
	case schema.Integer:
		return MetaInteger
	case schema.Number, schema.Float:
		return MetaNumber
	case schema.Char:
		return MetaChar
	case schema.Text:
		return MetaText
	case schema.Binary:
		return MetaBinary
	case schema.Timestamp:
		return MetaTime
	case schema.Datetime:
		return MetaDatetime
	}
	return 0
}

// Column describes one live column.
type Column struct {
	Name         string
	MetaType     byte
	MaxLength    int
	Scale        int
	NotNull      bool
	HasDefault   bool
	DefaultValue string
}

// Index describes one live index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
	Primary bool
}

// ErrDDLFailed wraps a failed DDL batch. Callers classify it; the adapter
// only reports that the engine rejected the change.
var ErrDDLFailed = errors.New("ddl execution failed")

// Adapter is the live-database surface the engine drives. Predicates passed
// to ExistsWhere, Iterate and SetWhere use ? placeholders; implementations
// rewrite them for their engine.
type Adapter interface {
	// Tables returns the set of unprefixed table names present in the database.
	Tables(ctx context.Context) (map[string]bool, error)

	// Columns returns the table's columns in ordinal order. Results are
	// memoised until ResetCaches.
	Columns(ctx context.Context, table string) ([]Column, error)

	// Indexes returns the table's indexes in name order, optionally including
	// the primary key. Results are memoised until ResetCaches.
	Indexes(ctx context.Context, table string, includePrimary bool) ([]Index, error)

	// ExecDDL runs a statement batch, transactionally where the engine allows
	// transactional DDL. A failure is reported wrapping ErrDDLFailed.
	ExecDDL(ctx context.Context, stmts []string, tables []string) error

	CountRows(ctx context.Context, table string) (int64, error)
	ExistsWhere(ctx context.Context, table, where string, args ...any) (bool, error)

	// Iterate streams the selected columns of every row matching where (all
	// rows when where is empty), invoking fn per row. Iteration stops on the
	// first error returned by fn.
	Iterate(ctx context.Context, table string, columns []string, where string, args []any, fn func(row map[string]any) error) error

	// SetWhere updates one column for every row matching where.
	SetWhere(ctx context.Context, table, column string, value any, where string, args ...any) error

	// UpdateRow writes the given columns of the row identified by row["id"].
	UpdateRow(ctx context.Context, table string, row map[string]any) error

	// ResetCaches invalidates memoised column and index maps. Must be called
	// before a fixer run.
	ResetCaches()

	Close() error
}

// RowFormatConverter is implemented by adapters whose engine supports
// converting a table's row format to permit longer index keys. Used only as a
// retry after a failed index creation.
type RowFormatConverter interface {
	ConvertTableRowFormat(ctx context.Context, table string) error
}

// SchemaIndex converts a live index into its declared-schema shape, as
// tracked by the fixer across drop/restore regions.
func (i Index) SchemaIndex() *schema.Index {
	return &schema.Index{
		Name:   i.Name,
		Unique: i.Unique,
		Fields: append([]string(nil), i.Columns...),
	}
}

// Covers reports whether the index references the given column.
func (i Index) Covers(column string) bool {
	for _, c := range i.Columns {
		if c == column {
			return true
		}
	}
	return false
}
