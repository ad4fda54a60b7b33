// Package dispatch wraps the SQL generator and the database adapter into
// guarded DDL operations: every statement batch is preceded by explicit
// existence and dependency checks, and every failure carries a typed kind.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/schemalign/schemalign/internal/adapter"
	"github.com/schemalign/schemalign/internal/generator"
	"github.com/schemalign/schemalign/internal/schema"
)

// Dispatcher executes guarded DDL against one adapter/generator pair.
type Dispatcher struct {
	Adapter   adapter.Adapter
	Generator generator.Generator
	Log       *slog.Logger
}

func New(a adapter.Adapter, g generator.Generator, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{Adapter: a, Generator: g, Log: log}
}

// TableExists reports whether the table is present in the database.
func (d *Dispatcher) TableExists(ctx context.Context, table string) (bool, error) {
	tables, err := d.Adapter.Tables(ctx)
	if err != nil {
		return false, err
	}
	return tables[table], nil
}

// FieldExists reports whether the column is present. The table must exist.
func (d *Dispatcher) FieldExists(ctx context.Context, table, field string) (bool, error) {
	cols, err := d.Adapter.Columns(ctx, table)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if c.Name == field {
			return true, nil
		}
	}
	return false, nil
}

// IndexExists reports whether a database index exists whose column sequence
// exactly equals the candidate's. Compare FindIndexName, which matches on the
// column set.
func (d *Dispatcher) IndexExists(ctx context.Context, table string, idx *schema.Index) (bool, error) {
	live, err := d.Adapter.Indexes(ctx, table, false)
	if err != nil {
		return false, err
	}
	for _, l := range live {
		if idx.SameColumns(l.Columns) {
			return true, nil
		}
	}
	return false, nil
}

// FindIndexName returns the names of database indexes covering the same
// column set as the candidate, in any order. With all false, at most the
// first match is returned. Matching is deliberately looser than IndexExists.
func (d *Dispatcher) FindIndexName(ctx context.Context, table string, idx *schema.Index, all bool) ([]string, error) {
	live, err := d.Adapter.Indexes(ctx, table, false)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, l := range live {
		if idx.SameColumnSet(l.Columns) {
			names = append(names, l.Name)
			if !all {
				break
			}
		}
	}
	return names, nil
}

// FindKeyName returns the generator's canonical name for a key. It never
// consults the database.
func (d *Dispatcher) FindKeyName(table string, k *schema.Key) string {
	switch k.Type {
	case schema.Primary:
		if n := d.Generator.PrimaryKeyName(); n != "" {
			return n
		}
		return d.Generator.IdentifierFor(table, k.Fields, "pk")
	case schema.Unique:
		return d.Generator.IdentifierFor(table, k.Fields, "uk")
	default:
		return d.Generator.IdentifierFor(table, k.Fields, "fk")
	}
}

func (d *Dispatcher) execute(ctx context.Context, stmts []string, tables ...string) error {
	if len(stmts) == 0 {
		return errf(KindUnknown, "", "", "generator produced no sql")
	}
	for _, s := range stmts {
		d.Log.Debug("executing ddl", "sql", s)
	}
	if err := d.Adapter.ExecDDL(ctx, stmts, tables); err != nil {
		return &Error{Kind: KindChangeStructure, Err: err}
	}
	// Memoised column/index maps are stale after any structural change.
	d.Adapter.ResetCaches()
	return nil
}

// requireTable fails with table_missing when the table is absent.
func (d *Dispatcher) requireTable(ctx context.Context, table string) error {
	ok, err := d.TableExists(ctx, table)
	if err != nil {
		return &Error{Kind: KindUnknown, Table: table, Err: err}
	}
	if !ok {
		return errf(KindTableMissing, table, "", "table does not exist")
	}
	return nil
}

// requireChangeable verifies table and field presence and that no index
// references the column. Callers must drop covering indexes first; the
// dispatcher never drops them implicitly.
func (d *Dispatcher) requireChangeable(ctx context.Context, table, field string) error {
	if err := d.requireTable(ctx, table); err != nil {
		return err
	}
	ok, err := d.FieldExists(ctx, table, field)
	if err != nil {
		return &Error{Kind: KindUnknown, Table: table, Field: field, Err: err}
	}
	if !ok {
		return errf(KindFieldMissing, table, field, "column does not exist")
	}
	idxs, err := d.Adapter.Indexes(ctx, table, true)
	if err != nil {
		return &Error{Kind: KindUnknown, Table: table, Err: err}
	}
	for _, idx := range idxs {
		if idx.Covers(field) {
			return errf(KindDependency, table, field, "column is part of index %s", idx.Name)
		}
	}
	return nil
}

// CreateTable creates a declared table, its keys and its indexes.
func (d *Dispatcher) CreateTable(ctx context.Context, t *schema.Table) error {
	ok, err := d.TableExists(ctx, t.Name)
	if err != nil {
		return &Error{Kind: KindUnknown, Table: t.Name, Err: err}
	}
	if ok {
		return errf(KindTableExists, t.Name, "", "table already exists")
	}
	return d.execute(ctx, d.Generator.CreateTableSQL(t), t.Name)
}

func (d *Dispatcher) DropTable(ctx context.Context, table string) error {
	if err := d.requireTable(ctx, table); err != nil {
		return err
	}
	return d.execute(ctx, d.Generator.DropTableSQL(table), table)
}

// RenameTable distinguishes an already-renamed table (source absent, target
// present) from a target name clash.
func (d *Dispatcher) RenameTable(ctx context.Context, table, newName string) error {
	if newName == "" {
		return errf(KindUnknown, table, "", "empty new table name")
	}
	srcOK, err := d.TableExists(ctx, table)
	if err != nil {
		return &Error{Kind: KindUnknown, Table: table, Err: err}
	}
	dstOK, err := d.TableExists(ctx, newName)
	if err != nil {
		return &Error{Kind: KindUnknown, Table: newName, Err: err}
	}
	switch {
	case !srcOK && dstOK:
		return errf(KindTableMissing, table, "", "table %s already renamed to %s", table, newName)
	case !srcOK:
		return errf(KindTableMissing, table, "", "table does not exist")
	case dstOK:
		return errf(KindTableExists, newName, "", "target name already in use")
	}
	return d.execute(ctx, d.Generator.RenameTableSQL(table, newName), table, newName)
}

// AddField adds a declared column. A NOT NULL column without an effective
// default cannot be added to a populated table.
func (d *Dispatcher) AddField(ctx context.Context, table string, f *schema.Field) error {
	if err := d.requireTable(ctx, table); err != nil {
		return err
	}
	ok, err := d.FieldExists(ctx, table, f.Name)
	if err != nil {
		return &Error{Kind: KindUnknown, Table: table, Field: f.Name, Err: err}
	}
	if ok {
		return errf(KindFieldExists, table, f.Name, "column already exists")
	}
	if f.NotNull && d.Generator.DefaultValue(f) == nil {
		count, err := d.Adapter.CountRows(ctx, table)
		if err != nil {
			return &Error{Kind: KindUnknown, Table: table, Err: err}
		}
		if count > 0 {
			return errf(KindUnknown, table, f.Name,
				"cannot add NOT NULL column without default to populated table")
		}
	}
	return d.execute(ctx, d.Generator.AddFieldSQL(table, f), table)
}

func (d *Dispatcher) DropField(ctx context.Context, table, field string) error {
	if err := d.requireChangeable(ctx, table, field); err != nil {
		return err
	}
	return d.execute(ctx, d.Generator.DropFieldSQL(table, field), table)
}

// ChangeFieldType aligns the live column with the declared field: type,
// length, precision and nullability travel in one alter.
func (d *Dispatcher) ChangeFieldType(ctx context.Context, table string, f *schema.Field) error {
	if err := d.requireChangeable(ctx, table, f.Name); err != nil {
		return err
	}
	return d.execute(ctx, d.Generator.AlterFieldSQL(table, f), table)
}

// ChangeFieldPrecision is a deprecated alias kept for call-site clarity; the
// single alter path handles precision.
func (d *Dispatcher) ChangeFieldPrecision(ctx context.Context, table string, f *schema.Field) error {
	return d.ChangeFieldType(ctx, table, f)
}

// ChangeFieldNotNull is a deprecated alias kept for call-site clarity.
func (d *Dispatcher) ChangeFieldNotNull(ctx context.Context, table string, f *schema.Field) error {
	return d.ChangeFieldType(ctx, table, f)
}

// ChangeFieldUnsigned is a deprecated alias kept for call-site clarity.
func (d *Dispatcher) ChangeFieldUnsigned(ctx context.Context, table string, f *schema.Field) error {
	return d.ChangeFieldType(ctx, table, f)
}

// ChangeFieldDefault re-applies the declared default. Engines that rebuild a
// column on type change may lose it, so the fixer calls this after every
// ChangeFieldType.
func (d *Dispatcher) ChangeFieldDefault(ctx context.Context, table string, f *schema.Field) error {
	if err := d.requireChangeable(ctx, table, f.Name); err != nil {
		return err
	}
	return d.execute(ctx, d.Generator.ModifyDefaultSQL(table, f), table)
}

func (d *Dispatcher) RenameField(ctx context.Context, table string, f *schema.Field, newName string) error {
	if f.Name == "id" {
		return errf(KindUnknown, table, "id", "the id column cannot be renamed")
	}
	if newName == "" {
		return errf(KindUnknown, table, f.Name, "empty new column name")
	}
	if err := d.requireChangeable(ctx, table, f.Name); err != nil {
		return err
	}
	return d.execute(ctx, d.Generator.RenameFieldSQL(table, f, newName), table)
}

// AddIndex creates an index. If the engine rejects the statement and the
// adapter can convert the table's row format, the creation is retried once.
func (d *Dispatcher) AddIndex(ctx context.Context, table string, idx *schema.Index) error {
	if err := d.requireTable(ctx, table); err != nil {
		return err
	}
	ok, err := d.IndexExists(ctx, table, idx)
	if err != nil {
		return &Error{Kind: KindUnknown, Table: table, Err: err}
	}
	if ok {
		return errf(KindUnknown, table, "", "index on (%s) already exists", joinCols(idx.Fields))
	}

	execErr := d.execute(ctx, d.Generator.AddIndexSQL(table, idx), table)
	if execErr == nil || !IsChangeStructure(execErr) {
		return execErr
	}
	conv, ok := d.Adapter.(adapter.RowFormatConverter)
	if !ok {
		return execErr
	}
	d.Log.Warn("index creation failed, converting row format and retrying",
		"table", table, "index", idx.Name)
	if err := conv.ConvertTableRowFormat(ctx, table); err != nil {
		return execErr
	}
	return d.execute(ctx, d.Generator.AddIndexSQL(table, idx), table)
}

func (d *Dispatcher) DropIndex(ctx context.Context, table, index string) error {
	if err := d.requireTable(ctx, table); err != nil {
		return err
	}
	live, err := d.Adapter.Indexes(ctx, table, false)
	if err != nil {
		return &Error{Kind: KindUnknown, Table: table, Err: err}
	}
	found := false
	for _, l := range live {
		if l.Name == index {
			found = true
			break
		}
	}
	if !found {
		return errf(KindUnknown, table, "", "index %s does not exist", index)
	}
	return d.execute(ctx, d.Generator.DropIndexSQL(table, index), table)
}

func (d *Dispatcher) RenameIndex(ctx context.Context, table string, idx *schema.Index, newName string) error {
	if newName == "" {
		return errf(KindUnknown, table, "", "empty new index name")
	}
	if err := d.requireTable(ctx, table); err != nil {
		return err
	}
	return d.execute(ctx, d.Generator.RenameIndexSQL(table, idx, newName), table)
}

// AddKey adds a unique or foreign key. Primary keys exist only from table
// creation; adding one later is rejected outright.
func (d *Dispatcher) AddKey(ctx context.Context, table string, k *schema.Key) error {
	if k.Type == schema.Primary {
		return errf(KindUnknown, table, "", "primary keys can only be added at table create time")
	}
	if err := d.requireTable(ctx, table); err != nil {
		return err
	}
	return d.execute(ctx, d.Generator.AddKeySQL(table, k), table)
}

// DropKey drops a unique or foreign key; dropping PRIMARY is rejected.
func (d *Dispatcher) DropKey(ctx context.Context, table string, k *schema.Key) error {
	if k.Type == schema.Primary {
		return errf(KindUnknown, table, "", "primary keys cannot be dropped")
	}
	if err := d.requireTable(ctx, table); err != nil {
		return err
	}
	return d.execute(ctx, d.Generator.DropKeySQL(table, k), table)
}

func (d *Dispatcher) RenameKey(ctx context.Context, table string, k *schema.Key, newName string) error {
	if k.Type == schema.Primary {
		return errf(KindUnknown, table, "", "primary keys cannot be renamed")
	}
	if newName == "" {
		return errf(KindUnknown, table, "", "empty new key name")
	}
	if err := d.requireTable(ctx, table); err != nil {
		return err
	}
	return d.execute(ctx, d.Generator.RenameKeySQL(table, k, newName), table)
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
