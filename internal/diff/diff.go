// Package diff compares a declared schema against the live database and
// classifies every discrepancy by repair safety. The engine never throws for
// schema problems; it encodes them as records.
package diff

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/schemalign/schemalign/internal/adapter"
	"github.com/schemalign/schemalign/internal/generator"
	"github.com/schemalign/schemalign/internal/schema"
)

// Options selects which discrepancy categories a check reports. The zero
// value reports nothing; use DefaultOptions for the everything-on record.
type Options struct {
	MissingTables  bool
	ExtraTables    bool
	MissingColumns bool
	ExtraColumns   bool
	ChangedColumns bool
	MissingIndexes bool
	ExtraIndexes   bool

	Limit   []string
	Exclude []string
}

// DefaultOptions enables every category.
func DefaultOptions() Options {
	return Options{
		MissingTables:  true,
		ExtraTables:    true,
		MissingColumns: true,
		ExtraColumns:   true,
		ChangedColumns: true,
		MissingIndexes: true,
		ExtraIndexes:   true,
	}
}

// Tables whose extra indexes are managed outside the declared schema.
var extraIndexExempt = map[string]bool{
	"search_simpledb_index": true,
}

// Engine runs schema checks against one adapter/generator pair.
type Engine struct {
	Adapter   adapter.Adapter
	Generator generator.Generator
}

func New(a adapter.Adapter, g generator.Generator) *Engine {
	return &Engine{Adapter: a, Generator: g}
}

// Check compares the declared structure with the live database.
func (e *Engine) Check(ctx context.Context, s *schema.Structure, opts Options) (*Result, error) {
	result := newResult()

	dbTables, err := e.Adapter.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing database tables: %w", err)
	}
	remaining := make(map[string]bool, len(dbTables))
	for name := range dbTables {
		remaining[name] = true
	}

	for _, t := range s.Filtered(opts.Limit, opts.Exclude).Tables {
		if !remaining[t.Name] {
			if opts.MissingTables {
				result.add(&Problem{
					Table:    t.Name,
					Type:     MissingTables,
					Desc:     "table is missing",
					Status:   StatusError,
					Safety:   Safe,
					TableDef: t,
				})
			}
			continue
		}
		if err := e.checkTable(ctx, t, opts, result); err != nil {
			return nil, err
		}
		delete(remaining, t.Name)
	}

	if opts.ExtraTables && e.Generator.Prefix() != "" {
		e.checkExtraTables(remaining, opts, result)
	}
	return result, nil
}

func (e *Engine) checkTable(ctx context.Context, t *schema.Table, opts Options, result *Result) error {
	dbCols, err := e.Adapter.Columns(ctx, t.Name)
	if err != nil {
		return fmt.Errorf("listing columns of %s: %w", t.Name, err)
	}
	dbIdxs, err := e.Adapter.Indexes(ctx, t.Name, false)
	if err != nil {
		return fmt.Errorf("listing indexes of %s: %w", t.Name, err)
	}

	colByName := make(map[string]*adapter.Column, len(dbCols))
	var colOrder []string
	for i := range dbCols {
		colByName[dbCols[i].Name] = &dbCols[i]
		colOrder = append(colOrder, dbCols[i].Name)
	}

	for _, f := range t.Fields {
		dbcol, present := colByName[f.Name]
		if !present {
			if opts.MissingColumns {
				if err := e.missingColumn(ctx, t, f, result); err != nil {
					return err
				}
			}
			continue
		}
		if opts.ChangedColumns {
			e.compareColumn(t.Name, f, dbcol, result)
		}
		delete(colByName, f.Name)
	}

	liveIdxs := append([]adapter.Index(nil), dbIdxs...)
	if opts.MissingIndexes {
		for _, k := range t.Keys {
			if k.Type == schema.Primary {
				continue
			}
			liveIdxs = e.checkIndex(t.Name, k.SupportingIndex(), liveIdxs, result)
		}
		for _, idx := range t.Indexes {
			liveIdxs = e.checkIndex(t.Name, idx, liveIdxs, result)
		}
	}

	if opts.ExtraIndexes && !extraIndexExempt[t.Name] {
		for _, idx := range liveIdxs {
			result.add(&Problem{
				Table:  t.Name,
				Type:   ExtraIndexes,
				Desc:   fmt.Sprintf("unexpected index %s (%s)", idx.Name, strings.Join(idx.Columns, ", ")),
				Status: StatusInfo,
				Safety: DBIndex,
				Index:  idx.SchemaIndex(),
			})
		}
	}

	if opts.ExtraColumns {
		for _, name := range colOrder {
			dbcol, still := colByName[name]
			if !still {
				continue
			}
			result.add(&Problem{
				Table:   t.Name,
				Type:    ExtraColumns,
				Desc:    fmt.Sprintf("unexpected column %s", name),
				Status:  StatusInfo,
				Safety:  Unsafe,
				DBField: dbcol,
			})
		}
	}
	return nil
}

// missingColumn classifies an absent column: addable when the declared field
// is nullable, carries an effective default, or the table holds no rows.
func (e *Engine) missingColumn(ctx context.Context, t *schema.Table, f *schema.Field, result *Result) error {
	safety := Safe
	if f.NotNull && e.Generator.DefaultValue(f) == nil {
		count, err := e.Adapter.CountRows(ctx, t.Name)
		if err != nil {
			return fmt.Errorf("counting rows of %s: %w", t.Name, err)
		}
		if count > 0 {
			safety = Unfixable
		}
	}
	result.add(&Problem{
		Table:  t.Name,
		Type:   MissingColumns,
		Desc:   fmt.Sprintf("column %s is missing", f.Name),
		Status: StatusError,
		Safety: safety,
		Field:  f,
	})
	return nil
}

func (e *Engine) compareColumn(table string, f *schema.Field, dbcol *adapter.Column, result *Result) {
	declared := f.ComparisonType()
	live := adapter.FieldTypeOf(dbcol.MetaType)

	add := func(issue Issue, safety Safety, desc string) {
		result.add(&Problem{
			Table:   table,
			Type:    ChangedColumns,
			Issue:   issue,
			Desc:    desc,
			Status:  StatusWarning,
			Safety:  safety,
			Field:   f,
			DBField: dbcol,
		})
	}

	if declared == schema.Timestamp || declared == schema.Datetime {
		// Time types have no reliable live representation to align against.
		add(IssueType, Risky, fmt.Sprintf("column %s: declared type %s is not supported", f.Name, declared))
	} else if declared != live {
		safety := Risky
		if declared == schema.Text {
			safety = Safe
		}
		desc := fmt.Sprintf("column %s type differs: expected %s, found %s", f.Name, declared, live)
		if meta := adapter.MetaTypeOf(declared); meta != 0 {
			desc += fmt.Sprintf(" (expected meta type %c, found %c)", meta, dbcol.MetaType)
		}
		add(IssueType, safety, desc)
	}

	if f.NotNull != dbcol.NotNull {
		safety := Safe
		if f.NotNull && !dbcol.NotNull {
			// Tightening can collide with existing NULLs.
			safety = Risky
		}
		add(IssueNull, safety, fmt.Sprintf("column %s nullability differs: expected notnull=%t, found notnull=%t",
			f.Name, f.NotNull, dbcol.NotNull))
	}

	if declared == live {
		e.compareLength(table, f, dbcol, add)
	}

	e.compareDefault(f, dbcol, add)
}

func (e *Engine) compareLength(_ string, f *schema.Field, dbcol *adapter.Column, add func(Issue, Safety, string)) {
	switch f.ComparisonType() {
	case schema.Number:
		if f.Type == schema.Float {
			return
		}
		if f.Length == dbcol.MaxLength && f.Decimals == dbcol.Scale {
			return
		}
		var safety Safety
		switch {
		case f.Decimals < dbcol.Scale:
			safety = Unsafe
		case f.Length < dbcol.MaxLength || f.Decimals > dbcol.Scale:
			safety = Risky
		default:
			safety = Safe
		}
		add(IssueLength, safety, fmt.Sprintf("column %s precision differs: expected (%d,%d), found (%d,%d)",
			f.Name, f.Length, f.Decimals, dbcol.MaxLength, dbcol.Scale))
	case schema.Char:
		if f.Length == dbcol.MaxLength {
			return
		}
		safety := Safe
		if f.Length < dbcol.MaxLength {
			safety = Risky
		}
		add(IssueLength, safety, fmt.Sprintf("column %s length differs: expected %d, found %d",
			f.Name, f.Length, dbcol.MaxLength))
	case schema.Integer:
		if f.EffectiveLength() > dbcol.MaxLength {
			add(IssueLength, Safe, fmt.Sprintf("column %s length differs: expected %d, found %d",
				f.Name, f.EffectiveLength(), dbcol.MaxLength))
		}
	}
}

// compareDefault coerces both defaults through float for number columns and
// through plain strings otherwise; an absent default is distinct from the
// literal string NULL.
func (e *Engine) compareDefault(f *schema.Field, dbcol *adapter.Column, add func(Issue, Safety, string)) {
	declared := e.Generator.DefaultValue(f)
	var live *string
	if dbcol.HasDefault {
		v := dbcol.DefaultValue
		live = &v
	}

	if defaultsEqual(f.ComparisonType(), declared, live) {
		return
	}
	add(IssueDefault, Safe, fmt.Sprintf("column %s default differs: expected %s, found %s",
		f.Name, renderDefault(declared), renderDefault(live)))
}

func defaultsEqual(ft schema.FieldType, a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ft == schema.Number {
		af, aerr := strconv.ParseFloat(*a, 64)
		bf, berr := strconv.ParseFloat(*b, 64)
		if aerr == nil && berr == nil {
			return af == bf
		}
	}
	return *a == *b
}

func renderDefault(v *string) string {
	if v == nil {
		return "NULL"
	}
	return "'" + *v + "'"
}

// checkIndex reports the candidate as missing, or consumes its live
// counterpart (matched by exact column sequence) from the remaining set.
func (e *Engine) checkIndex(table string, idx *schema.Index, live []adapter.Index, result *Result) []adapter.Index {
	for i, l := range live {
		if idx.SameColumns(l.Columns) {
			return append(live[:i:i], live[i+1:]...)
		}
	}
	sql := strings.Join(e.Generator.EndedStatements(e.Generator.AddIndexSQL(table, idx)), " ")
	result.add(&Problem{
		Table:  table,
		Type:   MissingIndexes,
		Desc:   fmt.Sprintf("index on (%s) is missing: %s", strings.Join(idx.Fields, ", "), sql),
		Status: StatusWarning,
		Safety: Safe,
		Index:  idx,
	})
	return live
}

func (e *Engine) checkExtraTables(remaining map[string]bool, opts Options, result *Result) {
	names := make([]string, 0, len(remaining))
	for name := range remaining {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if len(opts.Limit) > 0 && !containsName(opts.Limit, name) {
			continue
		}
		if containsName(opts.Exclude, name) {
			continue
		}
		// phpMyAdmin bookkeeping tables share application prefixes.
		if strings.HasPrefix(name, "pma_") {
			continue
		}
		if strings.HasPrefix(name, "test") {
			result.add(&Problem{
				Table:  name,
				Type:   ExtraTables,
				Desc:   "unexpected test table, leftover of an interrupted run",
				Status: StatusInfo,
				Safety: Safe,
			})
			continue
		}
		result.add(&Problem{
			Table:  name,
			Type:   ExtraTables,
			Desc:   "unexpected table",
			Status: StatusWarning,
			Safety: Unsafe,
		})
	}
}

func containsName(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}
