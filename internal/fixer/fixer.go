// Package fixer repairs the live database to match the declared schema. It
// runs a fixed sequence of passes over a check result, each filtered to the
// requested safety levels, and re-tests existence before every action so a
// partially failed run can simply be repeated.
package fixer

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/schemalign/schemalign/internal/adapter"
	"github.com/schemalign/schemalign/internal/diff"
	"github.com/schemalign/schemalign/internal/dispatch"
	"github.com/schemalign/schemalign/internal/generator"
	"github.com/schemalign/schemalign/internal/risk"
	"github.com/schemalign/schemalign/internal/schema"
)

// Fixer orchestrates the repair passes.
type Fixer struct {
	Adapter    adapter.Adapter
	Generator  generator.Generator
	Dispatcher *dispatch.Dispatcher
	Evaluator  *risk.Evaluator
	Log        *slog.Logger
	// Stdout receives one line per applied change when non-nil.
	Stdout io.Writer
}

func New(a adapter.Adapter, g generator.Generator, d *dispatch.Dispatcher, e *risk.Evaluator, log *slog.Logger, stdout io.Writer) *Fixer {
	if log == nil {
		log = slog.Default()
	}
	return &Fixer{Adapter: a, Generator: g, Dispatcher: d, Evaluator: e, Log: log, Stdout: stdout}
}

func (f *Fixer) announce(format string, args ...any) {
	if f.Stdout != nil {
		fmt.Fprintf(f.Stdout, format+"\n", args...)
	}
}

// Fix applies every repair whose safety is in levels and returns the number
// of applied changes. Passes run in a fixed order: table and column additions
// first, then column alignment, then index additions, removals last.
func (f *Fixer) Fix(ctx context.Context, result *diff.Result, levels map[diff.Safety]bool) (int, error) {
	f.Adapter.ResetCaches()

	count := 0
	passes := []func(context.Context, *diff.Result, map[diff.Safety]bool) (int, error){
		f.addMissingTables,
		f.addMissingFields,
		f.alignColumnDefinitions,
		f.addMissingIndexes,
		f.dropExtraIndexes,
		f.dropExtraFields,
		f.dropExtraTables,
	}
	for _, pass := range passes {
		n, err := pass(ctx, result, levels)
		count += n
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

func (f *Fixer) addMissingTables(ctx context.Context, result *diff.Result, levels map[diff.Safety]bool) (int, error) {
	count := 0
	for _, table := range result.Order {
		for _, p := range diff.Filter(result.Problems[table], diff.MissingTables, levels) {
			if p.TableDef == nil {
				continue
			}
			exists, err := f.Dispatcher.TableExists(ctx, p.Table)
			if err != nil {
				return count, err
			}
			if exists {
				continue
			}
			if err := f.Dispatcher.CreateTable(ctx, p.TableDef); err != nil {
				return count, err
			}
			f.announce("created table %s", p.Table)
			count++
		}
	}
	return count, nil
}

func (f *Fixer) addMissingFields(ctx context.Context, result *diff.Result, levels map[diff.Safety]bool) (int, error) {
	count := 0
	for _, table := range result.Order {
		for _, p := range diff.Filter(result.Problems[table], diff.MissingColumns, levels) {
			if p.Field == nil {
				continue
			}
			exists, err := f.Dispatcher.FieldExists(ctx, p.Table, p.Field.Name)
			if err != nil {
				return count, err
			}
			if exists {
				continue
			}
			if err := f.Dispatcher.AddField(ctx, p.Table, p.Field); err != nil {
				return count, err
			}
			f.announce("added column %s.%s", p.Table, p.Field.Name)
			count++
		}
	}
	return count, nil
}

func (f *Fixer) alignColumnDefinitions(ctx context.Context, result *diff.Result, levels map[diff.Safety]bool) (int, error) {
	if levels[diff.Risky] && f.Evaluator != nil {
		if err := f.Evaluator.EvaluateRisky(ctx, result); err != nil {
			return 0, err
		}
	}

	count := 0
	for _, g := range risk.GroupChanged(result) {
		if !levels[g.Safety] {
			continue
		}
		n, err := f.alignColumn(ctx, g)
		count += n
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

// alignColumn applies one column's data fixes and schema change inside an
// index drop/restore region. The restore runs even when the alter fails.
func (f *Fixer) alignColumn(ctx context.Context, g *risk.Group) (int, error) {
	exists, err := f.Dispatcher.FieldExists(ctx, g.Table, g.Field.Name)
	if err != nil || !exists {
		return 0, err
	}

	for _, fix := range g.Fixes {
		switch fix {
		case diff.FixNullDefault:
			if err := f.fixNullDefault(ctx, g.Table, g.Field); err != nil {
				return 0, err
			}
		case diff.FixTruncate:
			if err := f.fixTruncate(ctx, g.Table, g.Field); err != nil {
				return 0, err
			}
		}
	}

	dropped, err := f.dropColumnIndexes(ctx, g.Table, g.Field.Name)
	if err != nil {
		return 0, err
	}

	alterErr := f.Dispatcher.ChangeFieldType(ctx, g.Table, g.Field)
	if alterErr == nil {
		// Some engines rebuild the column on type change and lose its
		// default along the way.
		alterErr = f.Dispatcher.ChangeFieldDefault(ctx, g.Table, g.Field)
	}

	f.restoreIndexes(ctx, g.Table, dropped)

	if alterErr != nil {
		if dispatch.IsChangeStructure(alterErr) {
			f.Log.Error("column alignment failed", "table", g.Table, "column", g.Field.Name, "err", alterErr)
			f.announce("could not align column %s.%s: %v", g.Table, g.Field.Name, alterErr)
			return 0, nil
		}
		return 0, alterErr
	}

	f.announce("aligned column %s.%s", g.Table, g.Field.Name)
	return len(g.Issues), nil
}

// fixNullDefault rewrites NULLs to the declared default before the column
// tightens to NOT NULL.
func (f *Fixer) fixNullDefault(ctx context.Context, table string, field *schema.Field) error {
	var value any = ""
	if dv := f.Generator.DefaultValue(field); dv != nil {
		value = *dv
	}
	if err := f.Adapter.SetWhere(ctx, table, field.Name, value, field.Name+" IS NULL"); err != nil {
		return fmt.Errorf("defaulting null rows of %s.%s: %w", table, field.Name, err)
	}
	f.announce("replaced NULL values of %s.%s with the declared default", table, field.Name)
	return nil
}

// fixTruncate shortens oversize values to the declared length before the
// column narrows. Slicing is by rune, so multi-byte data survives intact.
func (f *Fixer) fixTruncate(ctx context.Context, table string, field *schema.Field) error {
	col := field.Name
	where := f.Generator.CharLengthSQL(col) + " > ?"
	err := f.Adapter.Iterate(ctx, table, []string{"id", col}, where, []any{field.Length},
		func(row map[string]any) error {
			val, ok := row[col].(string)
			if !ok {
				return nil
			}
			runes := []rune(val)
			if len(runes) <= field.Length {
				return nil
			}
			row[col] = string(runes[:field.Length])
			return f.Adapter.UpdateRow(ctx, table, row)
		})
	if err != nil {
		return fmt.Errorf("truncating oversize rows of %s.%s: %w", table, col, err)
	}
	f.announce("truncated oversize values of %s.%s to %d characters", table, col, field.Length)
	return nil
}

// dropColumnIndexes removes every index referencing the column and returns
// their declared shapes for the later restore.
func (f *Fixer) dropColumnIndexes(ctx context.Context, table, column string) ([]*schema.Index, error) {
	live, err := f.Adapter.Indexes(ctx, table, false)
	if err != nil {
		return nil, err
	}
	var dropped []*schema.Index
	for _, idx := range live {
		if !idx.Covers(column) {
			continue
		}
		if err := f.Dispatcher.DropIndex(ctx, table, idx.Name); err != nil {
			return dropped, err
		}
		dropped = append(dropped, idx.SchemaIndex())
	}
	return dropped, nil
}

// restoreIndexes recreates previously dropped indexes. A failed restore is
// logged and does not interrupt the run.
func (f *Fixer) restoreIndexes(ctx context.Context, table string, dropped []*schema.Index) {
	for _, idx := range dropped {
		if err := f.Dispatcher.AddIndex(ctx, table, idx); err != nil {
			f.Log.Error("could not restore index", "table", table, "index", idx.Name, "err", err)
		}
	}
}

func (f *Fixer) addMissingIndexes(ctx context.Context, result *diff.Result, levels map[diff.Safety]bool) (int, error) {
	count := 0
	for _, table := range result.Order {
		for _, p := range diff.Filter(result.Problems[table], diff.MissingIndexes, levels) {
			if p.Index == nil {
				continue
			}
			ok, err := f.columnsPresent(ctx, p.Table, p.Index.Fields)
			if err != nil {
				return count, err
			}
			if !ok {
				f.Log.Warn("skipping index, column missing", "table", p.Table, "index", p.Index.Name)
				continue
			}
			exists, err := f.Dispatcher.IndexExists(ctx, p.Table, p.Index)
			if err != nil {
				return count, err
			}
			if exists {
				continue
			}
			if err := f.Dispatcher.AddIndex(ctx, p.Table, p.Index); err != nil {
				return count, err
			}
			f.announce("created index on %s (%s)", p.Table, joinList(p.Index.Fields))
			count++
		}
	}
	return count, nil
}

func (f *Fixer) dropExtraIndexes(ctx context.Context, result *diff.Result, levels map[diff.Safety]bool) (int, error) {
	count := 0
	for _, table := range result.Order {
		for _, p := range diff.Filter(result.Problems[table], diff.ExtraIndexes, levels) {
			if p.Index == nil {
				continue
			}
			if err := f.Dispatcher.DropIndex(ctx, p.Table, p.Index.Name); err != nil {
				if k, ok := dispatch.KindOf(err); ok && k == dispatch.KindUnknown {
					// Already gone; re-runs are expected.
					continue
				}
				return count, err
			}
			f.announce("dropped index %s.%s", p.Table, p.Index.Name)
			count++
		}
	}
	return count, nil
}

func (f *Fixer) dropExtraFields(ctx context.Context, result *diff.Result, levels map[diff.Safety]bool) (int, error) {
	count := 0
	for _, table := range result.Order {
		for _, p := range diff.Filter(result.Problems[table], diff.ExtraColumns, levels) {
			if p.DBField == nil {
				continue
			}
			exists, err := f.Dispatcher.FieldExists(ctx, p.Table, p.DBField.Name)
			if err != nil {
				return count, err
			}
			if !exists {
				continue
			}
			if _, err := f.dropColumnIndexes(ctx, p.Table, p.DBField.Name); err != nil {
				return count, err
			}
			if err := f.Dispatcher.DropField(ctx, p.Table, p.DBField.Name); err != nil {
				return count, err
			}
			f.announce("dropped column %s.%s", p.Table, p.DBField.Name)
			count++
		}
	}
	return count, nil
}

func (f *Fixer) dropExtraTables(ctx context.Context, result *diff.Result, levels map[diff.Safety]bool) (int, error) {
	count := 0
	for _, table := range result.Order {
		for _, p := range diff.Filter(result.Problems[table], diff.ExtraTables, levels) {
			exists, err := f.Dispatcher.TableExists(ctx, p.Table)
			if err != nil {
				return count, err
			}
			if !exists {
				continue
			}
			if err := f.Dispatcher.DropTable(ctx, p.Table); err != nil {
				return count, err
			}
			f.announce("dropped table %s", p.Table)
			count++
		}
	}
	return count, nil
}

func (f *Fixer) columnsPresent(ctx context.Context, table string, cols []string) (bool, error) {
	live, err := f.Adapter.Columns(ctx, table)
	if err != nil {
		return false, err
	}
	present := make(map[string]bool, len(live))
	for _, c := range live {
		present[c.Name] = true
	}
	for _, c := range cols {
		if !present[c] {
			return false, nil
		}
	}
	return true, nil
}

func joinList(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
