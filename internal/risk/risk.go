// Package risk resolves risky column changes into a concrete classification
// by probing the data the change would touch. After evaluation no group is
// left risky: each becomes safe, unsafe or unfixable.
package risk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/schemalign/schemalign/internal/adapter"
	"github.com/schemalign/schemalign/internal/diff"
	"github.com/schemalign/schemalign/internal/generator"
	"github.com/schemalign/schemalign/internal/schema"
)

// Evaluator probes live data through the adapter.
type Evaluator struct {
	Adapter   adapter.Adapter
	Generator generator.Generator
}

func New(a adapter.Adapter, g generator.Generator) *Evaluator {
	return &Evaluator{Adapter: a, Generator: g}
}

// Group collapses every changedcolumns problem of one (table, column) pair.
type Group struct {
	Table   string
	Field   *schema.Field
	DBField *adapter.Column
	Issues  map[diff.Issue]bool
	Safety  diff.Safety
	Fixes   []diff.DataFix

	problems []*diff.Problem
}

// GroupChanged builds per-column groups from a check result, in discovery
// order. Safety merges to the maximum of the members; Fixes is the union of
// the members' data-fix tags.
func GroupChanged(result *diff.Result) []*Group {
	var groups []*Group
	byKey := make(map[string]*Group)
	for _, table := range result.Order {
		for _, p := range result.Problems[table] {
			if p.Type != diff.ChangedColumns || p.Field == nil {
				continue
			}
			key := p.Table + "." + p.Field.Name
			g, ok := byKey[key]
			if !ok {
				g = &Group{
					Table:   p.Table,
					Field:   p.Field,
					DBField: p.DBField,
					Issues:  make(map[diff.Issue]bool),
				}
				byKey[key] = g
				groups = append(groups, g)
			}
			g.Issues[p.Issue] = true
			if p.Safety > g.Safety {
				g.Safety = p.Safety
			}
			for _, fix := range p.Fixes {
				dup := false
				for _, have := range g.Fixes {
					if have == fix {
						dup = true
						break
					}
				}
				if !dup {
					g.Fixes = append(g.Fixes, fix)
				}
			}
			g.problems = append(g.problems, p)
		}
	}
	return groups
}

// EvaluateRisky resolves every risky changedcolumns group and writes the
// outcome back onto the original problem records.
func (e *Evaluator) EvaluateRisky(ctx context.Context, result *diff.Result) error {
	for _, g := range GroupChanged(result) {
		if g.Safety != diff.Risky {
			continue
		}
		if err := e.evaluate(ctx, g); err != nil {
			return err
		}
		g.propagate()
	}
	return nil
}

var errStop = errors.New("stop iteration")

func (e *Evaluator) evaluate(ctx context.Context, g *Group) error {
	g.Safety = diff.Safe
	g.Fixes = nil
	target := g.Field.ComparisonType()

	if g.Issues[diff.IssueNull] && g.Field.NotNull && g.DBField != nil && !g.DBField.NotNull {
		found, err := e.Adapter.ExistsWhere(ctx, g.Table, g.Field.Name+" IS NULL")
		if err != nil {
			return fmt.Errorf("probing %s.%s for nulls: %w", g.Table, g.Field.Name, err)
		}
		if found {
			g.Safety = diff.Unsafe
			g.Fixes = append(g.Fixes, diff.FixNullDefault)
		}
	}

	if g.Issues[diff.IssueType] && target != schema.Text && target != schema.Char {
		switch target {
		case schema.Integer:
			bad, err := e.anyValueFails(ctx, g, func(s string) bool { return !validInteger(s) })
			if err != nil {
				return err
			}
			if bad {
				g.Safety = diff.Unfixable
				return nil
			}
		case schema.Number:
			bad, err := e.anyValueFails(ctx, g, func(s string) bool {
				_, err := strconv.ParseFloat(s, 64)
				return err != nil
			})
			if err != nil {
				return err
			}
			if bad {
				g.Safety = diff.Unfixable
				return nil
			}
		default:
			g.Safety = diff.Unfixable
			return nil
		}
	}

	if g.Issues[diff.IssueLength] || g.Issues[diff.IssueType] {
		return e.evaluateLength(ctx, g, target)
	}
	return nil
}

func (e *Evaluator) evaluateLength(ctx context.Context, g *Group, target schema.FieldType) error {
	switch target {
	case schema.Text, schema.Integer:
		// No narrowing possible.
	case schema.Char:
		found, err := e.Adapter.ExistsWhere(ctx, g.Table,
			e.Generator.CharLengthSQL(g.Field.Name)+" > ?", g.Field.Length)
		if err != nil {
			return fmt.Errorf("probing %s.%s for oversize values: %w", g.Table, g.Field.Name, err)
		}
		if found {
			g.Safety = diff.Unsafe
			g.Fixes = append(g.Fixes, diff.FixTruncate)
		}
	case schema.Number:
		if g.DBField != nil && g.Field.Decimals < g.DBField.Scale {
			g.Safety = diff.Unsafe
		}
		return e.probeNumberDigits(ctx, g)
	default:
		g.Safety = diff.Unfixable
	}
	return nil
}

// probeNumberDigits streams the column checking each value against the
// declared precision: overflowing integer digits are unrecoverable, while
// excess decimal digits merely lose precision on some rows.
func (e *Evaluator) probeNumberDigits(ctx context.Context, g *Group) error {
	maxInt := g.Field.Length - g.Field.Decimals
	err := e.iterateValues(ctx, g, func(s string) error {
		intDigits, decDigits := splitDigits(s)
		if intDigits > maxInt {
			g.Safety = diff.Unfixable
			return errStop
		}
		if decDigits > g.Field.Decimals && g.Safety == diff.Safe {
			g.Safety = diff.Unsafe
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// anyValueFails streams the column and reports whether any value fails the
// predicate; iteration stops at the first failure.
func (e *Evaluator) anyValueFails(ctx context.Context, g *Group, fails func(string) bool) (bool, error) {
	found := false
	err := e.iterateValues(ctx, g, func(s string) error {
		if fails(s) {
			found = true
			return errStop
		}
		return nil
	})
	return found, err
}

func (e *Evaluator) iterateValues(ctx context.Context, g *Group, fn func(string) error) error {
	col := g.Field.Name
	err := e.Adapter.Iterate(ctx, g.Table, []string{col}, "", nil, func(row map[string]any) error {
		v := row[col]
		if v == nil {
			return nil
		}
		return fn(fmt.Sprintf("%v", v))
	})
	if err != nil && !errors.Is(err, errStop) {
		return fmt.Errorf("scanning %s.%s: %w", g.Table, col, err)
	}
	return nil
}

// propagate writes the group's classification onto every member record.
func (g *Group) propagate() {
	for _, p := range g.problems {
		p.Safety = g.Safety
		p.Fixes = append([]diff.DataFix(nil), g.Fixes...)
	}
}

// validInteger accepts an optional sign followed by decimal digits only.
func validInteger(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if s[0] == '-' || s[0] == '+' {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// splitDigits counts integer and fractional digits of a numeric literal.
func splitDigits(s string) (intDigits, decDigits int) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	intPart, fracPart, _ := strings.Cut(s, ".")
	return len(intPart), len(fracPart)
}
