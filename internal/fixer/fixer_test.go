package fixer

import (
	"context"
	"strings"
	"testing"

	"github.com/schemalign/schemalign/internal/adapter"
	"github.com/schemalign/schemalign/internal/diff"
	"github.com/schemalign/schemalign/internal/dispatch"
	"github.com/schemalign/schemalign/internal/generator"
	"github.com/schemalign/schemalign/internal/risk"
	"github.com/schemalign/schemalign/internal/schema"
)

func strptr(s string) *string { return &s }

var allLevels = map[diff.Safety]bool{
	diff.Safe:    true,
	diff.DBIndex: true,
	diff.Unsafe:  true,
}

func testFixer(m *adapter.Mock) *Fixer {
	g := generator.NewPostgres("app_")
	d := dispatch.New(m, g, nil)
	e := risk.New(m, g)
	return New(m, g, d, e, nil, nil)
}

func resultWith(problems ...*diff.Problem) *diff.Result {
	r := &diff.Result{Problems: make(map[string][]*diff.Problem)}
	for _, p := range problems {
		if _, ok := r.Problems[p.Table]; !ok {
			r.Order = append(r.Order, p.Table)
		}
		r.Problems[p.Table] = append(r.Problems[p.Table], p)
	}
	return r
}

func TestAddMissingTable(t *testing.T) {
	m := &adapter.Mock{Data: map[string]*adapter.MockTable{}}
	f := testFixer(m)

	tbl := &schema.Table{
		Name: "users",
		Fields: []*schema.Field{
			{Name: "id", Type: schema.Integer, Length: 10, NotNull: true, Sequence: true},
			{Name: "email", Type: schema.Char, Length: 100, NotNull: true},
		},
		Keys: []*schema.Key{{Name: "primary", Type: schema.Primary, Fields: []string{"id"}}},
	}
	r := resultWith(&diff.Problem{Table: "users", Type: diff.MissingTables, Safety: diff.Safe, TableDef: tbl})

	count, err := f.Fix(context.Background(), r, map[diff.Safety]bool{diff.Safe: true})
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if len(m.Executed) != 1 || !strings.Contains(m.Executed[0][0], "CREATE TABLE") {
		t.Errorf("executed = %v, want create table batch", m.Executed)
	}
}

func TestAddMissingTableIdempotent(t *testing.T) {
	// The table is already there: re-running the same result is a no-op.
	m := &adapter.Mock{Data: map[string]*adapter.MockTable{"users": {}}}
	f := testFixer(m)
	r := resultWith(&diff.Problem{
		Table: "users", Type: diff.MissingTables, Safety: diff.Safe,
		TableDef: &schema.Table{Name: "users"},
	})

	count, err := f.Fix(context.Background(), r, allLevels)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if count != 0 || len(m.Executed) != 0 {
		t.Errorf("count = %d executed = %d, want no work", count, len(m.Executed))
	}
}

func TestAddMissingField(t *testing.T) {
	m := &adapter.Mock{Data: map[string]*adapter.MockTable{
		"users": {Columns: []adapter.Column{{Name: "id", MetaType: adapter.MetaCounter, MaxLength: 18, NotNull: true}}},
	}}
	f := testFixer(m)

	field := &schema.Field{Name: "email", Type: schema.Char, Length: 100, NotNull: true}
	r := resultWith(&diff.Problem{Table: "users", Type: diff.MissingColumns, Safety: diff.Safe, Field: field})

	count, err := f.Fix(context.Background(), r, allLevels)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if !strings.Contains(m.Executed[0][0], "ADD COLUMN") {
		t.Errorf("executed = %v", m.Executed[0])
	}
}

func TestTruncateThenNarrow(t *testing.T) {
	long := strings.Repeat("x", 180)
	m := &adapter.Mock{Data: map[string]*adapter.MockTable{
		"notes": {
			Columns: []adapter.Column{
				{Name: "id", MetaType: adapter.MetaCounter, MaxLength: 18, NotNull: true},
				{Name: "body", MetaType: adapter.MetaChar, MaxLength: 200},
			},
			Rows: []map[string]any{{"id": int64(1), "body": long}},
		},
	}}
	f := testFixer(m)

	field := &schema.Field{Name: "body", Type: schema.Char, Length: 100}
	r := resultWith(&diff.Problem{
		Table: "notes", Type: diff.ChangedColumns, Issue: diff.IssueLength,
		Safety: diff.Unsafe, Fixes: []diff.DataFix{diff.FixTruncate},
		Field: field, DBField: &adapter.Column{Name: "body", MetaType: adapter.MetaChar, MaxLength: 200},
	})

	count, err := f.Fix(context.Background(), r, map[diff.Safety]bool{diff.Unsafe: true})
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if len(m.UpdatedRows) != 1 {
		t.Fatalf("updated rows = %d, want 1", len(m.UpdatedRows))
	}
	if got := m.UpdatedRows[0]["body"].(string); len([]rune(got)) != 100 {
		t.Errorf("truncated length = %d, want 100", len([]rune(got)))
	}
	// The data fix must precede the alter.
	if len(m.Executed) == 0 || !strings.Contains(m.Executed[0][0], "ALTER TABLE") {
		t.Errorf("executed = %v", m.Executed)
	}
}

func TestTruncateKeepsMultibyteRunes(t *testing.T) {
	oversize := strings.Repeat("ä", 120)
	m := &adapter.Mock{Data: map[string]*adapter.MockTable{
		"notes": {
			Columns: []adapter.Column{
				{Name: "id", MetaType: adapter.MetaCounter, MaxLength: 18, NotNull: true},
				{Name: "body", MetaType: adapter.MetaChar, MaxLength: 200},
			},
			Rows: []map[string]any{{"id": int64(1), "body": oversize}},
		},
	}}
	f := testFixer(m)

	field := &schema.Field{Name: "body", Type: schema.Char, Length: 100}
	r := resultWith(&diff.Problem{
		Table: "notes", Type: diff.ChangedColumns, Issue: diff.IssueLength,
		Safety: diff.Unsafe, Fixes: []diff.DataFix{diff.FixTruncate},
		Field: field, DBField: &adapter.Column{Name: "body"},
	})

	if _, err := f.Fix(context.Background(), r, allLevels); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	got := m.UpdatedRows[0]["body"].(string)
	if len([]rune(got)) != 100 || !strings.HasPrefix(got, "ä") {
		t.Errorf("truncation broke runes: %d runes", len([]rune(got)))
	}
}

func TestNullDefaultThenTighten(t *testing.T) {
	m := &adapter.Mock{Data: map[string]*adapter.MockTable{
		"profile": {
			Columns: []adapter.Column{
				{Name: "id", MetaType: adapter.MetaCounter, MaxLength: 18, NotNull: true},
				{Name: "nickname", MetaType: adapter.MetaChar, MaxLength: 50},
			},
		},
	}}
	f := testFixer(m)

	field := &schema.Field{Name: "nickname", Type: schema.Char, Length: 50, NotNull: true, Default: strptr("")}
	r := resultWith(&diff.Problem{
		Table: "profile", Type: diff.ChangedColumns, Issue: diff.IssueNull,
		Safety: diff.Unsafe, Fixes: []diff.DataFix{diff.FixNullDefault},
		Field: field, DBField: &adapter.Column{Name: "nickname", MetaType: adapter.MetaChar, MaxLength: 50},
	})

	count, err := f.Fix(context.Background(), r, map[diff.Safety]bool{diff.Unsafe: true})
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if len(m.SetWhereCalls) != 1 {
		t.Fatalf("SetWhere calls = %d, want 1", len(m.SetWhereCalls))
	}
	call := m.SetWhereCalls[0]
	if call.Column != "nickname" || call.Value != "" || call.Where != "nickname IS NULL" {
		t.Errorf("SetWhere = %+v", call)
	}
}

func TestIndexDropAndRestoreAroundChange(t *testing.T) {
	m := &adapter.Mock{Data: map[string]*adapter.MockTable{
		"orders": {
			Columns: []adapter.Column{
				{Name: "id", MetaType: adapter.MetaCounter, MaxLength: 18, NotNull: true},
				{Name: "total", MetaType: adapter.MetaNumber, MaxLength: 8, Scale: 2, NotNull: true},
			},
			Indexes: []adapter.Index{{Name: "idx_total", Columns: []string{"total"}}},
		},
	}}
	m.OnDDL = func(stmts, _ []string) {
		for _, s := range stmts {
			switch {
			case strings.Contains(s, "DROP INDEX"):
				m.Data["orders"].Indexes = nil
			case strings.Contains(s, "CREATE INDEX"):
				m.Data["orders"].Indexes = []adapter.Index{{Name: "idx_total", Columns: []string{"total"}}}
			}
		}
	}
	f := testFixer(m)

	field := &schema.Field{Name: "total", Type: schema.Number, Length: 10, Decimals: 2, NotNull: true}
	r := resultWith(&diff.Problem{
		Table: "orders", Type: diff.ChangedColumns, Issue: diff.IssueLength,
		Safety: diff.Safe,
		Field: field, DBField: &adapter.Column{Name: "total", MetaType: adapter.MetaNumber, MaxLength: 8, Scale: 2, NotNull: true},
	})

	count, err := f.Fix(context.Background(), r, map[diff.Safety]bool{diff.Safe: true})
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if len(m.Data["orders"].Indexes) != 1 {
		t.Error("index was not restored after the column change")
	}

	var sequence []string
	for _, batch := range m.Executed {
		sequence = append(sequence, batch[0])
	}
	if len(sequence) < 3 {
		t.Fatalf("executed = %v", sequence)
	}
	if !strings.Contains(sequence[0], "DROP INDEX") {
		t.Errorf("first statement should drop the index: %s", sequence[0])
	}
	if !strings.Contains(sequence[len(sequence)-1], "CREATE INDEX") {
		t.Errorf("last statement should restore the index: %s", sequence[len(sequence)-1])
	}
}

func TestAlterFailureRestoresAndContinues(t *testing.T) {
	m := &adapter.Mock{Data: map[string]*adapter.MockTable{
		"orders": {
			Columns: []adapter.Column{
				{Name: "total", MetaType: adapter.MetaNumber, MaxLength: 8, Scale: 2},
			},
		},
	}}
	m.ExecErr = errBoom{}
	f := testFixer(m)

	field := &schema.Field{Name: "total", Type: schema.Number, Length: 10, Decimals: 2}
	r := resultWith(&diff.Problem{
		Table: "orders", Type: diff.ChangedColumns, Issue: diff.IssueLength,
		Safety: diff.Safe,
		Field: field, DBField: &adapter.Column{Name: "total"},
	})

	count, err := f.Fix(context.Background(), r, allLevels)
	if err != nil {
		t.Fatalf("ddl failure should be absorbed, got %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestUnfixableNeverTouched(t *testing.T) {
	m := &adapter.Mock{Data: map[string]*adapter.MockTable{
		"t": {Columns: []adapter.Column{{Name: "a", MetaType: adapter.MetaChar, MaxLength: 10}}},
	}}
	f := testFixer(m)

	r := resultWith(
		&diff.Problem{
			Table: "t", Type: diff.ChangedColumns, Issue: diff.IssueType, Safety: diff.Unfixable,
			Field: &schema.Field{Name: "a", Type: schema.Binary}, DBField: &adapter.Column{Name: "a"},
		},
		&diff.Problem{
			Table: "t", Type: diff.MissingColumns, Safety: diff.Unfixable,
			Field: &schema.Field{Name: "b", Type: schema.Integer, Length: 10, NotNull: true},
		},
	)

	count, err := f.Fix(context.Background(), r, allLevels)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if count != 0 || len(m.Executed) != 0 {
		t.Errorf("unfixable problems were acted on: count=%d executed=%d", count, len(m.Executed))
	}
}

func TestRiskyLevelRunsEvaluator(t *testing.T) {
	m := &adapter.Mock{
		Data: map[string]*adapter.MockTable{
			"profile": {Columns: []adapter.Column{{Name: "nickname", MetaType: adapter.MetaChar, MaxLength: 50}}},
		},
		Exists: map[string]bool{"profile|nickname IS NULL": true},
	}
	f := testFixer(m)

	field := &schema.Field{Name: "nickname", Type: schema.Char, Length: 50, NotNull: true, Default: strptr("")}
	r := resultWith(&diff.Problem{
		Table: "profile", Type: diff.ChangedColumns, Issue: diff.IssueNull,
		Safety: diff.Risky,
		Field: field, DBField: &adapter.Column{Name: "nickname", MetaType: adapter.MetaChar, MaxLength: 50},
	})

	levels := map[diff.Safety]bool{diff.Risky: true, diff.Unsafe: true}
	count, err := f.Fix(context.Background(), r, levels)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	// The evaluator resolves risky to unsafe with a nulldefault fix, and the
	// unsafe level is requested, so the column is aligned.
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if len(m.SetWhereCalls) != 1 {
		t.Errorf("null rows were not defaulted before tightening")
	}
}

func TestMissingIndexSkipsAbsentColumn(t *testing.T) {
	m := &adapter.Mock{Data: map[string]*adapter.MockTable{
		"t": {Columns: []adapter.Column{{Name: "a", MetaType: adapter.MetaChar, MaxLength: 10}}},
	}}
	f := testFixer(m)

	r := resultWith(&diff.Problem{
		Table: "t", Type: diff.MissingIndexes, Safety: diff.Safe,
		Index: &schema.Index{Name: "bad_ix", Fields: []string{"ghost"}},
	})

	count, err := f.Fix(context.Background(), r, allLevels)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if count != 0 || len(m.Executed) != 0 {
		t.Error("index over an absent column must be skipped")
	}
}

func TestDropExtraFieldDropsItsIndexesFirst(t *testing.T) {
	m := &adapter.Mock{Data: map[string]*adapter.MockTable{
		"t": {
			Columns: []adapter.Column{
				{Name: "id", MetaType: adapter.MetaCounter, MaxLength: 18, NotNull: true},
				{Name: "legacy", MetaType: adapter.MetaChar, MaxLength: 10},
			},
			Indexes: []adapter.Index{{Name: "legacy_ix", Columns: []string{"legacy"}}},
		},
	}}
	m.OnDDL = func(stmts, _ []string) {
		for _, s := range stmts {
			if strings.Contains(s, "DROP INDEX") {
				m.Data["t"].Indexes = nil
			}
		}
	}
	f := testFixer(m)

	r := resultWith(&diff.Problem{
		Table: "t", Type: diff.ExtraColumns, Safety: diff.Unsafe,
		DBField: &adapter.Column{Name: "legacy", MetaType: adapter.MetaChar, MaxLength: 10},
	})

	count, err := f.Fix(context.Background(), r, allLevels)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if !strings.Contains(m.Executed[0][0], "DROP INDEX") {
		t.Errorf("index should drop before the column: %v", m.Executed)
	}
	if !strings.Contains(m.Executed[len(m.Executed)-1][0], "DROP COLUMN") {
		t.Errorf("column drop missing: %v", m.Executed)
	}
}

func TestDropExtraTable(t *testing.T) {
	m := &adapter.Mock{Data: map[string]*adapter.MockTable{"rogue": {}}}
	f := testFixer(m)

	r := resultWith(&diff.Problem{Table: "rogue", Type: diff.ExtraTables, Safety: diff.Unsafe})
	count, err := f.Fix(context.Background(), r, allLevels)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if count != 1 || !strings.Contains(m.Executed[0][0], "DROP TABLE") {
		t.Errorf("count=%d executed=%v", count, m.Executed)
	}
}

func TestFixResetsCachesFirst(t *testing.T) {
	m := &adapter.Mock{Data: map[string]*adapter.MockTable{}}
	f := testFixer(m)

	if _, err := f.Fix(context.Background(), resultWith(), allLevels); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if m.CacheResets == 0 {
		t.Error("fixer must reset adapter caches before running")
	}
}
