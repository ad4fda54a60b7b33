package generator

import (
	"strings"
	"testing"

	"github.com/schemalign/schemalign/internal/schema"
)

func strptr(s string) *string { return &s }

func pgGen() *Postgres { return NewPostgres("app_") }

func TestPostgresTypeRendering(t *testing.T) {
	g := pgGen()
	tests := []struct {
		field *schema.Field
		want  string
	}{
		{&schema.Field{Name: "a", Type: schema.Integer, Length: 2}, "SMALLINT"},
		{&schema.Field{Name: "a", Type: schema.Integer, Length: 9}, "INTEGER"},
		{&schema.Field{Name: "a", Type: schema.Integer, Length: 10}, "BIGINT"},
		{&schema.Field{Name: "a", Type: schema.Number, Length: 10, Decimals: 2}, "NUMERIC(10,2)"},
		{&schema.Field{Name: "a", Type: schema.Float}, "DOUBLE PRECISION"},
		{&schema.Field{Name: "a", Type: schema.Char, Length: 100}, "VARCHAR(100)"},
		{&schema.Field{Name: "a", Type: schema.Text}, "TEXT"},
		{&schema.Field{Name: "a", Type: schema.Binary}, "BYTEA"},
		{&schema.Field{Name: "a", Type: schema.Timestamp}, "TIMESTAMP"},
	}
	for _, tc := range tests {
		stmts := g.AddFieldSQL("t", tc.field)
		if len(stmts) != 1 || !strings.Contains(stmts[0], tc.want) {
			t.Errorf("AddFieldSQL(%s/%d) = %v, want type %s", tc.field.Type, tc.field.Length, stmts, tc.want)
		}
	}
}

func TestPostgresCreateTable(t *testing.T) {
	g := pgGen()
	tbl := &schema.Table{
		Name: "users",
		Fields: []*schema.Field{
			{Name: "id", Type: schema.Integer, Length: 10, NotNull: true, Sequence: true},
			{Name: "email", Type: schema.Char, Length: 100, NotNull: true},
		},
		Keys: []*schema.Key{
			{Name: "primary", Type: schema.Primary, Fields: []string{"id"}},
			{Name: "email_uk", Type: schema.Unique, Fields: []string{"email"}},
		},
	}

	stmts := g.CreateTableSQL(tbl)
	if len(stmts) != 2 {
		t.Fatalf("statements = %d, want 2", len(stmts))
	}
	create := stmts[0]
	if !strings.Contains(create, `CREATE TABLE "app_users"`) {
		t.Errorf("missing create clause: %s", create)
	}
	if !strings.Contains(create, "BIGSERIAL") {
		t.Errorf("sequence column not serial: %s", create)
	}
	if !strings.Contains(create, "PRIMARY KEY") {
		t.Errorf("missing primary key: %s", create)
	}
	if !strings.Contains(create, `"email" VARCHAR(100) DEFAULT '' NOT NULL`) {
		t.Errorf("char column not rendered with implicit default: %s", create)
	}
	if !strings.Contains(stmts[1], "UNIQUE") {
		t.Errorf("unique key statement missing: %s", stmts[1])
	}
}

func TestPostgresAlterField(t *testing.T) {
	g := pgGen()
	f := &schema.Field{Name: "total", Type: schema.Number, Length: 10, Decimals: 2, NotNull: true}
	stmts := g.AlterFieldSQL("orders", f)
	if len(stmts) != 2 {
		t.Fatalf("statements = %d, want 2", len(stmts))
	}
	if !strings.Contains(stmts[0], `TYPE NUMERIC(10,2) USING "total"::NUMERIC(10,2)`) {
		t.Errorf("alter type statement = %s", stmts[0])
	}
	if !strings.Contains(stmts[1], "SET NOT NULL") {
		t.Errorf("not null statement = %s", stmts[1])
	}

	f.NotNull = false
	stmts = g.AlterFieldSQL("orders", f)
	if !strings.Contains(stmts[1], "DROP NOT NULL") {
		t.Errorf("drop not null statement = %s", stmts[1])
	}
}

func TestPostgresModifyDefault(t *testing.T) {
	g := pgGen()

	f := &schema.Field{Name: "status", Type: schema.Char, Length: 20, Default: strptr("new")}
	stmts := g.ModifyDefaultSQL("orders", f)
	if !strings.Contains(stmts[0], "SET DEFAULT 'new'") {
		t.Errorf("set default = %s", stmts[0])
	}

	noDefault := &schema.Field{Name: "note", Type: schema.Char, Length: 20}
	stmts = g.ModifyDefaultSQL("orders", noDefault)
	if !strings.Contains(stmts[0], "DROP DEFAULT") {
		t.Errorf("drop default = %s", stmts[0])
	}
}

func TestPostgresDefaultValue(t *testing.T) {
	g := pgGen()

	explicit := &schema.Field{Name: "a", Type: schema.Char, Length: 5, Default: strptr("x")}
	if dv := g.DefaultValue(explicit); dv == nil || *dv != "x" {
		t.Errorf("explicit default = %v", dv)
	}

	implicit := &schema.Field{Name: "a", Type: schema.Char, Length: 5, NotNull: true}
	if dv := g.DefaultValue(implicit); dv == nil || *dv != "" {
		t.Errorf("implicit char default = %v, want empty string", dv)
	}

	none := &schema.Field{Name: "a", Type: schema.Integer, Length: 10, NotNull: true}
	if dv := g.DefaultValue(none); dv != nil {
		t.Errorf("integer implicit default = %v, want nil", dv)
	}
}

func TestPostgresFormattedDefault(t *testing.T) {
	g := pgGen()
	tests := []struct {
		field *schema.Field
		want  string
	}{
		{&schema.Field{Type: schema.Char, Length: 5, Default: strptr("o'brien")}, "'o''brien'"},
		{&schema.Field{Type: schema.Integer, Length: 10, Default: strptr("42")}, "42"},
		{&schema.Field{Type: schema.Number, Length: 10, Decimals: 2}, "NULL"},
	}
	for _, tc := range tests {
		if got := g.FormattedDefault(tc.field); got != tc.want {
			t.Errorf("FormattedDefault = %s, want %s", got, tc.want)
		}
	}
}

func TestIdentifierForLengthCap(t *testing.T) {
	g := pgGen()
	name := g.IdentifierFor("table", []string{"first", "second", "third"}, "uix")
	if name != "app_table_firsecthi_uix" {
		t.Errorf("identifier = %s", name)
	}
	if len(name) > 63 {
		t.Errorf("identifier exceeds limit: %d", len(name))
	}
}

func TestPostgresEndedStatements(t *testing.T) {
	g := pgGen()
	got := g.EndedStatements([]string{"SELECT 1", "SELECT 2"})
	if got[0] != "SELECT 1;" || got[1] != "SELECT 2;" {
		t.Errorf("EndedStatements = %v", got)
	}
}

func TestPostgresPrimaryKeyName(t *testing.T) {
	if pgGen().PrimaryKeyName() != "" {
		t.Error("postgres primary key names are derived, expected empty")
	}
}
