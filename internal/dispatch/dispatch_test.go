package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/schemalign/schemalign/internal/adapter"
	"github.com/schemalign/schemalign/internal/generator"
	"github.com/schemalign/schemalign/internal/schema"
)

func strptr(s string) *string { return &s }

func testMock() *adapter.Mock {
	return &adapter.Mock{
		Data: map[string]*adapter.MockTable{
			"users": {
				Columns: []adapter.Column{
					{Name: "id", MetaType: adapter.MetaCounter, MaxLength: 18, NotNull: true},
					{Name: "email", MetaType: adapter.MetaChar, MaxLength: 100, NotNull: true},
					{Name: "age", MetaType: adapter.MetaInteger, MaxLength: 9},
				},
				Indexes: []adapter.Index{
					{Name: "users_pk", Columns: []string{"id"}, Unique: true, Primary: true},
					{Name: "users_email_uix", Columns: []string{"email"}, Unique: true},
				},
				Rows: []map[string]any{
					{"id": int64(1), "email": "a@b.c", "age": int64(30)},
				},
			},
		},
	}
}

func testDispatcher(m *adapter.Mock) *Dispatcher {
	return New(m, generator.NewPostgres("app_"), nil)
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	got, ok := KindOf(err)
	if !ok {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if got != kind {
		t.Fatalf("error kind = %s, want %s (%v)", got, kind, err)
	}
}

func TestCreateTableGuards(t *testing.T) {
	m := testMock()
	d := testDispatcher(m)
	ctx := context.Background()

	err := d.CreateTable(ctx, &schema.Table{Name: "users"})
	wantKind(t, err, KindTableExists)

	tbl := &schema.Table{
		Name:   "posts",
		Fields: []*schema.Field{{Name: "id", Type: schema.Integer, Length: 10, NotNull: true, Sequence: true}},
	}
	if err := d.CreateTable(ctx, tbl); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if len(m.Executed) != 1 {
		t.Fatalf("executed batches = %d, want 1", len(m.Executed))
	}
}

func TestDropTableMissing(t *testing.T) {
	d := testDispatcher(testMock())
	err := d.DropTable(context.Background(), "ghost")
	wantKind(t, err, KindTableMissing)
}

func TestRenameTableDisambiguation(t *testing.T) {
	m := testMock()
	m.Data["archive"] = &adapter.MockTable{}
	d := testDispatcher(m)
	ctx := context.Background()

	// Source absent, target present: reported as already renamed.
	err := d.RenameTable(ctx, "ghost", "archive")
	wantKind(t, err, KindTableMissing)
	if !strings.Contains(err.Error(), "already renamed") {
		t.Errorf("error should mention already renamed: %v", err)
	}

	// Both present: target clash.
	err = d.RenameTable(ctx, "users", "archive")
	wantKind(t, err, KindTableExists)

	err = d.RenameTable(ctx, "users", "")
	wantKind(t, err, KindUnknown)
}

func TestAddFieldGuards(t *testing.T) {
	m := testMock()
	d := testDispatcher(m)
	ctx := context.Background()

	err := d.AddField(ctx, "users", &schema.Field{Name: "email", Type: schema.Char, Length: 100})
	wantKind(t, err, KindFieldExists)

	// NOT NULL, no effective default, populated table.
	err = d.AddField(ctx, "users", &schema.Field{Name: "score", Type: schema.Integer, Length: 10, NotNull: true})
	wantKind(t, err, KindUnknown)

	// A NOT NULL char picks up the implicit empty default and is fine.
	if err := d.AddField(ctx, "users", &schema.Field{Name: "city", Type: schema.Char, Length: 50, NotNull: true}); err != nil {
		t.Fatalf("AddField: %v", err)
	}
}

func TestChangeFieldDependency(t *testing.T) {
	d := testDispatcher(testMock())
	ctx := context.Background()
	f := &schema.Field{Name: "email", Type: schema.Char, Length: 120, NotNull: true}

	// email participates in users_email_uix; caller must drop it first.
	err := d.ChangeFieldType(ctx, "users", f)
	wantKind(t, err, KindDependency)

	err = d.ChangeFieldType(ctx, "users", &schema.Field{Name: "ghost", Type: schema.Char, Length: 10})
	wantKind(t, err, KindFieldMissing)

	err = d.ChangeFieldType(ctx, "ghost", f)
	wantKind(t, err, KindTableMissing)

	// age is not indexed; the change goes through.
	if err := d.ChangeFieldType(ctx, "users", &schema.Field{Name: "age", Type: schema.Integer, Length: 18}); err != nil {
		t.Fatalf("ChangeFieldType: %v", err)
	}
}

func TestDeprecatedWrappersDelegate(t *testing.T) {
	m := testMock()
	d := testDispatcher(m)
	ctx := context.Background()
	f := &schema.Field{Name: "age", Type: schema.Integer, Length: 18}

	if err := d.ChangeFieldPrecision(ctx, "users", f); err != nil {
		t.Fatalf("ChangeFieldPrecision: %v", err)
	}
	if err := d.ChangeFieldNotNull(ctx, "users", f); err != nil {
		t.Fatalf("ChangeFieldNotNull: %v", err)
	}
	if err := d.ChangeFieldUnsigned(ctx, "users", f); err != nil {
		t.Fatalf("ChangeFieldUnsigned: %v", err)
	}
	// All three went through the single alter path.
	for _, batch := range m.Executed {
		if !strings.Contains(batch[0], "ALTER TABLE") {
			t.Errorf("unexpected statement %q", batch[0])
		}
	}
}

func TestRenameFieldRejectsID(t *testing.T) {
	d := testDispatcher(testMock())
	f := &schema.Field{Name: "id", Type: schema.Integer, Length: 10}
	err := d.RenameField(context.Background(), "users", f, "uid")
	wantKind(t, err, KindUnknown)
}

func TestIndexExistsVsFindIndexName(t *testing.T) {
	m := testMock()
	m.Data["users"].Indexes = append(m.Data["users"].Indexes,
		adapter.Index{Name: "users_em_age_ix", Columns: []string{"email", "age"}})
	d := testDispatcher(m)
	ctx := context.Background()

	sameOrder := &schema.Index{Fields: []string{"email", "age"}}
	reversed := &schema.Index{Fields: []string{"age", "email"}}

	ok, err := d.IndexExists(ctx, "users", sameOrder)
	if err != nil || !ok {
		t.Errorf("IndexExists(same order) = %t, %v, want true", ok, err)
	}
	// Sequence equality: a reordered candidate does not exist...
	ok, err = d.IndexExists(ctx, "users", reversed)
	if err != nil || ok {
		t.Errorf("IndexExists(reversed) = %t, %v, want false", ok, err)
	}
	// ...yet FindIndexName still resolves it by column set.
	names, err := d.FindIndexName(ctx, "users", reversed, false)
	if err != nil || len(names) != 1 || names[0] != "users_em_age_ix" {
		t.Errorf("FindIndexName(reversed) = %v, %v", names, err)
	}
}

func TestFindIndexNameAll(t *testing.T) {
	m := testMock()
	m.Data["users"].Indexes = append(m.Data["users"].Indexes,
		adapter.Index{Name: "dup_a", Columns: []string{"age"}},
		adapter.Index{Name: "dup_b", Columns: []string{"age"}},
	)
	d := testDispatcher(m)

	names, err := d.FindIndexName(context.Background(), "users", &schema.Index{Fields: []string{"age"}}, true)
	if err != nil || len(names) != 2 {
		t.Errorf("FindIndexName(all) = %v, %v, want 2 names", names, err)
	}
}

func TestFindKeyNameIsNominal(t *testing.T) {
	m := testMock()
	m.TablesErr = contextCanceled{} // any DB access would fail loudly
	d := testDispatcher(m)

	pk := &schema.Key{Name: "primary", Type: schema.Primary, Fields: []string{"id"}}
	if got := d.FindKeyName("users", pk); got != "app_users_id_pk" {
		t.Errorf("FindKeyName(primary) = %s", got)
	}

	my := New(m, generator.NewMySQL("app_"), nil)
	if got := my.FindKeyName("users", pk); got != "PRIMARY" {
		t.Errorf("FindKeyName(primary, mysql) = %s", got)
	}

	uk := &schema.Key{Name: "email_uk", Type: schema.Unique, Fields: []string{"email"}}
	if got := d.FindKeyName("users", uk); got != "app_users_ema_uk" {
		t.Errorf("FindKeyName(unique) = %s", got)
	}
}

type contextCanceled struct{}

func (contextCanceled) Error() string { return "canceled" }

func TestPrimaryKeyOperationsRejected(t *testing.T) {
	d := testDispatcher(testMock())
	ctx := context.Background()
	pk := &schema.Key{Name: "primary", Type: schema.Primary, Fields: []string{"id"}}

	wantKind(t, d.AddKey(ctx, "users", pk), KindUnknown)
	wantKind(t, d.DropKey(ctx, "users", pk), KindUnknown)
	wantKind(t, d.RenameKey(ctx, "users", pk, "other"), KindUnknown)
}

func TestAddIndexExisting(t *testing.T) {
	d := testDispatcher(testMock())
	err := d.AddIndex(context.Background(), "users", &schema.Index{Name: "x", Fields: []string{"email"}})
	wantKind(t, err, KindUnknown)
}

func TestAddIndexRowFormatRetry(t *testing.T) {
	m := testMock()
	m.ExecErr = contextCanceled{}
	m.ExecErrOnce = true
	d := testDispatcher(m)

	idx := &schema.Index{Name: "age_ix", Fields: []string{"age"}}
	if err := d.AddIndex(context.Background(), "users", idx); err != nil {
		t.Fatalf("AddIndex should succeed after row format conversion: %v", err)
	}
	if len(m.Converted) != 1 || m.Converted[0] != "users" {
		t.Errorf("converted tables = %v, want [users]", m.Converted)
	}
	if len(m.Executed) != 2 {
		t.Errorf("executed batches = %d, want 2 (original + retry)", len(m.Executed))
	}
}

func TestDropIndexMissing(t *testing.T) {
	d := testDispatcher(testMock())
	err := d.DropIndex(context.Background(), "users", "ghost_ix")
	wantKind(t, err, KindUnknown)
}

func TestExecuteResetsCaches(t *testing.T) {
	m := testMock()
	d := testDispatcher(m)
	if err := d.DropIndex(context.Background(), "users", "users_email_uix"); err != nil {
		t.Fatalf("DropIndex: %v", err)
	}
	if m.CacheResets == 0 {
		t.Error("successful ddl should reset adapter caches")
	}
}
