package generator

import (
	"fmt"
	"strings"

	"github.com/schemalign/schemalign/internal/schema"
)

// Postgres emits PostgreSQL DDL.
type Postgres struct {
	namer
}

var _ Generator = (*Postgres)(nil)

// NewPostgres creates a PostgreSQL generator with the given table prefix.
func NewPostgres(prefix string) *Postgres {
	return &Postgres{namer{prefix: prefix, maxLen: 63}}
}

func (g *Postgres) Prefix() string         { return g.prefix }
func (g *Postgres) PrimaryKeyName() string { return "" }

func (g *Postgres) table(name string) string {
	return quotePg(g.prefix + name)
}

func quotePg(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// typeSQL renders the column type. Sequences become serial columns at table
// creation time only; alters never re-create the sequence.
func (g *Postgres) typeSQL(f *schema.Field, creating bool) string {
	switch f.Type {
	case schema.Integer:
		if creating && f.Sequence {
			if f.Length > 9 {
				return "BIGSERIAL"
			}
			return "SERIAL"
		}
		switch {
		case f.Length > 9:
			return "BIGINT"
		case f.Length > 4:
			return "INTEGER"
		default:
			return "SMALLINT"
		}
	case schema.Number:
		return fmt.Sprintf("NUMERIC(%d,%d)", f.Length, f.Decimals)
	case schema.Float:
		return "DOUBLE PRECISION"
	case schema.Char:
		return fmt.Sprintf("VARCHAR(%d)", f.Length)
	case schema.Text:
		return "TEXT"
	case schema.Binary:
		return "BYTEA"
	case schema.Timestamp, schema.Datetime:
		return "TIMESTAMP"
	}
	return ""
}

// columnSQL renders the full column definition used in CREATE TABLE and ADD
// COLUMN.
func (g *Postgres) columnSQL(f *schema.Field, creating bool) string {
	def := quotePg(f.Name) + " " + g.typeSQL(f, creating)
	if dv := g.DefaultValue(f); dv != nil && !(creating && f.Sequence) {
		def += " DEFAULT " + g.FormattedDefault(f)
	}
	if f.NotNull {
		def += " NOT NULL"
	}
	return def
}

func (g *Postgres) CreateTableSQL(t *schema.Table) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", g.table(t.Name))
	for i, f := range t.Fields {
		b.WriteString("  " + g.columnSQL(f, true))
		if i < len(t.Fields)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	if pk := t.PrimaryKey(); pk != nil {
		fmt.Fprintf(&b, ", CONSTRAINT %s PRIMARY KEY (%s)\n",
			quotePg(g.IdentifierFor(t.Name, pk.Fields, "pk")), g.columnList(pk.Fields))
	}
	b.WriteString(")")

	stmts := []string{b.String()}
	for _, k := range t.Keys {
		if k.Type != schema.Primary {
			stmts = append(stmts, g.AddKeySQL(t.Name, k)...)
		}
	}
	for _, idx := range t.Indexes {
		stmts = append(stmts, g.AddIndexSQL(t.Name, idx)...)
	}
	return stmts
}

func (g *Postgres) CreateStructureSQL(s *schema.Structure) []string {
	var stmts []string
	for _, t := range s.Tables {
		stmts = append(stmts, g.CreateTableSQL(t)...)
	}
	return stmts
}

func (g *Postgres) DropTableSQL(table string) []string {
	return []string{"DROP TABLE " + g.table(table)}
}

func (g *Postgres) RenameTableSQL(table, newName string) []string {
	return []string{"ALTER TABLE " + g.table(table) + " RENAME TO " + quotePg(g.prefix+newName)}
}

func (g *Postgres) AddFieldSQL(table string, f *schema.Field) []string {
	return []string{"ALTER TABLE " + g.table(table) + " ADD COLUMN " + g.columnSQL(f, false)}
}

func (g *Postgres) DropFieldSQL(table, field string) []string {
	return []string{"ALTER TABLE " + g.table(table) + " DROP COLUMN " + quotePg(field)}
}

// AlterFieldSQL aligns type, length, precision and nullability in one batch.
// The default is handled separately by ModifyDefaultSQL.
func (g *Postgres) AlterFieldSQL(table string, f *schema.Field) []string {
	col := quotePg(f.Name)
	typ := g.typeSQL(f, false)
	stmts := []string{
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
			g.table(table), col, typ, col, typ),
	}
	if f.NotNull {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", g.table(table), col))
	} else {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", g.table(table), col))
	}
	return stmts
}

func (g *Postgres) ModifyDefaultSQL(table string, f *schema.Field) []string {
	col := quotePg(f.Name)
	if g.DefaultValue(f) == nil {
		return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", g.table(table), col)}
	}
	return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s",
		g.table(table), col, g.FormattedDefault(f))}
}

func (g *Postgres) RenameFieldSQL(table string, f *schema.Field, newName string) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		g.table(table), quotePg(f.Name), quotePg(newName))}
}

func (g *Postgres) columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quotePg(c)
	}
	return strings.Join(quoted, ", ")
}

// AddKeySQL emits a unique constraint for unique keys and a plain supporting
// index for foreign keys; referential integrity itself is not enforced.
func (g *Postgres) AddKeySQL(table string, k *schema.Key) []string {
	switch k.Type {
	case schema.Primary:
		return nil
	case schema.Unique:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)",
			g.table(table), quotePg(g.IdentifierFor(table, k.Fields, "uk")), g.columnList(k.Fields))}
	default:
		return g.AddIndexSQL(table, k.SupportingIndex())
	}
}

func (g *Postgres) DropKeySQL(table string, k *schema.Key) []string {
	switch k.Type {
	case schema.Primary:
		return nil
	case schema.Unique:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s",
			g.table(table), quotePg(g.IdentifierFor(table, k.Fields, "uk")))}
	default:
		return g.DropIndexSQL(table, g.IdentifierFor(table, k.Fields, "ix"))
	}
}

func (g *Postgres) RenameKeySQL(table string, k *schema.Key, newName string) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s RENAME CONSTRAINT %s TO %s",
		g.table(table), quotePg(g.IdentifierFor(table, k.Fields, "uk")), quotePg(newName))}
}

func (g *Postgres) AddIndexSQL(table string, idx *schema.Index) []string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	suffix := "ix"
	if idx.Unique {
		suffix = "uix"
	}
	return []string{fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, quotePg(g.IdentifierFor(table, idx.Fields, suffix)), g.table(table), g.columnList(idx.Fields))}
}

func (g *Postgres) DropIndexSQL(_ string, index string) []string {
	return []string{"DROP INDEX " + quotePg(index)}
}

func (g *Postgres) RenameIndexSQL(_ string, idx *schema.Index, newName string) []string {
	return []string{"ALTER INDEX " + quotePg(idx.Name) + " RENAME TO " + quotePg(newName)}
}

func (g *Postgres) ResetSequenceSQL(table string) []string {
	tbl := g.prefix + table
	return []string{fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 1))",
		tbl, quotePg(tbl))}
}

func (g *Postgres) DefaultValue(f *schema.Field) *string  { return defaultValue(f) }
func (g *Postgres) FormattedDefault(f *schema.Field) string { return formattedDefault(f) }

func (g *Postgres) CharLengthSQL(column string) string {
	return "char_length(" + quotePg(column) + ")"
}

func (g *Postgres) EndedStatements(stmts []string) []string {
	return ended(stmts, ";")
}
