package generator

import (
	"fmt"
	"strings"

	"github.com/schemalign/schemalign/internal/schema"
)

// MySQL emits MySQL/MariaDB DDL.
type MySQL struct {
	namer
}

var _ Generator = (*MySQL)(nil)

// NewMySQL creates a MySQL generator with the given table prefix.
func NewMySQL(prefix string) *MySQL {
	return &MySQL{namer{prefix: prefix, maxLen: 64}}
}

func (g *MySQL) Prefix() string         { return g.prefix }
func (g *MySQL) PrimaryKeyName() string { return "PRIMARY" }

func (g *MySQL) table(name string) string {
	return quoteMy(g.prefix + name)
}

func quoteMy(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (g *MySQL) typeSQL(f *schema.Field) string {
	switch f.Type {
	case schema.Integer:
		switch {
		case f.Length > 9:
			return fmt.Sprintf("BIGINT(%d)", f.Length)
		case f.Length > 6:
			return fmt.Sprintf("INT(%d)", f.Length)
		case f.Length > 4:
			return fmt.Sprintf("MEDIUMINT(%d)", f.Length)
		case f.Length > 2:
			return fmt.Sprintf("SMALLINT(%d)", f.Length)
		default:
			return fmt.Sprintf("TINYINT(%d)", f.Length)
		}
	case schema.Number:
		return fmt.Sprintf("DECIMAL(%d,%d)", f.Length, f.Decimals)
	case schema.Float:
		return "DOUBLE"
	case schema.Char:
		return fmt.Sprintf("VARCHAR(%d)", f.Length)
	case schema.Text:
		return "LONGTEXT"
	case schema.Binary:
		return "LONGBLOB"
	case schema.Timestamp:
		return "TIMESTAMP"
	case schema.Datetime:
		return "DATETIME"
	}
	return ""
}

// columnSQL renders the full column definition. MySQL carries default and
// nullability inside every MODIFY, so the same rendering serves create, add
// and alter.
func (g *MySQL) columnSQL(f *schema.Field) string {
	def := quoteMy(f.Name) + " " + g.typeSQL(f)
	if f.NotNull {
		def += " NOT NULL"
	}
	// TEXT and BLOB columns cannot carry a default in MySQL.
	if dv := g.DefaultValue(f); dv != nil && f.Type != schema.Text && f.Type != schema.Binary && !f.Sequence {
		def += " DEFAULT " + g.FormattedDefault(f)
	}
	if f.Sequence {
		def += " AUTO_INCREMENT"
	}
	return def
}

func (g *MySQL) CreateTableSQL(t *schema.Table) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", g.table(t.Name))
	for i, f := range t.Fields {
		b.WriteString("  " + g.columnSQL(f))
		if i < len(t.Fields)-1 || t.PrimaryKey() != nil {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	if pk := t.PrimaryKey(); pk != nil {
		fmt.Fprintf(&b, "  PRIMARY KEY (%s)\n", g.columnList(pk.Fields))
	}
	b.WriteString(") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4")

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

func (g *MySQL) CreateStructureSQL(s *schema.Structure) []string {
	var stmts []string
	for _, t := range s.Tables {
		stmts = append(stmts, g.CreateTableSQL(t)...)
	}
	return stmts
}

func (g *MySQL) DropTableSQL(table string) []string {
	return []string{"DROP TABLE " + g.table(table)}
}

func (g *MySQL) RenameTableSQL(table, newName string) []string {
	return []string{"RENAME TABLE " + g.table(table) + " TO " + quoteMy(g.prefix+newName)}
}

func (g *MySQL) AddFieldSQL(table string, f *schema.Field) []string {
	return []string{"ALTER TABLE " + g.table(table) + " ADD COLUMN " + g.columnSQL(f)}
}

func (g *MySQL) DropFieldSQL(table, field string) []string {
	return []string{"ALTER TABLE " + g.table(table) + " DROP COLUMN " + quoteMy(field)}
}

func (g *MySQL) AlterFieldSQL(table string, f *schema.Field) []string {
	return []string{"ALTER TABLE " + g.table(table) + " MODIFY COLUMN " + g.columnSQL(f)}
}

func (g *MySQL) ModifyDefaultSQL(table string, f *schema.Field) []string {
	col := quoteMy(f.Name)
	if g.DefaultValue(f) == nil || f.Type == schema.Text || f.Type == schema.Binary {
		return []string{fmt.Sprintf("ALTER TABLE %s ALTER %s DROP DEFAULT", g.table(table), col)}
	}
	return []string{fmt.Sprintf("ALTER TABLE %s ALTER %s SET DEFAULT %s",
		g.table(table), col, g.FormattedDefault(f))}
}

func (g *MySQL) RenameFieldSQL(table string, f *schema.Field, newName string) []string {
	renamed := *f
	renamed.Name = newName
	return []string{fmt.Sprintf("ALTER TABLE %s CHANGE %s %s",
		g.table(table), quoteMy(f.Name), g.columnSQL(&renamed))}
}

func (g *MySQL) columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteMy(c)
	}
	return strings.Join(quoted, ", ")
}

func (g *MySQL) AddKeySQL(table string, k *schema.Key) []string {
	switch k.Type {
	case schema.Primary:
		return nil
	case schema.Unique:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)",
			g.table(table), quoteMy(g.IdentifierFor(table, k.Fields, "uk")), g.columnList(k.Fields))}
	default:
		return g.AddIndexSQL(table, k.SupportingIndex())
	}
}

func (g *MySQL) DropKeySQL(table string, k *schema.Key) []string {
	switch k.Type {
	case schema.Primary:
		return nil
	case schema.Unique:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP INDEX %s",
			g.table(table), quoteMy(g.IdentifierFor(table, k.Fields, "uk")))}
	default:
		return g.DropIndexSQL(table, g.IdentifierFor(table, k.Fields, "ix"))
	}
}

func (g *MySQL) RenameKeySQL(table string, k *schema.Key, newName string) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s RENAME INDEX %s TO %s",
		g.table(table), quoteMy(g.IdentifierFor(table, k.Fields, "uk")), quoteMy(newName))}
}

func (g *MySQL) AddIndexSQL(table string, idx *schema.Index) []string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	suffix := "ix"
	if idx.Unique {
		suffix = "uix"
	}
	return []string{fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, quoteMy(g.IdentifierFor(table, idx.Fields, suffix)), g.table(table), g.columnList(idx.Fields))}
}

func (g *MySQL) DropIndexSQL(table, index string) []string {
	return []string{"ALTER TABLE " + g.table(table) + " DROP INDEX " + quoteMy(index)}
}

func (g *MySQL) RenameIndexSQL(table string, idx *schema.Index, newName string) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s RENAME INDEX %s TO %s",
		g.table(table), quoteMy(idx.Name), quoteMy(newName))}
}

func (g *MySQL) ResetSequenceSQL(table string) []string {
	return []string{"ALTER TABLE " + g.table(table) + " AUTO_INCREMENT = 1"}
}

func (g *MySQL) DefaultValue(f *schema.Field) *string    { return defaultValue(f) }
func (g *MySQL) FormattedDefault(f *schema.Field) string { return formattedDefault(f) }

func (g *MySQL) CharLengthSQL(column string) string {
	return "CHAR_LENGTH(" + quoteMy(column) + ")"
}

func (g *MySQL) EndedStatements(stmts []string) []string {
	return ended(stmts, ";")
}
