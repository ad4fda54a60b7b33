package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQL implements Adapter for MySQL/MariaDB. It also implements
// RowFormatConverter: InnoDB's compact row format limits index key length,
// and converting to the compressed format lifts the limit.
type MySQL struct {
	dsn      string
	dbName   string
	prefix   string
	db       *sql.DB
	colCache map[string][]Column
	idxCache map[string][]Index
}

var _ Adapter = (*MySQL)(nil)
var _ RowFormatConverter = (*MySQL)(nil)

// NewMySQL creates a MySQL adapter from a go-sql-driver DSN.
func NewMySQL(dsn, prefix string) (*MySQL, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return &MySQL{
		dsn:      cfg.FormatDSN(),
		dbName:   cfg.DBName,
		prefix:   prefix,
		colCache: make(map[string][]Column),
		idxCache: make(map[string][]Index),
	}, nil
}

func (m *MySQL) Connect(ctx context.Context) error {
	db, err := sql.Open("mysql", m.dsn)
	if err != nil {
		return fmt.Errorf("opening mysql connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pinging mysql: %w", err)
	}
	m.db = db
	return nil
}

func (m *MySQL) qualified(table string) string {
	return quoteIdentMy(m.prefix + table)
}

func (m *MySQL) Tables(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		 ORDER BY TABLE_NAME`, m.dbName)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(name, m.prefix) {
			continue
		}
		out[strings.TrimPrefix(name, m.prefix)] = true
	}
	return out, rows.Err()
}

func (m *MySQL) Columns(ctx context.Context, table string) ([]Column, error) {
	if cols, ok := m.colCache[table]; ok {
		return cols, nil
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_DEFAULT,
		        CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE, EXTRA
		 FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		 ORDER BY ORDINAL_POSITION`, m.dbName, m.prefix+table)
	if err != nil {
		return nil, fmt.Errorf("listing columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			name, dataType, nullable, extra string
			defaultVal                      *string
			maxLen, precision, scale        *int64
		)
		if err := rows.Scan(&name, &dataType, &nullable, &defaultVal, &maxLen, &precision, &scale, &extra); err != nil {
			return nil, err
		}
		cols = append(cols, mysqlColumn(name, dataType, nullable, extra, defaultVal, maxLen, precision, scale))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	m.colCache[table] = cols
	return cols, nil
}

// intDigits maps mysql integer type names to the count of fully
// representable decimal digits.
var intDigits = map[string]int{
	"tinyint":   2,
	"smallint":  4,
	"mediumint": 6,
	"int":       9,
	"bigint":    18,
}

func mysqlColumn(name, dataType, nullable, extra string, defaultVal *string, maxLen, precision, scale *int64) Column {
	col := Column{
		Name:    name,
		NotNull: nullable == "NO",
	}

	switch {
	case intDigits[dataType] > 0:
		col.MetaType = MetaInteger
		col.MaxLength = intDigits[dataType]
		if strings.Contains(extra, "auto_increment") {
			col.MetaType = MetaCounter
		}
	case dataType == "decimal":
		col.MetaType = MetaNumber
		if precision != nil {
			col.MaxLength = int(*precision)
		}
		if scale != nil {
			col.Scale = int(*scale)
		}
	case dataType == "float" || dataType == "double":
		col.MetaType = MetaFloat
		if precision != nil {
			col.MaxLength = int(*precision)
		}
	case dataType == "char" || dataType == "varchar":
		col.MetaType = MetaChar
		if maxLen != nil {
			col.MaxLength = int(*maxLen)
		}
	case strings.HasSuffix(dataType, "text"):
		col.MetaType = MetaText
	case strings.HasSuffix(dataType, "blob") || dataType == "binary" || dataType == "varbinary":
		col.MetaType = MetaBinary
	case dataType == "timestamp":
		col.MetaType = MetaTime
	case dataType == "datetime" || dataType == "date":
		col.MetaType = MetaDatetime
	default:
		col.MetaType = MetaText
	}

	if defaultVal != nil && col.MetaType != MetaCounter {
		col.HasDefault = true
		col.DefaultValue = strings.Trim(*defaultVal, "'")
	}
	return col
}

func (m *MySQL) Indexes(ctx context.Context, table string, includePrimary bool) ([]Index, error) {
	idxs, ok := m.idxCache[table]
	if !ok {
		rows, err := m.db.QueryContext(ctx,
			`SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE
			 FROM INFORMATION_SCHEMA.STATISTICS
			 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
			 ORDER BY INDEX_NAME, SEQ_IN_INDEX`, m.dbName, m.prefix+table)
		if err != nil {
			return nil, fmt.Errorf("listing indexes of %s: %w", table, err)
		}
		defer rows.Close()

		var order []string
		byName := make(map[string]*Index)
		for rows.Next() {
			var (
				name, col string
				nonUnique int
			)
			if err := rows.Scan(&name, &col, &nonUnique); err != nil {
				return nil, err
			}
			idx, seen := byName[name]
			if !seen {
				idx = &Index{Name: name, Unique: nonUnique == 0, Primary: name == "PRIMARY"}
				byName[name] = idx
				order = append(order, name)
			}
			idx.Columns = append(idx.Columns, col)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		for _, name := range order {
			idxs = append(idxs, *byName[name])
		}
		m.idxCache[table] = idxs
	}

	if includePrimary {
		return idxs, nil
	}
	var out []Index
	for _, idx := range idxs {
		if !idx.Primary {
			out = append(out, idx)
		}
	}
	return out, nil
}

// ExecDDL runs the batch sequentially. MySQL commits implicitly around every
// DDL statement, so there is no transaction to speak of.
func (m *MySQL) ExecDDL(ctx context.Context, stmts []string, _ []string) error {
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDDLFailed, stmt, err)
		}
	}
	return nil
}

func (m *MySQL) ConvertTableRowFormat(ctx context.Context, table string) error {
	sql := "ALTER TABLE " + m.qualified(table) + " ROW_FORMAT=Compressed"
	if _, err := m.db.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("converting row format of %s: %w", table, err)
	}
	return nil
}

func (m *MySQL) CountRows(ctx context.Context, table string) (int64, error) {
	var count int64
	err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+m.qualified(table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	return count, nil
}

func (m *MySQL) ExistsWhere(ctx context.Context, table, where string, args ...any) (bool, error) {
	sql := "SELECT 1 FROM " + m.qualified(table) + " WHERE " + where + " LIMIT 1"
	rows, err := m.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", table, err)
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (m *MySQL) Iterate(ctx context.Context, table string, columns []string, where string, args []any, fn func(row map[string]any) error) error {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdentMy(c)
	}
	sql := "SELECT " + strings.Join(quoted, ", ") + " FROM " + m.qualified(table)
	if where != "" {
		sql += " WHERE " + where
	}

	rows, err := m.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("iterating %s: %w", table, err)
	}
	defer rows.Close()

	vals := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[c] = v
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (m *MySQL) SetWhere(ctx context.Context, table, column string, value any, where string, args ...any) error {
	all := append([]any{value}, args...)
	sql := "UPDATE " + m.qualified(table) + " SET " + quoteIdentMy(column) + " = ?"
	if where != "" {
		sql += " WHERE " + where
	}
	if _, err := m.db.ExecContext(ctx, sql, all...); err != nil {
		return fmt.Errorf("updating %s.%s: %w", table, column, err)
	}
	return nil
}

func (m *MySQL) UpdateRow(ctx context.Context, table string, row map[string]any) error {
	id, ok := row["id"]
	if !ok {
		return fmt.Errorf("updating %s: row has no id", table)
	}

	var sets []string
	var args []any
	for col, val := range row {
		if col == "id" {
			continue
		}
		sets = append(sets, quoteIdentMy(col)+" = ?")
		args = append(args, val)
	}
	args = append(args, id)

	sql := "UPDATE " + m.qualified(table) + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := m.db.ExecContext(ctx, sql, args...); err != nil {
		return fmt.Errorf("updating %s row: %w", table, err)
	}
	return nil
}

func (m *MySQL) ResetCaches() {
	m.colCache = make(map[string][]Column)
	m.idxCache = make(map[string][]Index)
}

func (m *MySQL) Close() error {
	if m.db != nil {
		err := m.db.Close()
		m.db = nil
		return err
	}
	return nil
}

// quoteIdentMy backtick-quotes a MySQL identifier.
func quoteIdentMy(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
