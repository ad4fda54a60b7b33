package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/sijms/go-ora/v2"
)

// Oracle implements Adapter for Oracle using go-ora (pure Go, no Instant
// Client). Identifiers are resolved against the owning schema, uppercased as
// Oracle stores them.
type Oracle struct {
	connStr  string
	owner    string
	prefix   string
	db       *sql.DB
	colCache map[string][]Column
	idxCache map[string][]Index
}

var _ Adapter = (*Oracle)(nil)

// NewOracle creates an Oracle adapter for the given owning schema. The owner
// is uppercased here; the caller supplies it (setup passes the connection user
// when no schema is configured).
func NewOracle(connStr, owner, prefix string) *Oracle {
	return &Oracle{
		connStr:  connStr,
		owner:    strings.ToUpper(owner),
		prefix:   prefix,
		colCache: make(map[string][]Column),
		idxCache: make(map[string][]Index),
	}
}

func (o *Oracle) Connect(ctx context.Context) error {
	db, err := sql.Open("oracle", o.connStr)
	if err != nil {
		return fmt.Errorf("opening oracle connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pinging oracle: %w", err)
	}
	o.db = db
	return nil
}

func (o *Oracle) physical(table string) string {
	return strings.ToUpper(o.prefix + table)
}

func (o *Oracle) qualified(table string) string {
	return `"` + o.owner + `"."` + o.physical(table) + `"`
}

func (o *Oracle) Tables(ctx context.Context) (map[string]bool, error) {
	rows, err := o.db.QueryContext(ctx,
		`SELECT table_name FROM all_tables WHERE owner = :1 ORDER BY table_name`, o.owner)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	prefix := strings.ToUpper(o.prefix)
	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		out[strings.ToLower(strings.TrimPrefix(name, prefix))] = true
	}
	return out, rows.Err()
}

func (o *Oracle) Columns(ctx context.Context, table string) ([]Column, error) {
	if cols, ok := o.colCache[table]; ok {
		return cols, nil
	}

	rows, err := o.db.QueryContext(ctx,
		`SELECT column_name, data_type, nullable, data_default,
		        char_length, data_precision, data_scale
		 FROM all_tab_columns
		 WHERE owner = :1 AND table_name = :2
		 ORDER BY column_id`, o.owner, o.physical(table))
	if err != nil {
		return nil, fmt.Errorf("listing columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			name, dataType, nullable string
			defaultVal               *string
			charLen                  int
			precision, scale         *int
		)
		if err := rows.Scan(&name, &dataType, &nullable, &defaultVal, &charLen, &precision, &scale); err != nil {
			return nil, err
		}
		cols = append(cols, oracleColumn(name, dataType, nullable, defaultVal, charLen, precision, scale))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	o.colCache[table] = cols
	return cols, nil
}

func oracleColumn(name, dataType, nullable string, defaultVal *string, charLen int, precision, scale *int) Column {
	col := Column{
		Name:    strings.ToLower(name),
		NotNull: nullable == "N",
	}

	switch {
	case dataType == "NUMBER":
		if scale == nil || *scale == 0 {
			col.MetaType = MetaInteger
		} else {
			col.MetaType = MetaNumber
			col.Scale = *scale
		}
		if precision != nil {
			col.MaxLength = *precision
		}
	case dataType == "FLOAT" || dataType == "BINARY_FLOAT" || dataType == "BINARY_DOUBLE":
		col.MetaType = MetaFloat
		if precision != nil {
			col.MaxLength = *precision
		}
	case dataType == "VARCHAR2" || dataType == "NVARCHAR2" || dataType == "CHAR" || dataType == "NCHAR":
		col.MetaType = MetaChar
		col.MaxLength = charLen
	case dataType == "CLOB" || dataType == "NCLOB" || dataType == "LONG":
		col.MetaType = MetaText
	case dataType == "BLOB" || dataType == "RAW" || dataType == "LONG RAW":
		col.MetaType = MetaBinary
	case strings.HasPrefix(dataType, "TIMESTAMP"):
		col.MetaType = MetaTime
	case dataType == "DATE":
		col.MetaType = MetaDatetime
	default:
		col.MetaType = MetaText
	}

	if defaultVal != nil {
		dv := strings.TrimSpace(*defaultVal)
		if dv != "" && !strings.EqualFold(dv, "NULL") {
			col.HasDefault = true
			col.DefaultValue = strings.Trim(dv, "'")
		}
	}
	return col
}

func (o *Oracle) Indexes(ctx context.Context, table string, includePrimary bool) ([]Index, error) {
	idxs, ok := o.idxCache[table]
	if !ok {
		rows, err := o.db.QueryContext(ctx,
			`SELECT i.index_name, c.column_name, i.uniqueness,
			        CASE WHEN p.constraint_name IS NULL THEN 0 ELSE 1 END
			 FROM all_indexes i
			 JOIN all_ind_columns c
			   ON c.index_owner = i.owner AND c.index_name = i.index_name
			 LEFT JOIN all_constraints p
			   ON p.owner = i.owner AND p.index_name = i.index_name AND p.constraint_type = 'P'
			 WHERE i.owner = :1 AND i.table_name = :2
			 ORDER BY i.index_name, c.column_position`, o.owner, o.physical(table))
		if err != nil {
			return nil, fmt.Errorf("listing indexes of %s: %w", table, err)
		}
		defer rows.Close()

		var order []string
		byName := make(map[string]*Index)
		for rows.Next() {
			var (
				name, col, uniqueness string
				primary               int
			)
			if err := rows.Scan(&name, &col, &uniqueness, &primary); err != nil {
				return nil, err
			}
			idx, seen := byName[name]
			if !seen {
				idx = &Index{
					Name:    strings.ToLower(name),
					Unique:  uniqueness == "UNIQUE",
					Primary: primary == 1,
				}
				byName[name] = idx
				order = append(order, name)
			}
			idx.Columns = append(idx.Columns, strings.ToLower(col))
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		for _, name := range order {
			idxs = append(idxs, *byName[name])
		}
		o.idxCache[table] = idxs
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

// ExecDDL runs the batch sequentially; Oracle commits implicitly around DDL.
func (o *Oracle) ExecDDL(ctx context.Context, stmts []string, _ []string) error {
	for _, stmt := range stmts {
		if _, err := o.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDDLFailed, stmt, err)
		}
	}
	return nil
}

func (o *Oracle) CountRows(ctx context.Context, table string) (int64, error) {
	var count int64
	err := o.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+o.qualified(table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	return count, nil
}

func (o *Oracle) ExistsWhere(ctx context.Context, table, where string, args ...any) (bool, error) {
	sql := "SELECT 1 FROM " + o.qualified(table) + " WHERE " + colonPlaceholders(where) + " FETCH FIRST 1 ROWS ONLY"
	rows, err := o.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", table, err)
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (o *Oracle) Iterate(ctx context.Context, table string, columns []string, where string, args []any, fn func(row map[string]any) error) error {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = `"` + strings.ToUpper(c) + `"`
	}
	sql := "SELECT " + strings.Join(quoted, ", ") + " FROM " + o.qualified(table)
	if where != "" {
		sql += " WHERE " + colonPlaceholders(where)
	}

	rows, err := o.db.QueryContext(ctx, sql, args...)
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

func (o *Oracle) SetWhere(ctx context.Context, table, column string, value any, where string, args ...any) error {
	all := append([]any{value}, args...)
	sql := "UPDATE " + o.qualified(table) + ` SET "` + strings.ToUpper(column) + `" = ?`
	if where != "" {
		sql += " WHERE " + where
	}
	if _, err := o.db.ExecContext(ctx, colonPlaceholders(sql), all...); err != nil {
		return fmt.Errorf("updating %s.%s: %w", table, column, err)
	}
	return nil
}

func (o *Oracle) UpdateRow(ctx context.Context, table string, row map[string]any) error {
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
		sets = append(sets, `"`+strings.ToUpper(col)+`" = ?`)
		args = append(args, val)
	}
	args = append(args, id)

	sql := "UPDATE " + o.qualified(table) + " SET " + strings.Join(sets, ", ") + ` WHERE "ID" = ?`
	if _, err := o.db.ExecContext(ctx, colonPlaceholders(sql), args...); err != nil {
		return fmt.Errorf("updating %s row: %w", table, err)
	}
	return nil
}

func (o *Oracle) ResetCaches() {
	o.colCache = make(map[string][]Column)
	o.idxCache = make(map[string][]Index)
}

func (o *Oracle) Close() error {
	if o.db != nil {
		err := o.db.Close()
		o.db = nil
		return err
	}
	return nil
}

// colonPlaceholders rewrites ? placeholders to Oracle's :1..:n form.
func colonPlaceholders(sql string) string {
	var b strings.Builder
	n := 0
	for _, r := range sql {
		if r == '?' {
			n++
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
