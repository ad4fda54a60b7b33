package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Adapter for PostgreSQL using pgx.
type Postgres struct {
	connStr  string
	pgSchema string
	prefix   string
	pool     *pgxpool.Pool

	colCache map[string][]Column
	idxCache map[string][]Index
}

var _ Adapter = (*Postgres)(nil)

// NewPostgres creates a PostgreSQL adapter. Tables are resolved inside the
// given pg schema ("public" when empty) and name prefix.
func NewPostgres(connStr, pgSchema, prefix string) *Postgres {
	if pgSchema == "" {
		pgSchema = "public"
	}
	return &Postgres{
		connStr:  connStr,
		pgSchema: pgSchema,
		prefix:   prefix,
		colCache: make(map[string][]Column),
		idxCache: make(map[string][]Index),
	}
}

func (p *Postgres) Connect(ctx context.Context) error {
	cfg, err := pgxpool.ParseConfig(p.connStr)
	if err != nil {
		return fmt.Errorf("parsing connection string: %w", err)
	}
	// The engine is strictly sequential; one connection is all it can use.
	cfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("pinging PostgreSQL: %w", err)
	}
	p.pool = pool
	return nil
}

func (p *Postgres) qualified(table string) string {
	return quoteIdentPg(p.pgSchema) + "." + quoteIdentPg(p.prefix+table)
}

func (p *Postgres) Tables(ctx context.Context) (map[string]bool, error) {
	query := `
		SELECT c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1
		  AND c.relkind = 'r'
		ORDER BY c.relname`

	rows, err := p.pool.Query(ctx, query, p.pgSchema)
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
		if !strings.HasPrefix(name, p.prefix) {
			continue
		}
		out[strings.TrimPrefix(name, p.prefix)] = true
	}
	return out, rows.Err()
}

func (p *Postgres) Columns(ctx context.Context, table string) ([]Column, error) {
	if cols, ok := p.colCache[table]; ok {
		return cols, nil
	}

	query := `
		SELECT
			column_name,
			data_type,
			is_nullable,
			column_default,
			character_maximum_length,
			numeric_precision,
			numeric_scale
		FROM information_schema.columns
		WHERE table_schema = $1
		  AND table_name = $2
		ORDER BY ordinal_position`

	rows, err := p.pool.Query(ctx, query, p.pgSchema, p.prefix+table)
	if err != nil {
		return nil, fmt.Errorf("listing columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			name, dataType, nullable string
			defaultVal               *string
			maxLen, precision, scale *int
		)
		if err := rows.Scan(&name, &dataType, &nullable, &defaultVal, &maxLen, &precision, &scale); err != nil {
			return nil, err
		}
		cols = append(cols, pgColumn(name, dataType, nullable, defaultVal, maxLen, precision, scale))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	p.colCache[table] = cols
	return cols, nil
}

// pgColumn maps an information_schema row to the live column descriptor.
func pgColumn(name, dataType, nullable string, defaultVal *string, maxLen, precision, scale *int) Column {
	col := Column{
		Name:    name,
		NotNull: nullable == "NO",
	}

	switch dataType {
	case "smallint":
		col.MetaType, col.MaxLength = MetaInteger, 4
	case "integer":
		col.MetaType, col.MaxLength = MetaInteger, 9
	case "bigint":
		col.MetaType, col.MaxLength = MetaInteger, 18
	case "numeric":
		col.MetaType = MetaNumber
		if precision != nil {
			col.MaxLength = *precision
		}
		if scale != nil {
			col.Scale = *scale
		}
	case "real", "double precision":
		col.MetaType = MetaFloat
		if precision != nil {
			col.MaxLength = *precision
		}
	case "character varying", "character":
		col.MetaType = MetaChar
		if maxLen != nil {
			col.MaxLength = *maxLen
		}
	case "text":
		col.MetaType = MetaText
	case "bytea":
		col.MetaType = MetaBinary
	case "date":
		col.MetaType = MetaDatetime
	default:
		if strings.HasPrefix(dataType, "timestamp") {
			col.MetaType = MetaTime
		} else {
			col.MetaType = MetaText
		}
	}

	if defaultVal != nil {
		dv := *defaultVal
		if strings.HasPrefix(dv, "nextval(") {
			// Sequence-backed counter, not a user default.
			col.MetaType = MetaCounter
		} else {
			col.HasDefault = true
			col.DefaultValue = normalizePgDefault(dv)
		}
	}
	return col
}

// normalizePgDefault strips the ::type cast and quoting pg_catalog adds to
// stored defaults, e.g. `'abc'::character varying` becomes `abc`.
func normalizePgDefault(dv string) string {
	if i := strings.Index(dv, "::"); i >= 0 {
		dv = dv[:i]
	}
	dv = strings.TrimSpace(dv)
	if len(dv) >= 2 && dv[0] == '\'' && dv[len(dv)-1] == '\'' {
		dv = strings.ReplaceAll(dv[1:len(dv)-1], "''", "'")
	}
	return dv
}

func (p *Postgres) Indexes(ctx context.Context, table string, includePrimary bool) ([]Index, error) {
	idxs, ok := p.idxCache[table]
	if !ok {
		query := `
			SELECT i.relname, ix.indisunique, ix.indisprimary, a.attname
			FROM pg_class t
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_index ix ON t.oid = ix.indrelid
			JOIN pg_class i ON i.oid = ix.indexrelid
			JOIN generate_subscripts(ix.indkey, 1) k(ord) ON true
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ix.indkey[k.ord]
			WHERE n.nspname = $1
			  AND t.relname = $2
			ORDER BY i.relname, k.ord`

		rows, err := p.pool.Query(ctx, query, p.pgSchema, p.prefix+table)
		if err != nil {
			return nil, fmt.Errorf("listing indexes of %s: %w", table, err)
		}
		defer rows.Close()

		var order []string
		byName := make(map[string]*Index)
		for rows.Next() {
			var (
				name, col       string
				unique, primary bool
			)
			if err := rows.Scan(&name, &unique, &primary, &col); err != nil {
				return nil, err
			}
			idx, seen := byName[name]
			if !seen {
				idx = &Index{Name: name, Unique: unique, Primary: primary}
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
		p.idxCache[table] = idxs
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

func (p *Postgres) ExecDDL(ctx context.Context, stmts []string, _ []string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting ddl transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDDLFailed, stmt, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrDDLFailed, err)
	}
	return nil
}

func (p *Postgres) CountRows(ctx context.Context, table string) (int64, error) {
	var count int64
	sql := "SELECT COUNT(*) FROM " + p.qualified(table)
	if err := p.pool.QueryRow(ctx, sql).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	return count, nil
}

func (p *Postgres) ExistsWhere(ctx context.Context, table, where string, args ...any) (bool, error) {
	sql := "SELECT 1 FROM " + p.qualified(table) + " WHERE " + numberPlaceholders(where) + " LIMIT 1"
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", table, err)
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (p *Postgres) Iterate(ctx context.Context, table string, columns []string, where string, args []any, fn func(row map[string]any) error) error {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdentPg(c)
	}
	sql := "SELECT " + strings.Join(quoted, ", ") + " FROM " + p.qualified(table)
	if where != "" {
		sql += " WHERE " + numberPlaceholders(where)
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("iterating %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return err
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			row[c] = vals[i]
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *Postgres) SetWhere(ctx context.Context, table, column string, value any, where string, args ...any) error {
	all := append([]any{value}, args...)
	sql := "UPDATE " + p.qualified(table) + " SET " + quoteIdentPg(column) + " = ?"
	if where != "" {
		sql += " WHERE " + where
	}
	if _, err := p.pool.Exec(ctx, numberPlaceholders(sql), all...); err != nil {
		return fmt.Errorf("updating %s.%s: %w", table, column, err)
	}
	return nil
}

func (p *Postgres) UpdateRow(ctx context.Context, table string, row map[string]any) error {
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
		sets = append(sets, quoteIdentPg(col)+" = ?")
		args = append(args, val)
	}
	args = append(args, id)

	sql := "UPDATE " + p.qualified(table) + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := p.pool.Exec(ctx, numberPlaceholders(sql), args...); err != nil {
		return fmt.Errorf("updating %s row: %w", table, err)
	}
	return nil
}

func (p *Postgres) ResetCaches() {
	p.colCache = make(map[string][]Column)
	p.idxCache = make(map[string][]Index)
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

// numberPlaceholders rewrites ? placeholders to pgx's $1..$n form.
func numberPlaceholders(sql string) string {
	var b strings.Builder
	n := 0
	for _, r := range sql {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// quoteIdentPg double-quotes a PostgreSQL identifier.
func quoteIdentPg(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
