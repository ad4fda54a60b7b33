package adapter

import (
	"context"
	"fmt"
)

// MockTable is the in-memory definition of one table held by Mock.
type MockTable struct {
	Columns []Column
	Indexes []Index
	Rows    []map[string]any
}

// SetWhereCall records one SetWhere invocation.
type SetWhereCall struct {
	Table  string
	Column string
	Value  any
	Where  string
	Args   []any
}

// Mock is a test double for the Adapter interface. Results are configured by
// struct literal; executed statements and writes are recorded for assertions.
type Mock struct {
	Data map[string]*MockTable

	TablesErr  error
	ColumnsErr error
	IndexesErr error
	ExecErr    error
	// ExecErrOnce clears ExecErr after its first use, so a retry succeeds.
	ExecErrOnce bool
	ConvertErr  error

	// Exists configures ExistsWhere results, keyed "table|where".
	// Unconfigured probes return false.
	Exists map[string]bool

	// OnDDL, when set, is invoked after each recorded batch so tests can
	// mutate Data to reflect the change.
	OnDDL func(stmts, tables []string)

	Executed       [][]string
	ExecutedTables [][]string
	SetWhereCalls  []SetWhereCall
	UpdatedRows    []map[string]any
	Converted      []string
	CacheResets    int
	Closed         bool
}

var _ Adapter = (*Mock)(nil)
var _ RowFormatConverter = (*Mock)(nil)

func (m *Mock) table(name string) (*MockTable, error) {
	t, ok := m.Data[name]
	if !ok {
		return nil, fmt.Errorf("no such table %q", name)
	}
	return t, nil
}

func (m *Mock) Tables(_ context.Context) (map[string]bool, error) {
	if m.TablesErr != nil {
		return nil, m.TablesErr
	}
	out := make(map[string]bool, len(m.Data))
	for name := range m.Data {
		out[name] = true
	}
	return out, nil
}

func (m *Mock) Columns(_ context.Context, table string) ([]Column, error) {
	if m.ColumnsErr != nil {
		return nil, m.ColumnsErr
	}
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	return append([]Column(nil), t.Columns...), nil
}

func (m *Mock) Indexes(_ context.Context, table string, includePrimary bool) ([]Index, error) {
	if m.IndexesErr != nil {
		return nil, m.IndexesErr
	}
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	var out []Index
	for _, idx := range t.Indexes {
		if idx.Primary && !includePrimary {
			continue
		}
		out = append(out, idx)
	}
	return out, nil
}

func (m *Mock) ExecDDL(_ context.Context, stmts []string, tables []string) error {
	m.Executed = append(m.Executed, stmts)
	m.ExecutedTables = append(m.ExecutedTables, tables)
	if m.ExecErr != nil {
		err := m.ExecErr
		if m.ExecErrOnce {
			m.ExecErr = nil
		}
		return fmt.Errorf("%w: %v", ErrDDLFailed, err)
	}
	if m.OnDDL != nil {
		m.OnDDL(stmts, tables)
	}
	return nil
}

func (m *Mock) CountRows(_ context.Context, table string) (int64, error) {
	t, err := m.table(table)
	if err != nil {
		return 0, err
	}
	return int64(len(t.Rows)), nil
}

func (m *Mock) ExistsWhere(_ context.Context, table, where string, _ ...any) (bool, error) {
	if m.Exists != nil {
		if v, ok := m.Exists[table+"|"+where]; ok {
			return v, nil
		}
	}
	return false, nil
}

func (m *Mock) Iterate(_ context.Context, table string, columns []string, _ string, _ []any, fn func(row map[string]any) error) error {
	t, err := m.table(table)
	if err != nil {
		return err
	}
	for _, row := range t.Rows {
		sel := make(map[string]any, len(columns))
		for _, c := range columns {
			sel[c] = row[c]
		}
		if err := fn(sel); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mock) SetWhere(_ context.Context, table, column string, value any, where string, args ...any) error {
	m.SetWhereCalls = append(m.SetWhereCalls, SetWhereCall{
		Table: table, Column: column, Value: value, Where: where, Args: args,
	})
	return nil
}

func (m *Mock) UpdateRow(_ context.Context, table string, row map[string]any) error {
	copied := make(map[string]any, len(row)+1)
	copied["__table"] = table
	for k, v := range row {
		copied[k] = v
	}
	m.UpdatedRows = append(m.UpdatedRows, copied)
	return nil
}

func (m *Mock) ConvertTableRowFormat(_ context.Context, table string) error {
	if m.ConvertErr != nil {
		return m.ConvertErr
	}
	m.Converted = append(m.Converted, table)
	return nil
}

func (m *Mock) ResetCaches() { m.CacheResets++ }

func (m *Mock) Close() error {
	m.Closed = true
	return nil
}
