package configdb

import "context"

// Memory is an in-memory Handle fake used across the package's test suite,
// the Go analog of original_source's mockdb.
type Memory struct {
	tables map[string]map[string]map[string]string
	saves  int
}

// NewMemory returns an empty Memory fake.
func NewMemory() *Memory {
	return &Memory{tables: map[string]map[string]map[string]string{}}
}

func (m *Memory) row(table, key string) (map[string]string, bool) {
	t, ok := m.tables[table]
	if !ok {
		return nil, false
	}
	row, ok := t[key]
	return row, ok
}

// GetFeature implements Handle.
func (m *Memory) GetFeature(_ context.Context, name string) (map[string]string, bool, error) {
	row, ok := m.row(featureTable, name)
	if !ok {
		return nil, false, nil
	}
	return cloneFields(row), true, nil
}

// SetFeature implements Handle.
func (m *Memory) SetFeature(_ context.Context, name string, fields map[string]string) error {
	m.ensureTable(featureTable)
	m.tables[featureTable][name] = cloneFields(fields)
	return nil
}

// DeleteFeature implements Handle.
func (m *Memory) DeleteFeature(_ context.Context, name string) error {
	if t, ok := m.tables[featureTable]; ok {
		delete(t, name)
	}
	return nil
}

// MergeTable implements Handle.
func (m *Memory) MergeTable(_ context.Context, table, key string, fields map[string]string) error {
	m.ensureTable(table)
	row, ok := m.tables[table][key]
	if !ok {
		row = map[string]string{}
	}
	for k, v := range fields {
		row[k] = v
	}
	m.tables[table][key] = row
	return nil
}

// Save implements Handle; it only counts invocations for assertions.
func (m *Memory) Save(_ context.Context) error {
	m.saves++
	return nil
}

// Saves reports how many times Save was called, for test assertions.
func (m *Memory) Saves() int { return m.saves }

// Table returns a copy of an entire table, for test assertions.
func (m *Memory) Table(table string) map[string]map[string]string {
	out := map[string]map[string]string{}
	for k, v := range m.tables[table] {
		out[k] = cloneFields(v)
	}
	return out
}

func (m *Memory) ensureTable(table string) {
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = map[string]map[string]string{}
	}
}

func cloneFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
