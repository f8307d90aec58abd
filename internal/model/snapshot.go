package model

import "time"

// ColumnType is the logical type of a table column.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeInt64   ColumnType = "int64"
	TypeUint64  ColumnType = "uint64"
	TypeFloat64 ColumnType = "float64"
	TypeBool    ColumnType = "bool"
)

// Column describes one column of a Table.
type Column struct {
	Name string
	Type ColumnType
}

// Row holds one value per column, key columns first. Values are string,
// int64, uint64, float64 or bool according to the column type.
type Row []any

// Table is a named, schema-described row collection.
type Table struct {
	Name   string
	Keys   []Column
	Values []Column
	Rows   []Row
}

// Columns returns key and value columns in row order.
func (t *Table) Columns() []Column {
	cols := make([]Column, 0, len(t.Keys)+len(t.Values))
	cols = append(cols, t.Keys...)
	return append(cols, t.Values...)
}

// ColumnIndex returns the position of the named column in a row, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns() {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Cell returns the value of the named column in row, typed as T.
func Cell[T any](t *Table, row Row, name string) (T, bool) {
	var zero T
	i := t.ColumnIndex(name)
	if i < 0 || i >= len(row) {
		return zero, false
	}
	v, ok := row[i].(T)
	return v, ok
}

// Snapshot is the frozen, exported state of one processing run.
type Snapshot struct {
	SchemaVersion int
	Partial       bool
	CreatedAt     time.Time
	Tables        []Table
}

// Table returns the table with the given name.
func (s *Snapshot) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}
