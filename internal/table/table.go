// Package table holds the in-memory tabular dataset that flows through the
// cleaning step. Cells are cty values, so each column carries a declared
// type and missing cells are typed nulls.
package table

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Column is one named, typed column of a Schema.
type Column struct {
	Name string
	Type cty.Type
}

// Schema is the ordered column layout shared by every row of a Table.
type Schema []Column

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Row is one record. Its length always equals the length of the Schema.
type Row []cty.Value

// Table is an ordered sequence of rows with a fixed schema.
type Table struct {
	Schema Schema
	Rows   []Row
}

// New creates an empty table with a copy of the given schema.
func New(schema Schema) Table {
	s := make(Schema, len(schema))
	copy(s, schema)
	return Table{Schema: s}
}

// Len returns the number of rows.
func (t Table) Len() int {
	return len(t.Rows)
}

// Append adds a row after checking its width against the schema.
func (t *Table) Append(row Row) error {
	if len(row) != len(t.Schema) {
		return fmt.Errorf("row has %d cells, schema has %d columns", len(row), len(t.Schema))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Strings renders every cell with FormatCell. It is the representation
// written to CSV and is handy for comparing tables.
func (t Table) Strings() ([][]string, error) {
	out := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rec := make([]string, len(r))
		for j, v := range r {
			s, err := FormatCell(v)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %q: %w", i, t.Schema[j].Name, err)
			}
			rec[j] = s
		}
		out[i] = rec
	}
	return out, nil
}
