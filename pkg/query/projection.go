// Package query builds parameterized SELECT statements over a projection
// that maps logical field names onto table columns.
package query

import "strings"

// Projection maps logical field names to the columns of one table.
type Projection struct {
	table   string
	columns map[string]string
	order   []string
}

// NewProjection creates an empty projection over table.
func NewProjection(table string) *Projection {
	return &Projection{
		table:   table,
		columns: make(map[string]string),
	}
}

// Project selects column and exposes it as field.
func (p *Projection) Project(column, field string) *Projection {
	p.columns[field] = column
	p.order = append(p.order, column)
	return p
}

// Table returns the projected table name.
func (p *Projection) Table() string {
	return p.table
}

// Column returns the column behind field.
func (p *Projection) Column(field string) (string, bool) {
	col, ok := p.columns[field]
	return col, ok
}

// Columns returns the select list in projection order.
func (p *Projection) Columns() string {
	return strings.Join(p.order, ", ")
}
