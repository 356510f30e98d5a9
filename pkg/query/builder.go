package query

import (
	"fmt"
	"reflect"
	"strings"
)

// SortField is one ORDER BY term named by its logical field.
type SortField struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending"`
}

// ParseSortFields parses "status,-created_at" into sort fields. A leading
// "-" sorts descending. Empty input yields nil.
func ParseSortFields(s string) []SortField {
	var fields []SortField
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, desc := strings.CutPrefix(part, "-")
		fields = append(fields, SortField{Field: name, Descending: desc})
	}
	return fields
}

type condition struct {
	format string
	arg    any
}

// Builder assembles a SELECT over a Projection with numbered parameters.
// Where methods panic on fields the projection does not map; sort fields
// come from clients and unknown ones are dropped.
type Builder struct {
	projection  *Projection
	conditions  []condition
	sort        []SortField
	defaultSort []SortField
}

// NewBuilder creates a Builder that orders by defaultSort unless OrderBy
// supplies usable fields.
func NewBuilder(p *Projection, defaultSort ...SortField) *Builder {
	return &Builder{projection: p, defaultSort: defaultSort}
}

// WhereEquals adds field = value. Nil values are skipped.
func (b *Builder) WhereEquals(field string, value any) *Builder {
	if isNil(value) {
		return b
	}
	b.conditions = append(b.conditions, condition{b.must(field) + " = $%d", value})
	return b
}

// WhereAny adds field = ANY(values). Empty slices are skipped.
func (b *Builder) WhereAny(field string, values []string) *Builder {
	if len(values) == 0 {
		return b
	}
	b.conditions = append(b.conditions, condition{b.must(field) + " = ANY($%d)", values})
	return b
}

// OrderBy replaces the sort order with the mapped subset of fields.
func (b *Builder) OrderBy(fields []SortField) *Builder {
	b.sort = b.sort[:0]
	for _, f := range fields {
		if _, ok := b.projection.Column(f.Field); ok {
			b.sort = append(b.sort, f)
		}
	}
	return b
}

// Build returns the full SELECT with conditions and ordering.
func (b *Builder) Build() (string, []any) {
	where, args := b.where()
	return fmt.Sprintf("SELECT %s FROM %s%s%s",
		b.projection.Columns(), b.projection.Table(), where, b.orderBy(),
	), args
}

// BuildCount returns a COUNT(*) over the same conditions.
func (b *Builder) BuildCount() (string, []any) {
	where, args := b.where()
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", b.projection.Table(), where), args
}

// BuildPage returns Build limited to one page. Page numbers start at 1.
func (b *Builder) BuildPage(page, pageSize int) (string, []any) {
	q, args := b.Build()
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", q, pageSize, (max(page, 1)-1)*pageSize), args
}

func (b *Builder) must(field string) string {
	col, ok := b.projection.Column(field)
	if !ok {
		panic(fmt.Sprintf("query: field %q not projected on %s", field, b.projection.Table()))
	}
	return col
}

func (b *Builder) where() (string, []any) {
	if len(b.conditions) == 0 {
		return "", nil
	}

	clauses := make([]string, len(b.conditions))
	args := make([]any, len(b.conditions))
	for i, c := range b.conditions {
		clauses[i] = fmt.Sprintf(c.format, i+1)
		args[i] = c.arg
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (b *Builder) orderBy() string {
	fields := b.sort
	if len(fields) == 0 {
		fields = b.defaultSort
	}
	if len(fields) == 0 {
		return ""
	}

	parts := make([]string, len(fields))
	for i, f := range fields {
		col, _ := b.projection.Column(f.Field)
		dir := "ASC"
		if f.Descending {
			dir = "DESC"
		}
		parts[i] = col + " " + dir
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
