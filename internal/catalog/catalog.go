package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrUnknownTable  = errors.New("catalog: unknown table")
	ErrUnknownColumn = errors.New("catalog: unknown column")
)

type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Nullable    bool   `json:"nullable"`
	PrimaryKey  bool   `json:"primary_key,omitempty"`
	ForeignKey  string `json:"foreign_key,omitempty"`
	Description string `json:"description,omitempty"`
}

var numericTypeMarkers = []string{"INT", "DECIMAL", "FLOAT", "NUMERIC", "MONEY", "REAL", "DOUBLE"}

var temporalTypeMarkers = []string{"DATE", "TIME"}

func (c Column) IsNumeric() bool {
	return hasTypeMarker(c.Type, numericTypeMarkers)
}

func (c Column) IsTemporal() bool {
	return hasTypeMarker(c.Type, temporalTypeMarkers)
}

func hasTypeMarker(columnType string, markers []string) bool {
	upper := strings.ToUpper(columnType)
	for _, marker := range markers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

type Table struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Columns      []Column `json:"columns"`
	TenantScoped bool     `json:"tenant_scoped"`
}

func (t Table) Column(name string) (Column, bool) {
	for _, column := range t.Columns {
		if strings.EqualFold(column.Name, name) {
			return column, true
		}
	}
	return Column{}, false
}

func (t Table) clone() Table {
	t.Columns = slices.Clone(t.Columns)
	return t
}

// Relationship is an equi-join between two columns. It renders as
// "from_table.from_column = to_table.to_column".
type Relationship struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

func (r Relationship) String() string {
	return fmt.Sprintf("%s.%s = %s.%s", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
}

// Links reports whether r connects tables a and b in either direction.
func (r Relationship) Links(a, b string) bool {
	return (strings.EqualFold(r.FromTable, a) && strings.EqualFold(r.ToTable, b)) ||
		(strings.EqualFold(r.FromTable, b) && strings.EqualFold(r.ToTable, a))
}

func ParseRelationship(raw string) (Relationship, error) {
	left, right, ok := strings.Cut(raw, "=")
	if !ok {
		return Relationship{}, fmt.Errorf("relationship %q: missing '='", raw)
	}
	fromTable, fromColumn, err := splitQualified(left)
	if err != nil {
		return Relationship{}, fmt.Errorf("relationship %q: %w", raw, err)
	}
	toTable, toColumn, err := splitQualified(right)
	if err != nil {
		return Relationship{}, fmt.Errorf("relationship %q: %w", raw, err)
	}
	return Relationship{FromTable: fromTable, FromColumn: fromColumn, ToTable: toTable, ToColumn: toColumn}, nil
}

func splitQualified(raw string) (string, string, error) {
	table, column, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || strings.TrimSpace(table) == "" || strings.TrimSpace(column) == "" {
		return "", "", fmt.Errorf("expected table.column, got %q", strings.TrimSpace(raw))
	}
	return strings.TrimSpace(table), strings.TrimSpace(column), nil
}

// Catalog is an immutable description of the queryable schema. Lookups are
// case-insensitive; iteration follows declaration order.
type Catalog struct {
	name          string
	tables        []Table
	index         map[string]int
	relationships []Relationship
}

func New(name string, tables []Table, relationships []Relationship) (*Catalog, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("catalog %q: at least one table is required", name)
	}
	c := &Catalog{
		name:   name,
		tables: make([]Table, 0, len(tables)),
		index:  make(map[string]int, len(tables)),
	}
	for _, table := range tables {
		if err := validateTable(table); err != nil {
			return nil, err
		}
		key := strings.ToLower(table.Name)
		if _, exists := c.index[key]; exists {
			return nil, fmt.Errorf("catalog %q: duplicate table %q", name, table.Name)
		}
		c.index[key] = len(c.tables)
		c.tables = append(c.tables, table.clone())
	}
	for _, rel := range relationships {
		if !c.HasColumn(rel.FromTable, rel.FromColumn) {
			return nil, fmt.Errorf("relationship %s: %w: %s.%s", rel, ErrUnknownColumn, rel.FromTable, rel.FromColumn)
		}
		if !c.HasColumn(rel.ToTable, rel.ToColumn) {
			return nil, fmt.Errorf("relationship %s: %w: %s.%s", rel, ErrUnknownColumn, rel.ToTable, rel.ToColumn)
		}
		c.relationships = append(c.relationships, rel)
	}
	return c, nil
}

func validateTable(table Table) error {
	if strings.TrimSpace(table.Name) == "" {
		return fmt.Errorf("table name is required")
	}
	if !isIdentifier(table.Name) {
		return fmt.Errorf("table %q: name must be a plain identifier", table.Name)
	}
	if len(table.Columns) == 0 {
		return fmt.Errorf("table %q: at least one column is required", table.Name)
	}
	seen := make(map[string]struct{}, len(table.Columns))
	for _, column := range table.Columns {
		if !isIdentifier(column.Name) {
			return fmt.Errorf("table %q: column %q must be a plain identifier", table.Name, column.Name)
		}
		key := strings.ToLower(column.Name)
		if _, exists := seen[key]; exists {
			return fmt.Errorf("table %q: duplicate column %q", table.Name, column.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func (c *Catalog) Name() string { return c.name }

func (c *Catalog) TableNames() []string {
	names := make([]string, 0, len(c.tables))
	for _, table := range c.tables {
		names = append(names, table.Name)
	}
	return names
}

func (c *Catalog) Tables() []Table {
	out := make([]Table, 0, len(c.tables))
	for _, table := range c.tables {
		out = append(out, table.clone())
	}
	return out
}

func (c *Catalog) Table(name string) (Table, bool) {
	idx, ok := c.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Table{}, false
	}
	return c.tables[idx].clone(), true
}

func (c *Catalog) HasTable(name string) bool {
	_, ok := c.index[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func (c *Catalog) Column(table, column string) (Column, bool) {
	idx, ok := c.index[strings.ToLower(strings.TrimSpace(table))]
	if !ok {
		return Column{}, false
	}
	return c.tables[idx].Column(strings.TrimSpace(column))
}

func (c *Catalog) HasColumn(table, column string) bool {
	_, ok := c.Column(table, column)
	return ok
}

func (c *Catalog) ColumnNames(table string) []string {
	idx, ok := c.index[strings.ToLower(strings.TrimSpace(table))]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(c.tables[idx].Columns))
	for _, column := range c.tables[idx].Columns {
		names = append(names, column.Name)
	}
	return names
}

func (c *Catalog) Relationships() []Relationship {
	return slices.Clone(c.relationships)
}

// RelationshipBetween returns the first declared relationship linking a and b.
func (c *Catalog) RelationshipBetween(a, b string) (Relationship, bool) {
	for _, rel := range c.relationships {
		if rel.Links(a, b) {
			return rel, true
		}
	}
	return Relationship{}, false
}

// Summary renders a compact prompt-friendly description listing at most
// maxColumns columns per table.
func (c *Catalog) Summary(maxColumns int) string {
	var b strings.Builder
	for _, table := range c.tables {
		columns := table.Columns
		if maxColumns > 0 && len(columns) > maxColumns {
			columns = columns[:maxColumns]
		}
		parts := make([]string, 0, len(columns))
		for _, column := range columns {
			parts = append(parts, column.Name+" ("+column.Type+")")
		}
		fmt.Fprintf(&b, "%s: %s\n", table.Name, strings.Join(parts, ", "))
	}
	if len(c.relationships) > 0 {
		b.WriteString("Relationships:\n")
		for _, rel := range c.relationships {
			b.WriteString("  " + rel.String() + "\n")
		}
	}
	return b.String()
}

type Description struct {
	Name          string   `json:"name"`
	Tables        []Table  `json:"tables"`
	Relationships []string `json:"relationships"`
}

func (c *Catalog) Describe() Description {
	rels := make([]string, 0, len(c.relationships))
	for _, rel := range c.relationships {
		rels = append(rels, rel.String())
	}
	return Description{Name: c.name, Tables: c.Tables(), Relationships: rels}
}
