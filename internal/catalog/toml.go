package catalog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type fileDocument struct {
	Name          string      `toml:"name"`
	Relationships []string    `toml:"relationships"`
	Tables        []fileTable `toml:"tables"`
}

type fileTable struct {
	Name         string       `toml:"name"`
	Description  string       `toml:"description"`
	TenantScoped *bool        `toml:"tenant_scoped"`
	Columns      []fileColumn `toml:"columns"`
}

type fileColumn struct {
	Name        string `toml:"name"`
	Type        string `toml:"type"`
	Nullable    *bool  `toml:"nullable"`
	PrimaryKey  bool   `toml:"primary_key"`
	ForeignKey  string `toml:"foreign_key"`
	Description string `toml:"description"`
}

// LoadFile parses a TOML schema file into a catalog.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema file %q: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (*Catalog, error) {
	var doc fileDocument
	meta, err := toml.NewDecoder(r).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("decode schema toml: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("decode schema toml: unknown keys %s", strings.Join(keys, ", "))
	}

	tables := make([]Table, 0, len(doc.Tables))
	for _, ft := range doc.Tables {
		table := Table{
			Name:         strings.TrimSpace(ft.Name),
			Description:  ft.Description,
			TenantScoped: ft.TenantScoped == nil || *ft.TenantScoped,
		}
		for _, fc := range ft.Columns {
			table.Columns = append(table.Columns, Column{
				Name:        strings.TrimSpace(fc.Name),
				Type:        strings.ToUpper(strings.TrimSpace(fc.Type)),
				Nullable:    fc.Nullable == nil || *fc.Nullable,
				PrimaryKey:  fc.PrimaryKey,
				ForeignKey:  strings.TrimSpace(fc.ForeignKey),
				Description: fc.Description,
			})
		}
		tables = append(tables, table)
	}

	relationships := make([]Relationship, 0, len(doc.Relationships))
	for _, raw := range doc.Relationships {
		rel, err := ParseRelationship(raw)
		if err != nil {
			return nil, err
		}
		relationships = append(relationships, rel)
	}

	name := doc.Name
	if name == "" {
		name = "custom"
	}
	return New(name, tables, relationships)
}
