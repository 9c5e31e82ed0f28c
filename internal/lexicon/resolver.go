// Package lexicon maps free-text hints onto schema identifiers.
//
// Resolution is a fixed cascade: exact name (including the singular form),
// then the alias tables, then containment. Anything else is unresolved and
// callers drop it rather than guess.
package lexicon

import (
	"cmp"
	"slices"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ledgerlens/ledgerlens/internal/catalog"
)

const minFuzzyHintLength = 3

type ColumnRef struct {
	Table  string
	Column string
}

func (r ColumnRef) String() string {
	return r.Table + "." + r.Column
}

type Resolver struct {
	tables  []TableAlias
	columns []ColumnAlias
	buckets []ContextBucket
}

func NewResolver() *Resolver {
	return NewResolverWith(DefaultTableAliases, DefaultColumnAliases, DefaultContextBuckets)
}

func NewResolverWith(tables []TableAlias, columns []ColumnAlias, buckets []ContextBucket) *Resolver {
	return &Resolver{
		tables:  slices.Clone(tables),
		columns: slices.Clone(columns),
		buckets: slices.Clone(buckets),
	}
}

func normalizeHint(hint string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(hint), `"'`+"`"))
}

func hintForms(hint string) []string {
	forms := []string{hint}
	if singular := inflection.Singular(hint); singular != hint {
		forms = append(forms, singular)
	}
	if underscored := strings.ReplaceAll(hint, " ", "_"); underscored != hint {
		forms = append(forms, underscored)
	}
	return forms
}

func (r *Resolver) ResolveTable(cat *catalog.Catalog, hint string) (string, bool) {
	h := normalizeHint(hint)
	if h == "" || cat == nil {
		return "", false
	}
	forms := hintForms(h)

	for _, form := range forms {
		if table, ok := cat.Table(form); ok {
			return table.Name, true
		}
	}
	for _, alias := range r.tables {
		for _, form := range forms {
			if slices.Contains(alias.Words, form) && cat.HasTable(alias.Table) {
				table, _ := cat.Table(alias.Table)
				return table.Name, true
			}
		}
	}
	if !fuzzyEligible(h) {
		return "", false
	}
	for _, name := range cat.TableNames() {
		lower := strings.ToLower(name)
		if strings.Contains(lower, h) || strings.Contains(h, lower) {
			return name, true
		}
	}
	return "", false
}

// NamesTable reports whether hint names a table exactly or through the alias
// table. Containment is not considered.
func (r *Resolver) NamesTable(cat *catalog.Catalog, hint string) bool {
	h := normalizeHint(hint)
	if h == "" || cat == nil {
		return false
	}
	forms := hintForms(h)
	for _, form := range forms {
		if cat.HasTable(form) {
			return true
		}
	}
	for _, alias := range r.tables {
		for _, form := range forms {
			if slices.Contains(alias.Words, form) && cat.HasTable(alias.Table) {
				return true
			}
		}
	}
	return false
}

// ExactColumn matches name against the tables without aliases or
// containment.
func (r *Resolver) ExactColumn(cat *catalog.Catalog, tables []string, name string) (ColumnRef, bool) {
	if cat == nil {
		return ColumnRef{}, false
	}
	for _, table := range tables {
		if col, ok := cat.Column(table, name); ok {
			return ColumnRef{Table: table, Column: col.Name}, true
		}
	}
	return ColumnRef{}, false
}

// ResolveColumn resolves hint against the given tables in order. Qualified
// hints ("table.column") are checked directly.
func (r *Resolver) ResolveColumn(cat *catalog.Catalog, tables []string, hint string) (ColumnRef, bool) {
	h := normalizeHint(hint)
	if h == "" || cat == nil {
		return ColumnRef{}, false
	}
	if table, column, ok := strings.Cut(h, "."); ok {
		if col, found := cat.Column(table, column); found {
			tbl, _ := cat.Table(table)
			return ColumnRef{Table: tbl.Name, Column: col.Name}, true
		}
		return ColumnRef{}, false
	}
	if len(tables) == 0 {
		return ColumnRef{}, false
	}
	forms := hintForms(h)

	for _, table := range tables {
		for _, form := range forms {
			if col, ok := cat.Column(table, form); ok {
				return ColumnRef{Table: table, Column: col.Name}, true
			}
		}
	}
	if alias, ok := r.columnAlias(forms); ok {
		if ref, found := firstColumn(cat, tables, alias.Targets); found {
			return ref, true
		}
	}
	if !fuzzyEligible(h) {
		return ColumnRef{}, false
	}
	for _, table := range tables {
		for _, column := range cat.ColumnNames(table) {
			lower := strings.ToLower(column)
			if strings.Contains(lower, h) || strings.Contains(h, lower) {
				return ColumnRef{Table: table, Column: column}, true
			}
		}
	}
	return ColumnRef{}, false
}

func (r *Resolver) columnAlias(forms []string) (ColumnAlias, bool) {
	for _, alias := range r.columns {
		for _, form := range forms {
			if form == alias.Hint || slices.Contains(alias.Words, form) {
				return alias, true
			}
		}
	}
	return ColumnAlias{}, false
}

// firstColumn walks targets in priority order and, for each, the tables in
// order; the first existing column wins.
func firstColumn(cat *catalog.Catalog, tables, targets []string) (ColumnRef, bool) {
	for _, target := range targets {
		for _, table := range tables {
			if col, ok := cat.Column(table, target); ok {
				return ColumnRef{Table: table, Column: col.Name}, true
			}
		}
	}
	return ColumnRef{}, false
}

func fuzzyEligible(hint string) bool {
	return len(hint) >= minFuzzyHintLength && !IsStopWord(hint)
}

// TablesMentioned scans text for table names, then for alias vocabulary, and
// returns the tables in the order the text first mentions them. Words already
// claimed by a direct match are not reused by an alias.
func (r *Resolver) TablesMentioned(cat *catalog.Catalog, text string) []string {
	if cat == nil {
		return nil
	}
	tokens := Tokenize(text)
	claimed := make([]bool, len(tokens))
	firstAt := map[string]int{}
	var out []string
	mention := func(name string, pos int) {
		seen, ok := firstAt[name]
		if !ok {
			out = append(out, name)
		}
		if !ok || pos < seen {
			firstAt[name] = pos
		}
	}

	for _, name := range cat.TableNames() {
		for _, phrase := range []string{name, inflection.Plural(name), strings.ReplaceAll(inflection.Plural(strings.ReplaceAll(name, "_", " ")), " ", "_")} {
			positions, width := findPhrase(tokens, phrase)
			for _, pos := range positions {
				for k := pos; k < pos+width; k++ {
					claimed[k] = true
				}
				mention(name, pos)
			}
		}
	}

	for _, alias := range r.tables {
		table, ok := cat.Table(alias.Table)
		if !ok {
			continue
		}
		for i, token := range tokens {
			if !claimed[i] && slices.Contains(alias.Words, token) {
				mention(table.Name, i)
				break
			}
		}
	}

	slices.SortStableFunc(out, func(a, b string) int { return cmp.Compare(firstAt[a], firstAt[b]) })
	return out
}

// InferTables applies the context buckets to text.
func (r *Resolver) InferTables(cat *catalog.Catalog, text string) []string {
	if cat == nil {
		return nil
	}
	tokens := Tokenize(text)
	var out []string
	for _, bucket := range r.buckets {
		hit := false
		for _, keyword := range bucket.Keywords {
			if ContainsPhrase(tokens, keyword) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		for _, name := range bucket.Tables {
			if table, ok := cat.Table(name); ok && !slices.Contains(out, table.Name) {
				out = append(out, table.Name)
			}
		}
	}
	return out
}

// ColumnsMentioned returns columns of tables named in text, first by direct
// name and then through the alias table.
func (r *Resolver) ColumnsMentioned(cat *catalog.Catalog, tables []string, text string) []ColumnRef {
	if cat == nil || len(tables) == 0 {
		return nil
	}
	tokens := Tokenize(text)
	var out []ColumnRef
	add := func(ref ColumnRef) {
		if !slices.Contains(out, ref) {
			out = append(out, ref)
		}
	}
	for _, table := range tables {
		for _, column := range cat.ColumnNames(table) {
			if ContainsPhrase(tokens, column) {
				add(ColumnRef{Table: table, Column: column})
			}
		}
	}
	for _, alias := range r.columns {
		for _, word := range alias.Words {
			if !slices.Contains(tokens, word) {
				continue
			}
			if ref, ok := firstColumn(cat, tables, alias.Targets); ok {
				add(ref)
			}
			break
		}
	}
	return out
}
