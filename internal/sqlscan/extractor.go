// Package sqlscan extracts referenced tables and columns from SQL text and
// detects bulk access patterns. Parsing uses a real SQL grammar
// (github.com/xwb1989/sqlparser) so joins, subqueries, and aliases resolve
// correctly; the LIMIT heuristics are computed independently on the raw
// text so they survive parse failures.
package sqlscan

import (
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// ColumnRef is a column reference with its table alias when present.
// Table is empty when the reference could not be resolved to a table.
type ColumnRef struct {
	Table string `json:"table"`
	Name  string `json:"name"`
}

// Key renders the reference as "table.column" or a bare column name.
func (c ColumnRef) Key() string {
	if c.Table == "" {
		return c.Name
	}
	return c.Table + "." + c.Name
}

// Entities is the extraction result for one statement.
type Entities struct {
	Tables       []string
	Columns      []ColumnRef
	ParsedOK     bool
	MissingLimit bool
	Bulk         bool
}

var (
	limitRe      = regexp.MustCompile(`(?i)\blimit\b\s+\d+`)
	selectStarRe = regexp.MustCompile(`(?i)\bselect\s+\*\s+from\b`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Extract parses the statement and collects referenced entities. On parse
// failure it returns empty sets with ParsedOK=false; the policy engine maps
// that to ASK, never ALLOW. The limit flags are always populated.
func Extract(query string) Entities {
	ent := Entities{
		MissingLimit: missingLimit(query),
	}
	ent.Bulk = ent.MissingLimit || (selectStarRe.MatchString(query) && !limitRe.MatchString(query))

	stmt, err := sqlparser.Parse(query)
	if err != nil {
		return ent
	}
	ent.ParsedOK = true

	seenTables := map[string]bool{}
	seenCols := map[ColumnRef]bool{}

	addTable := func(name sqlparser.TableIdent) {
		t := strings.ToLower(name.String())
		if t == "" || seenTables[t] {
			return
		}
		seenTables[t] = true
		ent.Tables = append(ent.Tables, t)
	}
	addColumn := func(ref ColumnRef) {
		if ref.Name == "" || seenCols[ref] {
			return
		}
		seenCols[ref] = true
		ent.Columns = append(ent.Columns, ref)
	}

	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.AliasedTableExpr:
			// Schema qualifiers (public.users) are stripped: TableName.Name
			// already carries the rightmost segment.
			if tn, ok := n.Expr.(sqlparser.TableName); ok {
				addTable(tn.Name)
			}
		case *sqlparser.Insert:
			addTable(n.Table.Name)
		case *sqlparser.ColName:
			addColumn(ColumnRef{
				Table: strings.ToLower(n.Qualifier.Name.String()),
				Name:  n.Name.Lowered(),
			})
		case *sqlparser.StarExpr:
			addColumn(ColumnRef{
				Table: strings.ToLower(n.TableName.Name.String()),
				Name:  "*",
			})
		}
		return true, nil
	}, stmt)

	return ent
}

// missingLimit is true iff the normalized statement begins with SELECT and
// carries no LIMIT clause.
func missingLimit(query string) bool {
	s := strings.ToLower(strings.TrimSpace(query))
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.HasPrefix(s, "select") && !limitRe.MatchString(s)
}
