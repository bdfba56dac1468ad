package eval

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/model"
)

// StructuralResult is the outcome of two-stage SQL validation: a real
// EXPLAIN against the agent DB, then a regex check of table and column
// references against the cached discovered schema.
type StructuralResult struct {
	Valid                  bool              `json:"valid"`
	Score                  float64           `json:"score"` // 0.0, 0.5 or 1.0
	ErrorKind              agentdb.ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage           string            `json:"error_message,omitempty"`
	SchemaErrors           []string          `json:"schema_errors,omitempty"`
	RequiresClassification bool              `json:"requires_classification"`
}

// StructuralValidator checks SQL against one agent's schema. Build it once
// per evaluation from the agent's discovered columns.
type StructuralValidator struct {
	// table name (lowercase, unqualified) -> column set
	tables map[string]map[string]bool
	// schema.table -> column set, for qualified references
	qualified map[string]map[string]bool
}

var (
	reTableRef  = regexp.MustCompile(`(?i)(?:from|join)\s+([\w.]+)`)
	reColRef    = regexp.MustCompile(`(\w+)\.(\w+)`)
	reAliasDecl = regexp.MustCompile(`(?i)(?:from|join)\s+([\w.]+)\s+(?:as\s+)?(\w+)`)
)

// sqlKeywords that can trail a table reference and must not be mistaken
// for an alias declaration.
var sqlKeywords = map[string]bool{
	"where": true, "on": true, "inner": true, "left": true, "right": true,
	"full": true, "join": true, "group": true, "order": true, "limit": true,
	"having": true, "union": true, "cross": true, "using": true, "set": true,
}

// NewStructuralValidator indexes discovered columns for reference checks.
func NewStructuralValidator(cols []model.DiscoveredColumn) *StructuralValidator {
	v := &StructuralValidator{
		tables:    make(map[string]map[string]bool),
		qualified: make(map[string]map[string]bool),
	}
	for _, c := range cols {
		table := strings.ToLower(c.TableName)
		if v.tables[table] == nil {
			v.tables[table] = make(map[string]bool)
		}
		v.tables[table][strings.ToLower(c.ColumnName)] = true

		qual := strings.ToLower(c.SchemaName) + "." + table
		if v.qualified[qual] == nil {
			v.qualified[qual] = make(map[string]bool)
		}
		v.qualified[qual][strings.ToLower(c.ColumnName)] = true
	}
	return v
}

// Tables returns the known unqualified table names.
func (v *StructuralValidator) Tables() []string {
	out := make([]string, 0, len(v.tables))
	for t := range v.tables {
		out = append(out, t)
	}
	return out
}

// Columns returns the union of known column names across all tables.
func (v *StructuralValidator) Columns() []string {
	seen := map[string]bool{}
	var out []string
	for _, cols := range v.tables {
		for c := range cols {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// Validate runs the two stages. conn may be nil when the agent DB is
// unreachable; the EXPLAIN stage is then skipped and only the schema check
// contributes, so the score can still reach 1.0 on a clean query.
func (v *StructuralValidator) Validate(ctx context.Context, conn *agentdb.Conn, sql string) StructuralResult {
	if strings.TrimSpace(sql) == "" {
		return StructuralResult{
			Score:                  0.0,
			ErrorKind:              agentdb.ErrSyntax,
			ErrorMessage:           "empty SQL",
			RequiresClassification: true,
		}
	}

	if conn != nil {
		if err := conn.Explain(ctx, sql); err != nil {
			kind := agentdb.ClassifyError(err)
			return StructuralResult{
				Score:                  0.0,
				ErrorKind:              kind,
				ErrorMessage:           err.Error(),
				RequiresClassification: kind != agentdb.ErrOther,
			}
		}
	}

	schemaErrors := v.checkSchema(sql)
	if len(schemaErrors) > 0 {
		return StructuralResult{
			Score:        0.5,
			SchemaErrors: schemaErrors,
		}
	}
	return StructuralResult{Valid: true, Score: 1.0}
}

// checkSchema verifies FROM/JOIN table references and qualified column
// references against the cached schema. Unqualified table names resolve
// when unambiguous; unknown qualifiers are assumed to be aliases of tables
// outside the cache and skipped.
func (v *StructuralValidator) checkSchema(sql string) []string {
	if len(v.tables) == 0 {
		return nil
	}
	norm := normalizeSQL(sql)
	var errs []string

	aliases := v.aliasMap(norm)

	for _, m := range reTableRef.FindAllStringSubmatch(norm, -1) {
		ref := strings.ToLower(m[1])
		if _, ok := v.resolveTable(ref); !ok {
			errs = append(errs, fmt.Sprintf("table %q not found in discovered schema", ref))
		}
	}

	for _, m := range reColRef.FindAllStringSubmatch(norm, -1) {
		prefix, col := strings.ToLower(m[1]), strings.ToLower(m[2])
		table := prefix
		if t, ok := aliases[prefix]; ok {
			table = t
		}
		cols, ok := v.resolveTable(table)
		if !ok {
			continue
		}
		if !cols[col] {
			errs = append(errs, fmt.Sprintf("column %q not found in table %q", col, table))
		}
	}
	return errs
}

// resolveTable accepts "table" or "schema.table" forms.
func (v *StructuralValidator) resolveTable(ref string) (map[string]bool, bool) {
	if cols, ok := v.qualified[ref]; ok {
		return cols, true
	}
	if i := strings.LastIndex(ref, "."); i >= 0 {
		ref = ref[i+1:]
	}
	cols, ok := v.tables[ref]
	return cols, ok
}

func (v *StructuralValidator) aliasMap(norm string) map[string]string {
	aliases := map[string]string{}
	for _, m := range reAliasDecl.FindAllStringSubmatch(norm, -1) {
		table, alias := strings.ToLower(m[1]), strings.ToLower(m[2])
		if sqlKeywords[alias] {
			continue
		}
		if i := strings.LastIndex(table, "."); i >= 0 {
			table = table[i+1:]
		}
		aliases[alias] = table
	}
	return aliases
}
