package groundtruth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/model"
)

// TableSample is up to a few live rows from one agent table, shown to the
// model so generated filters use values that actually exist.
type TableSample struct {
	Schema  string
	Table   string
	Columns []string
	Rows    [][]any
}

// promptSampleTables caps how many tables appear in the prompt.
const promptSampleTables = 10

const generationSystemPrompt = `You are an expert SQL query generator. You write realistic, executable test queries for text-to-SQL evaluation. Respond with strict JSON only.`

// buildGenerationPrompt assembles the full-generation prompt for one batch.
func buildGenerationPrompt(agentName string, dialect agentdb.Dialect, cols []model.DiscoveredColumn, rels []agentdb.Relationship, samples []TableSample, numQueries int) string {
	var b strings.Builder

	fmt.Fprintf(&b, `Generate %d realistic, executable SQL test queries for a %s database.

# SYSTEM CONTEXT
- Agent Name: %s
- Database Type: %s

%s
# DATABASE SCHEMA
%s

# TABLE RELATIONSHIPS (foreign keys for JOINs)
%s

# SAMPLE DATA (actual values from the database)
%s

# GENERATION REQUIREMENTS

## Query distribution (exactly %d queries):
- %d simple SELECT queries (single table, basic WHERE filters)
- %d aggregation queries (COUNT, SUM, AVG, MAX, MIN with GROUP BY)
- %d JOIN queries (use the relationships above when available)
- %d date/time or complex queries (subqueries, HAVING, window functions)

## Quality rules:
- Use ONLY table and column names from the schema above
- Use ONLY filter values that exist in the sample data
- All JOINs must follow the relationships listed above
- Every query must be executable without errors
- Natural language should be clear and business-oriented

# OUTPUT FORMAT (STRICT JSON)
Return ONLY a valid JSON array. No extra text, no markdown, no explanations.

[
  {"natural_language": "question here", "sql": "SQL here"},
  ...
]

Generate %d high-quality queries now.`,
		numQueries, dialect, agentName, dialect,
		dialectSyntaxHints(dialect),
		formatSchema(cols),
		formatRelationships(rels),
		formatSamples(samples),
		numQueries,
		numQueries*40/100, numQueries*30/100, numQueries*20/100, numQueries*10/100,
		numQueries,
	)
	return b.String()
}

// buildIncrementalPrompt scopes generation to newly added tables/columns.
func buildIncrementalPrompt(agentName string, dialect agentdb.Dialect, newCols []model.DiscoveredColumn, samples []TableSample, numQueries int) string {
	return fmt.Sprintf(`Generate %d SQL queries for the NEW tables and columns below.

Database Type: %s
Agent: %s

NEW schemas (just added):
%s

Sample Data:
%s

Generate %d diverse queries focusing on these NEW schemas:
- Simple SELECT queries (40%%)
- Aggregations with COUNT, SUM, AVG, GROUP BY (30%%)
- WHERE clauses with various conditions (20%%)
- JOINs if relationships exist (10%%)

IMPORTANT: Return ONLY a valid JSON array with this exact format:
[
  {"natural_language": "question here", "sql": "SQL here"}
]

Do not include any markdown, explanations, or text outside the JSON array.`,
		numQueries, dialect, agentName,
		formatSchema(newCols),
		formatSamples(samples),
		numQueries,
	)
}

// formatSchema renders discovered columns as a nested schema/table listing.
func formatSchema(cols []model.DiscoveredColumn) string {
	if len(cols) == 0 {
		return "No schema information available"
	}

	type tableKey struct{ schema, table string }
	byTable := map[tableKey][]model.DiscoveredColumn{}
	var order []tableKey
	for _, c := range cols {
		k := tableKey{c.SchemaName, c.TableName}
		if _, seen := byTable[k]; !seen {
			order = append(order, k)
		}
		byTable[k] = append(byTable[k], c)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].schema != order[j].schema {
			return order[i].schema < order[j].schema
		}
		return order[i].table < order[j].table
	})

	var b strings.Builder
	lastSchema := ""
	for _, k := range order {
		if k.schema != lastSchema {
			fmt.Fprintf(&b, "\n## Schema: %s\n", k.schema)
			lastSchema = k.schema
		}
		fmt.Fprintf(&b, "\n### Table: %s\nColumns:\n", k.table)
		for _, c := range byTable[k] {
			fmt.Fprintf(&b, "  - %s: %s\n", c.ColumnName, c.DataType)
		}
	}
	return b.String()
}

func formatRelationships(rels []agentdb.Relationship) string {
	if len(rels) == 0 {
		return "No foreign key relationships discovered."
	}
	var b strings.Builder
	b.WriteString("Available JOINs:\n")
	for _, r := range rels {
		fmt.Fprintf(&b, "  - %s.%s.%s -> %s.%s\n",
			r.SchemaName, r.TableName, r.ColumnName, r.ReferencedTable, r.ReferencedColumn)
	}
	return b.String()
}

// formatSamples shows a few rows per table plus the distinct values of
// low-cardinality columns, which make usable filter literals.
func formatSamples(samples []TableSample) string {
	if len(samples) == 0 {
		return "No sample data available"
	}
	if len(samples) > promptSampleTables {
		samples = samples[:promptSampleTables]
	}

	var b strings.Builder
	for _, s := range samples {
		fmt.Fprintf(&b, "\n## Table: %s.%s\n", s.Schema, s.Table)
		if len(s.Rows) == 0 {
			b.WriteString("  (no data)\n")
			continue
		}

		shown := len(s.Rows)
		if shown > 3 {
			shown = 3
		}
		fmt.Fprintf(&b, "Sample rows (showing %d of %d):\n", shown, len(s.Rows))
		for i, row := range s.Rows[:shown] {
			enc, err := json.Marshal(row)
			if err != nil {
				continue
			}
			line := string(enc)
			if len(line) > 200 {
				line = line[:200] + "..."
			}
			fmt.Fprintf(&b, "  Row %d: %s\n", i+1, line)
		}

		if vals := categoricalValues(s); len(vals) > 0 {
			b.WriteString("\nValid values for filtering:\n")
			for _, cv := range vals {
				fmt.Fprintf(&b, "  - %s: %s\n", cv.column, strings.Join(cv.values, ", "))
			}
		}
	}
	return b.String()
}

type columnValues struct {
	column string
	values []string
}

// categoricalValues picks columns with between 2 and 10 distinct sampled
// values.
func categoricalValues(s TableSample) []columnValues {
	var out []columnValues
	for i, col := range s.Columns {
		var distinct []string
		seen := map[string]bool{}
		for _, row := range s.Rows {
			if i >= len(row) || row[i] == nil {
				continue
			}
			v := fmt.Sprintf("%v", row[i])
			if !seen[v] {
				seen[v] = true
				distinct = append(distinct, v)
			}
		}
		if len(distinct) > 1 && len(distinct) <= 10 {
			if len(distinct) > 5 {
				distinct = distinct[:5]
			}
			quoted := make([]string, len(distinct))
			for j, v := range distinct {
				quoted[j] = fmt.Sprintf("%q", v)
			}
			out = append(out, columnValues{column: col, values: quoted})
		}
	}
	return out
}

func dialectSyntaxHints(d agentdb.Dialect) string {
	switch d {
	case agentdb.DialectPostgres:
		return `# PostgreSQL syntax:
- Schema qualification: schema_name.table_name
- Date intervals: INTERVAL '30 days', DATE_TRUNC('month', col)
- Casting: col::integer or CAST(col AS integer)
`
	case agentdb.DialectMySQL:
		return "# MySQL syntax:\n- Table names with backticks\n- Date intervals: DATE_SUB(NOW(), INTERVAL 30 DAY)\n"
	case agentdb.DialectSQLite:
		return "# SQLite syntax:\n- Date functions: date('now'), datetime('now', '-30 days')\n"
	case agentdb.DialectMongo:
		return "# MongoDB aggregation pipeline syntax: $match, $group, $lookup stages.\n"
	}
	return ""
}
