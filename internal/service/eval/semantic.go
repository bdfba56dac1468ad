package eval

import (
	"regexp"
	"strings"
)

// Component weights for semantic SQL similarity. SELECT carries the most
// signal: it decides what the query answers with.
var semanticWeights = []struct {
	name   string
	weight float64
}{
	{"select", 0.40},
	{"from", 0.15},
	{"where", 0.20},
	{"group_by", 0.10},
	{"order_by", 0.10},
	{"joins", 0.05},
}

// sqlComponents is the structural decomposition of one SELECT statement.
type sqlComponents struct {
	Select  []string
	From    []string
	Where   []string
	GroupBy []string
	OrderBy []string
	Joins   []string
}

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reSelect     = regexp.MustCompile(`select\s+(.*?)\s+from`)
	reFrom       = regexp.MustCompile(`from\s+([\w.]+)`)
	reWhere      = regexp.MustCompile(`where\s+(.*?)(?:\s+group\s+by|\s+order\s+by|\s+limit|$)`)
	reGroupBy    = regexp.MustCompile(`group\s+by\s+(.*?)(?:\s+having|\s+order\s+by|\s+limit|$)`)
	reOrderBy    = regexp.MustCompile(`order\s+by\s+(.*?)(?:\s+limit|$)`)
	reJoin       = regexp.MustCompile(`(?:inner|left|right|full)?\s*join\s+([\w.]+)`)

	reColumnAlias  = regexp.MustCompile(`\s+as\s+\w+`)
	reTableAlias   = regexp.MustCompile(`^([\w.]+)\s+\w+$`)
	reSchemaPrefix = regexp.MustCompile(`^\w+\.(\w+)$`)
	reFuncCall     = regexp.MustCompile(`(\w+)\(([^)]+)\)`)
	reInnerAlias   = regexp.MustCompile(`\w+\.(\w+)`)
)

// SemanticChecker compares two SQL strings by decomposing them into
// components and scoring the overlap of each. Schema context lets it strip
// table-qualifier prefixes only when the suffix is a known column.
type SemanticChecker struct {
	columns map[string]bool
	tables  map[string]bool
}

// NewSemanticChecker builds a checker over the agent's discovered columns.
// A nil or empty column list disables the schema-aware qualifier stripping
// guard (all qualifiers are stripped).
func NewSemanticChecker(columns, tables []string) *SemanticChecker {
	c := &SemanticChecker{
		columns: make(map[string]bool, len(columns)),
		tables:  make(map[string]bool, len(tables)),
	}
	for _, col := range columns {
		c.columns[strings.ToLower(col)] = true
	}
	for _, t := range tables {
		c.tables[strings.ToLower(t)] = true
	}
	return c
}

// Similarity scores how close a candidate SQL is to the reference, in [0,1].
// Identical statements after normalization score 1.0 without decomposition.
func (c *SemanticChecker) Similarity(candidate, reference string) (float64, map[string]float64) {
	n1 := normalizeSQL(candidate)
	n2 := normalizeSQL(reference)
	if n1 == n2 {
		return 1.0, map[string]float64{"exact": 1.0}
	}

	comp1 := extractComponents(candidate)
	comp2 := extractComponents(reference)

	parts := map[string][2][]string{
		"select":   {c.normalizeList(comp1.Select), c.normalizeList(comp2.Select)},
		"from":     {c.normalizeList(comp1.From), c.normalizeList(comp2.From)},
		"where":    {comp1.Where, comp2.Where}, // conditions compared raw
		"group_by": {c.normalizeList(comp1.GroupBy), c.normalizeList(comp2.GroupBy)},
		"order_by": {c.normalizeList(comp1.OrderBy), c.normalizeList(comp2.OrderBy)},
		"joins":    {c.normalizeList(comp1.Joins), c.normalizeList(comp2.Joins)},
	}

	var total float64
	breakdown := make(map[string]float64, len(semanticWeights))
	for _, w := range semanticWeights {
		p := parts[w.name]
		score := overlapCoefficient(p[0], p[1])
		breakdown[w.name] = score
		total += score * w.weight
	}
	return total, breakdown
}

// normalizeSQL collapses whitespace, lowercases, and strips a trailing
// semicolon so cosmetic differences never affect comparison.
func normalizeSQL(sql string) string {
	sql = reWhitespace.ReplaceAllString(sql, " ")
	sql = strings.ToLower(sql)
	sql = strings.TrimSuffix(strings.TrimSpace(sql), ";")
	return strings.TrimSpace(sql)
}

func extractComponents(sql string) sqlComponents {
	norm := normalizeSQL(sql)
	var comp sqlComponents

	if m := reSelect.FindStringSubmatch(norm); m != nil {
		comp.Select = splitTrim(m[1])
	}
	if m := reFrom.FindStringSubmatch(norm); m != nil {
		comp.From = []string{m[1]}
	}
	if m := reWhere.FindStringSubmatch(norm); m != nil && strings.TrimSpace(m[1]) != "" {
		comp.Where = []string{strings.TrimSpace(m[1])}
	}
	if m := reGroupBy.FindStringSubmatch(norm); m != nil {
		comp.GroupBy = splitTrim(m[1])
	}
	if m := reOrderBy.FindStringSubmatch(norm); m != nil {
		comp.OrderBy = splitTrim(m[1])
	}
	for _, m := range reJoin.FindAllStringSubmatch(norm, -1) {
		comp.Joins = append(comp.Joins, m[1])
	}
	return comp
}

func splitTrim(clause string) []string {
	parts := strings.Split(clause, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalizeRef strips aliases and qualifier prefixes from one component item
// so "avg(o.profit) as avg_profit" and "avg(profit)" compare equal.
func (c *SemanticChecker) normalizeRef(item string) string {
	item = strings.ToLower(strings.TrimSpace(item))

	item = reColumnAlias.ReplaceAllString(item, "")
	item = reTableAlias.ReplaceAllString(item, "$1")
	item = reSchemaPrefix.ReplaceAllString(item, "$1")

	item = reFuncCall.ReplaceAllStringFunc(item, func(call string) string {
		m := reFuncCall.FindStringSubmatch(call)
		inner := reInnerAlias.ReplaceAllString(m[2], "$1")
		return m[1] + "(" + inner + ")"
	})

	if strings.Contains(item, ".") && !strings.Contains(item, "(") {
		parts := strings.SplitN(item, ".", 2)
		if len(parts) == 2 {
			suffix := strings.TrimSpace(parts[1])
			if len(c.columns) == 0 || c.columns[suffix] {
				item = suffix
			}
		}
	}
	return strings.TrimSpace(item)
}

func (c *SemanticChecker) normalizeList(items []string) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = c.normalizeRef(it)
	}
	return out
}

// overlapCoefficient is |A ∩ B| / min(|A|, |B|). Two empty sets match
// perfectly; one empty set against a non-empty one does not.
func overlapCoefficient(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	setA := make(map[string]bool, len(a))
	for _, s := range a {
		setA[strings.ToLower(strings.TrimSpace(s))] = true
	}
	setB := make(map[string]bool, len(b))
	for _, s := range b {
		setB[strings.ToLower(strings.TrimSpace(s))] = true
	}

	var inter int
	for s := range setA {
		if setB[s] {
			inter++
		}
	}
	minLen := len(setA)
	if len(setB) < minLen {
		minLen = len(setB)
	}
	if minLen == 0 {
		return 0.0
	}
	return float64(inter) / float64(minLen)
}
