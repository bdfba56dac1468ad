package eval

import (
	"regexp"
	"strings"
)

// Intent categories detected from the natural-language question and matched
// against operations present in the SQL.
const (
	IntentFiltering    = "filtering"
	IntentSummation    = "summation"
	IntentAggregation  = "aggregation"
	IntentMaximization = "maximization"
	IntentMinimization = "minimization"
	IntentGrouping     = "grouping"
	IntentSorting      = "sorting"
	IntentLimiting     = "limiting"
	IntentJoining      = "joining"
	IntentCalculation  = "calculation"
)

// Scoring constants for the intent layer.
const (
	intentMissingPenalty     = 0.20
	intentUnrequestedPenalty = 0.05
	intentBonus              = 0.05
	// Complex SQL without any detectable requested intent still scores well;
	// the complexity just was not asked for.
	intentComplexDefault = 0.8
)

var intentKeywords = map[string][]string{
	IntentFiltering:    {"where", "filter", "only", "exclude", "specific", "with status", "for the", "in the"},
	IntentSummation:    {"total", "sum", "overall", "combined", "revenue", "sales", "amount", "how many", "count", "number of"},
	IntentAggregation:  {"average", "mean", "avg", "typical"},
	IntentMaximization: {"highest", "maximum", "max", "peak", "top", "most", "best", "largest", "biggest"},
	IntentMinimization: {"lowest", "minimum", "min", "bottom", "least", "worst", "smallest", "cheapest"},
	IntentGrouping:     {"per", "each", "group by", "breakdown", "split by", "grouped"},
	IntentSorting:      {"sorted", "sort", "ordered", "order by", "ranked", "ranking", "descending", "ascending"},
	IntentLimiting:     {"top", "first", "limit", "last"},
	IntentJoining:      {"along with", "together with", "combined with", "and their", "with their", "joined"},
	IntentCalculation:  {"ratio", "percentage", "percent", "difference", "per unit", "margin", "rate of"},
}

// intentsThatAddShape change the result shape; producing them unasked is
// penalized as unrequested complexity.
var intentsThatAddShape = map[string]bool{
	IntentSummation:   true,
	IntentAggregation: true,
	IntentGrouping:    true,
	IntentJoining:     true,
}

var (
	reSelectStar = regexp.MustCompile(`(?i)select\s+\*`)
	reArithmetic = regexp.MustCompile(`(?i)select\s+.*?[\w)]\s*[+\-*/]\s*[\w(]`)
)

// IntentAnalyzer scores whether the SQL performs the operations the
// question asked for. Column types from the discovered schema tell measure
// (numeric) from dimension (textual) columns so that "by <dimension>"
// phrasing reads as grouping without tripping on every bare "by".
type IntentAnalyzer struct {
	measures   []string
	dimensions []string
}

// NewIntentAnalyzer splits column names into measures and dimensions by
// data type.
func NewIntentAnalyzer(columnTypes map[string]string) *IntentAnalyzer {
	a := &IntentAnalyzer{}
	for col, typ := range columnTypes {
		if isNumericType(typ) {
			a.measures = append(a.measures, strings.ToLower(col))
		} else {
			a.dimensions = append(a.dimensions, strings.ToLower(col))
		}
	}
	return a
}

func isNumericType(t string) bool {
	t = strings.ToLower(t)
	for _, k := range []string{"int", "numeric", "decimal", "float", "double", "real", "money"} {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

// IntentResult carries the score plus the matched and missing intents for
// the evaluation record.
type IntentResult struct {
	Score       float64  `json:"score"`
	Requested   []string `json:"requested,omitempty"`
	Matched     []string `json:"matched,omitempty"`
	Missing     []string `json:"missing,omitempty"`
	Unrequested []string `json:"unrequested,omitempty"`
}

// Evaluate computes the intent-match score in [0,1].
func (a *IntentAnalyzer) Evaluate(question, sql string) IntentResult {
	q := strings.ToLower(question)
	s := strings.ToUpper(sql)

	var res IntentResult
	for intent := range intentKeywords {
		requested := a.requested(intent, q)
		fulfilled := fulfilled(intent, s)

		switch {
		case requested && fulfilled:
			res.Requested = append(res.Requested, intent)
			res.Matched = append(res.Matched, intent)
		case requested:
			res.Requested = append(res.Requested, intent)
			res.Missing = append(res.Missing, intent)
		case fulfilled && intentsThatAddShape[intent]:
			res.Unrequested = append(res.Unrequested, intent)
		}
	}

	if len(res.Requested) == 0 {
		if isComplexSQL(s) {
			res.Score = intentComplexDefault
		} else {
			res.Score = 1.0
		}
		res.Score = clamp01(res.Score - float64(len(res.Unrequested))*intentUnrequestedPenalty)
		return res
	}

	score := float64(len(res.Matched)) / float64(len(res.Requested))
	score -= float64(len(res.Missing)) * intentMissingPenalty
	score -= float64(len(res.Unrequested)) * intentUnrequestedPenalty

	// Bonuses: full coverage, explicit aliasing, and a specific column list
	// each signal the SQL was shaped for this question.
	if len(res.Missing) == 0 {
		score += intentBonus
	}
	if strings.Contains(s, " AS ") {
		score += intentBonus
	}
	if !reSelectStar.MatchString(sql) {
		score += intentBonus
	}

	res.Score = clamp01(score)
	return res
}

func (a *IntentAnalyzer) requested(intent, q string) bool {
	for _, kw := range intentKeywords[intent] {
		if strings.Contains(q, kw) {
			// Bare "per"/"each" only counts as grouping next to a known
			// dimension column; otherwise it is noise.
			if intent == IntentGrouping && (kw == "per" || kw == "each") {
				if !a.mentionsDimensionAfter(q, kw) {
					continue
				}
			}
			return true
		}
	}
	if intent == IntentGrouping && a.mentionsDimensionAfter(q, "by") {
		return true
	}
	return false
}

func (a *IntentAnalyzer) mentionsDimensionAfter(q, word string) bool {
	idx := strings.Index(q, word+" ")
	if idx < 0 {
		return false
	}
	rest := q[idx+len(word)+1:]
	for _, dim := range a.dimensions {
		if strings.HasPrefix(rest, dim) || strings.Contains(rest, " "+dim) {
			return true
		}
	}
	return false
}

func fulfilled(intent, sqlUpper string) bool {
	switch intent {
	case IntentFiltering:
		return strings.Contains(sqlUpper, "WHERE")
	case IntentSummation:
		return strings.Contains(sqlUpper, "SUM(") || strings.Contains(sqlUpper, "COUNT(")
	case IntentAggregation:
		return strings.Contains(sqlUpper, "AVG(")
	case IntentMaximization:
		return strings.Contains(sqlUpper, "MAX(") || strings.Contains(sqlUpper, "DESC")
	case IntentMinimization:
		if strings.Contains(sqlUpper, "MIN(") || strings.Contains(sqlUpper, " ASC") {
			return true
		}
		// ORDER BY without DESC is an implicit ascending sort.
		return strings.Contains(sqlUpper, "ORDER BY") && !strings.Contains(sqlUpper, "DESC")
	case IntentGrouping:
		return strings.Contains(sqlUpper, "GROUP BY")
	case IntentSorting:
		return strings.Contains(sqlUpper, "ORDER BY")
	case IntentLimiting:
		return strings.Contains(sqlUpper, "LIMIT")
	case IntentJoining:
		return strings.Contains(sqlUpper, "JOIN")
	case IntentCalculation:
		return reArithmetic.MatchString(sqlUpper) || strings.Contains(sqlUpper, "ROUND(")
	}
	return false
}

func isComplexSQL(sqlUpper string) bool {
	return hasAggregate(sqlUpper) ||
		strings.Contains(sqlUpper, "GROUP BY") ||
		strings.Contains(sqlUpper, "JOIN")
}

func hasAggregate(sqlUpper string) bool {
	for _, agg := range []string{"SUM(", "AVG(", "COUNT(", "MAX(", "MIN("} {
		if strings.Contains(sqlUpper, agg) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
