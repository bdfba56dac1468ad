package eval

import (
	"regexp"
	"strings"
)

// Pattern-layer constants. The base sits below the pass threshold so a
// query must earn bonuses to pass on structure alone.
const (
	patternBase = 0.75
	patternStep = 0.05

	penaltyAggNoGroup   = 0.30
	penaltyLimitNoOrder = 0.15
	penaltyStarNoLimit  = 0.10
	penaltyCommaJoin    = 0.20
)

var (
	reCommaJoin = regexp.MustCompile(`(?i)from\s+[\w.]+(?:\s+\w+)?\s*,\s*[\w.]+`)
	reSubquery  = regexp.MustCompile(`(?i)\(\s*select\b`)
	reJoinOn    = regexp.MustCompile(`(?i)join\s+[\w.]+(?:\s+\w+)?\s+on\b`)
)

// PatternResult is the pattern-layer score with the findings behind it.
type PatternResult struct {
	Score     float64  `json:"score"`
	Issues    []string `json:"issues,omitempty"`
	Strengths []string `json:"strengths,omitempty"`
}

// PatternScore checks SQL for logical pitfalls that survive a syntax check:
// aggregates leaking through SELECT *, non-deterministic LIMIT, cartesian
// joins. Good habits earn small bonuses above the base.
func PatternScore(sql string) PatternResult {
	upper := strings.ToUpper(sql)
	res := PatternResult{Score: patternBase}

	selectStar := reSelectStar.MatchString(sql)
	hasAgg := hasAggregate(upper)
	hasGroup := strings.Contains(upper, "GROUP BY")
	hasLimit := strings.Contains(upper, "LIMIT")
	hasOrder := strings.Contains(upper, "ORDER BY")
	hasWhere := strings.Contains(upper, "WHERE")
	hasJoin := strings.Contains(upper, "JOIN")

	if selectStar && hasAgg && !hasGroup {
		res.Score -= penaltyAggNoGroup
		res.Issues = append(res.Issues, "aggregate with SELECT * and no GROUP BY")
	}
	if hasLimit && !hasOrder {
		res.Score -= penaltyLimitNoOrder
		res.Issues = append(res.Issues, "LIMIT without ORDER BY is non-deterministic")
	}
	if selectStar && !hasLimit {
		res.Score -= penaltyStarNoLimit
		res.Issues = append(res.Issues, "SELECT * without LIMIT")
	}
	if reCommaJoin.MatchString(sql) && !hasWhere {
		res.Score -= penaltyCommaJoin
		res.Issues = append(res.Issues, "comma join without WHERE risks a cartesian product")
	}

	bonus := func(cond bool, what string) {
		if cond {
			res.Score += patternStep
			res.Strengths = append(res.Strengths, what)
		}
	}
	bonus(!selectStar, "specific column list")
	bonus(strings.Contains(upper, " AS "), "column aliases")
	bonus(hasJoin && reJoinOn.MatchString(sql), "explicit JOIN ... ON")
	bonus(hasWhere, "WHERE filter")
	bonus(hasGroup && hasAgg, "GROUP BY with aggregate")
	bonus(hasOrder, "ORDER BY")
	bonus(hasLimit, "LIMIT")
	bonus(reSubquery.MatchString(sql), "subquery")
	bonus(strings.Contains(upper, "HAVING"), "HAVING")

	res.Score = clamp01(res.Score)
	return res
}
