package eval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/model"
)

// Comparator constants.
const (
	// epsilon tolerates float noise introduced by JSON round-trips of the
	// stored expected output.
	compareEpsilon = 1e-4

	schemaMismatchScore   = 0.1
	rowCountMismatchScore = 0.3

	resultExecTimeout = 10 * time.Second
)

// ComparisonResult is the outcome of comparing two result sets.
type ComparisonResult struct {
	Match            bool    `json:"match"`
	Score            float64 `json:"score"`
	SchemaMatch      bool    `json:"schema_match"`
	RowCountMatch    bool    `json:"row_count_match"`
	ContentMatchRate float64 `json:"content_match_rate"`
	OrderingMatters  bool    `json:"ordering_matters"`
}

// CompareResults scores how closely two result sets agree. Column names are
// compared as case-insensitive multisets; row order matters only when either
// SQL carries an outer ORDER BY.
func CompareResults(cols1 []string, rows1 [][]any, cols2 []string, rows2 [][]any, sql1, sql2 string) ComparisonResult {
	res := ComparisonResult{}

	if !columnsMatch(cols1, cols2) {
		res.Score = schemaMismatchScore
		return res
	}
	res.SchemaMatch = true

	if len(rows1) != len(rows2) {
		res.Score = rowCountMismatchScore
		return res
	}
	res.RowCountMatch = true

	res.OrderingMatters = hasOuterOrderBy(sql1) || hasOuterOrderBy(sql2)
	if res.OrderingMatters {
		res.ContentMatchRate = compareOrdered(rows1, rows2)
	} else {
		res.ContentMatchRate = compareUnordered(rows1, rows2)
	}

	switch {
	case res.ContentMatchRate >= 0.99:
		res.Score, res.Match = 1.0, true
	case res.ContentMatchRate >= 0.95:
		res.Score, res.Match = 0.95, true
	case res.ContentMatchRate >= 0.80:
		res.Score = 0.80
	default:
		res.Score = res.ContentMatchRate
	}
	return res
}

// columnsMatch compares column-name multisets, case- and space-insensitive.
func columnsMatch(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, c := range a {
		counts[strings.ToLower(strings.TrimSpace(c))]++
	}
	for _, c := range b {
		counts[strings.ToLower(strings.TrimSpace(c))]--
	}
	for _, n := range counts {
		if n != 0 {
			return false
		}
	}
	return true
}

// hasOuterOrderBy ignores ORDER BY inside subqueries: only one after the
// last closing paren makes output order significant.
func hasOuterOrderBy(sql string) bool {
	if sql == "" {
		return false
	}
	upper := strings.ToUpper(sql)
	if i := strings.LastIndex(upper, ")"); i >= 0 {
		return strings.Contains(upper[i:], "ORDER BY")
	}
	return strings.Contains(upper, "ORDER BY")
}

func compareOrdered(rows1, rows2 [][]any) float64 {
	if len(rows1) == 0 {
		return 1.0
	}
	matched := 0
	for i := range rows1 {
		if rowsEqual(rows1[i], rows2[i]) {
			matched++
		}
	}
	return float64(matched) / float64(len(rows1))
}

func compareUnordered(rows1, rows2 [][]any) float64 {
	if len(rows1) == 0 {
		return 1.0
	}
	s1 := sortedCopy(rows1)
	s2 := sortedCopy(rows2)

	matched := 0
	for i := range s1 {
		if rowsEqual(s1[i], s2[i]) {
			matched++
		}
	}
	return float64(matched) / float64(len(s1))
}

func sortedCopy(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool {
		return sortKey(out[i]) < sortKey(out[j])
	})
	return out
}

// sortKey builds a canonical string key per row so mixed-type result sets
// still sort deterministically.
func sortKey(row []any) string {
	parts := make([]string, len(row))
	for i, v := range row {
		switch t := v.(type) {
		case nil:
			parts[i] = "0|"
		case float64:
			parts[i] = fmt.Sprintf("1|%020.6f", t)
		case int64:
			parts[i] = fmt.Sprintf("1|%020.6f", float64(t))
		case int:
			parts[i] = fmt.Sprintf("1|%020.6f", float64(t))
		case string:
			parts[i] = "2|" + strings.TrimSpace(t)
		default:
			parts[i] = "3|" + fmt.Sprintf("%v", t)
		}
	}
	return strings.Join(parts, "\x00")
}

func rowsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// valuesEqual normalizes numerics within epsilon and trims strings. NULL
// never equals a concrete value.
func valuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return math.Abs(fa-fb) < compareEpsilon
	}

	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr && bStr {
		return strings.TrimSpace(sa) == strings.TrimSpace(sb)
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// ResultValidation is the result-validation step of the ground-truth path.
type ResultValidation struct {
	Score            float64 `json:"score"`
	Confidence       float64 `json:"confidence"`
	ExecutionSuccess bool    `json:"execution_success"`
	SchemaMatch      bool    `json:"schema_match"`
	RowCountMatch    bool    `json:"row_count_match"`
	ContentMatchRate float64 `json:"content_match_rate"`
	CandidateTimeMS  float64 `json:"candidate_time_ms"`
	ReferenceTimeMS  float64 `json:"reference_time_ms"`
	Error            string  `json:"error,omitempty"`
}

// ValidateResult executes the candidate SQL and compares its output against
// the ground truth. When the matched record carries a stored expected
// output only the candidate runs; otherwise both statements execute live.
func ValidateResult(ctx context.Context, conn *agentdb.Conn, candidateSQL string, gt model.GroundTruthQuery) (ResultValidation, error) {
	candidate, err := conn.ExecuteSQL(ctx, candidateSQL, resultExecTimeout, agentdb.DefaultMaxRows)
	if err != nil {
		return ResultValidation{Error: err.Error()}, fmt.Errorf("eval: execute candidate: %w", err)
	}

	var cmp ComparisonResult
	var refMS float64
	if gt.ExpectedOutput != nil {
		cmp = compareAgainstStored(candidate, gt.ExpectedOutput, candidateSQL, gt.SQL)
	} else {
		reference, err := conn.ExecuteSQL(ctx, gt.SQL, resultExecTimeout, agentdb.DefaultMaxRows)
		if err != nil {
			return ResultValidation{ExecutionSuccess: true, Error: err.Error()},
				fmt.Errorf("eval: execute reference: %w", err)
		}
		refMS = reference.ExecutionTimeMS
		cmp = CompareResults(candidate.Columns, candidate.Rows, reference.Columns, reference.Rows, candidateSQL, gt.SQL)
	}

	return ResultValidation{
		Score:            cmp.Score,
		Confidence:       cmp.ContentMatchRate,
		ExecutionSuccess: true,
		SchemaMatch:      cmp.SchemaMatch,
		RowCountMatch:    cmp.RowCountMatch,
		ContentMatchRate: cmp.ContentMatchRate,
		CandidateTimeMS:  candidate.ExecutionTimeMS,
		ReferenceTimeMS:  refMS,
	}, nil
}

// compareAgainstStored checks the live candidate result against the sample
// captured at generation time. Only the stored sample rows are comparable,
// so the candidate rows are truncated to the sample size after the full
// row-count check.
func compareAgainstStored(candidate *agentdb.Result, expected *model.ExpectedOutput, candidateSQL, referenceSQL string) ComparisonResult {
	if !columnsMatch(candidate.Columns, expected.Columns) {
		return ComparisonResult{Score: schemaMismatchScore}
	}
	if candidate.RowCount != expected.RowCount {
		return ComparisonResult{SchemaMatch: true, Score: rowCountMismatchScore}
	}

	rows := candidate.Rows
	if len(rows) > len(expected.SampleRows) {
		rows = rows[:len(expected.SampleRows)]
	}
	cmp := CompareResults(candidate.Columns, rows, expected.Columns, expected.SampleRows, candidateSQL, referenceSQL)
	// Schema and row count already verified against the full result.
	cmp.SchemaMatch = true
	cmp.RowCountMatch = true
	return cmp
}
