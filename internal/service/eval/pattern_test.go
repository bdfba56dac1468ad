package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternSelectStarNoLimit(t *testing.T) {
	res := PatternScore("SELECT * FROM orders")
	assert.InDelta(t, 0.65, res.Score, 1e-9)
	assert.Len(t, res.Issues, 1)
}

func TestPatternAggregateWithStarNoGroupBy(t *testing.T) {
	res := PatternScore("SELECT *, COUNT(*) FROM orders")
	// -0.30 aggregate leak, -0.10 star without LIMIT.
	assert.InDelta(t, 0.35, res.Score, 1e-9)
	assert.Len(t, res.Issues, 2)
}

func TestPatternLimitWithoutOrderBy(t *testing.T) {
	res := PatternScore("SELECT id FROM t LIMIT 5")
	// -0.15 penalty, +0.05 specific columns, +0.05 LIMIT.
	assert.InDelta(t, 0.70, res.Score, 1e-9)
}

func TestPatternCommaJoinWithoutWhere(t *testing.T) {
	res := PatternScore("SELECT name FROM a, b")
	assert.InDelta(t, 0.60, res.Score, 1e-9)
	assert.Contains(t, res.Issues[0], "cartesian")
}

func TestPatternWellFormedQueryClampsToOne(t *testing.T) {
	sql := `SELECT region, SUM(sales) AS total
		FROM orders
		JOIN customers ON orders.customer_id = customers.id
		WHERE region = 'EU'
		GROUP BY region
		ORDER BY total DESC
		LIMIT 10`
	res := PatternScore(sql)
	assert.Equal(t, 1.0, res.Score)
	assert.Empty(t, res.Issues)
	assert.NotEmpty(t, res.Strengths)
}

func TestPatternCommaJoinWithWhereNotPenalized(t *testing.T) {
	res := PatternScore("SELECT a.name FROM a, b WHERE a.id = b.a_id")
	for _, issue := range res.Issues {
		assert.NotContains(t, issue, "cartesian")
	}
}
