package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newChecker() *SemanticChecker {
	return NewSemanticChecker(
		[]string{"region", "profit", "sales", "id", "customer_id"},
		[]string{"orders", "customers"},
	)
}

func TestSimilarityIdenticalAfterNormalization(t *testing.T) {
	c := newChecker()
	score, breakdown := c.Similarity("SELECT * FROM orders;", "select   *   from orders")
	assert.Equal(t, 1.0, score)
	assert.Contains(t, breakdown, "exact")
}

func TestSimilarityAliasEquivalence(t *testing.T) {
	c := newChecker()
	sql1 := "SELECT c.region, AVG(o.profit) AS avg_profit FROM orders o JOIN customers c ON o.customer_id = c.id GROUP BY c.region"
	sql2 := "SELECT region, AVG(profit) FROM orders JOIN customers ON customer_id = id GROUP BY region"

	score, breakdown := c.Similarity(sql1, sql2)
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.Equal(t, 1.0, breakdown["select"])
	assert.Equal(t, 1.0, breakdown["group_by"])
	assert.Equal(t, 1.0, breakdown["joins"])
}

func TestSimilarityDivergentSelect(t *testing.T) {
	c := newChecker()
	score, breakdown := c.Similarity(
		"SELECT region FROM orders",
		"SELECT profit FROM orders",
	)
	assert.Equal(t, 0.0, breakdown["select"])
	assert.Equal(t, 1.0, breakdown["from"])
	assert.Less(t, score, 0.7)
}

func TestExtractComponents(t *testing.T) {
	comp := extractComponents("SELECT a, b FROM t WHERE x = 1 GROUP BY a ORDER BY b LIMIT 5")
	assert.Equal(t, []string{"a", "b"}, comp.Select)
	assert.Equal(t, []string{"t"}, comp.From)
	assert.Equal(t, []string{"x = 1"}, comp.Where)
	assert.Equal(t, []string{"a"}, comp.GroupBy)
	assert.Equal(t, []string{"b"}, comp.OrderBy)
	assert.Empty(t, comp.Joins)
}

func TestExtractJoins(t *testing.T) {
	comp := extractComponents("SELECT x FROM a LEFT JOIN b ON a.id = b.id INNER JOIN c ON b.id = c.id")
	assert.Equal(t, []string{"b", "c"}, comp.Joins)
}

func TestOverlapCoefficient(t *testing.T) {
	assert.Equal(t, 1.0, overlapCoefficient(nil, nil))
	assert.Equal(t, 0.0, overlapCoefficient([]string{"a"}, nil))
	assert.Equal(t, 0.5, overlapCoefficient([]string{"a", "b"}, []string{"b", "c"}))
	assert.Equal(t, 1.0, overlapCoefficient([]string{"a"}, []string{"a", "b", "c"}))
}

func TestNormalizeSQL(t *testing.T) {
	assert.Equal(t, "select * from t", normalizeSQL("  SELECT  *\n FROM   t ;  "))
}
