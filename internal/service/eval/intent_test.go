package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newAnalyzer() *IntentAnalyzer {
	return NewIntentAnalyzer(map[string]string{
		"region":   "character varying",
		"category": "text",
		"price":    "numeric(10,2)",
		"sales":    "double precision",
		"id":       "integer",
	})
}

func TestIntentFullMatch(t *testing.T) {
	a := newAnalyzer()
	res := a.Evaluate("total sales per region", "SELECT region, SUM(sales) FROM orders GROUP BY region")
	assert.Equal(t, 1.0, res.Score)
	assert.ElementsMatch(t, []string{IntentSummation, IntentGrouping}, res.Matched)
	assert.Empty(t, res.Missing)
}

func TestIntentMissingOperations(t *testing.T) {
	a := newAnalyzer()
	res := a.Evaluate("average price per category", "SELECT category, price FROM products")
	assert.Contains(t, res.Missing, IntentAggregation)
	assert.Contains(t, res.Missing, IntentGrouping)
	assert.Equal(t, 0.0, res.Score)
}

func TestIntentNoRequestSimpleSQL(t *testing.T) {
	a := newAnalyzer()
	res := a.Evaluate("show all orders", "SELECT * FROM orders")
	assert.Equal(t, 1.0, res.Score)
	assert.Empty(t, res.Requested)
}

func TestIntentNoRequestComplexSQL(t *testing.T) {
	a := newAnalyzer()
	res := a.Evaluate("show orders", "SELECT customer_id, COUNT(*) FROM orders GROUP BY customer_id")
	// Complex default minus two unrequested-complexity penalties.
	assert.InDelta(t, 0.70, res.Score, 1e-9)
	assert.ElementsMatch(t, []string{IntentSummation, IntentGrouping}, res.Unrequested)
}

func TestIntentBareGroupingWordNeedsDimension(t *testing.T) {
	a := newAnalyzer()
	// "each" without a known dimension following it is not a grouping request.
	res := a.Evaluate("give me each and every record", "SELECT id FROM orders")
	assert.NotContains(t, res.Requested, IntentGrouping)
}

func TestIntentImplicitAscendingSort(t *testing.T) {
	a := newAnalyzer()
	res := a.Evaluate("cheapest products", "SELECT name FROM products ORDER BY price LIMIT 1")
	assert.Contains(t, res.Matched, IntentMinimization)
}

func TestIsNumericType(t *testing.T) {
	assert.True(t, isNumericType("numeric(10,2)"))
	assert.True(t, isNumericType("BIGINT"))
	assert.True(t, isNumericType("double precision"))
	assert.False(t, isNumericType("character varying"))
	assert.False(t, isNumericType("timestamp with time zone"))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.3))
	assert.Equal(t, 1.0, clamp01(1.4))
	assert.Equal(t, 0.5, clamp01(0.5))
}
