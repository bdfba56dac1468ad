package errclass

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tessen-ai/kanshi/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		message     string
		category    model.ErrorCategory
		subcategory string
		severity    model.Severity
	}{
		{`syntax error at or near "FORM"`, model.ErrSQLGeneration, "syntax", model.SeverityHigh},
		{`column "revenu" does not exist`, model.ErrContextRetrieval, "unknown_column", model.SeverityHigh},
		{`no such column: revenu`, model.ErrContextRetrieval, "unknown_column", model.SeverityHigh},
		{`relation "orderz" does not exist`, model.ErrContextRetrieval, "unknown_table", model.SeverityHigh},
		{`no such table: orderz`, model.ErrContextRetrieval, "unknown_table", model.SeverityHigh},
		{`schema "finance" does not exist`, model.ErrContextRetrieval, "unknown_schema", model.SeverityHigh},
		{`column reference "id" is ambiguous`, model.ErrSQLGeneration, "ambiguous_reference", model.SeverityMedium},
		{`FATAL: permission denied for table orders`, model.ErrIntegration, "permission", model.SeverityCritical},
		{`dial tcp 10.0.0.5:5432: connection refused`, model.ErrIntegration, "connection", model.SeverityCritical},
		{`canceling statement due to statement timeout`, model.ErrIntegration, "timeout", model.SeverityHigh},
		{`LLM provider rate limit exceeded`, model.ErrIntegration, "rate_limit", model.SeverityMedium},
		{`retrieval context not found for question`, model.ErrContextRetrieval, "missing_context", model.SeverityMedium},
		{`embedding request failed with 503`, model.ErrContextRetrieval, "embedding", model.SeverityMedium},
		{`ERROR: division by zero`, model.ErrDataError, "division_by_zero", model.SeverityLow},
		{`invalid input syntax for type numeric: "n/a"`, model.ErrDataError, "type_mismatch", model.SeverityMedium},
		{`max retries exceeded for url`, model.ErrIntegration, "retry_exhausted", model.SeverityHigh},
		{`unable to parse model output as SQL`, model.ErrAgentLogic, "parse_failure", model.SeverityMedium},
		{`something entirely novel happened`, model.ErrUnknown, "unclassified", model.SeverityMedium},
	}

	for _, tt := range tests {
		cls := Classify(tt.message)
		assert.Equal(t, tt.category, cls.Category, "message %q", tt.message)
		assert.Equal(t, tt.subcategory, cls.Subcategory, "message %q", tt.message)
		assert.Equal(t, tt.severity, cls.Severity, "message %q", tt.message)
		assert.NotEmpty(t, cls.SuggestedFix)
	}
}

func TestClassifyRuleOrdering(t *testing.T) {
	// A message matching both a column rule and the generic timeout rule
	// takes the more specific column rule listed first.
	cls := Classify(`column "x" does not exist (after timeout retry)`)
	assert.Equal(t, model.ErrContextRetrieval, cls.Category)
	assert.Equal(t, "unknown_column", cls.Subcategory)
}

// Missing relations and columns mean the schema context fed to the agent
// was wrong, not that the model wrote bad SQL.
func TestClassifySchemaReferencesAreContextRetrieval(t *testing.T) {
	cls := Classify(`ERROR: relation "nonexistent" does not exist (SQLSTATE 42P01)`)
	assert.Equal(t, model.ErrContextRetrieval, cls.Category)
	assert.Equal(t, "unknown_table", cls.Subcategory)

	cls = Classify(`ERROR: column "profit_margin" does not exist (SQLSTATE 42703)`)
	assert.Equal(t, model.ErrContextRetrieval, cls.Category)
	assert.Equal(t, "unknown_column", cls.Subcategory)
}

// Exhausted retries against an upstream service are an integration failure.
func TestClassifyRetryExhaustionIsIntegration(t *testing.T) {
	cls := Classify(`HTTPSConnectionPool(host='llm.internal', port=443): max retries exceeded for url`)
	assert.Equal(t, model.ErrIntegration, cls.Category)
	assert.Equal(t, "retry_exhausted", cls.Subcategory)
}

func TestClassifyCaseInsensitive(t *testing.T) {
	cls := Classify("SYNTAX ERROR NEAR SELECT")
	assert.Equal(t, model.ErrSQLGeneration, cls.Category)
}
