// Package errclass maps agent error messages to a fixed taxonomy so the
// read API can aggregate failure modes across agents.
package errclass

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/storage"
)

// rule is one ordered classification rule. The first rule whose keywords
// all appear in the lowercased error message wins.
type rule struct {
	keywords    []string
	category    model.ErrorCategory
	subcategory string
	severity    model.Severity
	fix         string
}

// Rules are ordered most-specific first. A query naming a table or column
// that does not exist means the schema context fed to the agent was stale
// or incomplete, so those land in context retrieval rather than SQL
// generation.
var rules = []rule{
	{[]string{"syntax error"}, model.ErrSQLGeneration, "syntax", model.SeverityHigh,
		"Review the SQL generation prompt; the model emits malformed SQL for this phrasing."},
	{[]string{"column", "does not exist"}, model.ErrContextRetrieval, "unknown_column", model.SeverityHigh,
		"Refresh the schema context supplied to the agent; it references columns that are not in the database."},
	{[]string{"no such column"}, model.ErrContextRetrieval, "unknown_column", model.SeverityHigh,
		"Refresh the schema context supplied to the agent; it references columns that are not in the database."},
	{[]string{"relation", "does not exist"}, model.ErrContextRetrieval, "unknown_table", model.SeverityHigh,
		"Refresh the schema context supplied to the agent; it references tables that are not in the database."},
	{[]string{"no such table"}, model.ErrContextRetrieval, "unknown_table", model.SeverityHigh,
		"Refresh the schema context supplied to the agent; it references tables that are not in the database."},
	{[]string{"schema", "does not exist"}, model.ErrContextRetrieval, "unknown_schema", model.SeverityHigh,
		"Refresh the schema context supplied to the agent; it references a schema that is not in the database."},
	{[]string{"ambiguous"}, model.ErrSQLGeneration, "ambiguous_reference", model.SeverityMedium,
		"Qualify column references with table names in the generation prompt."},
	{[]string{"permission denied"}, model.ErrIntegration, "permission", model.SeverityCritical,
		"Grant the agent's database role read access to the queried tables."},
	{[]string{"authentication failed"}, model.ErrIntegration, "auth", model.SeverityCritical,
		"Rotate or correct the agent database credentials."},
	{[]string{"connection refused"}, model.ErrIntegration, "connection", model.SeverityCritical,
		"Check database host, port, and network reachability from the agent."},
	{[]string{"could not connect"}, model.ErrIntegration, "connection", model.SeverityCritical,
		"Check database host, port, and network reachability from the agent."},
	{[]string{"timeout"}, model.ErrIntegration, "timeout", model.SeverityHigh,
		"Add LIMIT clauses or indexes; the query exceeds the statement timeout."},
	{[]string{"timed out"}, model.ErrIntegration, "timeout", model.SeverityHigh,
		"Add LIMIT clauses or indexes; the query exceeds the statement timeout."},
	{[]string{"rate limit"}, model.ErrIntegration, "rate_limit", model.SeverityMedium,
		"Back off LLM calls or raise the provider quota."},
	{[]string{"context", "not found"}, model.ErrContextRetrieval, "missing_context", model.SeverityMedium,
		"Verify the retrieval index covers the tables this question needs."},
	{[]string{"no relevant", "schema"}, model.ErrContextRetrieval, "missing_schema", model.SeverityMedium,
		"Re-run schema discovery so retrieval has current table metadata."},
	{[]string{"embedding"}, model.ErrContextRetrieval, "embedding", model.SeverityMedium,
		"Check the embedding service; retrieval cannot vectorize the question."},
	{[]string{"division by zero"}, model.ErrDataError, "division_by_zero", model.SeverityLow,
		"Guard denominators with NULLIF in generated SQL."},
	{[]string{"invalid input syntax"}, model.ErrDataError, "type_mismatch", model.SeverityMedium,
		"Cast literals to the column type; the data does not parse as expected."},
	{[]string{"out of range"}, model.ErrDataError, "out_of_range", model.SeverityMedium,
		"Validate numeric ranges before casting in generated SQL."},
	{[]string{"null value"}, model.ErrDataError, "unexpected_null", model.SeverityLow,
		"Handle NULLs with COALESCE where the schema allows them."},
	{[]string{"max retries"}, model.ErrIntegration, "retry_exhausted", model.SeverityHigh,
		"An upstream dependency kept failing until the client gave up; check its availability."},
	{[]string{"unable to parse"}, model.ErrAgentLogic, "parse_failure", model.SeverityMedium,
		"The agent could not parse its own LLM response; tighten its output format."},
	{[]string{"empty response"}, model.ErrAgentLogic, "empty_response", model.SeverityMedium,
		"The agent returned nothing; check its LLM call and fallback path."},
}

// Classification is the outcome of classifying one error message.
type Classification struct {
	Category     model.ErrorCategory
	Subcategory  string
	Severity     model.Severity
	SuggestedFix string
}

// Classify applies the ordered rules. Unmatched messages land in UNKNOWN
// with medium severity so they still surface in aggregations.
func Classify(message string) Classification {
	lower := strings.ToLower(message)
	for _, r := range rules {
		if containsAll(lower, r.keywords) {
			return Classification{
				Category:     r.category,
				Subcategory:  r.subcategory,
				Severity:     r.severity,
				SuggestedFix: r.fix,
			}
		}
	}
	return Classification{
		Category:     model.ErrUnknown,
		Subcategory:  "unclassified",
		Severity:     model.SeverityMedium,
		SuggestedFix: "Inspect the raw error message; no classification rule matched.",
	}
}

func containsAll(s string, keywords []string) bool {
	for _, k := range keywords {
		if !strings.Contains(s, k) {
			return false
		}
	}
	return true
}

// Classifier persists classified errors.
type Classifier struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewClassifier creates a Classifier backed by the platform DB.
func NewClassifier(db *storage.DB, logger *slog.Logger) *Classifier {
	return &Classifier{db: db, logger: logger}
}

// Record classifies the message and upserts one row per
// (query_id, category, subcategory); repeats increment frequency_count.
func (c *Classifier) Record(ctx context.Context, queryID, message string) (model.ErrorRecord, error) {
	cls := Classify(message)
	fix := cls.SuggestedFix
	rec := model.ErrorRecord{
		QueryID:      queryID,
		Category:     cls.Category,
		Subcategory:  cls.Subcategory,
		ErrorMessage: message,
		Severity:     cls.Severity,
		SuggestedFix: &fix,
	}
	if err := c.db.UpsertErrorRecord(ctx, rec); err != nil {
		return rec, err
	}
	c.logger.Debug("error classified",
		"query_id", queryID, "category", cls.Category, "subcategory", cls.Subcategory)
	return rec, nil
}
