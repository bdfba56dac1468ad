// Package quality runs informational data-quality checks against an agent's
// database after schema discovery. Findings never block registration; they
// surface through the read API so operators can explain odd evaluations
// (a column that is 90% NULL will sink result comparisons, for example).
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/storage"
)

const (
	// nullRatioThreshold flags columns with more NULLs than this fraction.
	nullRatioThreshold = 0.20
	// maxGroupColumns bounds the duplicate-row GROUP BY width.
	maxGroupColumns = 10
	checkTimeout    = 15 * time.Second
)

// Validator runs checks and persists findings.
type Validator struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewValidator creates a Validator backed by the platform DB.
func NewValidator(db *storage.DB, logger *slog.Logger) *Validator {
	return &Validator{db: db, logger: logger.With("component", "quality")}
}

// Validate checks every discovered table and persists the issues found.
// Individual check failures are logged and skipped; validation is
// best-effort by contract.
func (v *Validator) Validate(ctx context.Context, agent model.Agent, conn *agentdb.Conn, cols []model.DiscoveredColumn, rels []agentdb.Relationship) ([]model.DataQualityIssue, error) {
	if conn.Dialect() == agentdb.DialectMongo {
		// Schemaless; the SQL checks below do not apply.
		return nil, nil
	}

	type tableKey struct{ schema, table string }
	byTable := map[tableKey][]string{}
	var order []tableKey
	for _, c := range cols {
		k := tableKey{c.SchemaName, c.TableName}
		if _, seen := byTable[k]; !seen {
			order = append(order, k)
		}
		byTable[k] = append(byTable[k], c.ColumnName)
	}

	now := time.Now().UTC()
	var issues []model.DataQualityIssue
	add := func(schema, table string, column *string, issueType, detail, severity string) {
		issues = append(issues, model.DataQualityIssue{
			AgentID:    agent.AgentID,
			SchemaName: schema,
			TableName:  table,
			ColumnName: column,
			IssueType:  issueType,
			Detail:     detail,
			Severity:   severity,
			DetectedAt: now,
		})
	}

	for _, k := range order {
		columns := byTable[k]
		qualified := agentdb.QualifyTable(conn.Dialect(), k.schema, k.table)

		total, err := v.rowCount(ctx, conn, qualified)
		if err != nil {
			v.logger.Debug("row count check failed", "table", qualified, "error", err)
			continue
		}
		if total == 0 {
			add(k.schema, k.table, nil, "empty_table", "table has no rows; sample data and result validation are unavailable", "info")
			continue
		}

		for col, nulls := range v.nullCounts(ctx, conn, qualified, columns) {
			ratio := float64(nulls) / float64(total)
			if ratio > nullRatioThreshold {
				add(k.schema, k.table, &col, "high_null_ratio",
					fmt.Sprintf("%.1f%% of %d rows are NULL", ratio*100, total), "warning")
			}
		}

		if dups, err := v.duplicateGroups(ctx, conn, qualified, columns); err == nil && dups > 0 {
			add(k.schema, k.table, nil, "duplicate_rows",
				fmt.Sprintf("%d duplicate row groups across the first %d columns", dups, min(len(columns), maxGroupColumns)), "info")
		}
	}

	for _, r := range rels {
		orphans, err := v.orphanCount(ctx, conn, r)
		if err != nil {
			v.logger.Debug("orphan check failed", "table", r.TableName, "column", r.ColumnName, "error", err)
			continue
		}
		if orphans > 0 {
			col := r.ColumnName
			add(r.SchemaName, r.TableName, &col, "orphaned_foreign_keys",
				fmt.Sprintf("%d rows reference missing %s.%s values", orphans, r.ReferencedTable, r.ReferencedColumn), "warning")
		}
	}

	if len(issues) > 0 {
		if err := v.db.InsertDataQualityIssues(ctx, issues); err != nil {
			return issues, fmt.Errorf("quality: persist issues: %w", err)
		}
	}
	v.logger.Info("data quality validation complete",
		"agent", agent.AgentName, "tables", len(order), "issues", len(issues))
	return issues, nil
}

func (v *Validator) rowCount(ctx context.Context, conn *agentdb.Conn, qualified string) (int64, error) {
	res, err := conn.ExecuteSQL(ctx, "SELECT COUNT(*) FROM "+qualified, checkTimeout, 1)
	if err != nil {
		return 0, err
	}
	return scalarInt(res)
}

// nullCounts computes per-column NULL counts in one scan:
// COUNT(*) minus COUNT(col) per column.
func (v *Validator) nullCounts(ctx context.Context, conn *agentdb.Conn, qualified string, columns []string) map[string]int64 {
	exprs := make([]string, len(columns))
	for i, col := range columns {
		exprs[i] = fmt.Sprintf("COUNT(*) - COUNT(%s)", agentdb.QuoteIdent(conn.Dialect(), col))
	}
	res, err := conn.ExecuteSQL(ctx,
		"SELECT "+strings.Join(exprs, ", ")+" FROM "+qualified, checkTimeout, 1)
	if err != nil || len(res.Rows) == 0 {
		v.logger.Debug("null ratio check failed", "table", qualified, "error", err)
		return nil
	}

	out := make(map[string]int64, len(columns))
	for i, col := range columns {
		if i < len(res.Rows[0]) {
			if n, ok := asInt64(res.Rows[0][i]); ok {
				out[col] = n
			}
		}
	}
	return out
}

func (v *Validator) duplicateGroups(ctx context.Context, conn *agentdb.Conn, qualified string, columns []string) (int64, error) {
	if len(columns) > maxGroupColumns {
		columns = columns[:maxGroupColumns]
	}
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = agentdb.QuoteIdent(conn.Dialect(), col)
	}
	colList := strings.Join(quoted, ", ")

	res, err := conn.ExecuteSQL(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) AS dup",
		colList, qualified, colList), checkTimeout, 1)
	if err != nil {
		return 0, err
	}
	return scalarInt(res)
}

// orphanCount counts child rows whose FK value has no matching parent row.
func (v *Validator) orphanCount(ctx context.Context, conn *agentdb.Conn, r agentdb.Relationship) (int64, error) {
	d := conn.Dialect()
	child := agentdb.QualifyTable(d, r.SchemaName, r.TableName)
	parent := agentdb.QualifyTable(d, r.SchemaName, r.ReferencedTable)
	fk := agentdb.QuoteIdent(d, r.ColumnName)
	ref := agentdb.QuoteIdent(d, r.ReferencedColumn)

	res, err := conn.ExecuteSQL(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM %s c LEFT JOIN %s p ON c.%s = p.%s WHERE c.%s IS NOT NULL AND p.%s IS NULL",
		child, parent, fk, ref, fk, ref), checkTimeout, 1)
	if err != nil {
		return 0, err
	}
	return scalarInt(res)
}

func scalarInt(res *agentdb.Result) (int64, error) {
	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return 0, fmt.Errorf("quality: empty scalar result")
	}
	n, ok := asInt64(res.Rows[0][0])
	if !ok {
		return 0, fmt.Errorf("quality: non-numeric scalar %v", res.Rows[0][0])
	}
	return n, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	}
	return 0, false
}
