package agentdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tessen-ai/kanshi/internal/model"
)

// Column-name candidates per query-log role. Matching is case-insensitive
// and exact against these lists.
var (
	queryTextNames = []string{"query_text", "question", "prompt", "user_query", "nl_query", "input"}
	sqlNames       = []string{"sql", "generated_sql", "sql_query", "query_sql"}
	timestampNames = []string{"timestamp", "created_at", "ts", "time", "logged_at", "executed_at"}
	statusNames    = []string{"status", "result", "outcome", "success"}
	errorNames     = []string{"error", "error_message", "err", "failure_reason"}
	idNames        = []string{"id", "query_id", "request_id", "uuid"}
)

// Role weights for scoring a candidate table. A table qualifies as a query
// log when its matched columns sum to at least minQueryLogScore.
const (
	weightQueryText  = 3
	weightSQL        = 3
	weightTimestamp  = 2
	weightStatus     = 1
	weightError      = 1
	minQueryLogScore = 6
)

type logCandidate struct {
	config model.QueryLogConfig
	score  int
}

// DetectQueryLog scans discovered columns for a table that looks like the
// agent's own request log. Returns ErrNoQueryLog when nothing scores high
// enough; many agents simply do not keep one.
func DetectQueryLog(cols []model.DiscoveredColumn) (model.QueryLogConfig, error) {
	type tableKey struct{ schema, table string }
	byTable := map[tableKey][]model.DiscoveredColumn{}
	for _, c := range cols {
		k := tableKey{c.SchemaName, c.TableName}
		byTable[k] = append(byTable[k], c)
	}

	var best *logCandidate
	for k, tableCols := range byTable {
		cand := logCandidate{config: model.QueryLogConfig{SchemaName: k.schema, TableName: k.table}}
		for _, col := range tableCols {
			name := strings.ToLower(col.ColumnName)
			switch {
			case cand.config.QueryTextColumn == "" && matches(name, queryTextNames):
				cand.config.QueryTextColumn = col.ColumnName
				cand.score += weightQueryText
			case cand.config.SQLColumn == nil && matches(name, sqlNames):
				c := col.ColumnName
				cand.config.SQLColumn = &c
				cand.score += weightSQL
			case cand.config.TimestampColumn == "" && matches(name, timestampNames):
				cand.config.TimestampColumn = col.ColumnName
				cand.score += weightTimestamp
			case cand.config.StatusColumn == nil && matches(name, statusNames):
				c := col.ColumnName
				cand.config.StatusColumn = &c
				cand.score += weightStatus
			case cand.config.ErrorColumn == nil && matches(name, errorNames):
				c := col.ColumnName
				cand.config.ErrorColumn = &c
				cand.score += weightError
			case cand.config.IDColumn == nil && matches(name, idNames):
				c := col.ColumnName
				cand.config.IDColumn = &c
			}
		}
		// A usable log needs at least the question and a timestamp to
		// anchor the poll watermark.
		if cand.config.QueryTextColumn == "" || cand.config.TimestampColumn == "" {
			continue
		}
		if cand.score >= minQueryLogScore && (best == nil || cand.score > best.score) {
			c := cand
			best = &c
		}
	}

	if best == nil {
		return model.QueryLogConfig{}, ErrNoQueryLog
	}
	return best.config, nil
}

// ErrNoQueryLog indicates no table in the agent DB resembles a query log.
var ErrNoQueryLog = fmt.Errorf("agentdb: no query log table detected")

func matches(name string, candidates []string) bool {
	for _, c := range candidates {
		if name == c {
			return true
		}
	}
	return false
}

// LogRow is one entry read from the agent's query-log table.
type LogRow struct {
	ID        *string
	QueryText string
	SQL       *string
	Status    *string
	Error     *string
	Timestamp time.Time
}

// pollBatchSize bounds one poll cycle's read.
const pollBatchSize = 100

// ReadQueryLog returns rows newer than the watermark in ascending timestamp
// order, at most pollBatchSize per call.
func (c *Conn) ReadQueryLog(ctx context.Context, cfg model.QueryLogConfig, after time.Time) ([]LogRow, error) {
	if c.dialect == DialectMongo {
		return nil, fmt.Errorf("agentdb: query log polling not supported for %s", c.dialect)
	}

	selects := []string{quoteIdent(c.dialect, cfg.QueryTextColumn), quoteIdent(c.dialect, cfg.TimestampColumn)}
	selects = append(selects, optionalSelect(c.dialect, cfg.SQLColumn))
	selects = append(selects, optionalSelect(c.dialect, cfg.StatusColumn))
	selects = append(selects, optionalSelect(c.dialect, cfg.ErrorColumn))
	selects = append(selects, optionalSelect(c.dialect, cfg.IDColumn))

	placeholder := "$1"
	if c.dialect == DialectMySQL || c.dialect == DialectSQLite {
		placeholder = "?"
	}
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s > %s ORDER BY %s ASC LIMIT %d`,
		strings.Join(selects, ", "),
		qualifyTable(c.dialect, cfg.SchemaName, cfg.TableName),
		quoteIdent(c.dialect, cfg.TimestampColumn),
		placeholder,
		quoteIdent(c.dialect, cfg.TimestampColumn),
		pollBatchSize,
	)

	rows, err := c.db.QueryContext(ctx, query, after)
	if err != nil {
		return nil, fmt.Errorf("agentdb: read query log: %w", err)
	}
	defer rows.Close()

	var out []LogRow
	for rows.Next() {
		var r LogRow
		var sqlCol, statusCol, errorCol, idCol any
		if err := rows.Scan(&r.QueryText, &r.Timestamp, &sqlCol, &statusCol, &errorCol, &idCol); err != nil {
			return nil, fmt.Errorf("agentdb: scan log row: %w", err)
		}
		r.SQL = anyToStringPtr(sqlCol)
		r.Status = anyToStringPtr(statusCol)
		r.Error = anyToStringPtr(errorCol)
		r.ID = anyToStringPtr(idCol)
		out = append(out, r)
	}
	return out, rows.Err()
}

// optionalSelect emits the column or NULL so the scan shape stays fixed.
func optionalSelect(dialect Dialect, col *string) string {
	if col == nil {
		return "NULL"
	}
	return quoteIdent(dialect, *col)
}

func quoteIdent(dialect Dialect, ident string) string {
	if dialect == DialectMySQL {
		return "`" + ident + "`"
	}
	return fmt.Sprintf("%q", ident)
}

func anyToStringPtr(v any) *string {
	normalized := normalizeValue(v)
	if normalized == nil {
		return nil
	}
	s := fmt.Sprintf("%v", normalized)
	return &s
}
