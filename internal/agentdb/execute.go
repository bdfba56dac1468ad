package agentdb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxRows caps result sets so a runaway SELECT cannot exhaust memory.
const DefaultMaxRows = 10000

// Result is the outcome of executing SQL against an agent database.
type Result struct {
	Columns         []string  `json:"columns"`
	Rows            [][]any   `json:"rows"`
	RowCount        int       `json:"row_count"`
	Truncated       bool      `json:"truncated"`
	ExecutionTimeMS float64   `json:"execution_time_ms"`
	ExecutedAt      time.Time `json:"executed_at"`
}

// ExecuteSQL runs a read query with a statement timeout and a row cap.
// Values are normalized to JSON-friendly forms (see normalizeValue).
func (c *Conn) ExecuteSQL(ctx context.Context, query string, timeout time.Duration, maxRows int) (*Result, error) {
	if c.dialect == DialectMongo {
		return nil, fmt.Errorf("agentdb: SQL execution not supported for %s", c.dialect)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return c.query(ctx, query, maxRows)
}

func (c *Conn) query(ctx context.Context, query string, maxRows int) (*Result, error) {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("agentdb: execute: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("agentdb: columns: %w", err)
	}

	res := &Result{Columns: cols, ExecutedAt: start.UTC()}
	scan := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range scan {
		ptrs[i] = &scan[i]
	}

	for rows.Next() {
		if res.RowCount >= maxRows {
			res.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("agentdb: scan row: %w", err)
		}
		row := make([]any, len(cols))
		for i, v := range scan {
			row[i] = normalizeValue(v)
		}
		res.Rows = append(res.Rows, row)
		res.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agentdb: iterate rows: %w", err)
	}

	res.ExecutionTimeMS = float64(time.Since(start).Microseconds()) / 1000.0
	return res, nil
}

// Explain asks the engine to plan the query without running it. A nil error
// means the SQL is at least syntactically valid and references existing
// relations; the returned error text feeds failure classification.
func (c *Conn) Explain(ctx context.Context, query string) error {
	if c.dialect == DialectMongo {
		return fmt.Errorf("agentdb: EXPLAIN not supported for %s", c.dialect)
	}
	prefix := "EXPLAIN "
	if c.dialect == DialectSQLite {
		prefix = "EXPLAIN QUERY PLAN "
	}
	rows, err := c.db.QueryContext(ctx, prefix+query)
	if err != nil {
		return err
	}
	return rows.Close()
}

// normalizeValue maps driver values to JSON-friendly forms: byte slices
// become strings (numeric strings become numbers), timestamps become
// RFC 3339 strings. Matching the serialization used at ground-truth
// generation time keeps stored and live results comparable.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		s := string(t)
		// MySQL and Postgres return DECIMAL as text; compare as numbers.
		if f, err := strconv.ParseFloat(s, 64); err == nil && looksNumeric(s) {
			return f
		}
		return s
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case sql.NullString:
		if !t.Valid {
			return nil
		}
		return t.String
	default:
		return v
	}
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' && i > 0:
		case (r == '-' || r == '+') && i == 0:
		default:
			return false
		}
	}
	return true
}

// ErrorKind classifies an execution failure for structural validation.
type ErrorKind string

const (
	ErrSyntax          ErrorKind = "SYNTAX_ERROR"
	ErrUndefinedTable  ErrorKind = "UNDEFINED_TABLE"
	ErrUndefinedColumn ErrorKind = "UNDEFINED_COLUMN"
	ErrOther           ErrorKind = "OTHER"
)

// ClassifyError maps an engine error message to a coarse failure kind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax"):
		return ErrSyntax
	case strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "no such table"),
		strings.Contains(msg, "doesn't exist") && strings.Contains(msg, "table"):
		return ErrUndefinedTable
	case strings.Contains(msg, "column") && (strings.Contains(msg, "does not exist") || strings.Contains(msg, "unknown") || strings.Contains(msg, "no such")):
		return ErrUndefinedColumn
	default:
		return ErrOther
	}
}
