package agentdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/tessen-ai/kanshi/internal/model"
)

// Relationship links a foreign-key-like column to its referenced table.
type Relationship struct {
	SchemaName       string `json:"schema_name"`
	TableName        string `json:"table_name"`
	ColumnName       string `json:"column_name"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
	// Declared is true when the engine reports a real FK constraint;
	// false when inferred from the <entity>_id naming convention.
	Declared bool `json:"declared"`
}

// DiscoverRelationships finds declared foreign keys where the engine exposes
// them and supplements with naming-convention inference, since many agent
// schemas skip FK constraints entirely.
func (c *Conn) DiscoverRelationships(ctx context.Context, cols []model.DiscoveredColumn) ([]Relationship, error) {
	var rels []Relationship

	switch c.dialect {
	case DialectPostgres:
		declared, err := c.declaredForeignKeys(ctx, `
			SELECT tc.table_schema, tc.table_name, kcu.column_name,
			       ccu.table_name, ccu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
			  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
			JOIN information_schema.constraint_column_usage ccu
			  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
			WHERE tc.constraint_type = 'FOREIGN KEY'`)
		if err != nil {
			return nil, err
		}
		rels = append(rels, declared...)
	case DialectMySQL:
		declared, err := c.declaredForeignKeys(ctx, `
			SELECT table_schema, table_name, column_name,
			       referenced_table_name, referenced_column_name
			FROM information_schema.key_column_usage
			WHERE referenced_table_name IS NOT NULL`)
		if err != nil {
			return nil, err
		}
		rels = append(rels, declared...)
	}

	rels = append(rels, inferConventionRelationships(cols, rels)...)
	return rels, nil
}

func (c *Conn) declaredForeignKeys(ctx context.Context, query string) ([]Relationship, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("agentdb: query foreign keys: %w", err)
	}
	defer rows.Close()

	var rels []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.SchemaName, &r.TableName, &r.ColumnName, &r.ReferencedTable, &r.ReferencedColumn); err != nil {
			return nil, fmt.Errorf("agentdb: scan foreign key: %w", err)
		}
		r.Declared = true
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// inferConventionRelationships guesses that a column named <entity>_id
// references a table named <entity> or <entity>s when such a table exists.
func inferConventionRelationships(cols []model.DiscoveredColumn, declared []Relationship) []Relationship {
	tables := map[string]bool{}
	for _, c := range cols {
		tables[strings.ToLower(c.TableName)] = true
	}
	covered := map[string]bool{}
	for _, r := range declared {
		covered[strings.ToLower(r.TableName)+"."+strings.ToLower(r.ColumnName)] = true
	}

	var rels []Relationship
	for _, c := range cols {
		name := strings.ToLower(c.ColumnName)
		if !strings.HasSuffix(name, "_id") || name == "_id" {
			continue
		}
		if covered[strings.ToLower(c.TableName)+"."+name] {
			continue
		}
		entity := strings.TrimSuffix(name, "_id")
		var target string
		switch {
		case tables[entity+"s"] && entity+"s" != strings.ToLower(c.TableName):
			target = entity + "s"
		case tables[entity] && entity != strings.ToLower(c.TableName):
			target = entity
		default:
			continue
		}
		rels = append(rels, Relationship{
			SchemaName:       c.SchemaName,
			TableName:        c.TableName,
			ColumnName:       c.ColumnName,
			ReferencedTable:  target,
			ReferencedColumn: "id",
			Declared:         false,
		})
	}
	return rels
}
