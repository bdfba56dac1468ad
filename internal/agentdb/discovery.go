package agentdb

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tessen-ai/kanshi/internal/model"
)

// DiscoverSchema enumerates every user table and column in the agent
// database. AgentID on the returned columns is left for the caller to fill.
func (c *Conn) DiscoverSchema(ctx context.Context) ([]model.DiscoveredColumn, error) {
	switch c.dialect {
	case DialectPostgres:
		return c.discoverInformationSchema(ctx, `
			SELECT table_schema, table_name, column_name, data_type, is_nullable = 'YES'
			FROM information_schema.columns
			WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
			ORDER BY table_schema, table_name, ordinal_position`)
	case DialectMySQL:
		return c.discoverInformationSchema(ctx, `
			SELECT table_schema, table_name, column_name, data_type, is_nullable = 'YES'
			FROM information_schema.columns
			WHERE table_schema NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')
			ORDER BY table_schema, table_name, ordinal_position`)
	case DialectSQLite:
		return c.discoverSQLite(ctx)
	case DialectMongo:
		return c.discoverMongo(ctx)
	default:
		return nil, fmt.Errorf("agentdb: discovery not supported for %s", c.dialect)
	}
}

func (c *Conn) discoverInformationSchema(ctx context.Context, query string) ([]model.DiscoveredColumn, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("agentdb: query information_schema: %w", err)
	}
	defer rows.Close()

	var cols []model.DiscoveredColumn
	for rows.Next() {
		var col model.DiscoveredColumn
		if err := rows.Scan(&col.SchemaName, &col.TableName, &col.ColumnName, &col.DataType, &col.IsNullable); err != nil {
			return nil, fmt.Errorf("agentdb: scan column: %w", err)
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (c *Conn) discoverSQLite(ctx context.Context) ([]model.DiscoveredColumn, error) {
	tables, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("agentdb: list sqlite tables: %w", err)
	}
	defer tables.Close()

	var names []string
	for tables.Next() {
		var name string
		if err := tables.Scan(&name); err != nil {
			return nil, fmt.Errorf("agentdb: scan sqlite table: %w", err)
		}
		names = append(names, name)
	}
	if err := tables.Err(); err != nil {
		return nil, err
	}

	var cols []model.DiscoveredColumn
	for _, table := range names {
		info, err := c.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
		if err != nil {
			return nil, fmt.Errorf("agentdb: pragma table_info %s: %w", table, err)
		}
		for info.Next() {
			var cid int
			var name, dtype string
			var notNull, pk int
			var dflt any
			if err := info.Scan(&cid, &name, &dtype, &notNull, &dflt, &pk); err != nil {
				info.Close()
				return nil, fmt.Errorf("agentdb: scan pragma row: %w", err)
			}
			cols = append(cols, model.DiscoveredColumn{
				SchemaName: "main",
				TableName:  table,
				ColumnName: name,
				DataType:   dtype,
				IsNullable: notNull == 0,
			})
		}
		if err := info.Err(); err != nil {
			info.Close()
			return nil, err
		}
		info.Close()
	}
	return cols, nil
}

// discoverMongo infers collection shape by sampling one document per
// collection. Mongo has no catalog of field types, so the sample is the
// best available picture.
func (c *Conn) discoverMongo(ctx context.Context) ([]model.DiscoveredColumn, error) {
	db := c.mongo.Database(c.mongoDB)
	collections, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("agentdb: list collections: %w", err)
	}
	sort.Strings(collections)

	var cols []model.DiscoveredColumn
	for _, coll := range collections {
		var doc bson.M
		err := db.Collection(coll).FindOne(ctx, bson.D{}, options.FindOne()).Decode(&doc)
		if err != nil {
			// Empty collection: record its existence with no fields.
			continue
		}
		fields := make([]string, 0, len(doc))
		for k := range doc {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		for _, field := range fields {
			cols = append(cols, model.DiscoveredColumn{
				SchemaName: c.mongoDB,
				TableName:  coll,
				ColumnName: field,
				DataType:   bsonTypeName(doc[field]),
				IsNullable: true,
			})
		}
	}
	return cols, nil
}

func bsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case int32, int64, int:
		return "int"
	case float64, float32:
		return "double"
	case bool:
		return "bool"
	case bson.M, bson.D:
		return "document"
	case bson.A:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// SampleRows returns up to n rows from a table, used to show the LLM real
// data during ground-truth generation.
func (c *Conn) SampleRows(ctx context.Context, schema, table string, n int) ([]string, [][]any, error) {
	if n <= 0 {
		n = 5
	}
	if c.dialect == DialectMongo {
		return c.sampleMongo(ctx, table, n)
	}

	query := fmt.Sprintf(`SELECT * FROM %s LIMIT %d`, qualifyTable(c.dialect, schema, table), n)
	res, err := c.query(ctx, query, n)
	if err != nil {
		return nil, nil, err
	}
	return res.Columns, res.Rows, nil
}

func (c *Conn) sampleMongo(ctx context.Context, collection string, n int) ([]string, [][]any, error) {
	cur, err := c.mongo.Database(c.mongoDB).Collection(collection).
		Find(ctx, bson.D{}, options.Find().SetLimit(int64(n)))
	if err != nil {
		return nil, nil, fmt.Errorf("agentdb: sample collection %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, nil, fmt.Errorf("agentdb: decode samples: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil, nil
	}

	fields := make([]string, 0, len(docs[0]))
	for k := range docs[0] {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	rows := make([][]any, 0, len(docs))
	for _, doc := range docs {
		row := make([]any, len(fields))
		for i, f := range fields {
			row[i] = normalizeValue(doc[f])
		}
		rows = append(rows, row)
	}
	return fields, rows, nil
}

// QualifyTable quotes a schema-qualified table name per dialect. Exported
// for callers that build their own validation SQL against agent databases.
func QualifyTable(dialect Dialect, schema, table string) string {
	return qualifyTable(dialect, schema, table)
}

// QuoteIdent quotes a bare identifier per dialect.
func QuoteIdent(dialect Dialect, ident string) string {
	return quoteIdent(dialect, ident)
}

// qualifyTable quotes a schema-qualified table name per dialect.
func qualifyTable(dialect Dialect, schema, table string) string {
	switch dialect {
	case DialectMySQL:
		if schema == "" {
			return fmt.Sprintf("`%s`", table)
		}
		return fmt.Sprintf("`%s`.`%s`", schema, table)
	case DialectSQLite:
		return fmt.Sprintf("%q", table)
	default:
		if schema == "" {
			return fmt.Sprintf("%q", table)
		}
		return fmt.Sprintf("%q.%q", schema, table)
	}
}
