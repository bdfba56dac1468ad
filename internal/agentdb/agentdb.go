// Package agentdb connects to external agent-owned databases for schema
// discovery, ground-truth execution, and query-log polling.
//
// Relational dialects (Postgres, MySQL, SQLite) go through database/sql;
// MongoDB uses the official driver. The platform only ever reads from these
// databases and never assumes write access.
package agentdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"
)

// Dialect identifies the agent database engine.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
	DialectMongo    Dialect = "mongodb"
)

// DetectDialect infers the engine from the connection URL scheme.
func DetectDialect(rawURL string) (Dialect, error) {
	trimmed := strings.TrimSpace(rawURL)
	scheme, _, found := strings.Cut(trimmed, "://")
	if !found {
		// Bare paths are treated as SQLite files.
		if strings.HasSuffix(trimmed, ".db") || strings.HasSuffix(trimmed, ".sqlite") || strings.HasSuffix(trimmed, ".sqlite3") {
			return DialectSQLite, nil
		}
		return "", fmt.Errorf("agentdb: cannot detect dialect of %q", rawURL)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	case "sqlite", "file":
		return DialectSQLite, nil
	case "mongodb", "mongodb+srv":
		return DialectMongo, nil
	default:
		return "", fmt.Errorf("agentdb: unsupported scheme %q", scheme)
	}
}

// Conn is an open connection to one agent database.
type Conn struct {
	dialect Dialect
	db      *sql.DB
	mongo   *mongo.Client
	mongoDB string
	logger  *slog.Logger
}

// Open connects to an agent database, detecting the dialect from the URL.
func Open(ctx context.Context, rawURL string, logger *slog.Logger) (*Conn, error) {
	dialect, err := DetectDialect(rawURL)
	if err != nil {
		return nil, err
	}

	c := &Conn{dialect: dialect, logger: logger}

	switch dialect {
	case DialectMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(rawURL))
		if err != nil {
			return nil, fmt.Errorf("agentdb: connect mongo: %w", err)
		}
		dbName, err := mongoDatabaseName(rawURL)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("agentdb: ping mongo: %w", err)
		}
		c.mongo = client
		c.mongoDB = dbName

	default:
		driver, dsn, err := sqlDSN(dialect, rawURL)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("agentdb: open %s: %w", dialect, err)
		}
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("agentdb: ping %s: %w", dialect, err)
		}
		c.db = db
	}

	return c, nil
}

// sqlDSN maps a connection URL to a database/sql driver name and DSN.
func sqlDSN(dialect Dialect, rawURL string) (driver, dsn string, err error) {
	switch dialect {
	case DialectPostgres:
		return "postgres", rawURL, nil
	case DialectMySQL:
		// go-sql-driver expects user:pass@tcp(host:port)/db, not a URL.
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", "", fmt.Errorf("agentdb: parse mysql url: %w", err)
		}
		host := u.Host
		if !strings.Contains(host, ":") {
			host += ":3306"
		}
		cred := ""
		if u.User != nil {
			cred = u.User.Username()
			if pass, ok := u.User.Password(); ok {
				cred += ":" + pass
			}
			cred += "@"
		}
		dsn := fmt.Sprintf("%stcp(%s)/%s?parseTime=true", cred, host, strings.TrimPrefix(u.Path, "/"))
		return "mysql", dsn, nil
	case DialectSQLite:
		path := rawURL
		if i := strings.Index(path, "://"); i >= 0 {
			path = path[i+3:]
		}
		return "sqlite", path, nil
	default:
		return "", "", fmt.Errorf("agentdb: no sql driver for %s", dialect)
	}
}

// mongoDatabaseName extracts the database from a Mongo connection URL.
func mongoDatabaseName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("agentdb: parse mongo url: %w", err)
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "", fmt.Errorf("agentdb: mongo url must name a database")
	}
	return name, nil
}

// Dialect returns the detected engine.
func (c *Conn) Dialect() Dialect {
	return c.dialect
}

// Ping verifies the connection is alive. The health checker calls this on
// every cycle.
func (c *Conn) Ping(ctx context.Context) error {
	if c.mongo != nil {
		return c.mongo.Ping(ctx, nil)
	}
	return c.db.PingContext(ctx)
}

// Close releases the connection.
func (c *Conn) Close(ctx context.Context) error {
	if c.mongo != nil {
		return c.mongo.Disconnect(ctx)
	}
	return c.db.Close()
}
