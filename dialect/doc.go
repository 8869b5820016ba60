// Package dialect provides the database abstraction used by the entity
// manager.
//
// # Dialect Constants
//
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite3"
//	dialect.Postgres = "postgres"
//
// # Driver Interface
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// # Platforms
//
// A Platform describes how SQL is written for a connection: identifier
// quoting, bind placeholders and whether foreign keys are part of the
// generated DDL. The default platforms are MySQLPlatform, SQLitePlatform
// and PostgresPlatform. BibPlatform is MySQL on InnoDB without foreign
// keys:
//
//	p := dialect.BibPlatform{}
//	p.Name()                          // "mysql"
//	p.SupportsForeignKeyConstraints() // false
//
// # Sub-packages
//
//   - dialect/sql: database/sql driver, connection parameters, statement builder
//   - dialect/sql/schema: schema tool creating tables from entity metadata
package dialect
