package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/easybib/ormresource/dialect"
)

// Driver is a dialect.Driver implementation for SQL based databases.
// It carries the platform the connection was opened with, which may be
// an override of the dialect default (see dialect.BibPlatform).
type Driver struct {
	Conn
	dialect  string
	platform dialect.Platform
}

// NewDriver creates a new Driver with the given Conn and dialect.
// The platform defaults to the dialect platform.
func NewDriver(name string, c Conn) *Driver {
	p, _ := dialect.PlatformFor(dialectOf(name))
	return &Driver{dialect: name, Conn: c, platform: p}
}

// Open wraps the database/sql.Open method and returns a Driver.
func Open(name, source string) (*Driver, error) {
	db, err := sql.Open(driverNameOf(name), source)
	if err != nil {
		return nil, err
	}
	return NewDriver(name, Conn{db, name}), nil
}

// OpenDB wraps the given database/sql.DB method with a Driver.
func OpenDB(name string, db *sql.DB) *Driver {
	return NewDriver(name, Conn{db, name})
}

// WithPlatform replaces the platform of the driver. A nil platform is ignored.
func (d *Driver) WithPlatform(p dialect.Platform) *Driver {
	if p != nil {
		d.platform = p
	}
	return d
}

// Platform returns the platform of the connection.
func (d *Driver) Platform() dialect.Platform {
	return d.platform
}

// DB returns the underlying *sql.DB instance.
func (d Driver) DB() *sql.DB {
	return d.ExecQuerier.(*sql.DB)
}

// Dialect implements the dialect.Dialect method.
func (d Driver) Dialect() string {
	return dialectOf(d.dialect)
}

// Tx starts and returns a transaction.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with options.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	tx, err := d.DB().BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{
		Conn: Conn{tx, d.dialect},
		Tx:   tx,
	}, nil
}

// Close closes the underlying connection.
func (d *Driver) Close() error { return d.DB().Close() }

// Tx implements dialect.Tx interface.
type Tx struct {
	Conn
	driver.Tx
}

// dialectOf maps a database/sql driver name to its dialect. Wrapped
// driver names (e.g. "mysql-profiled") resolve by prefix.
func dialectOf(name string) string {
	if strings.HasPrefix(name, "sqlite") {
		return dialect.SQLite
	}
	for _, d := range []string{dialect.MySQL, dialect.Postgres} {
		if strings.HasPrefix(name, d) {
			return d
		}
	}
	return name
}

// driverNameOf maps a dialect to the registered database/sql driver.
// modernc.org/sqlite registers itself as "sqlite".
func driverNameOf(name string) string {
	if name == dialect.SQLite {
		return "sqlite"
	}
	return name
}

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn implements dialect.ExecQuerier given ExecQuerier.
type Conn struct {
	ExecQuerier
	dialect string
}

// Exec implements the dialect.Exec method.
func (c Conn) Exec(ctx context.Context, query string, args, v any) error {
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	switch v := v.(type) {
	case nil:
		if _, err := c.ExecContext(ctx, query, argv...); err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", err)
		}
	case *sql.Result:
		res, err := c.ExecContext(ctx, query, argv...)
		if err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", err)
		}
		*v = res
	default:
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Result", v)
	}
	return nil
}

// Query implements the dialect.Query method.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	vr, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Rows", v)
	}
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	rows, err := c.QueryContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	*vr = Rows{rows}
	return nil
}

var _ dialect.Driver = (*Driver)(nil)

type (
	// Rows wraps the sql.Rows to avoid locks copy.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
	// NullTime represents a time.Time that may be null.
	NullTime = sql.NullTime
	// TxOptions holds the transaction options to be used in DB.BeginTx.
	TxOptions = sql.TxOptions
)

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}

// ScanMaps reads all remaining rows into column-keyed maps and closes rows.
func ScanMaps(rows *Rows) (_ []map[string]any, rerr error) {
	defer func() { rerr = errors.Join(rerr, rows.Close()) }()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(columns))
		for i, c := range columns {
			m[c] = values[i]
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ScanInt64 reads a single integer from the first column of the first row.
// A NULL or missing row yields 0.
func ScanInt64(rows *Rows) (_ int64, rerr error) {
	defer func() { rerr = errors.Join(rerr, rows.Close()) }()
	var n sql.NullInt64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n.Int64, rows.Err()
}

// DBOf returns the *sql.DB behind a driver, looking through the stats
// and debug wrappers.
func DBOf(d dialect.Driver) (*sql.DB, bool) {
	drv, ok := unwrap(d).(*Driver)
	if !ok {
		return nil, false
	}
	db, ok := drv.ExecQuerier.(*sql.DB)
	return db, ok
}

// PlatformOf returns the platform of a driver. Drivers that do not carry
// a platform get the default platform of their dialect.
func PlatformOf(d dialect.Driver) (dialect.Platform, error) {
	if drv, ok := unwrap(d).(*Driver); ok && drv.platform != nil {
		return drv.platform, nil
	}
	return dialect.PlatformFor(dialectOf(d.Dialect()))
}

// StatsOf returns the statistics of the first StatsDriver wrapping d.
func StatsOf(d dialect.Driver) (*QueryStats, bool) {
	for {
		switch v := d.(type) {
		case *StatsDriver:
			return v.QueryStats(), true
		case *DebugDriver:
			d = v.Driver
		default:
			return nil, false
		}
	}
}

// unwrap strips the stats and debug wrappers of a driver.
func unwrap(d dialect.Driver) dialect.Driver {
	for {
		switch v := d.(type) {
		case *StatsDriver:
			d = v.Driver
		case *DebugDriver:
			d = v.Driver
		default:
			return d
		}
	}
}
