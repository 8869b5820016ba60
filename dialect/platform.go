package dialect

import (
	"fmt"
	"strconv"
	"strings"
)

// Platform describes the SQL flavour of a connection. The entity manager
// and the schema tool consult it for quoting, placeholders and DDL
// capabilities.
type Platform interface {
	// Name returns the dialect name of the platform.
	Name() string
	// SupportsForeignKeyConstraints reports if foreign keys are emitted
	// when creating or altering tables.
	SupportsForeignKeyConstraints() bool
	// SupportsReturning reports if INSERT ... RETURNING is available.
	SupportsReturning() bool
	// QuoteIdentifier quotes a table or column name.
	QuoteIdentifier(string) string
	// Placeholder returns the bind parameter marker for the i-th (1-based)
	// argument of a statement.
	Placeholder(i int) string
}

// MySQLPlatform is the MySQL/MariaDB platform on the InnoDB engine.
type MySQLPlatform struct{}

// Name implements the Platform interface.
func (MySQLPlatform) Name() string { return MySQL }

// SupportsForeignKeyConstraints implements the Platform interface.
func (MySQLPlatform) SupportsForeignKeyConstraints() bool { return true }

// SupportsReturning implements the Platform interface.
func (MySQLPlatform) SupportsReturning() bool { return false }

// QuoteIdentifier implements the Platform interface.
func (MySQLPlatform) QuoteIdentifier(s string) string { return backtick(s) }

// Placeholder implements the Platform interface.
func (MySQLPlatform) Placeholder(int) string { return "?" }

// BibPlatform is MySQL on InnoDB, without foreign keys. Tables are
// created without FOREIGN KEY constraints while the rest of the MySQL
// behaviour is kept.
type BibPlatform struct {
	MySQLPlatform
}

// SupportsForeignKeyConstraints always returns false.
func (BibPlatform) SupportsForeignKeyConstraints() bool { return false }

// SQLitePlatform is the SQLite platform.
type SQLitePlatform struct{}

// Name implements the Platform interface.
func (SQLitePlatform) Name() string { return SQLite }

// SupportsForeignKeyConstraints implements the Platform interface.
func (SQLitePlatform) SupportsForeignKeyConstraints() bool { return true }

// SupportsReturning implements the Platform interface.
func (SQLitePlatform) SupportsReturning() bool { return false }

// QuoteIdentifier implements the Platform interface.
func (SQLitePlatform) QuoteIdentifier(s string) string { return backtick(s) }

// Placeholder implements the Platform interface.
func (SQLitePlatform) Placeholder(int) string { return "?" }

// PostgresPlatform is the PostgreSQL platform.
type PostgresPlatform struct{}

// Name implements the Platform interface.
func (PostgresPlatform) Name() string { return Postgres }

// SupportsForeignKeyConstraints implements the Platform interface.
func (PostgresPlatform) SupportsForeignKeyConstraints() bool { return true }

// SupportsReturning implements the Platform interface.
func (PostgresPlatform) SupportsReturning() bool { return true }

// QuoteIdentifier implements the Platform interface.
func (PostgresPlatform) QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Placeholder implements the Platform interface.
func (PostgresPlatform) Placeholder(i int) string { return "$" + strconv.Itoa(i) }

// PlatformFor returns the default platform of the given dialect.
func PlatformFor(name string) (Platform, error) {
	switch name {
	case MySQL:
		return MySQLPlatform{}, nil
	case SQLite:
		return SQLitePlatform{}, nil
	case Postgres:
		return PostgresPlatform{}, nil
	default:
		return nil, fmt.Errorf("dialect: unsupported dialect %q", name)
	}
}

func backtick(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

var (
	_ Platform = MySQLPlatform{}
	_ Platform = BibPlatform{}
	_ Platform = SQLitePlatform{}
	_ Platform = PostgresPlatform{}
)
