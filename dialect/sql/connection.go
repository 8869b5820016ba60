package sql

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq" // registers the "postgres" driver
	_ "modernc.org/sqlite"  // registers the "sqlite" driver

	"github.com/easybib/ormresource/dialect"
)

// ConnectionParams describes a database connection the way legacy
// configuration files do: a driver alias plus discrete credentials.
type ConnectionParams struct {
	Driver   string
	DBName   string
	User     string
	Password string
	Host     string
	Port     int
	Charset  string
	// Path is the database file of file based drivers.
	Path string
	// Memory opens an in-memory database for file based drivers.
	Memory bool
	// Platform overrides the dialect default platform.
	Platform dialect.Platform
}

// driverAliases maps the driver names found in configuration files to
// dialect names.
var driverAliases = map[string]string{
	"mysql":      dialect.MySQL,
	"mysqli":     dialect.MySQL,
	"pdo_mysql":  dialect.MySQL,
	"sqlite":     dialect.SQLite,
	"sqlite3":    dialect.SQLite,
	"pdo_sqlite": dialect.SQLite,
	"postgres":   dialect.Postgres,
	"pgsql":      dialect.Postgres,
	"pdo_pgsql":  dialect.Postgres,
}

// Dialect resolves the configured driver alias to a dialect name.
func (p ConnectionParams) Dialect() (string, error) {
	d, ok := driverAliases[strings.ToLower(p.Driver)]
	if !ok {
		return "", fmt.Errorf("dialect/sql: unsupported driver %q", p.Driver)
	}
	return d, nil
}

// DSN returns the data source name for the resolved dialect.
func (p ConnectionParams) DSN() (string, error) {
	d, err := p.Dialect()
	if err != nil {
		return "", err
	}
	switch d {
	case dialect.MySQL:
		return p.mysqlDSN(), nil
	case dialect.Postgres:
		return p.postgresDSN(), nil
	default:
		return p.sqliteDSN()
	}
}

func (p ConnectionParams) mysqlDSN() string {
	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.DBName = p.DBName
	cfg.Net = "tcp"
	host := p.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := p.Port
	if port == 0 {
		port = 3306
	}
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if p.Charset != "" {
		cfg.Params = map[string]string{"charset": p.Charset}
	}
	return cfg.FormatDSN()
}

func (p ConnectionParams) postgresDSN() string {
	kv := []string{"sslmode=disable"}
	add := func(k, v string) {
		if v != "" {
			kv = append(kv, k+"="+quoteConnValue(v))
		}
	}
	add("host", p.Host)
	if p.Port != 0 {
		add("port", strconv.Itoa(p.Port))
	}
	add("user", p.User)
	add("password", p.Password)
	add("dbname", p.DBName)
	if p.Charset != "" {
		add("client_encoding", p.Charset)
	}
	return strings.Join(kv, " ")
}

// quoteConnValue quotes a lib/pq keyword value when it contains spaces or quotes.
func quoteConnValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func (p ConnectionParams) sqliteDSN() (string, error) {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	switch {
	case p.Memory:
		name := p.DBName
		if name == "" {
			name = "memdb"
		}
		q.Set("mode", "memory")
		return "file:" + name + "?" + q.Encode(), nil
	case p.Path != "":
		return "file:" + p.Path + "?" + q.Encode(), nil
	default:
		return "", fmt.Errorf("dialect/sql: sqlite connection requires a path or memory")
	}
}

// OpenConnection opens a Driver for the given parameters. The connection is
// lazy: no round trip happens until the first statement.
func OpenConnection(p ConnectionParams) (*Driver, error) {
	d, err := p.Dialect()
	if err != nil {
		return nil, err
	}
	if p.Platform != nil && p.Platform.Name() != d {
		return nil, fmt.Errorf("dialect/sql: platform %q does not match driver %q", p.Platform.Name(), p.Driver)
	}
	dsn, err := p.DSN()
	if err != nil {
		return nil, err
	}
	drv, err := Open(d, dsn)
	if err != nil {
		return nil, err
	}
	if d == dialect.SQLite && p.Memory {
		// Every pooled connection would see its own in-memory database.
		drv.DB().SetMaxOpenConns(1)
	}
	return drv.WithPlatform(p.Platform), nil
}
