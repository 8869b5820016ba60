// Package sql provides the database/sql backed driver of the entity
// manager together with connection parameters, a small statement builder
// and driver wrappers for profiling.
//
// # Connections
//
// ConnectionParams holds the values found in legacy configuration files.
// Driver aliases such as "mysqli", "pdo_mysql", "pdo_sqlite" and
// "pdo_pgsql" resolve to the mysql, sqlite3 and postgres dialects:
//
//	drv, err := sql.OpenConnection(sql.ConnectionParams{
//	    Driver:   "mysqli",
//	    Host:     "127.0.0.1",
//	    DBName:   "app",
//	    User:     "root",
//	    Charset:  "utf8",
//	    Platform: dialect.BibPlatform{},
//	})
//
// # Statements
//
//	query, args := sql.Select(platform, "id", "slug").
//	    From("article").
//	    Where(sql.EQ("slug", "hello"), sql.GT("id", 10)).
//	    OrderBy("-id").
//	    Limit(1).
//	    Query()
//
// # Profiling
//
// DebugDriver echoes every statement; StatsDriver counts queries, execs,
// errors and slow queries:
//
//	drv := sql.NewDebugDriver(base, sql.DebugWithLog(sql.EchoLogger(os.Stdout)))
//	stats := sql.NewStatsDriver(drv, sql.WithSlowThreshold(200*time.Millisecond))
package sql
