package sql

import (
	"testing"

	"github.com/easybib/ormresource/dialect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionParamsDialect(t *testing.T) {
	for alias, want := range map[string]string{
		"mysqli":     dialect.MySQL,
		"pdo_mysql":  dialect.MySQL,
		"PDO_SQLITE": dialect.SQLite,
		"pgsql":      dialect.Postgres,
	} {
		d, err := ConnectionParams{Driver: alias}.Dialect()
		require.NoError(t, err, alias)
		assert.Equal(t, want, d, alias)
	}
	_, err := ConnectionParams{Driver: "oci8"}.Dialect()
	require.Error(t, err)
}

func TestConnectionParamsDSN(t *testing.T) {
	t.Run("mysql", func(t *testing.T) {
		dsn, err := ConnectionParams{
			Driver:   "mysqli",
			DBName:   "mysql",
			User:     "root",
			Host:     "127.0.0.1",
			Password: "",
			Charset:  "utf8",
		}.DSN()
		require.NoError(t, err)
		assert.Contains(t, dsn, "root@tcp(127.0.0.1:3306)/mysql")
		assert.Contains(t, dsn, "charset=utf8")
		assert.Contains(t, dsn, "parseTime=true")
	})

	t.Run("postgres", func(t *testing.T) {
		dsn, err := ConnectionParams{
			Driver:   "pdo_pgsql",
			DBName:   "app",
			User:     "u",
			Password: "p w",
			Host:     "db",
			Port:     5433,
		}.DSN()
		require.NoError(t, err)
		assert.Equal(t, "sslmode=disable host=db port=5433 user=u password='p w' dbname=app", dsn)
	})

	t.Run("sqlite", func(t *testing.T) {
		dsn, err := ConnectionParams{Driver: "sqlite", Memory: true, DBName: "t"}.DSN()
		require.NoError(t, err)
		assert.Contains(t, dsn, "file:t?")
		assert.Contains(t, dsn, "mode=memory")

		_, err = ConnectionParams{Driver: "sqlite"}.DSN()
		require.Error(t, err)
	})
}

func TestOpenConnection(t *testing.T) {
	drv, err := OpenConnection(ConnectionParams{Driver: "mysqli", DBName: "mysql", Platform: dialect.BibPlatform{}})
	require.NoError(t, err)
	defer drv.Close()
	assert.Equal(t, dialect.MySQL, drv.Dialect())
	assert.Equal(t, dialect.BibPlatform{}, drv.Platform())

	_, err = OpenConnection(ConnectionParams{Driver: "sqlite", Memory: true, Platform: dialect.BibPlatform{}})
	require.Error(t, err, "mysql platform on a sqlite connection")

	lite, err := OpenConnection(ConnectionParams{Driver: "sqlite", Memory: true})
	require.NoError(t, err)
	defer lite.Close()
	assert.Equal(t, dialect.SQLitePlatform{}, lite.Platform())
}
